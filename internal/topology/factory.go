// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package topology

import (
	"fmt"
	"sort"

	"github.com/anonnet/infoserviced/internal/codec"
	"github.com/anonnet/infoserviced/internal/entrystore"
)

// ParseFunc decodes a document element into an entry.
type ParseFunc func(n *codec.Node) (entrystore.Entry, error)

// factoryEntry is a registered parser along with the root tag it accepts.
type factoryEntry struct {
	rootTag string
	parse   ParseFunc
}

// Factory maps entry kinds and document root tags to parsers.  It is built
// once at startup and read concurrently afterwards.
type Factory struct {
	byKind map[entrystore.Kind]factoryEntry
	byTag  map[string]entrystore.Kind
}

// NewFactory returns a factory with the parsers of all distributable kinds
// registered.
func NewFactory(p *Parser) *Factory {
	f := &Factory{
		byKind: make(map[entrystore.Kind]factoryEntry),
		byTag:  make(map[string]entrystore.Kind),
	}
	f.Register(KindCascade, "MixCascade", func(n *codec.Node) (entrystore.Entry, error) {
		return p.ParseCascade(n)
	})
	f.Register(KindMix, "Mix", func(n *codec.Node) (entrystore.Entry, error) {
		return p.ParseMix(n)
	})
	f.Register(KindPerformance, "PerformanceInfo", func(n *codec.Node) (entrystore.Entry, error) {
		return p.ParsePerformance(n)
	})
	f.Register(KindSoftwareVersion, "SoftwareVersion", func(n *codec.Node) (entrystore.Entry, error) {
		return p.ParseSoftwareVersion(n)
	})
	f.Register(KindTerms, "TermsAndConditions", func(n *codec.Node) (entrystore.Entry, error) {
		return p.ParseTerms(n)
	})
	return f
}

// Register adds the parser for the kind.  It replaces any parser previously
// registered for the kind.
//
// This function MUST NOT be called concurrently with the other methods.
func (f *Factory) Register(kind entrystore.Kind, rootTag string, parse ParseFunc) {
	if prev, ok := f.byKind[kind]; ok {
		delete(f.byTag, prev.rootTag)
	}
	f.byKind[kind] = factoryEntry{rootTag: rootTag, parse: parse}
	f.byTag[rootTag] = kind
}

// Kinds returns the registered kinds in sorted order.
func (f *Factory) Kinds() []entrystore.Kind {
	kinds := make([]entrystore.Kind, 0, len(f.byKind))
	for kind := range f.byKind {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// RootTag returns the root element name of documents of the kind.
func (f *Factory) RootTag(kind entrystore.Kind) (string, bool) {
	fe, ok := f.byKind[kind]
	return fe.rootTag, ok
}

// ParseNode decodes the element with the parser registered for its root tag.
func (f *Factory) ParseNode(n *codec.Node) (entrystore.Entry, error) {
	kind, ok := f.byTag[n.Name()]
	if !ok {
		str := fmt.Sprintf("no parser for root element %q", n.Name())
		return nil, ruleError(ErrUnknownKind, str)
	}
	return f.byKind[kind].parse(n)
}

// Parse decodes a serialized document.
func (f *Factory) Parse(doc []byte) (entrystore.Entry, error) {
	n, err := codec.Parse(doc)
	if err != nil {
		return nil, err
	}
	return f.ParseNode(n)
}

// ParseKind decodes a serialized document that must be of the kind.
func (f *Factory) ParseKind(kind entrystore.Kind, doc []byte) (entrystore.Entry, error) {
	fe, ok := f.byKind[kind]
	if !ok {
		str := fmt.Sprintf("no parser for kind %s", kind)
		return nil, ruleError(ErrUnknownKind, str)
	}
	n, err := codec.Parse(doc)
	if err != nil {
		return nil, err
	}
	if err := expectRoot(n, fe.rootTag); err != nil {
		return nil, err
	}
	return fe.parse(n)
}
