// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package topology

import (
	"fmt"
	"strconv"
	"time"

	"github.com/anonnet/infoserviced/internal/codec"
	"github.com/anonnet/infoserviced/internal/entrystore"
	"github.com/anonnet/infoserviced/internal/verifier"
)

// Entry kinds handled by the topology model.
const (
	KindCascade         entrystore.Kind = "MixCascade"
	KindMix             entrystore.Kind = "Mix"
	KindVirtualCascade  entrystore.Kind = "VirtualCascade"
	KindPerformance     entrystore.Kind = "PerformanceInfo"
	KindSoftwareVersion entrystore.Kind = "SoftwareVersion"
	KindTerms           entrystore.Kind = "TermsAndConditions"
)

// Default lifetimes of the entry kinds.
const (
	DefaultCascadeTTL     = 10 * time.Minute
	DefaultMixTTL         = 10 * time.Minute
	DefaultPerformanceTTL = time.Hour
	DefaultVersionTTL     = time.Hour
	DefaultTermsTTL       = 24 * time.Hour
)

// DefaultContext is the service context of descriptors that do not name one.
const DefaultContext = "jondonym"

// Config holds the collaborators and lifetimes used when parsing descriptors.
type Config struct {
	// Verifier checks descriptor signatures.  A nil verifier treats every
	// descriptor as unsigned.
	Verifier verifier.Verifier

	// Now returns the current time.  It defaults to time.Now.
	Now func() time.Time

	// Lifetimes of parsed entries.  Zero selects the default.
	CascadeTTL     time.Duration
	MixTTL         time.Duration
	PerformanceTTL time.Duration
	VersionTTL     time.Duration
	TermsTTL       time.Duration
}

// Parser turns descriptor documents into entries.
type Parser struct {
	cfg Config
}

// NewParser returns a parser for the configuration.
func NewParser(cfg *Config) *Parser {
	p := &Parser{cfg: *cfg}
	if p.cfg.Now == nil {
		p.cfg.Now = time.Now
	}
	defaults := []struct {
		ttl *time.Duration
		def time.Duration
	}{
		{&p.cfg.CascadeTTL, DefaultCascadeTTL},
		{&p.cfg.MixTTL, DefaultMixTTL},
		{&p.cfg.PerformanceTTL, DefaultPerformanceTTL},
		{&p.cfg.VersionTTL, DefaultVersionTTL},
		{&p.cfg.TermsTTL, DefaultTermsTTL},
	}
	for _, d := range defaults {
		if *d.ttl <= 0 {
			*d.ttl = d.def
		}
	}
	return p
}

// Now returns the parser's notion of the current time.
func (p *Parser) Now() time.Time {
	return p.cfg.Now()
}

// verify runs the configured verifier on the document.
func (p *Parser) verify(n *codec.Node, now time.Time) verifier.Result {
	if p.cfg.Verifier == nil {
		return verifier.Result{}
	}
	return p.cfg.Verifier.Verify(n, now)
}

// CertStatus is the cryptographic status of a descriptor.
type CertStatus struct {
	// Verified is set when the descriptor signature matched the key it
	// claims to be signed with.
	Verified bool

	// Valid is set when a certificate path was present and its validity
	// window contains the time of verification.
	Valid bool
}

// statusOf derives the status of a descriptor with the given id.  A signature
// made with a key whose identity differs from the id does not verify the
// descriptor unless the id is not bound to a key.  Validity only reflects the
// certificate path and is reported independently of the signature.
func statusOf(res verifier.Result, id string, keyBound bool) CertStatus {
	verified := res.Verified
	if keyBound && res.Identity != id {
		verified = false
	}
	return CertStatus{Verified: verified, Valid: res.HasPath && res.Valid}
}

// toMillis returns the time as unix milliseconds as used in documents.
func toMillis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}

// fromMillis returns the time from unix milliseconds.
func fromMillis(ms int64) time.Time {
	return time.Unix(0, ms*int64(time.Millisecond))
}

// parseMillisText parses element text holding unix milliseconds.
func parseMillisText(n *codec.Node, name string) (time.Time, bool, error) {
	text, ok := n.ChildText(name)
	if !ok {
		return time.Time{}, false, nil
	}
	ms, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		str := fmt.Sprintf("malformed %s %q", name, text)
		return time.Time{}, true, ruleError(ErrMalformedDescriptor, str)
	}
	return fromMillis(ms), true, nil
}

// expectRoot ensures the element has the expected name.
func expectRoot(n *codec.Node, name string) error {
	if n == nil || n.Name() != name {
		got := "<nil>"
		if n != nil {
			got = n.Name()
		}
		str := fmt.Sprintf("unexpected root element %q, want %q", got, name)
		return ruleError(ErrMalformedDescriptor, str)
	}
	return nil
}
