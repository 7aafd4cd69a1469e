// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package serials

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/anonnet/infoserviced/internal/codec"
	"github.com/anonnet/infoserviced/internal/entrystore"
	"github.com/anonnet/infoserviced/internal/topology"
)

// rootElement is the root element of digest documents.
const rootElement = "Serials"

// Record summarizes a single entry of a digest.
type Record struct {
	ID         string
	Version    int64
	LastUpdate time.Time
	Verified   bool
	Valid      bool
	Context    string
}

// statusReporter is implemented by entries that carry a certificate status.
type statusReporter interface {
	Status() topology.CertStatus
}

// contextReporter is implemented by entries that belong to a service context.
type contextReporter interface {
	Context() string
}

// RecordOf returns the digest record of the entry.
func RecordOf(e entrystore.Entry) Record {
	r := Record{
		ID:         e.ID(),
		Version:    e.Version(),
		LastUpdate: e.LastUpdate(),
		Context:    topology.DefaultContext,
	}
	if s, ok := e.(statusReporter); ok {
		status := s.Status()
		r.Verified, r.Valid = status.Verified, status.Valid
	}
	if c, ok := e.(contextReporter); ok && c.Context() != "" {
		r.Context = c.Context()
	}
	return r
}

// Build returns the digest of the snapshot keyed by entry id.
func Build(snapshot []entrystore.Entry) map[string]Record {
	digest := make(map[string]Record, len(snapshot))
	for _, e := range snapshot {
		digest[e.ID()] = RecordOf(e)
	}
	return digest
}

// Getter looks up entries by id.  A *entrystore.Store satisfies it.
type Getter interface {
	Get(id string) (entrystore.Entry, bool)
}

// SyncPlan is the outcome of comparing a peer digest with the local store.
type SyncPlan struct {
	// Fetch holds the ids the peer has that are either missing locally or
	// held in a different version.
	Fetch []string

	// Kept holds the ids both sides hold in the same version.
	Kept []string
}

// Plan compares the peer digest with the local entries.  Entries are
// refetched whenever versions differ, also when the local one is newer, since
// the peer may hold an entry that replaced a locally expired one.  Both id
// lists are sorted.
func Plan(peer map[string]Record, local Getter) *SyncPlan {
	plan := new(SyncPlan)
	for id, rec := range peer {
		e, ok := local.Get(id)
		if ok && e.Version() == rec.Version {
			plan.Kept = append(plan.Kept, id)
			continue
		}
		plan.Fetch = append(plan.Fetch, id)
	}
	sort.Strings(plan.Fetch)
	sort.Strings(plan.Kept)
	return plan
}

// Node returns the digest document.  Every record becomes a child named after
// the root element of the entry kind.  Children are ordered by id.
func Node(tag string, digest map[string]Record) *codec.Node {
	ids := make([]string, 0, len(digest))
	for id := range digest {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	n := codec.NewNode(rootElement)
	for _, id := range ids {
		r := digest[id]
		c := n.AddChild(codec.NewNode(tag))
		c.SetAttr("id", r.ID)
		c.SetAttr("serial", strconv.FormatInt(r.Version, 10))
		c.SetAttr("lastUpdate", strconv.FormatInt(r.LastUpdate.UnixMilli(), 10))
		c.SetAttr("verified", strconv.FormatBool(r.Verified))
		c.SetAttr("valid", strconv.FormatBool(r.Valid))
		c.SetAttr("context", r.Context)
	}
	return n
}

// Parse decodes a digest document.  Children without an id are skipped.
// Missing attributes take their zero value and the default context.
func Parse(doc []byte) (map[string]Record, error) {
	n, err := codec.Parse(doc)
	if err != nil {
		return nil, err
	}
	if n.Name() != rootElement {
		return nil, fmt.Errorf("unexpected digest root element %q", n.Name())
	}

	digest := make(map[string]Record, len(n.Children))
	for _, c := range n.Children {
		id, _ := c.Attr("id")
		if id == "" {
			log.Debugf("Skipping %s digest record without id", c.Name())
			continue
		}
		r := Record{
			ID:         id,
			Version:    c.AttrInt64("serial", 0),
			LastUpdate: time.UnixMilli(c.AttrInt64("lastUpdate", 0)),
			Verified:   c.AttrBool("verified", false),
			Valid:      c.AttrBool("valid", false),
			Context:    topology.DefaultContext,
		}
		if ctx, ok := c.Attr("context"); ok && ctx != "" {
			r.Context = ctx
		}
		digest[id] = r
	}
	return digest, nil
}
