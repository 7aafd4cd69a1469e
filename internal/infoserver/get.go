// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package infoserver

import (
	"net"
	"net/http"
	"strings"

	"github.com/anonnet/infoserviced/internal/codec"
	"github.com/anonnet/infoserviced/internal/entrystore"
	"github.com/anonnet/infoserviced/internal/serials"
)

// documentEntry is implemented by entries that keep their document.
type documentEntry interface {
	Node() *codec.Node
}

// get restricts a handler to GET and HEAD requests.
func (s *Server) get(handle http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		handle(w, r)
	}
}

// writeDocument sends the document as the response body.
func writeDocument(w http.ResponseWriter, n *codec.Node) {
	w.Header().Set("Content-Type", "text/xml")
	if _, err := w.Write(n.Document()); err != nil {
		log.Debugf("Unable to write response: %v", err)
	}
}

// handleSerials sends the serial digest of the store of the kind.
func (s *Server) handleSerials(w http.ResponseWriter, kind entrystore.Kind) {
	tag, ok := s.cfg.Factory.RootTag(kind)
	if !ok {
		tag = string(kind)
	}
	digest := serials.Build(s.store(kind).Snapshot())
	writeDocument(w, serials.Node(tag, digest))
}

// handleEntry sends the document of a single entry.
func (s *Server) handleEntry(w http.ResponseWriter, kind entrystore.Kind, id string) {
	e, ok := s.store(kind).Get(id)
	if !ok {
		http.NotFound(w, nil)
		return
	}
	d, ok := e.(documentEntry)
	if !ok {
		http.NotFound(w, nil)
		return
	}
	writeDocument(w, d.Node())
}

// handleList sends the documents of all entries of the kind wrapped in a
// root element.
func (s *Server) handleList(w http.ResponseWriter, kind entrystore.Kind, root string) {
	n := codec.NewNode(root)
	for _, e := range s.store(kind).Snapshot() {
		if d, ok := e.(documentEntry); ok {
			n.AddChild(d.Node())
		}
	}
	writeDocument(w, n)
}

// handleUnassigned sends the documents of the dynamic relays waiting to be
// assigned to a cascade.
func (s *Server) handleUnassigned(w http.ResponseWriter, r *http.Request) {
	n := codec.NewNode("Mixes")
	for _, m := range s.cfg.Reconciler.ListUnassignedDynamicMixes() {
		n.AddChild(m.Node())
	}
	writeDocument(w, n)
}

// handleNewAssignment answers whether a dynamic relay has a new cascade to
// reconfigure to.
func (s *Server) handleNewAssignment(w http.ResponseWriter, r *http.Request) {
	mixID := strings.TrimPrefix(r.URL.Path, "/newcascadeinformationavailable/")
	if !s.cfg.Reconciler.HasNewAssignment(mixID) {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleReconfigure sends the proposed cascade of a dynamic relay signed by
// this infoservice.
func (s *Server) handleReconfigure(w http.ResponseWriter, r *http.Request) {
	mixID := strings.TrimPrefix(r.URL.Path, "/reconfigure/")
	c := s.cfg.Reconciler.TemporaryCascade(mixID)
	if c == nil {
		http.Error(w, "no cascade proposed for "+mixID,
			http.StatusInternalServerError)
		return
	}
	doc := c.Node()
	if s.cfg.Signer != nil {
		if err := s.cfg.Signer.Sign(doc); err != nil {
			log.Errorf("Unable to sign proposed cascade %s: %v", c.ID(), err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}
	writeDocument(w, doc)
}

// handleEchoIP sends the address the request came from.
func (s *Server) handleEchoIP(w http.ResponseWriter, r *http.Request) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	n := codec.NewNode("EchoIP")
	n.AddText("IP", host)
	writeDocument(w, n)
}
