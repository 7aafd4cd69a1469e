// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package infoserver

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/anonnet/infoserviced/internal/codec"
	"github.com/anonnet/infoserviced/internal/connectivity"
	"github.com/anonnet/infoserviced/internal/entrystore"
	"github.com/anonnet/infoserviced/internal/topology"
	"github.com/decred/dcrd/crypto/blake256"
)

// postFunc handles a posted document and reports the kind it was stored as
// and whether the store changed.
type postFunc func(n *codec.Node) (entrystore.Kind, bool, error)

// readBody decodes the request body per its Content-Encoding.
func (s *Server) readBody(r *http.Request) ([]byte, error) {
	enc, err := codec.ParseContentEncoding(r.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, err
	}
	return codec.Decode(enc, r.Body, s.cfg.MaxBodySize)
}

// statusOf maps a rejection to the HTTP status sent back.
func statusOf(err error) int {
	switch {
	case errors.Is(err, topology.ErrVerificationFailure):
		return http.StatusForbidden
	case errors.Is(err, codec.ErrDocumentTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, codec.ErrUnsupportedEncoding):
		return http.StatusUnsupportedMediaType
	}
	return http.StatusBadRequest
}

// post wraps a document handler with body decoding, the rejected document
// cache, and the status mapping.
func (s *Server) post(handle postFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := s.readBody(r)
		if err != nil {
			log.Debugf("Unreadable post to %s from %s: %v", r.URL.Path,
				r.RemoteAddr, err)
			http.Error(w, err.Error(), statusOf(err))
			return
		}

		hash := blake256.Sum256(body)
		if s.rejected.Contains(hash) {
			log.Tracef("Refusing previously rejected post to %s from %s",
				r.URL.Path, r.RemoteAddr)
			s.metrics.rejected.WithLabelValues(r.URL.Path).Inc()
			http.Error(w, "document previously rejected", http.StatusBadRequest)
			return
		}

		n, err := codec.Parse(body)
		if err != nil {
			s.reject(w, r, hash, err)
			return
		}
		kind, changed, err := handle(n)
		if err != nil {
			// Expired documents are refused without being remembered since
			// a later post of the same document is refused anyway.
			if errors.Is(err, entrystore.ErrExpiredOnArrival) {
				log.Debugf("Expired post to %s from %s", r.URL.Path,
					r.RemoteAddr)
				s.metrics.rejected.WithLabelValues(r.URL.Path).Inc()
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			s.reject(w, r, hash, err)
			return
		}

		s.metrics.accepted.WithLabelValues(string(kind)).Inc()
		if changed {
			log.Debugf("Stored %s posted to %s by %s", kind, r.URL.Path,
				r.RemoteAddr)
		}
		w.WriteHeader(http.StatusOK)
	}
}

// reject remembers the document and answers with the status of the error.
func (s *Server) reject(w http.ResponseWriter, r *http.Request, hash [32]byte, err error) {
	log.Debugf("Rejected post to %s from %s: %v", r.URL.Path, r.RemoteAddr, err)
	s.rejected.Put(hash)
	s.metrics.rejected.WithLabelValues(r.URL.Path).Inc()
	http.Error(w, err.Error(), statusOf(err))
}

// acceptCascade stores a cascade received from a neighbour.  Only verified
// cascades are accepted.
func (s *Server) acceptCascade(c *topology.Cascade, distribute bool) (bool, error) {
	if !c.Status().Verified {
		str := fmt.Sprintf("cascade %s is not verified", c.ID())
		return false, topology.RuleError{Err: topology.ErrVerificationFailure,
			Description: str}
	}
	return s.cfg.Reconciler.AcceptCascade(c, distribute)
}

// postCascade handles cascades gossiped by neighbour infoservices.
func (s *Server) postCascade(n *codec.Node) (entrystore.Kind, bool, error) {
	c, err := s.cfg.Parser.ParseCascade(n)
	if err != nil {
		return topology.KindCascade, false, err
	}
	changed, err := s.acceptCascade(c, true)
	return topology.KindCascade, changed, err
}

// postHelo handles cascades posted by their first relay.  They are stored
// even when unverified so the verification status can be reported.
func (s *Server) postHelo(n *codec.Node) (entrystore.Kind, bool, error) {
	c, err := s.cfg.Parser.ParseCascade(n)
	if err != nil {
		return topology.KindCascade, false, err
	}
	if !c.Status().Verified {
		log.Infof("Storing unverified cascade %s", c.ID())
	}
	changed, err := s.cfg.Reconciler.AcceptCascade(c, true)
	return topology.KindCascade, changed, err
}

// postProposal handles cascades proposed by the last relay of a dynamic
// cascade.
func (s *Server) postProposal(n *codec.Node) (entrystore.Kind, bool, error) {
	v, err := s.cfg.Parser.ParseVirtualCascade(n)
	if err != nil {
		return topology.KindVirtualCascade, false, err
	}
	changed, err := s.cfg.Reconciler.AcceptVirtual(v)
	return topology.KindVirtualCascade, changed, err
}

// postMix handles relay descriptors.
func (s *Server) postMix(n *codec.Node) (entrystore.Kind, bool, error) {
	m, err := s.cfg.Parser.ParseMix(n)
	if err != nil {
		return topology.KindMix, false, err
	}
	changed, err := s.store(topology.KindMix).Update(m, true)
	return topology.KindMix, changed, err
}

func (s *Server) postPerformance(n *codec.Node) (entrystore.Kind, bool, error) {
	p, err := s.cfg.Parser.ParsePerformance(n)
	if err != nil {
		return topology.KindPerformance, false, err
	}
	changed, err := s.store(topology.KindPerformance).Update(p, true)
	return topology.KindPerformance, changed, err
}

// postMeasurement merges a measurement into the rolling sample this
// infoservice keeps of the measured cascade.  The resulting sample is signed
// and distributed like a posted one.
func (s *Server) postMeasurement(n *codec.Node) (entrystore.Kind, bool, error) {
	cascadeID, m, err := topology.ParseMeasurement(n)
	if err != nil {
		return topology.KindPerformance, false, err
	}

	s.perfMtx.Lock()
	defer s.perfMtx.Unlock()
	store := s.store(topology.KindPerformance)
	var sample *topology.PerformanceSample
	id := topology.PerformanceID(cascadeID, s.cfg.ID)
	if e, ok := store.Get(id); ok {
		if prev, ok := e.(*topology.PerformanceSample); ok {
			sample, err = s.cfg.Parser.AddMeasurement(prev, m, s.cfg.Signer)
		}
	}
	if sample == nil && err == nil {
		sample, err = s.cfg.Parser.NewPerformanceSample(cascadeID, s.cfg.ID,
			m, s.cfg.Signer)
	}
	if err != nil {
		return topology.KindPerformance, false, err
	}
	changed, err := store.Update(sample, true)
	return topology.KindPerformance, changed, err
}

func (s *Server) postSoftwareVersion(n *codec.Node) (entrystore.Kind, bool, error) {
	v, err := s.cfg.Parser.ParseSoftwareVersion(n)
	if err != nil {
		return topology.KindSoftwareVersion, false, err
	}
	changed, err := s.store(topology.KindSoftwareVersion).Update(v, true)
	return topology.KindSoftwareVersion, changed, err
}

func (s *Server) postTerms(n *codec.Node) (entrystore.Kind, bool, error) {
	t, err := s.cfg.Parser.ParseTerms(n)
	if err != nil {
		return topology.KindTerms, false, err
	}
	changed, err := s.store(topology.KindTerms).Update(t, true)
	return topology.KindTerms, changed, err
}

// handleConnectivity probes the port named in the request on the address the
// request came from and answers with the signed result.
func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := s.readBody(r)
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	port, err := connectivity.ParseRequest(body)
	if err != nil {
		log.Debugf("Malformed connectivity request from %s: %v", r.RemoteAddr,
			err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	result := s.cfg.Prober.Probe(r.Context(), host, port)
	doc, err := connectivity.ResultDocument(result, s.cfg.Signer)
	if err != nil {
		log.Errorf("Unable to answer connectivity request: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeDocument(w, doc)
}
