// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package infoserver

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/anonnet/infoserviced/internal/codec"
	"github.com/anonnet/infoserviced/internal/entrystore"
	"github.com/anonnet/infoserviced/internal/serials"
	"github.com/anonnet/infoserviced/internal/topology"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// maxSyncPeers is the number of neighbours synchronized concurrently.
const maxSyncPeers = 4

// fetch retrieves a document from a neighbour.
func (s *Server) fetch(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.cfg.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s from %s", resp.Status, u)
	}
	enc, err := codec.ParseContentEncoding(resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, err
	}
	return codec.Decode(enc, resp.Body, s.cfg.MaxBodySize)
}

// storeFetched merges an entry fetched from a neighbour.  Fetched entries are
// not distributed since every neighbour synchronizes on its own.
func (s *Server) storeFetched(e entrystore.Entry) (bool, error) {
	if c, ok := e.(*topology.Cascade); ok {
		return s.acceptCascade(c, false)
	}
	return s.store(e.Kind()).Update(e, false)
}

// syncKind fetches the entries of the kind a neighbour holds in a different
// version and returns the number that changed the local store.
func (s *Server) syncKind(ctx context.Context, peer string, route kindRoute) (int, error) {
	doc, err := s.fetch(ctx, peer+"/"+route.name+"-serials")
	if err != nil {
		return 0, err
	}
	digest, err := serials.Parse(doc)
	if err != nil {
		return 0, err
	}
	plan := serials.Plan(digest, s.store(route.kind))
	log.Tracef("Sync plan for %s from %s: %d to fetch, %d kept", route.kind,
		peer, len(plan.Fetch), len(plan.Kept))

	var changed int
	for _, id := range plan.Fetch {
		if ctx.Err() != nil {
			return changed, ctx.Err()
		}
		doc, err := s.fetch(ctx, peer+"/"+route.name+"/"+url.PathEscape(id))
		if err != nil {
			log.Debugf("Unable to fetch %s %s from %s: %v", route.kind, id,
				peer, err)
			continue
		}
		e, err := s.cfg.Factory.ParseKind(route.kind, doc)
		if err != nil {
			log.Debugf("Unusable %s %s from %s: %v", route.kind, id, peer, err)
			continue
		}
		ok, err := s.storeFetched(e)
		if err != nil {
			log.Debugf("Rejected %s %s from %s: %v", route.kind, id, peer, err)
			continue
		}
		if ok {
			changed++
			s.metrics.synced.WithLabelValues(string(route.kind)).Inc()
		}
	}
	return changed, nil
}

// SyncPeers synchronizes every store with every neighbour once.  Failures of
// one neighbour or kind do not prevent the others from being synchronized;
// all failures are returned.
func (s *Server) SyncPeers(ctx context.Context) error {
	errs := make([]error, len(s.cfg.Peers))
	var g errgroup.Group
	g.SetLimit(maxSyncPeers)
	for i, peer := range s.cfg.Peers {
		i, peer := i, peer
		g.Go(func() error {
			var total int
			for _, route := range kindRoutes {
				n, err := s.syncKind(ctx, peer, route)
				total += n
				if err != nil {
					errs[i] = multierr.Append(errs[i],
						fmt.Errorf("%s %s: %w", peer, route.kind, err))
				}
			}
			if total > 0 {
				log.Infof("Fetched %d %s from %s", total,
					pickNoun(total, "entry", "entries"), peer)
			}
			return nil
		})
	}
	g.Wait()
	return multierr.Combine(errs...)
}

// syncHandler synchronizes with the neighbours right away and then every
// sync interval until the context is canceled.
//
// It must be run as a goroutine.
func (s *Server) syncHandler(ctx context.Context) {
	ticker := s.cfg.Registry.Clock().Ticker(s.cfg.SyncInterval)
	defer ticker.Stop()
	for {
		if err := s.SyncPeers(ctx); err != nil && ctx.Err() == nil {
			log.Warnf("Serial synchronization: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
