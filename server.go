// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2024 The Decred developers
// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"strings"
	"sync"

	"github.com/anonnet/infoserviced/internal/archive"
	"github.com/anonnet/infoserviced/internal/connectivity"
	"github.com/anonnet/infoserviced/internal/distributor"
	"github.com/anonnet/infoserviced/internal/dynamic"
	"github.com/anonnet/infoserviced/internal/entrystore"
	"github.com/anonnet/infoserviced/internal/infoserver"
	"github.com/anonnet/infoserviced/internal/topology"
	"github.com/anonnet/infoserviced/internal/verifier"
	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
)

// simpleAddr implements the net.Addr interface with two struct fields
type simpleAddr struct {
	net, addr string
}

// String returns the address.
//
// This is part of the net.Addr interface.
func (a simpleAddr) String() string {
	return a.addr
}

// Network returns the network.
//
// This is part of the net.Addr interface.
func (a simpleAddr) Network() string {
	return a.net
}

// Ensure simpleAddr implements the net.Addr interface.
var _ net.Addr = simpleAddr{}

// server ties the entry stores of an infoservice to the subsystems that fill,
// distribute, reconcile, persist, and serve them.
type server struct {
	registry    *entrystore.Registry
	factory     *topology.Factory
	distributor *distributor.Distributor
	reconciler  *dynamic.Reconciler
	infoServer  *infoserver.Server
	archive     *archive.Archive
}

// parseListeners determines whether each listen address is IPv4 and IPv6 and
// returns a slice of appropriate net.Addrs to listen on with TCP. It also
// properly detects addresses which apply to "all interfaces" and adds the
// address as both IPv4 and IPv6.
func parseListeners(addrs []string) ([]net.Addr, error) {
	netAddrs := make([]net.Addr, 0, len(addrs)*2)
	for _, addr := range addrs {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			// Shouldn't happen due to already being normalized.
			return nil, err
		}

		// Empty host or host of * on plan9 is both IPv4 and IPv6.
		if host == "" || (host == "*" && runtime.GOOS == "plan9") {
			netAddrs = append(netAddrs, simpleAddr{net: "tcp4", addr: addr})
			netAddrs = append(netAddrs, simpleAddr{net: "tcp6", addr: addr})
			continue
		}

		// Strip IPv6 zone id if present since net.ParseIP does not
		// handle it.
		zoneIndex := strings.LastIndex(host, "%")
		if zoneIndex > 0 {
			host = host[:zoneIndex]
		}

		ip := net.ParseIP(host)
		if ip == nil {
			return nil, fmt.Errorf("'%s' is not a valid IP address", host)
		}
		if ip.To4() == nil {
			netAddrs = append(netAddrs, simpleAddr{net: "tcp6", addr: addr})
		} else {
			netAddrs = append(netAddrs, simpleAddr{net: "tcp4", addr: addr})
		}
	}
	return netAddrs, nil
}

// listen opens the command listeners.  Listeners that fail to bind are
// skipped as long as at least one succeeds.
func listen(addrs []string) ([]net.Listener, error) {
	netAddrs, err := parseListeners(addrs)
	if err != nil {
		return nil, err
	}
	listeners := make([]net.Listener, 0, len(netAddrs))
	for _, addr := range netAddrs {
		listener, err := net.Listen(addr.Network(), addr.String())
		if err != nil {
			srvrLog.Warnf("Can't listen on %s: %v", addr, err)
			continue
		}
		listeners = append(listeners, listener)
	}
	if len(listeners) == 0 {
		return nil, fmt.Errorf("no valid listen address")
	}
	return listeners, nil
}

// newServer returns an infoservice for the configuration.  The archived
// entries are restored before the server is returned.
func newServer(cfg *config) (*server, error) {
	clk := clock.New()
	registry := entrystore.NewRegistry(clk)
	parser := topology.NewParser(&topology.Config{
		Verifier: verifier.New(cfg.TrustedOperators...),
		Now:      clk.Now,
	})
	s := server{
		registry: registry,
		factory:  topology.NewFactory(parser),
		distributor: distributor.New(&distributor.Config{
			Peers:      cfg.Peers,
			Proxy:      cfg.proxy,
			MaxPending: cfg.MaxDistQueue,
			Timeout:    cfg.DistTimeout,
		}),
		reconciler: dynamic.New(registry, cfg.ReconcileInterval),
	}
	if len(cfg.Peers) > 0 {
		registry.SetDistributor(s.distributor)
	} else {
		isvcLog.Info("No neighbour infoservices configured")
	}

	if !cfg.NoArchive {
		a, err := archive.Open(cfg.DataDir)
		if err != nil {
			registry.Shutdown()
			return nil, err
		}
		if _, err := a.Restore(registry, s.factory); err != nil {
			isvcLog.Errorf("Unable to restore archived entries: %v", err)
		}
		s.archive = a
	}

	listeners, err := listen(cfg.Listeners)
	if err != nil {
		s.close()
		return nil, err
	}

	serverCfg := infoserver.Config{
		Listeners:    listeners,
		Registry:     registry,
		Parser:       parser,
		Factory:      s.factory,
		Reconciler:   s.reconciler,
		Prober:       connectivity.NewProber(cfg.ProbeTimeout),
		Distributor:  s.distributor,
		Peers:        s.distributor.Peers(),
		Client:       s.distributor.Client(),
		SyncInterval: cfg.SyncInterval,
		MaxBodySize:  cfg.MaxBodySize,
	}
	if cfg.signer != nil {
		serverCfg.Signer = cfg.signer
		serverCfg.ID = cfg.signer.Identity()
		isvcLog.Infof("Signing answers as %s", cfg.signer.Identity())
	}
	s.infoServer = infoserver.New(&serverCfg)
	return &s, nil
}

// close archives the stores and stops them.
func (s *server) close() error {
	var errs error
	if s.archive != nil {
		srvrLog.Info("Archiving entries...")
		errs = multierr.Append(errs, s.archive.Dump(s.registry, s.factory.Kinds()))
	}
	s.registry.Shutdown()
	if s.archive != nil {
		errs = multierr.Append(errs, s.archive.Close())
	}
	return errs
}

// Run starts the infoservice subsystems and blocks until the provided context
// is cancelled.  The stores are archived on shutdown.
func (s *server) Run(ctx context.Context) {
	srvrLog.Trace("Starting server")

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		s.distributor.Run(ctx)
		wg.Done()
	}()
	go func() {
		s.reconciler.Run(ctx)
		wg.Done()
	}()
	go func() {
		s.infoServer.Run(ctx)
		wg.Done()
	}()

	// Shutdown the server when the context is cancelled.
	<-ctx.Done()
	srvrLog.Warnf("Server shutting down")
	wg.Wait()
	if err := s.close(); err != nil {
		srvrLog.Errorf("Shutdown: %v", err)
	}
	srvrLog.Trace("Server stopped")
}
