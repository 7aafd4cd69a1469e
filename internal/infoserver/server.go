// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package infoserver

import (
	"context"
	stdlog "log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/anonnet/infoserviced/internal/connectivity"
	"github.com/anonnet/infoserviced/internal/distributor"
	"github.com/anonnet/infoserviced/internal/dynamic"
	"github.com/anonnet/infoserviced/internal/entrystore"
	"github.com/anonnet/infoserviced/internal/topology"
	"github.com/decred/dcrd/container/lru"
)

const (
	// DefaultMaxBodySize is the default limit of a decoded posted document.
	DefaultMaxBodySize = 1 << 20

	// readTimeout is the time a client has to send its request.
	readTimeout = 30 * time.Second

	// rejectedCacheSize is the number of rejected documents remembered so
	// repeated posts of the same bad document are refused without parsing.
	rejectedCacheSize = 1024
)

// kindRoute associates the path name used in commands with an entry kind.
type kindRoute struct {
	name string
	kind entrystore.Kind
}

// kindRoutes lists the distributable kinds served by the command surface.
var kindRoutes = []kindRoute{
	{"cascade", topology.KindCascade},
	{"mix", topology.KindMix},
	{"performance", topology.KindPerformance},
	{"version", topology.KindSoftwareVersion},
	{"tc", topology.KindTerms},
}

// Config is a descriptor containing the infoservice command server
// configuration.
type Config struct {
	// Listeners defines a slice of listeners for which the server will take
	// ownership of and accept connections.  They are closed when the server
	// is stopped.
	Listeners []net.Listener

	// Registry holds the entry stores served.
	Registry *entrystore.Registry

	// Parser decodes posted descriptors.
	Parser *topology.Parser

	// Factory decodes fetched documents by kind.
	Factory *topology.Factory

	// Reconciler routes cascades and proposals of dynamic relays.
	Reconciler *dynamic.Reconciler

	// Prober probes relays on connectivity requests.
	Prober *connectivity.Prober

	// Signer signs status answers and reconfiguration documents.  It may be
	// nil in which case the documents are sent unsigned.
	Signer topology.DocumentSigner

	// ID identifies this infoservice as the source of the performance
	// samples it builds from posted measurements.  Measurements are not
	// accepted when it is empty.
	ID string

	// Distributor, when set, has its counters exported as metrics.
	Distributor *distributor.Distributor

	// Peers are the base URLs of the neighbour infoservices whose serial
	// digests are synchronized every SyncInterval.  Client is used to reach
	// them.  A zero interval disables synchronization.
	Peers        []string
	Client       *http.Client
	SyncInterval time.Duration

	// MaxBodySize limits the decoded size of posted documents.  Zero selects
	// DefaultMaxBodySize.
	MaxBodySize int64
}

// Server provides the infoservice commands over HTTP.
type Server struct {
	cfg      Config
	wg       sync.WaitGroup
	rejected *lru.Set[[32]byte]
	metrics  *metrics

	// perfMtx serializes merging measurements into the samples of this
	// infoservice.
	perfMtx sync.Mutex
}

// logForwarder is an io.Writer that forwards http server error messages to
// the package logger.
type logForwarder struct{}

// Write implements the io.Writer interface and forwards the message to the
// active infoserver logger.
func (logForwarder) Write(p []byte) (int, error) {
	log.Error(strings.TrimRight(string(p), "\r\n"))
	return len(p), nil
}

// New returns a server for the configuration.
func New(cfg *Config) *Server {
	s := &Server{
		cfg:      *cfg,
		rejected: lru.NewSet[[32]byte](rejectedCacheSize),
	}
	if s.cfg.MaxBodySize <= 0 {
		s.cfg.MaxBodySize = DefaultMaxBodySize
	}
	if s.cfg.Client == nil {
		s.cfg.Client = http.DefaultClient
	}
	s.metrics = newMetrics(s)
	return s
}

// store returns the store of the kind.
func (s *Server) store(kind entrystore.Kind) *entrystore.Store {
	return s.cfg.Registry.Store(kind)
}

// Handler returns the handler serving every command.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Posted documents.
	mux.HandleFunc("/cascade", s.post(s.postCascade))
	mux.HandleFunc("/helo", s.post(s.postHelo))
	mux.HandleFunc("/dynacascade", s.post(s.postProposal))
	mux.HandleFunc("/mix", s.post(s.postMix))
	mux.HandleFunc("/mixinfo", s.post(s.postMix))
	mux.HandleFunc("/performance", s.post(s.postPerformance))
	if s.cfg.ID != "" {
		mux.HandleFunc("/measurement", s.post(s.postMeasurement))
	}
	mux.HandleFunc("/version", s.post(s.postSoftwareVersion))
	mux.HandleFunc("/tc", s.post(s.postTerms))
	mux.HandleFunc("/connectivity-request", s.handleConnectivity)

	// Served documents.
	for _, route := range kindRoutes {
		route := route
		mux.HandleFunc("/"+route.name+"-serials", s.get(func(w http.ResponseWriter, r *http.Request) {
			s.handleSerials(w, route.kind)
		}))
		mux.HandleFunc("/"+route.name+"/", s.get(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimPrefix(r.URL.Path, "/"+route.name+"/")
			s.handleEntry(w, route.kind, id)
		}))
	}
	mux.HandleFunc("/cascades", s.get(func(w http.ResponseWriter, r *http.Request) {
		s.handleList(w, topology.KindCascade, "MixCascades")
	}))
	mux.HandleFunc("/mixes", s.get(func(w http.ResponseWriter, r *http.Request) {
		s.handleList(w, topology.KindMix, "Mixes")
	}))
	mux.HandleFunc("/unassignedmixes", s.get(s.handleUnassigned))
	mux.HandleFunc("/newcascadeinformationavailable/", s.get(s.handleNewAssignment))
	mux.HandleFunc("/reconfigure/", s.get(s.handleReconfigure))
	mux.HandleFunc("/echoip", s.get(s.handleEchoIP))

	mux.HandleFunc("/ws", s.handleWebsocket)
	mux.Handle("/metrics", s.metrics.handler())
	return mux
}

// route sets up the http server.
func (s *Server) route(ctx context.Context) *http.Server {
	return &http.Server{
		Handler: s.Handler(),

		// Use the provided context as the parent context for all requests to
		// ensure handlers are able to react to both client disconnects as well
		// as shutdown via the provided context.
		BaseContext: func(l net.Listener) context.Context {
			return ctx
		},

		ReadTimeout: readTimeout,

		// Reroute http server error logging through the infoserver logger.
		ErrorLog: stdlog.New(logForwarder{}, "", 0),
	}
}

// Run starts the server on its listeners along with the serial digest
// synchronization.  It blocks until the provided context is cancelled.
func (s *Server) Run(ctx context.Context) {
	log.Trace("Starting infoservice command server")
	server := s.route(ctx)
	for _, listener := range s.cfg.Listeners {
		s.wg.Add(1)
		go func(listener net.Listener) {
			log.Infof("Command server listening on %s", listener.Addr())
			err := server.Serve(listener)
			if err != nil && err != http.ErrServerClosed {
				log.Errorf("Listener %s failed: %v", listener.Addr(), err)
			}
			log.Tracef("Command listener done for %s", listener.Addr())
			s.wg.Done()
		}(listener)
	}

	if s.cfg.SyncInterval > 0 && len(s.cfg.Peers) > 0 {
		s.wg.Add(1)
		go func() {
			s.syncHandler(ctx)
			s.wg.Done()
		}()
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("Command server shutdown: %v", err)
	}
	s.wg.Wait()
	log.Trace("Infoservice command server stopped")
}
