// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package distributor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anonnet/infoserviced/internal/codec"
	"github.com/anonnet/infoserviced/internal/entrystore"
	"github.com/decred/dcrd/container/apbf"
	"github.com/decred/go-socks/socks"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMaxPending is the default maximum number of distinct entries
	// waiting to be distributed.
	DefaultMaxPending = 1000

	// DefaultMaxConcurrent is the default maximum number of concurrent posts.
	DefaultMaxConcurrent = 8

	// DefaultTimeout is the default timeout of a single post.
	DefaultTimeout = 30 * time.Second

	// These fields are used to track the entries sent to a peer.
	//
	// maxKnownPerPeer is the maximum number of entry versions to track.
	//
	// knownFPRate is the false positive rate of the filter.  A false positive
	// only means a peer misses an update it will pick up on the next serials
	// sync.
	maxKnownPerPeer = 20000
	knownFPRate     = 0.0001
)

// Config holds the configuration of a Distributor.
type Config struct {
	// Peers are the base URLs of the neighbour infoservices such as
	// "http://is.example.org:8080".
	Peers []string

	// Client performs the posts.  NewClient is used when it is nil.
	Client *http.Client

	// Proxy, when set, is used to reach the peers.  It is ignored when
	// Client is set.
	Proxy *socks.Proxy

	// MaxPending bounds the number of distinct pending entries.  Entries
	// arriving while the queue is full are dropped.
	MaxPending int

	// MaxConcurrent bounds the number of concurrent posts.
	MaxConcurrent int

	// Timeout bounds a single post.  It is ignored when Client is set.
	Timeout time.Duration
}

// Stats holds the counters of a Distributor.
type Stats struct {
	Queued  uint64
	Dropped uint64
	Sent    uint64
	Failed  uint64
	Pending int
}

// peer is a neighbour infoservice along with the entries it was sent.
type peer struct {
	url   string
	known *apbf.Filter
}

// Distributor posts entries to the neighbour infoservices.
type Distributor struct {
	cfg    Config
	client *http.Client
	peers  []*peer

	mtx     sync.Mutex
	pending map[string]entrystore.Distributable
	order   []string

	// signal is buffered so Enqueue never blocks.
	signal chan struct{}

	queued  atomic.Uint64
	dropped atomic.Uint64
	sent    atomic.Uint64
	failed  atomic.Uint64
}

// Ensure Distributor implements the entrystore.Distributor interface.
var _ entrystore.Distributor = (*Distributor)(nil)

// NewClient returns an HTTP client that reaches hosts through the proxy when
// one is given.
func NewClient(proxy *socks.Proxy, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxy != nil {
		transport.Proxy = nil
		transport.DialContext = proxy.DialContext
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

// New returns a distributor for the configuration.  Run must be called to
// start posting.
func New(cfg *Config) *Distributor {
	d := &Distributor{
		cfg:     *cfg,
		client:  cfg.Client,
		pending: make(map[string]entrystore.Distributable),
		signal:  make(chan struct{}, 1),
	}
	if d.cfg.MaxPending <= 0 {
		d.cfg.MaxPending = DefaultMaxPending
	}
	if d.cfg.MaxConcurrent <= 0 {
		d.cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if d.cfg.Timeout <= 0 {
		d.cfg.Timeout = DefaultTimeout
	}
	if d.client == nil {
		d.client = NewClient(d.cfg.Proxy, d.cfg.Timeout)
	}
	for _, u := range cfg.Peers {
		d.peers = append(d.peers, &peer{
			url:   strings.TrimRight(u, "/"),
			known: apbf.NewFilter(maxKnownPerPeer, knownFPRate),
		})
	}
	return d
}

// Peers returns the base URLs of the neighbour infoservices.
func (d *Distributor) Peers() []string {
	urls := make([]string, 0, len(d.peers))
	for _, p := range d.peers {
		urls = append(urls, p.url)
	}
	return urls
}

// Client returns the HTTP client used to reach the peers.
func (d *Distributor) Client() *http.Client {
	return d.client
}

// queueKey returns the key entries are coalesced by.
func queueKey(e entrystore.Entry) string {
	return string(e.Kind()) + "|" + e.ID()
}

// invKey returns the key of the entry version in the known filters.
func invKey(e entrystore.Entry) []byte {
	return []byte(queueKey(e) + "|" + strconv.FormatInt(e.Version(), 10))
}

// Enqueue queues the entry for distribution.  A pending older version of the
// same entry is replaced.  The entry is dropped when the queue is full.
//
// This function is safe for concurrent access and never blocks on I/O.
func (d *Distributor) Enqueue(e entrystore.Distributable) {
	key := queueKey(e)
	d.mtx.Lock()
	if prev, ok := d.pending[key]; ok {
		if e.Version() >= prev.Version() {
			d.pending[key] = e
		}
		d.mtx.Unlock()
		d.queued.Add(1)
		return
	}
	if len(d.order) >= d.cfg.MaxPending {
		d.mtx.Unlock()
		d.dropped.Add(1)
		log.Warnf("Distribution queue full: dropping %s %s version %d",
			e.Kind(), e.ID(), e.Version())
		return
	}
	d.pending[key] = e
	d.order = append(d.order, key)
	d.mtx.Unlock()
	d.queued.Add(1)

	select {
	case d.signal <- struct{}{}:
	default:
	}
}

// drain removes and returns all pending entries in the order they were first
// queued.
func (d *Distributor) drain() []entrystore.Distributable {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	entries := make([]entrystore.Distributable, 0, len(d.order))
	for _, key := range d.order {
		entries = append(entries, d.pending[key])
		delete(d.pending, key)
	}
	d.order = d.order[:0]
	return entries
}

// Stats returns a snapshot of the counters.
func (d *Distributor) Stats() Stats {
	d.mtx.Lock()
	pending := len(d.order)
	d.mtx.Unlock()
	return Stats{
		Queued:  d.queued.Load(),
		Dropped: d.dropped.Load(),
		Sent:    d.sent.Load(),
		Failed:  d.failed.Load(),
		Pending: pending,
	}
}

// Run posts queued entries until the context is canceled.
//
// It must be run as a goroutine.
func (d *Distributor) Run(ctx context.Context) {
	log.Tracef("Distributor started with %d peers", len(d.peers))
	for {
		select {
		case <-ctx.Done():
			log.Tracef("Distributor stopped")
			return
		case <-d.signal:
		}
		for _, e := range d.drain() {
			if ctx.Err() != nil {
				break
			}
			if err := d.distribute(ctx, e); err != nil {
				log.Debugf("Unable to distribute %s %s: %v", e.Kind(), e.ID(),
					err)
			}
		}
	}
}

// distribute posts the entry to every peer that was not sent this version
// yet.
func (d *Distributor) distribute(ctx context.Context, e entrystore.Distributable) error {
	enc := e.PostEncoding()
	body, err := codec.Encode(enc, e.PostData())
	if err != nil {
		return err
	}
	inv := invKey(e)

	var g errgroup.Group
	g.SetLimit(d.cfg.MaxConcurrent)
	for _, p := range d.peers {
		if p.known.Contains(inv) {
			continue
		}
		p := p
		g.Go(func() error {
			if err := d.post(ctx, p.url+e.PostPath(), enc, body); err != nil {
				d.failed.Add(1)
				return fmt.Errorf("peer %s: %w", p.url, err)
			}
			p.known.Add(inv)
			d.sent.Add(1)
			return nil
		})
	}
	return g.Wait()
}

// post sends the encoded document to the URL.
func (d *Distributor) post(ctx context.Context, url string, enc codec.Encoding, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url,
		bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/xml")
	if ce := enc.ContentEncoding(); ce != "" {
		req.Header.Set("Content-Encoding", ce)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}
