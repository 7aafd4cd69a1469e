// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package distributor

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/anonnet/infoserviced/internal/codec"
	"github.com/anonnet/infoserviced/internal/entrystore"
)

// testEntry is a distributable entry with a fixed document.
type testEntry struct {
	id      string
	version int64
	enc     codec.Encoding
}

func (e *testEntry) ID() string            { return e.id }
func (e *testEntry) Version() int64        { return e.version }
func (e *testEntry) LastUpdate() time.Time { return time.Time{} }
func (e *testEntry) ExpireTime() time.Time { return entrystore.Forever }
func (e *testEntry) Kind() entrystore.Kind { return "Mix" }
func (e *testEntry) PostPath() string      { return "/mixinfo" }
func (e *testEntry) PostEncoding() codec.Encoding {
	return e.enc
}
func (e *testEntry) PostData() []byte {
	return []byte(fmt.Sprintf(`<Mix id="%s" serial="%d"/>`, e.id, e.version))
}

// post is a request received by a test peer.
type post struct {
	path string
	doc  string
}

// testPeer returns a server that decodes and reports posted documents.  It
// answers with the given status.
func testPeer(t *testing.T, status int) (*httptest.Server, <-chan post) {
	t.Helper()
	posts := make(chan post, 100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enc, err := codec.ParseContentEncoding(r.Header.Get("Content-Encoding"))
		if err != nil {
			t.Errorf("unexpected content encoding: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		doc, err := codec.Decode(enc, r.Body, 1<<20)
		if err != nil {
			t.Errorf("unable to decode body: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		posts <- post{path: r.URL.Path, doc: string(doc)}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, posts
}

// nextPost waits for the next post of the peer.
func nextPost(t *testing.T, posts <-chan post) post {
	t.Helper()
	select {
	case p := <-posts:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for post")
	}
	return post{}
}

// TestDistribute ensures entries reach every peer once per version in their
// post encoding.
func TestDistribute(t *testing.T) {
	srv1, posts1 := testPeer(t, http.StatusOK)
	srv2, posts2 := testPeer(t, http.StatusOK)
	d := New(&Config{Peers: []string{srv1.URL, srv2.URL + "/"}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.Run(ctx)
	}()

	encodings := []codec.Encoding{codec.EncodingPlain, codec.EncodingZlib,
		codec.EncodingGzip}
	for i, enc := range encodings {
		e := &testEntry{id: fmt.Sprintf("m%d", i), version: 1, enc: enc}
		d.Enqueue(e)
		for _, posts := range []<-chan post{posts1, posts2} {
			got := nextPost(t, posts)
			if got.path != "/mixinfo" || got.doc != string(e.PostData()) {
				t.Fatalf("%v: mismatched post\n got: %s %s\nwant: %s %s", enc,
					got.path, got.doc, "/mixinfo", e.PostData())
			}
		}
	}

	// Resending a version a peer already received is suppressed while a
	// newer version is sent.
	d.Enqueue(&testEntry{id: "m0", version: 1})
	d.Enqueue(&testEntry{id: "m1", version: 2})
	for _, posts := range []<-chan post{posts1, posts2} {
		got := nextPost(t, posts)
		want := string((&testEntry{id: "m1", version: 2}).PostData())
		if got.doc != want {
			t.Fatalf("mismatched post\n got: %s want: %s", got.doc, want)
		}
	}

	cancel()
	wg.Wait()
	stats := d.Stats()
	if stats.Sent != 8 || stats.Failed != 0 || stats.Pending != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

// TestEnqueueCoalesce ensures pending entries are coalesced by id and the
// queue is bounded.
func TestEnqueueCoalesce(t *testing.T) {
	d := New(&Config{MaxPending: 2})
	d.Enqueue(&testEntry{id: "a", version: 1})
	d.Enqueue(&testEntry{id: "a", version: 3})
	d.Enqueue(&testEntry{id: "a", version: 2})
	d.Enqueue(&testEntry{id: "b", version: 1})
	d.Enqueue(&testEntry{id: "c", version: 1})

	stats := d.Stats()
	if stats.Pending != 2 || stats.Dropped != 1 || stats.Queued != 4 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	entries := d.drain()
	if len(entries) != 2 {
		t.Fatalf("mismatched pending entries: got %d, want 2", len(entries))
	}
	if entries[0].ID() != "a" || entries[0].Version() != 3 {
		t.Fatalf("unexpected first entry %s version %d", entries[0].ID(),
			entries[0].Version())
	}
	if entries[1].ID() != "b" {
		t.Fatalf("unexpected second entry %s", entries[1].ID())
	}
	if d.Stats().Pending != 0 {
		t.Fatal("queue not empty after drain")
	}
}

// TestDistributeFailure ensures failed posts are counted and retried for
// later versions.
func TestDistributeFailure(t *testing.T) {
	srv, posts := testPeer(t, http.StatusInternalServerError)
	d := New(&Config{Peers: []string{srv.URL}})

	e := &testEntry{id: "a", version: 1}
	if err := d.distribute(context.Background(), e); err == nil {
		t.Fatal("distribution to failing peer did not fail")
	}
	nextPost(t, posts)
	if err := d.distribute(context.Background(), e); err == nil {
		t.Fatal("distribution to failing peer did not fail")
	}
	nextPost(t, posts)
	if stats := d.Stats(); stats.Failed != 2 || stats.Sent != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
