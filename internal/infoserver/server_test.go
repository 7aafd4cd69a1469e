// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package infoserver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/anonnet/infoserviced/internal/codec"
	"github.com/anonnet/infoserviced/internal/connectivity"
	"github.com/anonnet/infoserviced/internal/dynamic"
	"github.com/anonnet/infoserviced/internal/entrystore"
	"github.com/anonnet/infoserviced/internal/serials"
	"github.com/anonnet/infoserviced/internal/topology"
	"github.com/anonnet/infoserviced/internal/verifier"
	"github.com/benbjohnson/clock"
	"github.com/davecgh/go-spew/spew"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/gorilla/websocket"
)

// testServer bundles a server with the stores it serves and an httptest
// server running its handler.
type testServer struct {
	s        *Server
	registry *entrystore.Registry
	signer   *verifier.Signer
	http     *httptest.Server
}

// newTestSigner returns a signer with a fresh key.
func newTestSigner(t *testing.T) *verifier.Signer {
	t.Helper()
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("unable to generate key: %v", err)
	}
	return verifier.NewSigner(key)
}

func newTestServer(t *testing.T, peers ...string) *testServer {
	t.Helper()
	registry := entrystore.NewRegistry(clock.New())
	t.Cleanup(registry.Shutdown)
	parser := topology.NewParser(&topology.Config{Verifier: verifier.New()})
	signer := newTestSigner(t)
	s := New(&Config{
		Registry:   registry,
		Parser:     parser,
		Factory:    topology.NewFactory(parser),
		Reconciler: dynamic.New(registry, 0),
		Prober:     connectivity.NewProber(500 * time.Millisecond),
		Signer:     signer,
		ID:         signer.Identity(),
		Peers:      peers,
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return &testServer{s: s, registry: registry, signer: signer, http: ts}
}

// mixNode returns a relay document signed by the signer.
func mixNode(t *testing.T, s *verifier.Signer, mixType topology.MixType) *codec.Node {
	t.Helper()
	d := &topology.MixDescriptor{
		ID:         s.Identity(),
		Type:       mixType,
		Software:   "00.10.000",
		LastUpdate: time.Now().Add(-time.Minute),
	}
	n := d.Node()
	if err := s.Sign(n); err != nil {
		t.Fatalf("unable to sign mix: %v", err)
	}
	return n
}

// cascadeNode returns a cascade document of the relays signed by the relay at
// signerIdx.  A negative index leaves the document unsigned.
func cascadeNode(t *testing.T, mixes []*verifier.Signer, signerIdx int, serial int64) *codec.Node {
	t.Helper()
	d := &topology.CascadeDescriptor{
		Listeners: []topology.ListenerInterface{{
			Protocol: topology.DefaultProtocol,
			Host:     "cascade.example.org",
			Port:     6544,
		}},
		LastUpdate: time.Now().Add(-time.Minute),
		Serial:     serial,
	}
	for i, s := range mixes {
		mixType := topology.MiddleMix
		switch {
		case i == 0:
			mixType = topology.FirstMix
		case i == len(mixes)-1:
			mixType = topology.LastMix
		}
		d.Mixes = append(d.Mixes, mixNode(t, s, mixType))
	}
	n := d.Node()
	if signerIdx >= 0 {
		if err := mixes[signerIdx].Sign(n); err != nil {
			t.Fatalf("unable to sign cascade: %v", err)
		}
	}
	return n
}

// post sends the encoded document and returns the response status.
func (ts *testServer) post(t *testing.T, path string, enc codec.Encoding, doc []byte) int {
	t.Helper()
	body, err := codec.Encode(enc, doc)
	if err != nil {
		t.Fatalf("unable to encode: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, ts.http.URL+path,
		bytes.NewReader(body))
	if err != nil {
		t.Fatalf("unable to create request: %v", err)
	}
	if ce := enc.ContentEncoding(); ce != "" {
		req.Header.Set("Content-Encoding", ce)
	}
	resp, err := ts.http.Client().Do(req)
	if err != nil {
		t.Fatalf("unable to post: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode
}

// get fetches the path and returns the response status and body.
func (ts *testServer) get(t *testing.T, path string) (int, []byte) {
	t.Helper()
	resp, err := ts.http.Client().Get(ts.http.URL + path)
	if err != nil {
		t.Fatalf("unable to get %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("unable to read %s: %v", path, err)
	}
	return resp.StatusCode, body
}

// TestPostCascade ensures gossiped cascades must be verified while cascades
// posted by their first relay are stored regardless.
func TestPostCascade(t *testing.T) {
	ts := newTestServer(t)
	signed := []*verifier.Signer{newTestSigner(t), newTestSigner(t)}
	unsigned := []*verifier.Signer{newTestSigner(t), newTestSigner(t)}
	helo := []*verifier.Signer{newTestSigner(t), newTestSigner(t)}
	zlibbed := []*verifier.Signer{newTestSigner(t), newTestSigner(t)}
	unsignedDoc := cascadeNode(t, unsigned, -1, 0).Document()

	tests := []struct {
		name     string
		path     string
		enc      codec.Encoding
		doc      []byte
		want     int
		storedID string
		verified bool
	}{{
		name:     "signed gossip",
		path:     "/cascade",
		doc:      cascadeNode(t, signed, 0, 0).Document(),
		want:     http.StatusOK,
		storedID: signed[0].Identity(),
		verified: true,
	}, {
		name: "unsigned gossip",
		path: "/cascade",
		doc:  unsignedDoc,
		want: http.StatusForbidden,
	}, {
		name: "repeated rejected gossip",
		path: "/cascade",
		doc:  unsignedDoc,
		want: http.StatusBadRequest,
	}, {
		name:     "unsigned helo",
		path:     "/helo",
		doc:      cascadeNode(t, helo, -1, 0).Document(),
		want:     http.StatusOK,
		storedID: helo[0].Identity(),
	}, {
		name:     "zlib gossip",
		path:     "/cascade",
		enc:      codec.EncodingZlib,
		doc:      cascadeNode(t, zlibbed, 0, 0).Document(),
		want:     http.StatusOK,
		storedID: zlibbed[0].Identity(),
		verified: true,
	}, {
		name: "malformed",
		path: "/cascade",
		doc:  []byte("<MixCascade><Mixes"),
		want: http.StatusBadRequest,
	}, {
		name: "wrong root",
		path: "/helo",
		doc:  []byte("<Mix id=\"x\"/>"),
		want: http.StatusBadRequest,
	}}

	store := ts.registry.Store(topology.KindCascade)
	t.Logf("Running %d tests", len(tests))
	for _, test := range tests {
		got := ts.post(t, test.path, test.enc, test.doc)
		if got != test.want {
			t.Errorf("%q: mismatched status\n got: %d want: %d", test.name,
				got, test.want)
			continue
		}
		if test.storedID == "" {
			continue
		}
		e, ok := store.Get(test.storedID)
		if !ok {
			t.Errorf("%q: cascade not stored", test.name)
			continue
		}
		if v := e.(*topology.Cascade).Status().Verified; v != test.verified {
			t.Errorf("%q: mismatched verified flag\n got: %v want: %v",
				test.name, v, test.verified)
		}
	}
	if store.Len() != 3 {
		t.Fatalf("mismatched stored cascades: got %d, want 3", store.Len())
	}
}

// TestServeDocuments ensures stored documents and digests are served.
func TestServeDocuments(t *testing.T) {
	ts := newTestServer(t)
	relay := newTestSigner(t)
	if got := ts.post(t, "/mixinfo", codec.EncodingPlain,
		mixNode(t, relay, topology.FirstMix).Document()); got != http.StatusOK {
		t.Fatalf("unable to post mix: status %d", got)
	}
	id := relay.Identity()

	status, body := ts.get(t, "/mix/"+id)
	if status != http.StatusOK {
		t.Fatalf("unable to fetch mix: status %d", status)
	}
	n, err := codec.Parse(body)
	if err != nil {
		t.Fatalf("unable to parse served mix: %v", err)
	}
	if got, _ := n.Attr("id"); got != id {
		t.Fatalf("mismatched served mix id\n got: %s want: %s", got, id)
	}

	status, body = ts.get(t, "/mixes")
	if status != http.StatusOK {
		t.Fatalf("unable to fetch mixes: status %d", status)
	}
	if n, err = codec.Parse(body); err != nil || len(n.ChildrenNamed("Mix")) != 1 {
		t.Fatalf("unexpected mix list %s (%v)", body, err)
	}

	status, body = ts.get(t, "/mix-serials")
	if status != http.StatusOK {
		t.Fatalf("unable to fetch serials: status %d", status)
	}
	digest, err := serials.Parse(body)
	if err != nil {
		t.Fatalf("unable to parse serials: %v", err)
	}
	rec, ok := digest[id]
	if !ok || !rec.Verified || len(digest) != 1 {
		t.Fatalf("unexpected digest: %v", spew.Sdump(digest))
	}

	if status, _ := ts.get(t, "/mix/unknown"); status != http.StatusNotFound {
		t.Fatalf("mismatched status of unknown mix: %d", status)
	}
	if status, _ := ts.get(t, "/cascade-serials"); status != http.StatusOK {
		t.Fatalf("mismatched status of empty serials: %d", status)
	}
	if status := ts.post(t, "/mixes", codec.EncodingPlain, nil); status != http.StatusMethodNotAllowed {
		t.Fatalf("mismatched status of post to list: %d", status)
	}
	if status, _ := ts.get(t, "/mixinfo"); status != http.StatusMethodNotAllowed {
		t.Fatalf("mismatched status of get of post command: %d", status)
	}
}

// TestDynamicCommands ensures relays are told about proposed cascades until
// their first relay announces the same cascade.
func TestDynamicCommands(t *testing.T) {
	ts := newTestServer(t)
	relays := []*verifier.Signer{newTestSigner(t), newTestSigner(t),
		newTestSigner(t)}
	first, last := relays[0].Identity(), relays[2].Identity()

	if status, _ := ts.get(t, "/newcascadeinformationavailable/"+first); status != http.StatusNotFound {
		t.Fatalf("unexpected assignment before proposal: status %d", status)
	}
	if status, _ := ts.get(t, "/reconfigure/"+first); status != http.StatusInternalServerError {
		t.Fatalf("unexpected reconfiguration before proposal: status %d", status)
	}

	// A proposal signed by a relay outside of the cascade is refused.
	stranger := cascadeNode(t, relays, -1, 1)
	if err := newTestSigner(t).Sign(stranger); err != nil {
		t.Fatalf("unable to sign: %v", err)
	}
	if status := ts.post(t, "/dynacascade", codec.EncodingPlain,
		stranger.Document()); status != http.StatusForbidden {
		t.Fatalf("mismatched status of foreign proposal: %d", status)
	}

	if status := ts.post(t, "/dynacascade", codec.EncodingPlain,
		cascadeNode(t, relays, 2, 2).Document()); status != http.StatusOK {
		t.Fatalf("unable to post proposal: status %d", status)
	}
	for _, id := range []string{first, last} {
		if status, _ := ts.get(t, "/newcascadeinformationavailable/"+id); status != http.StatusOK {
			t.Fatalf("assignment of %s not reported: status %d", id, status)
		}
	}
	status, body := ts.get(t, "/reconfigure/"+last)
	if status != http.StatusOK {
		t.Fatalf("unable to fetch reconfiguration: status %d", status)
	}
	n, err := codec.Parse(body)
	if err != nil {
		t.Fatalf("unable to parse reconfiguration: %v", err)
	}
	res := verifier.New().Verify(n, time.Now())
	if !res.Verified || res.Identity != ts.signer.Identity() {
		t.Fatal("reconfiguration not signed by the infoservice")
	}

	if status := ts.post(t, "/helo", codec.EncodingPlain,
		cascadeNode(t, relays, 0, 3).Document()); status != http.StatusOK {
		t.Fatalf("unable to post cascade: status %d", status)
	}
	if status, _ := ts.get(t, "/newcascadeinformationavailable/"+first); status != http.StatusNotFound {
		t.Fatalf("superseded assignment still reported: status %d", status)
	}

	// A dynamic relay outside of every cascade waits for an assignment
	// while the members of the announced cascade do not.
	idle := newTestSigner(t)
	d := &topology.MixDescriptor{
		ID:         idle.Identity(),
		Type:       topology.MiddleMix,
		Dynamic:    true,
		Software:   "00.10.000",
		LastUpdate: time.Now().Add(-time.Minute),
	}
	idleDoc := d.Node()
	if err := idle.Sign(idleDoc); err != nil {
		t.Fatalf("unable to sign mix: %v", err)
	}
	if status := ts.post(t, "/mix", codec.EncodingPlain,
		idleDoc.Document()); status != http.StatusOK {
		t.Fatalf("unable to post dynamic mix: status %d", status)
	}
	status, body = ts.get(t, "/unassignedmixes")
	if status != http.StatusOK {
		t.Fatalf("unable to list unassigned mixes: status %d", status)
	}
	n, err = codec.Parse(body)
	if err != nil {
		t.Fatalf("unable to parse unassigned mixes: %v", err)
	}
	mixes := n.ChildrenNamed("Mix")
	if len(mixes) != 1 {
		t.Fatalf("unexpected number of unassigned mixes: got %d, want 1",
			len(mixes))
	}
	if id, _ := mixes[0].Attr("id"); id != idle.Identity() {
		t.Fatalf("unexpected unassigned mix: got %s, want %s", id,
			idle.Identity())
	}
}

// measurementNode returns a measurement document of the cascade.
func measurementNode(cascadeID string, delayMs, speed int64) []byte {
	n := codec.NewNode("Measurement")
	n.AddText("CascadeId", cascadeID)
	n.AddText("Delay", fmt.Sprint(delayMs))
	n.AddText("Speed", fmt.Sprint(speed))
	return n.Document()
}

// TestPostMeasurement ensures posted measurements are merged into a signed
// rolling sample of this infoservice.
func TestPostMeasurement(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		doc    []byte
		status int
	}{
		{"first", measurementNode("cascade", 100, 10), http.StatusOK},
		{"second", measurementNode("cascade", 200, 20), http.StatusOK},
		{"third", measurementNode("cascade", 300, 30), http.StatusOK},
		{"fourth", measurementNode("cascade", 400, 60), http.StatusOK},
		{"no cascade", measurementNode("", 100, 10), http.StatusBadRequest},
		{"negative delay", measurementNode("cascade", -1, 10), http.StatusBadRequest},
	}

	t.Logf("Running %d tests", len(tests))
	for _, test := range tests {
		status := ts.post(t, "/measurement", codec.EncodingPlain, test.doc)
		if status != test.status {
			t.Errorf("%q: mismatched status: got %d, want %d", test.name,
				status, test.status)
		}
	}

	id := topology.PerformanceID("cascade", ts.signer.Identity())
	e, ok := ts.registry.Store(topology.KindPerformance).Get(id)
	if !ok {
		t.Fatalf("sample %s not stored", id)
	}
	sample := e.(*topology.PerformanceSample)
	want := []topology.Measurement{
		{Delay: 200 * time.Millisecond, Speed: 20},
		{Delay: 300 * time.Millisecond, Speed: 30},
		{Delay: 400 * time.Millisecond, Speed: 60},
	}
	if got := sample.Measurements(); !reflect.DeepEqual(got, want) {
		t.Fatalf("mismatched window\n got: %s\nwant: %s", spew.Sdump(got),
			spew.Sdump(want))
	}
	res := verifier.New().Verify(sample.Node(), time.Now())
	if !res.Verified || res.Identity != ts.signer.Identity() {
		t.Fatal("sample not signed by the infoservice")
	}

	// Without an infoservice id there is no sample to merge into.
	registry := entrystore.NewRegistry(clock.New())
	t.Cleanup(registry.Shutdown)
	parser := topology.NewParser(&topology.Config{Verifier: verifier.New()})
	anon := httptest.NewServer(New(&Config{
		Registry:   registry,
		Parser:     parser,
		Factory:    topology.NewFactory(parser),
		Reconciler: dynamic.New(registry, 0),
	}).Handler())
	t.Cleanup(anon.Close)
	resp, err := anon.Client().Post(anon.URL+"/measurement", "text/xml",
		bytes.NewReader(measurementNode("cascade", 100, 10)))
	if err != nil {
		t.Fatalf("unable to post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("mismatched status without id: got %d, want %d",
			resp.StatusCode, http.StatusNotFound)
	}
}

// TestConnectivityRequest ensures the requesting address is probed on the
// requested port.
func TestConnectivityRequest(t *testing.T) {
	ts := newTestServer(t)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to listen: %v", err)
	}
	defer l.Close()
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			buf := make([]byte, 32)
			if n, err := conn.Read(buf); err == nil {
				conn.Write(buf[:n])
			}
			conn.Close()
		}
	}()
	open := l.Addr().(*net.TCPAddr).Port

	closed, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to listen: %v", err)
	}
	closedPort := closed.Addr().(*net.TCPAddr).Port
	closed.Close()

	tests := []struct {
		body       string
		wantStatus int
		wantResult string
	}{
		{fmt.Sprintf("<ConnectivityCheck><Port>%d</Port></ConnectivityCheck>", open),
			http.StatusOK, "OK"},
		{fmt.Sprintf(`{"Port": %d}`, open), http.StatusOK, "OK"},
		{fmt.Sprintf(`{"Port": %d}`, closedPort), http.StatusOK, "Failed"},
		{"<ConnectivityCheck/>", http.StatusBadRequest, ""},
	}

	t.Logf("Running %d tests", len(tests))
	for i, test := range tests {
		resp, err := ts.http.Client().Post(ts.http.URL+"/connectivity-request",
			"text/xml", strings.NewReader(test.body))
		if err != nil {
			t.Fatalf("#%d: unable to post: %v", i, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != test.wantStatus {
			t.Errorf("#%d: mismatched status\n got: %d want: %d", i,
				resp.StatusCode, test.wantStatus)
			continue
		}
		if test.wantResult == "" {
			continue
		}
		n, err := codec.Parse(body)
		if err != nil {
			t.Errorf("#%d: unable to parse answer: %v", i, err)
			continue
		}
		if got, _ := n.ChildText("Result"); got != test.wantResult {
			t.Errorf("#%d: mismatched result\n got: %s want: %s", i, got,
				test.wantResult)
		}
		if res := verifier.New().Verify(n, time.Now()); !res.Verified {
			t.Errorf("#%d: answer not signed", i)
		}
	}
}

// TestSyncPeers ensures entries a neighbour holds in other versions are
// fetched, except for unverified cascades.
func TestSyncPeers(t *testing.T) {
	peer := newTestServer(t)
	verified := []*verifier.Signer{newTestSigner(t), newTestSigner(t)}
	unverified := []*verifier.Signer{newTestSigner(t), newTestSigner(t)}
	relay := newTestSigner(t)
	for _, post := range []struct {
		path string
		doc  []byte
	}{
		{"/cascade", cascadeNode(t, verified, 0, 0).Document()},
		{"/helo", cascadeNode(t, unverified, -1, 0).Document()},
		{"/mix", mixNode(t, relay, topology.MiddleMix).Document()},
	} {
		if status := peer.post(t, post.path, codec.EncodingPlain, post.doc); status != http.StatusOK {
			t.Fatalf("unable to seed peer via %s: status %d", post.path, status)
		}
	}

	local := newTestServer(t, peer.http.URL)
	if err := local.s.SyncPeers(context.Background()); err != nil {
		t.Fatalf("unexpected sync error: %v", err)
	}
	cascades := local.registry.Store(topology.KindCascade)
	if _, ok := cascades.Get(verified[0].Identity()); !ok || cascades.Len() != 1 {
		t.Fatalf("unexpected synchronized cascades: %d", cascades.Len())
	}
	if _, ok := local.registry.Store(topology.KindMix).Get(relay.Identity()); !ok {
		t.Fatal("mix not synchronized")
	}

	// A second pass finds nothing to change.
	before := cascades.Snapshot()[0]
	if err := local.s.SyncPeers(context.Background()); err != nil {
		t.Fatalf("unexpected sync error: %v", err)
	}
	if after, _ := cascades.Get(before.ID()); after != before {
		t.Fatal("unchanged cascade replaced by second sync")
	}

	unreachable := newTestServer(t, "http://127.0.0.1:1")
	if err := unreachable.s.SyncPeers(context.Background()); err == nil {
		t.Fatal("expected error syncing with unreachable peer")
	}
}

// TestWebsocketFeed ensures clients receive the initial snapshot followed by
// the changes of the requested store.
func TestWebsocketFeed(t *testing.T) {
	ts := newTestServer(t)
	existing := newTestSigner(t)
	ts.post(t, "/mix", codec.EncodingPlain,
		mixNode(t, existing, topology.FirstMix).Document())

	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws?kind=mix"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("unable to dial: %v", err)
	}
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg changeMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("unable to read snapshot: %v", err)
	}
	if msg.Type != entrystore.InitialSnapshot.String() || len(msg.Snapshot) != 1 ||
		msg.Snapshot[0].ID != existing.Identity() {
		t.Fatalf("unexpected initial message: %v", spew.Sdump(msg))
	}

	added := newTestSigner(t)
	ts.post(t, "/mix", codec.EncodingPlain,
		mixNode(t, added, topology.LastMix).Document())
	msg = changeMessage{}
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("unable to read change: %v", err)
	}
	if msg.Type != entrystore.EntryAdded.String() || msg.Entry == nil ||
		msg.Entry.ID != added.Identity() || !msg.Entry.Verified {
		t.Fatalf("unexpected change message: %v", spew.Sdump(msg))
	}

	resp, err := ts.http.Client().Get(ts.http.URL + "/ws?kind=bogus")
	if err != nil {
		t.Fatalf("unable to get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("mismatched status of unknown kind: %d", resp.StatusCode)
	}
}

// TestMetrics ensures store sizes and post counters are exported.
func TestMetrics(t *testing.T) {
	ts := newTestServer(t)
	ts.post(t, "/mix", codec.EncodingPlain,
		mixNode(t, newTestSigner(t), topology.FirstMix).Document())
	ts.post(t, "/mix", codec.EncodingPlain, []byte("garbage"))

	status, body := ts.get(t, "/metrics")
	if status != http.StatusOK {
		t.Fatalf("unable to scrape: status %d", status)
	}
	for _, want := range []string{
		`infoservice_entries{kind="Mix"} 1`,
		`infoservice_entries{kind="MixCascade"} 0`,
		`infoservice_posts_accepted_total{kind="Mix"} 1`,
		`infoservice_posts_rejected_total{command="/mix"} 1`,
		`infoservice_probes_total{result="ok"} 0`,
	} {
		if !bytes.Contains(body, []byte(want)) {
			t.Errorf("metric %q not exported", want)
		}
	}
}
