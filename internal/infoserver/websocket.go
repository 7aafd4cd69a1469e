// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package infoserver

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/anonnet/infoserviced/internal/entrystore"
	"github.com/anonnet/infoserviced/internal/serials"
	"github.com/anonnet/infoserviced/internal/topology"
	"github.com/gorilla/websocket"
)

const (
	// websocketSendBufferSize is the number of change messages that may be
	// queued for a websocket client.  Clients that fall further behind are
	// disconnected.
	websocketSendBufferSize = 256

	// websocketReadLimit is the maximum size of a message read from a
	// websocket client.  Clients only send control frames.
	websocketReadLimit = 512

	// websocketWriteTimeout is the time allowed to write a message.
	websocketWriteTimeout = 10 * time.Second
)

// entryMessage describes an entry in a change message.
type entryMessage struct {
	ID         string `json:"id"`
	Version    int64  `json:"version"`
	LastUpdate int64  `json:"lastUpdate"`
	Expire     int64  `json:"expire"`
	Verified   bool   `json:"verified"`
	Valid      bool   `json:"valid"`
	Context    string `json:"context"`
}

// changeMessage is the JSON form of a store change sent to websocket
// clients.
type changeMessage struct {
	Type     string         `json:"type"`
	Kind     string         `json:"kind"`
	Entry    *entryMessage  `json:"entry,omitempty"`
	Prior    *entryMessage  `json:"prior,omitempty"`
	Snapshot []entryMessage `json:"snapshot,omitempty"`
}

// newEntryMessage returns the message form of the entry.  A nil entry yields
// nil.
func newEntryMessage(e entrystore.Entry) *entryMessage {
	if e == nil {
		return nil
	}
	rec := serials.RecordOf(e)
	return &entryMessage{
		ID:         rec.ID,
		Version:    rec.Version,
		LastUpdate: rec.LastUpdate.UnixMilli(),
		Expire:     e.ExpireTime().UnixMilli(),
		Verified:   rec.Verified,
		Valid:      rec.Valid,
		Context:    rec.Context,
	}
}

// newChangeMessage returns the message form of the change.
func newChangeMessage(change *entrystore.EntryChange) *changeMessage {
	msg := &changeMessage{
		Type:  change.Type.String(),
		Kind:  string(change.Kind),
		Entry: newEntryMessage(change.Entry),
		Prior: newEntryMessage(change.Prior),
	}
	if change.Type == entrystore.InitialSnapshot {
		msg.Snapshot = make([]entryMessage, 0, len(change.Snapshot))
		for _, e := range change.Snapshot {
			msg.Snapshot = append(msg.Snapshot, *newEntryMessage(e))
		}
	}
	return msg
}

// feedKind resolves the kind requested by a websocket client.  Both the
// command names and the kind names are accepted.
func feedKind(name string) (entrystore.Kind, bool) {
	for _, route := range kindRoutes {
		if name == route.name || name == string(route.kind) {
			return route.kind, true
		}
	}
	if name == "dynacascade" || name == string(topology.KindVirtualCascade) {
		return topology.KindVirtualCascade, true
	}
	return "", false
}

// checkOrigin allows requests without an origin header and those whose
// origin host matches the requested host.
func checkOrigin(r *http.Request) bool {
	origin := r.Header["Origin"]
	if len(origin) == 0 {
		return true
	}
	originURL, err := url.Parse(origin[0])
	if err != nil {
		return false
	}
	originHost, requestHost := originURL.Host, r.Host
	if host, _, err := net.SplitHostPort(originHost); err == nil {
		originHost = host
	}
	if host, _, err := net.SplitHostPort(requestHost); err == nil {
		requestHost = host
	}
	return strings.EqualFold(originHost, requestHost)
}

// handleWebsocket streams the changes of the requested store to the client,
// starting with the initial snapshot.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	kind, ok := feedKind(r.URL.Query().Get("kind"))
	if !ok {
		http.Error(w, "unknown kind", http.StatusBadRequest)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: checkOrigin}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		var herr websocket.HandshakeError
		if !errors.As(err, &herr) {
			log.Errorf("Unexpected websocket error: %v", err)
		}
		return
	}
	defer ws.Close()
	ws.SetReadLimit(websocketReadLimit)
	log.Debugf("New websocket client %s for %s changes", r.RemoteAddr, kind)
	s.metrics.wsClients.Inc()
	defer s.metrics.wsClients.Dec()

	// Observers must not block the store, so changes are queued and a client
	// whose queue overflows is disconnected.
	send := make(chan *changeMessage, websocketSendBufferSize)
	overflow := make(chan struct{})
	var overflowOnce sync.Once
	unsubscribe := s.store(kind).Subscribe(func(change *entrystore.EntryChange) {
		select {
		case send <- newChangeMessage(change):
		default:
			overflowOnce.Do(func() { close(overflow) })
		}
	})
	defer unsubscribe()

	// The client only sends control frames and closes.  Reading is required
	// for them to be processed.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := r.Context()
	for {
		select {
		case msg := <-send:
			ws.SetWriteDeadline(time.Now().Add(websocketWriteTimeout))
			if err := ws.WriteJSON(msg); err != nil {
				log.Debugf("Websocket client %s write: %v", r.RemoteAddr, err)
				return
			}

		case <-overflow:
			log.Warnf("Disconnecting websocket client %s: change queue full",
				r.RemoteAddr)
			return

		case <-readDone:
			log.Debugf("Websocket client %s disconnected", r.RemoteAddr)
			return

		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
			ws.WriteControl(websocket.CloseMessage, msg,
				time.Now().Add(time.Second))
			return
		}
	}
}
