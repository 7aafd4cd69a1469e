// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package connectivity verifies that a relay is reachable from the outside
// before a dynamic cascade relies on it.
//
// The infoservice connects back to the address a relay sent its request from,
// writes a random nonce in decimal, and expects the relay to echo it.
package connectivity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/anonnet/infoserviced/internal/codec"
	"github.com/anonnet/infoserviced/internal/topology"
	"github.com/decred/dcrd/crypto/rand"
)

// DefaultTimeout is the default time a relay has to answer a probe.
const DefaultTimeout = 10 * time.Second

// Result is the outcome of a probe.
type Result int

// Probe outcomes.
const (
	Failed Result = iota
	OK
)

// resultStrings is a map of results back to their wire values.
var resultStrings = map[Result]string{
	Failed: "Failed",
	OK:     "OK",
}

// String returns the Result as sent on the wire.
func (r Result) String() string {
	if s, ok := resultStrings[r]; ok {
		return s
	}
	return fmt.Sprintf("Unknown Result (%d)", int(r))
}

// Prober probes relays.  It holds no per-probe state so a single prober may
// probe many relays concurrently.
type Prober struct {
	timeout time.Duration
	ok      atomic.Uint64
	failed  atomic.Uint64
}

// NewProber returns a prober that gives up after the timeout.  A zero
// timeout selects DefaultTimeout.
func NewProber(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Prober{timeout: timeout}
}

// Counts returns the number of successful and failed probes.
func (p *Prober) Counts() (ok, failed uint64) {
	return p.ok.Load(), p.failed.Load()
}

// nonce returns a positive random nonce.
func nonce() int64 {
	for {
		if n := rand.Int64(); n > 0 {
			return n
		}
	}
}

// Probe connects to the host and port, sends a nonce, and returns OK when the
// relay echoes it before the timeout.  Every error yields Failed.
//
// This function is safe for concurrent access.
func (p *Prober) Probe(ctx context.Context, host string, port int) Result {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	err := p.echo(ctx, addr)
	if err != nil {
		log.Debugf("Connectivity probe of %s failed: %v", addr, err)
		p.failed.Add(1)
		return Failed
	}
	log.Debugf("Connectivity probe of %s succeeded", addr)
	p.ok.Add(1)
	return OK
}

// echo performs the nonce exchange with the address.
func (p *Prober) echo(ctx context.Context, addr string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	want := nonce()
	request := []byte(strconv.FormatInt(want, 10))
	if _, err := conn.Write(request); err != nil {
		return err
	}
	echo := make([]byte, len(request))
	n, err := io.ReadFull(conn, echo)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	got, err := strconv.ParseInt(string(bytes.TrimSpace(echo[:n])), 10, 64)
	if err != nil {
		return fmt.Errorf("malformed echo: %w", err)
	}
	if got != want {
		return fmt.Errorf("echo %d does not match nonce %d", got, want)
	}
	return nil
}

// portRequest is the JSON form of a connectivity request.
type portRequest struct {
	Port *int `json:"Port"`
}

// ParseRequest extracts the port to probe from a connectivity request.  Both
// the document form <ConnectivityCheck><Port>n</Port></ConnectivityCheck> and
// the JSON form {"Port": n} are accepted.
func ParseRequest(body []byte) (int, error) {
	var port int
	trimmed := bytes.TrimSpace(body)
	if bytes.HasPrefix(trimmed, []byte("{")) {
		var req portRequest
		if err := json.Unmarshal(trimmed, &req); err != nil {
			return -1, fmt.Errorf("malformed connectivity request: %w", err)
		}
		if req.Port == nil {
			return -1, errors.New("connectivity request without port")
		}
		port = *req.Port
	} else {
		n, err := codec.Parse(trimmed)
		if err != nil {
			return -1, err
		}
		text, ok := n.ChildText("Port")
		if !ok {
			return -1, errors.New("connectivity request without port")
		}
		if port, err = strconv.Atoi(strings.TrimSpace(text)); err != nil {
			return -1, fmt.Errorf("malformed port %q", text)
		}
	}
	if port < 1 || port > 65535 {
		return -1, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}

// ResultDocument returns the answer to a connectivity request.  It is signed
// when a signer is given.
func ResultDocument(result Result, signer topology.DocumentSigner) (*codec.Node, error) {
	n := codec.NewNode("Connectivity")
	n.AddText("Result", result.String())
	if signer != nil {
		if err := signer.Sign(n); err != nil {
			return nil, fmt.Errorf("unable to sign connectivity result: %w", err)
		}
	}
	return n, nil
}
