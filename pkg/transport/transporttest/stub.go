// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package transporttest provides a canned-response Transport double so
// the tunnel initializer, the request engine, and the public client can
// be tested deterministically, with no socket involved — the seam
// transport.Transport exists specifically to make this possible.
package transporttest

import (
	"context"
	"net/http"
	"sync"

	"github.com/go-core-stack/l8-tunnel-proxy/pkg/transport"
)

// Call records one request observed by the Stub.
type Call struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte
}

// Handler answers a single recorded call. Returning a non-nil error
// simulates a transport-level failure (dial/timeout/etc); returning a
// *transport.Response (even with a >=400 status) simulates a completed
// HTTP round trip.
type Handler func(call Call) (*transport.Response, error)

// Stub is a Transport double backed by an ordered list of handlers, one
// per expected call, or a single fallback handler reused for every
// call.
type Stub struct {
	mu       sync.Mutex
	calls    []Call
	handlers []Handler
	fallback Handler
}

// NewStub returns an empty Stub. Use Queue to script responses in
// order, or SetFallback to answer every call the same way.
func NewStub() *Stub {
	return &Stub{}
}

// Queue appends a handler to be used for the next unanswered call, in
// order.
func (s *Stub) Queue(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// SetFallback installs a handler used once the queued handlers are
// exhausted.
func (s *Stub) SetFallback(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = h
}

// Calls returns a snapshot of every call observed so far, in order.
func (s *Stub) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Send implements transport.Transport.
func (s *Stub) Send(_ context.Context, req *transport.RequestBuilder) (*transport.Response, error) {
	call := Call{Method: req.Method, URL: req.URL, Headers: req.Headers.Clone(), Body: append([]byte{}, req.Body...)}

	s.mu.Lock()
	s.calls = append(s.calls, call)
	var h Handler
	if len(s.handlers) > 0 {
		h, s.handlers = s.handlers[0], s.handlers[1:]
	} else {
		h = s.fallback
	}
	s.mu.Unlock()

	if h == nil {
		return transport.NewResponse(http.StatusOK, http.Header{}, nil), nil
	}
	return h(call)
}
