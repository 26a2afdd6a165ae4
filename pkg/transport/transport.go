// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package transport is the only seam through which this module performs
// network I/O. The tunnel initializer and the request engine both send
// through a Transport, which lets their retry, rotation, and
// seal/open logic be tested without a socket.
package transport

import (
	"context"
	"io"
	"net/http"
)

// RequestBuilder describes an outbound HTTP call before it is sent.
// Transport implementations turn it into whatever request type they
// need (an *http.Request for the real adapter, a recorded call for a
// test double).
type RequestBuilder struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte
}

// Response is the minimal surface the core needs back from a transport
// call: a status code, the body as bytes, and (for error surfacing) the
// body as text.
type Response struct {
	StatusCode int
	Header     http.Header
	body       []byte
}

// NewResponse constructs a Response from raw bytes.
func NewResponse(status int, header http.Header, body []byte) *Response {
	return &Response{StatusCode: status, Header: header, body: body}
}

// Bytes returns the response body.
func (r *Response) Bytes() []byte {
	return r.body
}

// Text returns the response body decoded as UTF-8, for error surfacing.
func (r *Response) Text() string {
	return string(r.body)
}

// Error is returned by a Transport when the call could not be completed
// (dial failure, timeout, context cancellation, etc). It is distinct
// from a non-2xx HTTP response, which a Transport returns as a normal
// Response.
type Error struct {
	Cause error
}

func (e *Error) Error() string {
	return "transport: " + e.Cause.Error()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Transport sends one request and returns the response or a transport
// Error. Implementations must not retry internally; retry policy lives
// in the tunnel initializer and the request engine.
type Transport interface {
	Send(ctx context.Context, req *RequestBuilder) (*Response, error)
}

// drain fully reads and closes an io.ReadCloser, a small helper shared
// by the real transport's response handling.
func drain(rc io.ReadCloser) ([]byte, error) {
	defer rc.Close()
	return io.ReadAll(rc)
}
