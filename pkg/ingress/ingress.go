// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package ingress is the raw reverse-proxy face of the tunnel: an
// http.Handler that resolves every inbound request against a fixed
// backend base URL and forwards it through the encrypted tunnel via
// the Public Fetch Entry Point, rather than requiring a caller to
// speak the JSON relay envelope the control plane exposes. It exists
// for operators who want to point an ordinary reverse-proxy listener
// at a backend and get tunnel encryption for free.
package ingress

import (
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/go-core-stack/l8-tunnel-proxy/pkg/fetchopts"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/interceptor"
)

// hopHeaders lists the headers that are connection-specific and must
// never be forwarded across a proxy hop.
var hopHeaders = map[string]struct{}{
	"Connection":          {},
	"Proxy-Connection":    {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// Handler forwards every request it receives to a single backend base
// URL, through the tunnel, preserving path/query and standard
// forwarding headers.
type Handler struct {
	client  *interceptor.Client
	baseURL *url.URL
	logger  zerolog.Logger
}

// New builds a Handler that resolves inbound requests against base
// and forwards them through client.
func New(client *interceptor.Client, base *url.URL, logger zerolog.Logger) *Handler {
	clone := *base
	return &Handler{client: client, baseURL: &clone, logger: logger}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	event := h.logger.With().Str("method", r.Method).Str("path", r.URL.Path).Logger()

	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		event.Error().Err(err).Msg("read inbound body failed")
		return
	}
	defer r.Body.Close()

	target := h.singleJoiningURL(r.URL)

	headers := http.Header{}
	copyHeaders(headers, r.Header)
	cleanHopHeaders(headers)
	augmentForwardHeaders(headers, r)

	opts := &fetchopts.Options{
		Method:  r.Method,
		Headers: headers,
	}
	if len(bodyBytes) > 0 {
		opts.Body = fetchopts.BytesBody(bodyBytes)
	}

	resp, err := h.client.Fetch(r.Context(), target.String(), opts)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		event.Error().Err(err).Dur("duration", time.Since(start)).Msg("tunneled request failed")
		return
	}
	defer resp.Body.Close()

	respHeaders := resp.Header.Clone()
	cleanHopHeaders(respHeaders)
	copyHeaders(w.Header(), respHeaders)
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		event.Error().Err(err).Dur("duration", time.Since(start)).Msg("stream response failed")
		return
	}

	event.Info().Dur("duration", time.Since(start)).Int("status", resp.StatusCode).Msg("request tunneled")
}

func (h *Handler) singleJoiningURL(requestURL *url.URL) *url.URL {
	ref := &url.URL{
		Path:     requestURL.Path,
		RawPath:  requestURL.RawPath,
		RawQuery: requestURL.RawQuery,
		Fragment: requestURL.Fragment,
	}
	return h.baseURL.ResolveReference(ref)
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func cleanHopHeaders(h http.Header) {
	for k := range hopHeaders {
		h.Del(k)
	}
}

func augmentForwardHeaders(h http.Header, r *http.Request) {
	clientIP := r.RemoteAddr
	if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
		clientIP = prior + ", " + clientIP
	}
	if clientIP != "" {
		h.Set("X-Forwarded-For", clientIP)
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		h.Set("X-Forwarded-Proto", scheme)
	} else {
		h.Set("X-Forwarded-Proto", "http")
	}
	h.Set("X-Forwarded-Host", r.Host)
}
