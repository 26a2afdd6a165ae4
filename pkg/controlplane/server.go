// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package controlplane is the Go-native replacement for the JS
// embedding surface the original interceptor relied on: an HTTP API an
// operator or sidecar process calls to register backends, inspect
// session state, and relay one-off requests through the tunnel without
// linking this module in directly.
package controlplane

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/go-core-stack/l8-tunnel-proxy/pkg/auth"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/fetchopts"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/interceptor"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/session"
)

// relayTimeout bounds how long a single /relay call may run when the
// inbound request carries no deadline of its own.
const relayTimeout = 60 * time.Second

// Server is the control-plane HTTP surface: POST /providers, GET
// /providers/{base}/status, POST /relay, GET /healthz, GET /metrics.
type Server struct {
	mux *http.ServeMux

	client          *interceptor.Client
	registry        *session.Registry
	signer          *auth.Signer
	forwardProxyURL string
	logger          zerolog.Logger
}

// NewServer wires the control-plane routes into a fresh mux and
// returns a Server ready to use as an http.Handler. forwardProxyURL
// should be the same value client was constructed with, so
// POST /providers can validate a caller-supplied one against it.
// signer may be nil to disable authentication (development only);
// gatherer may be nil, in which case /metrics reports the global
// default registry.
func NewServer(client *interceptor.Client, registry *session.Registry, signer *auth.Signer, forwardProxyURL string, gatherer prometheus.Gatherer, logger zerolog.Logger) *Server {
	s := &Server{
		mux:             http.NewServeMux(),
		client:          client,
		registry:        registry,
		signer:          signer,
		forwardProxyURL: forwardProxyURL,
		logger:          logger,
	}

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s.mux.HandleFunc("POST /providers", s.authenticated(s.handleRegisterProviders))
	s.mux.HandleFunc("GET /providers/{base}/status", s.authenticated(s.handleProviderStatus))
	s.mux.HandleFunc("POST /relay", s.authenticated(s.handleRelay))
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// authenticated wraps h with signature verification, skipping the
// check entirely when no signer was configured.
func (s *Server) authenticated(h http.HandlerFunc) http.HandlerFunc {
	if s.signer == nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.signer.Verify(r); err != nil {
			s.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("control-plane request failed verification")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

// registerProvidersRequest's ForwardProxyURL is accepted for parity
// with the value InitEncryptedTunnels itself takes, but this server
// was constructed with one forward proxy already wired in; a caller
// supplying a different one here gets it rejected rather than silently
// ignored.
type registerProvidersRequest struct {
	ForwardProxyURL string   `json:"forward_proxy_url"`
	Providers       []string `json:"providers"`
}

func (s *Server) handleRegisterProviders(w http.ResponseWriter, r *http.Request) {
	var body registerProvidersRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(body.Providers) == 0 {
		http.Error(w, "providers must not be empty", http.StatusBadRequest)
		return
	}
	if body.ForwardProxyURL != "" && body.ForwardProxyURL != s.forwardProxyURL {
		http.Error(w, "forward_proxy_url does not match the configured forward proxy", http.StatusBadRequest)
		return
	}

	providers := make([]session.Provider, 0, len(body.Providers))
	for _, u := range body.Providers {
		providers = append(providers, session.Provider{URL: u})
	}

	s.client.InitEncryptedTunnels(r.Context(), providers)
	w.WriteHeader(http.StatusAccepted)
}

type providerStatusResponse struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleProviderStatus(w http.ResponseWriter, r *http.Request) {
	base := r.PathValue("base")
	entry, ok := s.registry.Get(base)
	if !ok {
		http.Error(w, "unknown provider", http.StatusNotFound)
		return
	}

	resp := providerStatusResponse{State: stateName(entry.State)}
	if entry.Err != nil {
		resp.Error = entry.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func stateName(s session.State) string {
	switch s {
	case session.StateConnecting:
		return "connecting"
	case session.StateOpen:
		return "open"
	case session.StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

type relayRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

type relayResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	var body relayRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.URL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}

	opts := &fetchopts.Options{Method: body.Method}
	if body.Body != "" {
		opts.Body = fetchopts.StringBody(body.Body)
	}
	opts.Headers = make(map[string][]string, len(body.Headers))
	for k, v := range body.Headers {
		opts.Headers.Set(k, v)
	}

	ctx, cancel := context.WithTimeout(r.Context(), relayTimeout)
	defer cancel()

	resp, err := s.client.Fetch(ctx, body.URL, opts)
	if err != nil {
		s.logger.Warn().Err(err).Str("url", body.URL).Msg("relay failed")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	out := relayResponse{Status: resp.StatusCode, Headers: map[string]string{}}
	for k := range resp.Header {
		out.Headers[k] = resp.Header.Get(k)
	}
	if buf, err := io.ReadAll(resp.Body); err == nil {
		out.Body = string(buf)
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
