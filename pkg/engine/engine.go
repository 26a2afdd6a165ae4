// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package engine seals a normalized request into the forward proxy's
// wire format, posts it to /proxy, and opens the sealed reply back
// into a plaintext response envelope. It performs exactly one attempt
// per call; deciding whether a failure warrants a tunnel rotation and
// retry is the caller's job.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/go-core-stack/l8-tunnel-proxy/pkg/metrics"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/session"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/transport"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/wire"
)

const (
	headerContentType = "Content-Type"
	headerIntRPJWT    = "int_rp_jwt"
	headerIntFPJWT    = "int_fp_jwt"
	headerEmptyBody   = "x-empty-body"
)

// Outcome classifies how a single /proxy attempt resolved.
type Outcome int

const (
	// Delivered means the request reached the backend and the reply
	// was unsealed successfully.
	Delivered Outcome = iota
	// ProxyError means the attempt failed in a way retrying the same or
	// a fresh session would not recover from, or rotation budget ran
	// out while recovering from one that might have: a transport
	// failure, a rejected sealed envelope, or a reply that failed to
	// decrypt, each surfaced once no attempts remain.
	ProxyError
	// NeedsRotation means the attempt failed in a way a fresh tunnel
	// might recover from (transport failure, rejected envelope, or a
	// reply that failed to decrypt) and the caller has attempts left to
	// try it.
	NeedsRotation
	// Aborted means the caller's abort signal fired while the transport
	// call was failing; Result.Err carries the signal's reason instead
	// of the raw transport error.
	Aborted
)

// Result is what Send returns for a single attempt.
type Result struct {
	Outcome  Outcome
	Response *wire.L8Response
	Err      error
}

// Engine performs sealed request/response round trips against a
// forward proxy's /proxy endpoint.
type Engine struct {
	t       transport.Transport
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New constructs an Engine backed by t.
func New(t transport.Transport, logger zerolog.Logger) *Engine {
	return &Engine{t: t, logger: logger}
}

// SetMetrics attaches a collector set; call it once after construction
// if metrics are wanted.
func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

func (e *Engine) observe(outcome string) {
	if e.metrics != nil {
		e.metrics.ProxyRequestsTotal.WithLabelValues(outcome).Inc()
	}
}

// Send seals req under open's session keys, posts it to
// open.ForwardProxyURL+"/proxy", and opens the sealed reply. It never
// retries internally and never mutates open or the session registry;
// the caller (the Public Fetch Entry Point's rotation loop) decides
// when to actually rotate. rotationBudgetRemaining tells Send whether
// the caller has another attempt left: a transport failure or a ≥400
// response becomes NeedsRotation while budget remains, and ProxyError
// once it doesn't. signal is the caller's optional abort source; if it
// is non-nil and already done by the time a transport error surfaces,
// that takes priority over both and Send reports Aborted instead.
func (e *Engine) Send(ctx context.Context, open *session.Open, req *wire.L8Request, rotationBudgetRemaining bool, signal context.Context) (*Result, error) {
	plaintext, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("engine: encode request envelope: %w", err)
	}

	nonce, ciphertext, err := open.Keys.Client.Encrypt(plaintext)
	if err != nil {
		return nil, fmt.Errorf("engine: seal request envelope: %w", err)
	}

	body, err := json.Marshal(wire.SealedEnvelope{Nonce: nonce[:], Data: ciphertext})
	if err != nil {
		return nil, fmt.Errorf("engine: encode sealed envelope: %w", err)
	}

	headers := http.Header{}
	headers.Set(headerContentType, "application/json")
	headers.Set(headerIntRPJWT, open.Keys.IntRPJWT)
	headers.Set(headerIntFPJWT, open.Keys.IntFPJWT)
	if len(req.Body) == 0 {
		headers.Set(headerEmptyBody, "true")
	}

	resp, err := e.t.Send(ctx, &transport.RequestBuilder{
		Method:  http.MethodPost,
		URL:     open.ForwardProxyURL + "/proxy",
		Headers: headers,
		Body:    body,
	})
	if err != nil {
		if signal != nil && signal.Err() != nil {
			e.logger.Warn().Err(signal.Err()).Msg("request aborted by caller signal")
			e.observe("aborted")
			return &Result{Outcome: Aborted, Err: signal.Err()}, nil
		}
		if rotationBudgetRemaining {
			e.logger.Warn().Err(err).Msg("proxy request unreachable, tunnel needs rotation")
			e.observe("needs_rotation")
			return &Result{Outcome: NeedsRotation, Err: err}, nil
		}
		e.logger.Warn().Err(err).Msg("proxy request unreachable, rotation budget exhausted")
		e.observe("proxy_error")
		return &Result{Outcome: ProxyError, Err: fmt.Errorf("engine: proxy unreachable: %w", err)}, nil
	}

	if resp.StatusCode >= http.StatusBadRequest {
		statusErr := fmt.Errorf("engine: proxy responded %d: %s", resp.StatusCode, resp.Text())
		if rotationBudgetRemaining {
			e.logger.Warn().Int("status", resp.StatusCode).Str("body", resp.Text()).Msg("proxy rejected request with a retryable status, tunnel needs rotation")
			e.observe("needs_rotation")
			return &Result{Outcome: NeedsRotation, Err: statusErr}, nil
		}
		e.logger.Warn().Int("status", resp.StatusCode).Str("body", resp.Text()).Msg("proxy rejected request, rotation budget exhausted")
		e.observe("proxy_error")
		return &Result{Outcome: ProxyError, Err: statusErr}, nil
	}

	var envelope wire.SealedEnvelope
	if err := json.Unmarshal(resp.Bytes(), &envelope); err != nil {
		e.observe("proxy_error")
		return &Result{Outcome: ProxyError, Err: fmt.Errorf("engine: decode sealed reply: %w", err)}, nil
	}

	var nonceArr [12]byte
	if len(envelope.Nonce) != len(nonceArr) {
		e.observe("proxy_error")
		return &Result{Outcome: ProxyError, Err: fmt.Errorf("engine: sealed reply nonce has length %d, want %d", len(envelope.Nonce), len(nonceArr))}, nil
	}
	copy(nonceArr[:], envelope.Nonce)

	opened, err := open.Keys.Client.Decrypt(nonceArr, envelope.Data)
	if err != nil {
		openErr := fmt.Errorf("engine: open sealed reply: %w", err)
		if rotationBudgetRemaining {
			e.logger.Warn().Err(err).Msg("sealed reply failed to decrypt, tunnel needs rotation")
			e.observe("needs_rotation")
			return &Result{Outcome: NeedsRotation, Err: openErr}, nil
		}
		e.logger.Warn().Err(err).Msg("sealed reply failed to decrypt, rotation budget exhausted")
		e.observe("proxy_error")
		return &Result{Outcome: ProxyError, Err: openErr}, nil
	}

	var l8resp wire.L8Response
	if err := json.Unmarshal(opened, &l8resp); err != nil {
		e.observe("proxy_error")
		return &Result{Outcome: ProxyError, Err: fmt.Errorf("engine: decode response envelope: %w", err)}, nil
	}

	e.observe("delivered")
	return &Result{Outcome: Delivered, Response: &l8resp}, nil
}
