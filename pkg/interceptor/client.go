// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package interceptor is the Public Fetch Entry Point: the caller-facing
// client that normalizes a request, awaits (or rotates) an encrypted
// session for its backend, and sends it through the tunnel engine. It
// implements http.RoundTripper so an ordinary *http.Client can use it
// as a drop-in transport with zero code changes, alongside a richer
// Fetch method for callers that need FormData, query params, or
// streaming bodies that *http.Request alone can't carry.
package interceptor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/go-core-stack/l8-tunnel-proxy/pkg/engine"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/fetchopts"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/ntorcrypto"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/session"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/transport"
)

const (
	// FetchRetryAttempts is the total number of /proxy attempts a single
	// Fetch call makes, including the rotations in between.
	FetchRetryAttempts = 3
	// FetchRetrySleepDelay is the pause after a rotation is kicked off
	// and before the next attempt awaits the new session.
	FetchRetrySleepDelay = 50 * time.Millisecond
)

// Client is the Public Fetch Entry Point.
type Client struct {
	registry        *session.Registry
	engine          *engine.Engine
	transport       transport.Transport
	newClient       ntorcrypto.Factory
	forwardProxyURL string
	logger          zerolog.Logger
}

// NewClient constructs a Client. forwardProxyURL is the forward proxy
// every provider's tunnel is rotated against.
func NewClient(registry *session.Registry, eng *engine.Engine, t transport.Transport, newClient ntorcrypto.Factory, forwardProxyURL string, logger zerolog.Logger) *Client {
	return &Client{
		registry:        registry,
		engine:          eng,
		transport:       t,
		newClient:       newClient,
		forwardProxyURL: forwardProxyURL,
		logger:          logger,
	}
}

// InitEncryptedTunnels fans out one background handshake per provider;
// it does not wait for any of them to complete.
func (c *Client) InitEncryptedTunnels(ctx context.Context, providers []session.Provider) {
	c.registry.InitEncryptedTunnels(ctx, c.forwardProxyURL, providers, c.transport, c.newClient)
}

// Fetch normalizes resource+opts, awaits an open session for its
// backend, and sends it through the tunnel engine. A transport-level
// failure, a >= 400 reply from the forward proxy, or a reply that fails
// to decrypt triggers a tunnel rotation and one more attempt, up to
// FetchRetryAttempts total; any other engine error, and an abort by
// the caller's signal, is returned immediately.
func (c *Client) Fetch(ctx context.Context, resource interface{}, opts *fetchopts.Options) (*http.Response, error) {
	normalized, err := fetchopts.Normalize(ctx, resource, opts)
	if err != nil {
		return nil, fmt.Errorf("interceptor: normalize request: %w", err)
	}

	base, err := session.BaseURL(normalized.AbsoluteURL)
	if err != nil {
		return nil, fmt.Errorf("interceptor: resolve backend base url: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= FetchRetryAttempts; attempt++ {
		open, err := c.registry.AwaitOpen(ctx, base)
		if err != nil {
			return nil, fmt.Errorf("interceptor: await session open: %w", err)
		}

		rotationBudgetRemaining := attempt < FetchRetryAttempts
		result, err := c.engine.Send(ctx, open, normalized.Wire, rotationBudgetRemaining, normalized.Options.Signal)
		if err != nil {
			return nil, err
		}

		switch result.Outcome {
		case engine.Delivered:
			echo, _ := http.NewRequestWithContext(ctx, normalized.Wire.Method, normalized.AbsoluteURL, nil)
			return fetchopts.Reconstruct(echo, result.Response)

		case engine.ProxyError, engine.Aborted:
			return nil, result.Err
		}

		lastErr = result.Err
		c.logger.Warn().Err(lastErr).Int("attempt", attempt).Str("backend", base).Msg("tunnel attempt needs rotation")

		if attempt == FetchRetryAttempts {
			break
		}

		c.registry.InitEncryptedTunnels(ctx, c.forwardProxyURL, []session.Provider{{URL: base}}, c.transport, c.newClient)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(FetchRetrySleepDelay):
		}
	}

	return nil, fmt.Errorf("interceptor: exhausted %d attempts against %s: %w", FetchRetryAttempts, base, lastErr)
}

// RoundTrip implements http.RoundTripper, letting an ordinary
// *http.Client use this Client as its Transport with no code changes
// beyond construction.
func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	return c.Fetch(req.Context(), req, nil)
}
