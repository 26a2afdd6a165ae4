// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package tunnel performs the nTor handshake against a forward proxy's
// /init-tunnel endpoint, with bounded retry, producing the SessionKeys
// the rest of the module seals and opens traffic with.
package tunnel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/go-core-stack/l8-tunnel-proxy/pkg/ntorcrypto"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/transport"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/wire"
)

const (
	// InitTunnelRetryAttempts is the total number of attempts made
	// against /init-tunnel before giving up.
	InitTunnelRetryAttempts = 3
	// InitTunnelRetrySleepDelay is the pause between failed attempts.
	InitTunnelRetrySleepDelay = 1000 * time.Millisecond
)

// Kind classifies why tunnel initialization failed, matching the
// taxonomy of TunnelInitError.
type Kind int

const (
	// KindUnreachable means every retry attempt failed at the
	// transport level.
	KindUnreachable Kind = iota
	// KindHandshakeRejected means the server's response did not pass
	// nTor verification.
	KindHandshakeRejected
	// KindMalformedResponse means the init-tunnel response body could
	// not be decoded.
	KindMalformedResponse
)

// Error wraps a tunnel initialization failure with its Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// SessionKeys is the result of a successful handshake: the keyed nTor
// client plus the two opaque authorization tokens the forward proxy
// issued alongside it.
type SessionKeys struct {
	Client    ntorcrypto.Client
	IntRPJWT  string
	IntFPJWT  string
}

// Initialize runs one bounded-retry nTor handshake against
// initTunnelURL (already shaped as
// "${forward_proxy}/init-tunnel?backend_url=${base}") and returns the
// resulting SessionKeys.
func Initialize(ctx context.Context, initTunnelURL string, t transport.Transport, newClient ntorcrypto.Factory, logger zerolog.Logger) (SessionKeys, error) {
	client := newClient()
	initMsg, err := client.InitiateSession()
	if err != nil {
		return SessionKeys{}, &Error{Kind: KindUnreachable, Err: fmt.Errorf("initiate session: %w", err)}
	}

	reqBody, err := json.Marshal(wire.InitTunnelRequest{PublicKey: initMsg.PublicKey()})
	if err != nil {
		return SessionKeys{}, &Error{Kind: KindMalformedResponse, Err: fmt.Errorf("encode handshake request: %w", err)}
	}

	var resp *transport.Response
	var lastErr error
	for attempt := 1; attempt <= InitTunnelRetryAttempts; attempt++ {
		headers := http.Header{}
		// Known quirk of the forward proxy's handshake endpoint,
		// preserved bit-exactly for compatibility: Content-Length
		// carries a MIME type instead of an actual byte count.
		headers.Set("Content-Length", "application/json")
		headers.Set("Retry-count", strconv.Itoa(attempt))

		resp, lastErr = t.Send(ctx, &transport.RequestBuilder{
			Method:  http.MethodPost,
			URL:     initTunnelURL,
			Headers: headers,
			Body:    reqBody,
		})
		if lastErr == nil {
			break
		}

		logger.Warn().Err(lastErr).Int("attempt", attempt).Msg("init-tunnel attempt failed")

		if attempt == InitTunnelRetryAttempts {
			return SessionKeys{}, &Error{
				Kind: KindUnreachable,
				Err:  fmt.Errorf("init-tunnel unreachable after %d attempts: %w", attempt, lastErr),
			}
		}

		select {
		case <-ctx.Done():
			return SessionKeys{}, &Error{Kind: KindUnreachable, Err: ctx.Err()}
		case <-time.After(InitTunnelRetrySleepDelay):
		}
	}

	var body wire.InitTunnelResponse
	if err := json.Unmarshal(resp.Bytes(), &body); err != nil {
		return SessionKeys{}, &Error{Kind: KindMalformedResponse, Err: fmt.Errorf("decode init-tunnel response: %w", err)}
	}

	accepted := client.HandleServerResponse(
		ntorcrypto.Certificate{StaticPublicKey: body.PublicKey, ServerID: body.ServerID},
		ntorcrypto.InitResponse{EphemeralPublicKey: body.EphemeralPublicKey, TBHash: body.TBHash},
	)
	if !accepted {
		return SessionKeys{}, &Error{Kind: KindHandshakeRejected, Err: errors.New("nTor handshake verification failed")}
	}

	logger.Debug().Str("server_id", body.ServerID).Msg("tunnel handshake accepted")

	return SessionKeys{
		Client:   client,
		IntRPJWT: body.JWT1,
		IntFPJWT: body.JWT2,
	}, nil
}
