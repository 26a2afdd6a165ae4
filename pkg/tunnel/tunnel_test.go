// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package tunnel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-core-stack/l8-tunnel-proxy/pkg/ntorcrypto"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/ntorcrypto/ntortest"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/transport"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/transport/transporttest"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/wire"
)

func handshakeResponseBody(t *testing.T, server *ntortest.Server, clientPub []byte) []byte {
	t.Helper()
	reply, err := server.Respond(clientPub)
	require.NoError(t, err)

	body := wire.InitTunnelResponse{
		EphemeralPublicKey: reply.EphemeralPublicKey,
		TBHash:             reply.TBHash,
		JWT1:               "rp-jwt",
		JWT2:               "fp-jwt",
		ServerID:            "server-1",
		PublicKey:           server.StaticPublicKey(),
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return raw
}

func TestInitializeSucceedsOnFirstAttempt(t *testing.T) {
	server, err := ntortest.NewServer("server-1")
	require.NoError(t, err)

	stub := transporttest.NewStub()
	stub.Queue(func(call transporttest.Call) (*transport.Response, error) {
		require.Equal(t, "application/json", call.Headers.Get("Content-Length"))
		require.Equal(t, "1", call.Headers.Get("Retry-count"))

		var req wire.InitTunnelRequest
		require.NoError(t, json.Unmarshal(call.Body, &req))

		return transport.NewResponse(http.StatusOK, http.Header{}, handshakeResponseBody(t, server, req.PublicKey)), nil
	})

	keys, err := Initialize(context.Background(), "https://fp.example.com/init-tunnel?backend_url=https://svc.example.com", stub, ntorcrypto.NewClient, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, "rp-jwt", keys.IntRPJWT)
	require.Equal(t, "fp-jwt", keys.IntFPJWT)
	require.Len(t, stub.Calls(), 1)
}

func TestInitializeRetriesThenSucceeds(t *testing.T) {
	server, err := ntortest.NewServer("server-1")
	require.NoError(t, err)

	stub := transporttest.NewStub()
	stub.Queue(func(call transporttest.Call) (*transport.Response, error) {
		return nil, &transport.Error{Cause: errors.New("dial refused")}
	})
	stub.Queue(func(call transporttest.Call) (*transport.Response, error) {
		var req wire.InitTunnelRequest
		require.NoError(t, json.Unmarshal(call.Body, &req))
		return transport.NewResponse(http.StatusOK, http.Header{}, handshakeResponseBody(t, server, req.PublicKey)), nil
	})

	keys, err := Initialize(context.Background(), "https://fp.example.com/init-tunnel?backend_url=https://svc.example.com", stub, ntorcrypto.NewClient, zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, keys.Client)
	require.Len(t, stub.Calls(), 2)
}

func TestInitializeExhaustsRetries(t *testing.T) {
	stub := transporttest.NewStub()
	stub.SetFallback(func(call transporttest.Call) (*transport.Response, error) {
		return nil, &transport.Error{Cause: errors.New("dial refused")}
	})

	_, err := Initialize(context.Background(), "https://fp.example.com/init-tunnel", stub, ntorcrypto.NewClient, zerolog.Nop())
	require.Error(t, err)

	var tErr *Error
	require.ErrorAs(t, err, &tErr)
	require.Equal(t, KindUnreachable, tErr.Kind)
	require.Len(t, stub.Calls(), InitTunnelRetryAttempts)
}

func TestInitializeRejectsBadHandshake(t *testing.T) {
	server, err := ntortest.NewServer("server-1")
	require.NoError(t, err)

	stub := transporttest.NewStub()
	stub.Queue(func(call transporttest.Call) (*transport.Response, error) {
		var req wire.InitTunnelRequest
		require.NoError(t, json.Unmarshal(call.Body, &req))

		reply, err := server.Respond(req.PublicKey)
		require.NoError(t, err)

		body := wire.InitTunnelResponse{
			EphemeralPublicKey: reply.EphemeralPublicKey,
			TBHash:             []byte("not-the-right-tag"),
			JWT1:               "rp-jwt",
			JWT2:               "fp-jwt",
			ServerID:            "server-1",
			PublicKey:           server.StaticPublicKey(),
		}
		raw, err := json.Marshal(body)
		require.NoError(t, err)

		return transport.NewResponse(http.StatusOK, http.Header{}, raw), nil
	})

	_, err = Initialize(context.Background(), "https://fp.example.com/init-tunnel", stub, ntorcrypto.NewClient, zerolog.Nop())
	require.Error(t, err)

	var tErr *Error
	require.ErrorAs(t, err, &tErr)
	require.Equal(t, KindHandshakeRejected, tErr.Kind)
}
