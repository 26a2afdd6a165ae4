// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package engine

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
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/session"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/transport"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/transport/transporttest"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/tunnel"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/wire"
)

// handshake completes a client-side handshake against a fresh
// ntortest.Server and returns the keyed client plus the server-side
// Sealer so a test's transport double can open requests and seal
// replies exactly as the real forward proxy would.
func handshake(t *testing.T) (ntorcrypto.Client, ntortest.Sealer) {
	t.Helper()
	server, err := ntortest.NewServer("server-1")
	require.NoError(t, err)

	client := ntorcrypto.NewClient()
	initMsg, err := client.InitiateSession()
	require.NoError(t, err)

	reply, err := server.Respond(initMsg.PublicKey())
	require.NoError(t, err)

	accepted := client.HandleServerResponse(
		ntorcrypto.Certificate{StaticPublicKey: server.StaticPublicKey(), ServerID: "server-1"},
		ntorcrypto.InitResponse{EphemeralPublicKey: reply.EphemeralPublicKey, TBHash: reply.TBHash},
	)
	require.True(t, accepted)

	return client, reply.AEAD
}

func openWith(client ntorcrypto.Client) *session.Open {
	return &session.Open{
		Keys:            tunnel.SessionKeys{Client: client, IntRPJWT: "rp", IntFPJWT: "fp"},
		ForwardProxyURL: "https://fp.example.com",
	}
}

func TestSendDeliversDecryptedResponse(t *testing.T) {
	client, serverAEAD := handshake(t)

	stub := transporttest.NewStub()
	stub.SetFallback(func(call transporttest.Call) (*transport.Response, error) {
		require.Equal(t, "https://fp.example.com/proxy", call.URL)
		require.Equal(t, "rp", call.Headers.Get("int_rp_jwt"))
		require.Equal(t, "fp", call.Headers.Get("int_fp_jwt"))

		var envelope wire.SealedEnvelope
		require.NoError(t, json.Unmarshal(call.Body, &envelope))
		var nonce [12]byte
		copy(nonce[:], envelope.Nonce)

		plaintext, err := serverAEAD.Open(nonce, envelope.Data)
		require.NoError(t, err)

		var l8req wire.L8Request
		require.NoError(t, json.Unmarshal(plaintext, &l8req))
		require.Equal(t, "https://backend.example.com/widgets", l8req.URI)

		l8resp := wire.L8Response{Status: 200, StatusText: "OK", Body: []byte("hello"), Ok: true}
		replyPlaintext, err := json.Marshal(l8resp)
		require.NoError(t, err)

		replyNonce, replyCiphertext, err := serverAEAD.Seal(replyPlaintext)
		require.NoError(t, err)

		replyEnvelope, err := json.Marshal(wire.SealedEnvelope{Nonce: replyNonce[:], Data: replyCiphertext})
		require.NoError(t, err)

		return transport.NewResponse(http.StatusOK, http.Header{}, replyEnvelope), nil
	})

	e := New(stub, zerolog.Nop())
	result, err := e.Send(context.Background(), openWith(client), &wire.L8Request{
		URI:    "https://backend.example.com/widgets",
		Method: "GET",
	}, true, nil)
	require.NoError(t, err)
	require.Equal(t, Delivered, result.Outcome)
	require.Equal(t, 200, result.Response.Status)
	require.Equal(t, []byte("hello"), result.Response.Body)
}

func TestSendReportsNeedsRotationOnTransportFailureWithBudget(t *testing.T) {
	client, _ := handshake(t)

	stub := transporttest.NewStub()
	stub.SetFallback(func(call transporttest.Call) (*transport.Response, error) {
		return nil, &transport.Error{Cause: errors.New("connection refused")}
	})

	e := New(stub, zerolog.Nop())
	result, err := e.Send(context.Background(), openWith(client), &wire.L8Request{URI: "https://backend.example.com/widgets", Method: "GET"}, true, nil)
	require.NoError(t, err)
	require.Equal(t, NeedsRotation, result.Outcome)
	require.Error(t, result.Err)
}

func TestSendReportsProxyErrorOnTransportFailureWithoutBudget(t *testing.T) {
	client, _ := handshake(t)

	stub := transporttest.NewStub()
	stub.SetFallback(func(call transporttest.Call) (*transport.Response, error) {
		return nil, &transport.Error{Cause: errors.New("connection refused")}
	})

	e := New(stub, zerolog.Nop())
	result, err := e.Send(context.Background(), openWith(client), &wire.L8Request{URI: "https://backend.example.com/widgets", Method: "GET"}, false, nil)
	require.NoError(t, err)
	require.Equal(t, ProxyError, result.Outcome)
	require.Error(t, result.Err)
}

func TestSendReportsAbortedWhenSignalFiresDuringTransportFailure(t *testing.T) {
	client, _ := handshake(t)

	stub := transporttest.NewStub()
	stub.SetFallback(func(call transporttest.Call) (*transport.Response, error) {
		return nil, &transport.Error{Cause: errors.New("connection refused")}
	})

	signalCtx, cancel := context.WithCancel(context.Background())
	cancel()

	e := New(stub, zerolog.Nop())
	result, err := e.Send(context.Background(), openWith(client), &wire.L8Request{URI: "https://backend.example.com/widgets", Method: "GET"}, true, signalCtx)
	require.NoError(t, err)
	require.Equal(t, Aborted, result.Outcome)
	require.ErrorIs(t, result.Err, context.Canceled)
}

func TestSendReportsNeedsRotationOnRejectionWithBudget(t *testing.T) {
	client, _ := handshake(t)

	stub := transporttest.NewStub()
	stub.SetFallback(func(call transporttest.Call) (*transport.Response, error) {
		return transport.NewResponse(http.StatusInternalServerError, http.Header{}, []byte("upstream exploded")), nil
	})

	e := New(stub, zerolog.Nop())
	result, err := e.Send(context.Background(), openWith(client), &wire.L8Request{URI: "https://backend.example.com/widgets", Method: "GET"}, true, nil)
	require.NoError(t, err)
	require.Equal(t, NeedsRotation, result.Outcome)
	require.Error(t, result.Err)
}

func TestSendReportsProxyErrorOnRejectionWithoutBudget(t *testing.T) {
	client, _ := handshake(t)

	stub := transporttest.NewStub()
	stub.SetFallback(func(call transporttest.Call) (*transport.Response, error) {
		return transport.NewResponse(http.StatusUnauthorized, http.Header{}, []byte("bad jwt")), nil
	})

	e := New(stub, zerolog.Nop())
	result, err := e.Send(context.Background(), openWith(client), &wire.L8Request{URI: "https://backend.example.com/widgets", Method: "GET"}, false, nil)
	require.NoError(t, err)
	require.Equal(t, ProxyError, result.Outcome)
	require.Error(t, result.Err)
}

func TestSendSetsEmptyBodyHeaderWhenBodyAbsent(t *testing.T) {
	client, serverAEAD := handshake(t)

	var sawHeader string
	stub := transporttest.NewStub()
	stub.SetFallback(func(call transporttest.Call) (*transport.Response, error) {
		sawHeader = call.Headers.Get("x-empty-body")

		l8resp := wire.L8Response{Status: 204}
		replyPlaintext, err := json.Marshal(l8resp)
		require.NoError(t, err)
		replyNonce, replyCiphertext, err := serverAEAD.Seal(replyPlaintext)
		require.NoError(t, err)
		replyEnvelope, err := json.Marshal(wire.SealedEnvelope{Nonce: replyNonce[:], Data: replyCiphertext})
		require.NoError(t, err)
		return transport.NewResponse(http.StatusOK, http.Header{}, replyEnvelope), nil
	})

	e := New(stub, zerolog.Nop())
	_, err := e.Send(context.Background(), openWith(client), &wire.L8Request{URI: "https://backend.example.com/widgets", Method: "GET"}, true, nil)
	require.NoError(t, err)
	require.Equal(t, "true", sawHeader)
}
