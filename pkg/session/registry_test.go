// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-core-stack/l8-tunnel-proxy/pkg/ntorcrypto"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/ntorcrypto/ntortest"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/transport"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/transport/transporttest"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/wire"
)

func TestBaseURLCanonicalizes(t *testing.T) {
	base, err := BaseURL("HTTPS://Svc.Example.COM:8443/api?x=1#frag")
	require.NoError(t, err)
	require.Equal(t, "https://svc.example.com:8443", base)

	base, err = BaseURL("https://svc.example.com/api")
	require.NoError(t, err)
	require.Equal(t, "https://svc.example.com", base)
}

func TestAwaitOpenNotInitialized(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	_, err := r.AwaitOpen(context.Background(), "https://svc.example.com")
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestAwaitOpenReturnsStoredError(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	boom := errors.New("boom")
	r.MarkConnecting("https://svc.example.com")
	r.MarkErrored("https://svc.example.com", boom)

	_, err := r.AwaitOpen(context.Background(), "https://svc.example.com")
	require.ErrorIs(t, err, boom)
}

func TestAwaitOpenBlocksUntilOpen(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	r.MarkConnecting("https://svc.example.com")

	done := make(chan *Open, 1)
	go func() {
		open, err := r.AwaitOpen(context.Background(), "https://svc.example.com")
		require.NoError(t, err)
		done <- open
	}()

	time.Sleep(5 * FetchRetrySleepDelay)
	open := &Open{ForwardProxyURL: "https://fp.example.com"}
	r.MarkOpen("https://svc.example.com", open)

	select {
	case got := <-done:
		require.Same(t, open, got)
	case <-time.After(2 * time.Second):
		t.Fatal("AwaitOpen did not unblock after MarkOpen")
	}
}

func TestAwaitOpenCoalescesConcurrentCallers(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	r.MarkConnecting("https://svc.example.com")

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*Open, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			open, err := r.AwaitOpen(context.Background(), "https://svc.example.com")
			require.NoError(t, err)
			results[i] = open
		}(i)
	}

	time.Sleep(5 * FetchRetrySleepDelay)
	open := &Open{ForwardProxyURL: "https://fp.example.com"}
	r.MarkOpen("https://svc.example.com", open)

	wg.Wait()
	for _, got := range results {
		require.Same(t, open, got)
	}
}

func TestInitEncryptedTunnelsTransitionsToOpen(t *testing.T) {
	server, err := ntortest.NewServer("server-1")
	require.NoError(t, err)

	stub := transporttest.NewStub()
	stub.SetFallback(func(call transporttest.Call) (*transport.Response, error) {
		var req wire.InitTunnelRequest
		require.NoError(t, json.Unmarshal(call.Body, &req))
		reply, err := server.Respond(req.PublicKey)
		require.NoError(t, err)

		body := wire.InitTunnelResponse{
			EphemeralPublicKey: reply.EphemeralPublicKey,
			TBHash:             reply.TBHash,
			JWT1:               "rp",
			JWT2:               "fp",
			ServerID:            "server-1",
			PublicKey:           server.StaticPublicKey(),
		}
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		return transport.NewResponse(http.StatusOK, http.Header{}, raw), nil
	})

	r := NewRegistry(zerolog.Nop())
	r.InitEncryptedTunnels(context.Background(), "https://fp.example.com", []Provider{{URL: "https://svc.example.com/api"}}, stub, ntorcrypto.NewClient)

	open, err := r.AwaitOpen(context.Background(), "https://svc.example.com")
	require.NoError(t, err)
	require.Equal(t, "rp", open.Keys.IntRPJWT)
}

func TestInitEncryptedTunnelsTransitionsToErrored(t *testing.T) {
	stub := transporttest.NewStub()
	stub.SetFallback(func(call transporttest.Call) (*transport.Response, error) {
		return nil, &transport.Error{Cause: errors.New("unreachable")}
	})

	r := NewRegistry(zerolog.Nop())
	r.InitEncryptedTunnels(context.Background(), "https://fp.example.com", []Provider{{URL: "https://svc.example.com/api"}}, stub, ntorcrypto.NewClient)

	_, err := r.AwaitOpen(context.Background(), "https://svc.example.com")
	require.Error(t, err)
}
