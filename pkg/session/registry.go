// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package session implements the process-wide session registry: the
// single source of truth mapping a provider's base URL to its
// CONNECTING/OPEN/ERRORED lifecycle state.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/go-core-stack/l8-tunnel-proxy/pkg/metrics"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/ntorcrypto"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/transport"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/tunnel"
)

// FetchRetrySleepDelay is the interval AwaitOpen polls at while a
// provider's entry is CONNECTING.
const FetchRetrySleepDelay = 50 * time.Millisecond

// ErrNotInitialized is returned by AwaitOpen when a provider has no
// entry at all (InitEncryptedTunnels was never called for it).
var ErrNotInitialized = errors.New("session: provider not initialized")

// State is one of the three positions in the per-provider state
// machine.
type State int

const (
	// StateConnecting means a handshake is in flight.
	StateConnecting State = iota
	// StateOpen means the session is ready to carry traffic.
	StateOpen
	// StateErrored means the handshake failed; terminal until a new
	// rotation replaces the entry.
	StateErrored
)

// Open is the shared, read-only session handle produced by a
// successful handshake: the keyed nTor client, auth tokens, and the
// forward proxy URL traffic for this provider should be sent to.
type Open struct {
	Keys            tunnel.SessionKeys
	ForwardProxyURL string
}

// Entry is a provider's current lifecycle position: a value of exactly
// one of the three states below at any instant.
type Entry struct {
	State State
	Open  *Open
	Err   error
}

// Provider names one service origin to initialize a tunnel for.
type Provider struct {
	URL string
}

// Registry is the process-global, cooperatively single-threaded map
// from provider base URL to its Entry. Every mutator takes the mutex
// only across the map operation itself; no mutation is ever held across
// a network call or a sleep.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry

	// await coalesces concurrent AwaitOpen callers for the same base
	// URL into a single poll loop, the idiomatic Go way to express
	// "readers share a refcounted snapshot" without a bespoke
	// broadcast mechanism.
	await singleflight.Group

	logger zerolog.Logger

	// metrics is optional; a nil value (the zero Registry) disables
	// instrumentation so tests don't need to construct a collector set.
	metrics *metrics.Metrics
}

// NewRegistry constructs an empty Registry that logs through logger;
// CONNECTING transitions are logged at Debug, so they appear only when
// logger's level admits Debug.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		logger:  logger,
	}
}

// SetMetrics attaches a collector set; call it once after construction,
// before traffic starts, if metrics are wanted.
func (r *Registry) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
}

// MarkConnecting inserts a CONNECTING entry for base, overwriting
// whatever was there before — this is the entry point of a new epoch,
// including during rotation.
func (r *Registry) MarkConnecting(base string) {
	r.mu.Lock()
	prev := r.entries[base]
	r.entries[base] = &Entry{State: StateConnecting}
	r.mu.Unlock()
	r.logger.Debug().Str("provider", base).Msg("session connecting")
	if r.metrics != nil && prev != nil && prev.State == StateOpen {
		r.metrics.SessionsOpen.Dec()
	}
}

// MarkOpen transitions base's entry to OPEN.
func (r *Registry) MarkOpen(base string, open *Open) {
	r.mu.Lock()
	r.entries[base] = &Entry{State: StateOpen, Open: open}
	r.mu.Unlock()
	r.logger.Info().Str("provider", base).Msg("session open")
	if r.metrics != nil {
		r.metrics.SessionsOpen.Inc()
	}
}

// MarkErrored transitions base's entry to ERRORED, terminal for
// existing callers until a later rotation replaces it.
func (r *Registry) MarkErrored(base string, err error) {
	r.mu.Lock()
	prev := r.entries[base]
	r.entries[base] = &Entry{State: StateErrored, Err: err}
	r.mu.Unlock()
	r.logger.Error().Str("provider", base).Err(err).Msg("session errored")
	if r.metrics != nil {
		r.metrics.SessionsErroredTotal.Inc()
		if prev != nil && prev.State == StateOpen {
			r.metrics.SessionsOpen.Dec()
		}
	}
}

// Get returns a snapshot of base's current entry, or false if no entry
// exists.
func (r *Registry) Get(base string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[base]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// AwaitOpen polls base's entry, sleeping FetchRetrySleepDelay between
// checks while it is CONNECTING, and returns the OPEN snapshot as soon
// as one is available. It returns ErrNotInitialized if no entry exists,
// or the stored error if the entry is ERRORED.
func (r *Registry) AwaitOpen(ctx context.Context, base string) (*Open, error) {
	v, err, _ := r.await.Do(base, func() (interface{}, error) {
		for {
			e, ok := r.Get(base)
			if !ok {
				return nil, ErrNotInitialized
			}
			switch e.State {
			case StateOpen:
				return e.Open, nil
			case StateErrored:
				return nil, e.Err
			}

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(FetchRetrySleepDelay):
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return v.(*Open), nil
}

// InitEncryptedTunnels marks every provider CONNECTING and spawns one
// background handshake per provider; it does not wait for any of them
// to complete. Each handshake transitions its provider to OPEN or
// ERRORED independently, so failures on one provider never affect
// another's fan-out.
func (r *Registry) InitEncryptedTunnels(ctx context.Context, forwardProxyURL string, providers []Provider, t transport.Transport, newClient ntorcrypto.Factory) {
	for _, p := range providers {
		base, err := BaseURL(p.URL)
		if err != nil {
			r.logger.Error().Err(err).Str("provider_url", p.URL).Msg("invalid provider url, skipping")
			continue
		}
		r.MarkConnecting(base)

		// Each provider gets its own single-task errgroup, never waited
		// on here by design: callers observe completion through the
		// registry, not through this call. A panic in the handshake
		// goroutine is recovered and surfaced as an ERRORED entry
		// instead of crashing the process.
		eg, egCtx := errgroup.WithContext(ctx)
		base := base
		if r.metrics != nil {
			r.metrics.TunnelInitAttemptsTotal.Inc()
		}
		eg.Go(func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					err = fmt.Errorf("session: tunnel initialization panicked: %v", p)
					r.MarkErrored(base, err)
				}
			}()
			keys, err := tunnel.Initialize(egCtx, fmt.Sprintf("%s/init-tunnel?backend_url=%s", forwardProxyURL, base), t, newClient, r.logger)
			if err != nil {
				r.MarkErrored(base, err)
				return err
			}
			r.MarkOpen(base, &Open{Keys: keys, ForwardProxyURL: forwardProxyURL})
			return nil
		})
	}
}
