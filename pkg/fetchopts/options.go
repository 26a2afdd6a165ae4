// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package fetchopts

import (
	"context"
	"net/http"
)

// Mode mirrors the host fetch API's request mode.
type Mode int

const (
	// ModeUnspecified is the Options zero value; applyDefaults turns
	// it into ModeCors, the documented default.
	ModeUnspecified Mode = iota
	// ModeSameOrigin disallows cross-origin requests.
	ModeSameOrigin
	// ModeNoCors disables CORS for cross-origin requests.
	ModeNoCors
	// ModeCors is the default for ordinary cross-origin calls.
	ModeCors
	// ModeNavigate is reserved for document navigation.
	ModeNavigate
)

// Options mirrors the caller-facing property table for an outbound
// call, including its documented defaults.
type Options struct {
	Method  string
	Headers http.Header
	Body    Body

	Cache               string
	Credentials         string
	Destination         string
	Integrity           string
	IsHistoryNavigation bool
	KeepAlive           *bool
	Mode                Mode
	Redirect            string
	ReferrerPolicy      string
	Referrer            string

	// Signal is the abort source; if it is non-nil and its context is
	// done by the time a transport error surfaces, the engine reports
	// Aborted with ctx.Err() as the reason instead of the raw
	// transport error.
	Signal context.Context
}

// DefaultOptions returns the options a caller gets when it does not
// supply its own — used when resource is a bare string/URL and no
// options bag was passed: method GET, empty body, empty headers.
func DefaultOptions() *Options {
	return &Options{
		Method:      "GET",
		Headers:     http.Header{},
		Body:        Body{kind: BodyNone},
		Cache:       "default",
		Credentials: "same-origin",
		Mode:        ModeCors,
	}
}

// applyDefaults fills in zero-valued fields the way the documented
// property table defaults them, without clobbering values the caller
// already set on a non-nil Options.
func applyDefaults(o *Options) *Options {
	if o == nil {
		return DefaultOptions()
	}
	out := *o
	if out.Headers == nil {
		out.Headers = http.Header{}
	}
	if out.Cache == "" {
		out.Cache = "default"
	}
	if out.Credentials == "" {
		out.Credentials = "same-origin"
	}
	if out.Redirect == "" {
		out.Redirect = "follow"
	}
	if out.Mode == ModeUnspecified {
		out.Mode = ModeCors
	}
	return &out
}
