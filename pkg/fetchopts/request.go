// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package fetchopts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/go-core-stack/l8-tunnel-proxy/pkg/formdata"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/wire"
)

// NormalizedRequest is the result of Normalize: the wire envelope ready
// for sealing, plus the subset of Options that are hints rather than
// wire fields (mode, credentials, cache, ...) for callers that need
// them after normalization (e.g. to decide how to treat the response).
type NormalizedRequest struct {
	Wire *wire.L8Request

	// AbsoluteURL is the resource's full scheme+host+path+query URL.
	// Wire.URI only ever carries path+query, so callers that need the
	// backend's origin (session lookup, reconstructing a synthetic
	// *http.Request) read it from here instead.
	AbsoluteURL string

	Options *Options
}

// Normalize turns a resource (string, *url.URL, or *http.Request) plus
// an optional Options bag into the wire request the tunnel seals and
// sends. A nil opts produces the documented defaults: method GET,
// empty body, empty headers.
//
// Explicit Options fields always win over whatever the resource
// carries; a resource's own method/headers/body only fill in what
// Options left unset, mirroring how the host fetch API treats a
// Request object passed alongside an init bag. ctx bounds draining a
// streaming form-data upload and is otherwise unused.
func Normalize(ctx context.Context, resource interface{}, opts *Options) (*NormalizedRequest, error) {
	norm := applyDefaults(opts)

	uri, resourceMethod, resourceHeaders, resourceBody, err := resolveResource(resource)
	if err != nil {
		return nil, err
	}

	if norm.Method == "" {
		norm.Method = resourceMethod
	}
	if norm.Method == "" {
		norm.Method = http.MethodGet
	}

	headers := http.Header{}
	for k, v := range resourceHeaders {
		headers[k] = v
	}
	for k, v := range norm.Headers {
		headers[k] = v
	}
	norm.Headers = headers

	if norm.Body.kind == BodyNone && resourceBody != nil {
		norm.Body = StreamBody(resourceBody)
	}

	finalURI, bodyBytes, err := materializeBody(ctx, uri, &norm.Body, norm.Headers)
	if err != nil {
		return nil, err
	}

	wireURI, err := requestURI(finalURI)
	if err != nil {
		return nil, fmt.Errorf("fetchopts: parse request url %q: %w", finalURI, err)
	}

	return &NormalizedRequest{
		Wire: &wire.L8Request{
			URI:     wireURI,
			Method:  norm.Method,
			Headers: headersToWire(norm.Headers),
			Body:    bodyBytes,
		},
		AbsoluteURL: finalURI,
		Options:     norm,
	}, nil
}

// requestURI reduces an absolute resource URL down to the wire
// envelope's canonical form, path+query only; scheme and host travel
// separately as the provider's base URL.
func requestURI(absolute string) (string, error) {
	u, err := url.Parse(absolute)
	if err != nil {
		return "", err
	}
	return u.RequestURI(), nil
}

// resolveResource extracts a URI string and whatever method/headers/body
// the resource itself carries, per the three accepted resource shapes.
func resolveResource(resource interface{}) (uri, method string, headers http.Header, body io.Reader, err error) {
	switch r := resource.(type) {
	case string:
		return r, "", nil, nil, nil
	case *url.URL:
		if r == nil {
			return "", "", nil, nil, fmt.Errorf("fetchopts: nil *url.URL resource")
		}
		return r.String(), "", nil, nil, nil
	case *http.Request:
		if r == nil {
			return "", "", nil, nil, fmt.Errorf("fetchopts: nil *http.Request resource")
		}
		u := ""
		if r.URL != nil {
			u = r.URL.String()
		}
		return u, r.Method, r.Header, r.Body, nil
	default:
		return "", "", nil, nil, fmt.Errorf("fetchopts: unsupported resource type %T", resource)
	}
}

// materializeBody dispatches on the body's kind, returning the final
// request URI (rewritten to carry a query string for BodyParams) and
// the fully drained body bytes to embed in the wire envelope. It also
// sets Content-Type on headers when the body kind implies one and the
// caller did not already set it.
func materializeBody(ctx context.Context, uri string, body *Body, headers http.Header) (string, []byte, error) {
	switch body.kind {
	case BodyNone:
		return uri, nil, nil

	case BodyBytes:
		return uri, body.bytes, nil

	case BodyStream:
		if body.stream == nil {
			return uri, nil, nil
		}
		b, err := io.ReadAll(body.stream)
		if err != nil {
			return uri, nil, fmt.Errorf("fetchopts: read stream body: %w", err)
		}
		return uri, b, nil

	case BodyParams:
		return appendQuery(uri, body.params), nil, nil

	case BodyFormData:
		var fields []formdata.Field
		if body.form != nil {
			fields = body.form.Fields
		}
		boundary := uuid.NewString()
		assembled, err := assembleFormData(ctx, boundary, fields)
		if err != nil {
			return uri, nil, err
		}
		if headers.Get("Content-Type") == "" {
			headers.Set("Content-Type", "multipart/form-data; boundary="+boundary)
		}
		return uri, assembled, nil

	case BodyFile:
		// A File/Blob body carries no multipart framing to chunk, so it
		// is always drained whole — there is no streaming counterpart
		// for it the way there is for a large BodyFormData file field.
		if body.file.reader == nil {
			return uri, nil, nil
		}
		b, err := io.ReadAll(body.file.reader)
		if err != nil {
			return uri, nil, fmt.Errorf("fetchopts: read file body: %w", err)
		}
		if headers.Get("Content-Type") == "" && body.file.contentType != "" {
			headers.Set("Content-Type", body.file.contentType)
		}
		return uri, b, nil

	default:
		return uri, nil, fmt.Errorf("fetchopts: unknown body kind %d", body.kind)
	}
}

// assembleFormData picks the in-memory or streaming assembler per
// pkg/formdata's own 1 MiB-per-file threshold, so a large upload is
// actually produced chunk by chunk instead of held whole by Assemble.
// The wire envelope still ends up as a single byte slice either way —
// the tunnel seals one ciphertext per request — so streaming here
// bounds peak memory while assembling, not what crosses the wire.
func assembleFormData(ctx context.Context, boundary string, fields []formdata.Field) ([]byte, error) {
	if !formdata.CanStream(fields) {
		assembled, err := formdata.Assemble(boundary, fields)
		if err != nil {
			return nil, fmt.Errorf("fetchopts: assemble form data: %w", err)
		}
		return assembled, nil
	}

	prefix, streamer, err := formdata.NewStreamer(boundary, fields)
	if err != nil {
		return nil, fmt.Errorf("fetchopts: start streaming form data: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(prefix)
	for {
		chunk, ok, err := streamer.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetchopts: stream form data: %w", err)
		}
		if !ok {
			break
		}
		buf.Write(chunk)
	}
	return buf.Bytes(), nil
}

// appendQuery merges params into uri's query string, preserving
// whatever query the caller already had.
func appendQuery(uri string, params url.Values) string {
	if len(params) == 0 {
		return uri
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	q := parsed.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	parsed.RawQuery = q.Encode()
	return parsed.String()
}

// headersToWire collapses an http.Header into the plain
// map[string]interface{} the wire envelope carries, joining repeated
// values with a comma exactly as net/http would for an outbound
// request line.
func headersToWire(h http.Header) map[string]interface{} {
	out := make(map[string]interface{}, len(h))
	for k, v := range h {
		if len(v) == 1 {
			out[k] = v[0]
			continue
		}
		joined := ""
		for i, s := range v {
			if i > 0 {
				joined += ", "
			}
			joined += s
		}
		out[k] = joined
	}
	return out
}
