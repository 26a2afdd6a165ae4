// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package fetchopts models the caller-facing "fetch options" surface —
// the tagged body union, the user-agent hint bag, and the normalizer
// that turns a resource + options into the wire request the tunnel
// sends.
package fetchopts

import (
	"fmt"
	"io"
	"net/url"

	"github.com/go-core-stack/l8-tunnel-proxy/pkg/formdata"
)

// BodyKind discriminates the tagged Body union, the Go expression of
// the dynamically-typed body parameter the host fetch API accepts,
// expressed as a closed set: {Bytes, Stream, Params, FormData, File}.
type BodyKind int

const (
	// BodyNone means the call has no request body.
	BodyNone BodyKind = iota
	// BodyBytes carries a raw byte payload (strings, ArrayBuffers,
	// DataViews all reduce to this).
	BodyBytes
	// BodyStream carries an io.Reader drained to bytes at normalize
	// time.
	BodyStream
	// BodyParams carries URLSearchParams-equivalent key/value pairs,
	// which are serialized into the request URI's query string rather
	// than the body.
	BodyParams
	// BodyFormData carries multipart form fields assembled by
	// pkg/formdata.
	BodyFormData
	// BodyFile carries a single Blob/File-equivalent payload, sent as
	// the raw request body (not wrapped in multipart framing).
	BodyFile
)

// FormField mirrors formdata.Field; kept as a distinct type so callers
// of this package don't need to import pkg/formdata just to build a
// request.
type FormField = formdata.Field

// FormData is an ordered set of fields to be assembled as a multipart
// body.
type FormData struct {
	Fields []FormField
}

// Body is the tagged union described above. Construct one with the
// BytesBody/StringBody/StreamBody/ParamsBody/FormDataBody/FileBody
// helpers rather than setting fields directly.
type Body struct {
	kind   BodyKind
	bytes  []byte
	stream io.Reader
	params url.Values
	form   *FormData
	file   fileBody
}

type fileBody struct {
	filename    string
	contentType string
	reader      io.Reader
}

// BytesBody wraps a raw byte payload.
func BytesBody(b []byte) Body { return Body{kind: BodyBytes, bytes: b} }

// StringBody wraps a UTF-8 string payload.
func StringBody(s string) Body { return Body{kind: BodyBytes, bytes: []byte(s)} }

// StreamBody wraps a reader drained to bytes at normalize time.
func StreamBody(r io.Reader) Body { return Body{kind: BodyStream, stream: r} }

// ParamsBody wraps URLSearchParams-equivalent pairs, serialized into
// the query string rather than the body.
func ParamsBody(v url.Values) Body { return Body{kind: BodyParams, params: v} }

// FormDataBody wraps a multipart form to be assembled with a freshly
// generated boundary.
func FormDataBody(f *FormData) Body { return Body{kind: BodyFormData, form: f} }

// FileBody wraps a single Blob/File-equivalent payload sent as the raw
// request body.
func FileBody(filename, contentType string, r io.Reader) Body {
	return Body{kind: BodyFile, file: fileBody{filename: filename, contentType: contentType, reader: r}}
}

// GenericBody stringifies an arbitrary value, the fallback for any
// object that is neither bytes, a stream, params, nor form data.
func GenericBody(v interface{}) Body {
	return StringBody(fmt.Sprintf("%v", v))
}
