// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package formdata assembles RFC 7578 multipart bodies from a set of
// form fields, either fully in memory or, for large file fields, as a
// finite sequence of chunks so a big upload never has to be buffered
// whole.
package formdata

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
)

// StreamChunkSize is the maximum size of a single chunk yielded by the
// streaming assembler, and the threshold above which a file field
// forces streaming mode.
const StreamChunkSize = 1024 * 1024 // 1 MiB

// Field is one multipart part: either a plain string value or a file
// (blob) with a filename and content type.
type Field struct {
	Name string

	// Value holds the part's content for a string field. IsFile must
	// be false.
	Value string

	// IsFile marks this as a file part; Reader, Filename, and
	// ContentType apply instead of Value.
	IsFile      bool
	Filename    string
	ContentType string
	Reader      io.Reader
	// Size is the file's byte length, used only to decide whether
	// streaming mode is needed. A negative value means unknown, which
	// is treated as large enough to force streaming.
	Size int64
}

// Assemble renders every field into a single in-memory multipart body
// using standard RFC 7578 framing: one
// "--boundary\r\nContent-Disposition: ..." prefix per part, a trailing
// "--boundary--" terminator, and no other parts in between.
func Assemble(boundary string, fields []Field) ([]byte, error) {
	var buf bytes.Buffer
	for _, f := range fields {
		if !f.IsFile {
			writeDispositionPrefix(&buf, boundary, f.Name)
			buf.WriteString("\r\n\r\n")
			buf.WriteString(normalize(f.Value))
			buf.WriteString("\r\n")
			continue
		}

		writeDispositionPrefix(&buf, boundary, f.Name)
		writeFileHeaderTail(&buf, f.Filename, f.ContentType)
		if f.Reader == nil {
			return nil, fmt.Errorf("formdata: file field %q has no reader", f.Name)
		}
		if _, err := io.Copy(&buf, f.Reader); err != nil {
			return nil, fmt.Errorf("formdata: read file field %q: %w", f.Name, err)
		}
		buf.WriteString("\r\n")
	}

	buf.WriteString(fmt.Sprintf("--%s--", boundary))
	return buf.Bytes(), nil
}

// CanStream reports whether any file field is large enough (> 1 MiB,
// known or unknown size) to require the streaming assembler.
func CanStream(fields []Field) bool {
	for _, f := range fields {
		if f.IsFile && (f.Size < 0 || f.Size > StreamChunkSize) {
			return true
		}
	}
	return false
}

// Streamer yields the streaming-mode body as a finite, single-pass
// sequence of chunks: an immediate prefix covering every string field,
// then one or more ≤1 MiB chunks per file
// (interleaving that file's header before its first chunk and the
// boundary terminator after the last file's last chunk).
type Streamer struct {
	boundary string
	files    []Field
	idx      int
	offset   int64
	headerPending bool
}

// NewStreamer splits fields into the immediate prefix bytes (string
// fields plus nothing else — file headers are emitted lazily,
// interleaved with each file's first chunk, matching
// original_source/src/formdata.rs's FormDataStreamer) and a Streamer
// that lazily reads the remaining file fields.
func NewStreamer(boundary string, fields []Field) ([]byte, *Streamer, error) {
	var prefix bytes.Buffer
	var files []Field

	for _, f := range fields {
		if f.IsFile {
			files = append(files, f)
			continue
		}
		writeDispositionPrefix(&prefix, boundary, f.Name)
		prefix.WriteString("\r\n\r\n")
		prefix.WriteString(normalize(f.Value))
		prefix.WriteString("\r\n")
	}

	return prefix.Bytes(), &Streamer{boundary: boundary, files: files, headerPending: true}, nil
}

// Next returns the next chunk (at most StreamChunkSize bytes of file
// content, plus any interleaved header/terminator bytes), or ok=false
// once every file has been fully streamed. The sequence is single-pass:
// calling Next again after ok=false is a programming error.
func (s *Streamer) Next(ctx context.Context) (chunk []byte, ok bool, err error) {
	if s.idx >= len(s.files) {
		return nil, false, nil
	}

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	default:
	}

	f := &s.files[s.idx]
	var buf bytes.Buffer

	if s.headerPending {
		writeDispositionPrefix(&buf, s.boundary, f.Name)
		writeFileHeaderTail(&buf, f.Filename, f.ContentType)
		s.headerPending = false
	}

	limited := io.LimitReader(f.Reader, StreamChunkSize)
	n, copyErr := io.Copy(&buf, limited)
	if copyErr != nil {
		return nil, false, fmt.Errorf("formdata: stream file field %q: %w", f.Name, copyErr)
	}
	s.offset += n

	if n < StreamChunkSize {
		// This file is exhausted: terminate its part and advance.
		buf.WriteString("\r\n")
		s.idx++
		s.offset = 0
		s.headerPending = true

		if s.idx == len(s.files) {
			buf.WriteString(fmt.Sprintf("--%s--", s.boundary))
		}
	}

	return buf.Bytes(), true, nil
}

// writeDispositionPrefix writes the "--boundary\r\nContent-Disposition:
// form-data; name=\"...\"" prefix shared by every part.
func writeDispositionPrefix(buf *bytes.Buffer, boundary, name string) {
	buf.WriteString(fmt.Sprintf("--%s\r\nContent-Disposition: form-data; name=\"%s\"", boundary, escape(normalize(name))))
}

// writeFileHeaderTail writes the rest of a file part's header: the
// optional filename attribute, then the Content-Type line and the
// blank line that ends the header block.
func writeFileHeaderTail(buf *bytes.Buffer, filename, contentType string) {
	if filename != "" {
		buf.WriteString(fmt.Sprintf("; filename=\"%s\"\r\n", escape(filename)))
	} else {
		buf.WriteString("\r\n")
	}
	buf.WriteString(fmt.Sprintf("Content-Type: %s\r\n\r\n", contentType))
}

// normalize collapses CRLF and bare CR into LF.
func normalize(value string) string {
	value = strings.ReplaceAll(value, "\r\n", "\n")
	value = strings.ReplaceAll(value, "\r", "\n")
	return value
}

// escape percent-encodes the three characters that would otherwise
// break the Content-Disposition header's quoted value.
func escape(value string) string {
	value = strings.ReplaceAll(value, "\n", "%0A")
	value = strings.ReplaceAll(value, "\r", "%0D")
	value = strings.ReplaceAll(value, "\"", "%22")
	return value
}
