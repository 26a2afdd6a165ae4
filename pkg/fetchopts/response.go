// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package fetchopts

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/go-core-stack/l8-tunnel-proxy/pkg/wire"
)

// Reconstruct turns a decrypted L8Response envelope back into an
// ordinary *http.Response, so the Public Fetch Entry Point can hand
// callers something that behaves exactly like one returned by
// net/http's own transport.
func Reconstruct(req *http.Request, resp *wire.L8Response) (*http.Response, error) {
	if resp == nil {
		return nil, fmt.Errorf("fetchopts: nil response envelope")
	}

	header := http.Header{}
	for k, v := range resp.Headers {
		header.Set(k, fmt.Sprintf("%v", v))
	}

	statusText := resp.StatusText
	if statusText == "" {
		statusText = http.StatusText(resp.Status)
	}

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", resp.Status, statusText),
		StatusCode:    resp.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(resp.Body)),
		ContentLength: int64(len(resp.Body)),
		Request:       req,
	}, nil
}
