// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package session

import (
	"fmt"
	"net/url"
	"strings"
)

// BaseURL canonicalizes a resource URL down to scheme+host+optional
// port — no path, query, or fragment — with a lowercase scheme and
// host, and an explicit port only when the source URL carried one.
func BaseURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("session: invalid url %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("session: url %q must be absolute", raw)
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())

	base := fmt.Sprintf("%s://%s", scheme, host)
	if port := u.Port(); port != "" {
		base = fmt.Sprintf("%s:%s", base, port)
	}
	return base, nil
}
