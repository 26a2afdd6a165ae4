// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	HeaderAPIKey    = "x-api-key-id"
	HeaderSignature = "x-signature"
	HeaderTimestamp = "x-timestamp"
)

// Signer injects HMAC auth headers compatible with the upstream gateway.
type Signer struct {
	Key    string
	Secret string
	Now    func() time.Time
}

// NewSigner constructs a signer with the provided key/secret and sane defaults.
func NewSigner(key, secret string) *Signer {
	return &Signer{
		Key:    key,
		Secret: secret,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// AttachSignature mutates the request by injecting auth headers computed from the method,
// target path, and timestamp.
func (s *Signer) AttachSignature(req *http.Request) error {
	if s.Key == "" || s.Secret == "" {
		return fmt.Errorf("signer key and secret must be set")
	}

	timestamp := s.Now().Format(time.RFC3339)

	payload := strings.Join([]string{
		req.Method,
		req.URL.Path,
		timestamp,
	}, "\n")

	mac := hmac.New(sha256.New, []byte(s.Secret))
	if _, err := mac.Write([]byte(payload)); err != nil {
		return fmt.Errorf("compute signature: %w", err)
	}

	sigBytes := mac.Sum(nil)
	signature := hex.EncodeToString(sigBytes)

	req.Header.Set(HeaderAPIKey, s.Key)
	req.Header.Set(HeaderSignature, signature)
	req.Header.Set(HeaderTimestamp, timestamp)

	return nil
}

// MaxClockSkew is how far a request's x-timestamp header may drift from
// Verify's own clock before the request is rejected as stale or
// forged-ahead.
const MaxClockSkew = 5 * time.Minute

// Verify checks an inbound control-plane request against the same
// key/secret/path/timestamp scheme AttachSignature produces, rejecting
// a missing key-id mismatch, a timestamp outside MaxClockSkew, or a
// signature that does not match in constant time.
func (s *Signer) Verify(req *http.Request) error {
	if s.Key == "" || s.Secret == "" {
		return fmt.Errorf("signer key and secret must be set")
	}

	keyID := req.Header.Get(HeaderAPIKey)
	if keyID != s.Key {
		return fmt.Errorf("unknown api key id")
	}

	timestamp := req.Header.Get(HeaderTimestamp)
	ts, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return fmt.Errorf("invalid %s header: %w", HeaderTimestamp, err)
	}
	if skew := s.Now().Sub(ts); skew > MaxClockSkew || skew < -MaxClockSkew {
		return fmt.Errorf("timestamp outside allowed clock skew of %s", MaxClockSkew)
	}

	payload := strings.Join([]string{
		req.Method,
		req.URL.Path,
		timestamp,
	}, "\n")

	mac := hmac.New(sha256.New, []byte(s.Secret))
	if _, err := mac.Write([]byte(payload)); err != nil {
		return fmt.Errorf("compute signature: %w", err)
	}
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(req.Header.Get(HeaderSignature))
	if err != nil {
		return fmt.Errorf("invalid %s header: %w", HeaderSignature, err)
	}
	if !hmac.Equal(expected, got) {
		return fmt.Errorf("signature mismatch")
	}

	return nil
}
