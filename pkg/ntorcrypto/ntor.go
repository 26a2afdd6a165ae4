// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package ntorcrypto provides the nTor-style authenticated key-exchange
// and AEAD sealing used by the tunnel. The rest of the module treats it
// as an external collaborator consumed only through the Client
// interface (per the module's out-of-scope list, the construction
// itself is not the subject under test elsewhere) — this file supplies
// a concrete, working implementation so the tunnel has something real
// to exchange keys and seal messages with.
package ntorcrypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const nonceSize = 12

// InitMessage is the client's first handshake message: its ephemeral
// X25519 public key.
type InitMessage struct {
	pub [32]byte
}

// PublicKey returns the raw ephemeral public key bytes.
func (m InitMessage) PublicKey() []byte {
	return m.pub[:]
}

// InitResponse is the server's handshake reply: its own ephemeral
// public key plus the authentication tag the client must verify.
type InitResponse struct {
	EphemeralPublicKey []byte
	TBHash             []byte
}

// Certificate identifies the server's long-lived static key material.
type Certificate struct {
	StaticPublicKey []byte
	ServerID        string
}

// Client is the seam every other package in this module depends on.
// It mirrors the consumed nTor interface: construct, initiate a
// session, verify the server's response, then seal/open messages with
// the derived shared secret.
type Client interface {
	InitiateSession() (InitMessage, error)
	HandleServerResponse(cert Certificate, resp InitResponse) bool
	Encrypt(plaintext []byte) (nonce [nonceSize]byte, ciphertext []byte, err error)
	Decrypt(nonce [nonceSize]byte, ciphertext []byte) ([]byte, error)
}

// Factory constructs a fresh, unkeyed Client for one handshake attempt.
// The tunnel initializer calls this once per initialization; the
// transport-level retries inside one initialization reuse that client
// and its ephemeral key.
type Factory func() Client

// NewClient is the default Factory: it returns an unkeyed Client backed
// by X25519 + ChaCha20-Poly1305.
func NewClient() Client {
	return &client{}
}

type client struct {
	priv         [32]byte
	pub          [32]byte
	sharedSecret []byte
	aead         interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
	}
}

// InitiateSession generates an ephemeral X25519 keypair and returns the
// message carrying its public half.
func (c *client) InitiateSession() (InitMessage, error) {
	if _, err := io.ReadFull(rand.Reader, c.priv[:]); err != nil {
		return InitMessage{}, fmt.Errorf("ntorcrypto: generate ephemeral key: %w", err)
	}
	// clamp per RFC 7748 so the scalar is a valid X25519 private key.
	c.priv[0] &= 248
	c.priv[31] &= 127
	c.priv[31] |= 64

	pub, err := curve25519.X25519(c.priv[:], curve25519.Basepoint)
	if err != nil {
		return InitMessage{}, fmt.Errorf("ntorcrypto: derive public key: %w", err)
	}
	copy(c.pub[:], pub)

	return InitMessage{pub: c.pub}, nil
}

// HandleServerResponse completes the handshake: it derives the shared
// secret from the two ECDH exchanges (ephemeral-ephemeral and
// ephemeral-static), recomputes the server's authentication tag, and
// compares it against the tag the server sent. A mismatch means either
// the server doesn't hold the static private key or the transcript was
// tampered with, and the handshake is rejected.
func (c *client) HandleServerResponse(cert Certificate, resp InitResponse) bool {
	if len(resp.EphemeralPublicKey) != 32 || len(cert.StaticPublicKey) != 32 {
		return false
	}

	ss1, err := curve25519.X25519(c.priv[:], resp.EphemeralPublicKey)
	if err != nil {
		return false
	}
	ss2, err := curve25519.X25519(c.priv[:], cert.StaticPublicKey)
	if err != nil {
		return false
	}

	transcript := transcriptBytes(c.pub[:], resp.EphemeralPublicKey, cert.StaticPublicKey, cert.ServerID)
	expectedTag := authTag(ss1, ss2, transcript)
	if !hmac.Equal(expectedTag, resp.TBHash) {
		return false
	}

	secret, err := deriveSharedSecret(ss1, ss2, transcript)
	if err != nil {
		return false
	}

	aead, err := chacha20poly1305.New(secret)
	if err != nil {
		return false
	}

	c.sharedSecret = secret
	c.aead = aead
	return true
}

// Encrypt seals plaintext with a freshly generated nonce. The nonce is
// never reused for a given key: it is drawn from crypto/rand on every
// call.
func (c *client) Encrypt(plaintext []byte) (nonce [nonceSize]byte, ciphertext []byte, err error) {
	if c.aead == nil {
		return nonce, nil, fmt.Errorf("ntorcrypto: encrypt before handshake completed")
	}
	if _, err = io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nonce, nil, fmt.Errorf("ntorcrypto: generate nonce: %w", err)
	}
	ciphertext = c.aead.Seal(nil, nonce[:], plaintext, nil)
	return nonce, ciphertext, nil
}

// Decrypt opens ciphertext sealed by the peer holding the same shared secret.
func (c *client) Decrypt(nonce [nonceSize]byte, ciphertext []byte) ([]byte, error) {
	if c.aead == nil {
		return nil, fmt.Errorf("ntorcrypto: decrypt before handshake completed")
	}
	plaintext, err := c.aead.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("ntorcrypto: open sealed message: %w", err)
	}
	return plaintext, nil
}

// SharedSecret exposes the derived key for dev-flag diagnostics only;
// callers must not use it to bypass Encrypt/Decrypt.
func (c *client) SharedSecret() []byte {
	return c.sharedSecret
}

func transcriptBytes(clientPub, serverEphemeral, serverStatic []byte, serverID string) []byte {
	t := make([]byte, 0, len(clientPub)+len(serverEphemeral)+len(serverStatic)+len(serverID))
	t = append(t, clientPub...)
	t = append(t, serverEphemeral...)
	t = append(t, serverStatic...)
	t = append(t, []byte(serverID)...)
	return t
}

func authTag(ss1, ss2, transcript []byte) []byte {
	mac := hmac.New(sha256.New, append(append([]byte{}, ss1...), ss2...))
	mac.Write(transcript)
	mac.Write([]byte("l8-ntor-auth"))
	return mac.Sum(nil)
}

func deriveSharedSecret(ss1, ss2, transcript []byte) ([]byte, error) {
	ikm := append(append([]byte{}, ss1...), ss2...)
	r := hkdf.New(sha256.New, ikm, transcript, []byte("l8-ntor-session-key"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("ntorcrypto: derive session key: %w", err)
	}
	return key, nil
}
