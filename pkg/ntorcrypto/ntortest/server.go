// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package ntortest provides a minimal server-side counterpart to
// ntorcrypto.Client for use in tests. The real forward proxy's
// handshake implementation lives outside this module entirely; this
// package exists only so tests can exercise the client against a real
// handshake and a real AEAD session instead of canned bytes.
package ntortest

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

// Server holds a static long-term keypair and can answer one handshake
// per call to Respond, deriving the same shared secret and AEAD session
// a correctly-implemented client will also derive.
type Server struct {
	ID         string
	staticPriv [32]byte
	staticPub  [32]byte
}

// NewServer generates a static keypair for the given server id.
func NewServer(id string) (*Server, error) {
	s := &Server{ID: id}
	if _, err := io.ReadFull(rand.Reader, s.staticPriv[:]); err != nil {
		return nil, err
	}
	s.staticPriv[0] &= 248
	s.staticPriv[31] &= 127
	s.staticPriv[31] |= 64

	pub, err := curve25519.X25519(s.staticPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(s.staticPub[:], pub)
	return s, nil
}

// StaticPublicKey returns the server's long-term public key, as handed
// to clients inside the handshake response.
func (s *Server) StaticPublicKey() []byte {
	return append([]byte{}, s.staticPub[:]...)
}

// HandshakeReply is what a test forward proxy would send back as the
// JSON init-tunnel response body (minus the JWTs, which the test
// supplies separately).
type HandshakeReply struct {
	EphemeralPublicKey []byte
	TBHash             []byte
	AEAD               Sealer
}

// Sealer exposes the server-side session to let tests seal/open
// messages the same way the client will.
type Sealer interface {
	Seal(plaintext []byte) (nonce [12]byte, ciphertext []byte, err error)
	Open(nonce [12]byte, ciphertext []byte) ([]byte, error)
}

// Respond plays the server side of one handshake against a client's
// ephemeral public key, producing a reply the client's
// HandleServerResponse will accept.
func (s *Server) Respond(clientPub []byte) (HandshakeReply, error) {
	var ephPriv [32]byte
	if _, err := io.ReadFull(rand.Reader, ephPriv[:]); err != nil {
		return HandshakeReply{}, err
	}
	ephPriv[0] &= 248
	ephPriv[31] &= 127
	ephPriv[31] |= 64

	ephPub, err := curve25519.X25519(ephPriv[:], curve25519.Basepoint)
	if err != nil {
		return HandshakeReply{}, err
	}

	ss1, err := curve25519.X25519(ephPriv[:], clientPub)
	if err != nil {
		return HandshakeReply{}, err
	}
	ss2, err := curve25519.X25519(s.staticPriv[:], clientPub)
	if err != nil {
		return HandshakeReply{}, err
	}

	transcript := append(append(append([]byte{}, clientPub...), ephPub...), s.staticPub[:]...)
	transcript = append(transcript, []byte(s.ID)...)

	tag := authTag(ss1, ss2, transcript)
	secret, err := deriveSharedSecret(ss1, ss2, transcript)
	if err != nil {
		return HandshakeReply{}, err
	}

	aead, err := chacha20poly1305.New(secret)
	if err != nil {
		return HandshakeReply{}, err
	}

	return HandshakeReply{
		EphemeralPublicKey: ephPub,
		TBHash:             tag,
		AEAD:               &sealer{aead: aead},
	}, nil
}

type sealer struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

func (s *sealer) Seal(plaintext []byte) (nonce [12]byte, ciphertext []byte, err error) {
	if _, err = io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nonce, nil, err
	}
	ciphertext = s.aead.Seal(nil, nonce[:], plaintext, nil)
	return nonce, ciphertext, nil
}

func (s *sealer) Open(nonce [12]byte, ciphertext []byte) ([]byte, error) {
	plaintext, err := s.aead.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("ntortest: open sealed message: %w", err)
	}
	return plaintext, nil
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
		return nil, err
	}
	return key, nil
}
