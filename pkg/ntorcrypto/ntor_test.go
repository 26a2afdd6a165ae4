// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package ntorcrypto

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-core-stack/l8-tunnel-proxy/pkg/ntorcrypto/ntortest"
)

func TestHandshakeAndRoundTrip(t *testing.T) {
	server, err := ntortest.NewServer("server-1")
	require.NoError(t, err)

	c := NewClient()
	initMsg, err := c.InitiateSession()
	require.NoError(t, err)
	require.Len(t, initMsg.PublicKey(), 32)

	reply, err := server.Respond(initMsg.PublicKey())
	require.NoError(t, err)

	ok := c.HandleServerResponse(Certificate{
		StaticPublicKey: server.StaticPublicKey(),
		ServerID:        "server-1",
	}, InitResponse{
		EphemeralPublicKey: reply.EphemeralPublicKey,
		TBHash:             reply.TBHash,
	})
	require.True(t, ok, "handshake should be accepted")

	plaintext := []byte(`{"hello":"world"}`)
	nonce, ciphertext, err := c.Encrypt(plaintext)
	require.NoError(t, err)

	opened, err := reply.AEAD.Open(nonce, ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)

	serverNonce, serverCiphertext, err := reply.AEAD.Seal([]byte("reply payload"))
	require.NoError(t, err)

	clientOpened, err := c.Decrypt(serverNonce, serverCiphertext)
	require.NoError(t, err)
	require.Equal(t, "reply payload", string(clientOpened))
}

func TestHandshakeRejectsWrongServerID(t *testing.T) {
	server, err := ntortest.NewServer("server-1")
	require.NoError(t, err)

	c := NewClient()
	initMsg, err := c.InitiateSession()
	require.NoError(t, err)

	reply, err := server.Respond(initMsg.PublicKey())
	require.NoError(t, err)

	ok := c.HandleServerResponse(Certificate{
		StaticPublicKey: server.StaticPublicKey(),
		ServerID:        "wrong-id",
	}, InitResponse{
		EphemeralPublicKey: reply.EphemeralPublicKey,
		TBHash:             reply.TBHash,
	})
	require.False(t, ok, "handshake must reject a transcript mismatch")
}

func TestEncryptBeforeHandshakeFails(t *testing.T) {
	c := NewClient()
	_, _, err := c.Encrypt([]byte("too early"))
	require.Error(t, err)
}
