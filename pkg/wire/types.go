// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package wire contains the JSON-serializable values that cross the
// encrypted tunnel: the plaintext L8 request/response envelopes and the
// sealed outer envelope that carries their ciphertext.
package wire

// L8Request is the plaintext request envelope sealed and sent to the
// forward proxy's /proxy endpoint. It is JSON-serializable; the body is
// always bytes by the time it reaches this type.
type L8Request struct {
	URI     string                 `json:"uri"`
	Method  string                 `json:"method"`
	Headers map[string]interface{} `json:"headers"`
	Body    []byte                 `json:"body"`
}

// L8Response is the plaintext response envelope returned inside a sealed
// reply from the forward proxy. Ok/URL/Redirected are accepted for
// round-trip fidelity but are informational only; nothing in this module
// relies on them.
type L8Response struct {
	Status     int                    `json:"status"`
	StatusText string                 `json:"status_text"`
	Headers    map[string]interface{} `json:"headers"`
	Body       []byte                 `json:"body"`
	Ok         bool                   `json:"ok"`
	URL        string                 `json:"url"`
	Redirected bool                   `json:"redirected"`
}

// SealedEnvelope is the outer HTTP body exchanged with the forward
// proxy: a per-message nonce plus the AEAD ciphertext of a JSON-encoded
// L8Request or L8Response.
type SealedEnvelope struct {
	Nonce []byte `json:"nonce"`
	Data  []byte `json:"data"`
}

// InitTunnelRequest is the body of the init-tunnel handshake request.
type InitTunnelRequest struct {
	PublicKey []byte `json:"public_key"`
}

// InitTunnelResponse is the handshake response from the forward proxy.
// Field names are wire-exact and must not be renamed.
type InitTunnelResponse struct {
	EphemeralPublicKey []byte `json:"ephemeral_public_key"`
	TBHash             []byte `json:"t_b_hash"`
	JWT1               string `json:"jwt1"`
	JWT2               string `json:"jwt2"`
	ServerID           string `json:"server_id"`
	PublicKey          []byte `json:"public_key"`
}
