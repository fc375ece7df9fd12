// Package handshake implements the authenticated, length-prefixed hello
// exchange a client and exit run once per connection, before any stream
// multiplexing begins. Two crypto modes are supported: a challenge-response
// over a secret the lower transport already shares (the obfuscation layer's
// pre-established cookie), and a fresh X25519 key agreement when no such
// secret exists. Either way the exit signs its half of the exchange so the
// client can verify it is really talking to the exit it intended to reach.
package handshake

import (
	"crypto/ed25519"
	"errors"

	"github.com/yuntianx454/geph5/internal/wire"
)

// CryptMode tags which crypto variant a hello uses.
type CryptMode uint8

// nolint: golint
const (
	ModeSharedSecretChallenge CryptMode = iota
	ModeX25519
)

// ClientHello is the first message sent on a new connection.
type ClientHello struct {
	Mode         CryptMode
	ChallengeKey [32]byte // ModeSharedSecretChallenge: a random key the client picked
	EphemeralPub [32]byte // ModeX25519: the client's ephemeral X25519 public key
}

// Encode produces ClientHello's canonical byte encoding.
func (h ClientHello) Encode() []byte {
	e := wire.NewEncoder()
	e.Uint8(uint8(h.Mode))
	switch h.Mode {
	case ModeSharedSecretChallenge:
		e.Fixed(h.ChallengeKey[:])
	case ModeX25519:
		e.Fixed(h.EphemeralPub[:])
	}
	return e.Encode()
}

// DecodeClientHello parses the encoding produced by ClientHello.Encode.
func DecodeClientHello(b []byte) (ClientHello, error) {
	d := wire.NewDecoder(b)
	var h ClientHello
	h.Mode = CryptMode(d.Uint8())
	switch h.Mode {
	case ModeSharedSecretChallenge:
		copy(h.ChallengeKey[:], d.Fixed(32))
	case ModeX25519:
		copy(h.EphemeralPub[:], d.Fixed(32))
	default:
		return ClientHello{}, errors.New("handshake: unrecognized ClientHello crypt mode")
	}
	if err := d.Err(); err != nil {
		return ClientHello{}, err
	}
	return h, nil
}

// ExitHelloInner is the exit's reply, echoing the client's chosen mode.
type ExitHelloInner struct {
	Mode         CryptMode
	ResponseMac  [32]byte // ModeSharedSecretChallenge: keyed-hash(ChallengeKey, shared secret)
	EphemeralPub [32]byte // ModeX25519: the exit's ephemeral X25519 public key
}

// Encode produces ExitHelloInner's canonical byte encoding.
func (h ExitHelloInner) Encode() []byte {
	e := wire.NewEncoder()
	e.Uint8(uint8(h.Mode))
	switch h.Mode {
	case ModeSharedSecretChallenge:
		e.Fixed(h.ResponseMac[:])
	case ModeX25519:
		e.Fixed(h.EphemeralPub[:])
	}
	return e.Encode()
}

// DecodeExitHelloInner parses the encoding produced by ExitHelloInner.Encode.
func DecodeExitHelloInner(b []byte) (ExitHelloInner, error) {
	d := wire.NewDecoder(b)
	var h ExitHelloInner
	h.Mode = CryptMode(d.Uint8())
	switch h.Mode {
	case ModeSharedSecretChallenge:
		copy(h.ResponseMac[:], d.Fixed(32))
	case ModeX25519:
		copy(h.EphemeralPub[:], d.Fixed(32))
	default:
		return ExitHelloInner{}, errors.New("handshake: unrecognized ExitHelloInner crypt mode")
	}
	if err := d.Err(); err != nil {
		return ExitHelloInner{}, err
	}
	return h, nil
}

// ExitHello is the full signed reply: inner, plus the exit's signature over
// (client hello || inner).
type ExitHello struct {
	Inner     ExitHelloInner
	Signature []byte
}

// Encode produces ExitHello's canonical byte encoding.
func (h ExitHello) Encode() []byte {
	e := wire.NewEncoder()
	e.Bytes(h.Inner.Encode())
	e.Bytes(h.Signature)
	return e.Encode()
}

// DecodeExitHello parses the encoding produced by ExitHello.Encode.
func DecodeExitHello(b []byte) (ExitHello, error) {
	d := wire.NewDecoder(b)
	innerBytes := d.Bytes()
	sig := d.Bytes()
	if err := d.Err(); err != nil {
		return ExitHello{}, err
	}
	inner, err := DecodeExitHelloInner(innerBytes)
	if err != nil {
		return ExitHello{}, err
	}
	return ExitHello{Inner: inner, Signature: sig}, nil
}

// signedMessage returns the bytes an exit signs and a client verifies: the
// client hello followed by the exit's unsigned inner reply.
func signedMessage(client ClientHello, inner ExitHelloInner) []byte {
	e := wire.NewEncoder()
	e.Bytes(client.Encode())
	e.Bytes(inner.Encode())
	return e.Encode()
}

// verifySignature checks sig against (client, inner) under pub.
func verifySignature(client ClientHello, inner ExitHelloInner, sig []byte, pub ed25519.PublicKey) bool {
	return ed25519.Verify(pub, signedMessage(client, inner), sig)
}
