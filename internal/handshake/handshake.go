package handshake

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"

	"github.com/yuntianx454/geph5/internal/wire"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/curve25519"
)

// ErrSignatureMismatch means the exit's signature over its hello did not
// verify under the expected public key.
var ErrSignatureMismatch = errors.New("handshake: exit hello signature did not verify")

// ErrSignerNotAccepted means the exit's signature verified, but the caller's
// accept callback rejected that specific signer (a pinned-key mismatch).
var ErrSignerNotAccepted = errors.New("handshake: exit signer not accepted")

// ErrChallengeMismatch means the exit's shared-secret challenge response did
// not match the secret this side of the connection observed.
var ErrChallengeMismatch = errors.New("handshake: shared-secret challenge response mismatch")

// sharedSecretSource is implemented by transports (the obfuscation layer)
// that expose a pre-established secret a challenge-response handshake can
// authenticate against.
type sharedSecretSource interface {
	SharedSecret() ([]byte, bool)
}

// ClientSharedSecretChallenge runs the challenge-response handshake over
// conn, which must implement sharedSecretSource (e.g. an obfuscation-layer
// connection). It returns conn unchanged: the obfuscation layer already
// encrypts the stream, so this mode only authenticates the exit, it does
// not add another cipher layer.
func ClientSharedSecretChallenge(conn net.Conn, exitPub ed25519.PublicKey, accept func(ed25519.PublicKey) bool) (net.Conn, error) {
	source, ok := conn.(sharedSecretSource)
	if !ok {
		return nil, errors.New("handshake: connection has no shared secret to challenge")
	}
	realSecret, ok := source.SharedSecret()
	if !ok {
		return nil, errors.New("handshake: connection reports no shared secret")
	}

	var challengeKey [32]byte
	if _, err := rand.Read(challengeKey[:]); err != nil {
		return nil, err
	}
	client := ClientHello{Mode: ModeSharedSecretChallenge, ChallengeKey: challengeKey}
	if err := wire.WriteFramed(conn, client.Encode()); err != nil {
		return nil, err
	}

	replyBytes, err := wire.ReadFramed(conn)
	if err != nil {
		return nil, err
	}
	exitHello, err := DecodeExitHello(replyBytes)
	if err != nil {
		return nil, err
	}
	if !verifySignature(client, exitHello.Inner, exitHello.Signature, exitPub) {
		return nil, ErrSignatureMismatch
	}
	if accept != nil && !accept(exitPub) {
		return nil, ErrSignerNotAccepted
	}
	if exitHello.Inner.Mode != ModeSharedSecretChallenge {
		return nil, errors.New("handshake: exit replied with an unexpected crypt mode")
	}

	want := keyedHash(challengeKey[:], realSecret)
	if !constantTimeEqual(want, exitHello.Inner.ResponseMac[:]) {
		return nil, ErrChallengeMismatch
	}
	return conn, nil
}

// ClientX25519 runs a fresh X25519 key agreement over conn and returns a
// cipher-wrapped connection keyed from the resulting shared secret.
func ClientX25519(conn net.Conn, exitPub ed25519.PublicKey, accept func(ed25519.PublicKey) bool) (net.Conn, error) {
	var mySecret [32]byte
	if _, err := rand.Read(mySecret[:]); err != nil {
		return nil, err
	}
	myPub, err := curve25519.X25519(mySecret[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	client := ClientHello{Mode: ModeX25519}
	copy(client.EphemeralPub[:], myPub)
	if err := wire.WriteFramed(conn, client.Encode()); err != nil {
		return nil, err
	}

	replyBytes, err := wire.ReadFramed(conn)
	if err != nil {
		return nil, err
	}
	exitHello, err := DecodeExitHello(replyBytes)
	if err != nil {
		return nil, err
	}
	if !verifySignature(client, exitHello.Inner, exitHello.Signature, exitPub) {
		return nil, ErrSignatureMismatch
	}
	if accept != nil && !accept(exitPub) {
		return nil, ErrSignerNotAccepted
	}
	if exitHello.Inner.Mode != ModeX25519 {
		return nil, errors.New("handshake: exit replied with an unexpected crypt mode")
	}

	shared, err := curve25519.X25519(mySecret[:], exitHello.Inner.EphemeralPub[:])
	if err != nil {
		return nil, err
	}
	// The exit reads what the client wrote under key "c2e" and writes under
	// "e2c"; the client mirrors that from its own side.
	writeKey := deriveKey("c2e", shared)
	readKey := deriveKey("e2c", shared)
	return newCipherConn(conn, readKey, writeKey)
}

// ExitHandshake reads a ClientHello from conn, replies with a signed
// ExitHello, and returns the connection the rest of the exit should read
// and write on: conn itself for the challenge mode, or a cipher-wrapped
// connection for X25519.
func ExitHandshake(conn net.Conn, signingKey ed25519.PrivateKey) (net.Conn, error) {
	helloBytes, err := wire.ReadFramed(conn)
	if err != nil {
		return nil, err
	}
	client, err := DecodeClientHello(helloBytes)
	if err != nil {
		return nil, err
	}

	switch client.Mode {
	case ModeSharedSecretChallenge:
		source, ok := conn.(sharedSecretSource)
		if !ok {
			return nil, errors.New("handshake: connection has no shared secret to challenge")
		}
		realSecret, ok := source.SharedSecret()
		if !ok {
			return nil, errors.New("handshake: connection reports no shared secret")
		}
		var mac [32]byte
		copy(mac[:], keyedHash(client.ChallengeKey[:], realSecret))
		inner := ExitHelloInner{Mode: ModeSharedSecretChallenge, ResponseMac: mac}
		if err := writeSignedReply(conn, client, inner, signingKey); err != nil {
			return nil, err
		}
		return conn, nil

	case ModeX25519:
		var mySecret [32]byte
		if _, err := rand.Read(mySecret[:]); err != nil {
			return nil, err
		}
		myPub, err := curve25519.X25519(mySecret[:], curve25519.Basepoint)
		if err != nil {
			return nil, err
		}
		var inner ExitHelloInner
		inner.Mode = ModeX25519
		copy(inner.EphemeralPub[:], myPub)
		if err := writeSignedReply(conn, client, inner, signingKey); err != nil {
			return nil, err
		}

		shared, err := curve25519.X25519(mySecret[:], client.EphemeralPub[:])
		if err != nil {
			return nil, err
		}
		readKey := deriveKey("c2e", shared)
		writeKey := deriveKey("e2c", shared)
		return newCipherConn(conn, readKey, writeKey)

	default:
		return nil, errors.New("handshake: unrecognized ClientHello crypt mode")
	}
}

func writeSignedReply(conn net.Conn, client ClientHello, inner ExitHelloInner, signingKey ed25519.PrivateKey) error {
	sig := ed25519.Sign(signingKey, signedMessage(client, inner))
	reply := ExitHello{Inner: inner, Signature: sig}
	return wire.WriteFramed(conn, reply.Encode())
}

func keyedHash(key, data []byte) []byte {
	h, err := blake3.NewKeyed(key)
	if err != nil {
		panic(err)
	}
	h.Write(data) // nolint: errcheck
	return h.Sum(nil)
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
