// Package obfs implements the Sosistab3 obfuscation layer referenced by a
// route Descriptor: a cookie-keyed keystream cipher wrapped around a lower
// net.Conn, letting the Sosistab3 descriptor case compile and dial
// end-to-end without an external sosistab3 implementation.
//
// A dialed Sosistab3 connection also exposes the pre-shared secret a
// challenge-response handshake over this pipe authenticates against.
package obfs

import (
	"crypto/cipher"
	"net"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20"
)

// Cookie parameterizes a Sosistab3 layer, as in the route descriptor.
type Cookie []byte

func keyedHash(key, data []byte) []byte {
	h, err := blake3.NewKeyed(key)
	if err != nil {
		// NewKeyed only fails for a wrong-length key; our keys are always
		// the fixed 32-byte blake3 output below.
		panic(err)
	}
	h.Write(data) // nolint: errcheck
	return h.Sum(nil)
}

// derive turns cookie + a purpose label into a 32-byte key, keyed-hashing
// the label under a cookie-derived key so distinct purposes never collide.
func derive(cookie Cookie, label string) [32]byte {
	base := blake3.Sum256(cookie)
	var out [32]byte
	copy(out[:], keyedHash(base[:], []byte(label)))
	return out
}

// SharedSecret returns the pre-established secret this cookie implies, the
// value a SharedSecretChallenge handshake over this pipe authenticates
// against.
func SharedSecret(cookie Cookie) [32]byte {
	return derive(cookie, "geph5-sosistab3-shared-secret")
}

// Conn wraps a lower net.Conn with a symmetric keystream cipher keyed from
// the Sosistab3 cookie, and reports the cookie's shared secret to the
// handshake engine.
type Conn struct {
	net.Conn
	cookie Cookie
	enc    cipher.Stream
	dec    cipher.Stream
}

// Wrap constructs the obfuscated Conn over lower using cookie.
func Wrap(lower net.Conn, cookie Cookie) (*Conn, error) {
	writeKey := derive(cookie, "geph5-sosistab3-c2b")
	readKey := derive(cookie, "geph5-sosistab3-b2c")
	var nonce [chacha20.NonceSize]byte
	enc, err := chacha20.NewUnauthenticatedCipher(writeKey[:], nonce[:])
	if err != nil {
		return nil, err
	}
	dec, err := chacha20.NewUnauthenticatedCipher(readKey[:], nonce[:])
	if err != nil {
		return nil, err
	}
	return &Conn{Conn: lower, cookie: cookie, enc: enc, dec: dec}, nil
}

// SharedSecret implements the duck-typed interface the handshake engine
// probes for (see internal/handshake.sharedSecretSource).
func (c *Conn) SharedSecret() ([]byte, bool) {
	s := SharedSecret(c.cookie)
	return s[:], true
}

func (c *Conn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if n > 0 {
		c.dec.XORKeyStream(b[:n], b[:n])
	}
	return n, err
}

func (c *Conn) Write(b []byte) (int, error) {
	obscured := make([]byte, len(b))
	c.enc.XORKeyStream(obscured, b)
	return c.Conn.Write(obscured)
}

// SetDeadline/SetReadDeadline/SetWriteDeadline/Close/LocalAddr/RemoteAddr
// are inherited from the embedded net.Conn.
var _ net.Conn = (*Conn)(nil)
