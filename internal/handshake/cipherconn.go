package handshake

import (
	"net"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20"
)

// deriveKey mirrors blake3's domain-separated key derivation: a distinct
// subkey for context, from shared key material.
func deriveKey(context string, material []byte) [32]byte {
	h := blake3.NewDeriveKey(context)
	h.Write(material) // nolint: errcheck
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// cipherConn wraps a lower net.Conn with independent read/write chacha20
// keystreams, used once an X25519 handshake has produced a shared secret.
type cipherConn struct {
	net.Conn
	readStream  *chacha20.Cipher
	writeStream *chacha20.Cipher
}

func newCipherConn(lower net.Conn, readKey, writeKey [32]byte) (*cipherConn, error) {
	var nonce [chacha20.NonceSize]byte
	readStream, err := chacha20.NewUnauthenticatedCipher(readKey[:], nonce[:])
	if err != nil {
		return nil, err
	}
	writeStream, err := chacha20.NewUnauthenticatedCipher(writeKey[:], nonce[:])
	if err != nil {
		return nil, err
	}
	return &cipherConn{Conn: lower, readStream: readStream, writeStream: writeStream}, nil
}

func (c *cipherConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if n > 0 {
		c.readStream.XORKeyStream(b[:n], b[:n])
	}
	return n, err
}

func (c *cipherConn) Write(b []byte) (int, error) {
	obscured := make([]byte, len(b))
	c.writeStream.XORKeyStream(obscured, b)
	return c.Conn.Write(obscured)
}

var _ net.Conn = (*cipherConn)(nil)
