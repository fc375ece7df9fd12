package exitdir

import (
	"crypto/ed25519"
	"errors"

	"github.com/zeebo/blake3"
)

// Encodable is any value this package can sign: something with a
// deterministic byte encoding.
type Encodable interface {
	Encode() []byte
}

// Signed pairs a value with a detached Ed25519 signature over
// (domain-separator || value.Encode()), plus the signer's public key: a
// verifier that does not already know which key to expect (the broker's,
// on first contact) can still check the signature is internally consistent
// and decide via accept whether to trust that specific key.
type Signed[T Encodable] struct {
	Value     T
	Domain    string
	Signature []byte
	PubKey    ed25519.PublicKey
}

// Sign produces a Signed envelope for value under secret, domain-separated
// by domain.
func Sign[T Encodable](value T, domain string, secret ed25519.PrivateKey) Signed[T] {
	msg := append([]byte(domain), value.Encode()...)
	return Signed[T]{
		Value:     value,
		Domain:    domain,
		Signature: ed25519.Sign(secret, msg),
		PubKey:    secret.Public().(ed25519.PublicKey),
	}
}

// ErrVerifyPinMismatch is returned when accept rejects the envelope's
// signer (e.g. because it doesn't match a configured pinned key).
var ErrVerifyPinMismatch = errors.New("exitdir: signer not accepted")

// ErrBadSignature is returned when the signature does not verify.
var ErrBadSignature = errors.New("exitdir: signature verification failed")

// Verify checks s.Signature against pub and calls accept(pub) to decide
// whether that specific signer is trusted (TOFU: accept may unconditionally
// return true when no key is pinned).
func (s Signed[T]) Verify(pub ed25519.PublicKey, accept func(ed25519.PublicKey) bool) error {
	msg := append([]byte(s.Domain), s.Value.Encode()...)
	if !ed25519.Verify(pub, msg, s.Signature) {
		return ErrBadSignature
	}
	if accept != nil && !accept(pub) {
		return ErrVerifyPinMismatch
	}
	return nil
}

// VerifySelf checks s.Signature against its own embedded PubKey, then asks
// accept whether that key is trusted. Use this when the verifier has no
// independent source for the expected key (accept may pin a previously
// seen key, or unconditionally trust on first use).
func (s Signed[T]) VerifySelf(accept func(ed25519.PublicKey) bool) error {
	return s.Verify(s.PubKey, accept)
}

// Mac augments a Signed envelope with a keyed hash tying it to a specific
// recipient (the broker), using a shared auth token as the MAC key.
type Mac[T Encodable] struct {
	Inner Signed[T]
	Tag   []byte
}

// NewMac computes the MAC over inner's encoded value followed by its
// signature bytes, keyed by macKey (the hashed auth token).
func NewMac[T Encodable](inner Signed[T], macKey []byte) (Mac[T], error) {
	h, err := blake3.NewKeyed(macKey)
	if err != nil {
		return Mac[T]{}, err
	}
	h.Write(inner.Value.Encode())  // nolint: errcheck
	h.Write(inner.Signature)       // nolint: errcheck
	return Mac[T]{Inner: inner, Tag: h.Sum(nil)}, nil
}

// Verify checks m.Tag against macKey.
func (m Mac[T]) Verify(macKey []byte) error {
	h, err := blake3.NewKeyed(macKey)
	if err != nil {
		return err
	}
	h.Write(m.Inner.Value.Encode()) // nolint: errcheck
	h.Write(m.Inner.Signature)      // nolint: errcheck
	want := h.Sum(nil)
	if !constantTimeEqual(want, m.Tag) {
		return errors.New("exitdir: MAC verification failed")
	}
	return nil
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

// AuthTokenMacKey derives the MAC key a registration loop uses from the
// shared auth token by hashing it with blake3.
func AuthTokenMacKey(authToken string) []byte {
	sum := blake3.Sum256([]byte(authToken))
	return sum[:]
}
