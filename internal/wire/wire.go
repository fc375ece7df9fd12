// Package wire implements the core's canonical binary encoding and
// length-prefixed framing.
//
// Every signed or hashed value in this module (exit descriptors, hello
// messages, route descriptors) is turned into bytes with the Encoder/Decoder
// pair here rather than encoding/json or encoding/gob: field order is fixed
// by the caller, so the same value always produces the same bytes, which is
// what signing and MAC-ing require. Framing is a hand-rolled 4-byte
// big-endian length prefix, generalized from "one fixed packet shape"
// to "any value this package's callers choose to describe".
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// MaxFrameLen bounds any single length-prefixed frame read from a peer,
// rejecting adversarial declared sizes before allocating for them. 1 MiB
// comfortably covers hello messages and exit lists while remaining small
// enough that a hostile peer cannot force a large allocation per frame.
const MaxFrameLen = 1 << 20

// ErrFrameTooLarge is returned by ReadFramed when a peer's declared length
// exceeds MaxFrameLen.
var ErrFrameTooLarge = errors.New("wire: framed message exceeds maximum length")

// WriteFramed writes b prefixed with its 4-byte big-endian length.
func WriteFramed(w io.Writer, b []byte) error {
	if len(b) > MaxFrameLen {
		return ErrFrameTooLarge
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(b)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// ReadFramed reads one length-prefixed message, rejecting declared lengths
// above MaxFrameLen before allocating a buffer for them.
func ReadFramed(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameLen {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Encoder builds a canonical byte encoding field by field, in the order the
// caller writes them.
type Encoder struct {
	buf bytes.Buffer
}

// NewEncoder returns an empty Encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Bytes appends b as a 4-byte big-endian length prefix followed by b.
func (e *Encoder) Bytes(b []byte) *Encoder {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(b)))
	e.buf.Write(l[:])
	e.buf.Write(b)
	return e
}

// Fixed appends b verbatim, with no length prefix. Use only for
// fixed-width fields (keys, MACs) whose length is implicit from context.
func (e *Encoder) Fixed(b []byte) *Encoder {
	e.buf.Write(b)
	return e
}

// String appends s as a length-prefixed UTF-8 byte string.
func (e *Encoder) String(s string) *Encoder {
	return e.Bytes([]byte(s))
}

// Uint8 appends a single byte.
func (e *Encoder) Uint8(v uint8) *Encoder {
	e.buf.WriteByte(v)
	return e
}

// Uint16 appends v big-endian.
func (e *Encoder) Uint16(v uint16) *Encoder {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	e.buf.Write(b[:])
	return e
}

// Uint32 appends v big-endian.
func (e *Encoder) Uint32(v uint32) *Encoder {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
	return e
}

// Uint64 appends v big-endian.
func (e *Encoder) Uint64(v uint64) *Encoder {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
	return e
}

// Encode returns the accumulated encoding.
func (e *Encoder) Encode() []byte {
	return e.buf.Bytes()
}

// Decoder reads fields back out of a canonical encoding in the same order
// an Encoder wrote them.
type Decoder struct {
	r   *bytes.Reader
	err error
}

// NewDecoder wraps b for sequential field reads.
func NewDecoder(b []byte) *Decoder {
	return &Decoder{r: bytes.NewReader(b)}
}

// Err returns the first error encountered by any Decoder method, if any.
func (d *Decoder) Err() error {
	return d.err
}

func (d *Decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

// Bytes reads back a length-prefixed byte string written by Encoder.Bytes.
func (d *Decoder) Bytes() []byte {
	if d.err != nil {
		return nil
	}
	var l [4]byte
	if _, err := io.ReadFull(d.r, l[:]); err != nil {
		d.fail(err)
		return nil
	}
	n := binary.BigEndian.Uint32(l[:])
	if int64(n) > int64(d.r.Len()) {
		d.fail(errors.New("wire: truncated length-prefixed field"))
		return nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		d.fail(err)
		return nil
	}
	return buf
}

// Fixed reads exactly n raw bytes with no length prefix.
func (d *Decoder) Fixed(n int) []byte {
	if d.err != nil {
		return nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		d.fail(err)
		return nil
	}
	return buf
}

// String reads back a length-prefixed UTF-8 string.
func (d *Decoder) String() string {
	return string(d.Bytes())
}

// Uint8 reads back a single byte.
func (d *Decoder) Uint8() uint8 {
	if d.err != nil {
		return 0
	}
	b, err := d.r.ReadByte()
	if err != nil {
		d.fail(err)
		return 0
	}
	return b
}

// Uint16 reads back a big-endian uint16.
func (d *Decoder) Uint16() uint16 {
	return binary.BigEndian.Uint16(d.Fixed(2))
}

// Uint32 reads back a big-endian uint32.
func (d *Decoder) Uint32() uint32 {
	return binary.BigEndian.Uint32(d.Fixed(4))
}

// Uint64 reads back a big-endian uint64.
func (d *Decoder) Uint64() uint64 {
	return binary.BigEndian.Uint64(d.Fixed(8))
}
