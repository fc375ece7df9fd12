// Package route implements the recursive route-descriptor language and its
// compiler: translating a Descriptor tree into a single composed Dialer.
//
// Since Go has no sum types, each variant becomes a tagged field set on one
// struct: a Kind byte selects which of several optional fields apply, the
// same shape used elsewhere in this module for wire messages.
package route

import "github.com/yuntianx454/geph5/internal/wire"

// Kind tags which variant of Descriptor is populated.
type Kind uint8

// nolint: golint
const (
	KindTcp Kind = iota
	KindSosistab3
	KindRace
	KindFallback
	KindTimeout
	KindDelay
	KindOther
)

// Descriptor is a node in the route-descriptor tree. Only the fields
// relevant to Kind are meaningful; the tree is finite and acyclic by
// construction (it only ever arrives by deserializing a bounded wire
// message).
type Descriptor struct {
	Kind Kind

	Addr string // KindTcp

	Cookie []byte      // KindSosistab3
	Lower  *Descriptor // KindSosistab3, KindTimeout, KindDelay

	Children []*Descriptor // KindRace, KindFallback

	Milliseconds uint32 // KindTimeout, KindDelay

	OtherTag string // KindOther: forward-compatible, unknown variant name
}

// Tcp returns a leaf descriptor dialing addr directly.
func Tcp(addr string) *Descriptor {
	return &Descriptor{Kind: KindTcp, Addr: addr}
}

// Sosistab3 wraps lower with an obfuscating layer parameterized by cookie.
func Sosistab3(cookie []byte, lower *Descriptor) *Descriptor {
	return &Descriptor{Kind: KindSosistab3, Cookie: cookie, Lower: lower}
}

// Race returns a descriptor whose first successfully-dialing child wins.
func Race(children ...*Descriptor) *Descriptor {
	return &Descriptor{Kind: KindRace, Children: children}
}

// Fallback returns a descriptor that tries children in order.
func Fallback(children ...*Descriptor) *Descriptor {
	return &Descriptor{Kind: KindFallback, Children: children}
}

// Timeout fails lower's dial if it does not complete within ms.
func Timeout(ms uint32, lower *Descriptor) *Descriptor {
	return &Descriptor{Kind: KindTimeout, Milliseconds: ms, Lower: lower}
}

// Delay waits ms before starting lower's dial.
func Delay(ms uint32, lower *Descriptor) *Descriptor {
	return &Descriptor{Kind: KindDelay, Milliseconds: ms, Lower: lower}
}

// Other is an unknown/forward-compatible variant; it always fails to dial.
func Other(tag string) *Descriptor {
	return &Descriptor{Kind: KindOther, OtherTag: tag}
}

// Encode produces the canonical byte encoding of d, recursing into
// children in order. Used both for wire transport and as input to any
// signature covering a route descriptor.
func Encode(d *Descriptor) []byte {
	e := wire.NewEncoder()
	encodeInto(e, d)
	return e.Encode()
}

func encodeInto(e *wire.Encoder, d *Descriptor) {
	e.Uint8(uint8(d.Kind))
	switch d.Kind {
	case KindTcp:
		e.String(d.Addr)
	case KindSosistab3:
		e.Bytes(d.Cookie)
		encodeInto(e, d.Lower)
	case KindRace, KindFallback:
		e.Uint32(uint32(len(d.Children)))
		for _, c := range d.Children {
			encodeInto(e, c)
		}
	case KindTimeout, KindDelay:
		e.Uint32(d.Milliseconds)
		encodeInto(e, d.Lower)
	case KindOther:
		e.String(d.OtherTag)
	}
}

// Decode parses the canonical encoding produced by Encode.
func Decode(b []byte) (*Descriptor, error) {
	d := wire.NewDecoder(b)
	desc := decodeFrom(d)
	if err := d.Err(); err != nil {
		return nil, err
	}
	return desc, nil
}

func decodeFrom(d *wire.Decoder) *Descriptor {
	kind := Kind(d.Uint8())
	desc := &Descriptor{Kind: kind}
	switch kind {
	case KindTcp:
		desc.Addr = d.String()
	case KindSosistab3:
		desc.Cookie = d.Bytes()
		desc.Lower = decodeFrom(d)
	case KindRace, KindFallback:
		n := d.Uint32()
		desc.Children = make([]*Descriptor, 0, n)
		for i := uint32(0); i < n; i++ {
			desc.Children = append(desc.Children, decodeFrom(d))
		}
	case KindTimeout, KindDelay:
		desc.Milliseconds = d.Uint32()
		desc.Lower = decodeFrom(d)
	case KindOther:
		desc.OtherTag = d.String()
	}
	return desc
}
