// Package exitdir implements the exit-directory data model: exit
// descriptors, their signed/MAC-authenticated envelopes, and the
// constraint/bridge-mode vocabulary the selector filters on.
package exitdir

import (
	"crypto/ed25519"
	"fmt"
	"math"

	"github.com/yuntianx454/geph5/internal/wire"
)

// DomainExitDescriptor is prefixed into every exit-descriptor signature to
// prevent cross-domain signature reuse.
const DomainExitDescriptor = "geph5-exit-descriptor"

// Descriptor identifies one exit node.
type Descriptor struct {
	C2EListen string // client-facing listen endpoint, "ip:port"
	B2EListen string // bridge-facing listen endpoint, "ip:port"
	Country   string // two-letter country code
	City      string
	Load      float64 // finite, non-negative
	Expiry    int64   // seconds since epoch
}

// Encode produces the canonical byte encoding of d, in the field order
// above; this is what gets signed and what Signed.Verify checks.
func (d Descriptor) Encode() []byte {
	e := wire.NewEncoder()
	e.String(d.C2EListen)
	e.String(d.B2EListen)
	e.String(d.Country)
	e.String(d.City)
	e.Uint64(math.Float64bits(d.Load))
	e.Uint64(uint64(d.Expiry))
	return e.Encode()
}

// DecodeDescriptor parses the encoding produced by Descriptor.Encode.
func DecodeDescriptor(b []byte) (Descriptor, error) {
	d := wire.NewDecoder(b)
	desc := Descriptor{
		C2EListen: d.String(),
		B2EListen: d.String(),
		Country:   d.String(),
		City:      d.String(),
	}
	desc.Load = math.Float64frombits(d.Uint64())
	desc.Expiry = int64(d.Uint64())
	if err := d.Err(); err != nil {
		return Descriptor{}, err
	}
	return desc, nil
}

// LoadMillis converts Load to an integer number of thousandths, giving a
// total, NaN-safe ordering for load comparison: negative or NaN loads sort
// last rather than panicking or comparing inconsistently.
func (d Descriptor) LoadMillis() int64 {
	if math.IsNaN(d.Load) || d.Load < 0 {
		return math.MaxInt64
	}
	return int64(d.Load * 1000)
}

// List is the payload a broker signs and returns from get_exits/
// get_free_exits: every known exit, keyed by its signing public key.
type List struct {
	Exits map[[ed25519.PublicKeySize]byte]Descriptor
}

// Encode produces a canonical, order-independent encoding of l by sorting
// keys first, so two Lists with the same contents in different map
// iteration order always sign identically.
func (l List) Encode() []byte {
	keys := make([][ed25519.PublicKeySize]byte, 0, len(l.Exits))
	for k := range l.Exits {
		keys = append(keys, k)
	}
	sortKeys(keys)

	e := wire.NewEncoder()
	e.Uint32(uint32(len(keys)))
	for _, k := range keys {
		e.Fixed(k[:])
		e.Bytes(l.Exits[k].Encode())
	}
	return e.Encode()
}

func sortKeys(keys [][ed25519.PublicKeySize]byte) {
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && lessKey(keys[j], keys[j-1]); j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
}

func lessKey(a, b [ed25519.PublicKeySize]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// DecodeList parses the encoding produced by List.Encode.
func DecodeList(b []byte) (List, error) {
	d := wire.NewDecoder(b)
	n := d.Uint32()
	l := List{Exits: make(map[[ed25519.PublicKeySize]byte]Descriptor, n)}
	for i := uint32(0); i < n; i++ {
		var key [ed25519.PublicKeySize]byte
		copy(key[:], d.Fixed(ed25519.PublicKeySize))
		descBytes := d.Bytes()
		if d.Err() != nil {
			break
		}
		desc, err := DecodeDescriptor(descBytes)
		if err != nil {
			return List{}, err
		}
		l.Exits[key] = desc
	}
	if err := d.Err(); err != nil {
		return List{}, err
	}
	return l, nil
}

// Constraint narrows which exit the selector may choose.
type Constraint struct {
	Kind ConstraintKind

	Direct   string // "host:port/hexpubkey", ConstraintDirect only
	Hostname string // ConstraintHostname only
	Country  string // ConstraintCountry, ConstraintCountryCity
	City     string // ConstraintCountryCity only
}

// ConstraintKind tags which Constraint variant is populated.
type ConstraintKind uint8

// nolint: golint
const (
	ConstraintAuto ConstraintKind = iota
	ConstraintDirect
	ConstraintHostname
	ConstraintCountry
	ConstraintCountryCity
)

// BridgeMode controls whether the selector races direct vs. bridged
// dialers or forces one exclusively.
type BridgeMode uint8

// nolint: golint
const (
	BridgeAuto BridgeMode = iota
	BridgeForceBridges
	BridgeForceDirect
)

// AccountLevel tags the caller's account tier; this package defines no
// billing/tiering logic, only the tag.
type AccountLevel uint8

// nolint: golint
const (
	AccountFree AccountLevel = iota
	AccountPlus
)

func (d Descriptor) String() string {
	return fmt.Sprintf("exit{c2e=%s b2e=%s %s/%s load=%.3f expiry=%d}",
		d.C2EListen, d.B2EListen, d.Country, d.City, d.Load, d.Expiry)
}
