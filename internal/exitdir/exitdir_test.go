package exitdir

import (
	"crypto/ed25519"
	"testing"
)

func sampleDescriptor() Descriptor {
	return Descriptor{
		C2EListen: "1.2.3.4:1000",
		B2EListen: "1.2.3.4:2000",
		Country:   "JP",
		City:      "Tokyo",
		Load:      0.42,
		Expiry:    1234567890,
	}
}

func TestDescriptorRoundTrips(t *testing.T) {
	d := sampleDescriptor()
	decoded, err := DecodeDescriptor(d.Encode())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded != d {
		t.Fatalf("round trip mismatch: got %+v want %+v", decoded, d)
	}
}

func TestSignThenVerifySucceeds(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	d := sampleDescriptor()
	signed := Sign(d, DomainExitDescriptor, priv)
	if err := signed.Verify(pub, nil); err != nil {
		t.Fatalf("expected verification to succeed, got %v", err)
	}
}

func TestVerifyFailsOnTamperedPayload(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	d := sampleDescriptor()
	signed := Sign(d, DomainExitDescriptor, priv)
	signed.Value.Load = 999.0 // tamper after signing
	if err := signed.Verify(pub, nil); err == nil {
		t.Fatal("expected verification to fail after tampering")
	}
}

func TestVerifyFailsOnWrongDomainSeparator(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	d := sampleDescriptor()
	signed := Sign(d, DomainExitDescriptor, priv)
	signed.Domain = "some-other-domain"
	if err := signed.Verify(pub, nil); err == nil {
		t.Fatal("expected verification to fail with substituted domain separator")
	}
}

func TestVerifyRespectsPinnedKey(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	otherPub, _, _ := ed25519.GenerateKey(nil)
	d := sampleDescriptor()
	signed := Sign(d, DomainExitDescriptor, priv)

	if err := signed.Verify(pub, func(k ed25519.PublicKey) bool {
		return string(k) == string(pub)
	}); err != nil {
		t.Fatalf("expected pinned key to be accepted: %v", err)
	}

	_ = otherPub
	if err := signed.Verify(pub, func(k ed25519.PublicKey) bool {
		return string(k) == string(otherPub)
	}); err == nil {
		t.Fatal("expected verification to fail against a different pinned key")
	}
}

func TestMacEnvelopeRoundTrips(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	d := sampleDescriptor()
	signed := Sign(d, DomainExitDescriptor, priv)

	macKey := AuthTokenMacKey("shared-auth-token")
	mac, err := NewMac(signed, macKey)
	if err != nil {
		t.Fatalf("NewMac failed: %v", err)
	}
	if err := mac.Verify(macKey); err != nil {
		t.Fatalf("expected MAC to verify: %v", err)
	}
	if err := mac.Verify(AuthTokenMacKey("wrong-token")); err == nil {
		t.Fatal("expected MAC verification to fail under the wrong key")
	}
}

func TestLoadMillisIsTotalAndNaNSafe(t *testing.T) {
	a := Descriptor{Load: 0.5}.LoadMillis()
	b := Descriptor{Load: 0.1}.LoadMillis()
	if !(b < a) {
		t.Fatalf("expected 0.1 load to order before 0.5 load, got %d vs %d", b, a)
	}
	nan := Descriptor{Load: 0.0 / zero()}.LoadMillis()
	if nan <= a {
		t.Fatalf("expected NaN load to sort last, got %d", nan)
	}
}

func zero() float64 { return 0 }

func TestListEncodeIsOrderIndependent(t *testing.T) {
	var k1, k2 [ed25519.PublicKeySize]byte
	k1[0] = 1
	k2[0] = 2

	l1 := List{Exits: map[[ed25519.PublicKeySize]byte]Descriptor{k1: sampleDescriptor(), k2: sampleDescriptor()}}
	l2 := List{Exits: map[[ed25519.PublicKeySize]byte]Descriptor{k2: sampleDescriptor(), k1: sampleDescriptor()}}

	if string(l1.Encode()) != string(l2.Encode()) {
		t.Fatal("expected List.Encode to be independent of map iteration order")
	}
}

func TestListRoundTrips(t *testing.T) {
	var k1 [ed25519.PublicKeySize]byte
	k1[3] = 7
	l := List{Exits: map[[ed25519.PublicKeySize]byte]Descriptor{k1: sampleDescriptor()}}
	decoded, err := DecodeList(l.Encode())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(decoded.Exits) != 1 || decoded.Exits[k1] != sampleDescriptor() {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}
