package selector

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"testing"

	"github.com/yuntianx454/geph5/internal/broker"
	"github.com/yuntianx454/geph5/internal/exitdir"
	"github.com/yuntianx454/geph5/internal/failurecache"
	"github.com/yuntianx454/geph5/internal/route"
)

func keyOf(b byte) [ed25519.PublicKeySize]byte {
	var k [ed25519.PublicKeySize]byte
	k[0] = b
	return k
}

func signedList(t *testing.T, exits map[[ed25519.PublicKeySize]byte]exitdir.Descriptor) (exitdir.Signed[exitdir.List], ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, _ := ed25519.GenerateKey(nil)
	list := exitdir.List{Exits: exits}
	return exitdir.Sign(list, exitdir.DomainExitDescriptor, priv), pub, priv
}

func trustAny(ed25519.PublicKey) bool { return true }

func TestSelectDirectConstraintBypassesBroker(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(nil)
	fc := failurecache.New()
	sel, err := Select(context.Background(), Config{
		Constraint: exitdir.Constraint{Kind: exitdir.ConstraintDirect, Direct: "1.2.3.4:443/" + hex.EncodeToString(pub)},
	}, broker.NewFake(), fc)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if string(sel.ExitPub) != string(pub) {
		t.Fatal("expected direct constraint's embedded pubkey to be used")
	}
}

func TestSelectCountryFilterNarrowsChoice(t *testing.T) {
	jp := keyOf(1)
	us := keyOf(2)
	list, pub, _ := signedList(t, map[[ed25519.PublicKeySize]byte]exitdir.Descriptor{
		jp: {C2EListen: "1.1.1.1:1", B2EListen: "1.1.1.1:2", Country: "JP", Load: 0.1},
		us: {C2EListen: "2.2.2.2:1", B2EListen: "2.2.2.2:2", Country: "US", Load: 0.0},
	})
	fb := broker.NewFake()
	fb.AllExits = list
	fb.FreeExits = list

	sel, err := Select(context.Background(), Config{
		Constraint:      exitdir.Constraint{Kind: exitdir.ConstraintCountry, Country: "JP"},
		Level:           exitdir.AccountPlus,
		AcceptBrokerKey: trustAny,
	}, fb, failurecache.New())
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if sel.Descriptor.Country != "JP" {
		t.Fatalf("expected JP exit despite lower US load, got %+v", sel.Descriptor)
	}
	_ = pub
}

func TestSelectFallsBackWhenNoExitMatchesConstraint(t *testing.T) {
	us := keyOf(2)
	list, _, _ := signedList(t, map[[ed25519.PublicKeySize]byte]exitdir.Descriptor{
		us: {C2EListen: "2.2.2.2:1", B2EListen: "2.2.2.2:2", Country: "US", Load: 0.0},
	})
	fb := broker.NewFake()
	fb.AllExits = list

	sel, err := Select(context.Background(), Config{
		Constraint:      exitdir.Constraint{Kind: exitdir.ConstraintCountry, Country: "JP"},
		Level:           exitdir.AccountPlus,
		AcceptBrokerKey: trustAny,
	}, fb, failurecache.New())
	if err != nil {
		t.Fatalf("expected fallback to succeed, got %v", err)
	}
	if sel.Descriptor.Country != "US" {
		t.Fatalf("expected fallback to the only available exit, got %+v", sel.Descriptor)
	}
}

func TestSelectRejectsUntrustedBrokerSigner(t *testing.T) {
	list, _, _ := signedList(t, map[[ed25519.PublicKeySize]byte]exitdir.Descriptor{
		keyOf(1): {C2EListen: "1.1.1.1:1", B2EListen: "1.1.1.1:2", Country: "JP"},
	})
	fb := broker.NewFake()
	fb.AllExits = list

	_, err := Select(context.Background(), Config{
		Level: exitdir.AccountPlus,
		AcceptBrokerKey: func(ed25519.PublicKey) bool {
			return false
		},
	}, fb, failurecache.New())
	if err == nil {
		t.Fatal("expected Select to reject an untrusted broker signer")
	}
}

func TestSelectForceBridgesUsesOnlyTheBridgeRoute(t *testing.T) {
	list, _, _ := signedList(t, map[[ed25519.PublicKeySize]byte]exitdir.Descriptor{
		keyOf(1): {C2EListen: "1.1.1.1:1", B2EListen: "1.1.1.1:2", Country: "JP"},
	})
	fb := broker.NewFake()
	fb.AllExits = list
	fb.Routes["1.1.1.1:2"] = route.Tcp("127.0.0.1:9")

	sel, err := Select(context.Background(), Config{
		Level:           exitdir.AccountPlus,
		BridgeMode:      exitdir.BridgeForceBridges,
		AcceptBrokerKey: trustAny,
	}, fb, failurecache.New())
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if sel.Dialer == nil {
		t.Fatal("expected a non-nil dialer")
	}
}
