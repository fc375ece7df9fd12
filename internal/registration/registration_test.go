package registration

import (
	"context"
	"crypto/ed25519"
	"net"
	"testing"
	"time"

	"github.com/yuntianx454/geph5/internal/broker"
	"github.com/yuntianx454/geph5/internal/exitdir"
)

func TestRunPublishesImmediatelyAndSubstitutesPublicIP(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	fb := broker.NewFake()

	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{
		C2EListen: "0.0.0.0:1000",
		B2EListen: "0.0.0.0:2000",
		Country:   "JP",
		City:      "Tokyo",
		AuthToken: "secret",
	}
	sign := func(msg []byte) []byte { return ed25519.Sign(priv, msg) }
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, cfg, net.ParseIP("203.0.113.9"), sign, pub, fb, func() float64 { return 0.3 }, nil)
	}()

	// Give the immediate publish a moment to land, then cancel.
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	if len(fb.Published) != 1 {
		t.Fatalf("expected exactly one immediate publish, got %d", len(fb.Published))
	}
	mac := fb.Published[0]
	macKey := exitdir.AuthTokenMacKey(cfg.AuthToken)
	if err := mac.Verify(macKey); err != nil {
		t.Fatalf("MAC did not verify: %v", err)
	}
	if err := mac.Inner.VerifySelf(func(ed25519.PublicKey) bool { return true }); err != nil {
		t.Fatalf("signature did not verify: %v", err)
	}
	if mac.Inner.Value.C2EListen != "203.0.113.9:1000" {
		t.Fatalf("expected public IP substituted into C2EListen, got %s", mac.Inner.Value.C2EListen)
	}
	if mac.Inner.Value.B2EListen != "203.0.113.9:2000" {
		t.Fatalf("expected public IP substituted into B2EListen, got %s", mac.Inner.Value.B2EListen)
	}
}
