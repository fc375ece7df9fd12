package failurecache

import (
	"testing"
	"time"
)

func TestBumpAccumulatesStrikes(t *testing.T) {
	c := New()
	if p := c.Penalty("9.9.9.9:80"); p != 0 {
		t.Fatalf("expected 0 penalty for unknown addr, got %v", p)
	}
	c.Bump("9.9.9.9:80")
	c.Bump("9.9.9.9:80")
	c.Bump("9.9.9.9:80")
	if p := c.Penalty("9.9.9.9:80"); p != 3*time.Second {
		t.Fatalf("expected 3s penalty after 3 bumps, got %v", p)
	}
}

func TestPenaltyExpiresAfterTTL(t *testing.T) {
	c := New()
	clock := time.Now()
	c.now = func() time.Time { return clock }

	c.Bump("1.2.3.4:1000")
	c.Bump("1.2.3.4:1000")
	if p := c.Penalty("1.2.3.4:1000"); p != 2*time.Second {
		t.Fatalf("expected 2s penalty, got %v", p)
	}

	clock = clock.Add(601 * time.Second)
	if p := c.Penalty("1.2.3.4:1000"); p != 0 {
		t.Fatalf("expected penalty reset to 0 after TTL expiry, got %v", p)
	}
}

func TestBumpAfterExpiryRestartsAtOne(t *testing.T) {
	c := New()
	clock := time.Now()
	c.now = func() time.Time { return clock }

	c.Bump("5.5.5.5:22")
	clock = clock.Add(601 * time.Second)
	c.Bump("5.5.5.5:22")
	if p := c.Penalty("5.5.5.5:22"); p != time.Second {
		t.Fatalf("expected fresh strike count of 1 after expiry, got %v", p)
	}
}
