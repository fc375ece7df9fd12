// Package registration implements the exit side's periodic broker
// check-in: publish a signed, MAC-authenticated descriptor of this exit
// every 60 seconds so the directory stays fresh.
package registration

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net"
	"time"

	"github.com/yuntianx454/geph5/internal/broker"
	"github.com/yuntianx454/geph5/internal/exitdir"
)

// Interval is how often a running Run republishes its descriptor.
const Interval = 60 * time.Second

// descriptorTTL is how far past "now" an uploaded descriptor's expiry is
// set: long enough to outlive a missed check-in or two, short enough that
// a dead exit drops out of the directory promptly.
const descriptorTTL = 600 * time.Second

// Config describes the exit whose descriptor Run maintains.
type Config struct {
	C2EListen string // "ip:port"; ip is overwritten with the discovered public IP
	B2EListen string
	Country   string
	City      string
	AuthToken string
}

// Now abstracts time.Now for tests; nil means use the real clock.
type Now func() time.Time

// SignFunc signs a message with the exit's long-term identity key, the
// same shape as ed25519.PrivateKey.Sign's relevant portion.
type SignFunc func(message []byte) []byte

// Run publishes an initial descriptor for cfg immediately, then republishes
// every Interval, until ctx is cancelled. publicIP is substituted as the IP
// half of both listen addresses. loadFn reports current load at publish
// time. now lets tests fix the clock; pass nil to use time.Now.
func Run(ctx context.Context, cfg Config, publicIP net.IP, sign SignFunc, pub ed25519.PublicKey, bk broker.Client, loadFn func() float64, now Now) error {
	if now == nil {
		now = time.Now
	}
	macKey := exitdir.AuthTokenMacKey(cfg.AuthToken)

	publish := func() error {
		c2e, err := withIP(cfg.C2EListen, publicIP)
		if err != nil {
			return err
		}
		b2e, err := withIP(cfg.B2EListen, publicIP)
		if err != nil {
			return err
		}
		desc := exitdir.Descriptor{
			C2EListen: c2e,
			B2EListen: b2e,
			Country:   cfg.Country,
			City:      cfg.City,
			Load:      loadFn(),
			Expiry:    now().Add(descriptorTTL).Unix(),
		}
		signed := signWith(desc, sign, pub)
		mac, err := exitdir.NewMac(signed, macKey)
		if err != nil {
			return fmt.Errorf("registration: could not MAC descriptor: %w", err)
		}
		return bk.PutExit(ctx, mac)
	}

	if err := publish(); err != nil {
		return err
	}

	ticker := time.NewTicker(Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := publish(); err != nil {
				return err
			}
		}
	}
}

func signWith(desc exitdir.Descriptor, sign SignFunc, pub ed25519.PublicKey) exitdir.Signed[exitdir.Descriptor] {
	msg := append([]byte(exitdir.DomainExitDescriptor), desc.Encode()...)
	return exitdir.Signed[exitdir.Descriptor]{
		Value:     desc,
		Domain:    exitdir.DomainExitDescriptor,
		Signature: sign(msg),
		PubKey:    pub,
	}
}

func withIP(listen string, ip net.IP) (string, error) {
	_, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "", fmt.Errorf("registration: %q is not a host:port address: %w", listen, err)
	}
	return net.JoinHostPort(ip.String(), port), nil
}
