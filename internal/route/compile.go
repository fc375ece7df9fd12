package route

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/yuntianx454/geph5/internal/failurecache"
	"github.com/yuntianx454/geph5/internal/obfs"
	"github.com/yuntianx454/geph5/internal/vpnhook"
)

// Compile translates a Descriptor tree into a single Dialer, one-to-one
// with descriptor variants. fc supplies the late-bound
// per-dial delay for Tcp leaves: the delay is computed at dial time (via
// the closure captured here), not at compile time, so strikes accrued
// after compilation still influence subsequent dials.
func Compile(d *Descriptor, fc *failurecache.Cache) Dialer {
	switch d.Kind {
	case KindTcp:
		return tcpDialer(d.Addr, fc)
	case KindSosistab3:
		lower := Compile(d.Lower, fc)
		return sosistab3Dialer(obfs.Cookie(d.Cookie), lower)
	case KindRace:
		return reduce(d.Children, fc, race)
	case KindFallback:
		return reduce(d.Children, fc, fallback)
	case KindTimeout:
		lower := Compile(d.Lower, fc)
		return withTimeout(time.Duration(d.Milliseconds)*time.Millisecond, lower)
	case KindDelay:
		lower := Compile(d.Lower, fc)
		return withDelay(time.Duration(d.Milliseconds)*time.Millisecond, lower)
	default: // KindOther, and any future/unrecognized variant
		return failingDialer()
	}
}

func reduce(children []*Descriptor, fc *failurecache.Cache, combine func(a, b Dialer) Dialer) Dialer {
	if len(children) == 0 {
		return failingDialer()
	}
	acc := Compile(children[0], fc)
	for _, c := range children[1:] {
		acc = combine(acc, Compile(c, fc))
	}
	return acc
}

// tcpDialer resolves addr's host once, choosing uniformly at random among
// the resolved addresses, whitelists that chosen address, and dials exactly
// that address — never addr's original hostname. Resolving once and reusing
// the result is essential: if whitelisting and dialing each resolved the
// hostname independently, a multi-A-record host could whitelist one address
// and dial another. The per-dial delay is still derived from fc at dial
// time, late-bound so strikes accrued after compilation still apply.
// If resolution fails, every dial returns that resolution error.
func tcpDialer(addr string, fc *failurecache.Cache) Dialer {
	resolved, err := resolveOne(addr)
	if err != nil {
		return DialerFunc(func(ctx context.Context) (net.Conn, error) {
			return nil, err
		})
	}
	addr = resolved
	whitelistLiteral(addr)
	return DialerFunc(func(ctx context.Context) (net.Conn, error) {
		if d := fc.Penalty(addr); d > 0 {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-t.C:
			}
		}
		var nd net.Dialer
		return nd.DialContext(ctx, "tcp", addr)
	})
}

// lookupIP is net.LookupIP, overridable in tests so resolveOne's random
// choice among several addresses can be exercised without real DNS.
var lookupIP = net.LookupIP

// resolveOne resolves the host half of "host:port" to one literal address,
// selected uniformly at random when the host has multiple A/AAAA records.
// A host that is already a literal IP is returned unchanged.
func resolveOne(addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", err
	}
	if net.ParseIP(host) != nil {
		return addr, nil
	}
	ips, err := lookupIP(host)
	if err != nil {
		return "", err
	}
	if len(ips) == 0 {
		return "", fmt.Errorf("route: %s resolved to no addresses", host)
	}
	chosen := ips[rand.Intn(len(ips))] // nolint: gosec
	return net.JoinHostPort(chosen.String(), port), nil
}

func whitelistLiteral(addr string) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return
	}
	if ip := net.ParseIP(host); ip != nil {
		vpnhook.Whitelist(ip)
	}
}

// sosistab3Dialer dials lower, then wraps the resulting connection with the
// Sosistab3 obfuscation layer keyed by cookie.
func sosistab3Dialer(cookie obfs.Cookie, lower Dialer) Dialer {
	return DialerFunc(func(ctx context.Context) (net.Conn, error) {
		conn, err := lower.Dial(ctx)
		if err != nil {
			return nil, err
		}
		wrapped, err := obfs.Wrap(conn, cookie)
		if err != nil {
			conn.Close() // nolint: errcheck
			return nil, err
		}
		return wrapped, nil
	})
}
