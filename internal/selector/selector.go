// Package selector implements exit selection: turning an exit constraint
// and an account tier into a concrete, dialable route to one exit, by
// consulting the broker for the exit directory and bridge routes.
package selector

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/yuntianx454/geph5/internal/broker"
	"github.com/yuntianx454/geph5/internal/exitdir"
	"github.com/yuntianx454/geph5/internal/failurecache"
	"github.com/yuntianx454/geph5/internal/route"
)

// ErrNoMatchingExit is returned when the directory has no exit that fits
// the constraint, and no exit at all to fall back to.
var ErrNoMatchingExit = errors.New("selector: no exits available")

// Config parameterizes Select.
type Config struct {
	Constraint   exitdir.Constraint
	BridgeMode   exitdir.BridgeMode
	Level        exitdir.AccountLevel
	ConnToken    string
	ConnTokenSig []byte
	// AcceptBrokerKey decides whether the directory's signer is trusted; a
	// nil value trusts any signer on first use.
	AcceptBrokerKey func(ed25519.PublicKey) bool
}

// Selection is the outcome of Select: the exit's signing key (needed for
// the handshake), its descriptor, and a composed Dialer ready to use.
type Selection struct {
	ExitPub    ed25519.PublicKey
	Descriptor exitdir.Descriptor
	Dialer     route.Dialer
}

// Select resolves cfg into a Selection. For a Direct constraint it never
// touches the broker at all; otherwise it fetches the exit list, filters
// and picks the least-loaded match, fetches bridge routes to that exit,
// and composes a direct+bridge dialer per cfg.BridgeMode.
func Select(ctx context.Context, cfg Config, bk broker.Client, fc *failurecache.Cache) (*Selection, error) {
	if cfg.Constraint.Kind == exitdir.ConstraintDirect {
		return selectDirect(cfg.Constraint.Direct, fc)
	}

	list, err := fetchList(ctx, bk, cfg.Level)
	if err != nil {
		return nil, err
	}
	if err := list.VerifySelf(cfg.AcceptBrokerKey); err != nil {
		return nil, fmt.Errorf("selector: could not verify exit list: %w", err)
	}

	pubkey, desc, err := pickExit(list.Value, cfg.Constraint)
	if err != nil {
		return nil, err
	}

	directDialer := route.Tcp(desc.C2EListen)

	bridgeRoute, err := bk.GetRoutes(ctx, cfg.ConnToken, cfg.ConnTokenSig, desc.B2EListen)
	if err != nil {
		return nil, fmt.Errorf("selector: could not get bridge routes: %w", err)
	}

	var final *route.Descriptor
	switch cfg.BridgeMode {
	case exitdir.BridgeForceDirect:
		final = directDialer
	case exitdir.BridgeForceBridges:
		final = bridgeRoute
	default: // BridgeAuto
		final = route.Race(directDialer, route.Delay(1000, bridgeRoute))
	}

	return &Selection{
		ExitPub:    ed25519.PublicKey(pubkey[:]),
		Descriptor: desc,
		Dialer:     route.Compile(final, fc),
	}, nil
}

func fetchList(ctx context.Context, bk broker.Client, level exitdir.AccountLevel) (exitdir.Signed[exitdir.List], error) {
	if level == exitdir.AccountPlus {
		return bk.GetExits(ctx)
	}
	return bk.GetFreeExits(ctx)
}

// pickExit finds the least-loaded exit matching constraint, falling back to
// the least-loaded exit overall when nothing matches.
func pickExit(list exitdir.List, constraint exitdir.Constraint) ([ed25519.PublicKeySize]byte, exitdir.Descriptor, error) {
	var bestKey [ed25519.PublicKeySize]byte
	var bestDesc exitdir.Descriptor
	var bestLoad int64
	found := false

	for key, desc := range list.Exits {
		if !matches(desc, constraint) {
			continue
		}
		if load := desc.LoadMillis(); !found || load < bestLoad {
			bestKey, bestDesc, bestLoad, found = key, desc, load, true
		}
	}
	if found {
		return bestKey, bestDesc, nil
	}

	// Nothing fit the constraint; fall back to the least-loaded exit
	// overall rather than failing outright.
	for key, desc := range list.Exits {
		if load := desc.LoadMillis(); !found || load < bestLoad {
			bestKey, bestDesc, bestLoad, found = key, desc, load, true
		}
	}
	if !found {
		return bestKey, bestDesc, ErrNoMatchingExit
	}
	return bestKey, bestDesc, nil
}

func matches(desc exitdir.Descriptor, c exitdir.Constraint) bool {
	switch c.Kind {
	case exitdir.ConstraintCountry:
		return desc.Country == c.Country
	case exitdir.ConstraintCountryCity:
		return desc.Country == c.Country && desc.City == c.City
	case exitdir.ConstraintHostname:
		host, _, err := net.SplitHostPort(desc.B2EListen)
		if err != nil {
			host = desc.B2EListen
		}
		return host == c.Hostname
	default: // ConstraintAuto
		return true
	}
}

// selectDirect parses a "host:port/hexpubkey" constraint and builds a
// single direct TCP dialer, bypassing the broker entirely.
func selectDirect(spec string, fc *failurecache.Cache) (*Selection, error) {
	addr, hexKey, ok := strings.Cut(spec, "/")
	if !ok {
		return nil, errors.New("selector: direct constraint missing '/' before public key")
	}
	keyBytes, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("selector: could not decode direct constraint public key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return nil, errors.New("selector: direct constraint public key has the wrong length")
	}

	return &Selection{
		ExitPub:    ed25519.PublicKey(keyBytes),
		Descriptor: exitdir.Descriptor{C2EListen: addr},
		Dialer:     route.Compile(route.Tcp(addr), fc),
	}, nil
}
