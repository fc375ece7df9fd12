// geph5-client is the client side of the tunnel: it selects an exit,
// establishes an authenticated connection to it, and exposes a local
// SOCKS5 proxy that multiplexes every accepted connection as one stream
// over that tunnel.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/yuntianx454/geph5/internal/broker"
	"github.com/yuntianx454/geph5/internal/exitdir"
	"github.com/yuntianx454/geph5/internal/failurecache"
	"github.com/yuntianx454/geph5/internal/handshake"
	"github.com/yuntianx454/geph5/internal/mux"
	"github.com/yuntianx454/geph5/internal/selector"
	"github.com/yuntianx454/geph5/internal/socks"
	"github.com/yuntianx454/geph5/internal/wire"
	"github.com/yuntianx454/geph5/logger"
)

var (
	version   string
	gitCommit string // set in -ldflags by build
)

// muxOpener adapts a mux.Session to socks.Opener, writing each stream's
// destination preamble before handing it back to the SOCKS server.
type muxOpener struct {
	session *mux.Session
}

func (o *muxOpener) Open(dest string) (io.ReadWriteCloser, error) {
	stream, err := o.session.Open(context.Background())
	if err != nil {
		return nil, err
	}
	if err := wire.WriteFramed(stream, []byte(dest)); err != nil {
		stream.Close() // nolint: errcheck
		return nil, err
	}
	return stream, nil
}

func main() {
	var vopt bool
	var listenAddr string
	var directExit string
	var country string
	var city string
	var hostname string
	var bridgeMode string
	var brokerURL string
	var brokerPubkeyHex string
	var dbg bool

	flag.BoolVar(&vopt, "v", false, "show version")
	flag.StringVar(&listenAddr, "l", "127.0.0.1:9909", "local SOCKS5 listen address")
	flag.StringVar(&directExit, "direct", "", "bypass the broker and dial one exit directly, as host:port/hexpubkey")
	flag.StringVar(&country, "country", "", "restrict exit selection to a country code")
	flag.StringVar(&city, "city", "", "restrict exit selection to a city (requires -country)")
	flag.StringVar(&hostname, "hostname", "", "restrict exit selection to a specific exit hostname")
	flag.StringVar(&bridgeMode, "bridge-mode", "auto", `one of "auto", "force-bridges", "force-direct"`)
	flag.StringVar(&brokerURL, "broker", "", "broker base URL; empty disables broker-backed selection")
	flag.StringVar(&brokerPubkeyHex, "broker-pubkey", "", "hex-encoded broker signing key to pin; empty trusts on first use")
	flag.BoolVar(&dbg, "d", false, "debug logging")
	flag.Parse()

	if vopt {
		fmt.Printf("version %s (%s)\n", version, gitCommit)
		os.Exit(0)
	}

	logPriority := logger.LOG_DAEMON | logger.LOG_NOTICE | logger.LOG_ERR
	if dbg {
		logPriority |= logger.LOG_DEBUG
	}
	if _, err := logger.New(logPriority, "geph5-client"); err != nil {
		fmt.Fprintf(os.Stderr, "could not initialize logger: %v\n", err)
		os.Exit(1)
	}

	constraint := buildConstraint(directExit, country, city, hostname)
	mode := parseBridgeMode(bridgeMode)

	var acceptBrokerKey func(ed25519.PublicKey) bool
	if brokerPubkeyHex != "" {
		pinned, err := hex.DecodeString(brokerPubkeyHex)
		if err != nil || len(pinned) != ed25519.PublicKeySize {
			logger.LogErr(fmt.Sprintf("invalid -broker-pubkey: %v", err)) // nolint: errcheck,gosec
			os.Exit(1)
		}
		acceptBrokerKey = func(k ed25519.PublicKey) bool { return string(k) == string(pinned) }
	} else {
		acceptBrokerKey = func(ed25519.PublicKey) bool { return true } // trust on first use
	}

	var bk broker.Client
	if brokerURL != "" {
		bk = broker.NewHTTPClient(brokerURL, nil)
	} else {
		bk = broker.NewFake()
	}

	fc := failurecache.New()
	ctx := context.Background()

	sel, err := selector.Select(ctx, selector.Config{
		Constraint:      constraint,
		BridgeMode:      mode,
		Level:           exitdir.AccountFree,
		AcceptBrokerKey: acceptBrokerKey,
	}, bk, fc)
	if err != nil {
		logger.LogErr(fmt.Sprintf("could not select an exit: %v", err)) // nolint: errcheck,gosec
		os.Exit(1)
	}
	logger.LogNotice(fmt.Sprintf("selected exit %s", sel.Descriptor.String())) // nolint: errcheck,gosec

	conn, err := sel.Dialer.Dial(ctx)
	if err != nil {
		logger.LogErr(fmt.Sprintf("could not dial selected exit: %v", err)) // nolint: errcheck,gosec
		os.Exit(1)
	}

	var tunnelConn net.Conn
	if _, hasSecret := conn.(interface {
		SharedSecret() ([]byte, bool)
	}); hasSecret {
		tunnelConn, err = handshake.ClientSharedSecretChallenge(conn, sel.ExitPub, nil)
	} else {
		tunnelConn, err = handshake.ClientX25519(conn, sel.ExitPub, nil)
	}
	if err != nil {
		logger.LogErr(fmt.Sprintf("handshake with exit failed: %v", err)) // nolint: errcheck,gosec
		os.Exit(1)
	}

	session := mux.NewSession(tunnelConn, true)

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		logger.LogErr(fmt.Sprintf("could not listen on %s: %v", listenAddr, err)) // nolint: errcheck,gosec
		os.Exit(1)
	}
	logger.LogNotice(fmt.Sprintf("SOCKS5 proxy listening on %s", listenAddr)) // nolint: errcheck,gosec

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.LogNotice(fmt.Sprintf("got signal %s, shutting down", sig)) // nolint: errcheck,gosec
		ln.Close()      // nolint: errcheck
		session.Close() // nolint: errcheck
		os.Exit(0)
	}()

	if err := socks.Serve(ln, &muxOpener{session: session}); err != nil {
		logger.LogNotice(fmt.Sprintf("SOCKS5 server stopped: %v", err)) // nolint: errcheck,gosec
	}
}

func buildConstraint(direct, country, city, hostname string) exitdir.Constraint {
	switch {
	case direct != "":
		return exitdir.Constraint{Kind: exitdir.ConstraintDirect, Direct: direct}
	case hostname != "":
		return exitdir.Constraint{Kind: exitdir.ConstraintHostname, Hostname: hostname}
	case country != "" && city != "":
		return exitdir.Constraint{Kind: exitdir.ConstraintCountryCity, Country: country, City: city}
	case country != "":
		return exitdir.Constraint{Kind: exitdir.ConstraintCountry, Country: country}
	default:
		return exitdir.Constraint{Kind: exitdir.ConstraintAuto}
	}
}

func parseBridgeMode(s string) exitdir.BridgeMode {
	switch s {
	case "force-bridges":
		return exitdir.BridgeForceBridges
	case "force-direct":
		return exitdir.BridgeForceDirect
	default:
		return exitdir.BridgeAuto
	}
}
