// geph5-exit is the exit side of the tunnel: it accepts authenticated
// client connections, multiplexes each into many proxied streams, and
// periodically publishes its descriptor to the broker so clients can
// find it.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/pem"
	"flag"
	"fmt"
	"io/ioutil"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/yuntianx454/geph5/internal/broker"
	"github.com/yuntianx454/geph5/internal/handshake"
	"github.com/yuntianx454/geph5/internal/ipecho"
	"github.com/yuntianx454/geph5/internal/mux"
	"github.com/yuntianx454/geph5/internal/proxy"
	"github.com/yuntianx454/geph5/internal/registration"
	"github.com/yuntianx454/geph5/logger"
)

var (
	version   string
	gitCommit string // set in -ldflags by build
)

func main() {
	var vopt bool
	var c2eListen string
	var b2eListen string
	var country string
	var city string
	var brokerURL string
	var authToken string
	var keyFile string
	var dbg bool

	flag.BoolVar(&vopt, "v", false, "show version")
	flag.StringVar(&c2eListen, "c2e-listen", "0.0.0.0:9910", "client-facing listen address")
	flag.StringVar(&b2eListen, "b2e-listen", "0.0.0.0:9911", "bridge-facing listen address")
	flag.StringVar(&country, "country", "", "two-letter country code to advertise")
	flag.StringVar(&city, "city", "", "city to advertise")
	flag.StringVar(&brokerURL, "broker", "", "broker base URL; empty disables registration")
	flag.StringVar(&authToken, "auth-token", "", "shared secret MAC-authenticating this exit's registration")
	flag.StringVar(&keyFile, "key-file", "", "PEM file holding this exit's ed25519 signing key; empty generates one at startup")
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
	if _, err := logger.New(logPriority, "geph5-exit"); err != nil {
		fmt.Fprintf(os.Stderr, "could not initialize logger: %v\n", err)
		os.Exit(1)
	}

	signingKey, err := loadOrGenerateKey(keyFile)
	if err != nil {
		logger.LogErr(fmt.Sprintf("could not load signing key: %v", err)) // nolint: errcheck,gosec
		os.Exit(1)
	}
	pub := signingKey.Public().(ed25519.PublicKey)
	logger.LogNotice(fmt.Sprintf("exit public key: %s", hex.EncodeToString(pub))) // nolint: errcheck,gosec

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.LogNotice(fmt.Sprintf("got signal %s, shutting down", sig)) // nolint: errcheck,gosec
		cancel()
		os.Exit(0)
	}()

	// The registration loop only runs when a broker is actually configured:
	// with no broker there is nothing to register with, and nothing should
	// race the accept loop.
	if brokerURL != "" {
		bk := broker.NewHTTPClient(brokerURL, nil)
		go func() {
			err := runRegistration(ctx, c2eListen, b2eListen, country, city, authToken, signingKey, pub, bk)
			if ctx.Err() != nil {
				// Shutdown already in progress (signal handler cancelled
				// ctx); nothing more to do here.
				return
			}
			// The registration loop failed on its own: race it against the
			// accept loop by collapsing the whole process, the same way the
			// signal handler does.
			logger.LogErr(fmt.Sprintf("registration loop failed, shutting down: %v", err)) // nolint: errcheck,gosec
			cancel()
			os.Exit(1)
		}()
	}

	c2eLn, err := net.Listen("tcp", c2eListen)
	if err != nil {
		logger.LogErr(fmt.Sprintf("could not listen on %s: %v", c2eListen, err)) // nolint: errcheck,gosec
		os.Exit(1)
	}
	logger.LogNotice(fmt.Sprintf("accepting client connections on %s", c2eListen)) // nolint: errcheck,gosec

	for {
		conn, err := c2eLn.Accept()
		if err != nil {
			logger.LogErr(fmt.Sprintf("accept failed: %v", err)) // nolint: errcheck,gosec
			return
		}
		go handleClient(conn, signingKey)
	}
}

// currentLoad is a crude load gauge: openConns, the number of currently-open
// client connections, normalized against an assumed soft capacity. A real load
// figure would weigh bandwidth and CPU too, but this is enough to let the
// selector prefer a less-busy exit.
var openConns int64

const softCapacity = 500.0

func currentLoad() float64 {
	return float64(atomic.LoadInt64(&openConns)) / softCapacity
}

func handleClient(conn net.Conn, signingKey ed25519.PrivateKey) {
	atomic.AddInt64(&openConns, 1)
	defer atomic.AddInt64(&openConns, -1)
	defer conn.Close() // nolint: errcheck

	tunnelConn, err := handshake.ExitHandshake(conn, signingKey)
	if err != nil {
		logger.LogDebug(fmt.Sprintf("handshake with %s failed: %v", conn.RemoteAddr(), err)) // nolint: errcheck,gosec
		return
	}

	session := mux.NewSession(tunnelConn, false)
	defer session.Close() // nolint: errcheck

	ctx := context.Background()
	for {
		stream, err := session.Accept(ctx)
		if err != nil {
			return
		}
		go func() {
			if err := proxy.ProxyStream(stream, proxy.NetDialer); err != nil {
				logger.LogDebug(fmt.Sprintf("stream from %s ended: %v", conn.RemoteAddr(), err)) // nolint: errcheck,gosec
			}
		}()
	}
}

func runRegistration(ctx context.Context, c2eListen, b2eListen, country, city, authToken string, signingKey ed25519.PrivateKey, pub ed25519.PublicKey, bk broker.Client) error {
	publicIP, err := ipecho.Lookup(ctx, nil, "")
	if err != nil {
		return fmt.Errorf("could not discover public IP: %w", err)
	}
	logger.LogNotice(fmt.Sprintf("publishing descriptor with public IP %s", publicIP)) // nolint: errcheck,gosec

	cfg := registration.Config{
		C2EListen: c2eListen,
		B2EListen: b2eListen,
		Country:   country,
		City:      city,
		AuthToken: authToken,
	}
	sign := func(msg []byte) []byte { return ed25519.Sign(signingKey, msg) }

	return registration.Run(ctx, cfg, publicIP, sign, pub, bk, currentLoad, nil)
}

const pemBlockType = "GEPH5 EXIT SIGNING KEY"

func loadOrGenerateKey(path string) (ed25519.PrivateKey, error) {
	if path == "" {
		_, priv, err := ed25519.GenerateKey(nil)
		return priv, err
	}

	data, err := ioutil.ReadFile(path)
	if err == nil {
		block, _ := pem.Decode(data)
		if block == nil || block.Type != pemBlockType {
			return nil, fmt.Errorf("main: %s does not contain a %s block", path, pemBlockType)
		}
		if len(block.Bytes) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("main: %s holds a key of the wrong size", path)
		}
		return ed25519.PrivateKey(block.Bytes), nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, err
	}
	block := &pem.Block{Type: pemBlockType, Bytes: priv}
	if err := ioutil.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		return nil, fmt.Errorf("main: could not persist generated key to %s: %w", path, err)
	}
	return priv, nil
}
