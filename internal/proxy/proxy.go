// Package proxy implements the exit side of stream forwarding: each
// multiplexed stream starts with a length-prefixed destination address,
// after which its bytes are relayed verbatim to and from a freshly dialed
// upstream TCP connection.
package proxy

import (
	"fmt"
	"io"
	"net"

	"github.com/yuntianx454/geph5/internal/vpnhook"
	"github.com/yuntianx454/geph5/internal/wire"
)

// Dialer is the subset of net.Dialer this package needs, so tests can
// substitute a fake upstream.
type Dialer interface {
	Dial(network, address string) (net.Conn, error)
}

// Stream is the minimal surface ProxyStream needs from a multiplexed
// stream: a bidirectional byte pipe.
type Stream io.ReadWriteCloser

// ProxyStream reads the destination preamble off stream, dials it via d,
// and copies bytes in both directions, each direction until its source
// reaches EOF or errors. It returns once both copy directions have
// finished; one direction ending does not stop the other.
func ProxyStream(stream Stream, d Dialer) error {
	defer stream.Close() // nolint: errcheck

	destBytes, err := wire.ReadFramed(stream)
	if err != nil {
		return fmt.Errorf("proxy: could not read destination preamble: %w", err)
	}
	dest := string(destBytes)

	if host, _, err := net.SplitHostPort(dest); err == nil {
		if ip := net.ParseIP(host); ip != nil {
			vpnhook.Whitelist(ip)
		}
	}

	upstream, err := d.Dial("tcp", dest)
	if err != nil {
		return fmt.Errorf("proxy: could not dial %s: %w", dest, err)
	}
	defer upstream.Close() // nolint: errcheck

	return copyBoth(stream, upstream)
}

func copyBoth(stream Stream, upstream net.Conn) error {
	errCh := make(chan error, 2)
	go func() {
		_, err := io.Copy(upstream, stream)
		errCh <- err
	}()
	go func() {
		_, err := io.Copy(stream, upstream)
		errCh <- err
	}()
	first := <-errCh
	<-errCh
	if first == io.EOF {
		return nil
	}
	return first
}

// netDialer adapts net.Dialer (and plain net.Dial) to Dialer.
type netDialer struct{}

// NetDialer is the default Dialer, using the standard net package.
var NetDialer Dialer = netDialer{}

func (netDialer) Dial(network, address string) (net.Conn, error) {
	return net.Dial(network, address)
}
