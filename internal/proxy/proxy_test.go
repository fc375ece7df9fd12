package proxy

import (
	"errors"
	"io"
	"net"
	"testing"

	"github.com/yuntianx454/geph5/internal/wire"
)

type fakeDialer struct {
	conn net.Conn
	err  error
}

func (f fakeDialer) Dial(network, address string) (net.Conn, error) {
	return f.conn, f.err
}

func TestProxyStreamRelaysBothDirections(t *testing.T) {
	streamSide, testSide := net.Pipe()
	upstreamSide, fakeUpstream := net.Pipe()

	done := make(chan error, 1)
	go func() {
		done <- ProxyStream(streamSide, fakeDialer{conn: upstreamSide})
	}()

	if err := wire.WriteFramed(testSide, []byte("example.com:80")); err != nil {
		t.Fatalf("write preamble: %v", err)
	}

	go func() {
		_, _ = testSide.Write([]byte("request"))
	}()
	buf := make([]byte, len("request"))
	if _, err := io.ReadFull(fakeUpstream, buf); err != nil {
		t.Fatalf("upstream did not receive forwarded bytes: %v", err)
	}
	if string(buf) != "request" {
		t.Fatalf("got %q want %q", buf, "request")
	}

	go func() {
		_, _ = fakeUpstream.Write([]byte("response"))
	}()
	buf2 := make([]byte, len("response"))
	if _, err := io.ReadFull(testSide, buf2); err != nil {
		t.Fatalf("client did not receive response bytes: %v", err)
	}
	if string(buf2) != "response" {
		t.Fatalf("got %q want %q", buf2, "response")
	}

	testSide.Close()   // nolint: errcheck
	fakeUpstream.Close() // nolint: errcheck
	if err := <-done; err != nil {
		t.Fatalf("ProxyStream returned error: %v", err)
	}
}

func TestProxyStreamPropagatesDialError(t *testing.T) {
	streamSide, testSide := net.Pipe()
	defer testSide.Close() // nolint: errcheck

	done := make(chan error, 1)
	go func() {
		done <- ProxyStream(streamSide, fakeDialer{err: errors.New("connection refused")})
	}()

	if err := wire.WriteFramed(testSide, []byte("example.com:80")); err != nil {
		t.Fatalf("write preamble: %v", err)
	}
	if err := <-done; err == nil {
		t.Fatal("expected ProxyStream to propagate the dial error")
	}
}
