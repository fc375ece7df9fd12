package mux

import (
	"context"
	"io"
	"net"
	"testing"
	"time"
)

func newSessionPair(t *testing.T) (*Session, *Session) {
	t.Helper()
	a, b := net.Pipe()
	return NewSession(a, true), NewSession(b, false)
}

func TestOpenAcceptRoundTripsData(t *testing.T) {
	client, exit := newSessionPair(t)
	defer client.Close() // nolint: errcheck
	defer exit.Close()   // nolint: errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	acceptedCh := make(chan *Stream, 1)
	acceptErrCh := make(chan error, 1)
	go func() {
		st, err := exit.Accept(ctx)
		acceptedCh <- st
		acceptErrCh <- err
	}()

	clientStream, err := client.Open(ctx)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	exitStream := <-acceptedCh
	if err := <-acceptErrCh; err != nil {
		t.Fatalf("Accept failed: %v", err)
	}

	msg := []byte("ping")
	if _, err := clientStream.Write(msg); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	buf := make([]byte, len(msg))
	if _, err := io.ReadFull(exitStream, buf); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(buf) != string(msg) {
		t.Fatalf("got %q want %q", buf, msg)
	}
}

func TestClientAndExitStreamIDsDoNotCollide(t *testing.T) {
	client, exit := newSessionPair(t)
	defer client.Close() // nolint: errcheck
	defer exit.Close()   // nolint: errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s1, err := client.Open(ctx)
	if err != nil {
		t.Fatalf("client open 1: %v", err)
	}
	s2, err := client.Open(ctx)
	if err != nil {
		t.Fatalf("client open 2: %v", err)
	}
	if s1.id == s2.id {
		t.Fatalf("expected distinct stream IDs, got %d twice", s1.id)
	}
	if s1.id%2 != 0 || s2.id%2 != 0 {
		t.Fatalf("expected client-opened streams to use even IDs, got %d and %d", s1.id, s2.id)
	}
}

func TestMultipleStreamsAreIndependent(t *testing.T) {
	client, exit := newSessionPair(t)
	defer client.Close() // nolint: errcheck
	defer exit.Close()   // nolint: errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	const n = 4
	clientStreams := make([]*Stream, n)
	exitStreams := make([]*Stream, n)

	for i := 0; i < n; i++ {
		acceptedCh := make(chan *Stream, 1)
		go func() {
			st, _ := exit.Accept(ctx)
			acceptedCh <- st
		}()
		cs, err := client.Open(ctx)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		clientStreams[i] = cs
		exitStreams[i] = <-acceptedCh
	}

	for i := 0; i < n; i++ {
		msg := []byte{byte('a' + i)}
		if _, err := clientStreams[i].Write(msg); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		buf := make([]byte, 1)
		if _, err := io.ReadFull(exitStreams[i], buf); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if buf[0] != byte('a'+i) {
			t.Fatalf("stream %d got %q, want %q", i, buf, byte('a'+i))
		}
	}
}

func TestStreamCloseSignalsPeerEOF(t *testing.T) {
	client, exit := newSessionPair(t)
	defer client.Close() // nolint: errcheck
	defer exit.Close()   // nolint: errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	acceptedCh := make(chan *Stream, 1)
	go func() {
		st, _ := exit.Accept(ctx)
		acceptedCh <- st
	}()
	clientStream, err := client.Open(ctx)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	exitStream := <-acceptedCh

	if err := clientStream.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	buf := make([]byte, 1)
	_, err = exitStream.Read(buf)
	if err != io.EOF {
		t.Fatalf("expected io.EOF after peer close, got %v", err)
	}
}
