package obfs

import (
	"bytes"
	"net"
	"testing"
)

func TestWrapRoundTripsDataBothDirections(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close() // nolint: errcheck
	defer clientSide.Close() // nolint: errcheck

	cookie := Cookie("shared-sosistab3-cookie")

	client, err := Wrap(clientSide, cookie)
	if err != nil {
		t.Fatalf("Wrap (client): %v", err)
	}
	server, err := Wrap(serverSide, cookie)
	if err != nil {
		t.Fatalf("Wrap (server): %v", err)
	}

	clientMsg := []byte("hello from the client")
	done := make(chan error, 1)
	go func() {
		_, err := client.Write(clientMsg)
		done <- err
	}()

	buf := make([]byte, len(clientMsg))
	if _, err := server.Read(buf); err != nil {
		t.Fatalf("server Read: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("client Write: %v", err)
	}
	if !bytes.Equal(buf, clientMsg) {
		t.Fatalf("got %q want %q", buf, clientMsg)
	}

	serverMsg := []byte("hello back from the server")
	go func() {
		_, err := server.Write(serverMsg)
		done <- err
	}()
	buf2 := make([]byte, len(serverMsg))
	if _, err := client.Read(buf2); err != nil {
		t.Fatalf("client Read: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("server Write: %v", err)
	}
	if !bytes.Equal(buf2, serverMsg) {
		t.Fatalf("got %q want %q", buf2, serverMsg)
	}
}

func TestWrapProducesObscuredBytesOnTheWire(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close() // nolint: errcheck
	defer clientSide.Close() // nolint: errcheck

	cookie := Cookie("another-cookie")
	client, err := Wrap(clientSide, cookie)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}

	plaintext := bytes.Repeat([]byte{0x41}, 32) // "AAAA..."
	go func() {
		client.Write(plaintext) // nolint: errcheck
	}()

	raw := make([]byte, len(plaintext))
	if _, err := serverSide.Read(raw); err != nil {
		t.Fatalf("raw Read: %v", err)
	}
	if bytes.Equal(raw, plaintext) {
		t.Fatal("expected ciphertext on the wire to differ from plaintext")
	}
}

func TestSharedSecretIsStableAndCookieDependent(t *testing.T) {
	a := SharedSecret(Cookie("cookie-one"))
	b := SharedSecret(Cookie("cookie-one"))
	if a != b {
		t.Fatal("expected SharedSecret to be deterministic for the same cookie")
	}
	c := SharedSecret(Cookie("cookie-two"))
	if a == c {
		t.Fatal("expected different cookies to produce different shared secrets")
	}
}

func TestConnReportsItsSharedSecret(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close() // nolint: errcheck
	defer clientSide.Close() // nolint: errcheck

	cookie := Cookie("probe-cookie")
	client, err := Wrap(clientSide, cookie)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}

	secret, ok := client.SharedSecret()
	if !ok {
		t.Fatal("expected SharedSecret to report ok=true")
	}
	want := SharedSecret(cookie)
	if !bytes.Equal(secret, want[:]) {
		t.Fatal("expected Conn.SharedSecret to match the cookie-derived value")
	}
}
