// Package socks implements the client-facing edge of the tunnel: a
// minimal SOCKS5 server (RFC 1928) supporting the no-auth method and the
// CONNECT command only, which is all a tunneling client's local
// applications need.
package socks

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
)

const (
	version5     = 0x05
	methodNoAuth = 0x00
	methodNone   = 0xff

	cmdConnect = 0x01

	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04

	repSucceeded           = 0x00
	repGeneralFailure      = 0x01
	repCommandNotSupported = 0x07
)

// Opener opens a new forwarding stream to dest, "host:port". It is
// implemented by a multiplexed session's Open, adapted to take the
// destination along with it.
type Opener interface {
	Open(dest string) (io.ReadWriteCloser, error)
}

// Serve accepts connections on ln forever, handling each as a SOCKS5
// client and forwarding CONNECT requests through opener. It returns when
// ln.Accept fails (typically because ln was closed).
func Serve(ln net.Listener, opener Opener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go func() {
			defer conn.Close() // nolint: errcheck
			if err := handleConn(conn, opener); err != nil {
				// Connection-level errors are expected (clients
				// disconnecting, refused destinations); nothing to do
				// but let this goroutine end.
				_ = err
			}
		}()
	}
}

func handleConn(conn net.Conn, opener Opener) error {
	if err := readGreeting(conn); err != nil {
		return err
	}
	dest, err := readConnectRequest(conn)
	if err != nil {
		writeReply(conn, repGeneralFailure) // nolint: errcheck
		return err
	}

	stream, err := opener.Open(dest)
	if err != nil {
		writeReply(conn, repGeneralFailure) // nolint: errcheck
		return fmt.Errorf("socks: could not open stream to %s: %w", dest, err)
	}
	defer stream.Close() // nolint: errcheck

	if err := writeReply(conn, repSucceeded); err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		_, err := io.Copy(stream, conn)
		errCh <- err
	}()
	go func() {
		_, err := io.Copy(conn, stream)
		errCh <- err
	}()
	first := <-errCh
	<-errCh
	return first
}

func readGreeting(conn net.Conn) error {
	hdr := make([]byte, 2)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return err
	}
	if hdr[0] != version5 {
		return errors.New("socks: unsupported protocol version")
	}
	nMethods := int(hdr[1])
	methods := make([]byte, nMethods)
	if _, err := io.ReadFull(conn, methods); err != nil {
		return err
	}

	for _, m := range methods {
		if m == methodNoAuth {
			_, err := conn.Write([]byte{version5, methodNoAuth})
			return err
		}
	}
	conn.Write([]byte{version5, methodNone}) // nolint: errcheck
	return errors.New("socks: client offered no acceptable auth method")
}

func readConnectRequest(conn net.Conn) (string, error) {
	hdr := make([]byte, 4)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return "", err
	}
	if hdr[0] != version5 {
		return "", errors.New("socks: unsupported protocol version")
	}
	if hdr[1] != cmdConnect {
		return "", errors.New("socks: only the CONNECT command is supported")
	}

	var host string
	switch hdr[3] {
	case atypIPv4:
		addr := make([]byte, 4)
		if _, err := io.ReadFull(conn, addr); err != nil {
			return "", err
		}
		host = net.IP(addr).String()
	case atypIPv6:
		addr := make([]byte, 16)
		if _, err := io.ReadFull(conn, addr); err != nil {
			return "", err
		}
		host = net.IP(addr).String()
	case atypDomain:
		lenBuf := make([]byte, 1)
		if _, err := io.ReadFull(conn, lenBuf); err != nil {
			return "", err
		}
		domain := make([]byte, lenBuf[0])
		if _, err := io.ReadFull(conn, domain); err != nil {
			return "", err
		}
		host = string(domain)
	default:
		return "", errors.New("socks: unsupported address type")
	}

	portBuf := make([]byte, 2)
	if _, err := io.ReadFull(conn, portBuf); err != nil {
		return "", err
	}
	port := binary.BigEndian.Uint16(portBuf)
	return net.JoinHostPort(host, strconv.Itoa(int(port))), nil
}

func writeReply(conn net.Conn, rep byte) error {
	// A fixed, zeroed BND.ADDR/BND.PORT: real clients only need the reply
	// code from a CONNECT reply, not a meaningful bound address.
	reply := []byte{version5, rep, 0x00, atypIPv4, 0, 0, 0, 0, 0, 0}
	_, err := conn.Write(reply)
	return err
}
