package route

import (
	"context"
	"errors"
	"net"
	"time"
)

// Dialer is the sole contract every compiled route satisfies: connect
// asynchronously and return a bidirectional byte stream, or fail. A plain
// one-method interface over a context-aware dial function, the same shape
// as net.Dialer.DialContext.
type Dialer interface {
	Dial(ctx context.Context) (net.Conn, error)
}

// DialerFunc adapts a plain function to the Dialer interface.
type DialerFunc func(ctx context.Context) (net.Conn, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context) (net.Conn, error) {
	return f(ctx)
}

// ErrNoRoute is returned by dialers with no viable path: Race/Fallback over
// an empty child list, and the Other (forward-compatible/unknown) variant.
var ErrNoRoute = errors.New("route: no dialable route")

func failingDialer() Dialer {
	return DialerFunc(func(ctx context.Context) (net.Conn, error) {
		return nil, ErrNoRoute
	})
}

// race starts both a and b concurrently; the first to succeed wins and the
// loser's dial is cancelled. If both fail, the last error observed wins.
func race(a, b Dialer) Dialer {
	return DialerFunc(func(ctx context.Context) (net.Conn, error) {
		ctxA, cancelA := context.WithCancel(ctx)
		ctxB, cancelB := context.WithCancel(ctx)
		defer cancelA()
		defer cancelB()

		type result struct {
			conn net.Conn
			err  error
		}
		results := make(chan result, 2)
		go func() {
			conn, err := a.Dial(ctxA)
			results <- result{conn, err}
		}()
		go func() {
			conn, err := b.Dial(ctxB)
			results <- result{conn, err}
		}()

		var lastErr error
		for i := 0; i < 2; i++ {
			r := <-results
			if r.err == nil {
				cancelA()
				cancelB()
				return r.conn, nil
			}
			lastErr = r.err
		}
		return nil, lastErr
	})
}

// fallback tries a first; if it fails, tries b and returns b's result.
func fallback(a, b Dialer) Dialer {
	return DialerFunc(func(ctx context.Context) (net.Conn, error) {
		if conn, err := a.Dial(ctx); err == nil {
			return conn, nil
		}
		return b.Dial(ctx)
	})
}

// withTimeout fails a's dial if it does not complete within d.
func withTimeout(d time.Duration, a Dialer) Dialer {
	return DialerFunc(func(ctx context.Context) (net.Conn, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return a.Dial(ctx)
	})
}

// withDelay waits d before starting a's dial, unless ctx is cancelled
// first.
func withDelay(d time.Duration, a Dialer) Dialer {
	return DialerFunc(func(ctx context.Context) (net.Conn, error) {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
		return a.Dial(ctx)
	})
}
