// Package broker defines the client-facing contract for the exit directory
// service: listing exits, fetching bridge routes to a chosen exit, and (from
// the exit side) publishing a descriptor.
package broker

import (
	"context"
	"errors"
	"sync"

	"github.com/yuntianx454/geph5/internal/exitdir"
	"github.com/yuntianx454/geph5/internal/route"
)

// ErrRefused is returned when the broker declines a request (an expired
// connect token, an unrecognized exit, etc).
var ErrRefused = errors.New("broker: request refused")

// Client is everything a client or exit needs from the broker over the
// network. A real implementation speaks JSON-RPC or similar to an HTTP
// endpoint; Fake below is an in-memory stand-in for tests.
type Client interface {
	// GetExits returns every exit available to a Plus-tier account.
	GetExits(ctx context.Context) (exitdir.Signed[exitdir.List], error)
	// GetFreeExits returns the smaller set available to a Free-tier account.
	GetFreeExits(ctx context.Context) (exitdir.Signed[exitdir.List], error)
	// GetRoutes returns bridge routes to reach the exit whose b2e listen
	// address is b2eListen, authenticated by a connect token and its
	// signature.
	GetRoutes(ctx context.Context, connToken string, tokenSig []byte, b2eListen string) (*route.Descriptor, error)
	// PutExit publishes an exit's signed-and-MACed descriptor.
	PutExit(ctx context.Context, descriptor exitdir.Mac[exitdir.Signed[exitdir.Descriptor]]) error
}

// Fake is an in-memory Client for tests: no network, no signing key
// management, just the data a test wants the broker to hand back.
type Fake struct {
	mu sync.Mutex

	AllExits  exitdir.Signed[exitdir.List]
	FreeExits exitdir.Signed[exitdir.List]
	Routes    map[string]*route.Descriptor // keyed by b2eListen

	Published []exitdir.Mac[exitdir.Signed[exitdir.Descriptor]]
}

// NewFake returns an empty Fake broker.
func NewFake() *Fake {
	return &Fake{Routes: make(map[string]*route.Descriptor)}
}

// GetExits implements Client.
func (f *Fake) GetExits(ctx context.Context) (exitdir.Signed[exitdir.List], error) {
	return f.AllExits, nil
}

// GetFreeExits implements Client.
func (f *Fake) GetFreeExits(ctx context.Context) (exitdir.Signed[exitdir.List], error) {
	return f.FreeExits, nil
}

// GetRoutes implements Client.
func (f *Fake) GetRoutes(ctx context.Context, connToken string, tokenSig []byte, b2eListen string) (*route.Descriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.Routes[b2eListen]
	if !ok {
		return route.Fallback(), nil
	}
	return r, nil
}

// PutExit implements Client.
func (f *Fake) PutExit(ctx context.Context, descriptor exitdir.Mac[exitdir.Signed[exitdir.Descriptor]]) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Published = append(f.Published, descriptor)
	return nil
}

var _ Client = (*Fake)(nil)
