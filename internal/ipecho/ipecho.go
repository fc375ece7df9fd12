// Package ipecho discovers this host's public IP address by asking an
// external echo service, the way an exit learns the address to publish in
// its descriptor.
package ipecho

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// DefaultURL is queried when Lookup is called with an empty url.
const DefaultURL = "https://checkip.amazonaws.com/"

// Lookup fetches url (or DefaultURL) and parses its body as a bare IP
// address.
func Lookup(ctx context.Context, client *http.Client, url string) (net.IP, error) {
	if url == "" {
		url = DefaultURL
	}
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() // nolint: errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ipecho: %s returned status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return nil, err
	}
	ip := net.ParseIP(strings.TrimSpace(string(body)))
	if ip == nil {
		return nil, fmt.Errorf("ipecho: %s did not return a parseable IP address", url)
	}
	return ip, nil
}
