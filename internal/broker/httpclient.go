package broker

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/yuntianx454/geph5/internal/exitdir"
	"github.com/yuntianx454/geph5/internal/route"
)

// HTTPClient is a Client that speaks a small JSON-over-HTTP RPC to a
// broker at BaseURL, one POST endpoint per method. There is no ecosystem
// RPC library in play here: this is a handful of fixed request/response
// shapes, not a case that justifies importing a dependency.
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client
}

// NewHTTPClient returns an HTTPClient for baseURL, using http.DefaultClient
// if client is nil.
func NewHTTPClient(baseURL string, client *http.Client) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{BaseURL: baseURL, HTTP: client}
}

type wireSignedList struct {
	Value     []byte `json:"value"`
	Domain    string `json:"domain"`
	Signature []byte `json:"signature"`
	PubKey    []byte `json:"pub_key"`
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, reqBody, respBody any) error {
	buf, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() // nolint: errcheck
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("broker: %s returned status %d: %w", path, resp.StatusCode, ErrRefused)
	}
	if respBody == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(respBody)
}

func (c *HTTPClient) getExits(ctx context.Context, path string) (exitdir.Signed[exitdir.List], error) {
	var resp wireSignedList
	if err := c.postJSON(ctx, path, struct{}{}, &resp); err != nil {
		return exitdir.Signed[exitdir.List]{}, err
	}
	list, err := exitdir.DecodeList(resp.Value)
	if err != nil {
		return exitdir.Signed[exitdir.List]{}, err
	}
	return exitdir.Signed[exitdir.List]{
		Value:     list,
		Domain:    resp.Domain,
		Signature: resp.Signature,
		PubKey:    resp.PubKey,
	}, nil
}

// GetExits implements Client.
func (c *HTTPClient) GetExits(ctx context.Context) (exitdir.Signed[exitdir.List], error) {
	return c.getExits(ctx, "/get_exits")
}

// GetFreeExits implements Client.
func (c *HTTPClient) GetFreeExits(ctx context.Context) (exitdir.Signed[exitdir.List], error) {
	return c.getExits(ctx, "/get_free_exits")
}

type getRoutesRequest struct {
	ConnToken string `json:"conn_token"`
	TokenSig  string `json:"token_sig"`
	B2EListen string `json:"b2e_listen"`
}

type getRoutesResponse struct {
	Route []byte `json:"route"`
}

// GetRoutes implements Client.
func (c *HTTPClient) GetRoutes(ctx context.Context, connToken string, tokenSig []byte, b2eListen string) (*route.Descriptor, error) {
	var resp getRoutesResponse
	err := c.postJSON(ctx, "/get_routes", getRoutesRequest{
		ConnToken: connToken,
		TokenSig:  hex.EncodeToString(tokenSig),
		B2EListen: b2eListen,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return route.Decode(resp.Route)
}

type putExitRequest struct {
	Signed wireSignedList `json:"signed"` // reused shape: Value here is exitdir.Descriptor bytes
	Tag    []byte         `json:"tag"`
}

// PutExit implements Client.
func (c *HTTPClient) PutExit(ctx context.Context, descriptor exitdir.Mac[exitdir.Signed[exitdir.Descriptor]]) error {
	req := putExitRequest{
		Signed: wireSignedList{
			Value:     descriptor.Inner.Value.Encode(),
			Domain:    descriptor.Inner.Domain,
			Signature: descriptor.Inner.Signature,
			PubKey:    descriptor.Inner.PubKey,
		},
		Tag: descriptor.Tag,
	}
	return c.postJSON(ctx, "/put_exit", req, nil)
}

var _ Client = (*HTTPClient)(nil)
