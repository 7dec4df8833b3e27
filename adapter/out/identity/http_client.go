// Package identity implements the id-authority port against the
// ChittyID HTTP service.
package identity

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/chittycc/chittyrouter/pkg/apperr"
	"github.com/chittycc/chittyrouter/pkg/httputil"
)

// Client mints opaque identity strings over HTTP.
type Client struct {
	url    string
	client *http.Client
}

// New creates an identity client against the authority's mint endpoint.
func New(url string) *Client {
	return &Client{
		url:    url,
		client: httputil.NewClient(httputil.DefaultClientConfig()),
	}
}

type mintRequest struct {
	Purpose string `json:"purpose"`
}

type mintResponse struct {
	ID string `json:"id"`
}

// Mint requests one identity for the given purpose.
func (c *Client) Mint(ctx context.Context, purpose string) (string, error) {
	if c.url == "" {
		return "", apperr.DependencyUnavailable("id_authority", true, nil)
	}

	body, err := json.Marshal(mintRequest{Purpose: purpose})
	if err != nil {
		return "", apperr.InternalWithError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", apperr.InternalWithError(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", apperr.DependencyUnavailable("id_authority", false, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", apperr.DependencyUnavailable("id_authority", false,
			fmt.Errorf("mint: status %d", resp.StatusCode))
	}

	var minted mintResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&minted); err != nil {
		return "", apperr.DependencyUnavailable("id_authority", false, err)
	}
	if minted.ID == "" {
		return "", apperr.DependencyUnavailable("id_authority", false,
			fmt.Errorf("mint: empty id in response"))
	}
	return minted.ID, nil
}
