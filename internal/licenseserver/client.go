package licenseserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"opencdm/internal/domain"
)

// maxResponse bounds the license response read into memory.
const maxResponse = 1 << 20

// ErrStatus is wrapped by errors for non-2xx responses.
var ErrStatus = errors.New("license server returned an error status")

// Client posts challenges to license servers.
type Client struct {
	// Base is used for relative URLs and when the engine reports no URL.
	Base string
	HTTP *http.Client
}

var _ domain.LicenseClient = (*Client)(nil)

// NewClient returns a client with base as its default server.
func NewClient(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{Base: strings.TrimRight(base, "/"), HTTP: hc}
}

// Acquire posts challenge to url and returns the response body. An empty url
// means Base + "/license"; a url starting with "/" is resolved against Base.
func (c *Client) Acquire(ctx context.Context, url string, challenge []byte) ([]byte, error) {
	u := c.resolve(url)
	if u == "" {
		return nil, errors.New("no license server url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(challenge))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return nil, fmt.Errorf("license post %s: %w", u, err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("license post %s: %s: %w", u, resp.Status, ErrStatus)
	}
	return body, nil
}

func (c *Client) resolve(url string) string {
	switch {
	case url == "":
		if c.Base == "" {
			return ""
		}
		return c.Base + "/license"
	case strings.HasPrefix(url, "/"):
		if c.Base == "" {
			return ""
		}
		return c.Base + url
	default:
		return url
	}
}
