// Package detection talks to the people-detection service that reports
// live male and female counts.
package detection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/types"
)

var (
	ErrNoEndpoint   = errors.New("detection: host is not configured")
	ErrBadStatus    = errors.New("detection: unexpected status")
	ErrInvalidReply = errors.New("detection: invalid response body")
)

const (
	Path           = "/deteksi"
	DefaultTimeout = 3 * time.Second

	maxBody = 64 << 10
)

// Client fetches detection snapshots over HTTP.
type Client struct {
	url  string
	http *http.Client
}

// NewClient targets http://host:port/deteksi. A zero timeout uses
// DefaultTimeout.
func NewClient(host string, port int, timeout time.Duration) (*Client, error) {
	if host == "" {
		return nil, ErrNoEndpoint
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		url:  "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + Path,
		http: &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) URL() string { return c.url }

// Fetch returns the counts the service currently reports. Categories that are
// missing or not numeric are left nil.
func (c *Client) Fetch(ctx context.Context) (types.DetectionSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return types.DetectionSnapshot{}, fmt.Errorf("detection: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return types.DetectionSnapshot{}, fmt.Errorf("detection: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return types.DetectionSnapshot{}, fmt.Errorf("%w: %s", ErrBadStatus, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return types.DetectionSnapshot{}, fmt.Errorf("detection: read body: %w", err)
	}
	return Parse(body)
}

// Parse decodes a detection reply such as {"male": 7, "female": 3}.
// Negative counts are clamped to zero.
func Parse(body []byte) (types.DetectionSnapshot, error) {
	if !gjson.ValidBytes(body) {
		return types.DetectionSnapshot{}, ErrInvalidReply
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return types.DetectionSnapshot{}, fmt.Errorf("%w: not an object", ErrInvalidReply)
	}

	var snap types.DetectionSnapshot
	snap.Male = count(doc.Get("male"))
	snap.Female = count(doc.Get("female"))
	return snap, nil
}

func count(r gjson.Result) *int {
	if r.Type != gjson.Number {
		return nil
	}
	v := int(r.Int())
	if v < 0 {
		v = 0
	}
	return &v
}
