// Package peer implements the HTTP client side of the intra-cluster
// replica protocol: single-key GET/PUT/DELETE hops against another
// node's /v0/entity endpoint, each marked with the proxy header and
// bounded by the caller's context deadline.
package peer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"quorumkv/internal/value"
)

const (
	proxyHeader     = "Proxy_Header"
	expiresHeader   = "Expires"
	timestampHeader = "Timestamp_Header"
)

// Result is the outcome of a single proxied replica call. Absent and
// tombstone are distinguishable sentinels so the coordinator's
// resolution rules can tell "the replica has nothing" from "the
// replica has a deletion marker."
type Result struct {
	Absent    bool
	Tombstone bool
	Value     value.Value
}

// Client issues proxied requests to exactly one remote node.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client targeting baseURL ("http://host:port"), using
// httpClient for transport. Callers share one *http.Client across all
// peers so connections pool.
func New(baseURL string, httpClient *http.Client) *Client {
	return &Client{baseURL: baseURL, http: httpClient}
}

// Close is a no-op: the underlying *http.Client is shared and owned by
// whoever constructed it, not by this Client.
func (c *Client) Close() {}

// Get issues a proxied GET for key and parses the framed response.
func (c *Client) Get(ctx context.Context, key []byte) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.entityURL(key), nil)
	if err != nil {
		return Result{}, fmt.Errorf("peer: build get request: %w", err)
	}
	req.Header.Set(proxyHeader, "true")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("peer: get %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	ts, hasTS := parseTimestampHeader(resp.Header.Get(timestampHeader))

	switch resp.StatusCode {
	case http.StatusNotFound:
		if !hasTS {
			return Result{Absent: true}, nil
		}
		return Result{Tombstone: true, Value: value.Tomb(ts)}, nil
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return Result{}, fmt.Errorf("peer: read get body: %w", err)
		}
		if !hasTS {
			return Result{}, fmt.Errorf("peer: ok response missing %s", timestampHeader)
		}
		// The replica echoes the stored deadline back so expiration
		// stays a read-time decision made where the results merge,
		// not at each replica with its own clock.
		expiresAt := value.NeverExpires
		if raw := resp.Header.Get(expiresHeader); raw != "" {
			if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
				expiresAt = parsed
			}
		}
		return Result{Value: value.Live(ts, body, expiresAt)}, nil
	default:
		return Result{}, fmt.Errorf("peer: unexpected status %d from %s", resp.StatusCode, c.baseURL)
	}
}

// Put issues a proxied PUT of data for key, expiring at expiresAt.
// Success (HTTP 201) is the only thing the coordinator needs back.
func (c *Client) Put(ctx context.Context, key []byte, data []byte, expiresAt int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.entityURL(key), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("peer: build put request: %w", err)
	}
	req.Header.Set(proxyHeader, "true")
	if expiresAt != value.NeverExpires {
		req.Header.Set(expiresHeader, strconv.FormatInt(expiresAt, 10))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("peer: put %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("peer: unexpected status %d from %s", resp.StatusCode, c.baseURL)
	}
	return nil
}

// Delete issues a proxied DELETE for key.
func (c *Client) Delete(ctx context.Context, key []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.entityURL(key), nil)
	if err != nil {
		return fmt.Errorf("peer: build delete request: %w", err)
	}
	req.Header.Set(proxyHeader, "true")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("peer: delete %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("peer: unexpected status %d from %s", resp.StatusCode, c.baseURL)
	}
	return nil
}

func (c *Client) entityURL(key []byte) string {
	q := url.Values{}
	q.Set("id", string(key))
	return c.baseURL + "/v0/entity?" + q.Encode()
}

func parseTimestampHeader(raw string) (int64, bool) {
	if raw == "" {
		return 0, false
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

