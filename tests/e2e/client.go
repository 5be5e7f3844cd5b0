package e2e

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// APIError surfaces unexpected statuses from the server.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

var ErrNotFound = errors.New("not found")

// Client drives one node's public /v0 surface.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

// PutOptions tunes a single write.
type PutOptions struct {
	// Replicas is the raw ack/from pair, e.g. "2/3". Empty means the
	// server default.
	Replicas string
	// ExpiresAtMillis sets the Expires header; zero omits it.
	ExpiresAtMillis int64
}

// Put creates or overwrites a key.
func (c *Client) Put(ctx context.Context, key, value []byte, opts PutOptions) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.entityURL(key, opts.Replicas), bytes.NewReader(value))
	if err != nil {
		return err
	}
	if opts.ExpiresAtMillis != 0 {
		req.Header.Set("Expires", strconv.FormatInt(opts.ExpiresAtMillis, 10))
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return newAPIError(resp)
	}
	return nil
}

// Get retrieves a key; ErrNotFound on 404.
func (c *Client) Get(ctx context.Context, key []byte, replicas string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.entityURL(key, replicas), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return io.ReadAll(resp.Body)
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, newAPIError(resp)
	}
}

// Delete writes a tombstone for a key.
func (c *Client) Delete(ctx context.Context, key []byte, replicas string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.entityURL(key, replicas), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return newAPIError(resp)
	}
	return nil
}

type KeyValue struct {
	Key   []byte
	Value []byte
}

// Scan streams records in [start, end); a nil end scans to the end of
// the keyspace. Records arrive framed as key LF value LF.
func (c *Client) Scan(ctx context.Context, start, end []byte) ([]KeyValue, error) {
	q := url.Values{}
	q.Set("start", string(start))
	if end != nil {
		q.Set("end", string(end))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v0/entities?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return parseRecords(body)
}

func parseRecords(body []byte) ([]KeyValue, error) {
	if len(body) == 0 {
		return nil, nil
	}
	lines := bytes.Split(bytes.TrimSuffix(body, []byte{'\n'}), []byte{'\n'})
	if len(lines)%2 != 0 {
		return nil, fmt.Errorf("odd number of record lines: %d", len(lines))
	}
	out := make([]KeyValue, 0, len(lines)/2)
	for i := 0; i < len(lines); i += 2 {
		out = append(out, KeyValue{Key: lines[i], Value: lines[i+1]})
	}
	return out, nil
}

func (c *Client) entityURL(key []byte, replicas string) string {
	q := url.Values{}
	q.Set("id", string(key))
	if replicas != "" {
		q.Set("replicas", replicas)
	}
	return c.baseURL + "/v0/entity?" + q.Encode()
}

func newAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
}
