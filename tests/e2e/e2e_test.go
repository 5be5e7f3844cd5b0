package e2e

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestPutThenGetThroughQuorum(t *testing.T) {
	c := startCluster(t, 3)
	ctx := testContext(t)

	writer := NewClient(c.Nodes[0].BaseURL, nil)
	reader := NewClient(c.Nodes[1].BaseURL, nil)

	if err := writer.Put(ctx, []byte("foo"), []byte("bar"), PutOptions{Replicas: "2/3"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := reader.Get(ctx, []byte("foo"), "2/3")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, []byte("bar")) {
		t.Fatalf("value mismatch: got %q want %q", got, "bar")
	}
}

func TestDeleteTombstoneDominates(t *testing.T) {
	c := startCluster(t, 3)
	ctx := testContext(t)
	client := NewClient(c.Nodes[0].BaseURL, nil)

	if err := client.Put(ctx, []byte("k"), []byte("bar"), PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := client.Delete(ctx, []byte("k"), ""); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := client.Get(ctx, []byte("k"), ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestResurrectionAfterDelete(t *testing.T) {
	c := startCluster(t, 3)
	ctx := testContext(t)
	client := NewClient(c.Nodes[0].BaseURL, nil)

	if err := client.Put(ctx, []byte("phoenix"), []byte("v1"), PutOptions{}); err != nil {
		t.Fatalf("put v1: %v", err)
	}
	if err := client.Delete(ctx, []byte("phoenix"), ""); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// Timestamps are wall-clock millis; make sure the rewrite lands on
	// a strictly later stamp than the tombstone.
	time.Sleep(5 * time.Millisecond)
	if err := client.Put(ctx, []byte("phoenix"), []byte("v2"), PutOptions{}); err != nil {
		t.Fatalf("put v2: %v", err)
	}
	got, err := client.Get(ctx, []byte("phoenix"), "")
	if err != nil {
		t.Fatalf("get after resurrection: %v", err)
	}
	if !bytes.Equal(got, []byte("v2")) {
		t.Fatalf("value mismatch: got %q want %q", got, "v2")
	}
}

func TestExpiresIsHonored(t *testing.T) {
	c := startCluster(t, 3)
	ctx := testContext(t)
	client := NewClient(c.Nodes[0].BaseURL, nil)

	deadline := time.Now().UnixMilli() + 600
	if err := client.Put(ctx, []byte("ttl"), []byte("bar"), PutOptions{ExpiresAtMillis: deadline}); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := client.Get(ctx, []byte("ttl"), "")
	if err != nil {
		t.Fatalf("get before expiry: %v", err)
	}
	if !bytes.Equal(got, []byte("bar")) {
		t.Fatalf("value mismatch before expiry: got %q", got)
	}

	time.Sleep(800 * time.Millisecond)
	if _, err := client.Get(ctx, []byte("ttl"), ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after expiry, got %v", err)
	}
}

func TestOverwriteMakesKeyImmortal(t *testing.T) {
	c := startCluster(t, 3)
	ctx := testContext(t)
	client := NewClient(c.Nodes[0].BaseURL, nil)

	deadline := time.Now().UnixMilli() + 400
	if err := client.Put(ctx, []byte("k"), []byte("v1"), PutOptions{ExpiresAtMillis: deadline}); err != nil {
		t.Fatalf("put v1: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := client.Put(ctx, []byte("k"), []byte("v2"), PutOptions{}); err != nil {
		t.Fatalf("put v2: %v", err)
	}

	time.Sleep(600 * time.Millisecond)
	got, err := client.Get(ctx, []byte("k"), "")
	if err != nil {
		t.Fatalf("get after original deadline: %v", err)
	}
	if !bytes.Equal(got, []byte("v2")) {
		t.Fatalf("value mismatch: got %q want %q", got, "v2")
	}
}

func TestQuorumSurvivesIsolatedReplica(t *testing.T) {
	c := startCluster(t, 3)
	ctx := testContext(t)
	client := NewClient(c.Nodes[0].BaseURL, nil)

	c.Nodes[2].Isolate()

	if err := client.Put(ctx, []byte("k"), []byte("x"), PutOptions{Replicas: "2/3"}); err != nil {
		t.Fatalf("put with one replica down: %v", err)
	}

	c.Nodes[2].Heal(t)

	// The healed replica answers "absent" for k; absent loses to the
	// two replicas that agree on the value.
	got, err := client.Get(ctx, []byte("k"), "3/3")
	if err != nil {
		t.Fatalf("get 3/3 after heal: %v", err)
	}
	if !bytes.Equal(got, []byte("x")) {
		t.Fatalf("value mismatch: got %q want %q", got, "x")
	}
}

func TestInsufficientReplicasIsGatewayTimeout(t *testing.T) {
	c := startCluster(t, 3)
	ctx := testContext(t)
	client := NewClient(c.Nodes[0].BaseURL, nil)

	c.Nodes[1].Isolate()
	c.Nodes[2].Isolate()

	err := client.Put(ctx, []byte("k"), []byte("x"), PutOptions{Replicas: "3/3"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %v", err)
	}
}

func TestRangeScanSkipsDeleted(t *testing.T) {
	c := startCluster(t, 3)
	ctx := testContext(t)
	client := NewClient(c.Nodes[0].BaseURL, nil)

	// Write everywhere so the scanned node is guaranteed to hold every
	// key locally; range scans never leave the node.
	seed := []KeyValue{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
		{Key: []byte("c"), Value: []byte("3")},
	}
	for _, kv := range seed {
		if err := client.Put(ctx, kv.Key, kv.Value, PutOptions{Replicas: "3/3"}); err != nil {
			t.Fatalf("seed put %q: %v", kv.Key, err)
		}
	}
	if err := client.Delete(ctx, []byte("b"), "3/3"); err != nil {
		t.Fatalf("delete b: %v", err)
	}

	got, err := client.Scan(ctx, []byte("a"), []byte("d"))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	want := []KeyValue{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("c"), Value: []byte("3")},
	}
	if len(got) != len(want) {
		t.Fatalf("scan length: got %d want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if !bytes.Equal(got[i].Key, want[i].Key) || !bytes.Equal(got[i].Value, want[i].Value) {
			t.Fatalf("scan[%d] mismatch: got %q:%q want %q:%q", i, got[i].Key, got[i].Value, want[i].Key, want[i].Value)
		}
	}
}

func TestCrashRecovery(t *testing.T) {
	c := startCluster(t, 1)
	ctx := testContext(t)
	client := NewClient(c.Nodes[0].BaseURL, nil)

	if err := client.Put(ctx, []byte("crash-key"), []byte("persist-me"), PutOptions{Replicas: "1/1"}); err != nil {
		t.Fatalf("put before crash: %v", err)
	}

	c.Nodes[0].Restart(t)

	got, err := client.Get(ctx, []byte("crash-key"), "1/1")
	if err != nil {
		t.Fatalf("get after restart: %v", err)
	}
	if !bytes.Equal(got, []byte("persist-me")) {
		t.Fatalf("crash recovery lost data: got %q", got)
	}
}

func TestBadParameters(t *testing.T) {
	c := startCluster(t, 3)
	ctx := testContext(t)
	base := c.Nodes[0].BaseURL

	cases := []struct {
		name   string
		method string
		url    string
	}{
		{"empty id", http.MethodGet, base + "/v0/entity?id="},
		{"missing id", http.MethodGet, base + "/v0/entity"},
		{"zero ack", http.MethodGet, base + "/v0/entity?id=k&replicas=0/3"},
		{"ack above from", http.MethodGet, base + "/v0/entity?id=k&replicas=3/2"},
		{"from above cluster", http.MethodGet, base + "/v0/entity?id=k&replicas=2/9"},
		{"garbage replicas", http.MethodGet, base + "/v0/entity?id=k&replicas=x"},
		{"missing start", http.MethodGet, base + "/v0/entities"},
		{"empty end", http.MethodGet, base + "/v0/entities?start=a&end="},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequestWithContext(ctx, tc.method, tc.url, nil)
			if err != nil {
				t.Fatalf("build request: %v", err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("do request: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	c := startCluster(t, 1)
	ctx := testContext(t)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Nodes[0].BaseURL+"/v0/entity?id=k", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	t.Cleanup(cancel)
	return ctx
}
