package peer

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"quorumkv/internal/value"
)

func TestGetLiveValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "true", r.Header.Get("Proxy_Header"))
		w.Header().Set("Timestamp_Header", "42")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("bar"))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	res, err := c.Get(context.Background(), []byte("foo"))
	require.NoError(t, err)
	require.False(t, res.Absent)
	require.False(t, res.Tombstone)
	require.Equal(t, []byte("bar"), res.Value.Data)
	require.EqualValues(t, 42, res.Value.Timestamp)
}

func TestGetAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	res, err := c.Get(context.Background(), []byte("foo"))
	require.NoError(t, err)
	require.True(t, res.Absent)
}

func TestGetTombstone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Timestamp_Header", "99")
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	res, err := c.Get(context.Background(), []byte("foo"))
	require.NoError(t, err)
	require.True(t, res.Tombstone)
	require.EqualValues(t, 99, res.Value.Timestamp)
}

func TestPutSendsExpiresHeader(t *testing.T) {
	var gotExpires string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotExpires = r.Header.Get("Expires")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	err := c.Put(context.Background(), []byte("k"), []byte("v"), 1234)
	require.NoError(t, err)
	require.Equal(t, "1234", gotExpires)
	require.Equal(t, []byte("v"), gotBody)
}

func TestPutOmitsExpiresHeaderWhenNeverExpires(t *testing.T) {
	var sawHeader bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawHeader = r.Header["Expires"]
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	require.NoError(t, c.Put(context.Background(), []byte("k"), []byte("v"), 1234))
	require.True(t, sawHeader)

	require.NoError(t, c.Put(context.Background(), []byte("k"), []byte("v"), value.NeverExpires))
	require.False(t, sawHeader)
}

func TestGetParsesExpiresHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Timestamp_Header", "42")
		w.Header().Set("Expires", "5000")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("bar"))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	res, err := c.Get(context.Background(), []byte("foo"))
	require.NoError(t, err)
	require.EqualValues(t, 5000, res.Value.ExpiresAt)
}

func TestGetDefaultsToNeverExpiresWithoutHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Timestamp_Header", "42")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("bar"))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	res, err := c.Get(context.Background(), []byte("foo"))
	require.NoError(t, err)
	require.Equal(t, value.NeverExpires, res.Value.ExpiresAt)
}

func TestDelete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "true", r.Header.Get("Proxy_Header"))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	require.NoError(t, c.Delete(context.Background(), []byte("k")))
}
