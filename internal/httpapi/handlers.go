package httpapi

import (
	"io"
	"net/http"
	"strconv"

	"golang.org/x/sync/errgroup"

	"quorumkv/internal/coordinator"
	"quorumkv/internal/store"
	"quorumkv/internal/value"
)

// handleGet serves both halves of the GET protocol. A request carrying
// the proxy header is a replica hop: it answers with exactly what the
// local engine holds, framing absence, tombstones, and live values so
// the originator can tell them apart. Everything else is an
// originating request that fans out through the coordinator.
func (s *server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := []byte(r.URL.Query().Get("id"))
	if err := coordinator.ValidateKey(key); err != nil {
		s.writeError(w, r, err)
		return
	}

	if r.Header.Get(proxyHeaderName) != "" {
		res, err := s.coord.LocalGet(r.Context(), key)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		switch {
		case res.Absent:
			w.WriteHeader(http.StatusNotFound)
		case res.Tombstone:
			w.Header().Set(timestampHeaderName, strconv.FormatInt(res.Value.Timestamp, 10))
			w.WriteHeader(http.StatusNotFound)
		default:
			w.Header().Set(timestampHeaderName, strconv.FormatInt(res.Value.Timestamp, 10))
			if res.Value.ExpiresAt != value.NeverExpires {
				w.Header().Set(expiresHeaderName, strconv.FormatInt(res.Value.ExpiresAt, 10))
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(res.Value.Data)
		}
		return
	}

	repl, err := coordinator.ParseReplicas(r.URL.Query().Get("replicas"), s.clusterSize, s.defaultFrom)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out, err := s.coord.Get(r.Context(), key, repl)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !out.Found {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Data)
}

// handlePut writes a value. The expiration deadline arrives in the
// Expires header as millis since epoch; a missing or unparseable
// header means the value never expires, never a client error.
func (s *server) handlePut(w http.ResponseWriter, r *http.Request) {
	key := []byte(r.URL.Query().Get("id"))
	if err := coordinator.ValidateKey(key); err != nil {
		s.writeError(w, r, err)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.log.Error("read put body", "request_id", requestIDFrom(r.Context()), "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	expiresAt := parseExpires(r.Header.Get(expiresHeaderName))

	if r.Header.Get(proxyHeaderName) != "" {
		if err := s.coord.LocalPut(r.Context(), key, body, expiresAt); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
		return
	}

	repl, err := coordinator.ParseReplicas(r.URL.Query().Get("replicas"), s.clusterSize, s.defaultFrom)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.coord.Put(r.Context(), key, body, expiresAt, repl); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := []byte(r.URL.Query().Get("id"))
	if err := coordinator.ValidateKey(key); err != nil {
		s.writeError(w, r, err)
		return
	}

	if r.Header.Get(proxyHeaderName) != "" {
		if err := s.coord.LocalDelete(r.Context(), key); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	repl, err := coordinator.ParseReplicas(r.URL.Query().Get("replicas"), s.clusterSize, s.defaultFrom)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.coord.Delete(r.Context(), key, repl); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleEntities streams a local range scan as a chunked response, one
// chunk per record, ending with the empty chunk Go writes when the
// handler returns. A producer goroutine pulls from the iterator into a
// small bounded channel, so a slow client stalls the pull instead of
// growing a buffer.
func (s *server) handleEntities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start := q.Get("start")
	if err := coordinator.ValidateRangeStart(start); err != nil {
		s.writeError(w, r, err)
		return
	}
	rawEnd := q.Get("end")
	if err := coordinator.ValidateRangeEnd(rawEnd, q.Has("end")); err != nil {
		s.writeError(w, r, err)
		return
	}
	var end []byte
	if rawEnd != "" {
		end = []byte(rawEnd)
	}

	it, err := s.coord.Range(r.Context(), []byte(start), end)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Transfer-Encoding", "chunked")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	records := make(chan store.Record, 16)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		defer close(records)
		for {
			rec, ok := it.Next()
			if !ok {
				return nil
			}
			select {
			case records <- rec:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	for rec := range records {
		if err := writeRecordChunk(w, rec); err != nil {
			s.log.Warn("range stream aborted", "request_id", requestIDFrom(r.Context()), "err", err)
			break
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	if err := g.Wait(); err != nil {
		s.log.Warn("range producer stopped", "request_id", requestIDFrom(r.Context()), "err", err)
	}
}

// writeRecordChunk frames one record as key LF data LF.
func writeRecordChunk(w io.Writer, rec store.Record) error {
	if _, err := w.Write(rec.Key); err != nil {
		return err
	}
	if _, err := w.Write([]byte{'\n'}); err != nil {
		return err
	}
	if _, err := w.Write(rec.Data); err != nil {
		return err
	}
	_, err := w.Write([]byte{'\n'})
	return err
}

// parseExpires reads an Expires header value. Absence and garbage both
// mean never-expires; proxies and originators agree on this so a bad
// header can never make replicas diverge.
func parseExpires(raw string) int64 {
	if raw == "" {
		return value.NeverExpires
	}
	expiresAt, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return value.NeverExpires
	}
	return expiresAt
}
