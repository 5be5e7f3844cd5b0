// Package httpapi exposes the coordinator over HTTP: the chi-routed
// /v0/status, /v0/entity, and /v0/entities surface, translating
// coordinator outcomes and the internal/kverr taxonomy into the status
// codes clients see.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"quorumkv/internal/coordinator"
)

const (
	proxyHeaderName     = "Proxy_Header"
	expiresHeaderName   = "Expires"
	timestampHeaderName = "Timestamp_Header"
)

// server holds the dependencies the HTTP handlers close over.
type server struct {
	coord       *coordinator.Coordinator
	nodeID      string
	clusterSize int
	defaultFrom int
	log         *slog.Logger
	startedAt   time.Time
}

// NewRouter builds the full HTTP surface for a node. defaultFrom is
// the configured replication factor, used as the replica fan-out when
// a request omits the replicas parameter.
func NewRouter(coord *coordinator.Coordinator, nodeID string, clusterSize, defaultFrom int, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	s := &server{
		coord:       coord,
		nodeID:      nodeID,
		clusterSize: clusterSize,
		defaultFrom: defaultFrom,
		log:         log,
		startedAt:   time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer, withRequestID, s.logRequests)
	r.Get("/v0/status", s.handleStatus)
	r.Get("/v0/entity", s.handleGet)
	r.Put("/v0/entity", s.handlePut)
	r.Delete("/v0/entity", s.handleDelete)
	r.Get("/v0/entities", s.handleEntities)
	return r
}

type statusBody struct {
	Node     string `json:"node"`
	UptimeMs int64  `json:"uptime_ms"`
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(statusBody{
		Node:     s.nodeID,
		UptimeMs: time.Since(s.startedAt).Milliseconds(),
	})
}
