package httpapi

import (
	"errors"
	"net/http"

	"quorumkv/internal/kverr"
)

// statusFor maps the internal/kverr taxonomy to status codes. Anything
// not recognized is an internal bug, never a client-facing 400.
func statusFor(err error) int {
	switch {
	case errors.Is(err, kverr.ErrBadParameters):
		return http.StatusBadRequest
	case errors.Is(err, kverr.ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed
	case errors.Is(err, kverr.ErrOverloaded):
		return http.StatusServiceUnavailable
	case errors.Is(err, kverr.ErrInsufficientReplicas):
		return http.StatusGatewayTimeout
	case errors.Is(err, kverr.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("internal failure", "request_id", requestIDFrom(r.Context()), "err", err)
	}
	w.WriteHeader(status)
}
