// Package kverr names the error taxonomy the coordinator and transport
// layer agree on. Kinds, not types: callers compare against the
// sentinel values with errors.Is, wrap with fmt.Errorf("...: %w", ...)
// for context, and the HTTP layer is the only place that turns a kind
// into a status code.
package kverr

import "errors"

var (
	// ErrBadParameters marks a malformed id, replicas, or start/end.
	ErrBadParameters = errors.New("bad parameters")
	// ErrMethodNotAllowed marks a method with no matching operation.
	ErrMethodNotAllowed = errors.New("method not allowed")
	// ErrOverloaded marks a local work queue that rejected admission.
	ErrOverloaded = errors.New("overloaded")
	// ErrInsufficientReplicas marks a quorum that could not be reached.
	ErrInsufficientReplicas = errors.New("insufficient replicas")
	// ErrTransportFailure marks a single failed peer call. Never
	// surfaced directly to a client; absorbed into a replica count.
	ErrTransportFailure = errors.New("transport failure")
	// ErrInternal marks an unexpected engine or serialization error.
	ErrInternal = errors.New("internal failure")
	// ErrShuttingDown marks a server that is no longer accepting work.
	ErrShuttingDown = errors.New("shutting down")
)
