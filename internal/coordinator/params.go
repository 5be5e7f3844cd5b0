package coordinator

import (
	"fmt"
	"strconv"
	"strings"

	"quorumkv/internal/kverr"
)

// Replicas is a parsed ack/from quorum pair.
type Replicas struct {
	Ack  int
	From int
}

// ParseReplicas parses a "replicas=ack/from" query value against a
// cluster of clusterSize nodes. An empty raw value defaults to the
// node's configured replication factor: from = defaultFrom (already
// clamped to the cluster size at startup) and ack = a majority of it.
// Constraints: 1 <= ack <= from <= clusterSize.
func ParseReplicas(raw string, clusterSize, defaultFrom int) (Replicas, error) {
	if raw == "" {
		return Replicas{Ack: defaultFrom/2 + 1, From: defaultFrom}, nil
	}

	ack, from, ok := strings.Cut(raw, "/")
	if !ok {
		return Replicas{}, fmt.Errorf("%w: replicas %q must be ack/from", kverr.ErrBadParameters, raw)
	}
	a, err := strconv.Atoi(ack)
	if err != nil {
		return Replicas{}, fmt.Errorf("%w: replicas ack %q is not an integer", kverr.ErrBadParameters, ack)
	}
	f, err := strconv.Atoi(from)
	if err != nil {
		return Replicas{}, fmt.Errorf("%w: replicas from %q is not an integer", kverr.ErrBadParameters, from)
	}
	if a < 1 || f < 1 || a > f || f > clusterSize {
		return Replicas{}, fmt.Errorf("%w: replicas %d/%d violates 1<=ack<=from<=%d", kverr.ErrBadParameters, a, f, clusterSize)
	}
	return Replicas{Ack: a, From: f}, nil
}

// ValidateKey enforces the non-empty key constraint shared by GET, PUT,
// and DELETE.
func ValidateKey(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: id must not be empty", kverr.ErrBadParameters)
	}
	return nil
}

// ValidateRangeStart enforces the non-empty start constraint for range
// scans.
func ValidateRangeStart(start string) error {
	if start == "" {
		return fmt.Errorf("%w: start must not be empty", kverr.ErrBadParameters)
	}
	return nil
}

// ValidateRangeEnd rejects an "end" that is present in the query
// string but empty. An absent end means scan to the end of the
// keyspace, which is fine; an explicitly empty one is a client error.
func ValidateRangeEnd(end string, present bool) error {
	if present && end == "" {
		return fmt.Errorf("%w: end must not be empty when present", kverr.ErrBadParameters)
	}
	return nil
}
