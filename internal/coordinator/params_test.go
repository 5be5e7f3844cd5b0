package coordinator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"quorumkv/internal/kverr"
)

func TestParseReplicasDefaultsToQuorumOverReplicationFactor(t *testing.T) {
	r, err := ParseReplicas("", 3, 3)
	require.NoError(t, err)
	require.Equal(t, Replicas{Ack: 2, From: 3}, r)
}

func TestParseReplicasDefaultHonorsConfiguredFactor(t *testing.T) {
	// A factor smaller than the cluster narrows the default fan-out.
	r, err := ParseReplicas("", 5, 3)
	require.NoError(t, err)
	require.Equal(t, Replicas{Ack: 2, From: 3}, r)

	r, err = ParseReplicas("", 1, 1)
	require.NoError(t, err)
	require.Equal(t, Replicas{Ack: 1, From: 1}, r)
}

func TestParseReplicasExplicit(t *testing.T) {
	r, err := ParseReplicas("1/3", 3, 2)
	require.NoError(t, err)
	require.Equal(t, Replicas{Ack: 1, From: 3}, r)
}

func TestParseReplicasRejectsAckGreaterThanFrom(t *testing.T) {
	_, err := ParseReplicas("3/2", 3, 2)
	require.ErrorIs(t, err, kverr.ErrBadParameters)
}

func TestParseReplicasRejectsFromGreaterThanClusterSize(t *testing.T) {
	_, err := ParseReplicas("2/5", 3, 2)
	require.ErrorIs(t, err, kverr.ErrBadParameters)
}

func TestParseReplicasRejectsZeroAck(t *testing.T) {
	_, err := ParseReplicas("0/3", 3, 2)
	require.ErrorIs(t, err, kverr.ErrBadParameters)
}

func TestParseReplicasRejectsMalformed(t *testing.T) {
	_, err := ParseReplicas("garbage", 3, 2)
	require.ErrorIs(t, err, kverr.ErrBadParameters)
}

func TestValidateKeyRejectsEmpty(t *testing.T) {
	require.ErrorIs(t, ValidateKey(nil), kverr.ErrBadParameters)
	require.NoError(t, ValidateKey([]byte("k")))
}

func TestValidateRangeStartRejectsEmpty(t *testing.T) {
	require.ErrorIs(t, ValidateRangeStart(""), kverr.ErrBadParameters)
	require.NoError(t, ValidateRangeStart("a"))
}
