package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLessNewerTimestampWins(t *testing.T) {
	older := Live(100, []byte("a"), NeverExpires)
	newer := Live(200, []byte("b"), NeverExpires)
	assert.True(t, newer.Less(older))
	assert.False(t, older.Less(newer))
}

func TestLessTombstoneBreaksTimestampTie(t *testing.T) {
	live := Live(100, []byte("a"), NeverExpires)
	tomb := Tomb(100)
	assert.True(t, tomb.Less(live))
	assert.False(t, live.Less(tomb))
}

func TestLessIsTotalOrderAcrossTraversalOrder(t *testing.T) {
	a := Live(100, []byte("a"), NeverExpires)
	b := Live(100, []byte("b"), NeverExpires)

	// Whichever order the two values are compared in, the same one wins.
	winnerAB := a.Less(b)
	winnerBA := b.Less(a)
	assert.NotEqual(t, winnerAB, winnerBA)
}

func TestIsExpired(t *testing.T) {
	v := Live(100, []byte("x"), 1_000)
	assert.False(t, v.IsExpired(999))
	assert.True(t, v.IsExpired(1_000))
	assert.True(t, v.IsExpired(1_001))

	forever := Live(100, []byte("x"), NeverExpires)
	assert.False(t, forever.IsExpired(1<<62))
}
