package typing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

func TestEntryAbsentAfterTTL(t *testing.T) {
	tr := NewTracker(0)
	tr.Start("u1", "Ana", t0)

	require.Len(t, tr.Active(t0.Add(DefaultTTL-time.Millisecond)), 1)
	require.Empty(t, tr.Active(t0.Add(DefaultTTL+time.Millisecond)))
}

func TestStartRefreshesExpiry(t *testing.T) {
	tr := NewTracker(time.Second)
	tr.Start("u1", "Ana", t0)
	tr.Start("u1", "Ana", t0.Add(900*time.Millisecond))

	require.Len(t, tr.Active(t0.Add(1500*time.Millisecond)), 1)
}

func TestStopRemovesImmediately(t *testing.T) {
	tr := NewTracker(0)
	tr.Start("u1", "Ana", t0)
	require.True(t, tr.Stop("u1"))
	require.False(t, tr.Stop("u1"))
	require.Empty(t, tr.Active(t0))
}

func TestSweepCountsEvictions(t *testing.T) {
	tr := NewTracker(time.Second)
	tr.Start("u1", "Ana", t0)
	tr.Start("u2", "Bo", t0.Add(2*time.Second))

	require.Equal(t, 1, tr.Sweep(t0.Add(2*time.Second)))
	active := tr.Active(t0.Add(2 * time.Second))
	require.Len(t, active, 1)
	require.Equal(t, "u2", active[0].UserID)
}

func TestActiveSortedByName(t *testing.T) {
	tr := NewTracker(0)
	tr.Start("u2", "Zoe", t0)
	tr.Start("u1", "Ana", t0)
	active := tr.Active(t0)
	require.Equal(t, "Ana", active[0].DisplayName)
	require.Equal(t, "Zoe", active[1].DisplayName)
}
