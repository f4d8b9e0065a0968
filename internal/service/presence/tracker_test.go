package presence

import (
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	model "github.com/zhouzirui/pmdesk/realtime/internal/model/presence"
)

func users(ids ...string) []model.Entry {
	return lo.Map(ids, func(id string, _ int) model.Entry {
		return model.Entry{UserID: id, DisplayName: "user " + id}
	})
}

func onlineIDs(t *Tracker) []string {
	return lo.Map(t.Online(), func(e model.Entry, _ int) string { return e.UserID })
}

func TestSnapshotIsIdempotent(t *testing.T) {
	tr := NewTracker()
	require.True(t, tr.ApplySnapshot(users("a", "b", "c")))
	first := tr.Online()

	require.False(t, tr.ApplySnapshot(users("a", "b", "c")))
	require.Equal(t, first, tr.Online())
}

func TestSnapshotWinsOverIncrementalState(t *testing.T) {
	tr := NewTracker()
	tr.ApplySnapshot(users("a", "b"))
	tr.Join(model.Entry{UserID: "stale"})
	tr.Leave("a")

	tr.ApplySnapshot(users("a", "c"))
	require.ElementsMatch(t, []string{"a", "c"}, onlineIDs(tr))
	require.False(t, tr.IsOnline("stale"))
	require.False(t, tr.IsOnline("b"))
}

func TestOnlineOrderedByJoinRecency(t *testing.T) {
	tr := NewTracker()
	tr.ApplySnapshot(users("a", "b"))
	tr.Join(model.Entry{UserID: "c"})
	require.Equal(t, []string{"c", "b", "a"}, onlineIDs(tr))

	// A snapshot keeps existing positions and appends newcomers.
	tr.ApplySnapshot(users("d", "a", "b", "c"))
	require.Equal(t, []string{"d", "c", "b", "a"}, onlineIDs(tr))
}

func TestJoinTwiceKeepsPosition(t *testing.T) {
	tr := NewTracker()
	tr.Join(model.Entry{UserID: "a"})
	tr.Join(model.Entry{UserID: "b"})
	require.False(t, tr.Join(model.Entry{UserID: "a", DisplayName: "renamed"}))
	require.Equal(t, []string{"b", "a"}, onlineIDs(tr))
	require.Equal(t, "renamed", tr.Online()[1].DisplayName)
}

func TestSnapshotDropsDuplicatesAndBlankIDs(t *testing.T) {
	tr := NewTracker()
	tr.ApplySnapshot([]model.Entry{{UserID: "a"}, {UserID: ""}, {UserID: "a"}})
	require.Equal(t, 1, tr.Count())
}

func TestSummary(t *testing.T) {
	tr := NewTracker()
	tr.ApplySnapshot(users("a", "b", "c", "d", "e"))

	summary := tr.Summary(3)
	require.Len(t, summary.Shown, 3)
	require.Equal(t, 2, summary.More)
	require.Equal(t, 5, summary.Total)

	all := tr.Summary(0)
	require.Len(t, all.Shown, 5)
	require.Zero(t, all.More)
}
