package inbox

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/pmdesk/realtime/internal/model/notification"
)

var now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func note(id string, status notification.Status) notification.Notification {
	return notification.Notification{ID: id, Title: "t" + id, Status: status, CreatedAt: now}
}

func countStatus(b *Inbox, status notification.Status) int {
	return len(b.List(notification.Filter{Status: status}))
}

func requireNoDrift(t *testing.T, b *Inbox) {
	t.Helper()
	require.Equal(t, countStatus(b, notification.StatusUnread), b.UnreadCount())
	for _, n := range b.List(notification.Filter{}) {
		require.Equal(t, n.Status != notification.StatusUnread, n.ReadAt != nil, n.ID)
	}
}

func seeded(t *testing.T, unread int) *Inbox {
	t.Helper()
	b := New()
	for i := 0; i < unread; i++ {
		require.True(t, b.Insert(note(fmt.Sprint(i), "")))
	}
	return b
}

func TestPersonalNotificationIncrementsUnread(t *testing.T) {
	b := seeded(t, 5)
	require.Equal(t, 5, b.UnreadCount())

	require.True(t, b.Insert(notification.Notification{ID: "new", IsPersonal: true}))
	require.Equal(t, 6, b.UnreadCount())
	requireNoDrift(t, b)
}

func TestInsertIgnoresKnownIDs(t *testing.T) {
	b := seeded(t, 1)
	require.NoError(t, b.MarkRead("0", now))

	require.False(t, b.Insert(note("0", notification.StatusUnread)))
	n, _ := b.Get("0")
	require.Equal(t, notification.StatusRead, n.Status)
}

func TestMarkAllRead(t *testing.T) {
	b := seeded(t, 4)
	b.Insert(note("x", ""))
	require.NoError(t, b.Archive("x", now))
	requireNoDrift(t, b)

	moved, err := b.MarkAllRead(now)
	require.NoError(t, err)
	require.Equal(t, 4, moved)
	require.Zero(t, b.UnreadCount())
	require.Equal(t, 4, countStatus(b, notification.StatusRead))
	require.Equal(t, 1, countStatus(b, notification.StatusArchived))
	requireNoDrift(t, b)
}

func TestArchivedCannotReturnToUnread(t *testing.T) {
	b := seeded(t, 1)
	require.NoError(t, b.Archive("0", now))

	require.ErrorIs(t, b.MarkRead("0", now), notification.ErrInvalidTransition)
	b.Insert(note("0", notification.StatusUnread))
	b.Merge([]notification.Notification{note("0", notification.StatusUnread)}, now)
	_, _ = b.MarkAllRead(now)

	n, _ := b.Get("0")
	require.Equal(t, notification.StatusArchived, n.Status)
	require.Zero(t, b.UnreadCount())
}

func TestArchiveDirectlyFromUnread(t *testing.T) {
	b := seeded(t, 1)
	require.NoError(t, b.Archive("0", now))
	requireNoDrift(t, b)
}

func TestActionsOnUnknownID(t *testing.T) {
	b := New()
	require.ErrorIs(t, b.MarkRead("missing", now), ErrNotFound)
	require.ErrorIs(t, b.Archive("missing", now), ErrNotFound)
	require.ErrorIs(t, b.Check("missing", notification.StatusRead), ErrNotFound)
}

func TestMergeWithoutDuplicates(t *testing.T) {
	b := seeded(t, 2)
	changed := b.Merge([]notification.Notification{
		note("0", notification.StatusUnread),
		note("1", notification.StatusRead),
		note("2", notification.StatusUnread),
	}, now)

	require.Equal(t, 2, changed)
	require.Equal(t, 3, b.Len())
	require.Equal(t, 2, b.UnreadCount())
	requireNoDrift(t, b)
}

func TestListFilterAndOrder(t *testing.T) {
	b := New()
	older := note("a", "")
	older.CreatedAt = now.Add(-time.Hour)
	older.Priority = notification.PriorityHigh
	b.Insert(older)
	b.Insert(note("b", ""))

	all := b.List(notification.Filter{})
	require.Equal(t, "b", all[0].ID)

	high := b.List(notification.Filter{Priority: notification.PriorityHigh})
	require.Len(t, high, 1)
	require.Equal(t, []string{"a", "b"}, b.UnreadIDs())
}
