// Package presence tracks the online users of a room from authoritative
// snapshots and incremental join/leave deltas.
package presence

import (
	"sort"

	"github.com/samber/lo"

	model "github.com/zhouzirui/pmdesk/realtime/internal/model/presence"
)

type member struct {
	entry model.Entry
	seq   uint64
}

// Tracker holds one room's online set. Not safe for concurrent use.
type Tracker struct {
	members map[string]member
	seq     uint64
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{members: make(map[string]member)}
}

// ApplySnapshot replaces the online set with users. Users already
// online keep their join position; newcomers are joined in the order
// given. Applying the same snapshot twice changes nothing.
// Returns true if the set of user ids changed.
func (t *Tracker) ApplySnapshot(users []model.Entry) bool {
	users = lo.UniqBy(lo.Filter(users, func(u model.Entry, _ int) bool { return u.UserID != "" }),
		func(u model.Entry) string { return u.UserID })

	next := make(map[string]member, len(users))
	changed := len(users) != len(t.members)
	for _, user := range users {
		if existing, ok := t.members[user.UserID]; ok {
			next[user.UserID] = member{entry: user, seq: existing.seq}
			continue
		}
		changed = true
		t.seq++
		next[user.UserID] = member{entry: user, seq: t.seq}
	}
	t.members = next
	return changed
}

// Join adds a user as the most recent arrival. Joining twice keeps the
// original position but refreshes the display fields.
func (t *Tracker) Join(user model.Entry) bool {
	if user.UserID == "" {
		return false
	}
	if existing, ok := t.members[user.UserID]; ok {
		t.members[user.UserID] = member{entry: user, seq: existing.seq}
		return false
	}
	t.seq++
	t.members[user.UserID] = member{entry: user, seq: t.seq}
	return true
}

// Leave removes a user. Returns false if the user was not online.
func (t *Tracker) Leave(userID string) bool {
	if _, ok := t.members[userID]; !ok {
		return false
	}
	delete(t.members, userID)
	return true
}

// IsOnline reports whether userID is in the set.
func (t *Tracker) IsOnline(userID string) bool {
	_, ok := t.members[userID]
	return ok
}

// Count returns the number of online users.
func (t *Tracker) Count() int { return len(t.members) }

// Online returns the set ordered by join recency, most recent first.
func (t *Tracker) Online() []model.Entry {
	members := lo.Values(t.members)
	sort.Slice(members, func(i, j int) bool { return members[i].seq > members[j].seq })
	return lo.Map(members, func(m member, _ int) model.Entry { return m.entry })
}

// Summary returns the first limit users of Online and how many more are
// hidden. limit <= 0 shows everyone.
func (t *Tracker) Summary(limit int) model.Summary {
	online := t.Online()
	if limit <= 0 || limit >= len(online) {
		return model.Summary{Shown: online, Total: len(online)}
	}
	return model.Summary{Shown: online[:limit], More: len(online) - limit, Total: len(online)}
}

// Reset empties the set.
func (t *Tracker) Reset() {
	t.members = make(map[string]member)
}
