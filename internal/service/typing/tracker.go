// Package typing tracks who is currently typing in a room and rate-limits
// the local user's own typing signals.
package typing

import (
	"sort"
	"time"

	"github.com/samber/lo"
)

// DefaultTTL is how long a typing signal stays valid without a refresh.
const DefaultTTL = 3 * time.Second

// Entry is a user currently typing.
type Entry struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Tracker is the best-effort set of typing users of one room. Entries
// expire after the TTL even if no stop signal arrives. Not safe for
// concurrent use.
type Tracker struct {
	ttl     time.Duration
	entries map[string]Entry
}

// NewTracker returns a tracker; ttl <= 0 uses DefaultTTL.
func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{ttl: ttl, entries: make(map[string]Entry)}
}

// Start upserts userID with a fresh expiry.
func (t *Tracker) Start(userID, displayName string, now time.Time) {
	if userID == "" {
		return
	}
	t.entries[userID] = Entry{UserID: userID, DisplayName: displayName, ExpiresAt: now.Add(t.ttl)}
}

// Stop removes userID. Returns false if the user was not typing.
func (t *Tracker) Stop(userID string) bool {
	if _, ok := t.entries[userID]; !ok {
		return false
	}
	delete(t.entries, userID)
	return true
}

// Sweep evicts entries expired at now and returns how many were removed.
func (t *Tracker) Sweep(now time.Time) int {
	removed := 0
	for id, entry := range t.entries {
		if !now.Before(entry.ExpiresAt) {
			delete(t.entries, id)
			removed++
		}
	}
	return removed
}

// Active sweeps lazily and returns the remaining entries sorted by
// display name, then user id.
func (t *Tracker) Active(now time.Time) []Entry {
	t.Sweep(now)
	entries := lo.Values(t.entries)
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].DisplayName == entries[j].DisplayName {
			return entries[i].UserID < entries[j].UserID
		}
		return entries[i].DisplayName < entries[j].DisplayName
	})
	return entries
}

// Reset drops every entry.
func (t *Tracker) Reset() {
	t.entries = make(map[string]Entry)
}
