// Package inbox holds the session's notification records and enforces
// the unread → read → archived state machine.
package inbox

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/zhouzirui/pmdesk/realtime/internal/model/notification"
)

// ErrNotFound is returned for actions on an unknown notification id.
var ErrNotFound = errors.New("notification not found")

// Inbox is the process-wide notification collection of one session. The
// unread count is always derived from the records. Not safe for
// concurrent use; the session event loop serializes access.
type Inbox struct {
	items map[string]notification.Notification
}

// New returns an empty inbox.
func New() *Inbox {
	return &Inbox{items: make(map[string]notification.Notification)}
}

// Insert adds a live pushed notification as unread. A notification whose
// id is already known is left untouched. Returns true if it was added.
func (b *Inbox) Insert(n notification.Notification) bool {
	if n.ID == "" {
		return false
	}
	if _, ok := b.items[n.ID]; ok {
		return false
	}
	n.Status = notification.StatusUnread
	n.ReadAt = nil
	b.items[n.ID] = n
	return true
}

// Merge folds a batch into the inbox without duplicating ids. Known
// records only ever move forward in status. Returns how many records
// were added or advanced.
func (b *Inbox) Merge(batch []notification.Notification, now time.Time) int {
	changed := 0
	for _, incoming := range batch {
		if incoming.ID == "" {
			continue
		}
		incoming = incoming.Normalize(now)
		existing, ok := b.items[incoming.ID]
		if !ok {
			b.items[incoming.ID] = incoming
			changed++
			continue
		}
		advanced, err := existing.Transition(incoming.Status, now)
		if err != nil || advanced.Status == existing.Status {
			continue
		}
		if incoming.ReadAt != nil && existing.ReadAt == nil {
			advanced.ReadAt = incoming.ReadAt
		}
		b.items[incoming.ID] = advanced
		changed++
	}
	return changed
}

// Check reports whether id can move to status without applying it.
func (b *Inbox) Check(id string, to notification.Status) error {
	n, ok := b.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	_, err := n.Transition(to, time.Time{})
	return err
}

// MarkRead moves an unread notification to read. Marking a read one
// again is a no-op; an archived one returns ErrInvalidTransition.
func (b *Inbox) MarkRead(id string, at time.Time) error {
	return b.transition(id, notification.StatusRead, at)
}

// Archive moves an unread or read notification to archived.
func (b *Inbox) Archive(id string, at time.Time) error {
	return b.transition(id, notification.StatusArchived, at)
}

// MarkAllRead moves every unread notification to read in one step and
// returns how many moved. The transitions are computed before any is
// applied, so a failure leaves the inbox unchanged.
func (b *Inbox) MarkAllRead(at time.Time) (int, error) {
	next := make(map[string]notification.Notification)
	for id, n := range b.items {
		if n.Status != notification.StatusUnread {
			continue
		}
		read, err := n.Transition(notification.StatusRead, at)
		if err != nil {
			return 0, err
		}
		next[id] = read
	}
	for id, n := range next {
		b.items[id] = n
	}
	return len(next), nil
}

// UnreadCount is the number of unread records, computed on every call.
func (b *Inbox) UnreadCount() int {
	return lo.CountBy(lo.Values(b.items), func(n notification.Notification) bool {
		return n.Status == notification.StatusUnread
	})
}

// UnreadIDs returns the ids of unread records.
func (b *Inbox) UnreadIDs() []string {
	ids := lo.FilterMap(lo.Values(b.items), func(n notification.Notification, _ int) (string, bool) {
		return n.ID, n.Status == notification.StatusUnread
	})
	sort.Strings(ids)
	return ids
}

// Get returns one record.
func (b *Inbox) Get(id string) (notification.Notification, bool) {
	n, ok := b.items[id]
	return n, ok
}

// Len returns the number of records.
func (b *Inbox) Len() int { return len(b.items) }

// List returns the records matching f, newest first.
func (b *Inbox) List(f notification.Filter) []notification.Notification {
	list := lo.Filter(lo.Values(b.items), func(n notification.Notification, _ int) bool {
		return f.Match(n)
	})
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID > list[j].ID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list
}

func (b *Inbox) transition(id string, to notification.Status, at time.Time) error {
	n, ok := b.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next, err := n.Transition(to, at)
	if err != nil {
		return err
	}
	b.items[id] = next
	return nil
}
