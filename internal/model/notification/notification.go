package notification

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle position of a notification.
type Status string

const (
	StatusUnread   Status = "unread"
	StatusRead     Status = "read"
	StatusArchived Status = "archived"
)

// ErrInvalidTransition is returned when a status change would move a
// notification backwards.
var ErrInvalidTransition = errors.New("invalid notification status transition")

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusUnread, StatusRead, StatusArchived:
		return true
	default:
		return false
	}
}

func (s Status) rank() int {
	switch s {
	case StatusRead:
		return 1
	case StatusArchived:
		return 2
	default:
		return 0
	}
}

// Priority ranks notification urgency.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Notification is a push notification record.
type Notification struct {
	ID             string     `json:"id" validate:"required"`
	Title          string     `json:"title"`
	Message        string     `json:"message"`
	Kind           string     `json:"kind"`
	Priority       Priority   `json:"priority"`
	IsGeneral      bool       `json:"is_general"`
	IsPersonal     bool       `json:"is_personal"`
	RelatedProject *string    `json:"related_project,omitempty"`
	RelatedTask    *string    `json:"related_task,omitempty"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}

// Transition moves n to the target status at the given time. Only forward
// moves are allowed: unread→read, unread→archived, read→archived.
// Staying in place is a no-op. ReadAt is set on the first move off unread.
func (n Notification) Transition(to Status, at time.Time) (Notification, error) {
	if !to.Valid() {
		return n, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	from := n.normalizedStatus()
	if to.rank() < from.rank() {
		return n, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	n.Status = to
	if to != StatusUnread && n.ReadAt == nil {
		readAt := at
		n.ReadAt = &readAt
	}
	return n, nil
}

// Normalize repairs a record received from the wire so that ReadAt is
// set iff the status is read or archived. A missing status means unread.
func (n Notification) Normalize(at time.Time) Notification {
	n.Status = n.normalizedStatus()
	switch n.Status {
	case StatusUnread:
		n.ReadAt = nil
	default:
		if n.ReadAt == nil {
			readAt := at
			n.ReadAt = &readAt
		}
	}
	return n
}

func (n Notification) normalizedStatus() Status {
	if !n.Status.Valid() {
		return StatusUnread
	}
	return n.Status
}

// Filter selects notifications for listing. Empty fields match anything.
type Filter struct {
	Kind     string
	Status   Status
	Priority Priority
}

// Match reports whether n satisfies f.
func (f Filter) Match(n Notification) bool {
	if f.Kind != "" && n.Kind != f.Kind {
		return false
	}
	if f.Status != "" && n.Status != f.Status {
		return false
	}
	if f.Priority != "" && n.Priority != f.Priority {
		return false
	}
	return true
}
