// Package messages holds the ordered, deduplicated message log of one
// chat room.
package messages

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/zhouzirui/pmdesk/realtime/internal/model/chat"
)

// Store is the message log of a single room. It is not safe for
// concurrent use; the owning room's event loop serializes access.
type Store struct {
	room     string
	capacity int
	items    []chat.Message
	byID     map[string]int
	// pending maps a client id to the id of its optimistic local copy.
	pending map[string]string
	// deleted holds ids removed by the server; they are never re-added.
	deleted map[string]struct{}
}

// pendingMatchWindow bounds how far a history message's timestamp may be
// from a pending copy's for the two to be taken as the same send.
const pendingMatchWindow = time.Minute

// NewStore creates an empty log. capacity <= 0 means unbounded;
// otherwise the oldest messages are evicted beyond capacity.
func NewStore(room string, capacity int) *Store {
	return &Store{
		room:     room,
		capacity: capacity,
		byID:     make(map[string]int),
		pending:  make(map[string]string),
		deleted:  make(map[string]struct{}),
	}
}

// Room returns the room this store belongs to.
func (s *Store) Room() string { return s.room }

// Append adds a live message. Appending an id that is already present is
// a no-op. A server echo carrying the client id of a pending local copy
// replaces that copy. Returns true if the log changed.
func (s *Store) Append(msg chat.Message) bool {
	changed := s.insert(msg.Normalize(s.room))
	if changed {
		s.reorder()
	}
	return changed
}

// AddPending stores an optimistic copy of a message the user just sent,
// keyed by its client id until the server echo arrives.
func (s *Store) AddPending(msg chat.Message) {
	msg = msg.Normalize(s.room)
	msg.Pending = true
	if msg.ID == "" {
		msg.ID = pendingID(msg.ClientID)
	}
	s.pending[msg.ClientID] = msg.ID
	s.insert(msg)
	s.reorder()
}

// DropPending removes an optimistic copy whose send failed.
func (s *Store) DropPending(clientID string) bool {
	id, ok := s.pending[clientID]
	if !ok {
		return false
	}
	delete(s.pending, clientID)
	return s.removeID(id)
}

// Hydrate merges a history batch into the log. Messages already present
// are kept; pending local copies survive unless the batch contains their
// echo. A history message without a matching client id still replaces
// a pending copy with the same sender and body sent within
// pendingMatchWindow, so an echo lost across a reconnect does not leave
// the message shown twice. Returns the number of messages added.
func (s *Store) Hydrate(history []chat.Message) int {
	added := 0
	for _, msg := range history {
		msg = msg.Normalize(s.room)
		if _, ok := s.pending[msg.ClientID]; !ok && !s.Contains(msg.ID) {
			if clientID, found := s.matchPending(msg); found {
				msg.ClientID = clientID
			}
		}
		if s.insert(msg) {
			added++
		}
	}
	if added > 0 {
		s.reorder()
	}
	return added
}

// Remove deletes a message by id and remembers the id, so a history batch
// fetched before the deletion cannot bring it back. Returns false if the
// message was absent.
func (s *Store) Remove(id string) bool {
	if id == "" {
		return false
	}
	s.deleted[id] = struct{}{}
	return s.removeID(id)
}

func (s *Store) removeID(id string) bool {
	idx, ok := s.byID[id]
	if !ok {
		return false
	}
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	s.reindex()
	return true
}

// List returns the log in display order: created_at ascending, then id.
func (s *Store) List() []chat.Message {
	return append([]chat.Message(nil), s.items...)
}

// ListUser returns the log without system announcements.
func (s *Store) ListUser() []chat.Message {
	return lo.Reject(s.items, func(m chat.Message, _ int) bool { return m.IsSystem })
}

// Len returns the number of messages held.
func (s *Store) Len() int { return len(s.items) }

// Contains reports whether id is in the log.
func (s *Store) Contains(id string) bool {
	_, ok := s.byID[id]
	return ok
}

func (s *Store) insert(msg chat.Message) bool {
	if msg.ID == "" {
		return false
	}
	if _, exists := s.byID[msg.ID]; exists {
		return false
	}
	if _, gone := s.deleted[msg.ID]; gone {
		return false
	}
	if msg.ClientID != "" && !msg.Pending {
		if localID, ok := s.pending[msg.ClientID]; ok {
			delete(s.pending, msg.ClientID)
			if idx, ok := s.byID[localID]; ok {
				delete(s.byID, localID)
				s.items[idx] = msg
				s.byID[msg.ID] = idx
				return true
			}
		}
	}
	s.byID[msg.ID] = len(s.items)
	s.items = append(s.items, msg)
	return true
}

func (s *Store) reorder() {
	sort.SliceStable(s.items, func(i, j int) bool {
		return s.items[i].Before(s.items[j])
	})
	if s.capacity > 0 && len(s.items) > s.capacity {
		evicted := s.items[:len(s.items)-s.capacity]
		for _, msg := range evicted {
			if msg.Pending {
				delete(s.pending, msg.ClientID)
			}
		}
		s.items = append([]chat.Message(nil), s.items[len(s.items)-s.capacity:]...)
	}
	s.reindex()
}

func (s *Store) reindex() {
	s.byID = make(map[string]int, len(s.items))
	for i, msg := range s.items {
		s.byID[msg.ID] = i
	}
}

// matchPending finds the oldest pending copy msg could be the echo of.
func (s *Store) matchPending(msg chat.Message) (string, bool) {
	if msg.Pending || msg.IsSystem {
		return "", false
	}
	for _, item := range s.items {
		if !item.Pending || item.Sender.ID != msg.Sender.ID || item.Body != msg.Body {
			continue
		}
		gap := msg.CreatedAt.Sub(item.CreatedAt)
		if gap < 0 {
			gap = -gap
		}
		if gap <= pendingMatchWindow {
			return item.ClientID, true
		}
	}
	return "", false
}

func pendingID(clientID string) string {
	return "local:" + clientID
}
