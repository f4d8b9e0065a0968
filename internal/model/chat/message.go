package chat

import "time"

// SystemSenderID is the sender id the server uses for connection and
// disconnection announcements.
const SystemSenderID = "system"

// Sender identifies the author of a chat message.
type Sender struct {
	ID          string `json:"id" validate:"required"`
	DisplayName string `json:"display_name"`
	Service     string `json:"service,omitempty"`
}

// Message is one chat line in a room. ID is unique per room.
type Message struct {
	ID        string    `json:"id" validate:"required"`
	Room      string    `json:"room"`
	Sender    Sender    `json:"sender"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at" validate:"required"`
	IsSystem  bool      `json:"is_system"`
	// ClientID correlates a locally sent message with its server echo.
	ClientID string `json:"client_id,omitempty"`
	// Pending marks an optimistic local copy not yet echoed by the server.
	Pending bool `json:"pending,omitempty"`
}

// Normalize tags system-authored messages from the sender id and fills
// the room when the frame omitted it.
func (m Message) Normalize(room string) Message {
	if m.Room == "" {
		m.Room = room
	}
	if m.Sender.ID == SystemSenderID {
		m.IsSystem = true
	}
	return m
}

// Before reports whether m sorts before other in display order.
func (m Message) Before(other Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}
