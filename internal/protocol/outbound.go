package protocol

import "encoding/json"

// Outbound is a frame sent by the client.
type Outbound struct {
	Type      Type   `json:"type"`
	Message   string `json:"message,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// NewChatMessage builds a chat_message frame. clientID lets the sender
// match the server echo with its optimistic copy.
func NewChatMessage(body, clientID string) Outbound {
	return Outbound{Type: TypeChatMessage, Message: body, ClientID: clientID}
}

func NewTyping() Outbound { return Outbound{Type: TypeTyping} }

func NewStopTyping() Outbound { return Outbound{Type: TypeStopTyping} }

// NewDeleteMessage builds a privileged delete_message frame.
func NewDeleteMessage(messageID string) Outbound {
	return Outbound{Type: TypeDeleteMessage, MessageID: messageID}
}

// Coalescable reports whether the frame may be buffered last-write-wins
// while the channel is not open. User-initiated frames are never
// buffered.
func (o Outbound) Coalescable() bool {
	return o.Type == TypeTyping || o.Type == TypeStopTyping
}

// Encode returns the frame as a single-line JSON object.
func (o Outbound) Encode() ([]byte, error) {
	return json.Marshal(o)
}
