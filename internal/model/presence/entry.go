package presence

// Entry is one online user in a room.
type Entry struct {
	UserID      string `json:"user_id" validate:"required"`
	DisplayName string `json:"display_name"`
	Service     string `json:"service,omitempty"`
}

// Summary is the display-truncated view of a room's online set:
// the first Shown entries plus the count of the rest.
type Summary struct {
	Shown []Entry `json:"shown"`
	More  int     `json:"more"`
	Total int     `json:"total"`
}
