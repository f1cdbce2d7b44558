package chat

import "time"

// Role identifies the author of a transcript turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TimestampLayout is the wall-clock format stamped on every appended turn.
const TimestampLayout = "2006-01-02 15:04:05"

// Message is one immutable turn of a conversation transcript.
type Message struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// NewMessage stamps a message with the provided time.
func NewMessage(role Role, content string, at time.Time) Message {
	return Message{
		Role:      role,
		Content:   content,
		Timestamp: at.Format(TimestampLayout),
	}
}

// IsUser reports whether the turn was written by the participant.
func (m Message) IsUser() bool {
	return m.Role == RoleUser
}
