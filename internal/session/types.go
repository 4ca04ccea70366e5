package session

import "time"

// Status is the lifecycle state of a session. Transitions are monotonic:
// active -> completed -> archived, never backwards.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

// statusRank orders statuses for transition checks. Unknown statuses report ok=false.
func statusRank(s Status) (int, bool) {
	switch s {
	case StatusActive:
		return 0, true
	case StatusCompleted:
		return 1, true
	case StatusArchived:
		return 2, true
	default:
		return 0, false
	}
}

// Role identifies the speaker of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func validRole(r Role) bool {
	return r == RoleUser || r == RoleAssistant
}

// User is created lazily the first time a session names a user ID.
// This layer never deletes users.
type User struct {
	ID        string            `json:"user_id"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Session is one bounded conversation. UserID may be empty for anonymous
// sessions. Sessions are archived, never deleted.
type Session struct {
	ID        string            `json:"session_id"`
	UserID    string            `json:"user_id,omitempty"`
	AgentName string            `json:"agent_name"`
	Status    Status            `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ConversationTurn is one immutable message in a session's append-only log.
// Turn numbers are 1-based and contiguous per session.
type ConversationTurn struct {
	SessionID  string            `json:"session_id"`
	TurnNumber int               `json:"turn_number"`
	Role       Role              `json:"role"`
	Content    string            `json:"content"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
