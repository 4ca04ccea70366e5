package memory

import "time"

// MemoryType labels what a memory record holds. Long-term memories use
// fact/preference/skill, short-term ones use context/event/state; both fall
// back to other. The store treats the label as opaque.
type MemoryType string

const (
	TypeFact       MemoryType = "fact"
	TypePreference MemoryType = "preference"
	TypeSkill      MemoryType = "skill"
	TypeContext    MemoryType = "context"
	TypeEvent      MemoryType = "event"
	TypeState      MemoryType = "state"
	TypeOther      MemoryType = "other"
)

// LongTermMemory is a durable user-scoped record ranked by importance and
// retrieved across sessions. SessionID records provenance only. Value and
// Metadata are opaque blobs written and decoded by the caller.
type LongTermMemory struct {
	ID          string            `json:"memory_id"`
	UserID      string            `json:"user_id"`
	SessionID   string            `json:"session_id,omitempty"`
	Key         string            `json:"key"`
	Value       string            `json:"value"`
	MemoryType  MemoryType        `json:"memory_type"`
	Importance  float64           `json:"importance"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	AccessedAt  time.Time         `json:"accessed_at"`
	AccessCount int               `json:"access_count"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ShortTermMemory is session-scoped and TTL-bound; once expired it is dead
// for retrieval and eligible for physical removal by the purge pass.
type ShortTermMemory struct {
	ID         string            `json:"memory_id"`
	SessionID  string            `json:"session_id"`
	Key        string            `json:"key"`
	Value      string            `json:"value"`
	MemoryType MemoryType        `json:"memory_type"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  *time.Time        `json:"expires_at,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Association is an advisory weighted link between two memory records.
// Endpoints are stored in lexicographic order so the pair is unordered, and
// links may outlive the memories they point at.
type Association struct {
	MemoryID1       string    `json:"memory_id_1"`
	MemoryID2       string    `json:"memory_id_2"`
	AssociationType string    `json:"association_type"`
	Strength        float64   `json:"strength"`
	CreatedAt       time.Time `json:"created_at"`
}
