package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound   = errors.New("memory not found")
	ErrValidation = errors.New("invalid memory input")
)

// Store persists long-term and short-term memories plus their associations.
//
// RetrieveLongTermMemories is deliberately not read-only: every call bumps
// accessedAt/accessCount on the returned rows so later importance tuning can
// be driven by usage.
type Store interface {
	// StoreLongTermMemory clamps importance into [0,1]. A zero ttl means
	// the memory never expires.
	StoreLongTermMemory(ctx context.Context, userID, sessionID, key, value string, memoryType MemoryType, importance float64, ttl time.Duration, metadata map[string]string) (string, error)
	// StoreShortTermMemory requires a positive ttl.
	StoreShortTermMemory(ctx context.Context, sessionID, key, value string, memoryType MemoryType, ttl time.Duration, metadata map[string]string) (string, error)
	// RetrieveLongTermMemories returns up to topK unexpired memories ordered
	// by importance descending, then accessedAt descending.
	RetrieveLongTermMemories(ctx context.Context, userID string, topK int) ([]LongTermMemory, error)
	// RetrieveShortTermMemories returns up to topN unexpired memories
	// ordered by createdAt descending. Read-only.
	RetrieveShortTermMemories(ctx context.Context, sessionID string, topN int) ([]ShortTermMemory, error)
	// AssociateMemories is idempotent on the unordered pair plus type;
	// repeats update strength and createdAt.
	AssociateMemories(ctx context.Context, memoryID1, memoryID2, associationType string, strength float64) error
	// AssociatedMemories lists links touching memoryID whose other endpoint
	// still resolves to a live memory; dangling links are skipped.
	AssociatedMemories(ctx context.Context, memoryID string, minStrength float64) ([]Association, error)
	UpdateImportance(ctx context.Context, memoryID string, importance float64) error
	// PurgeExpiredShortTermMemories removes short-term rows expired before
	// the purge began. Long-term memories are never purged, only hidden.
	PurgeExpiredShortTermMemories(ctx context.Context) (int, error)
	Close() error
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func validateLongTerm(userID, key string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required for long-term memory", ErrValidation)
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: memory key is required", ErrValidation)
	}
	return nil
}

func validateShortTerm(sessionID, key string, ttl time.Duration) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("%w: session id is required for short-term memory", ErrValidation)
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: memory key is required", ErrValidation)
	}
	if ttl <= 0 {
		return fmt.Errorf("%w: short-term ttl must be positive", ErrValidation)
	}
	return nil
}

// normalizePair orders an association's endpoints so the pair is unordered.
func normalizePair(id1, id2 string) (string, string) {
	if id2 < id1 {
		return id2, id1
	}
	return id1, id2
}

func encodeMeta(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMeta(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}

func copyMeta(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
