package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/mnemo/internal/ttl"
)

type assocKey struct {
	id1, id2, typ string
}

// InMemoryStore keeps memories in process memory for local/dev use and tests.
type InMemoryStore struct {
	mu           sync.RWMutex
	longTerm     map[string]*LongTermMemory
	shortTerm    map[string]*ShortTermMemory
	associations map[assocKey]*Association
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		longTerm:     make(map[string]*LongTermMemory),
		shortTerm:    make(map[string]*ShortTermMemory),
		associations: make(map[assocKey]*Association),
	}
}

func (s *InMemoryStore) StoreLongTermMemory(_ context.Context, userID, sessionID, key, value string, memoryType MemoryType, importance float64, ttlDur time.Duration, metadata map[string]string) (string, error) {
	if err := validateLongTerm(userID, key); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	m := &LongTermMemory{
		ID:         uuid.NewString(),
		UserID:     userID,
		SessionID:  sessionID,
		Key:        key,
		Value:      value,
		MemoryType: memoryType,
		Importance: clamp01(importance),
		CreatedAt:  now,
		UpdatedAt:  now,
		AccessedAt: now,
		ExpiresAt:  ttl.ExpiryFrom(now, ttlDur),
		Metadata:   copyMeta(metadata),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.longTerm[m.ID] = m
	return m.ID, nil
}

func (s *InMemoryStore) StoreShortTermMemory(_ context.Context, sessionID, key, value string, memoryType MemoryType, ttlDur time.Duration, metadata map[string]string) (string, error) {
	if err := validateShortTerm(sessionID, key, ttlDur); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	m := &ShortTermMemory{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Key:        key,
		Value:      value,
		MemoryType: memoryType,
		CreatedAt:  now,
		ExpiresAt:  ttl.ExpiryFrom(now, ttlDur),
		Metadata:   copyMeta(metadata),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.shortTerm[m.ID] = m
	return m.ID, nil
}

func (s *InMemoryStore) RetrieveLongTermMemories(_ context.Context, userID string, topK int) ([]LongTermMemory, error) {
	if topK <= 0 {
		topK = 5
	}
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]*LongTermMemory, 0, topK)
	for _, m := range s.longTerm {
		if m.UserID != userID || ttl.Expired(m.ExpiresAt, now) {
			continue
		}
		candidates = append(candidates, m)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Importance != candidates[j].Importance {
			return candidates[i].Importance > candidates[j].Importance
		}
		return candidates[i].AccessedAt.After(candidates[j].AccessedAt)
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	out := make([]LongTermMemory, 0, len(candidates))
	for _, m := range candidates {
		m.AccessedAt = now
		m.AccessCount++
		c := *m
		c.Metadata = copyMeta(m.Metadata)
		out = append(out, c)
	}
	return out, nil
}

func (s *InMemoryStore) RetrieveShortTermMemories(_ context.Context, sessionID string, topN int) ([]ShortTermMemory, error) {
	if topN <= 0 {
		topN = 3
	}
	now := time.Now().UTC()

	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := make([]*ShortTermMemory, 0, topN)
	for _, m := range s.shortTerm {
		if m.SessionID != sessionID || ttl.Expired(m.ExpiresAt, now) {
			continue
		}
		candidates = append(candidates, m)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})
	if len(candidates) > topN {
		candidates = candidates[:topN]
	}

	out := make([]ShortTermMemory, 0, len(candidates))
	for _, m := range candidates {
		c := *m
		c.Metadata = copyMeta(m.Metadata)
		out = append(out, c)
	}
	return out, nil
}

func (s *InMemoryStore) AssociateMemories(_ context.Context, memoryID1, memoryID2, associationType string, strength float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.memoryExists(memoryID1) || !s.memoryExists(memoryID2) {
		return ErrNotFound
	}

	id1, id2 := normalizePair(memoryID1, memoryID2)
	key := assocKey{id1: id1, id2: id2, typ: associationType}
	s.associations[key] = &Association{
		MemoryID1:       id1,
		MemoryID2:       id2,
		AssociationType: associationType,
		Strength:        clamp01(strength),
		CreatedAt:       time.Now().UTC(),
	}
	return nil
}

func (s *InMemoryStore) AssociatedMemories(_ context.Context, memoryID string, minStrength float64) ([]Association, error) {
	now := time.Now().UTC()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Association
	for _, a := range s.associations {
		if a.Strength < minStrength {
			continue
		}
		var other string
		switch memoryID {
		case a.MemoryID1:
			other = a.MemoryID2
		case a.MemoryID2:
			other = a.MemoryID1
		default:
			continue
		}
		// Dangling or expired endpoints are treated as absent, not errors.
		if !s.memoryLive(other, now) {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strength > out[j].Strength })
	return out, nil
}

func (s *InMemoryStore) UpdateImportance(_ context.Context, memoryID string, importance float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.longTerm[memoryID]
	if !ok {
		return ErrNotFound
	}
	m.Importance = clamp01(importance)
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) PurgeExpiredShortTermMemories(_ context.Context) (int, error) {
	cutoff := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, m := range s.shortTerm {
		if m.ExpiresAt != nil && m.ExpiresAt.Before(cutoff) {
			delete(s.shortTerm, id)
			removed++
		}
	}
	return removed, nil
}

func (s *InMemoryStore) Close() error { return nil }

// memoryExists reports presence in either tier; callers hold the lock.
func (s *InMemoryStore) memoryExists(id string) bool {
	if _, ok := s.longTerm[id]; ok {
		return true
	}
	_, ok := s.shortTerm[id]
	return ok
}

func (s *InMemoryStore) memoryLive(id string, now time.Time) bool {
	if m, ok := s.longTerm[id]; ok {
		return ttl.Fresh(m.ExpiresAt, now)
	}
	if m, ok := s.shortTerm[id]; ok {
		return ttl.Fresh(m.ExpiresAt, now)
	}
	return false
}
