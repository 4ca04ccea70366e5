package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps sessions in process memory for local/dev use and tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*User
	sessions map[string]*Session
	turns    map[string][]ConversationTurn
	byUser   map[string][]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:    make(map[string]*User),
		sessions: make(map[string]*Session),
		turns:    make(map[string][]ConversationTurn),
		byUser:   make(map[string][]string),
	}
}

func (s *InMemoryStore) CreateSession(_ context.Context, userID, agentName string, metadata map[string]string) (Session, error) {
	if err := validateCreate(agentName); err != nil {
		return Session{}, err
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		AgentName: agentName,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  copyMeta(metadata),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if userID != "" {
		if _, ok := s.users[userID]; !ok {
			s.users[userID] = &User{ID: userID, CreatedAt: now}
		}
		s.byUser[userID] = append(s.byUser[userID], sess.ID)
	}
	s.sessions[sess.ID] = sess
	return cloneSession(sess), nil
}

func (s *InMemoryStore) GetSession(_ context.Context, sessionID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return cloneSession(sess), nil
}

func (s *InMemoryStore) AppendTurn(_ context.Context, sessionID string, role Role, content string, metadata map[string]string) (ConversationTurn, error) {
	if err := validateAppend(role); err != nil {
		return ConversationTurn{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return ConversationTurn{}, ErrNotFound
	}

	now := time.Now().UTC()
	turn := ConversationTurn{
		SessionID:  sessionID,
		TurnNumber: len(s.turns[sessionID]) + 1,
		Role:       role,
		Content:    content,
		Timestamp:  now,
		Metadata:   copyMeta(metadata),
	}
	s.turns[sessionID] = append(s.turns[sessionID], turn)
	sess.UpdatedAt = now
	return turn, nil
}

func (s *InMemoryStore) GetHistory(_ context.Context, sessionID string, limit int) ([]ConversationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, ErrNotFound
	}
	all := s.turns[sessionID]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}

	// Most recent first.
	out := make([]ConversationTurn, 0, limit)
	for i := len(all) - 1; i >= len(all)-limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *InMemoryStore) ListSessionsForUser(_ context.Context, userID string) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byUser[userID]
	out := make([]Session, 0, len(ids))
	for _, id := range ids {
		if sess, ok := s.sessions[id]; ok {
			out = append(out, cloneSession(sess))
		}
	}
	return out, nil
}

func (s *InMemoryStore) SetStatus(_ context.Context, sessionID string, status Status) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	if err := checkTransition(sess.Status, status); err != nil {
		return Session{}, err
	}
	if sess.Status != status {
		sess.Status = status
		sess.UpdatedAt = time.Now().UTC()
	}
	return cloneSession(sess), nil
}

func (s *InMemoryStore) Close() error { return nil }

func cloneSession(sess *Session) Session {
	c := *sess
	c.Metadata = copyMeta(sess.Metadata)
	return c
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
