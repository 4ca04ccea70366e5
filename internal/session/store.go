package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("session not found")
	ErrValidation        = errors.New("invalid session input")
	ErrInvalidTransition = errors.New("invalid session status transition")
	// ErrConflict surfaces only after the store exhausted its internal
	// retries on a turn-number race.
	ErrConflict = errors.New("turn append conflict")
)

// maxAppendAttempts bounds the internal retry loop on turn-number races.
const maxAppendAttempts = 5

// Store persists users, sessions and their conversation turns.
//
// AppendTurn must be atomic per session: two concurrent appends never
// receive the same turn number, and the numbering stays gap-free.
type Store interface {
	CreateSession(ctx context.Context, userID, agentName string, metadata map[string]string) (Session, error)
	GetSession(ctx context.Context, sessionID string) (Session, error)
	AppendTurn(ctx context.Context, sessionID string, role Role, content string, metadata map[string]string) (ConversationTurn, error)
	// GetHistory returns up to limit turns, most recent first.
	GetHistory(ctx context.Context, sessionID string, limit int) ([]ConversationTurn, error)
	ListSessionsForUser(ctx context.Context, userID string) ([]Session, error)
	// SetStatus enforces the monotonic lifecycle. Setting the current
	// status again is a no-op.
	SetStatus(ctx context.Context, sessionID string, status Status) (Session, error)
	Close() error
}

func validateCreate(agentName string) error {
	if strings.TrimSpace(agentName) == "" {
		return fmt.Errorf("%w: agent name is required", ErrValidation)
	}
	return nil
}

func validateAppend(role Role) error {
	if !validRole(role) {
		return fmt.Errorf("%w: role %q is not user or assistant", ErrValidation, role)
	}
	return nil
}

// checkTransition returns nil when moving from cur to next is legal.
func checkTransition(cur, next Status) error {
	nextRank, ok := statusRank(next)
	if !ok {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, next)
	}
	curRank, ok := statusRank(cur)
	if !ok {
		return fmt.Errorf("%w: session has unknown status %q", ErrValidation, cur)
	}
	if nextRank < curRank {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, next)
	}
	return nil
}
