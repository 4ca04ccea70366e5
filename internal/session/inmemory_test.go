package session

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestCreateSessionRequiresAgentName(t *testing.T) {
	s := NewInMemoryStore()
	_, err := s.CreateSession(context.Background(), "u1", "", nil)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("CreateSession(empty agent) error = %v, want ErrValidation", err)
	}
	_, err = s.CreateSession(context.Background(), "u1", "   ", nil)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("CreateSession(blank agent) error = %v, want ErrValidation", err)
	}
}

func TestCreateAndGetSession(t *testing.T) {
	s := NewInMemoryStore()
	sess, err := s.CreateSession(context.Background(), "u1", "planner", map[string]string{"app": "test"})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if sess.ID == "" {
		t.Fatalf("session ID should not be empty")
	}
	if sess.Status != StatusActive {
		t.Fatalf("Status = %q, want %q", sess.Status, StatusActive)
	}
	if sess.UpdatedAt.Before(sess.CreatedAt) {
		t.Fatalf("UpdatedAt %v before CreatedAt %v", sess.UpdatedAt, sess.CreatedAt)
	}

	got, err := s.GetSession(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.UserID != "u1" || got.AgentName != "planner" || got.Metadata["app"] != "test" {
		t.Fatalf("unexpected session: %+v", got)
	}

	if _, err := s.GetSession(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetSession(missing) error = %v, want ErrNotFound", err)
	}
}

func TestAppendTurnRoundTrip(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "u1", "planner", nil)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	first, err := s.AppendTurn(ctx, sess.ID, RoleUser, "hello", nil)
	if err != nil {
		t.Fatalf("AppendTurn(user) error = %v", err)
	}
	second, err := s.AppendTurn(ctx, sess.ID, RoleAssistant, "hi", nil)
	if err != nil {
		t.Fatalf("AppendTurn(assistant) error = %v", err)
	}
	if first.TurnNumber != 1 || second.TurnNumber != 2 {
		t.Fatalf("turn numbers = %d, %d, want 1, 2", first.TurnNumber, second.TurnNumber)
	}

	history, err := s.GetHistory(ctx, sess.ID, 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	// Most recent first.
	if history[0].Role != RoleAssistant || history[0].Content != "hi" {
		t.Fatalf("history[0] = %+v, want assistant 'hi'", history[0])
	}
	if history[1].Role != RoleUser || history[1].Content != "hello" {
		t.Fatalf("history[1] = %+v, want user 'hello'", history[1])
	}
}

func TestAppendTurnValidation(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	sess, _ := s.CreateSession(ctx, "", "planner", nil)

	if _, err := s.AppendTurn(ctx, sess.ID, Role("narrator"), "x", nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("AppendTurn(bad role) error = %v, want ErrValidation", err)
	}
	if _, err := s.AppendTurn(ctx, "missing", RoleUser, "x", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("AppendTurn(missing session) error = %v, want ErrNotFound", err)
	}
}

func TestAppendTurnConcurrentNumbersAreGapFree(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	sess, _ := s.CreateSession(ctx, "u1", "planner", nil)

	const writers = 50
	var wg sync.WaitGroup
	numbers := make(chan int, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			turn, err := s.AppendTurn(ctx, sess.ID, RoleUser, "msg", nil)
			if err != nil {
				t.Errorf("AppendTurn() error = %v", err)
				return
			}
			numbers <- turn.TurnNumber
		}()
	}
	wg.Wait()
	close(numbers)

	seen := make(map[int]bool, writers)
	for n := range numbers {
		if seen[n] {
			t.Fatalf("duplicate turn number %d", n)
		}
		seen[n] = true
	}
	for n := 1; n <= writers; n++ {
		if !seen[n] {
			t.Fatalf("missing turn number %d in 1..%d", n, writers)
		}
	}
}

func TestGetHistoryLimit(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	sess, _ := s.CreateSession(ctx, "u1", "planner", nil)
	for i := 0; i < 6; i++ {
		if _, err := s.AppendTurn(ctx, sess.ID, RoleUser, "msg", nil); err != nil {
			t.Fatalf("AppendTurn() error = %v", err)
		}
	}

	history, err := s.GetHistory(ctx, sess.ID, 4)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("history length = %d, want 4", len(history))
	}
	if history[0].TurnNumber != 6 || history[3].TurnNumber != 3 {
		t.Fatalf("history window = %d..%d, want 6..3", history[0].TurnNumber, history[3].TurnNumber)
	}
}

func TestListSessionsForUser(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	a, _ := s.CreateSession(ctx, "u1", "planner", nil)
	b, _ := s.CreateSession(ctx, "u1", "researcher", nil)
	if _, err := s.CreateSession(ctx, "u2", "planner", nil); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	got, err := s.ListSessionsForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ListSessionsForUser() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("sessions for u1 = %d, want 2", len(got))
	}
	ids := map[string]bool{got[0].ID: true, got[1].ID: true}
	if !ids[a.ID] || !ids[b.ID] {
		t.Fatalf("sessions for u1 = %v, want %q and %q", ids, a.ID, b.ID)
	}
}

func TestSetStatusTransitions(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	sess, _ := s.CreateSession(ctx, "u1", "planner", nil)

	completed, err := s.SetStatus(ctx, sess.ID, StatusCompleted)
	if err != nil {
		t.Fatalf("SetStatus(completed) error = %v", err)
	}
	if completed.Status != StatusCompleted {
		t.Fatalf("status = %q, want %q", completed.Status, StatusCompleted)
	}

	archived, err := s.SetStatus(ctx, sess.ID, StatusArchived)
	if err != nil {
		t.Fatalf("SetStatus(archived) error = %v", err)
	}
	if archived.Status != StatusArchived {
		t.Fatalf("status = %q, want %q", archived.Status, StatusArchived)
	}

	if _, err := s.SetStatus(ctx, sess.ID, StatusActive); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("SetStatus(archived -> active) error = %v, want ErrInvalidTransition", err)
	}
	if _, err := s.SetStatus(ctx, sess.ID, Status("paused")); !errors.Is(err, ErrValidation) {
		t.Fatalf("SetStatus(unknown) error = %v, want ErrValidation", err)
	}
	// Same status is an idempotent no-op.
	if _, err := s.SetStatus(ctx, sess.ID, StatusArchived); err != nil {
		t.Fatalf("SetStatus(archived -> archived) error = %v, want nil", err)
	}
}
