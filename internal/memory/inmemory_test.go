package memory

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStoreLongTermMemoryValidation(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	_, err := s.StoreLongTermMemory(ctx, "", "", "likes", "jazz", TypePreference, 0.5, 0, nil)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("StoreLongTermMemory(no user) error = %v, want ErrValidation", err)
	}
	_, err = s.StoreLongTermMemory(ctx, "u1", "", "  ", "jazz", TypePreference, 0.5, 0, nil)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("StoreLongTermMemory(blank key) error = %v, want ErrValidation", err)
	}
}

func TestStoreShortTermMemoryRequiresPositiveTTL(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	_, err := s.StoreShortTermMemory(ctx, "sess1", "topic", "travel", TypeContext, 0, nil)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("StoreShortTermMemory(zero ttl) error = %v, want ErrValidation", err)
	}
	_, err = s.StoreShortTermMemory(ctx, "sess1", "topic", "travel", TypeContext, -time.Second, nil)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("StoreShortTermMemory(negative ttl) error = %v, want ErrValidation", err)
	}
	_, err = s.StoreShortTermMemory(ctx, "", "topic", "travel", TypeContext, time.Hour, nil)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("StoreShortTermMemory(no session) error = %v, want ErrValidation", err)
	}
}

func TestImportanceClamped(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	high, err := s.StoreLongTermMemory(ctx, "u1", "", "a", "v", TypeFact, 1.7, 0, nil)
	if err != nil {
		t.Fatalf("StoreLongTermMemory() error = %v", err)
	}
	low, err := s.StoreLongTermMemory(ctx, "u1", "", "b", "v", TypeFact, -0.3, 0, nil)
	if err != nil {
		t.Fatalf("StoreLongTermMemory() error = %v", err)
	}

	got, err := s.RetrieveLongTermMemories(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("RetrieveLongTermMemories() error = %v", err)
	}
	imp := map[string]float64{}
	for _, m := range got {
		imp[m.ID] = m.Importance
	}
	if imp[high] != 1.0 {
		t.Fatalf("importance(1.7) stored as %v, want 1.0", imp[high])
	}
	if imp[low] != 0.0 {
		t.Fatalf("importance(-0.3) stored as %v, want 0.0", imp[low])
	}
}

func TestRetrieveLongTermMemoriesRankingAndAccessTracking(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	importances := []float64{0.1, 0.9, 0.3, 0.7, 0.5, 0.8, 0.2, 0.6}
	ids := make([]string, len(importances))
	for i, imp := range importances {
		id, err := s.StoreLongTermMemory(ctx, "u1", "", "k", "v", TypeFact, imp, 0, nil)
		if err != nil {
			t.Fatalf("StoreLongTermMemory() error = %v", err)
		}
		ids[i] = id
	}

	got, err := s.RetrieveLongTermMemories(ctx, "u1", 5)
	if err != nil {
		t.Fatalf("RetrieveLongTermMemories() error = %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("retrieved %d memories, want 5", len(got))
	}
	want := []float64{0.9, 0.8, 0.7, 0.6, 0.5}
	for i, m := range got {
		if m.Importance != want[i] {
			t.Fatalf("got[%d].Importance = %v, want %v", i, m.Importance, want[i])
		}
		if m.AccessCount != 1 {
			t.Fatalf("got[%d].AccessCount = %d, want 1", i, m.AccessCount)
		}
	}

	// The three memories below the cut keep an untouched access count.
	all, err := s.RetrieveLongTermMemories(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("RetrieveLongTermMemories() error = %v", err)
	}
	counts := map[float64]int{}
	for _, m := range all {
		counts[m.Importance] = m.AccessCount
	}
	for _, imp := range []float64{0.1, 0.2, 0.3} {
		if counts[imp] != 1 {
			t.Fatalf("AccessCount for importance %v = %d, want 1 (first retrieval)", imp, counts[imp])
		}
	}
	for _, imp := range want {
		if counts[imp] != 2 {
			t.Fatalf("AccessCount for importance %v = %d, want 2", imp, counts[imp])
		}
	}
}

func TestRetrieveLongTermMemoriesTieBreakOnAccessedAt(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	// Equal importances are ordered by accessedAt descending, so with ties
	// the more recently touched memory wins the cut.
	stored := []struct {
		key string
		imp float64
	}{
		{"a", 0.9}, {"b", 0.9},
		{"c", 0.5}, {"d", 0.5}, {"e", 0.5}, {"f", 0.5},
		{"g", 0.3}, {"h", 0.1},
	}
	for _, m := range stored {
		if _, err := s.StoreLongTermMemory(ctx, "u1", "", m.key, "v", TypeFact, m.imp, 0, nil); err != nil {
			t.Fatalf("StoreLongTermMemory(%s) error = %v", m.key, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	got, err := s.RetrieveLongTermMemories(ctx, "u1", 5)
	if err != nil {
		t.Fatalf("RetrieveLongTermMemories() error = %v", err)
	}
	wantKeys := []string{"b", "a", "f", "e", "d"}
	if len(got) != len(wantKeys) {
		t.Fatalf("retrieved %d memories, want %d", len(got), len(wantKeys))
	}
	for i, m := range got {
		if m.Key != wantKeys[i] {
			keys := make([]string, len(got))
			for j, g := range got {
				keys[j] = g.Key
			}
			t.Fatalf("retrieval order = %v, want %v", keys, wantKeys)
		}
		if m.AccessCount != 1 {
			t.Fatalf("got[%d].AccessCount = %d, want 1", i, m.AccessCount)
		}
	}

	// The rows below the cut keep untouched access counters.
	all, err := s.RetrieveLongTermMemories(ctx, "u1", 8)
	if err != nil {
		t.Fatalf("RetrieveLongTermMemories() error = %v", err)
	}
	counts := map[string]int{}
	for _, m := range all {
		counts[m.Key] = m.AccessCount
	}
	for _, key := range wantKeys {
		if counts[key] != 2 {
			t.Fatalf("AccessCount[%s] = %d, want 2", key, counts[key])
		}
	}
	for _, key := range []string{"c", "g", "h"} {
		if counts[key] != 1 {
			t.Fatalf("AccessCount[%s] = %d, want 1 (first retrieval only)", key, counts[key])
		}
	}
}

func TestRetrieveLongTermMemoriesScopedToUser(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if _, err := s.StoreLongTermMemory(ctx, "u1", "", "a", "v", TypeFact, 0.5, 0, nil); err != nil {
		t.Fatalf("StoreLongTermMemory() error = %v", err)
	}
	if _, err := s.StoreLongTermMemory(ctx, "u2", "", "b", "v", TypeFact, 0.9, 0, nil); err != nil {
		t.Fatalf("StoreLongTermMemory() error = %v", err)
	}

	got, err := s.RetrieveLongTermMemories(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("RetrieveLongTermMemories() error = %v", err)
	}
	if len(got) != 1 || got[0].UserID != "u1" {
		t.Fatalf("memories for u1 = %+v, want exactly one owned by u1", got)
	}
}

func TestShortTermMemoryExpires(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if _, err := s.StoreShortTermMemory(ctx, "sess1", "fleeting", "v", TypeContext, 30*time.Millisecond, nil); err != nil {
		t.Fatalf("StoreShortTermMemory() error = %v", err)
	}
	if _, err := s.StoreShortTermMemory(ctx, "sess1", "durable", "v", TypeContext, time.Hour, nil); err != nil {
		t.Fatalf("StoreShortTermMemory() error = %v", err)
	}

	got, err := s.RetrieveShortTermMemories(ctx, "sess1", 10)
	if err != nil {
		t.Fatalf("RetrieveShortTermMemories() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("retrieved %d memories before expiry, want 2", len(got))
	}

	time.Sleep(60 * time.Millisecond)

	got, err = s.RetrieveShortTermMemories(ctx, "sess1", 10)
	if err != nil {
		t.Fatalf("RetrieveShortTermMemories() error = %v", err)
	}
	if len(got) != 1 || got[0].Key != "durable" {
		t.Fatalf("memories after expiry = %+v, want only 'durable'", got)
	}
}

func TestRetrieveShortTermMemoriesMostRecentFirst(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	for _, key := range []string{"first", "second", "third", "fourth"} {
		if _, err := s.StoreShortTermMemory(ctx, "sess1", key, "v", TypeEvent, time.Hour, nil); err != nil {
			t.Fatalf("StoreShortTermMemory() error = %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	got, err := s.RetrieveShortTermMemories(ctx, "sess1", 3)
	if err != nil {
		t.Fatalf("RetrieveShortTermMemories() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("retrieved %d memories, want 3", len(got))
	}
	if got[0].Key != "fourth" || got[1].Key != "third" || got[2].Key != "second" {
		t.Fatalf("keys = %q, %q, %q, want fourth, third, second", got[0].Key, got[1].Key, got[2].Key)
	}
}

func TestPurgeExpiredShortTermMemories(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.StoreShortTermMemory(ctx, "sess1", "stale", "v", TypeContext, 10*time.Millisecond, nil); err != nil {
			t.Fatalf("StoreShortTermMemory() error = %v", err)
		}
	}
	if _, err := s.StoreShortTermMemory(ctx, "sess1", "fresh", "v", TypeContext, time.Hour, nil); err != nil {
		t.Fatalf("StoreShortTermMemory() error = %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	removed, err := s.PurgeExpiredShortTermMemories(ctx)
	if err != nil {
		t.Fatalf("PurgeExpiredShortTermMemories() error = %v", err)
	}
	if removed != 3 {
		t.Fatalf("purged %d memories, want 3", removed)
	}

	removed, err = s.PurgeExpiredShortTermMemories(ctx)
	if err != nil {
		t.Fatalf("PurgeExpiredShortTermMemories() error = %v", err)
	}
	if removed != 0 {
		t.Fatalf("second purge removed %d memories, want 0", removed)
	}
}

func TestAssociateMemories(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	a, _ := s.StoreLongTermMemory(ctx, "u1", "", "a", "v", TypeFact, 0.5, 0, nil)
	b, _ := s.StoreLongTermMemory(ctx, "u1", "", "b", "v", TypeFact, 0.5, 0, nil)

	if err := s.AssociateMemories(ctx, a, "missing", "related", 0.5); !errors.Is(err, ErrNotFound) {
		t.Fatalf("AssociateMemories(missing endpoint) error = %v, want ErrNotFound", err)
	}

	if err := s.AssociateMemories(ctx, a, b, "related", 0.4); err != nil {
		t.Fatalf("AssociateMemories() error = %v", err)
	}
	// Same unordered pair and type: the link is replaced, not duplicated.
	if err := s.AssociateMemories(ctx, b, a, "related", 1.5); err != nil {
		t.Fatalf("AssociateMemories(swapped) error = %v", err)
	}

	got, err := s.AssociatedMemories(ctx, a, 0)
	if err != nil {
		t.Fatalf("AssociatedMemories() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("associations = %d, want 1", len(got))
	}
	if got[0].Strength != 1.0 {
		t.Fatalf("strength = %v, want 1.0 (latest write, clamped)", got[0].Strength)
	}

	// A different type on the same pair is a distinct link.
	if err := s.AssociateMemories(ctx, a, b, "contradicts", 0.2); err != nil {
		t.Fatalf("AssociateMemories(other type) error = %v", err)
	}
	got, err = s.AssociatedMemories(ctx, a, 0)
	if err != nil {
		t.Fatalf("AssociatedMemories() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("associations = %d, want 2", len(got))
	}
	if got[0].Strength < got[1].Strength {
		t.Fatalf("associations not sorted by strength desc: %v, %v", got[0].Strength, got[1].Strength)
	}
}

func TestAssociatedMemoriesMinStrengthFilter(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	a, _ := s.StoreLongTermMemory(ctx, "u1", "", "a", "v", TypeFact, 0.5, 0, nil)
	b, _ := s.StoreLongTermMemory(ctx, "u1", "", "b", "v", TypeFact, 0.5, 0, nil)
	c, _ := s.StoreLongTermMemory(ctx, "u1", "", "c", "v", TypeFact, 0.5, 0, nil)

	if err := s.AssociateMemories(ctx, a, b, "related", 0.9); err != nil {
		t.Fatalf("AssociateMemories() error = %v", err)
	}
	if err := s.AssociateMemories(ctx, a, c, "related", 0.2); err != nil {
		t.Fatalf("AssociateMemories() error = %v", err)
	}

	got, err := s.AssociatedMemories(ctx, a, 0.5)
	if err != nil {
		t.Fatalf("AssociatedMemories() error = %v", err)
	}
	if len(got) != 1 || got[0].Strength != 0.9 {
		t.Fatalf("associations above 0.5 = %+v, want only the 0.9 link", got)
	}
}

func TestAssociatedMemoriesSkipsDeadEndpoints(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	a, _ := s.StoreLongTermMemory(ctx, "u1", "", "a", "v", TypeFact, 0.5, 0, nil)
	st, err := s.StoreShortTermMemory(ctx, "sess1", "ephemeral", "v", TypeContext, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("StoreShortTermMemory() error = %v", err)
	}
	if err := s.AssociateMemories(ctx, a, st, "related", 0.8); err != nil {
		t.Fatalf("AssociateMemories() error = %v", err)
	}

	time.Sleep(40 * time.Millisecond)
	if _, err := s.PurgeExpiredShortTermMemories(ctx); err != nil {
		t.Fatalf("PurgeExpiredShortTermMemories() error = %v", err)
	}

	// The link now dangles; lookups skip it without erroring.
	got, err := s.AssociatedMemories(ctx, a, 0)
	if err != nil {
		t.Fatalf("AssociatedMemories() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("associations with dead endpoint = %+v, want none", got)
	}
}

func TestUpdateImportance(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	id, _ := s.StoreLongTermMemory(ctx, "u1", "", "a", "v", TypeFact, 0.5, 0, nil)

	if err := s.UpdateImportance(ctx, "missing", 0.9); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateImportance(missing) error = %v, want ErrNotFound", err)
	}
	if err := s.UpdateImportance(ctx, id, 2.5); err != nil {
		t.Fatalf("UpdateImportance() error = %v", err)
	}

	got, err := s.RetrieveLongTermMemories(ctx, "u1", 1)
	if err != nil {
		t.Fatalf("RetrieveLongTermMemories() error = %v", err)
	}
	if len(got) != 1 || got[0].Importance != 1.0 {
		t.Fatalf("importance after update = %+v, want 1.0", got)
	}
}

func TestLongTermMemoryTTL(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if _, err := s.StoreLongTermMemory(ctx, "u1", "", "fades", "v", TypeFact, 0.9, 20*time.Millisecond, nil); err != nil {
		t.Fatalf("StoreLongTermMemory() error = %v", err)
	}
	if _, err := s.StoreLongTermMemory(ctx, "u1", "", "keeps", "v", TypeFact, 0.1, 0, nil); err != nil {
		t.Fatalf("StoreLongTermMemory() error = %v", err)
	}

	time.Sleep(40 * time.Millisecond)

	got, err := s.RetrieveLongTermMemories(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("RetrieveLongTermMemories() error = %v", err)
	}
	if len(got) != 1 || got[0].Key != "keeps" {
		t.Fatalf("memories after ttl = %+v, want only 'keeps'", got)
	}
}

func TestJanitorPurges(t *testing.T) {
	s := NewInMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := s.StoreShortTermMemory(ctx, "sess1", "stale", "v", TypeContext, 5*time.Millisecond, nil); err != nil {
		t.Fatalf("StoreShortTermMemory() error = %v", err)
	}

	purged := make(chan int, 1)
	StartJanitor(ctx, s, 20*time.Millisecond, func(n int) {
		select {
		case purged <- n:
		default:
		}
	})

	select {
	case n := <-purged:
		if n != 1 {
			t.Fatalf("janitor purged %d memories, want 1", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("janitor did not run")
	}
}
