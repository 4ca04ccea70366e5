package runner

import (
	"strings"
	"testing"

	"github.com/ent0n29/mnemo/internal/memory"
	"github.com/ent0n29/mnemo/internal/session"
)

func TestBuildPromptBarePrompt(t *testing.T) {
	got := BuildPrompt(PromptInput{Prompt: "hello"})
	want := "=== Current Request ===\nhello"
	if got != want {
		t.Fatalf("BuildPrompt() = %q, want %q", got, want)
	}
}

func TestBuildPromptSectionOrder(t *testing.T) {
	got := BuildPrompt(PromptInput{
		History: []session.ConversationTurn{
			{Role: session.RoleAssistant, Content: "hi there"},
			{Role: session.RoleUser, Content: "hi"},
		},
		LongTerm: []memory.LongTermMemory{
			{Key: "likes", Value: "jazz", MemoryType: memory.TypePreference},
		},
		ShortTerm: []memory.ShortTermMemory{
			{Key: "topic", Value: "travel", MemoryType: memory.TypeContext},
		},
		Additional: map[string]string{"locale": "en"},
		Prompt:     "plan my trip",
	})

	sections := []string{
		"=== Previous Conversation ===",
		"=== Relevant Context ===",
		"=== Recent Session Context ===",
		"=== Additional Context ===",
		"=== Current Request ===",
	}
	last := -1
	for _, s := range sections {
		idx := strings.Index(got, s)
		if idx < 0 {
			t.Fatalf("prompt missing section %q:\n%s", s, got)
		}
		if idx < last {
			t.Fatalf("section %q out of order:\n%s", s, got)
		}
		last = idx
	}

	// History reads oldest first even though it arrives most recent first.
	if strings.Index(got, "user: hi\n") > strings.Index(got, "assistant: hi there") {
		t.Fatalf("history not oldest-first:\n%s", got)
	}
	if !strings.Contains(got, "- [preference] likes: jazz") {
		t.Fatalf("long-term memory not rendered:\n%s", got)
	}
	if !strings.Contains(got, "- [context] topic: travel") {
		t.Fatalf("short-term memory not rendered:\n%s", got)
	}
	if !strings.HasSuffix(got, "=== Current Request ===\nplan my trip") {
		t.Fatalf("prompt does not end with the current request:\n%s", got)
	}
}

func TestBuildPromptAdditionalContextSorted(t *testing.T) {
	got := BuildPrompt(PromptInput{
		Additional: map[string]string{"zone": "utc", "app": "cli", "mode": "fast"},
		Prompt:     "x",
	})
	app := strings.Index(got, "- app: cli")
	mode := strings.Index(got, "- mode: fast")
	zone := strings.Index(got, "- zone: utc")
	if app < 0 || mode < 0 || zone < 0 || !(app < mode && mode < zone) {
		t.Fatalf("additional context not sorted by key:\n%s", got)
	}
}

func TestBuildPromptOmitsEmptySections(t *testing.T) {
	got := BuildPrompt(PromptInput{
		ShortTerm: []memory.ShortTermMemory{{Key: "k", Value: "v", MemoryType: memory.TypeState}},
		Prompt:    "x",
	})
	for _, s := range []string{"=== Previous Conversation ===", "=== Relevant Context ===", "=== Additional Context ==="} {
		if strings.Contains(got, s) {
			t.Fatalf("empty section %q rendered:\n%s", s, got)
		}
	}
	if !strings.Contains(got, "=== Recent Session Context ===") {
		t.Fatalf("populated section missing:\n%s", got)
	}
}
