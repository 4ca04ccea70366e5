package runner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ent0n29/mnemo/internal/memory"
	"github.com/ent0n29/mnemo/internal/session"
)

// PromptInput carries everything gathered for one turn. History arrives most
// recent first, as the session store returns it.
type PromptInput struct {
	History    []session.ConversationTurn
	LongTerm   []memory.LongTermMemory
	ShortTerm  []memory.ShortTermMemory
	Additional map[string]string
	Prompt     string
}

// BuildPrompt assembles the model prompt. Sections appear in a fixed order
// and are omitted when empty; history is rendered oldest first so the model
// reads the conversation top to bottom.
func BuildPrompt(in PromptInput) string {
	var b strings.Builder

	if len(in.History) > 0 {
		b.WriteString("=== Previous Conversation ===\n")
		for i := len(in.History) - 1; i >= 0; i-- {
			turn := in.History[i]
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
		}
		b.WriteString("\n")
	}

	if len(in.LongTerm) > 0 {
		b.WriteString("=== Relevant Context ===\n")
		for _, m := range in.LongTerm {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", m.MemoryType, m.Key, m.Value)
		}
		b.WriteString("\n")
	}

	if len(in.ShortTerm) > 0 {
		b.WriteString("=== Recent Session Context ===\n")
		for _, m := range in.ShortTerm {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", m.MemoryType, m.Key, m.Value)
		}
		b.WriteString("\n")
	}

	if len(in.Additional) > 0 {
		b.WriteString("=== Additional Context ===\n")
		keys := make([]string, 0, len(in.Additional))
		for k := range in.Additional {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, in.Additional[k])
		}
		b.WriteString("\n")
	}

	b.WriteString("=== Current Request ===\n")
	b.WriteString(in.Prompt)
	return b.String()
}
