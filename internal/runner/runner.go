package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/mnemo/internal/brain"
	"github.com/ent0n29/mnemo/internal/memory"
	"github.com/ent0n29/mnemo/internal/observability"
	"github.com/ent0n29/mnemo/internal/session"
)

const (
	historyLimit    = 10
	shortTermTopN   = 3
	longTermTopK    = 5
	defaultEventTTL = 24 * time.Hour
)

var ErrEmptyPrompt = errors.New("prompt must not be empty")

// Request is one conversational exchange to run. SessionID continues an
// existing session; an empty SessionID with a UserID starts a new one. With
// neither, the exchange runs without persistence or memory context.
type Request struct {
	Prompt            string            `json:"prompt"`
	SessionID         string            `json:"session_id,omitempty"`
	UserID            string            `json:"user_id,omitempty"`
	AdditionalContext map[string]string `json:"additional_context,omitempty"`
}

// MemoriesUsed reports how many memories informed the reply.
type MemoriesUsed struct {
	ShortTerm int `json:"short_term"`
	LongTerm  int `json:"long_term"`
}

type Response struct {
	Text         string       `json:"text"`
	SessionID    string       `json:"session_id,omitempty"`
	TurnNumber   int          `json:"turn_number,omitempty"`
	MemoriesUsed MemoriesUsed `json:"memories_used"`
}

// Runner drives one exchange end to end: resolve the session, gather
// context, assemble the prompt, invoke the model, persist the turns.
type Runner struct {
	sessions  session.Store
	memories  memory.Store
	invoker   brain.Invoker
	metrics   *observability.Metrics
	agentName string
	eventTTL  time.Duration
}

func New(sessions session.Store, memories memory.Store, invoker brain.Invoker, metrics *observability.Metrics, agentName string, eventTTL time.Duration) *Runner {
	if eventTTL <= 0 {
		eventTTL = defaultEventTTL
	}
	return &Runner{
		sessions:  sessions,
		memories:  memories,
		invoker:   invoker,
		metrics:   metrics,
		agentName: agentName,
		eventTTL:  eventTTL,
	}
}

func (r *Runner) Run(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		r.countRequest("rejected")
		return Response{}, ErrEmptyPrompt
	}

	sess, persistent, err := r.resolveSession(ctx, req)
	if err != nil {
		r.countRequest("session_error")
		return Response{}, err
	}

	in := r.gatherContext(ctx, sess, persistent, req)
	prompt := BuildPrompt(in)

	start := time.Now()
	text, err := r.invoker.Invoke(ctx, prompt)
	if r.metrics != nil {
		r.metrics.ObserveInvokeLatency(time.Since(start))
	}
	if err != nil {
		// Nothing is persisted for a failed exchange: the session keeps no
		// record of a turn that produced no reply.
		r.countRequest("invoke_error")
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, brain.ErrInvocation) {
			return Response{}, err
		}
		return Response{}, fmt.Errorf("%w: %v", brain.ErrInvocation, err)
	}

	resp := Response{
		Text: text,
		MemoriesUsed: MemoriesUsed{
			ShortTerm: len(in.ShortTerm),
			LongTerm:  len(in.LongTerm),
		},
	}

	if persistent {
		turnNumber, err := r.persistExchange(ctx, sess, req.Prompt, text)
		if err != nil {
			r.countRequest("persist_error")
			return Response{}, err
		}
		resp.SessionID = sess.ID
		resp.TurnNumber = turnNumber
	}

	r.countRequest("ok")
	return resp, nil
}

func (r *Runner) resolveSession(ctx context.Context, req Request) (session.Session, bool, error) {
	switch {
	case req.SessionID != "":
		sess, err := r.sessions.GetSession(ctx, req.SessionID)
		if err != nil {
			return session.Session{}, false, err
		}
		return sess, true, nil
	case req.UserID != "":
		sess, err := r.sessions.CreateSession(ctx, req.UserID, r.agentName, nil)
		if err != nil {
			return session.Session{}, false, err
		}
		if r.metrics != nil {
			r.metrics.SessionEvents.WithLabelValues("created").Inc()
		}
		return sess, true, nil
	default:
		// No identity at all: run the exchange without persistence.
		return session.Session{}, false, nil
	}
}

// gatherContext fetches history and memories concurrently. Each source is
// best effort; a failing store degrades the prompt instead of failing the
// exchange.
func (r *Runner) gatherContext(ctx context.Context, sess session.Session, persistent bool, req Request) PromptInput {
	in := PromptInput{
		Additional: req.AdditionalContext,
		Prompt:     req.Prompt,
	}
	if !persistent {
		return in
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		history, err := r.sessions.GetHistory(ctx, sess.ID, historyLimit)
		if err != nil {
			log.Printf("runner: gather history for session %s: %v", sess.ID, err)
			return
		}
		in.History = history
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		shortTerm, err := r.memories.RetrieveShortTermMemories(ctx, sess.ID, shortTermTopN)
		if err != nil {
			log.Printf("runner: gather short-term memories for session %s: %v", sess.ID, err)
			return
		}
		in.ShortTerm = shortTerm
	}()

	if sess.UserID != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			longTerm, err := r.memories.RetrieveLongTermMemories(ctx, sess.UserID, longTermTopK)
			if err != nil {
				log.Printf("runner: gather long-term memories for user %s: %v", sess.UserID, err)
				return
			}
			in.LongTerm = longTerm
		}()
	}

	wg.Wait()
	return in
}

func (r *Runner) persistExchange(ctx context.Context, sess session.Session, prompt, reply string) (int, error) {
	if _, err := r.sessions.AppendTurn(ctx, sess.ID, session.RoleUser, prompt, nil); err != nil {
		return 0, fmt.Errorf("persist user turn: %w", err)
	}
	turn, err := r.sessions.AppendTurn(ctx, sess.ID, session.RoleAssistant, reply, nil)
	if err != nil {
		return 0, fmt.Errorf("persist assistant turn: %w", err)
	}
	if r.metrics != nil {
		r.metrics.TurnsAppended.Add(2)
	}

	r.snapshotExchange(ctx, sess.ID, prompt, reply, turn.TurnNumber)
	return turn.TurnNumber, nil
}

// snapshotExchange records the exchange as a short-term event memory so the
// next few turns can reference it even past the history window. Best effort.
func (r *Runner) snapshotExchange(ctx context.Context, sessionID, prompt, reply string, turnNumber int) {
	value, err := json.Marshal(map[string]any{
		"user_prompt":        prompt,
		"assistant_response": reply,
		"turn_number":        turnNumber,
	})
	if err != nil {
		log.Printf("runner: encode exchange snapshot: %v", err)
		return
	}

	key := fmt.Sprintf("turn_%d", turnNumber)
	if _, err := r.memories.StoreShortTermMemory(ctx, sessionID, key, string(value), memory.TypeEvent, r.eventTTL, nil); err != nil {
		log.Printf("runner: store exchange snapshot for session %s: %v", sessionID, err)
		return
	}
	if r.metrics != nil {
		r.metrics.MemoryWrites.WithLabelValues("short_term").Inc()
	}
}

func (r *Runner) countRequest(outcome string) {
	if r.metrics != nil {
		r.metrics.RunnerRequests.WithLabelValues(outcome).Inc()
	}
}
