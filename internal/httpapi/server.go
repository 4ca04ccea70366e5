package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/mnemo/internal/brain"
	"github.com/ent0n29/mnemo/internal/config"
	"github.com/ent0n29/mnemo/internal/memory"
	"github.com/ent0n29/mnemo/internal/observability"
	"github.com/ent0n29/mnemo/internal/runner"
	"github.com/ent0n29/mnemo/internal/session"
)

type Server struct {
	cfg      config.Config
	sessions session.Store
	memories memory.Store
	runner   *runner.Runner
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sessions session.Store, memories memory.Store, r *runner.Runner, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		memories: memories,
		runner:   r,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so other sites cannot drive a user's session
				// if the service is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/chat", s.handleChat)
	r.Get("/v1/chat/ws", s.handleChatWS)

	r.Post("/v1/sessions", s.handleCreateSession)
	r.Get("/v1/sessions/{id}", s.handleGetSession)
	r.Get("/v1/sessions/{id}/history", s.handleGetHistory)
	r.Post("/v1/sessions/{id}/complete", s.handleCompleteSession)
	r.Post("/v1/sessions/{id}/archive", s.handleArchiveSession)
	r.Get("/v1/users/{id}/sessions", s.handleListUserSessions)

	r.Post("/v1/memories/longterm", s.handleStoreLongTerm)
	r.Get("/v1/memories/longterm", s.handleRetrieveLongTerm)
	r.Post("/v1/memories/shortterm", s.handleStoreShortTerm)
	r.Get("/v1/memories/shortterm", s.handleRetrieveShortTerm)
	r.Post("/v1/memories/associate", s.handleAssociate)
	r.Get("/v1/memories/{id}/associations", s.handleAssociations)
	r.Post("/v1/memories/{id}/importance", s.handleUpdateImportance)
	r.Post("/v1/memories/purge", s.handlePurge)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req runner.Request
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	resp, err := s.runner.Run(r.Context(), req)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleChatWS runs exchanges over a websocket: each inbound JSON frame is a
// chat request, each outbound frame a response or an error envelope. Failed
// exchanges keep the connection open.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	}

	for {
		var req runner.Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("httpapi: chat ws read: %v", err)
			}
			return
		}

		resp, err := s.runner.Run(r.Context(), req)
		if err != nil {
			code, status := errorCodeOf(err)
			_ = conn.WriteJSON(errorResponse{Error: err.Error(), Code: code, Status: status})
			continue
		}
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

type createSessionRequest struct {
	UserID    string            `json:"user_id"`
	AgentName string            `json:"agent_name"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.AgentName) == "" {
		req.AgentName = s.cfg.AgentName
	}

	sess, err := s.sessions.CreateSession(r.Context(), req.UserID, req.AgentName, req.Metadata)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("created").Inc()
	}
	respondJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 10)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	history, err := s.sessions.GetHistory(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"turns": history})
}

func (s *Server) handleCompleteSession(w http.ResponseWriter, r *http.Request) {
	s.setStatus(w, r, session.StatusCompleted)
}

func (s *Server) handleArchiveSession(w http.ResponseWriter, r *http.Request) {
	s.setStatus(w, r, session.StatusArchived)
}

func (s *Server) setStatus(w http.ResponseWriter, r *http.Request, status session.Status) {
	sess, err := s.sessions.SetStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues(string(status)).Inc()
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListUserSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.ListSessionsForUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

type storeLongTermRequest struct {
	UserID     string            `json:"user_id"`
	SessionID  string            `json:"session_id,omitempty"`
	Key        string            `json:"key"`
	Value      string            `json:"value"`
	MemoryType string            `json:"memory_type,omitempty"`
	Importance float64           `json:"importance"`
	TTL        string            `json:"ttl,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleStoreLongTerm(w http.ResponseWriter, r *http.Request) {
	var req storeLongTermRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	ttl, err := parseTTL(req.TTL)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	id, err := s.memories.StoreLongTermMemory(r.Context(), req.UserID, req.SessionID, req.Key, req.Value,
		memoryTypeOrDefault(req.MemoryType, memory.TypeFact), req.Importance, ttl, req.Metadata)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.MemoryWrites.WithLabelValues("long_term").Inc()
	}
	respondJSON(w, http.StatusCreated, map[string]string{"memory_id": id})
}

type storeShortTermRequest struct {
	SessionID  string            `json:"session_id"`
	Key        string            `json:"key"`
	Value      string            `json:"value"`
	MemoryType string            `json:"memory_type,omitempty"`
	TTL        string            `json:"ttl"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleStoreShortTerm(w http.ResponseWriter, r *http.Request) {
	var req storeShortTermRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	ttl, err := parseTTL(req.TTL)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	id, err := s.memories.StoreShortTermMemory(r.Context(), req.SessionID, req.Key, req.Value,
		memoryTypeOrDefault(req.MemoryType, memory.TypeContext), ttl, req.Metadata)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.MemoryWrites.WithLabelValues("short_term").Inc()
	}
	respondJSON(w, http.StatusCreated, map[string]string{"memory_id": id})
}

func (s *Server) handleRetrieveLongTerm(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "query parameter user_id is required")
		return
	}
	topK, err := intQuery(r, "top_k", 5)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	memories, err := s.memories.RetrieveLongTermMemories(r.Context(), userID, topK)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"memories": memories})
}

func (s *Server) handleRetrieveShortTerm(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "query parameter session_id is required")
		return
	}
	topN, err := intQuery(r, "top_n", 3)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	memories, err := s.memories.RetrieveShortTermMemories(r.Context(), sessionID, topN)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"memories": memories})
}

type associateRequest struct {
	MemoryID1       string  `json:"memory_id_1"`
	MemoryID2       string  `json:"memory_id_2"`
	AssociationType string  `json:"association_type"`
	Strength        float64 `json:"strength"`
}

func (s *Server) handleAssociate(w http.ResponseWriter, r *http.Request) {
	var req associateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	err := s.memories.AssociateMemories(r.Context(), req.MemoryID1, req.MemoryID2, req.AssociationType, req.Strength)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "associated"})
}

func (s *Server) handleAssociations(w http.ResponseWriter, r *http.Request) {
	minStrength := 0.0
	if raw := strings.TrimSpace(r.URL.Query().Get("min_strength")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "min_strength must be a number")
			return
		}
		minStrength = v
	}

	assocs, err := s.memories.AssociatedMemories(r.Context(), chi.URLParam(r, "id"), minStrength)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"associations": assocs})
}

type updateImportanceRequest struct {
	Importance float64 `json:"importance"`
}

func (s *Server) handleUpdateImportance(w http.ResponseWriter, r *http.Request) {
	var req updateImportanceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if err := s.memories.UpdateImportance(r.Context(), chi.URLParam(r, "id"), req.Importance); err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	removed, err := s.memories.PurgeExpiredShortTermMemories(r.Context())
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.MemoriesPurged.Add(float64(removed))
	}
	respondJSON(w, http.StatusOK, map[string]int{"purged": removed})
}

type errorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Status int    `json:"status,omitempty"`
}

func (s *Server) respondDomainError(w http.ResponseWriter, err error) {
	code, status := errorCodeOf(err)
	if status == http.StatusInternalServerError {
		log.Printf("httpapi: internal error: %v", err)
	}
	respondError(w, status, code, err.Error())
}

func errorCodeOf(err error) (string, int) {
	switch {
	case errors.Is(err, session.ErrValidation), errors.Is(err, memory.ErrValidation), errors.Is(err, runner.ErrEmptyPrompt):
		return "invalid_request", http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound), errors.Is(err, memory.ErrNotFound):
		return "not_found", http.StatusNotFound
	case errors.Is(err, session.ErrInvalidTransition):
		return "invalid_transition", http.StatusConflict
	case errors.Is(err, session.ErrConflict):
		return "conflict", http.StatusConflict
	case errors.Is(err, brain.ErrInvocation):
		return "upstream_error", http.StatusBadGateway
	default:
		return "internal_error", http.StatusInternalServerError
	}
}

func parseTTL(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, errors.New("ttl must be a duration like 30m or 24h")
	}
	return d, nil
}

func memoryTypeOrDefault(raw string, fallback memory.MemoryType) memory.MemoryType {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	return memory.MemoryType(raw)
}

func intQuery(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(key + " must be an integer")
	}
	return n, nil
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
