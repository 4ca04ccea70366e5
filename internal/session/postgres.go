package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists sessions and conversation turns in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSessionSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSessionSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL,
			metadata TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT '',
			agent_name TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			metadata TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_created ON sessions (user_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			session_id TEXT NOT NULL REFERENCES sessions(session_id),
			turn_number INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			metadata TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (session_id, turn_number)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init session schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, userID, agentName string, metadata map[string]string) (Session, error) {
	if err := validateCreate(agentName); err != nil {
		return Session{}, err
	}
	meta, err := encodeMeta(metadata)
	if err != nil {
		return Session{}, err
	}

	now := time.Now().UTC()
	sess := Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		AgentName: agentName,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  copyMeta(metadata),
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if userID != "" {
		// Users are created lazily on first session and never deleted.
		_, err = tx.Exec(ctx,
			`INSERT INTO users (user_id, created_at) VALUES ($1, $2)
			 ON CONFLICT (user_id) DO NOTHING`,
			userID, now,
		)
		if err != nil {
			return Session{}, fmt.Errorf("ensure user: %w", err)
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO sessions (session_id, user_id, agent_name, status, created_at, updated_at, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sess.ID, sess.UserID, sess.AgentName, string(sess.Status), sess.CreatedAt, sess.UpdatedAt, meta,
	)
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Session{}, fmt.Errorf("commit tx: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT session_id, user_id, agent_name, status, created_at, updated_at, metadata
		   FROM sessions WHERE session_id=$1`,
		sessionID,
	)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) AppendTurn(ctx context.Context, sessionID string, role Role, content string, metadata map[string]string) (ConversationTurn, error) {
	if err := validateAppend(role); err != nil {
		return ConversationTurn{}, err
	}
	meta, err := encodeMeta(metadata)
	if err != nil {
		return ConversationTurn{}, err
	}

	// Turn numbers are assigned max+1 inside a transaction; the primary key
	// on (session_id, turn_number) turns a lost race into a unique violation
	// which we retry a bounded number of times.
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		turn, err := s.tryAppendTurn(ctx, sessionID, role, content, meta, metadata)
		if err == nil {
			return turn, nil
		}
		if !isUniqueViolation(err) {
			return ConversationTurn{}, err
		}
	}
	return ConversationTurn{}, ErrConflict
}

func (s *PostgresStore) tryAppendTurn(ctx context.Context, sessionID string, role Role, content, meta string, metadata map[string]string) (ConversationTurn, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ConversationTurn{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM sessions WHERE session_id=$1)`, sessionID,
	).Scan(&exists); err != nil {
		return ConversationTurn{}, fmt.Errorf("check session: %w", err)
	}
	if !exists {
		return ConversationTurn{}, ErrNotFound
	}

	var turnNumber int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(turn_number), 0) + 1 FROM conversation_turns WHERE session_id=$1`,
		sessionID,
	).Scan(&turnNumber); err != nil {
		return ConversationTurn{}, fmt.Errorf("next turn number: %w", err)
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx,
		`INSERT INTO conversation_turns (session_id, turn_number, role, content, created_at, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sessionID, turnNumber, string(role), content, now, meta,
	)
	if err != nil {
		return ConversationTurn{}, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE sessions SET updated_at=$2 WHERE session_id=$1`, sessionID, now,
	); err != nil {
		return ConversationTurn{}, fmt.Errorf("bump session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return ConversationTurn{}, err
	}

	return ConversationTurn{
		SessionID:  sessionID,
		TurnNumber: turnNumber,
		Role:       role,
		Content:    content,
		Timestamp:  now,
		Metadata:   copyMeta(metadata),
	}, nil
}

func (s *PostgresStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]ConversationTurn, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT session_id, turn_number, role, content, created_at, metadata
		   FROM conversation_turns WHERE session_id=$1
		  ORDER BY turn_number DESC LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := make([]ConversationTurn, 0, limit)
	for rows.Next() {
		var (
			turn ConversationTurn
			role string
			meta string
		)
		if err := rows.Scan(&turn.SessionID, &turn.TurnNumber, &role, &turn.Content, &turn.Timestamp, &meta); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turn.Role = Role(role)
		if turn.Metadata, err = decodeMeta(meta); err != nil {
			return nil, err
		}
		out = append(out, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListSessionsForUser(ctx context.Context, userID string) ([]Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT session_id, user_id, agent_name, status, created_at, updated_at, metadata
		   FROM sessions WHERE user_id=$1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, sessionID string, status Status) (Session, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT session_id, user_id, agent_name, status, created_at, updated_at, metadata
		   FROM sessions WHERE session_id=$1 FOR UPDATE`,
		sessionID,
	)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("get session for status: %w", err)
	}

	if err := checkTransition(sess.Status, status); err != nil {
		return Session{}, err
	}

	if sess.Status != status {
		now := time.Now().UTC()
		if _, err := tx.Exec(ctx,
			`UPDATE sessions SET status=$2, updated_at=$3 WHERE session_id=$1`,
			sessionID, string(status), now,
		); err != nil {
			return Session{}, fmt.Errorf("update status: %w", err)
		}
		sess.Status = status
		sess.UpdatedAt = now
	}

	if err := tx.Commit(ctx); err != nil {
		return Session{}, fmt.Errorf("commit tx: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanSession(row pgx.Row) (Session, error) {
	var (
		sess   Session
		status string
		meta   string
	)
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.AgentName, &status, &sess.CreatedAt, &sess.UpdatedAt, &meta); err != nil {
		return Session{}, err
	}
	sess.Status = Status(status)
	var err error
	if sess.Metadata, err = decodeMeta(meta); err != nil {
		return Session{}, err
	}
	return sess, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
