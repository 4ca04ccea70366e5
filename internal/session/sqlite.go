package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists sessions in an embedded SQLite database. Suitable for
// single-node deployments; timestamps are stored as unix nanoseconds.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", strings.TrimSpace(dsn))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if err := initSessionSchemaSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initSessionSchemaSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			metadata TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT '',
			agent_name TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			metadata TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_created ON sessions (user_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			session_id TEXT NOT NULL,
			turn_number INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			metadata TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (session_id, turn_number)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init session schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, userID, agentName string, metadata map[string]string) (Session, error) {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Session{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if userID != "" {
		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO users (user_id, created_at) VALUES (?, ?)`,
			userID, now.UnixNano(),
		)
		if err != nil {
			return Session{}, fmt.Errorf("ensure user: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (session_id, user_id, agent_name, status, created_at, updated_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.AgentName, string(sess.Status), now.UnixNano(), now.UnixNano(), meta,
	)
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Session{}, fmt.Errorf("commit tx: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, agent_name, status, created_at, updated_at, metadata
		   FROM sessions WHERE session_id=?`,
		sessionID,
	)
	sess, err := scanSessionSQLite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) AppendTurn(ctx context.Context, sessionID string, role Role, content string, metadata map[string]string) (ConversationTurn, error) {
	if err := validateAppend(role); err != nil {
		return ConversationTurn{}, err
	}
	meta, err := encodeMeta(metadata)
	if err != nil {
		return ConversationTurn{}, err
	}

	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		turn, err := s.tryAppendTurn(ctx, sessionID, role, content, meta, metadata)
		if err == nil {
			return turn, nil
		}
		if !isUniqueViolationSQLite(err) {
			return ConversationTurn{}, err
		}
	}
	return ConversationTurn{}, ErrConflict
}

func (s *SQLiteStore) tryAppendTurn(ctx context.Context, sessionID string, role Role, content, meta string, metadata map[string]string) (ConversationTurn, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ConversationTurn{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM sessions WHERE session_id=?`, sessionID,
	).Scan(&exists)
	if err != nil {
		return ConversationTurn{}, fmt.Errorf("check session: %w", err)
	}
	if exists == 0 {
		return ConversationTurn{}, ErrNotFound
	}

	var turnNumber int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(turn_number), 0) + 1 FROM conversation_turns WHERE session_id=?`,
		sessionID,
	).Scan(&turnNumber)
	if err != nil {
		return ConversationTurn{}, fmt.Errorf("next turn number: %w", err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversation_turns (session_id, turn_number, role, content, created_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, turnNumber, string(role), content, now.UnixNano(), meta,
	)
	if err != nil {
		return ConversationTurn{}, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at=? WHERE session_id=?`, now.UnixNano(), sessionID,
	); err != nil {
		return ConversationTurn{}, fmt.Errorf("bump session: %w", err)
	}

	if err := tx.Commit(); err != nil {
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

func (s *SQLiteStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]ConversationTurn, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, turn_number, role, content, created_at, metadata
		   FROM conversation_turns WHERE session_id=?
		  ORDER BY turn_number DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := make([]ConversationTurn, 0, limit)
	for rows.Next() {
		var (
			turn    ConversationTurn
			role    string
			created int64
			meta    string
		)
		if err := rows.Scan(&turn.SessionID, &turn.TurnNumber, &role, &turn.Content, &created, &meta); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turn.Role = Role(role)
		turn.Timestamp = time.Unix(0, created).UTC()
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

func (s *SQLiteStore) ListSessionsForUser(ctx context.Context, userID string) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, user_id, agent_name, status, created_at, updated_at, metadata
		   FROM sessions WHERE user_id=? ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSessionSQLite(rows)
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

func (s *SQLiteStore) SetStatus(ctx context.Context, sessionID string, status Status) (Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Session{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT session_id, user_id, agent_name, status, created_at, updated_at, metadata
		   FROM sessions WHERE session_id=?`,
		sessionID,
	)
	sess, err := scanSessionSQLite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("get session for status: %w", err)
	}

	if err := checkTransition(sess.Status, status); err != nil {
		return Session{}, err
	}

	if sess.Status != status {
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET status=?, updated_at=? WHERE session_id=?`,
			string(status), now.UnixNano(), sessionID,
		); err != nil {
			return Session{}, fmt.Errorf("update status: %w", err)
		}
		sess.Status = status
		sess.UpdatedAt = now
	}

	if err := tx.Commit(); err != nil {
		return Session{}, fmt.Errorf("commit tx: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteRow interface {
	Scan(dest ...any) error
}

func scanSessionSQLite(row sqliteRow) (Session, error) {
	var (
		sess    Session
		status  string
		created int64
		updated int64
		meta    string
	)
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.AgentName, &status, &created, &updated, &meta); err != nil {
		return Session{}, err
	}
	sess.Status = Status(status)
	sess.CreatedAt = time.Unix(0, created).UTC()
	sess.UpdatedAt = time.Unix(0, updated).UTC()
	var err error
	if sess.Metadata, err = decodeMeta(meta); err != nil {
		return Session{}, err
	}
	return sess, nil
}

func isUniqueViolationSQLite(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}
