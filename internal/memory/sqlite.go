package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ent0n29/mnemo/internal/ttl"
)

// SQLiteStore persists memories in an embedded SQLite database. Timestamps
// are stored as unix nanoseconds; a NULL expires_at means the record never
// expires.
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

	if err := initMemorySchemaSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initMemorySchemaSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS long_term_memory (
			memory_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			memory_type TEXT NOT NULL,
			importance REAL NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			accessed_at INTEGER NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 0,
			expires_at INTEGER NULL,
			metadata TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ltm_user_rank ON long_term_memory (user_id, importance DESC, accessed_at DESC);`,
		`CREATE TABLE IF NOT EXISTS short_term_memory (
			memory_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			memory_type TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NULL,
			metadata TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_stm_session_created ON short_term_memory (session_id, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_stm_expires ON short_term_memory (expires_at);`,
		`CREATE TABLE IF NOT EXISTS memory_associations (
			memory_id_1 TEXT NOT NULL,
			memory_id_2 TEXT NOT NULL,
			association_type TEXT NOT NULL,
			strength REAL NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (memory_id_1, memory_id_2, association_type)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init memory schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *SQLiteStore) StoreLongTermMemory(ctx context.Context, userID, sessionID, key, value string, memoryType MemoryType, importance float64, ttlDur time.Duration, metadata map[string]string) (string, error) {
	if err := validateLongTerm(userID, key); err != nil {
		return "", err
	}
	meta, err := encodeMeta(metadata)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO long_term_memory
			(memory_id, user_id, session_id, key, value, memory_type, importance,
			 created_at, updated_at, accessed_at, access_count, expires_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		id, userID, sessionID, key, value, string(memoryType), clamp01(importance),
		now.UnixNano(), now.UnixNano(), now.UnixNano(), expiryNanos(now, ttlDur), meta,
	)
	if err != nil {
		return "", fmt.Errorf("store long-term memory: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) StoreShortTermMemory(ctx context.Context, sessionID, key, value string, memoryType MemoryType, ttlDur time.Duration, metadata map[string]string) (string, error) {
	if err := validateShortTerm(sessionID, key, ttlDur); err != nil {
		return "", err
	}
	meta, err := encodeMeta(metadata)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO short_term_memory
			(memory_id, session_id, key, value, memory_type, created_at, expires_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, sessionID, key, value, string(memoryType), now.UnixNano(), expiryNanos(now, ttlDur), meta,
	)
	if err != nil {
		return "", fmt.Errorf("store short-term memory: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) RetrieveLongTermMemories(ctx context.Context, userID string, topK int) ([]LongTermMemory, error) {
	if topK <= 0 {
		topK = 5
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT memory_id, user_id, session_id, key, value, memory_type, importance,
		        created_at, updated_at, accessed_at, access_count, expires_at, metadata
		   FROM long_term_memory
		  WHERE user_id=? AND (expires_at IS NULL OR expires_at > ?)
		  ORDER BY importance DESC, accessed_at DESC
		  LIMIT ?`,
		userID, now.UnixNano(), topK,
	)
	if err != nil {
		return nil, fmt.Errorf("query long-term memories: %w", err)
	}

	out := make([]LongTermMemory, 0, topK)
	ids := make([]string, 0, topK)
	for rows.Next() {
		m, err := scanLongTermSQLite(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan long-term memory: %w", err)
		}
		out = append(out, m)
		ids = append(ids, m.ID)
	}
	rowsErr := rows.Err()
	rows.Close()
	if rowsErr != nil {
		return nil, fmt.Errorf("iterate long-term memories: %w", rowsErr)
	}

	if len(ids) > 0 {
		// Retrieval counts as a use: bump access tracking on the returned rows.
		stmt := fmt.Sprintf(
			`UPDATE long_term_memory SET accessed_at=?, access_count=access_count+1
			  WHERE memory_id IN (%s)`,
			placeholders(len(ids)),
		)
		args := make([]any, 0, len(ids)+1)
		args = append(args, now.UnixNano())
		for _, id := range ids {
			args = append(args, id)
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return nil, fmt.Errorf("update access tracking: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	for i := range out {
		out[i].AccessedAt = now
		out[i].AccessCount++
	}
	return out, nil
}

func (s *SQLiteStore) RetrieveShortTermMemories(ctx context.Context, sessionID string, topN int) ([]ShortTermMemory, error) {
	if topN <= 0 {
		topN = 3
	}
	now := time.Now().UTC()

	rows, err := s.db.QueryContext(ctx,
		`SELECT memory_id, session_id, key, value, memory_type, created_at, expires_at, metadata
		   FROM short_term_memory
		  WHERE session_id=? AND (expires_at IS NULL OR expires_at > ?)
		  ORDER BY created_at DESC
		  LIMIT ?`,
		sessionID, now.UnixNano(), topN,
	)
	if err != nil {
		return nil, fmt.Errorf("query short-term memories: %w", err)
	}
	defer rows.Close()

	out := make([]ShortTermMemory, 0, topN)
	for rows.Next() {
		var (
			m       ShortTermMemory
			typ     string
			created int64
			expires sql.NullInt64
			meta    string
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Key, &m.Value, &typ, &created, &expires, &meta); err != nil {
			return nil, fmt.Errorf("scan short-term memory: %w", err)
		}
		m.MemoryType = MemoryType(typ)
		m.CreatedAt = time.Unix(0, created).UTC()
		m.ExpiresAt = nanosToTime(expires)
		if m.Metadata, err = decodeMeta(meta); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate short-term memories: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) AssociateMemories(ctx context.Context, memoryID1, memoryID2, associationType string, strength float64) error {
	for _, id := range []string{memoryID1, memoryID2} {
		exists, err := s.memoryExists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
	}

	id1, id2 := normalizePair(memoryID1, memoryID2)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO memory_associations
			(memory_id_1, memory_id_2, association_type, strength, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id1, id2, associationType, clamp01(strength), time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("associate memories: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AssociatedMemories(ctx context.Context, memoryID string, minStrength float64) ([]Association, error) {
	now := time.Now().UTC()
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.memory_id_1, a.memory_id_2, a.association_type, a.strength, a.created_at
		   FROM memory_associations a
		  WHERE (a.memory_id_1=?1 OR a.memory_id_2=?1) AND a.strength >= ?2
		    AND EXISTS (
		      SELECT 1 FROM long_term_memory m
		       WHERE m.memory_id = CASE WHEN a.memory_id_1=?1 THEN a.memory_id_2 ELSE a.memory_id_1 END
		         AND (m.expires_at IS NULL OR m.expires_at > ?3)
		      UNION
		      SELECT 1 FROM short_term_memory sm
		       WHERE sm.memory_id = CASE WHEN a.memory_id_1=?1 THEN a.memory_id_2 ELSE a.memory_id_1 END
		         AND (sm.expires_at IS NULL OR sm.expires_at > ?3)
		    )
		  ORDER BY a.strength DESC`,
		memoryID, minStrength, now.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("query associations: %w", err)
	}
	defer rows.Close()

	var out []Association
	for rows.Next() {
		var (
			a       Association
			created int64
		)
		if err := rows.Scan(&a.MemoryID1, &a.MemoryID2, &a.AssociationType, &a.Strength, &created); err != nil {
			return nil, fmt.Errorf("scan association: %w", err)
		}
		a.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate associations: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) UpdateImportance(ctx context.Context, memoryID string, importance float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE long_term_memory SET importance=?, updated_at=? WHERE memory_id=?`,
		clamp01(importance), time.Now().UTC().UnixNano(), memoryID,
	)
	if err != nil {
		return fmt.Errorf("update importance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update importance: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) PurgeExpiredShortTermMemories(ctx context.Context) (int, error) {
	// The cutoff is captured once, so rows written after the purge began
	// can never be swept up by it.
	cutoff := time.Now().UTC().UnixNano()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM short_term_memory WHERE expires_at IS NOT NULL AND expires_at < ?`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("purge short-term memories: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge short-term memories: %w", err)
	}
	return int(affected), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) memoryExists(ctx context.Context, memoryID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(1) FROM long_term_memory WHERE memory_id=?1)
		      + (SELECT COUNT(1) FROM short_term_memory WHERE memory_id=?1)`,
		memoryID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check memory existence: %w", err)
	}
	return count > 0, nil
}

func scanLongTermSQLite(rows *sql.Rows) (LongTermMemory, error) {
	var (
		m        LongTermMemory
		typ      string
		created  int64
		updated  int64
		accessed int64
		expires  sql.NullInt64
		meta     string
	)
	if err := rows.Scan(
		&m.ID, &m.UserID, &m.SessionID, &m.Key, &m.Value, &typ, &m.Importance,
		&created, &updated, &accessed, &m.AccessCount, &expires, &meta,
	); err != nil {
		return LongTermMemory{}, err
	}
	m.MemoryType = MemoryType(typ)
	m.CreatedAt = time.Unix(0, created).UTC()
	m.UpdatedAt = time.Unix(0, updated).UTC()
	m.AccessedAt = time.Unix(0, accessed).UTC()
	m.ExpiresAt = nanosToTime(expires)
	var err error
	if m.Metadata, err = decodeMeta(meta); err != nil {
		return LongTermMemory{}, err
	}
	return m, nil
}

// expiryNanos mirrors ttl.ExpiryFrom for the unix-nanosecond column.
func expiryNanos(now time.Time, d time.Duration) sql.NullInt64 {
	exp := ttl.ExpiryFrom(now, d)
	if exp == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: exp.UnixNano(), Valid: true}
}

func nanosToTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

// placeholders renders n comma-separated "?" marks for an IN clause.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
