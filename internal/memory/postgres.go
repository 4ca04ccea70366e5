package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/mnemo/internal/ttl"
)

// PostgresStore persists memories in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initMemorySchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initMemorySchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS long_term_memory (
			memory_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			memory_type TEXT NOT NULL,
			importance DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			accessed_at TIMESTAMPTZ NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 0,
			expires_at TIMESTAMPTZ NULL,
			metadata TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ltm_user_rank ON long_term_memory (user_id, importance DESC, accessed_at DESC);`,
		`CREATE TABLE IF NOT EXISTS short_term_memory (
			memory_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			memory_type TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NULL,
			metadata TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_stm_session_created ON short_term_memory (session_id, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_stm_expires ON short_term_memory (expires_at);`,
		`CREATE TABLE IF NOT EXISTS memory_associations (
			memory_id_1 TEXT NOT NULL,
			memory_id_2 TEXT NOT NULL,
			association_type TEXT NOT NULL,
			strength DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (memory_id_1, memory_id_2, association_type)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init memory schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) StoreLongTermMemory(ctx context.Context, userID, sessionID, key, value string, memoryType MemoryType, importance float64, ttlDur time.Duration, metadata map[string]string) (string, error) {
	if err := validateLongTerm(userID, key); err != nil {
		return "", err
	}
	meta, err := encodeMeta(metadata)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	id := uuid.NewString()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO long_term_memory
			(memory_id, user_id, session_id, key, value, memory_type, importance,
			 created_at, updated_at, accessed_at, access_count, expires_at, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, $8, 0, $9, $10)`,
		id, userID, sessionID, key, value, string(memoryType), clamp01(importance),
		now, ttl.ExpiryFrom(now, ttlDur), meta,
	)
	if err != nil {
		return "", fmt.Errorf("store long-term memory: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) StoreShortTermMemory(ctx context.Context, sessionID, key, value string, memoryType MemoryType, ttlDur time.Duration, metadata map[string]string) (string, error) {
	if err := validateShortTerm(sessionID, key, ttlDur); err != nil {
		return "", err
	}
	meta, err := encodeMeta(metadata)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	id := uuid.NewString()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO short_term_memory
			(memory_id, session_id, key, value, memory_type, created_at, expires_at, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, sessionID, key, value, string(memoryType), now, ttl.ExpiryFrom(now, ttlDur), meta,
	)
	if err != nil {
		return "", fmt.Errorf("store short-term memory: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) RetrieveLongTermMemories(ctx context.Context, userID string, topK int) ([]LongTermMemory, error) {
	if topK <= 0 {
		topK = 5
	}
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx,
		`SELECT memory_id, user_id, session_id, key, value, memory_type, importance,
		        created_at, updated_at, accessed_at, access_count, expires_at, metadata
		   FROM long_term_memory
		  WHERE user_id=$1 AND (expires_at IS NULL OR expires_at > $2)
		  ORDER BY importance DESC, accessed_at DESC
		  LIMIT $3`,
		userID, now, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("query long-term memories: %w", err)
	}

	out := make([]LongTermMemory, 0, topK)
	ids := make([]string, 0, topK)
	for rows.Next() {
		m, err := scanLongTerm(rows)
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
		// Retrieval counts as a use: bump access tracking atomically per row.
		if _, err := tx.Exec(ctx,
			`UPDATE long_term_memory
			    SET accessed_at=$1, access_count=access_count+1
			  WHERE memory_id = ANY($2)`,
			now, ids,
		); err != nil {
			return nil, fmt.Errorf("update access tracking: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	for i := range out {
		out[i].AccessedAt = now
		out[i].AccessCount++
	}
	return out, nil
}

func (s *PostgresStore) RetrieveShortTermMemories(ctx context.Context, sessionID string, topN int) ([]ShortTermMemory, error) {
	if topN <= 0 {
		topN = 3
	}
	now := time.Now().UTC()

	rows, err := s.pool.Query(ctx,
		`SELECT memory_id, session_id, key, value, memory_type, created_at, expires_at, metadata
		   FROM short_term_memory
		  WHERE session_id=$1 AND (expires_at IS NULL OR expires_at > $2)
		  ORDER BY created_at DESC
		  LIMIT $3`,
		sessionID, now, topN,
	)
	if err != nil {
		return nil, fmt.Errorf("query short-term memories: %w", err)
	}
	defer rows.Close()

	out := make([]ShortTermMemory, 0, topN)
	for rows.Next() {
		var (
			m    ShortTermMemory
			typ  string
			meta string
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Key, &m.Value, &typ, &m.CreatedAt, &m.ExpiresAt, &meta); err != nil {
			return nil, fmt.Errorf("scan short-term memory: %w", err)
		}
		m.MemoryType = MemoryType(typ)
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

func (s *PostgresStore) AssociateMemories(ctx context.Context, memoryID1, memoryID2, associationType string, strength float64) error {
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
	_, err := s.pool.Exec(ctx,
		`INSERT INTO memory_associations (memory_id_1, memory_id_2, association_type, strength, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (memory_id_1, memory_id_2, association_type)
		 DO UPDATE SET strength=EXCLUDED.strength, created_at=EXCLUDED.created_at`,
		id1, id2, associationType, clamp01(strength), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("associate memories: %w", err)
	}
	return nil
}

func (s *PostgresStore) AssociatedMemories(ctx context.Context, memoryID string, minStrength float64) ([]Association, error) {
	now := time.Now().UTC()
	rows, err := s.pool.Query(ctx,
		`SELECT a.memory_id_1, a.memory_id_2, a.association_type, a.strength, a.created_at
		   FROM memory_associations a
		  WHERE (a.memory_id_1=$1 OR a.memory_id_2=$1) AND a.strength >= $2
		    AND EXISTS (
		      SELECT 1 FROM long_term_memory m
		       WHERE m.memory_id = CASE WHEN a.memory_id_1=$1 THEN a.memory_id_2 ELSE a.memory_id_1 END
		         AND (m.expires_at IS NULL OR m.expires_at > $3)
		      UNION
		      SELECT 1 FROM short_term_memory sm
		       WHERE sm.memory_id = CASE WHEN a.memory_id_1=$1 THEN a.memory_id_2 ELSE a.memory_id_1 END
		         AND (sm.expires_at IS NULL OR sm.expires_at > $3)
		    )
		  ORDER BY a.strength DESC`,
		memoryID, minStrength, now,
	)
	if err != nil {
		return nil, fmt.Errorf("query associations: %w", err)
	}
	defer rows.Close()

	var out []Association
	for rows.Next() {
		var a Association
		if err := rows.Scan(&a.MemoryID1, &a.MemoryID2, &a.AssociationType, &a.Strength, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan association: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate associations: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateImportance(ctx context.Context, memoryID string, importance float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE long_term_memory SET importance=$2, updated_at=$3 WHERE memory_id=$1`,
		memoryID, clamp01(importance), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update importance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) PurgeExpiredShortTermMemories(ctx context.Context) (int, error) {
	// The cutoff is captured once, so rows written after the purge began
	// can never be swept up by it.
	cutoff := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM short_term_memory WHERE expires_at IS NOT NULL AND expires_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("purge short-term memories: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) memoryExists(ctx context.Context, memoryID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM long_term_memory WHERE memory_id=$1)
		     OR EXISTS(SELECT 1 FROM short_term_memory WHERE memory_id=$1)`,
		memoryID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check memory existence: %w", err)
	}
	return exists, nil
}

func scanLongTerm(rows pgx.Rows) (LongTermMemory, error) {
	var (
		m    LongTermMemory
		typ  string
		meta string
	)
	if err := rows.Scan(
		&m.ID, &m.UserID, &m.SessionID, &m.Key, &m.Value, &typ, &m.Importance,
		&m.CreatedAt, &m.UpdatedAt, &m.AccessedAt, &m.AccessCount, &m.ExpiresAt, &meta,
	); err != nil {
		return LongTermMemory{}, err
	}
	m.MemoryType = MemoryType(typ)
	var err error
	if m.Metadata, err = decodeMeta(meta); err != nil {
		return LongTermMemory{}, err
	}
	return m, nil
}
