package memory

import (
	"context"
	"strings"
)

// NewStore picks a backend from the database URL: postgres for postgres://
// URLs, embedded SQLite for any other non-empty DSN, in-memory otherwise.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	dsn := strings.TrimSpace(databaseURL)
	switch {
	case dsn == "":
		return NewInMemoryStore(), nil
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgresStore(ctx, dsn)
	default:
		return NewSQLiteStore(ctx, dsn)
	}
}
