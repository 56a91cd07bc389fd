package memory

import (
	"context"
	"strings"
)

// Stores bundles the document and fact stores chosen by configuration.
type Stores struct {
	Documents DocumentStore
	Facts     FactStore
}

func (s Stores) Close() error {
	var first error
	if s.Documents != nil {
		first = s.Documents.Close()
	}
	if s.Facts != nil && any(s.Facts) != any(s.Documents) {
		if err := s.Facts.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewStores creates postgres-backed stores when databaseURL is set. Without
// it, facts and profiles go to SQLite when sqlitePath is set, and everything
// else stays in memory.
func NewStores(ctx context.Context, databaseURL, sqlitePath string) (Stores, error) {
	if strings.TrimSpace(databaseURL) != "" {
		pg, err := NewPostgresStore(ctx, databaseURL)
		if err != nil {
			return Stores{}, err
		}
		return Stores{Documents: pg, Facts: pg}, nil
	}

	mem := NewInMemoryStore()
	if strings.TrimSpace(sqlitePath) == "" {
		return Stores{Documents: mem, Facts: mem}, nil
	}
	lite, err := NewSQLiteFactStore(ctx, sqlitePath)
	if err != nil {
		return Stores{}, err
	}
	return Stores{Documents: mem, Facts: lite}, nil
}
