package sqlite

import (
	"context"
	"fmt"
	"strings"

	"fluent-auth/internal/dbx"
	"fluent-auth/internal/repository"
)

const incrementCounter = `
INSERT INTO counters (name, value)
VALUES (?, 1)
ON CONFLICT (name) DO UPDATE SET value = counters.value + 1
RETURNING value`

// SequenceGenerator keeps named counters in the counters table. Each call is
// a single upsert statement, so concurrent callers never share a value.
type SequenceGenerator struct {
	db dbx.DBTX
}

var _ repository.SequenceGenerator = (*SequenceGenerator)(nil)

// NewSequenceGenerator binds the generator to a *sql.DB or an open *sql.Tx.
func NewSequenceGenerator(db dbx.DBTX) *SequenceGenerator {
	return &SequenceGenerator{db: db}
}

func (g *SequenceGenerator) IncrementAndGet(ctx context.Context, key string) (int64, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, fmt.Errorf("sequence key is required")
	}

	var value int64
	if err := g.db.QueryRowContext(ctx, incrementCounter, key).Scan(&value); err != nil {
		return 0, wrapErr("increment counter "+key, err)
	}
	return value, nil
}
