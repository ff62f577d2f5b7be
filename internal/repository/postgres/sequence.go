package postgres

import (
	"context"
	"fmt"
	"strings"

	"fluent-auth/internal/dbx"
	"fluent-auth/internal/repository"
)

const incrementCounter = `
INSERT INTO counters (name, value)
VALUES ($1, 1)
ON CONFLICT (name) DO UPDATE SET value = counters.value + 1
RETURNING value`

// SequenceGenerator is the PostgreSQL flavour of the counters-table
// generator; the upsert takes a row lock so concurrent increments serialise.
type SequenceGenerator struct {
	db dbx.DBTX
}

var _ repository.SequenceGenerator = (*SequenceGenerator)(nil)

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
