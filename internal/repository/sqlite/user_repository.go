package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"fluent-auth/internal/dbx"
	"fluent-auth/internal/domain"
	"fluent-auth/internal/repository"
)

type UserRepository struct {
	db  *sql.DB
	seq repository.SequenceGenerator
	now func() time.Time
}

type UserRepositoryOption func(*UserRepository)

// WithSequenceGenerator makes Create draw ids from g instead of the
// counters table of the same database.
func WithSequenceGenerator(g repository.SequenceGenerator) UserRepositoryOption {
	return func(r *UserRepository) {
		r.seq = g
	}
}

func NewUserRepository(db *sql.DB, opts ...UserRepositoryOption) *UserRepository {
	r := &UserRepository{db: db, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ repository.UserRepository = (*UserRepository)(nil)

func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	username := strings.TrimSpace(user.Username)
	email := repository.NormalizeEmail(user.Email)
	now := r.now().UTC()

	var id, sequenceID int64
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		seq := r.seq
		if seq == nil {
			seq = NewSequenceGenerator(tx)
		}

		var err error
		sequenceID, err = seq.IncrementAndGet(ctx, repository.UserSequenceKey)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
INSERT INTO users (sequence_id, username, email, password_hash, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`,
			sequenceID,
			username,
			email,
			user.PasswordHash,
			now,
			now,
		)
		if err != nil {
			return err
		}

		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return wrapErr("create user", err)
	}

	user.ID = id
	user.SequenceID = sequenceID
	user.Username = username
	user.Email = email
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, sequence_id, username, email, password_hash, created_at, updated_at
FROM users
WHERE email = ?`,
		repository.NormalizeEmail(email),
	)

	var user domain.User
	if err := row.Scan(
		&user.ID,
		&user.SequenceID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, wrapErr("get user by email", err)
	}
	return &user, nil
}

func (r *UserRepository) GetBySequenceID(ctx context.Context, sequenceID int64) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, sequence_id, username, email, created_at, updated_at
FROM users
WHERE sequence_id = ?`,
		sequenceID,
	)

	var user domain.User
	if err := row.Scan(
		&user.ID,
		&user.SequenceID,
		&user.Username,
		&user.Email,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, wrapErr("get user by sequence id", err)
	}
	return &user, nil
}

// wrapErr maps driver errors onto the repository error taxonomy.
func wrapErr(op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrConflict),
		errors.Is(err, repository.ErrNotFound),
		errors.Is(err, repository.ErrUnavailable):
		return fmt.Errorf("%s: %w", op, err)
	case isUniqueViolation(err):
		return fmt.Errorf("%s: %w", op, repository.ErrConflict)
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	default:
		return fmt.Errorf("%s: %w: %w", op, repository.ErrUnavailable, err)
	}
}

func isUniqueViolation(err error) bool {
	var sqliteErr *moderncsqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
