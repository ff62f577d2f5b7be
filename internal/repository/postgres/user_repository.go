package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"fluent-auth/internal/dbx"
	"fluent-auth/internal/domain"
	"fluent-auth/internal/repository"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

type UserRepository struct {
	db  *sql.DB
	seq repository.SequenceGenerator
	now func() time.Time
}

type UserRepositoryOption func(*UserRepository)

func WithSequenceGenerator(g repository.SequenceGenerator) UserRepositoryOption {
	return func(r *UserRepository) {
		r.seq = g
	}
}

// WithClock overrides the timestamp source; used by tests.
func WithClock(now func() time.Time) UserRepositoryOption {
	return func(r *UserRepository) {
		r.now = now
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

		return tx.QueryRowContext(ctx, `
INSERT INTO users (sequence_id, username, email, password_hash, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`,
			sequenceID,
			username,
			email,
			user.PasswordHash,
			now,
			now,
		).Scan(&id)
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
	var user domain.User
	err := r.db.QueryRowContext(ctx, `
SELECT id, sequence_id, username, email, password_hash, created_at, updated_at
FROM users
WHERE email = $1`,
		repository.NormalizeEmail(email),
	).Scan(
		&user.ID,
		&user.SequenceID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, wrapErr("get user by email", err)
	}
	return &user, nil
}

func (r *UserRepository) GetBySequenceID(ctx context.Context, sequenceID int64) (*domain.User, error) {
	var user domain.User
	err := r.db.QueryRowContext(ctx, `
SELECT id, sequence_id, username, email, created_at, updated_at
FROM users
WHERE sequence_id = $1`,
		sequenceID,
	).Scan(
		&user.ID,
		&user.SequenceID,
		&user.Username,
		&user.Email,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, wrapErr("get user by sequence id", err)
	}
	return &user, nil
}

func wrapErr(op string, err error) error {
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, repository.ErrConflict),
		errors.Is(err, repository.ErrNotFound),
		errors.Is(err, repository.ErrUnavailable):
		return fmt.Errorf("%s: %w", op, err)
	case errors.As(err, &pgErr) && pgErr.Code == uniqueViolation:
		return fmt.Errorf("%s: %w (%s)", op, repository.ErrConflict, pgErr.ConstraintName)
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	default:
		return fmt.Errorf("%s: %w: %w", op, repository.ErrUnavailable, err)
	}
}
