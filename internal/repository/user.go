package repository

import (
	"context"
	"errors"
	"strings"

	"fluent-auth/internal/domain"
)

// UserSequenceKey names the counter that assigns User.SequenceID.
const UserSequenceKey = "userId"

var (
	// ErrNotFound is returned when no record matches the lookup.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("repository: already exists")
	// ErrUnavailable wraps connection and durability failures of the backing store.
	ErrUnavailable = errors.New("repository: store unavailable")
)

// UserRepository defines persistence operations for User entities.
type UserRepository interface {
	// Create assigns a sequence id, persists the user and fills in ID,
	// SequenceID and the timestamps. Duplicate usernames or emails yield
	// ErrConflict.
	Create(ctx context.Context, user *domain.User) error
	// GetByEmail returns the user including its password hash.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	// GetBySequenceID returns the user without its password hash.
	GetBySequenceID(ctx context.Context, sequenceID int64) (*domain.User, error)
}

// SequenceGenerator hands out strictly increasing values per key.
type SequenceGenerator interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
}

// NormalizeEmail trims and lowercases an address the way it is stored.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
