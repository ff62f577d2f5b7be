package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"fluent-auth/internal/auth"
	"fluent-auth/internal/domain"
	"fluent-auth/internal/repository"
)

var (
	// ErrInvalidCredentials is returned for an unknown email and for a wrong
	// password alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserAlreadyExists is returned when the username or email is taken.
	ErrUserAlreadyExists = errors.New("user already exists")
	// ErrUserNotFound is returned when a looked-up identity does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrStoreUnavailable wraps persistence and hashing failures.
	ErrStoreUnavailable = errors.New("store unavailable")
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidationError lists every problem found in a request.
type ValidationError struct {
	Message string
	Details []string
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(e.Details, "; ")
}

// UserService describes user lifecycle operations.
type UserService interface {
	Register(ctx context.Context, username, email, password string) (*domain.User, error)
	Authenticate(ctx context.Context, email, password string) (*domain.User, error)
	GetBySequenceID(ctx context.Context, sequenceID int64) (*domain.User, error)
}

type userService struct {
	users  repository.UserRepository
	hasher auth.Hasher
	logger logrus.FieldLogger

	dummyOnce sync.Once
	dummyHash string
}

func NewUserService(users repository.UserRepository, hasher auth.Hasher, logger logrus.FieldLogger) UserService {
	return &userService{
		users:  users,
		hasher: hasher,
		logger: logger,
	}
}

func (s *userService) Register(ctx context.Context, username, email, password string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	email = repository.NormalizeEmail(email)

	var details []string
	if username == "" {
		details = append(details, "Username is required")
	}
	if email == "" {
		details = append(details, "Email is required")
	}
	if strings.TrimSpace(password) == "" {
		details = append(details, "Password is required")
	}
	if len(details) > 0 {
		return nil, &ValidationError{Message: "Validation failed", Details: details}
	}
	if !emailPattern.MatchString(email) {
		return nil, &ValidationError{Message: "Invalid email format"}
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return nil, &ValidationError{Message: "Validation failed", Details: []string{"Password must be at most 72 bytes"}}
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	user := &domain.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: %w", ErrUserAlreadyExists, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	s.logger.WithField("user_id", user.SequenceID).Info("user registered")
	return sanitizeUser(user), nil
}

func (s *userService) Authenticate(ctx context.Context, email, password string) (*domain.User, error) {
	email = repository.NormalizeEmail(email)
	if email == "" || strings.TrimSpace(password) == "" {
		return nil, &ValidationError{Message: "Email and password are required"}
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// spend the same hashing time as a real check
			s.verifyDummy(password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", user.SequenceID).Warn("stored password hash is unreadable")
		return nil, ErrInvalidCredentials
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	return sanitizeUser(user), nil
}

func (s *userService) GetBySequenceID(ctx context.Context, sequenceID int64) (*domain.User, error) {
	user, err := s.users.GetBySequenceID(ctx, sequenceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return sanitizeUser(user), nil
}

func (s *userService) verifyDummy(password string) {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("dummy-password-for-timing")
		if err != nil {
			s.logger.WithError(err).Warn("compute dummy password hash")
			return
		}
		s.dummyHash = hash
	})
	if s.dummyHash != "" {
		_, _ = s.hasher.Verify(password, s.dummyHash)
	}
}

func sanitizeUser(user *domain.User) *domain.User {
	if user == nil {
		return nil
	}
	return &domain.User{
		ID:         user.ID,
		SequenceID: user.SequenceID,
		Username:   user.Username,
		Email:      user.Email,
		CreatedAt:  user.CreatedAt,
		UpdatedAt:  user.UpdatedAt,
	}
}
