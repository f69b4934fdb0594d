package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"expense-api/internal/log"
	"expense-api/internal/models"
)

// Identity limits.
const (
	MaxUsernameLength = 150
	// bcrypt ignores input beyond 72 bytes.
	MaxPasswordBytes = 72
)

// Store is the persistence the identity component needs.
type Store interface {
	CreateUser(ctx context.Context, username, passwordHash string, isStaff bool) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetOrCreateToken(ctx context.Context, userID int64, newKey string, stale func(*models.Token) bool) (*models.Token, error)
	GetTokenUser(ctx context.Context, key string) (*models.User, *models.Token, error)
	DeleteToken(ctx context.Context, userID int64) error
}

// Session is returned by a successful login.
type Session struct {
	Token    string `json:"token"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// Service registers users and issues and resolves their tokens.
type Service struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewService creates an identity service. A zero ttl disables token expiry.
func NewService(store Store, ttl time.Duration) *Service {
	return &Service{store: store, ttl: ttl, now: time.Now}
}

// Register creates a regular, non-staff account.
func (s *Service) Register(ctx context.Context, username, password string) error {
	_, err := s.createUser(ctx, username, password, false)
	return err
}

// EnsureUser creates the user if the username is free. It reports whether
// a user was created.
func (s *Service) EnsureUser(ctx context.Context, username, password string, isStaff bool) (bool, error) {
	if _, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username)); err == nil {
		return false, nil
	} else if !errors.Is(err, models.ErrNotFound) {
		return false, fmt.Errorf("lookup user: %w", err)
	}

	if _, err := s.createUser(ctx, username, password, isStaff); err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) && verr.Fields["username"] == models.ErrUsernameTaken.Error() {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Service) createUser(ctx context.Context, username, password string, isStaff bool) (*models.User, error) {
	username = strings.TrimSpace(username)

	verr := &models.ValidationError{}
	switch {
	case username == "":
		verr.Add("username", "this field is required")
	case utf8.RuneCountInString(username) > MaxUsernameLength:
		verr.Add("username", fmt.Sprintf("ensure this field has no more than %d characters", MaxUsernameLength))
	}
	switch {
	case password == "":
		verr.Add("password", "this field is required")
	case len(password) > MaxPasswordBytes:
		verr.Add("password", fmt.Sprintf("ensure this field has no more than %d bytes", MaxPasswordBytes))
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user, err := s.store.CreateUser(ctx, username, hash, isStaff)
	if errors.Is(err, models.ErrUsernameTaken) {
		return nil, models.NewValidationError("username", models.ErrUsernameTaken.Error())
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	log.FromContext(ctx).WithComponent(log.ComponentAuth).InfoContext(ctx, "user registered",
		log.NewFields().WithUser(user.ID, user.Username).WithOperation(log.OpRegister).ToSlice()...)
	return user, nil
}

// Authenticate checks the credentials and returns the user's token, creating
// it when the user has none or the existing one has expired.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*Session, error) {
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if password == "" || !CheckPassword(password, user.PasswordHash) {
		return nil, models.ErrInvalidCredentials
	}

	key, err := GenerateToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	token, err := s.store.GetOrCreateToken(ctx, user.ID, key, func(t *models.Token) bool {
		return t.Expired(s.ttl, now)
	})
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	return &Session{Token: token.Key, UserID: user.ID, Username: user.Username}, nil
}

// Resolve maps a token key to its user.
func (s *Service) Resolve(ctx context.Context, key string) (*models.User, error) {
	if key == "" {
		return nil, models.ErrUnauthenticated
	}

	user, token, err := s.store.GetTokenUser(ctx, key)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("resolve token: %w", err)
	}
	if token.Expired(s.ttl, s.now()) {
		return nil, models.ErrUnauthenticated
	}
	return user, nil
}

// Revoke deletes the user's token so it no longer authenticates.
func (s *Service) Revoke(ctx context.Context, user *models.User) error {
	if err := s.store.DeleteToken(ctx, user.ID); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	log.FromContext(ctx).WithComponent(log.ComponentAuth).InfoContext(ctx, "token revoked",
		log.NewFields().WithUser(user.ID, user.Username).WithOperation(log.OpLogout).ToSlice()...)
	return nil
}
