package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/tphan267/pulse-relay/pkg/config"
	"github.com/tphan267/pulse-relay/pkg/logger"
	"github.com/tphan267/pulse-relay/pkg/models"
	"github.com/tphan267/pulse-relay/pkg/providers"
	"github.com/tphan267/pulse-relay/pkg/storage"
	"github.com/tphan267/pulse-relay/pkg/storage/repositories"
	"github.com/tphan267/pulse-relay/pkg/utils"
)

const defaultJanitorInterval = 10 * time.Minute

// Service implements authentication backed by the users and sessions tables
type Service struct {
	store  storage.Storage
	logger *logger.Logger
	ttl    time.Duration
	seed   []config.SeedUser

	janitorInterval time.Duration
	now             func() time.Time
}

// NewService creates a new auth service
func NewService() *Service {
	return &Service{
		janitorInterval: defaultJanitorInterval,
		now:             time.Now,
	}
}

// SetJanitorInterval changes how often expired sessions are purged
func (s *Service) SetJanitorInterval(d time.Duration) {
	if d > 0 {
		s.janitorInterval = d
	}
}

// Name returns the service name
func (s *Service) Name() string {
	return "auth"
}

// Initialize picks up storage and seeds the configured accounts
func (s *Service) Initialize(ctx context.Context, registry *providers.Registry) error {
	s.store = registry.DB()
	s.logger = registry.Logger().WithPrefix("Auth")
	if s.store == nil {
		return errors.New("auth service requires storage")
	}

	s.ttl = 24 * time.Hour
	if cfg := registry.Config(); cfg != nil {
		if cfg.SessionTTL > 0 {
			s.ttl = cfg.SessionTTL
		}
		s.seed = cfg.Users
	}

	for _, u := range s.seed {
		if err := s.seedUser(u); err != nil {
			return fmt.Errorf("failed to seed user %s: %w", u.Username, err)
		}
	}

	count, err := s.store.Users().Count()
	if err != nil {
		return err
	}
	if count == 0 {
		s.logger.Warn("No users configured, session mode sockets cannot authenticate")
	}
	return nil
}

// seedUser creates a configured account, or resets its password when the
// configured one no longer matches
func (s *Service) seedUser(u config.SeedUser) error {
	if u.Username == "" || u.Password == "" {
		return errors.New("username and password are required")
	}

	existing, err := s.store.Users().GetByUsername(u.Username)
	switch {
	case err == nil:
		if bcrypt.CompareHashAndPassword([]byte(existing.PasswordHash), []byte(u.Password)) == nil {
			return nil
		}
		hash, err := hashPassword(u.Password)
		if err != nil {
			return err
		}
		s.logger.Info("Updated password of user %s", u.Username)
		return s.store.Users().UpdatePassword(existing.ID, hash)
	case errors.Is(err, repositories.ErrNotFound):
	default:
		return err
	}

	hash, err := hashPassword(u.Password)
	if err != nil {
		return err
	}
	user, err := s.store.Users().Create(u.Username, hash, u.Role, u.DisplayName, u.AvatarURL)
	if err != nil {
		return err
	}
	s.logger.Info("Seeded user %s (%s)", user.Username, user.Role)
	return nil
}

// IsRunnable returns true, the service purges expired sessions in the background
func (s *Service) IsRunnable() bool {
	return true
}

// Start runs the session janitor until ctx is cancelled
func (s *Service) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.purge()
		}
	}
}

func (s *Service) purge() {
	n, err := s.store.Sessions().DeleteExpired(s.now())
	if err != nil {
		s.logger.Error("Failed to purge expired sessions: %v", err)
		return
	}
	if n > 0 {
		s.logger.Debug("Purged %d expired sessions", n)
	}
}

// Stop gracefully shuts down the service
func (s *Service) Stop(ctx context.Context) error {
	return nil
}

// RegisterAPIRoutes registers auth-related routes
func (s *Service) RegisterAPIRoutes(app interface{}) error {
	// login/logout/me are served by the api server through core.App
	return nil
}

// Authenticate validates credentials and opens a session
func (s *Service) Authenticate(ctx context.Context, username, password string) (*providers.Session, error) {
	user, err := s.store.Users().GetByUsername(username)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, providers.ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, providers.ErrInvalidCredentials
	}

	token, err := utils.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	session, err := s.store.Sessions().Create(token, user.ID, s.now().Add(s.ttl))
	if err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	s.logger.Info("User %s logged in", user.Username)
	return &providers.Session{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		User:      principal(user),
	}, nil
}

// ValidateToken resolves a session token to its user
func (s *Service) ValidateToken(ctx context.Context, token string) (*providers.Principal, error) {
	if token == "" {
		return nil, providers.ErrInvalidToken
	}
	session, err := s.store.Sessions().Get(token)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, providers.ErrInvalidToken
		}
		return nil, err
	}
	if session.Expired(s.now()) {
		_ = s.store.Sessions().Delete(token)
		return nil, providers.ErrSessionExpired
	}

	user, err := s.store.Users().GetByID(session.UserID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, providers.ErrInvalidToken
		}
		return nil, err
	}
	p := principal(user)
	return &p, nil
}

// Logout revokes a session token
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return providers.ErrInvalidToken
	}
	return s.store.Sessions().Delete(token)
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func principal(u *models.User) providers.Principal {
	return providers.Principal{
		UserID:      u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		Role:        u.Role,
	}
}

// Verify that Service implements both Service and AuthProvider interfaces
var _ providers.Service = (*Service)(nil)
var _ providers.AuthProvider = (*Service)(nil)
