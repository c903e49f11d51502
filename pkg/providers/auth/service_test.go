package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tphan267/pulse-relay/pkg/config"
	"github.com/tphan267/pulse-relay/pkg/logger"
	"github.com/tphan267/pulse-relay/pkg/providers"
	"github.com/tphan267/pulse-relay/pkg/storage"
)

func setupService(t *testing.T, users ...config.SeedUser) (*Service, storage.Storage) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:", logger.Discard())
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{SessionTTL: time.Hour, Users: users}
	registry := providers.NewRegistry(store, logger.Discard(), cfg)

	svc := NewService()
	registry.MustRegister(svc)
	if err := registry.InitializeAll(context.Background()); err != nil {
		t.Fatalf("Failed to initialize: %v", err)
	}
	return svc, store
}

func TestSeedUsers(t *testing.T) {
	_, store := setupService(t,
		config.SeedUser{Username: "alice", Password: "wonderland", Role: "admin"},
		config.SeedUser{Username: "bob", Password: "builder", DisplayName: "Bob B"},
	)

	count, err := store.Users().Count()
	if err != nil {
		t.Fatalf("Failed to count users: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 users, got %d", count)
	}

	bob, err := store.Users().GetByUsername("bob")
	if err != nil {
		t.Fatalf("Failed to get bob: %v", err)
	}
	if bob.DisplayName != "Bob B" {
		t.Errorf("Expected display name Bob B, got %s", bob.DisplayName)
	}
	if bob.PasswordHash == "builder" {
		t.Error("Expected password to be hashed")
	}
}

func TestSeedUpdatesChangedPassword(t *testing.T) {
	svc, _ := setupService(t, config.SeedUser{Username: "alice", Password: "old-password"})
	ctx := context.Background()

	svc.seed = []config.SeedUser{{Username: "alice", Password: "new-password"}}
	if err := svc.seedUser(svc.seed[0]); err != nil {
		t.Fatalf("Failed to reseed: %v", err)
	}

	if _, err := svc.Authenticate(ctx, "alice", "old-password"); !errors.Is(err, providers.ErrInvalidCredentials) {
		t.Errorf("Expected old password to be rejected, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "alice", "new-password"); err != nil {
		t.Errorf("Expected new password to work, got %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	svc, _ := setupService(t, config.SeedUser{Username: "alice", Password: "wonderland", Role: "admin"})
	ctx := context.Background()

	session, err := svc.Authenticate(ctx, "alice", "wonderland")
	if err != nil {
		t.Fatalf("Failed to authenticate: %v", err)
	}
	if len(session.Token) != 48 {
		t.Errorf("Expected 48 char token, got %d", len(session.Token))
	}
	if session.User.Username != "alice" || session.User.Role != "admin" {
		t.Errorf("Unexpected principal: %+v", session.User)
	}

	if _, err := svc.Authenticate(ctx, "alice", "wrong"); !errors.Is(err, providers.ErrInvalidCredentials) {
		t.Errorf("Expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "nobody", "x"); !errors.Is(err, providers.ErrInvalidCredentials) {
		t.Errorf("Expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestValidateTokenAndLogout(t *testing.T) {
	svc, _ := setupService(t, config.SeedUser{Username: "alice", Password: "wonderland"})
	ctx := context.Background()

	session, err := svc.Authenticate(ctx, "alice", "wonderland")
	if err != nil {
		t.Fatalf("Failed to authenticate: %v", err)
	}

	p, err := svc.ValidateToken(ctx, session.Token)
	if err != nil {
		t.Fatalf("Failed to validate token: %v", err)
	}
	if p.UserID != session.User.UserID {
		t.Errorf("Expected user %d, got %d", session.User.UserID, p.UserID)
	}

	if _, err := svc.ValidateToken(ctx, "bogus"); !errors.Is(err, providers.ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
	if _, err := svc.ValidateToken(ctx, ""); !errors.Is(err, providers.ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for empty token, got %v", err)
	}

	if err := svc.Logout(ctx, session.Token); err != nil {
		t.Fatalf("Failed to logout: %v", err)
	}
	if _, err := svc.ValidateToken(ctx, session.Token); !errors.Is(err, providers.ErrInvalidToken) {
		t.Errorf("Expected token to be revoked, got %v", err)
	}
}

func TestSessionExpiry(t *testing.T) {
	svc, store := setupService(t, config.SeedUser{Username: "alice", Password: "wonderland"})
	ctx := context.Background()

	session, err := svc.Authenticate(ctx, "alice", "wonderland")
	if err != nil {
		t.Fatalf("Failed to authenticate: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := svc.ValidateToken(ctx, session.Token); !errors.Is(err, providers.ErrSessionExpired) {
		t.Errorf("Expected ErrSessionExpired, got %v", err)
	}
	count, _ := store.Sessions().Count()
	if count != 0 {
		t.Errorf("Expected expired session to be deleted, %d left", count)
	}
}

func TestJanitorPurgesExpiredSessions(t *testing.T) {
	svc, store := setupService(t, config.SeedUser{Username: "alice", Password: "wonderland"})
	svc.SetJanitorInterval(10 * time.Millisecond)

	if _, err := svc.Authenticate(context.Background(), "alice", "wonderland"); err != nil {
		t.Fatalf("Failed to authenticate: %v", err)
	}
	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		count, err := store.Sessions().Count()
		if err != nil {
			t.Fatalf("Failed to count sessions: %v", err)
		}
		if count == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Expected janitor to purge the expired session")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Expected clean stop, got %v", err)
	}
}
