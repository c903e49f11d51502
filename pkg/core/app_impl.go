package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tphan267/pulse-relay/pkg/providers"
	"github.com/tphan267/pulse-relay/pkg/relay"
)

// ErrMissingCredentials is returned by Login when a field is empty
var ErrMissingCredentials = errors.New("username and password are required")

// MainApp is the main application implementation
type MainApp struct {
	providers *providers.Registry
}

// NewMainApp creates a new main application instance
func NewMainApp(p *providers.Registry) *MainApp {
	return &MainApp{
		providers: p,
	}
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Token       string                 `json:"token"`
	ExpiresAt   time.Time              `json:"expiresAt"`
	User        providers.Principal    `json:"user"`
	Permissions []providers.Permission `json:"permissions"`
}

// MeResponse describes the caller
type MeResponse struct {
	User        providers.Principal    `json:"user"`
	Permissions []providers.Permission `json:"permissions"`
}

// Login authenticates a user and returns their token and permissions
func (a *MainApp) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	if req.Username == "" || req.Password == "" {
		return nil, ErrMissingCredentials
	}

	auth, err := a.providers.GetAuth()
	if err != nil {
		return nil, fmt.Errorf("failed to get auth provider: %w", err)
	}

	session, err := auth.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		a.track(ctx, "login_failed", req.Username, nil)
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	permissions, err := a.permissions(ctx, session.User.Role)
	if err != nil {
		return nil, err
	}

	a.track(ctx, "login", session.User.Username, nil)

	return &LoginResponse{
		Token:       session.Token,
		ExpiresAt:   session.ExpiresAt,
		User:        session.User,
		Permissions: permissions,
	}, nil
}

// Logout revokes a session token
func (a *MainApp) Logout(ctx context.Context, token string) error {
	principal, err := a.principal(ctx, token)
	if err != nil {
		return err
	}

	auth, err := a.providers.GetAuth()
	if err != nil {
		return fmt.Errorf("failed to get auth provider: %w", err)
	}
	if err := auth.Logout(ctx, token); err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}

	a.track(ctx, "logout", principal.Username, nil)
	return nil
}

// Me returns the user behind a token and their permissions
func (a *MainApp) Me(ctx context.Context, token string) (*MeResponse, error) {
	principal, err := a.principal(ctx, token)
	if err != nil {
		return nil, err
	}
	permissions, err := a.permissions(ctx, principal.Role)
	if err != nil {
		return nil, err
	}
	return &MeResponse{User: *principal, Permissions: permissions}, nil
}

// CheckAccess verifies if a user has access to a resource
func (a *MainApp) CheckAccess(ctx context.Context, token, resource, action string) (bool, error) {
	principal, err := a.principal(ctx, token)
	if err != nil {
		return false, err
	}

	hasAccess, err := a.allowed(ctx, principal, resource, action)
	if err != nil {
		return false, err
	}

	a.track(ctx, "access_check", principal.Username, map[string]any{
		"resource":   resource,
		"action":     action,
		"has_access": hasAccess,
	})

	return hasAccess, nil
}

// GetMetrics retrieves analytics metrics
func (a *MainApp) GetMetrics(ctx context.Context, token string, query providers.MetricsQuery) (*providers.MetricsResult, error) {
	if err := a.require(ctx, token, providers.ResourceAnalytics, providers.ActionRead); err != nil {
		return nil, err
	}

	analytics, err := a.providers.GetAnalytics()
	if err != nil {
		return nil, fmt.Errorf("failed to get analytics provider: %w", err)
	}

	result, err := analytics.GetMetrics(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics: %w", err)
	}

	return result, nil
}

// GetStats returns relay counters
func (a *MainApp) GetStats(ctx context.Context, token string) (*relay.Stats, error) {
	if err := a.require(ctx, token, providers.ResourceStats, providers.ActionRead); err != nil {
		return nil, err
	}

	signaling, err := a.providers.GetSignaling()
	if err != nil {
		return nil, fmt.Errorf("failed to get signaling provider: %w", err)
	}

	stats, err := signaling.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &stats, nil
}

// GetConnections lists the users with a live socket. It needs the same
// permission as GetStats.
func (a *MainApp) GetConnections(ctx context.Context, token string) ([]relay.ConnectionInfo, error) {
	if err := a.require(ctx, token, providers.ResourceStats, providers.ActionRead); err != nil {
		return nil, err
	}

	signaling, err := a.providers.GetSignaling()
	if err != nil {
		return nil, fmt.Errorf("failed to get signaling provider: %w", err)
	}

	conns, err := signaling.Connections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	return conns, nil
}

// EndStream force-ends a live stream. Every member, host included, receives
// stream_ended with reason force_ended.
func (a *MainApp) EndStream(ctx context.Context, token string, streamID relay.StreamID) error {
	principal, err := a.principal(ctx, token)
	if err != nil {
		return err
	}
	ok, err := a.allowed(ctx, principal, providers.ResourceStreams, providers.ActionEnd)
	if err != nil {
		return err
	}
	if !ok {
		return providers.ErrAccessDenied
	}

	signaling, err := a.providers.GetSignaling()
	if err != nil {
		return fmt.Errorf("failed to get signaling provider: %w", err)
	}
	if err := signaling.EndStream(ctx, streamID, relay.ReasonForceEnded); err != nil {
		return err
	}

	a.track(ctx, "stream_force_ended", principal.Username, map[string]any{
		"streamId": string(streamID),
	})
	return nil
}

func (a *MainApp) principal(ctx context.Context, token string) (*providers.Principal, error) {
	auth, err := a.providers.GetAuth()
	if err != nil {
		return nil, fmt.Errorf("failed to get auth provider: %w", err)
	}

	principal, err := auth.ValidateToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return principal, nil
}

func (a *MainApp) permissions(ctx context.Context, role string) ([]providers.Permission, error) {
	acl, err := a.providers.GetACL()
	if err != nil {
		return nil, fmt.Errorf("failed to get ACL provider: %w", err)
	}

	permissions, err := acl.ListPermissions(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("failed to get permissions: %w", err)
	}
	return permissions, nil
}

func (a *MainApp) allowed(ctx context.Context, principal *providers.Principal, resource, action string) (bool, error) {
	acl, err := a.providers.GetACL()
	if err != nil {
		return false, fmt.Errorf("failed to get ACL provider: %w", err)
	}

	hasAccess, err := acl.CheckPermission(ctx, principal.Role, resource, action)
	if err != nil {
		return false, fmt.Errorf("failed to check permission: %w", err)
	}
	return hasAccess, nil
}

// require validates the token and fails with ErrAccessDenied when the role
// lacks resource/action
func (a *MainApp) require(ctx context.Context, token, resource, action string) error {
	principal, err := a.principal(ctx, token)
	if err != nil {
		return err
	}
	ok, err := a.allowed(ctx, principal, resource, action)
	if err != nil {
		return err
	}
	if !ok {
		return providers.ErrAccessDenied
	}
	return nil
}

func (a *MainApp) track(ctx context.Context, eventType, username string, data map[string]any) {
	analytics, err := a.providers.GetAnalytics()
	if err != nil {
		return
	}
	_ = analytics.Track(ctx, providers.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		UserID:    username,
		Data:      data,
	})
}

// Verify that MainApp implements App interface
var _ App = (*MainApp)(nil)
