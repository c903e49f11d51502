package core

import (
	"context"

	"github.com/tphan267/pulse-relay/pkg/providers"
	"github.com/tphan267/pulse-relay/pkg/relay"
)

// App defines the core application business logic interface
type App interface {
	// Login authenticates a user and returns their token and permissions
	Login(ctx context.Context, req LoginRequest) (*LoginResponse, error)

	// Logout revokes a session token
	Logout(ctx context.Context, token string) error

	// Me returns the user behind a token and their permissions
	Me(ctx context.Context, token string) (*MeResponse, error)

	// CheckAccess verifies if a user has access to a resource
	CheckAccess(ctx context.Context, token, resource, action string) (bool, error)

	// GetMetrics retrieves analytics metrics
	GetMetrics(ctx context.Context, token string, query providers.MetricsQuery) (*providers.MetricsResult, error)

	// GetStats returns relay counters
	GetStats(ctx context.Context, token string) (*relay.Stats, error)

	// GetConnections lists the users with a live socket
	GetConnections(ctx context.Context, token string) ([]relay.ConnectionInfo, error)

	// EndStream force-ends a live stream
	EndStream(ctx context.Context, token string, streamID relay.StreamID) error
}
