package providers

import (
	"context"
	"errors"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/tphan267/pulse-relay/pkg/relay"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid token")
	ErrSessionExpired     = errors.New("session expired")
	ErrAccessDenied       = errors.New("access denied")
)

// Principal is the user behind a valid session
type Principal struct {
	UserID      int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Role        string `json:"role"`
}

// Name returns the name shown to other stream members
func (p *Principal) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Username
}

// Session is an issued login token
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      Principal `json:"user"`
}

// AuthProvider defines authentication operations
type AuthProvider interface {
	// Authenticate validates user credentials and opens a session
	Authenticate(ctx context.Context, username, password string) (*Session, error)
	// ValidateToken resolves a session token to its user
	ValidateToken(ctx context.Context, token string) (*Principal, error)
	// Logout revokes a session token
	Logout(ctx context.Context, token string) error
}

// ACLProvider defines access control operations
type ACLProvider interface {
	// CheckPermission verifies if a role has permission for a resource/action
	CheckPermission(ctx context.Context, role, resource, action string) (bool, error)
	// ListPermissions returns all permissions for a role
	ListPermissions(ctx context.Context, role string) ([]Permission, error)
}

// Permission represents a role permission
type Permission struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

// Resources and actions checked by the server
const (
	ResourceStreams   = "streams"
	ResourceStats     = "stats"
	ResourceAnalytics = "analytics"

	ActionHost = "host"
	ActionJoin = "join"
	ActionEnd  = "end"
	ActionRead = "read"
)

// AnalyticsProvider defines analytics operations
type AnalyticsProvider interface {
	// Track records an analytics event
	Track(ctx context.Context, event Event) error
	// GetMetrics retrieves metrics for a given query
	GetMetrics(ctx context.Context, query MetricsQuery) (*MetricsResult, error)
}

// Event represents an analytics event
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    string         `json:"userId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// MetricsQuery defines parameters for metrics retrieval
type MetricsQuery struct {
	StartTime  time.Time `json:"startTime"`
	EndTime    time.Time `json:"endTime"`
	EventTypes []string  `json:"eventTypes"`
}

// MetricsResult contains aggregated metrics
type MetricsResult struct {
	Data  map[string]any `json:"data"`
	Count int64          `json:"count"`
}

// SignalingProvider exposes the running relay to the REST layer
type SignalingProvider interface {
	Streams(ctx context.Context) ([]relay.StreamInfo, error)
	Stream(ctx context.Context, id relay.StreamID) (relay.StreamInfo, error)
	EndStream(ctx context.Context, id relay.StreamID, reason string) error
	Stats(ctx context.Context) (relay.Stats, error)
	Connections(ctx context.Context) ([]relay.ConnectionInfo, error)
	ICEServers() []webrtc.ICEServer
}
