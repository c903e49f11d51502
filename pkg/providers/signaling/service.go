package signaling

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/pion/webrtc/v4"

	"github.com/tphan267/pulse-relay/pkg/api"
	"github.com/tphan267/pulse-relay/pkg/config"
	"github.com/tphan267/pulse-relay/pkg/logger"
	"github.com/tphan267/pulse-relay/pkg/providers"
	"github.com/tphan267/pulse-relay/pkg/relay"
	"github.com/tphan267/pulse-relay/pkg/transport"
)

const (
	identityKey  = "relay_identity"
	queryTimeout = 5 * time.Second
)

// Service owns the relay and serves its WebSocket endpoint
type Service struct {
	registry *providers.Registry
	logger   *logger.Logger
	cfg      *config.Config

	relay      *relay.Relay
	connOpts   transport.Options
	iceServers []webrtc.ICEServer
	trust      bool
}

// NewService creates a new signaling service
func NewService() *Service {
	return &Service{}
}

// Name returns the service name
func (s *Service) Name() string {
	return "signaling"
}

// Initialize builds the relay from configuration. The analytics service,
// when registered, observes relay events.
func (s *Service) Initialize(ctx context.Context, registry *providers.Registry) error {
	s.registry = registry
	s.logger = registry.Logger().WithPrefix("Relay")
	s.cfg = registry.Config()
	if s.cfg == nil {
		return errors.New("signaling service requires configuration")
	}

	s.trust = s.cfg.AuthMode == config.AuthModeTrust
	s.iceServers = s.cfg.WebRTCICEServers()
	s.connOpts = transport.Options{
		WriteTimeout:   s.cfg.WriteTimeout,
		IdleTimeout:    s.cfg.IdleTimeout,
		PingInterval:   s.cfg.PingInterval,
		MaxMessageSize: s.cfg.MaxMessageSize,
		SendQueueSize:  s.cfg.SendQueueSize,
		RateLimit:      s.cfg.RateLimit,
		RateBurst:      s.cfg.RateBurst,
	}

	opts := relay.Options{
		TrustClientIdentity: s.trust,
		HostPolicy:          relay.HostPolicy(s.cfg.DuplicateHostPolicy),
		ValidateSignaling:   s.cfg.ValidateSignaling,
	}
	if analytics, err := registry.GetAnalytics(); err == nil {
		if observer, ok := analytics.(relay.Observer); ok {
			opts.Observer = observer
		}
	}
	s.relay = relay.New(opts, s.logger)

	s.logger.Info("Relay configured: auth_mode=%s duplicate_host_policy=%s ice_servers=%d",
		s.cfg.AuthMode, s.cfg.DuplicateHostPolicy, len(s.iceServers))
	return nil
}

// IsRunnable returns true, the relay event loop runs in the background
func (s *Service) IsRunnable() bool {
	return true
}

// Start runs the relay loop until ctx is cancelled
func (s *Service) Start(ctx context.Context) error {
	return s.relay.Run(ctx)
}

// Stop is a no-op, the relay stops with the context given to Start
func (s *Service) Stop(ctx context.Context) error {
	return nil
}

// RegisterAPIRoutes registers the socket endpoint and the public stream routes
func (s *Service) RegisterAPIRoutes(app interface{}) error {
	fiberApp, ok := app.(*fiber.App)
	if !ok {
		return errors.New("app is not a *fiber.App")
	}

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	fiberApp.Use(s.cfg.WSPath, s.upgrade)
	fiberApp.Get(s.cfg.WSPath, websocket.New(s.handleSocket, websocket.Config{
		Origins: origins,
	}))

	apiGroup := fiberApp.Group("/api")
	apiGroup.Get("/ice-servers", s.handleICEServers)
	apiGroup.Get("/streams", s.handleStreams)
	apiGroup.Get("/streams/:id", s.handleStream)

	return nil
}

// Relay returns the underlying relay
func (s *Service) Relay() *relay.Relay {
	return s.relay
}

// Streams returns the open rooms
func (s *Service) Streams(ctx context.Context) ([]relay.StreamInfo, error) {
	streams, err := s.relay.Streams(ctx)
	if streams == nil {
		streams = []relay.StreamInfo{}
	}
	return streams, err
}

// Stream returns one open room
func (s *Service) Stream(ctx context.Context, id relay.StreamID) (relay.StreamInfo, error) {
	return s.relay.Stream(ctx, id)
}

// EndStream force-ends a room
func (s *Service) EndStream(ctx context.Context, id relay.StreamID, reason string) error {
	return s.relay.EndStream(ctx, id, reason)
}

// Stats returns relay counters
func (s *Service) Stats(ctx context.Context) (relay.Stats, error) {
	return s.relay.Stats(ctx)
}

// Connections lists the users with a live socket
func (s *Service) Connections(ctx context.Context) ([]relay.ConnectionInfo, error) {
	return s.relay.Connections(ctx)
}

// ICEServers returns the STUN/TURN servers handed to clients
func (s *Service) ICEServers() []webrtc.ICEServer {
	return s.iceServers
}

// upgrade resolves the socket identity before the WebSocket handshake
func (s *Service) upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	id, err := s.identify(c.UserContext(), api.ExtractToken(c))
	if err != nil {
		s.logger.Debug("Rejected socket from %s: %v", c.IP(), err)
		return api.ErrorUnauthorizedResp(c, err.Error())
	}

	c.Locals(identityKey, id)
	return c.Next()
}

// identify maps a session token to a relay identity. Without a token only
// trust mode lets the socket in, unbound until its first envelope.
func (s *Service) identify(ctx context.Context, token string) (relay.Identity, error) {
	if token == "" {
		if s.trust {
			return relay.Identity{CanHost: true}, nil
		}
		return relay.Identity{}, providers.ErrInvalidToken
	}

	auth, err := s.registry.GetAuth()
	if err != nil {
		return relay.Identity{}, err
	}
	principal, err := auth.ValidateToken(ctx, token)
	if err != nil {
		return relay.Identity{}, err
	}

	return relay.Identity{
		UserID:    relay.UserID(principal.UserID),
		Username:  principal.Name(),
		AvatarURL: principal.AvatarURL,
		CanHost:   s.canHost(ctx, principal.Role),
	}, nil
}

func (s *Service) canHost(ctx context.Context, role string) bool {
	acl, err := s.registry.GetACL()
	if err != nil {
		return true
	}
	ok, err := acl.CheckPermission(ctx, role, providers.ResourceStreams, providers.ActionHost)
	if err != nil {
		s.logger.Error("Permission check failed for role %s: %v", role, err)
		return false
	}
	return ok
}

func (s *Service) handleSocket(ws *websocket.Conn) {
	id, _ := ws.Locals(identityKey).(relay.Identity)
	remote := ws.RemoteAddr().String()

	conn := transport.NewConn(ws, remote, s.relay, s.connOpts, s.logger.WithPrefix("WS"))
	s.logger.Debug("Socket %s opened from %s (user %s)", conn.ID(), remote, id.UserID)
	if err := conn.Serve(id); err != nil {
		s.logger.Debug("Socket %s refused: %v", conn.ID(), err)
		return
	}
	s.logger.Debug("Socket %s closed", conn.ID())
}

func (s *Service) handleICEServers(c *fiber.Ctx) error {
	return api.SuccessResp(c, s.iceServers)
}

func (s *Service) handleStreams(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), queryTimeout)
	defer cancel()

	streams, err := s.Streams(ctx)
	if err != nil {
		return api.ErrorCodeResp(c, fiber.StatusServiceUnavailable, err.Error())
	}
	return api.PagedResp(c, streams)
}

func (s *Service) handleStream(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), queryTimeout)
	defer cancel()

	info, err := s.relay.Stream(ctx, relay.StreamID(c.Params("id")))
	if err != nil {
		if errors.Is(err, relay.ErrRoomNotFound) {
			return api.ErrorNotFoundResp(c, "Stream not found")
		}
		return api.ErrorCodeResp(c, fiber.StatusServiceUnavailable, err.Error())
	}
	return api.SuccessResp(c, info)
}

// Verify that Service implements both Service and SignalingProvider interfaces
var _ providers.Service = (*Service)(nil)
var _ providers.SignalingProvider = (*Service)(nil)
