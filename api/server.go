package api

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/tphan267/pulse-relay/pkg/api"
	"github.com/tphan267/pulse-relay/pkg/core"
	"github.com/tphan267/pulse-relay/pkg/logger"
	"github.com/tphan267/pulse-relay/pkg/providers"
	"github.com/tphan267/pulse-relay/pkg/relay"
)

const requestTimeout = 5 * time.Second

// ApiServer is the HTTP server using Fiber
type ApiServer struct {
	app       *fiber.App
	api       fiber.Router
	coreApp   core.App
	providers *providers.Registry
}

// New creates a new HTTP server with the given service registry
func New(p *providers.Registry) *ApiServer {
	app := fiber.New(fiber.Config{
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: true,
	})

	s := &ApiServer{
		app:       app,
		coreApp:   core.NewMainApp(p),
		providers: p,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *ApiServer) setupMiddleware() {
	s.app.Use(recover.New())
	s.app.Use(requestid.New(requestid.Config{ContextKey: api.RequestIDKey}))
	s.app.Use(fiberlogger.New(fiberlogger.Config{
		Output: s.providers.Logger().WithPrefix("HTTP").Writer(logger.DebugLevel),
		Format: "${locals:" + api.RequestIDKey + "} ${status} - ${latency} ${method} ${path}\n",
	}))
}

func (s *ApiServer) setupRoutes() {
	// API routes
	s.api = s.app.Group("/api")

	s.api.Post("/login", s.handleLogin)
	s.api.Post("/logout", s.authMiddleware, s.handleLogout)
	s.api.Get("/me", s.authMiddleware, s.handleMe)
	s.api.Get("/check-access", s.authMiddleware, s.handleCheckAccess)
	s.api.Post("/metrics", s.authMiddleware, s.handleGetMetrics)
	s.api.Get("/stats", s.authMiddleware, s.handleGetStats)
	s.api.Get("/connections", s.authMiddleware, s.handleGetConnections)
	s.api.Delete("/streams/:id", s.authMiddleware, s.handleEndStream)

	s.app.Get("/health", s.handleHealth)
}

// App returns the underlying Fiber app for route registration
func (s *ApiServer) App() *fiber.App {
	return s.app
}

func (s *ApiServer) ApiRouter() fiber.Router {
	return s.api
}

// Start starts the HTTP server
func (s *ApiServer) Start(addr string) error {
	s.providers.Logger().Info("Starting server on %s", addr)
	return s.app.Listen(addr)
}

// Serve serves on an existing listener
func (s *ApiServer) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Shutdown gracefully shuts down the server
func (s *ApiServer) Shutdown(ctx context.Context) error {
	s.providers.Logger().Info("Server shutdown requested")
	return s.app.ShutdownWithContext(ctx)
}

// authMiddleware extracts the session token
func (s *ApiServer) authMiddleware(c *fiber.Ctx) error {
	token := api.ExtractToken(c)
	if token == "" {
		return api.ErrorUnauthorizedResp(c, "Missing authorization token")
	}

	// Store token in context for handlers
	c.Locals("token", token)
	return c.Next()
}

func requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), requestTimeout)
}

// handleLogin handles user login
func (s *ApiServer) handleLogin(c *fiber.Ctx) error {
	var req core.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return api.ErrorBadRequestResp(c, "Invalid request body")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	resp, err := s.coreApp.Login(ctx, req)
	if err != nil {
		if errors.Is(err, core.ErrMissingCredentials) {
			return api.ErrorBadRequestResp(c, err.Error())
		}
		return errorResp(c, err)
	}

	c.Cookie(&fiber.Cookie{
		Name:     api.SessionCookie,
		Value:    resp.Token,
		Expires:  resp.ExpiresAt,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return api.SuccessResp(c, resp)
}

// handleLogout revokes the caller's session
func (s *ApiServer) handleLogout(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := s.coreApp.Logout(ctx, c.Locals("token").(string)); err != nil {
		return errorResp(c, err)
	}
	c.ClearCookie(api.SessionCookie)
	return api.SuccessResp(c, fiber.Map{
		"status": "logged_out",
	})
}

// handleMe returns the caller and their permissions
func (s *ApiServer) handleMe(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	me, err := s.coreApp.Me(ctx, c.Locals("token").(string))
	if err != nil {
		return errorResp(c, err)
	}
	return api.SuccessResp(c, me)
}

// handleCheckAccess handles access verification
func (s *ApiServer) handleCheckAccess(c *fiber.Ctx) error {
	token := c.Locals("token").(string)
	resource := c.Query("resource")
	action := c.Query("action")

	if resource == "" || action == "" {
		return api.ErrorBadRequestResp(c, "Missing resource or action parameter")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	hasAccess, err := s.coreApp.CheckAccess(ctx, token, resource, action)
	if err != nil {
		return errorResp(c, err)
	}

	return api.SuccessResp(c, fiber.Map{
		"has_access": hasAccess,
	})
}

// handleGetMetrics handles metrics retrieval
func (s *ApiServer) handleGetMetrics(c *fiber.Ctx) error {
	token := c.Locals("token").(string)

	var query providers.MetricsQuery
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&query); err != nil {
			return api.ErrorBadRequestResp(c, "Invalid request body")
		}
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	result, err := s.coreApp.GetMetrics(ctx, token, query)
	if err != nil {
		return errorResp(c, err)
	}

	return api.SuccessResp(c, result)
}

// handleGetStats returns relay counters
func (s *ApiServer) handleGetStats(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	stats, err := s.coreApp.GetStats(ctx, c.Locals("token").(string))
	if err != nil {
		return errorResp(c, err)
	}
	return api.SuccessResp(c, stats)
}

// handleGetConnections lists the users with a live socket, one page at a time
func (s *ApiServer) handleGetConnections(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	conns, err := s.coreApp.GetConnections(ctx, c.Locals("token").(string))
	if err != nil {
		return errorResp(c, err)
	}
	return api.PagedResp(c, conns)
}

// handleEndStream force-ends a stream
func (s *ApiServer) handleEndStream(c *fiber.Ctx) error {
	id := relay.StreamID(c.Params("id"))

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := s.coreApp.EndStream(ctx, c.Locals("token").(string), id); err != nil {
		return errorResp(c, err)
	}
	return api.SuccessResp(c, fiber.Map{
		"streamId": id,
		"status":   "ended",
	})
}

// handleHealth handles health checks
func (s *ApiServer) handleHealth(c *fiber.Ctx) error {
	return api.SuccessResp(c, fiber.Map{
		"status": "healthy",
	})
}

// errorResp maps provider and relay errors to HTTP statuses
func errorResp(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, providers.ErrInvalidToken),
		errors.Is(err, providers.ErrSessionExpired),
		errors.Is(err, providers.ErrInvalidCredentials):
		return api.ErrorUnauthorizedResp(c, err.Error())
	case errors.Is(err, providers.ErrAccessDenied):
		return api.ErrorForbiddenResp(c, err.Error())
	case errors.Is(err, relay.ErrRoomNotFound):
		return api.ErrorNotFoundResp(c, "Stream not found")
	case errors.Is(err, relay.ErrRelayClosed), errors.Is(err, context.DeadlineExceeded):
		return api.ErrorCodeResp(c, fiber.StatusServiceUnavailable, err.Error())
	default:
		return api.ErrorInternalServerErrorResp(c, err.Error())
	}
}

// customErrorHandler handles errors
func customErrorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError

	var e *fiber.Error
	if errors.As(err, &e) {
		status = e.Code
	}

	return api.ErrorResp(c, api.ApiError{
		Status:  status,
		Message: err.Error(),
	})
}
