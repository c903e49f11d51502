package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RequestIDKey is where the requestid middleware leaves the request id
const RequestIDKey = "requestid"

// Page size bounds for paginated lists
const (
	DefaultPerPage = 50
	MaxPerPage     = 200
)

// Error codes carried in ApiError.Code
const (
	CodeBadRequest   = "bad_request"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodeInternal     = "internal_error"
)

// SessionCookie is the cookie a browser client may carry its token in
const SessionCookie = "session"

// responseMeta merges the optional meta with the request id, nil when both
// are empty
func responseMeta(c *fiber.Ctx, meta []ApiResponseMeta) *ApiResponseMeta {
	var m ApiResponseMeta
	if len(meta) > 0 {
		m = meta[0]
	}
	if m.RequestID == "" {
		if id, ok := c.Locals(RequestIDKey).(string); ok {
			m.RequestID = id
		}
	}
	if m == (ApiResponseMeta{}) {
		return nil
	}
	return &m
}

// SuccessResp sends a successful API response
func SuccessResp(c *fiber.Ctx, data interface{}, meta ...ApiResponseMeta) error {
	resp := ApiResponse{
		Success: true,
		Data:    data,
		Meta:    responseMeta(c, meta),
	}
	return c.Status(fiber.StatusOK).JSON(&resp)
}

// PagedResp sends one page of items, selected by the page and perPage query
// parameters, with the pagination in meta
func PagedResp[T any](c *fiber.Ctx, items []T) error {
	page, p := Paginate(items, c.QueryInt("page", 1), c.QueryInt("perPage", DefaultPerPage))
	return SuccessResp(c, page, ApiResponseMeta{Pagination: &p})
}

// Paginate returns the requested page of items. Out of range values are
// clamped; a page past the end is empty.
func Paginate[T any](items []T, page, perPage int) ([]T, Pagination) {
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	if page < 1 {
		page = 1
	}
	p := Pagination{
		Page:       page,
		PerPage:    perPage,
		Total:      len(items),
		TotalPages: (len(items) + perPage - 1) / perPage,
	}

	start := (page - 1) * perPage
	if start >= len(items) {
		return []T{}, p
	}
	end := min(start+perPage, len(items))
	return items[start:end], p
}

// ErrorResp sends an error API response
func ErrorResp(c *fiber.Ctx, err ApiError, meta ...ApiResponseMeta) error {
	resp := ApiResponse{
		Success: false,
		Error:   &err,
		Meta:    responseMeta(c, meta),
	}
	status := fiber.StatusBadRequest
	if err.Status != 0 {
		status = err.Status
	}
	return c.Status(status).JSON(&resp)
}

// ErrorCodeResp sends an error response with a specific status code
func ErrorCodeResp(c *fiber.Ctx, status int, message ...string) error {
	msg := "API Error"
	if len(message) > 0 {
		msg = message[0]
	}
	now := time.Now().UTC()
	return ErrorResp(c, ApiError{
		Code:    codeFor(status),
		Status:  status,
		Message: msg,
	}, ApiResponseMeta{Timestamp: &now})
}

func codeFor(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return CodeBadRequest
	case fiber.StatusUnauthorized:
		return CodeUnauthorized
	case fiber.StatusForbidden:
		return CodeForbidden
	case fiber.StatusNotFound:
		return CodeNotFound
	case fiber.StatusConflict:
		return CodeConflict
	default:
		return CodeInternal
	}
}

// ErrorNotFoundResp sends a 404 Not Found error response
func ErrorNotFoundResp(c *fiber.Ctx, message ...string) error {
	return ErrorCodeResp(c, fiber.StatusNotFound, message...)
}

// ErrorUnauthorizedResp sends a 401 Unauthorized error response
func ErrorUnauthorizedResp(c *fiber.Ctx, message ...string) error {
	return ErrorCodeResp(c, fiber.StatusUnauthorized, message...)
}

// ErrorForbiddenResp sends a 403 Forbidden error response
func ErrorForbiddenResp(c *fiber.Ctx, message ...string) error {
	return ErrorCodeResp(c, fiber.StatusForbidden, message...)
}

// ErrorBadRequestResp sends a 400 Bad Request error response
func ErrorBadRequestResp(c *fiber.Ctx, message ...string) error {
	return ErrorCodeResp(c, fiber.StatusBadRequest, message...)
}

// ErrorInternalServerErrorResp sends a 500 Internal Server Error response
func ErrorInternalServerErrorResp(c *fiber.Ctx, message ...string) error {
	return ErrorCodeResp(c, fiber.StatusInternalServerError, message...)
}

// ExtractToken returns the session token from the Authorization bearer
// header, the token query parameter or the session cookie, in that order.
// Browsers cannot set headers on a WebSocket handshake, hence the fallbacks.
func ExtractToken(c *fiber.Ctx) string {
	if auth := c.Get(fiber.HeaderAuthorization); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if token := c.Query("token"); token != "" {
		return token
	}
	return c.Cookies(SessionCookie)
}
