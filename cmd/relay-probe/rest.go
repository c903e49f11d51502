package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/tphan267/pulse-relay/pkg/api"
)

const restTimeout = 10 * time.Second

// apiResult mirrors api.ApiResponse with a typed payload
type apiResult[T any] struct {
	Success bool                 `json:"success"`
	Data    T                    `json:"data"`
	Error   *api.ApiError        `json:"error"`
	Meta    *api.ApiResponseMeta `json:"meta"`
}

func endpoint(path string) string {
	return strings.TrimRight(serverURL, "/") + path
}

// do sends the request and decodes the response envelope into a T
func do[T any](a *fiber.Agent) (T, error) {
	out, err := call[T](a)
	return out.Data, err
}

// call is do keeping the response meta
func call[T any](a *fiber.Agent) (apiResult[T], error) {
	var out apiResult[T]

	a.Timeout(restTimeout)
	if token != "" {
		a.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}

	code, body, errs := a.Bytes()
	if len(errs) > 0 {
		return out, fmt.Errorf("request failed: %w", errors.Join(errs...))
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("unexpected response (status %d): %w", code, err)
	}
	if !out.Success {
		msg := "request failed"
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return out, fmt.Errorf("%s (status %d)", msg, code)
	}
	return out, nil
}
