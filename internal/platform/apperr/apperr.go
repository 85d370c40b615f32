// Package apperr defines the error kinds surfaced by the HTTP API and the
// echo error handler that renders them.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindForbidden
)

// FieldError is one entry of a validation field map.
type FieldError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error is the application error carried from services to handlers.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]FieldError
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k].Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Invalid returns a validation error for a single field.
func Invalid(field, code, message string) *Error {
	return &Error{Kind: KindValidation, Fields: map[string]FieldError{
		field: {Code: code, Message: message},
	}}
}

// Fields is a builder for multi-field validation errors.
type Fields map[string]FieldError

func (f Fields) Add(field, code, message string) {
	if _, ok := f[field]; !ok {
		f[field] = FieldError{Code: code, Message: message}
	}
}

// Err returns nil when no field failed.
func (f Fields) Err() error {
	if len(f) == 0 {
		return nil
	}
	return &Error{Kind: KindValidation, Fields: map[string]FieldError(f)}
}

func NotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Message: what + " not found"}
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

// KindOf reports the kind of err, KindInternal when it is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsValidation reports whether err is a validation error naming field.
func IsValidation(err error, field string) bool {
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindValidation {
		return false
	}
	if field == "" {
		return true
	}
	_, ok := e.Fields[field]
	return ok
}

// Status maps err to the HTTP status and JSON body returned to clients.
// Internal errors never expose their message.
func Status(err error) (int, interface{}) {
	var e *Error
	if errors.As(err, &e) {
		switch e.Kind {
		case KindValidation:
			if len(e.Fields) > 0 {
				return http.StatusBadRequest, map[string]interface{}{"message": e.Fields}
			}
			return http.StatusBadRequest, map[string]string{"message": e.Message}
		case KindNotFound:
			return http.StatusNotFound, map[string]string{"message": e.Message}
		case KindForbidden:
			return http.StatusForbidden, map[string]string{"message": e.Message}
		}
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, map[string]interface{}{"message": he.Message}
	}
	return http.StatusInternalServerError, map[string]string{"message": "internal server error"}
}

// HTTPErrorHandler renders errors returned by handlers and middleware.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code, body := Status(err)
		if code >= http.StatusInternalServerError {
			logger.Error().Err(err).
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, body)
		}
		if err != nil {
			logger.Error().Err(err).Msg("write error response")
		}
	}
}
