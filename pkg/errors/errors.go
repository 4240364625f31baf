package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrModelNotFound    = errors.New("model not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrIndexNotReady    = errors.New("search index not ready")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidCatalog   = errors.New("invalid catalog")
	ErrReloadInFlight   = errors.New("catalog reload already in progress")
	ErrInternal         = errors.New("internal error")
	ErrTimeout          = errors.New("operation timed out")
	ErrCacheUnavailable = errors.New("cache unavailable")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrModelNotFound), errors.Is(err, ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrReloadInFlight):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidCatalog):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrIndexNotReady), errors.Is(err, ErrTimeout), errors.Is(err, ErrCacheUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
