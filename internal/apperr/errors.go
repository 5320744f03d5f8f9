// Package apperr holds the error kinds shared by the conversion and
// inventory packages and their mapping to HTTP statuses.
package apperr

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

var (
	ErrInvalidInput               = errors.New("invalid input")
	ErrNotFound                   = errors.New("not found")
	ErrMissingConversionParameter = errors.New("missing conversion parameter")
	ErrNoConversionPath           = errors.New("no conversion path")
	ErrInsufficientInventory      = errors.New("insufficient inventory")
	ErrConcurrentModification     = errors.New("concurrent modification")

	// ErrInvariantViolation means withdrawal could not take what the
	// availability check promised. It is never recoverable by retrying.
	ErrInvariantViolation = errors.New("inventory invariant violation")
)

func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Status(err error) int {
	switch {
	case err == nil:
		return fiber.StatusOK
	case errors.Is(err, ErrInvalidInput):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ErrMissingConversionParameter), errors.Is(err, ErrNoConversionPath):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, ErrInsufficientInventory), errors.Is(err, ErrConcurrentModification):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

// ToFiber converts a domain error for the fiber error handler. Internal
// errors get a generic message so storage details do not leak.
func ToFiber(err error, fallback string) error {
	if err == nil {
		return nil
	}
	code := Status(err)
	if code == fiber.StatusInternalServerError {
		return fiber.NewError(code, fallback)
	}
	return fiber.NewError(code, err.Error())
}
