package domain

import (
	"errors"
	"fmt"
)

// Sentinel error kinds for the control plane. Callers match with errors.Is;
// the HTTP layer maps each kind to a status code.
var (
	// ErrNotFound indicates a user, tenant, role, dataset or ACL row is absent.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied indicates the requester lacks a required capability.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrAlreadyExists indicates a uniqueness invariant was violated.
	ErrAlreadyExists = errors.New("already exists")

	// ErrValidation indicates a domain rule was violated.
	ErrValidation = errors.New("validation failed")

	// ErrProvisioningTimeout indicates the managed control API did not reach
	// a ready state within the bounded polling window.
	ErrProvisioningTimeout = errors.New("provisioning timed out")

	// ErrUnsupportedConfig indicates an unrecognized storage provider.
	ErrUnsupportedConfig = errors.New("unsupported configuration")
)

// NotFoundf wraps ErrNotFound with context.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
}

// Deniedf wraps ErrPermissionDenied with context.
func Deniedf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrPermissionDenied}, args...)...)
}

// Existsf wraps ErrAlreadyExists with context.
func Existsf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrAlreadyExists}, args...)...)
}

// Invalidf wraps ErrValidation with context.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

// Unsupportedf wraps ErrUnsupportedConfig with context.
func Unsupportedf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrUnsupportedConfig}, args...)...)
}
