// Package pkg holds utilities shared across the relay server.
// This file declares the domain-level errors.
//
// Errors are compared by identity, never by message:
//
//	if errors.Is(err, pkg.ErrNotFound) { ... }
package pkg

import "errors"

// Domain-level errors. Services return them (wrapped with %w),
// the handler layer maps them to HTTP status codes.
var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrAlreadyExists   = errors.New("already exists")
	ErrBadRequest      = errors.New("bad request")
	ErrInternal        = errors.New("internal error")
	ErrTooManyRequests = errors.New("too many requests")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrServiceDisabled = errors.New("service not configured")
)
