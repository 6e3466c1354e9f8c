// Package apperrors provides structured application errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation       = errors.New("validation error")
	ErrUnsupportedMedia = errors.New("unsupported media type")
	ErrPayloadTooLarge  = errors.New("payload too large")
	ErrCapacity         = errors.New("capacity exhausted")
	ErrPortConflict     = errors.New("port conflict")
	ErrIllegalPort      = errors.New("illegal port")
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInternal         = errors.New("internal error")
)

// Error provides a structured error with context.
type Error struct {
	Sentinel error    // Wrapped sentinel for errors.Is() classification
	Message  string   // Human-readable message
	Ports    []uint16 // Offending ports for port rejections (all of them, not the first)
	Op       string   // Operation that failed (e.g. "job.spawn")
	Cause    error    // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel error for errors.Is() classification.
func (e *Error) Unwrap() error {
	return e.Sentinel
}

// Validation creates a validation error (bad upload shape, malformed config).
func Validation(message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
	}
}

// UnsupportedMedia creates an error for an artifact with the wrong content type.
func UnsupportedMedia(part, contentType string) error {
	return &Error{
		Sentinel: ErrUnsupportedMedia,
		Message:  fmt.Sprintf("part %q has unsupported content type %q", part, contentType),
	}
}

// PayloadTooLarge creates an error for an artifact exceeding its size limit.
func PayloadTooLarge(part string, limit int64) error {
	return &Error{
		Sentinel: ErrPayloadTooLarge,
		Message:  fmt.Sprintf("part %q exceeds the %d byte limit", part, limit),
	}
}

// Capacity creates a "try later" rejection (global ceiling or user exclusivity).
func Capacity(message string) error {
	return &Error{
		Sentinel: ErrCapacity,
		Message:  message,
	}
}

// PortConflict creates an error naming every port already held by another job.
func PortConflict(ports []uint16) error {
	return &Error{
		Sentinel: ErrPortConflict,
		Message:  fmt.Sprintf("ports already in use by another workload: %s", formatPorts(ports)),
		Ports:    ports,
	}
}

// IllegalPorts creates an error naming every port outside the allowed range.
func IllegalPorts(ports []uint16, min, max uint16) error {
	return &Error{
		Sentinel: ErrIllegalPort,
		Message:  fmt.Sprintf("ports outside the allowed range %d-%d: %s", min, max, formatPorts(ports)),
		Ports:    ports,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s not found", resource),
	}
}

// Unauthorized creates an authentication rejection.
func Unauthorized(message string) error {
	return &Error{
		Sentinel: ErrUnauthorized,
		Message:  message,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// PortsOf extracts the offending port list from a port rejection, if any.
func PortsOf(err error) []uint16 {
	var e *Error
	if errors.As(err, &e) {
		return e.Ports
	}
	return nil
}

func formatPorts(ports []uint16) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = fmt.Sprintf("%d", p)
	}
	return strings.Join(parts, ", ")
}
