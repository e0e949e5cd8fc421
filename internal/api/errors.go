package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a failure reported by the chat server with an HTTP status and the
// user-facing message from the response body.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}

	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// IsAuthFailure reports whether err means the session or credentials were
// rejected. The caller recovers by clearing the local identity.
func IsAuthFailure(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}

	return apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden
}

// IsNetworkFailure reports whether err means the request never completed:
// the operation is abandoned and may be retried by the user.
func IsNetworkFailure(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *Error

	return !errors.As(err, &apiErr)
}

// UserMessage extracts the message to surface for an operation failure.
func UserMessage(err error, fallback string) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}

	return fallback
}
