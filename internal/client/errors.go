package client

import (
	"errors"
	"fmt"

	"forumdm/internal/pkg/errs"
)

var (
	// ErrNotConnected is returned by operations that need a live connection.
	// Sends are never queued while disconnected.
	ErrNotConnected = errors.New("client: not connected")

	// ErrAuthFailed means the session token was rejected. The controller
	// stops reconnecting; the user has to sign in again.
	ErrAuthFailed = errors.New("client: authentication failed")

	// ErrStoreUnavailable means the server could not persist a message.
	ErrStoreUnavailable = errors.New("client: message store unavailable")

	// ErrTransportDropped covers any abnormal end of the connection.
	ErrTransportDropped = errors.New("client: connection dropped")

	// ErrSessionEnded means the server closed the session, as on logout from another tab.
	ErrSessionEnded = errors.New("client: session ended")

	// ErrNoConversation is returned by conversation operations when none is open.
	ErrNoConversation = errors.New("client: no open conversation")

	// ErrRejected wraps every other server-side rejection.
	ErrRejected = errors.New("client: rejected by server")
)

// RejectedError carries the server's error code and message.
type RejectedError struct {
	Code    int
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("client: rejected by server (%d): %s", e.Code, e.Message)
}

// Unwrap makes every rejection match ErrRejected.
func (e *RejectedError) Unwrap() error { return ErrRejected }

// errorForCode maps a server error code to one of the client errors.
func errorForCode(code int, message string) error {
	switch code {
	case errs.ErrStoreUnavailable:
		return ErrStoreUnavailable
	case errs.ErrAuthFailed, errs.ErrNotAuthenticated, errs.ErrUnauthorized:
		return ErrAuthFailed
	case errs.ErrSessionClosed:
		return ErrSessionEnded
	default:
		return &RejectedError{Code: code, Message: message}
	}
}
