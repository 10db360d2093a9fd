package session

import (
	"errors"
	"fmt"
)

// ErrNoSession is the refresh cause when there is no session holding a refresh token.
var ErrNoSession = errors.New("no session with a refresh token")

// BootstrapError means the client registration could not be obtained or decoded.
// It usually needs operator attention; the manager stays uninitialized so a retry is possible.
type BootstrapError struct {
	Err error
}

func (e *BootstrapError) Error() string { return fmt.Sprintf("bootstrap failed: %v", e.Err) }
func (e *BootstrapError) Unwrap() error { return e.Err }

// AuthenticationFailed means the password handshake was rejected.
type AuthenticationFailed struct {
	Reason string
	Err    error
}

func (e *AuthenticationFailed) Error() string { return "authentication failed: " + e.Reason }
func (e *AuthenticationFailed) Unwrap() error { return e.Err }

// RefreshFailed means the refresh token could not be exchanged; a full login is required.
type RefreshFailed struct {
	Cause error
}

func (e *RefreshFailed) Error() string { return fmt.Sprintf("session refresh failed: %v", e.Cause) }
func (e *RefreshFailed) Unwrap() error { return e.Cause }
