package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Token errors
	ErrTokenMissing     = fmt.Errorf("no token stored")
	ErrTokenInvalid     = fmt.Errorf("token malformed or expired")
	ErrTokenUnavailable = fmt.Errorf("token did not become available")

	// Authentication errors
	ErrAuthRejected     = fmt.Errorf("authentication rejected")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrRateLimited      = fmt.Errorf("rate limited")
	ErrRefreshFailed    = fmt.Errorf("token refresh failed")

	// Channel errors
	ErrNetworkFailure     = fmt.Errorf("network failure")
	ErrConnectionTerminal = fmt.Errorf("connection retry budget exhausted")
	ErrQueueEntryExpired  = fmt.Errorf("queued event expired")
	ErrEmitCancelled      = fmt.Errorf("emit cancelled before delivery")
	ErrNotConnected       = fmt.Errorf("channel not connected")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidFlag     = fmt.Errorf("invalid flag value")
)
