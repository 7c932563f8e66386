package auth

import "errors"

// Common errors returned by the authentication subsystem.
var (
	ErrDisabled     = errors.New("authentication disabled")
	ErrInvalidToken = errors.New("invalid token")
	ErrMissingToken = errors.New("missing bearer token")
	ErrNoTokens     = errors.New("auth enabled but no tokens configured")
)

// Subject identifies the caller of an authenticated request. Tokens are
// never logged; Name is a short fingerprint of the matching token.
type Subject struct {
	Name string
}

// Config configures the authentication service.
type Config struct {
	Enabled bool
	Tokens  []string
}
