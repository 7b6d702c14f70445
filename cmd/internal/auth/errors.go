package auth

import "errors"

var (
	// ErrNotLoggedIn is returned when no session is active.
	ErrNotLoggedIn = errors.New("not logged in")

	// ErrTokenExpired is returned when the server hands out an already expired token.
	ErrTokenExpired = errors.New("token expired")

	// ErrMalformedToken is returned when the access token is not a decodable JWT.
	ErrMalformedToken = errors.New("malformed token")

	// ErrNoExpiry is returned when the token carries no exp claim.
	ErrNoExpiry = errors.New("token has no expiry")
)

// Registration input errors, checked before anything is sent to the server.
var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrWeakPassword     = errors.New("weak password")
	ErrInvalidUsername  = errors.New("invalid username")
	ErrInvalidEmail     = errors.New("invalid email")
)
