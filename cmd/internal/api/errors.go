package api

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized is matched by errors.Is for 401 responses.
	ErrUnauthorized = errors.New("api: unauthorized")

	// ErrNotLoggedIn is returned by calls that need a token when none is set.
	ErrNotLoggedIn = errors.New("api: not logged in")
)

// Error is a failed API call: either a non-2xx status or an envelope with success=false.
type Error struct {
	Op      string
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("api %s: status %d: %s", e.Op, e.Status, e.Message)
}

func (e *Error) Unwrap() error {
	if e.Status == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}
