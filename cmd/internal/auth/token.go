package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of access-token claims the client reads.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// DecodeToken reads the registered claims of a JWT without verifying its signature.
// The client holds no key material; the server remains the authority on validity.
func DecodeToken(token string) (Claims, error) {
	var rc jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &rc); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	out := Claims{Subject: rc.Subject}
	if rc.ExpiresAt == nil {
		return out, ErrNoExpiry
	}
	out.ExpiresAt = rc.ExpiresAt.Time.UTC()
	return out, nil
}
