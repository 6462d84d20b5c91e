package policy

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrMissingCredential   = errors.New("missing authorization credential")
	ErrMalformedCredential = errors.New("malformed authorization credential")
)

// AuthError rejects a request before any upstream work happens.
type AuthError struct {
	Reason error
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Reason.Error()
}

func (e *AuthError) Unwrap() error { return e.Reason }

// RFC 6750 b64token.
var bearerTokenPattern = regexp.MustCompile(`^[A-Za-z0-9\-._~+/]+=*$`)

// ParseBearer extracts the token from an Authorization header value.
func ParseBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", &AuthError{Reason: ErrMissingCredential}
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", &AuthError{Reason: ErrMalformedCredential}
	}
	if !bearerTokenPattern.MatchString(parts[1]) {
		return "", &AuthError{Reason: ErrMalformedCredential}
	}
	return parts[1], nil
}
