package policy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBearer(t *testing.T) {
	cases := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{"jwt", "Bearer eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiIxIn0.sig-_", "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiIxIn0.sig-_", nil},
		{"scheme is case-insensitive", "bearer abc==", "abc==", nil},
		{"surrounding whitespace", "  Bearer   tok  ", "tok", nil},
		{"missing", "", "", ErrMissingCredential},
		{"blank", "   ", "", ErrMissingCredential},
		{"basic scheme", "Basic dXNlcjpwYXNz", "", ErrMalformedCredential},
		{"no token", "Bearer", "", ErrMalformedCredential},
		{"extra parts", "Bearer a b", "", ErrMalformedCredential},
		{"illegal characters", "Bearer a,b", "", ErrMalformedCredential},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseBearer(tc.header)
			if tc.wantErr == nil {
				require.NoError(t, err)
				assert.Equal(t, tc.want, got)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
			var authErr *AuthError
			assert.True(t, errors.As(err, &authErr))
			assert.Empty(t, got)
		})
	}
}
