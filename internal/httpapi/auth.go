package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ent0n29/voicerelay/internal/policy"
	"github.com/ent0n29/voicerelay/internal/upstream"
)

// credentialsFromRequest validates the bearer token and collects the tenant headers.
func (s *Server) credentialsFromRequest(r *http.Request) (upstream.Credentials, error) {
	token, err := policy.ParseBearer(r.Header.Get("Authorization"))
	if err != nil {
		return upstream.Credentials{}, err
	}
	prefix := s.cfg.TenantHeaderPrefix
	if prefix == "" {
		prefix = "x-reevo"
	}
	return upstream.Credentials{
		Token:  token,
		UserID: strings.TrimSpace(r.Header.Get(prefix + "-user-id")),
		OrgID:  strings.TrimSpace(r.Header.Get(prefix + "-org-id")),
	}, nil
}

func respondUnauthorized(w http.ResponseWriter, err error) {
	code := "unauthorized"
	challenge := "Bearer"
	switch {
	case errors.Is(err, policy.ErrMissingCredential):
		code = "missing_credential"
	case errors.Is(err, policy.ErrMalformedCredential):
		code = "malformed_credential"
		challenge = `Bearer error="invalid_request"`
	}
	w.Header().Set("WWW-Authenticate", challenge)
	respondError(w, http.StatusUnauthorized, code, err.Error())
}
