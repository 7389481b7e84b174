package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const adminHeader = "X-Admin-Token"

var (
	errMissingCredential = errors.New("missing admin credential")
	errInvalidCredential = errors.New("invalid admin credential")
)

// adminAuth accepts either the configured secret itself or an HS256 JWT
// signed with it. An empty secret disables the check.
type adminAuth struct {
	secret string
}

func (a adminAuth) enabled() bool { return a.secret != "" }

func (a adminAuth) verify(r *http.Request) error {
	token := credential(r)
	if token == "" {
		return errMissingCredential
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.secret)) == 1 {
		return nil
	}
	if strings.Count(token, ".") != 2 {
		return errInvalidCredential
	}

	_, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		return []byte(a.secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return errInvalidCredential
	}
	return nil
}

// credential reads a Bearer token or the X-Admin-Token header.
func credential(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return strings.TrimSpace(r.Header.Get(adminHeader))
}

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.admin.enabled() {
			next.ServeHTTP(w, r)
			return
		}
		if err := s.admin.verify(r); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}
