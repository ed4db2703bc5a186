package api

import (
	"errors"
	"net/http"

	"github.com/mattjoyce/switchboard/internal/auth"
)

// authMiddleware resolves the bearer token to a principal and stores it in
// the request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.BearerToken(r)
		if err != nil {
			msg := "missing bearer token"
			if errors.Is(err, auth.ErrBadCredentials) {
				msg = "Authorization header must use the Bearer scheme"
			}
			s.writeError(w, http.StatusUnauthorized, msg)
			return
		}

		principal, ok := s.keys.Lookup(token)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

// requireScopes rejects principals holding none of the given scopes.
func (s *Server) requireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := auth.PrincipalFrom(r.Context())
			if !principal.Scopes.Allows(scopes...) {
				s.logger.Debug("admin request lacks scope", "principal", principal.Name, "path", r.URL.Path, "required", scopes)
				s.writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
