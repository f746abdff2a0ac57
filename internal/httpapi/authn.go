package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"sharedview.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// The shared pages authenticate with the cmk-token query parameter instead
// of a session, so the whole /shared/ prefix bypasses session auth.
var publicPaths = []string{
	"/v1/auth/token",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}
var publicPrefixes = []string{
	"/shared/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		raw, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := auth.ParseAndValidateSession(raw)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		ctx := auth.ContextWithUser(r.Context(), auth.UserID(claims.Subject), claims.Roles)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireUser returns the authenticated user or writes a 401.
func (a *API) requireUser(w http.ResponseWriter, r *http.Request) (auth.UserID, bool) {
	user, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return user, true
}

// ensurePermission checks one permission of the authenticated user.
func (a *API) ensurePermission(w http.ResponseWriter, r *http.Request, user auth.UserID, perm string) bool {
	if !a.directory.May(user, perm) {
		writeError(w, r, http.StatusForbidden, "permission denied: "+perm)
		return false
	}
	return true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
