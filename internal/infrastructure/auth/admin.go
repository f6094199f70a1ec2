package auth

import (
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

const AdminTokenHeader = "X-Admin-Token"

// AdminMiddleware guards operator routes with a shared token whose bcrypt hash
// is configured. An empty hash disables the routes.
func AdminMiddleware(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash == "" {
				http.Error(w, "admin access disabled", http.StatusForbidden)
				return
			}
			token := r.Header.Get(AdminTokenHeader)
			if token == "" {
				http.Error(w, "admin token missing", http.StatusUnauthorized)
				return
			}
			if err := bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)); err != nil {
				slog.Warn("admin token rejected", "path", r.URL.Path)
				http.Error(w, "invalid admin token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
