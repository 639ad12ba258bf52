package middleware

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/edvin/maintconsole/internal/api/response"
	"github.com/edvin/maintconsole/internal/backend"
)

type contextKey string

const UserKey contextKey = "user"

// Session is the part of the session manager the API checks on every call.
type Session interface {
	LoggedIn() bool
	User() *backend.User
	Touch() error
}

// RequireSession rejects requests with 401 while nobody is logged in and
// records activity for the others.
func RequireSession(sess Session) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !sess.LoggedIn() {
				response.WriteError(w, http.StatusUnauthorized, backend.ErrSessionExpired.Error())
				return
			}
			if err := sess.Touch(); err != nil {
				zerolog.Ctx(r.Context()).Warn().Err(err).Msg("failed to record session activity")
			}

			ctx := r.Context()
			if u := sess.User(); u != nil {
				ctx = context.WithValue(ctx, UserKey, u)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUser returns the logged-in user stored by RequireSession.
func GetUser(ctx context.Context) *backend.User {
	u, _ := ctx.Value(UserKey).(*backend.User)
	return u
}
