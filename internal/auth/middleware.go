package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type contextKey int

const actingUserContextKey contextKey = iota

// ActingUserFromContext returns the authenticated user id, or uuid.Nil if
// the request was not authenticated.
func ActingUserFromContext(ctx context.Context) uuid.UUID {
	userID, _ := ctx.Value(actingUserContextKey).(uuid.UUID)
	return userID
}

// WithActingUser returns a context carrying the acting user id. Exposed for
// tests that call services directly.
func WithActingUser(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, actingUserContextKey, userID)
}

// Middleware verifies the Authorization bearer token and stores the acting
// user id in the request context. Requests without a valid token get 401.
//
// With noAuth set the token check is skipped and the acting user is read
// from the X-Acting-User header instead. Development only.
func Middleware(secret []byte, noAuth bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if noAuth {
				userID, err := uuid.Parse(r.Header.Get("X-Acting-User"))
				if err != nil {
					http.Error(w, "missing or invalid X-Acting-User header", http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r.WithContext(WithActingUser(r.Context(), userID)))
				return
			}

			header := r.Header.Get("Authorization")
			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenString == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}

			userID, err := UserIDFromToken(tokenString, secret)
			if err != nil {
				log.Debug().Err(err).Msg("Rejected bearer token")
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActingUser(r.Context(), userID)))
		})
	}
}
