package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/storefront/checkout-api/internal/logging"
	"github.com/storefront/checkout-api/internal/models"
	"github.com/storefront/checkout-api/internal/services"
)

// TokenAuthenticator resolves a bearer token to an account
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

type userKey struct{}

// WithUser stores the authenticated user in ctx
func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFrom returns the authenticated user, if any
func UserFrom(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(userKey{}).(*models.User)
	return u, ok && u != nil
}

// ActorFrom returns the caller as a service actor. Anonymous callers get the
// zero Actor.
func ActorFrom(ctx context.Context) services.Actor {
	if u, ok := UserFrom(ctx); ok {
		return services.Actor{UserID: u.ID, Role: u.Role}
	}
	return services.Actor{}
}

// Authenticate rejects requests without a valid bearer token
func Authenticate(auth TokenAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeMessage(w, http.StatusUnauthorized, "authentication required")
				return
			}
			u, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				rejectAuth(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(withAccount(r.Context(), u)))
		})
	}
}

// OptionalAuth attaches the user when a valid token is present and lets
// anonymous requests through. A presented but invalid token is still rejected.
func OptionalAuth(auth TokenAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			u, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				rejectAuth(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(withAccount(r.Context(), u)))
		})
	}
}

// RequireRole must run after Authenticate
func RequireRole(role models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, ok := UserFrom(r.Context())
			if !ok {
				writeMessage(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if u.Role != role {
				writeMessage(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func withAccount(ctx context.Context, u *models.User) context.Context {
	ctx = WithUser(ctx, u)
	return logging.WithCtx(ctx, logging.FromCtx(ctx).With("user_id", u.ID))
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func rejectAuth(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrInactiveAccount):
		writeMessage(w, http.StatusUnauthorized, "account is deactivated")
	case errors.Is(err, services.ErrUnauthenticated):
		writeMessage(w, http.StatusUnauthorized, "invalid or expired token")
	default:
		logging.FromCtx(r.Context()).Error("authentication failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, "internal server error")
	}
}
