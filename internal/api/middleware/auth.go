package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ayo6706/captcha-solver-api/internal/api/problem"
	"github.com/ayo6706/captcha-solver-api/internal/repository"
)

type contextKey string

const (
	userContextKey     contextKey = "user_id"
	roleContextKey     contextKey = "user_role"
	traceContextKey    contextKey = "trace_id"
	apiTokenContextKey contextKey = "api_token_id"
	scopeContextKey    contextKey = "request_scope"
)

// APITokenHeader carries the API token on CAPTCHA endpoints.
const APITokenHeader = "X-API-Token"

func unauthorized(w http.ResponseWriter, r *http.Request, kind, detail string) {
	problem.Write(w, r, http.StatusUnauthorized, problem.Type(kind), http.StatusText(http.StatusUnauthorized), detail)
}

// bearerToken returns the credential of an "Authorization: Bearer" header and
// whether the header was present at all.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", true
	}
	return strings.TrimSpace(token), true
}

// AuthMiddleware authenticates dashboard requests by session JWT.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, present := bearerToken(r)
		switch {
		case !present:
			unauthorized(w, r, "auth/authorization-header-required", "Authorization header required")
			return
		case raw == "":
			unauthorized(w, r, "auth/invalid-token-format", "Invalid token format")
			return
		}

		claims, err := parseSessionToken(raw)
		switch {
		case errors.Is(err, errSessionMisconfigured):
			problem.Write(w, r, http.StatusInternalServerError, problem.Type("auth/misconfigured"), http.StatusText(http.StatusInternalServerError), "auth is not configured")
			return
		case errors.Is(err, errSessionClaims):
			unauthorized(w, r, "auth/invalid-token-claims", "Invalid token claims")
			return
		case err != nil:
			unauthorized(w, r, "auth/invalid-token", "Invalid token")
			return
		}

		recordCaller(r.Context(), claims.UserID, "")
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), claims.UserID, claims.Role)))
	})
}

// APITokenAuthenticator resolves an API token value to its owner.
type APITokenAuthenticator interface {
	Authenticate(ctx context.Context, value string) (*repository.APITokenOwner, error)
}

// APITokenMiddleware authenticates CAPTCHA clients by API token, read from
// X-API-Token or an Authorization Bearer header.
func APITokenMiddleware(tokens APITokenAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			value := strings.TrimSpace(r.Header.Get(APITokenHeader))
			if value == "" {
				value, _ = bearerToken(r)
			}
			if value == "" {
				unauthorized(w, r, "auth/api-token-required", "API token required")
				return
			}

			owner, err := tokens.Authenticate(r.Context(), value)
			if err != nil {
				unauthorized(w, r, "auth/invalid-api-token", "Invalid API token")
				return
			}
			userID, tokenID := owner.Token.UserID.String(), owner.Token.ID.String()
			recordCaller(r.Context(), userID, tokenID)
			ctx := WithUser(r.Context(), userID, owner.Role)
			ctx = context.WithValue(ctx, apiTokenContextKey, tokenID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects callers whose role differs from role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if UserRoleFromContext(r.Context()) != role {
				problem.Write(w, r, http.StatusForbidden, problem.Type("auth/insufficient-permissions"), http.StatusText(http.StatusForbidden), "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithUser returns ctx carrying an authenticated user, as the auth middlewares do.
func WithUser(ctx context.Context, userID, role string) context.Context {
	ctx = context.WithValue(ctx, userContextKey, userID)
	return context.WithValue(ctx, roleContextKey, role)
}

func stringFromContext(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

func UserIDFromContext(ctx context.Context) string     { return stringFromContext(ctx, userContextKey) }
func UserRoleFromContext(ctx context.Context) string   { return stringFromContext(ctx, roleContextKey) }
func APITokenIDFromContext(ctx context.Context) string { return stringFromContext(ctx, apiTokenContextKey) }
func TraceIDFromContext(ctx context.Context) string    { return stringFromContext(ctx, traceContextKey) }
