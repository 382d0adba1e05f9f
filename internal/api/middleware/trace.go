package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TraceHeader carries the trace id in both directions.
const TraceHeader = "X-Trace-ID"

const maxTraceIDLength = 64

// requestScope is created once per request by TraceMiddleware. The auth
// middlewares record the caller on it so that outer layers (logging,
// recovery) can report who made the request after the inner context is gone.
// It is only touched from the request goroutine.
type requestScope struct {
	userID     string
	apiTokenID string
}

// TraceMiddleware accepts a well-formed client trace id or mints one, and
// echoes it on the response.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := sanitizeTraceID(r.Header.Get(TraceHeader))
		if traceID == "" {
			traceID = uuid.NewString()
		}
		scope := &requestScope{}
		ctx := context.WithValue(r.Context(), traceContextKey, traceID)
		ctx = context.WithValue(ctx, scopeContextKey, scope)
		w.Header().Set(TraceHeader, traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sanitizeTraceID drops client ids that are too long or would pollute logs.
func sanitizeTraceID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxTraceIDLength {
		return ""
	}
	for _, c := range raw {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.':
		default:
			return ""
		}
	}
	return raw
}

func recordCaller(ctx context.Context, userID, apiTokenID string) {
	if scope, ok := ctx.Value(scopeContextKey).(*requestScope); ok {
		scope.userID = userID
		scope.apiTokenID = apiTokenID
	}
}

func scopeFromContext(ctx context.Context) *requestScope {
	if ctx == nil {
		return nil
	}
	scope, _ := ctx.Value(scopeContextKey).(*requestScope)
	return scope
}

// RequestLogger returns base annotated with the trace id and the
// authenticated caller of ctx, when known.
func RequestLogger(ctx context.Context, base *zap.Logger) *zap.Logger {
	if base == nil {
		base = zap.L()
	}
	var fields []zap.Field
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		fields = append(fields, zap.String("trace_id", traceID))
	}
	userID, tokenID := UserIDFromContext(ctx), APITokenIDFromContext(ctx)
	if scope := scopeFromContext(ctx); scope != nil {
		if userID == "" {
			userID = scope.userID
		}
		if tokenID == "" {
			tokenID = scope.apiTokenID
		}
	}
	if userID != "" {
		fields = append(fields, zap.String("user_id", userID))
	}
	if tokenID != "" {
		fields = append(fields, zap.String("api_token_id", tokenID))
	}
	return base.With(fields...)
}
