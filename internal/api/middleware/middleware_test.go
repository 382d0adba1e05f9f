package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/captcha-solver-api/internal/idempotency"
	"github.com/ayo6706/captcha-solver-api/internal/models"
	"github.com/ayo6706/captcha-solver-api/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const (
	testSecret   = "middleware-test-secret-0123456789"
	testIssuer   = "captcha-solver-test"
	testAudience = "captcha-api-test"
)

func withJWTConfig(t *testing.T) {
	t.Helper()
	prevSecret, prevIssuer, prevAudience := jwtSecret, jwtIssuer, jwtAudience
	SetJWTSecret(testSecret)
	SetJWTValidation(testIssuer, testAudience)
	t.Cleanup(func() {
		jwtSecret, jwtIssuer, jwtAudience = prevSecret, prevIssuer, prevAudience
	})
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"user_id":  UserIDFromContext(r.Context()),
			"role":     UserRoleFromContext(r.Context()),
			"token_id": APITokenIDFromContext(r.Context()),
		})
	})
}

func TestSessionTokenRoundTrip(t *testing.T) {
	withJWTConfig(t)
	userID := uuid.New()

	token, expiresAt, err := IssueSessionToken(userID, "user", time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/v1/user/profile", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	AuthMiddleware(echoUser()).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, userID.String(), body["user_id"])
	assert.Equal(t, "user", body["role"])
}

func TestAuthMiddlewareRejects(t *testing.T) {
	withJWTConfig(t)
	expired, _, err := IssueSessionToken(uuid.New(), "user", -time.Minute)
	require.NoError(t, err)

	SetJWTValidation(testIssuer, "someone-else")
	otherAudience, _, err := IssueSessionToken(uuid.New(), "user", time.Hour)
	require.NoError(t, err)
	SetJWTValidation(testIssuer, testAudience)

	cases := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "not bearer", header: "Token abc"},
		{name: "garbage", header: "Bearer not-a-jwt"},
		{name: "expired", header: "Bearer " + expired},
		{name: "wrong audience", header: "Bearer " + otherAudience},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/user/profile", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			AuthMiddleware(echoUser()).ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")
		})
	}
}

type fakeTokens struct {
	owners map[string]*repository.APITokenOwner
}

func (f fakeTokens) Authenticate(_ context.Context, value string) (*repository.APITokenOwner, error) {
	if owner, ok := f.owners[value]; ok {
		return owner, nil
	}
	return nil, errors.New("invalid api token")
}

func TestAPITokenMiddleware(t *testing.T) {
	owner := &repository.APITokenOwner{
		Token:      models.APIToken{ID: uuid.New(), UserID: uuid.New(), IsActive: true},
		UserActive: true,
		Role:       "user",
	}
	h := APITokenMiddleware(fakeTokens{owners: map[string]*repository.APITokenOwner{"good": owner}})(echoUser())

	for _, set := range []func(*http.Request){
		func(r *http.Request) { r.Header.Set(APITokenHeader, "good") },
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer good") },
	} {
		req := httptest.NewRequest(http.MethodPost, "/v1/captcha/solve", nil)
		set(req)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, owner.Token.UserID.String(), body["user_id"])
		assert.Equal(t, owner.Token.ID.String(), body["token_id"])
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/captcha/solve", nil)
	req.Header.Set(APITokenHeader, "bad")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/captcha/solve", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

type memIdempotencyStore struct {
	mu      sync.Mutex
	records map[string]*idempotency.Record
	open    map[string]bool
}

func newMemIdempotencyStore() *memIdempotencyStore {
	return &memIdempotencyStore{records: map[string]*idempotency.Record{}, open: map[string]bool{}}
}

func (s *memIdempotencyStore) Lookup(_ context.Context, key, hash string) (*idempotency.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, idempotency.ErrNotFound
	}
	if rec.RequestHash != hash {
		return nil, idempotency.ErrHashMismatch
	}
	if s.open[key] {
		return nil, idempotency.ErrInProgress
	}
	out := *rec
	out.ServedBy = "memory"
	return &out, nil
}

func (s *memIdempotencyStore) Reserve(_ context.Context, key, hash, _, _ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; ok {
		return false, nil
	}
	s.records[key] = &idempotency.Record{Key: key, RequestHash: hash}
	s.open[key] = true
	return true, nil
}

func (s *memIdempotencyStore) Finalize(_ context.Context, key, hash string, status int, body []byte, contentType string) (*idempotency.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok || rec.RequestHash != hash {
		return nil, idempotency.ErrNotFound
	}
	rec.Status, rec.Body, rec.ContentType = status, append([]byte(nil), body...), contentType
	delete(s.open, key)
	return rec, nil
}

func (s *memIdempotencyStore) Release(_ context.Context, key, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[key]; ok && rec.RequestHash == hash && s.open[key] {
		delete(s.records, key)
		delete(s.open, key)
	}
	return nil
}

func (s *memIdempotencyStore) WaitForCompletion(ctx context.Context, key, hash string) (*idempotency.Record, error) {
	return s.Lookup(ctx, key, hash)
}

func idemRequest(userID, key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/captcha/solve", bytes.NewBufferString(body))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req.WithContext(WithUser(req.Context(), userID, "user"))
}

func TestIdempotencyMiddleware(t *testing.T) {
	store := newMemIdempotencyStore()
	calls := 0
	status := http.StatusOK
	h := IdempotencyMiddleware(store, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]int{"call": calls})
	}))
	alice, bob := uuid.NewString(), uuid.NewString()

	t.Run("missing key", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, idemRequest(alice, "", `{}`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, 0, calls)
	})

	t.Run("replay returns stored response", func(t *testing.T) {
		first := httptest.NewRecorder()
		h.ServeHTTP(first, idemRequest(alice, "k1", `{"website_url":"a"}`))
		require.Equal(t, http.StatusOK, first.Code)

		second := httptest.NewRecorder()
		h.ServeHTTP(second, idemRequest(alice, "k1", `{"website_url":"a"}`))
		require.Equal(t, http.StatusOK, second.Code)
		assert.Equal(t, "memory", second.Header().Get("X-Idempotent-Replay"))
		assert.JSONEq(t, first.Body.String(), second.Body.String())
		assert.Equal(t, 1, calls)
	})

	t.Run("different body conflicts", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, idemRequest(alice, "k1", `{"website_url":"b"}`))
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, 1, calls)
	})

	t.Run("keys are scoped per user", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, idemRequest(bob, "k1", `{"website_url":"a"}`))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-Idempotent-Replay"))
		assert.Equal(t, 2, calls)
	})

	t.Run("server errors release the key", func(t *testing.T) {
		status = http.StatusInternalServerError
		w := httptest.NewRecorder()
		h.ServeHTTP(w, idemRequest(alice, "k2", `{}`))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, 3, calls)

		status = http.StatusOK
		w = httptest.NewRecorder()
		h.ServeHTTP(w, idemRequest(alice, "k2", `{}`))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 4, calls)
	})

	t.Run("oversized body is rejected before reserving", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, idemRequest(alice, "k3", strings.Repeat("x", maxIdempotentBodyBytes+1)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Equal(t, 4, calls)
		_, reserved := store.records[idempotency.ScopedKey(alice, "k3")]
		assert.False(t, reserved)
	})
}

func TestTraceMiddlewarePropagates(t *testing.T) {
	var seen string
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Trace-ID", "trace-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "trace-123", seen)
	assert.Equal(t, "trace-123", w.Header().Get("X-Trace-ID"))

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
}

func TestTraceMiddlewareRejectsMalformedIDs(t *testing.T) {
	h := TraceMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	for _, bad := range []string{"has space", "line\nbreak", string(bytes.Repeat([]byte("a"), maxTraceIDLength+1))} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(TraceHeader, bad)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		got := w.Header().Get(TraceHeader)
		assert.NotEqual(t, bad, got)
		_, err := uuid.Parse(got)
		assert.NoError(t, err, "a fresh id replaces %q", bad)
	}
}

func TestLoggingSeesCallerFromInnerAuth(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	owner := &repository.APITokenOwner{
		Token: models.APIToken{ID: uuid.New(), UserID: uuid.New(), IsActive: true},
		Role:  "user",
	}
	inner := APITokenMiddleware(fakeTokens{owners: map[string]*repository.APITokenOwner{"good": owner}})(echoUser())
	h := TraceMiddleware(LoggingMiddleware(zap.New(core))(inner))

	req := httptest.NewRequest(http.MethodPost, "/v1/captcha/solve", nil)
	req.Header.Set(APITokenHeader, "good")
	h.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, owner.Token.UserID.String(), fields["user_id"])
	assert.Equal(t, owner.Token.ID.String(), fields["api_token_id"])
	assert.NotEmpty(t, fields["trace_id"])
	assert.Equal(t, int64(http.StatusOK), fields["status"])
}

func TestRecoverMiddleware(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	logger := zap.New(core)

	t.Run("before_write", func(t *testing.T) {
		h := TraceMiddleware(RecoverMiddleware(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("boom")
		})))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/dashboard", nil))
		require.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, w.Header().Get(TraceHeader), body["trace_id"])
	})

	t.Run("after_write", func(t *testing.T) {
		h := RecoverMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte("partial"))
			panic("late")
		}))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "partial", w.Body.String())
	})

	t.Run("abort_handler", func(t *testing.T) {
		h := RecoverMiddleware(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic(http.ErrAbortHandler)
		}))
		assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		})
	})

	assert.Equal(t, 2, logs.FilterMessage("panic recovered").Len())
}

func TestSolveRateLimiterIsPerToken(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := SolveRateLimiter(1)(ok)
	call := func(tokenID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/captcha/solve", nil)
		req = req.WithContext(context.WithValue(req.Context(), apiTokenContextKey, tokenID))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusNoContent, call("token-a").Code)
	limited := call("token-a")
	require.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))
	assert.Contains(t, limited.Body.String(), "API token")
	assert.Equal(t, http.StatusNoContent, call("token-b").Code)
}
