package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"

	"github.com/ayo6706/captcha-solver-api/internal/api/problem"
	"github.com/ayo6706/captcha-solver-api/internal/idempotency"
	"github.com/ayo6706/captcha-solver-api/internal/observability"
	"go.uber.org/zap"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	ReplayHeader         = "X-Idempotent-Replay"

	maxIdempotencyKeyLength = 128
	maxIdempotentBodyBytes  = 64 << 10
)

// IdempotencyStore persists one response per scoped Idempotency-Key.
type IdempotencyStore interface {
	Lookup(ctx context.Context, key, requestHash string) (*idempotency.Record, error)
	Reserve(ctx context.Context, key, requestHash, method, path string) (bool, error)
	Finalize(ctx context.Context, key, requestHash string, status int, body []byte, contentType string) (*idempotency.Record, error)
	Release(ctx context.Context, key, requestHash string) error
	WaitForCompletion(ctx context.Context, key, requestHash string) (*idempotency.Record, error)
}

// IdempotencyMiddleware requires an Idempotency-Key on mutating requests and
// replays the stored response for repeats. It must run after authentication:
// keys are scoped to the caller. Server errors are not stored, the
// reservation is released instead.
func IdempotencyMiddleware(store IdempotencyStore, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil || !mutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			g, ok := newGuard(w, r, store, logger)
			if !ok {
				return
			}
			g.serve(next)
		})
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// guard carries one request through lookup, reservation and finalization.
type guard struct {
	w     http.ResponseWriter
	r     *http.Request
	store IdempotencyStore
	log   *zap.Logger
	key   string
	hash  string
}

func newGuard(w http.ResponseWriter, r *http.Request, store IdempotencyStore, logger *zap.Logger) (*guard, bool) {
	badRequest := func(kind, detail string) {
		problem.Write(w, r, http.StatusBadRequest, problem.Type(kind), http.StatusText(http.StatusBadRequest), detail)
	}

	clientKey := r.Header.Get(IdempotencyKeyHeader)
	switch {
	case clientKey == "":
		observability.IncrementIdempotencyEvent("missing_key")
		badRequest("idempotency/missing-key", "Idempotency-Key header is required")
		return nil, false
	case len(clientKey) > maxIdempotencyKeyLength:
		badRequest("idempotency/invalid-key", "Idempotency-Key is too long")
		return nil, false
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIdempotentBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			problem.Write(w, r, http.StatusRequestEntityTooLarge, problem.Type("request/too-large"), http.StatusText(http.StatusRequestEntityTooLarge), "request body is too large")
			return nil, false
		}
		badRequest("request/invalid-body", "Failed to read request body")
		return nil, false
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	key := idempotency.ScopedKey(UserIDFromContext(r.Context()), clientKey)
	return &guard{
		w:     w,
		r:     r,
		store: store,
		log:   RequestLogger(r.Context(), logger).With(zap.String("idempotency_key", key)),
		key:   key,
		hash:  hashRequest(r.Method, r.URL.Path, body),
	}, true
}

func (g *guard) serve(next http.Handler) {
	ctx := g.r.Context()

	rec, err := g.store.Lookup(ctx, g.key, g.hash)
	switch {
	case err == nil:
		observability.IncrementIdempotencyEvent("replay")
		replay(g.w, rec)
		return
	case errors.Is(err, idempotency.ErrHashMismatch):
		observability.IncrementIdempotencyEvent("hash_mismatch")
		g.conflict("idempotency/key-conflict", "Idempotency-Key was already used with a different request")
		return
	case errors.Is(err, idempotency.ErrInProgress):
		g.waitAndReplay("replay_after_wait")
		return
	case !errors.Is(err, idempotency.ErrNotFound):
		observability.IncrementIdempotencyEvent("lookup_error")
		g.log.Warn("idempotency lookup failed", zap.Error(err))
	}

	reserved, err := g.store.Reserve(ctx, g.key, g.hash, g.r.Method, g.r.URL.Path)
	if err != nil {
		observability.IncrementIdempotencyEvent("reserve_error")
		g.log.Error("idempotency reserve failed", zap.Error(err))
		problem.Write(g.w, g.r, http.StatusInternalServerError, problem.Type("idempotency/unavailable"), http.StatusText(http.StatusInternalServerError), "idempotency unavailable")
		return
	}
	if !reserved {
		g.waitAndReplay("replay_after_reserve")
		return
	}
	observability.IncrementIdempotencyEvent("reserved")

	rw := &bodyRecorder{ResponseWriter: g.w}
	stored := false
	// A panic or 5xx below leaves the reservation open; drop it so the client
	// can retry with the same key.
	defer func() {
		if !stored {
			g.release()
		}
	}()
	next.ServeHTTP(rw, g.r)

	status := rw.statusOrOK()
	if status >= http.StatusInternalServerError {
		return
	}
	stored = true
	g.finalize(status, rw)
}

func (g *guard) finalize(status int, rw *bodyRecorder) {
	contentType := rw.Header().Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	ctx := context.WithoutCancel(g.r.Context())
	if _, err := g.store.Finalize(ctx, g.key, g.hash, status, rw.body.Bytes(), contentType); err != nil {
		observability.IncrementIdempotencyEvent("finalize_error")
		g.log.Warn("idempotency finalize failed", zap.Error(err))
		return
	}
	observability.IncrementIdempotencyEvent("finalized")
}

func (g *guard) release() {
	observability.IncrementIdempotencyEvent("released")
	if err := g.store.Release(context.WithoutCancel(g.r.Context()), g.key, g.hash); err != nil {
		g.log.Warn("idempotency release failed", zap.Error(err))
	}
}

func (g *guard) waitAndReplay(event string) {
	rec, err := g.store.WaitForCompletion(g.r.Context(), g.key, g.hash)
	if err != nil {
		observability.IncrementIdempotencyEvent("in_progress_conflict")
		g.log.Warn("idempotency wait failed", zap.Error(err))
		g.conflict("idempotency/in-progress", "a request with this Idempotency-Key is still being processed")
		return
	}
	observability.IncrementIdempotencyEvent(event)
	replay(g.w, rec)
}

func (g *guard) conflict(kind, detail string) {
	problem.Write(g.w, g.r, http.StatusConflict, problem.Type(kind), http.StatusText(http.StatusConflict), detail)
}

func hashRequest(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// bodyRecorder tees the response so it can be stored after the handler ends.
type bodyRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (br *bodyRecorder) WriteHeader(code int) {
	if br.status == 0 {
		br.status = code
	}
	br.ResponseWriter.WriteHeader(code)
}

func (br *bodyRecorder) Write(b []byte) (int, error) {
	if br.status == 0 {
		br.status = http.StatusOK
	}
	br.body.Write(b)
	return br.ResponseWriter.Write(b)
}

func (br *bodyRecorder) statusOrOK() int {
	if br.status == 0 {
		return http.StatusOK
	}
	return br.status
}

func replay(w http.ResponseWriter, rec *idempotency.Record) {
	w.Header().Set("Content-Type", rec.ContentType)
	w.Header().Set(ReplayHeader, rec.ServedBy)
	w.WriteHeader(rec.Status)
	_, _ = w.Write(rec.Body)
}
