// Package idempotency stores one response per scoped Idempotency-Key.
// Postgres holds reservations and finished responses; redis caches the
// finished ones for fast replay.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/captcha-solver-api/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("idempotency key not found")
	ErrHashMismatch = errors.New("idempotency key body mismatch")
	ErrInProgress   = errors.New("idempotency key in progress")
)

const (
	redisKeyPrefix = "idempotency"

	// DefaultReservationTimeout bounds how long an unfinished reservation
	// blocks its key. It must exceed the slowest request the key guards.
	DefaultReservationTimeout = 2 * time.Minute

	pollInterval = 50 * time.Millisecond
)

type Record struct {
	Key         string
	RequestHash string
	Status      int
	Body        []byte
	ContentType string
	ServedBy    string
}

// Store keeps finished responses for ttl. A reservation left in progress for
// longer than the reservation timeout is treated as abandoned: its request
// died with the process that served it, so the key becomes usable again.
type Store struct {
	redis              redis.Cmdable
	queries            *repository.Queries
	ttl                time.Duration
	reservationTimeout time.Duration
	now                func() time.Time
}

type Option func(*Store)

// WithReservationTimeout overrides DefaultReservationTimeout.
func WithReservationTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.reservationTimeout = d
		}
	}
}

// NewStore builds a store over db. redis may be nil.
func NewStore(redis redis.Cmdable, db repository.DBTX, ttl time.Duration, opts ...Option) *Store {
	s := &Store{
		redis:              redis,
		queries:            repository.New(db),
		ttl:                ttl,
		reservationTimeout: DefaultReservationTimeout,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type cacheEnvelope struct {
	Key         string `json:"key"`
	Hash        string `json:"hash"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
	ContentType string `json:"content_type"`
}

func (s *Store) Lookup(ctx context.Context, key, requestHash string) (*Record, error) {
	if rec, ok, err := s.cached(ctx, key, requestHash); ok || err != nil {
		return rec, err
	}

	row, err := s.queries.GetIdempotencyKey(ctx, key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}
	if s.expire(ctx, row) {
		return nil, ErrNotFound
	}

	if row.RequestHash != requestHash {
		return nil, ErrHashMismatch
	}
	if row.InProgress {
		return nil, ErrInProgress
	}
	rec := recordFromRow(row, "postgres")
	s.cache(ctx, rec)
	return &rec, nil
}

// expire drops row when it outlived its window and reports whether it did.
// Finished keys live for ttl, reservations for the reservation timeout.
func (s *Store) expire(ctx context.Context, row repository.IdempotencyKey) bool {
	window := s.ttl
	if row.InProgress {
		window = s.reservationTimeout
	}
	if window <= 0 || !row.UpdatedAt.Valid {
		return false
	}
	cutoff := s.now().Add(-window)
	if !row.UpdatedAt.Time.Before(cutoff) {
		return false
	}
	n, err := s.queries.ExpireIdempotencyKey(ctx, row.IdempotencyKey, cutoff)
	if err != nil {
		zap.L().Warn("expire idempotency key failed", zap.String("key", row.IdempotencyKey), zap.Error(err))
		return false
	}
	if n > 0 && row.InProgress {
		zap.L().Warn("abandoned idempotency reservation reclaimed",
			zap.String("key", row.IdempotencyKey),
			zap.Time("reserved_at", row.UpdatedAt.Time),
		)
	}
	return n > 0
}

func (s *Store) Reserve(ctx context.Context, key, requestHash, method, path string) (bool, error) {
	_, err := s.queries.ReserveIdempotencyKey(ctx, repository.ReserveIdempotencyKeyParams{
		IdempotencyKey: key,
		RequestHash:    requestHash,
		Method:         method,
		Path:           path,
	})
	if err == nil {
		return true, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("reserve idempotency key: %w", err)
}

func (s *Store) Finalize(ctx context.Context, key, requestHash string, status int, body []byte, contentType string) (*Record, error) {
	row, err := s.queries.FinalizeIdempotencyKey(ctx, repository.FinalizeIdempotencyKeyParams{
		ResponseStatus: int32(status),
		ResponseBody:   body,
		ContentType:    contentType,
		IdempotencyKey: key,
		RequestHash:    requestHash,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("finalize idempotency key: %w", err)
	}
	rec := recordFromRow(row, "postgres")
	s.cache(ctx, rec)
	return &rec, nil
}

// Release drops an unfinished reservation so the same key can be retried
// after a failed attempt.
func (s *Store) Release(ctx context.Context, key, requestHash string) error {
	if err := s.queries.ReleaseIdempotencyKey(ctx, key, requestHash); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// WaitForCompletion polls until the concurrent holder of key finishes, the
// reservation is reclaimed, or ctx ends.
func (s *Store) WaitForCompletion(ctx context.Context, key, requestHash string) (*Record, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		rec, err := s.Lookup(ctx, key, requestHash)
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, ErrInProgress) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ticker.C:
				continue
			}
		}
		return nil, err
	}
}

func (s *Store) cached(ctx context.Context, key, requestHash string) (*Record, bool, error) {
	if s.redis == nil {
		return nil, false, nil
	}
	val, err := s.redis.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("redis idempotency lookup failed", zap.Error(err))
		}
		return nil, false, nil
	}
	var env cacheEnvelope
	if err := json.Unmarshal(val, &env); err != nil {
		return nil, false, nil
	}
	if env.Hash != requestHash {
		return nil, true, ErrHashMismatch
	}
	return &Record{
		Key:         env.Key,
		RequestHash: env.Hash,
		Status:      env.Status,
		Body:        env.Body,
		ContentType: env.ContentType,
		ServedBy:    "redis",
	}, true, nil
}

func (s *Store) cache(ctx context.Context, rec Record) {
	if s.redis == nil {
		return
	}
	payload, err := json.Marshal(cacheEnvelope{
		Key:         rec.Key,
		Hash:        rec.RequestHash,
		Status:      rec.Status,
		Body:        rec.Body,
		ContentType: rec.ContentType,
	})
	if err != nil {
		zap.L().Warn("marshal idempotency cache", zap.Error(err))
		return
	}
	if err := s.redis.Set(ctx, redisKey(rec.Key), payload, s.ttl).Err(); err != nil {
		zap.L().Warn("redis idempotency cache set failed", zap.Error(err))
	}
}

func recordFromRow(row repository.IdempotencyKey, servedBy string) Record {
	return Record{
		Key:         row.IdempotencyKey,
		RequestHash: row.RequestHash,
		Status:      int(row.ResponseStatus),
		Body:        row.ResponseBody,
		ContentType: row.ContentType,
		ServedBy:    servedBy,
	}
}

// ScopedKey binds a client supplied key to the caller so two users sending the
// same header value never share a stored response.
func ScopedKey(principal, key string) string {
	if principal == "" {
		return key
	}
	return principal + ":" + key
}

func redisKey(key string) string {
	return fmt.Sprintf("%s:%s", redisKeyPrefix, key)
}
