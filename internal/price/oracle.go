package price

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/captcha-solver-api/internal/observability"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// FallbackOracle serves a cached live quote and degrades to a fixed rate
// whenever the provider fails, times out, or quotes a non-positive value.
type FallbackOracle struct {
	provider Provider
	cache    redis.Cmdable
	fiat     string
	ttl      time.Duration
	timeout  time.Duration
	fallback decimal.Decimal
	group    singleflight.Group
}

type OracleConfig struct {
	Fiat     string
	CacheTTL time.Duration
	Timeout  time.Duration
	Fallback decimal.Decimal
}

// NewFallbackOracle builds an oracle. cache may be nil.
func NewFallbackOracle(provider Provider, cache redis.Cmdable, cfg OracleConfig) *FallbackOracle {
	fiat := cfg.Fiat
	if fiat == "" {
		fiat = "usd"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &FallbackOracle{
		provider: provider,
		cache:    cache,
		fiat:     fiat,
		ttl:      cfg.CacheTTL,
		timeout:  timeout,
		fallback: cfg.Fallback,
	}
}

// Fallback returns the constant used when no live quote is available.
func (o *FallbackOracle) Fallback() decimal.Decimal {
	return o.fallback
}

func (o *FallbackOracle) SpotRate(ctx context.Context) decimal.Decimal {
	key := o.cacheKey()
	if rate, ok := o.cached(ctx, key); ok {
		return rate
	}

	v, err, _ := o.group.Do(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
		defer cancel()
		rate, err := o.provider.BTCPrice(fetchCtx, o.fiat)
		if err != nil {
			return nil, err
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("%w: non-positive rate %s", ErrNoQuote, rate)
		}
		o.store(fetchCtx, key, rate)
		return rate, nil
	})
	if err != nil {
		reason := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		} else if errors.Is(err, ErrNoQuote) {
			reason = "no_quote"
		}
		observability.IncrementPriceFallback(reason)
		zap.L().Warn("price provider failed, using fallback rate",
			zap.String("provider", o.provider.Name()),
			zap.String("fallback", o.fallback.String()),
			zap.Error(err),
		)
		return o.fallback
	}
	return v.(decimal.Decimal)
}

func (o *FallbackOracle) cacheKey() string {
	return "price:btc:" + o.fiat
}

func (o *FallbackOracle) cached(ctx context.Context, key string) (decimal.Decimal, bool) {
	if o.cache == nil || o.ttl <= 0 {
		return decimal.Zero, false
	}
	val, err := o.cache.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("redis price cache lookup failed", zap.Error(err))
		}
		return decimal.Zero, false
	}
	rate, err := decimal.NewFromString(val)
	if err != nil || !rate.IsPositive() {
		return decimal.Zero, false
	}
	return rate, true
}

func (o *FallbackOracle) store(ctx context.Context, key string, rate decimal.Decimal) {
	if o.cache == nil || o.ttl <= 0 {
		return
	}
	if err := o.cache.Set(ctx, key, rate.String(), o.ttl).Err(); err != nil {
		zap.L().Warn("redis price cache set failed", zap.Error(err))
	}
}
