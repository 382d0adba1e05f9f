package price

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	calls atomic.Int32
	rate  decimal.Decimal
	err   error
	delay time.Duration
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) BTCPrice(ctx context.Context, _ string) (decimal.Decimal, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return decimal.Zero, ctx.Err()
		}
	}
	return s.rate, s.err
}

func TestCoinGeckoBTCPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "bitcoin", r.URL.Query().Get("ids"))
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		assert.Equal(t, "secret", r.Header.Get("x-cg-pro-api-key"))
		fmt.Fprint(w, `{"bitcoin":{"usd":67123.45}}`)
	}))
	defer srv.Close()

	cg := NewCoinGecko(srv.URL, "secret", "test-agent", time.Second)
	rate, err := cg.BTCPrice(context.Background(), "USD")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("67123.45")))
}

func TestCoinGeckoErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "rate limited", status: http.StatusTooManyRequests},
		{name: "server error", status: http.StatusInternalServerError},
		{name: "missing coin", status: http.StatusOK, body: `{}`},
		{name: "missing fiat", status: http.StatusOK, body: `{"bitcoin":{"eur":1}}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))
			defer srv.Close()

			_, err := NewCoinGecko(srv.URL, "", "", time.Second).BTCPrice(context.Background(), "usd")
			require.Error(t, err)
		})
	}
}

func TestFallbackOracleUsesProvider(t *testing.T) {
	p := &stubProvider{rate: decimal.NewFromInt(60000)}
	o := NewFallbackOracle(p, nil, OracleConfig{Fallback: decimal.NewFromInt(45000), Timeout: time.Second})

	rate := o.SpotRate(context.Background())
	assert.True(t, rate.Equal(decimal.NewFromInt(60000)))
}

func TestFallbackOracleFallsBack(t *testing.T) {
	fallback := decimal.NewFromInt(45000)
	tests := []struct {
		name     string
		provider *stubProvider
	}{
		{name: "error", provider: &stubProvider{err: errors.New("down")}},
		{name: "zero quote", provider: &stubProvider{rate: decimal.Zero}},
		{name: "negative quote", provider: &stubProvider{rate: decimal.NewFromInt(-1)}},
		{name: "timeout", provider: &stubProvider{rate: decimal.NewFromInt(1), delay: time.Second}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			o := NewFallbackOracle(tc.provider, nil, OracleConfig{Fallback: fallback, Timeout: 20 * time.Millisecond})
			rate := o.SpotRate(context.Background())
			assert.True(t, rate.Equal(fallback), "got %s", rate)
		})
	}
}

func TestFallbackOracleCollapsesConcurrentLookups(t *testing.T) {
	p := &stubProvider{rate: decimal.NewFromInt(50000), delay: 50 * time.Millisecond}
	o := NewFallbackOracle(p, nil, OracleConfig{Fallback: decimal.NewFromInt(45000), Timeout: time.Second})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rate := o.SpotRate(context.Background())
			assert.True(t, rate.Equal(decimal.NewFromInt(50000)))
		}()
	}
	wg.Wait()
	assert.Less(t, p.calls.Load(), int32(10))
}

func TestStaticProvider(t *testing.T) {
	rate, err := Static{Rate: decimal.NewFromInt(45000)}.BTCPrice(context.Background(), "usd")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(45000)))

	_, err = Static{}.BTCPrice(context.Background(), "usd")
	require.ErrorIs(t, err, ErrNoQuote)
}
