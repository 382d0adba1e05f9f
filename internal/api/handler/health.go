package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/ayo6706/captcha-solver-api/internal/price"
	"github.com/redis/go-redis/v9"
)

// Pinger is satisfied by *pgxpool.Pool and *repository.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the liveness, readiness and status endpoints.
type HealthHandler struct {
	db      Pinger
	redis   redis.Cmdable
	oracle  price.Oracle
	network string
}

func NewHealthHandler(db Pinger, redis redis.Cmdable, oracle price.Oracle, network string) *HealthHandler {
	return &HealthHandler{db: db, redis: redis, oracle: oracle, network: network}
}

const readyTimeout = time.Second

// Live reports OK while the process serves requests.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready pings Postgres and, when configured, Redis. Each dependency is
// reported separately so a failing probe says which one is down.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	checks := map[string]string{"postgres": probe(h.db.Ping(ctx))}
	if h.redis != nil {
		checks["redis"] = probe(h.redis.Ping(ctx).Err())
	}

	status, code := "ready", http.StatusOK
	for _, result := range checks {
		if result != "ok" {
			status, code = "unavailable", http.StatusServiceUnavailable
		}
	}
	RespondJSON(w, code, map[string]any{"status": status, "checks": checks})
}

func probe(err error) string {
	if err != nil {
		return "unavailable"
	}
	return "ok"
}

// Status reports the ledger network and the current BTC price. The oracle
// never fails, so neither does this endpoint.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":          "healthy",
		"timestamp":       time.Now().UTC(),
		"bitcoin_network": h.network,
	}
	if h.oracle != nil {
		resp["btc_price_usd"] = h.oracle.SpotRate(r.Context()).String()
	}
	RespondJSON(w, http.StatusOK, resp)
}
