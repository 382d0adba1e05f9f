package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ayo6706/captcha-solver-api/internal/observability"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/sony/gobreaker"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

const DefaultEsploraURL = "https://blockstream.info/testnet/api"

var esploraURLs = map[string]string{
	"mainnet": "https://blockstream.info/api",
	"testnet": DefaultEsploraURL,
	"regtest": "http://127.0.0.1:3002",
}

// EsploraURLFor returns the public explorer for a network name accepted by
// NetworkParams. Regtest points at a local esplora instance.
func EsploraURLFor(network string) string {
	if u, ok := esploraURLs[strings.ToLower(strings.TrimSpace(network))]; ok {
		return u
	}
	return DefaultEsploraURL
}

var (
	// MaxFailingRequests is the request count after which the breaker may trip.
	MaxFailingRequests = 10
	// FailingRatio is the failure ratio that trips the breaker.
	FailingRatio = 0.6
)

// EsploraConfig configures an Esplora REST client.
type EsploraConfig struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	RPS       int
}

// EsploraClient reads address history from an Esplora compatible explorer
// (blockstream.info, mempool.space).
type EsploraClient struct {
	baseURL   string
	userAgent string
	http      *http.Client
	breaker   *gobreaker.CircuitBreaker
	limiter   ratelimit.Limiter
}

type esploraTx struct {
	TxID   string `json:"txid"`
	Status struct {
		Confirmed   bool  `json:"confirmed"`
		BlockHeight int64 `json:"block_height"`
	} `json:"status"`
	Vout []struct {
		ScriptPubKeyAddress string `json:"scriptpubkey_address"`
		Value               int64  `json:"value"`
	} `json:"vout"`
}

func NewEsploraClient(cfg EsploraConfig) *EsploraClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if !strings.HasPrefix(baseURL, "http") {
		baseURL = DefaultEsploraURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 5
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	return &EsploraClient{
		baseURL:   baseURL,
		userAgent: cfg.UserAgent,
		http:      &http.Client{Timeout: timeout, Transport: tr},
		breaker:   newBreaker("esplora"),
		limiter:   ratelimit.New(rps),
	}
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: name,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return int(counts.Requests) > MaxFailingRequests && ratio >= FailingRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			zap.L().Warn("ledger circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

func (c *EsploraClient) Name() string { return "esplora" }

// Fetch lists every transaction paying the address with its confirmation depth.
func (c *EsploraClient) Fetch(ctx context.Context, address string) ([]Observation, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		tip, err := c.tipHeight(ctx)
		if err != nil {
			return nil, err
		}
		txs, err := c.addressTxs(ctx, address)
		if err != nil {
			return nil, err
		}
		return observationsFor(address, tip, txs), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out.([]Observation), nil
}

func observationsFor(address string, tip int64, txs []esploraTx) []Observation {
	observations := make([]Observation, 0, len(txs))
	for _, tx := range txs {
		var amount int64
		for _, out := range tx.Vout {
			if out.ScriptPubKeyAddress == address {
				amount += out.Value
			}
		}
		if amount == 0 {
			// spends from the address, not payments to it
			continue
		}
		var confirmations int64
		if tx.Status.Confirmed && tx.Status.BlockHeight > 0 && tip >= tx.Status.BlockHeight {
			confirmations = tip - tx.Status.BlockHeight + 1
		}
		observations = append(observations, Observation{
			TxID:          tx.TxID,
			Amount:        btcutil.Amount(amount),
			Confirmations: confirmations,
		})
	}
	return observations
}

func (c *EsploraClient) tipHeight(ctx context.Context) (int64, error) {
	body, err := c.get(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}
	height, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("esplora: parse tip height: %w", err)
	}
	return height, nil
}

const (
	// esploraChainPageSize is how many confirmed transactions one history
	// page carries; a shorter page is the last one.
	esploraChainPageSize = 25
	// maxHistoryPages bounds one Fetch on addresses with a long history.
	maxHistoryPages = 40
)

// addressTxs walks the address history: the first page holds the mempool and
// the newest confirmed transactions, older confirmed ones are paged through
// /txs/chain/{last_seen_txid}.
func (c *EsploraClient) addressTxs(ctx context.Context, address string) ([]esploraTx, error) {
	var (
		all    []esploraTx
		seen   = make(map[string]struct{})
		path   = fmt.Sprintf("/address/%s/txs", address)
		cursor string
	)
	for page := 0; page < maxHistoryPages; page++ {
		body, err := c.get(ctx, path)
		if err != nil {
			return nil, err
		}
		txs, confirmed, err := decodeTxPage(body)
		if err != nil {
			return nil, err
		}

		last := ""
		for _, tx := range txs {
			if tx.Status.Confirmed {
				last = tx.TxID
			}
			if _, dup := seen[tx.TxID]; dup {
				continue
			}
			seen[tx.TxID] = struct{}{}
			all = append(all, tx)
		}
		if confirmed < esploraChainPageSize || last == "" || last == cursor {
			return all, nil
		}
		cursor = last
		path = fmt.Sprintf("/address/%s/txs/chain/%s", address, cursor)
	}
	zap.L().Warn("esplora history truncated",
		zap.String("address", address),
		zap.Int("pages", maxHistoryPages),
		zap.Int("transactions", len(all)),
	)
	return all, nil
}

// decodeTxPage decodes one history page entry by entry. Entries that do not
// decode are skipped and counted; they still count towards the page size so a
// bad entry cannot end the walk early.
func decodeTxPage(body []byte) ([]esploraTx, int, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, 0, fmt.Errorf("esplora: decode address txs: %w", err)
	}
	txs := make([]esploraTx, 0, len(raw))
	confirmed := 0
	for _, entry := range raw {
		var tx esploraTx
		if err := json.Unmarshal(entry, &tx); err != nil || tx.TxID == "" {
			confirmed++
			observability.IncrementSkippedObservation("invalid")
			zap.L().Warn("skipping undecodable esplora transaction", zap.Error(err))
			continue
		}
		if tx.Status.Confirmed {
			confirmed++
		}
		txs = append(txs, tx)
	}
	return txs, confirmed, nil
}

func (c *EsploraClient) get(ctx context.Context, path string) ([]byte, error) {
	c.limiter.Take()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("esplora: status %d for %s", resp.StatusCode, path)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 8<<20))
}
