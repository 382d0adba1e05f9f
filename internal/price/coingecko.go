package price

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

// CoinGecko quotes BTC via /simple/price?ids=bitcoin&vs_currencies=<fiat>.
// The optional API key is sent as x-cg-pro-api-key.
type CoinGecko struct {
	baseURL   string
	apiKey    string
	userAgent string
	client    *http.Client
}

type cgResp map[string]map[string]decimal.Decimal

func NewCoinGecko(baseURL, apiKey, userAgent string, timeout time.Duration) *CoinGecko {
	if baseURL == "" {
		baseURL = DefaultCoinGeckoURL
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 60 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &CoinGecko{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    strings.TrimSpace(apiKey),
		userAgent: userAgent,
		client: &http.Client{
			Timeout:   timeout,
			Transport: tr,
		},
	}
}

func (c *CoinGecko) Name() string { return "coingecko" }

func (c *CoinGecko) BTCPrice(ctx context.Context, fiat string) (decimal.Decimal, error) {
	fiat = strings.ToLower(strings.TrimSpace(fiat))
	if fiat == "" {
		fiat = "usd"
	}
	q := url.Values{}
	q.Set("ids", "bitcoin")
	q.Set("vs_currencies", fiat)

	u := fmt.Sprintf("%s/simple/price?%s", c.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return decimal.Zero, err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.apiKey != "" {
		req.Header.Set("x-cg-pro-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return decimal.Zero, fmt.Errorf("coingecko: rate limited (%d)", resp.StatusCode)
	}
	if resp.StatusCode/100 != 2 {
		return decimal.Zero, fmt.Errorf("coingecko: http %d", resp.StatusCode)
	}

	var data cgResp
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return decimal.Zero, err
	}
	m, ok := data["bitcoin"]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: coingecko missing 'bitcoin' key", ErrNoQuote)
	}
	val, ok := m[fiat]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: coingecko missing fiat '%s'", ErrNoQuote, fiat)
	}
	return val, nil
}
