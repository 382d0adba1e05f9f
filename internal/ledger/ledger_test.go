package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func txid(n int) string {
	return fmt.Sprintf("%064x", n)
}

func TestObservationValidate(t *testing.T) {
	tests := []struct {
		name string
		obs  Observation
		want error
	}{
		{name: "valid", obs: Observation{TxID: txid(1), Amount: 1000, Confirmations: 3}},
		{name: "short txid", obs: Observation{TxID: "abc", Amount: 1000}, want: ErrInvalidTxID},
		{name: "non hex txid", obs: Observation{TxID: strings.Repeat("z", 64), Amount: 1000}, want: ErrInvalidTxID},
		{name: "zero amount", obs: Observation{TxID: txid(2), Amount: 0}, want: ErrInvalidAmount},
		{name: "negative amount", obs: Observation{TxID: txid(3), Amount: -5}, want: ErrInvalidAmount},
		{name: "negative depth", obs: Observation{TxID: txid(4), Amount: 5, Confirmations: -1}, want: ErrInvalidDepth},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.obs.Validate()
			if tc.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestObservationNormalized(t *testing.T) {
	obs := Observation{TxID: "  " + strings.ToUpper(txid(0xabc)) + " "}
	assert.Equal(t, txid(0xabc), obs.Normalized().TxID)
}

func TestNewDepositAddressRoundTrip(t *testing.T) {
	for _, network := range []string{"mainnet", "testnet", "regtest"} {
		t.Run(network, func(t *testing.T) {
			params, err := NetworkParams(network)
			require.NoError(t, err)

			addr, err := NewDepositAddress(params)
			require.NoError(t, err)
			require.NoError(t, ValidateAddress(addr, params))

			other, err := NewDepositAddress(params)
			require.NoError(t, err)
			assert.NotEqual(t, addr, other)
		})
	}
}

func TestValidateAddressRejectsOtherNetwork(t *testing.T) {
	addr, err := NewDepositAddress(&chaincfg.MainNetParams)
	require.NoError(t, err)
	assert.Error(t, ValidateAddress(addr, &chaincfg.TestNet3Params))
}

func TestNetworkParamsUnknown(t *testing.T) {
	_, err := NetworkParams("dogecoin")
	assert.Error(t, err)
}

func TestEsploraURLFor(t *testing.T) {
	assert.Equal(t, "https://blockstream.info/api", EsploraURLFor("mainnet"))
	assert.Equal(t, DefaultEsploraURL, EsploraURLFor(" Testnet "))
	assert.Contains(t, EsploraURLFor("regtest"), "127.0.0.1")
	assert.Equal(t, DefaultEsploraURL, EsploraURLFor("unknown"))
}

func TestMockClient(t *testing.T) {
	ctx := context.Background()
	m := NewMockClient()
	m.AddTransaction("addr", txid(1), 5000)
	m.AddTransaction("addr", txid(1), 9999)
	m.Confirm("addr", txid(1), 2)
	m.Confirm("addr", txid(9), 2)

	obs, err := m.Fetch(ctx, "addr")
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, Observation{TxID: txid(1), Amount: 5000, Confirmations: 2}, obs[0])

	empty, err := m.Fetch(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, empty)

	boom := errors.New("boom")
	m.SetError(boom)
	_, err = m.Fetch(ctx, "addr")
	require.ErrorIs(t, err, boom)
}

func TestEsploraFetch(t *testing.T) {
	const addr = "tb1qexampleaddress"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/blocks/tip/height":
			fmt.Fprint(w, "100")
		case "/address/" + addr + "/txs":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `[
				{"txid":"%s","status":{"confirmed":true,"block_height":99},"vout":[{"scriptpubkey_address":"%s","value":1500},{"scriptpubkey_address":"change","value":10}]},
				{"txid":"%s","status":{"confirmed":false},"vout":[{"scriptpubkey_address":"%s","value":700},{"scriptpubkey_address":"%s","value":300}]},
				{"txid":"%s","status":{"confirmed":true,"block_height":50},"vout":[{"scriptpubkey_address":"elsewhere","value":900}]}
			]`, txid(1), addr, txid(2), addr, addr, txid(3))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewEsploraClient(EsploraConfig{BaseURL: srv.URL, Timeout: time.Second, RPS: 100})
	obs, err := client.Fetch(context.Background(), addr)
	require.NoError(t, err)
	require.Len(t, obs, 2)
	assert.Equal(t, Observation{TxID: txid(1), Amount: 1500, Confirmations: 2}, obs[0])
	assert.Equal(t, Observation{TxID: txid(2), Amount: 1000, Confirmations: 0}, obs[1])
}

func TestEsploraFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewEsploraClient(EsploraConfig{BaseURL: srv.URL, Timeout: time.Second, RPS: 100})
	_, err := client.Fetch(context.Background(), "tb1qwhatever")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestEsploraBreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewEsploraClient(EsploraConfig{BaseURL: srv.URL, Timeout: time.Second, RPS: 1000})
	for i := 0; i < MaxFailingRequests+5; i++ {
		_, err := client.Fetch(context.Background(), "tb1qwhatever")
		require.ErrorIs(t, err, ErrUnavailable)
	}
	assert.Equal(t, int32(MaxFailingRequests+1), hits.Load())
}

func confirmedTxJSON(id, addr string, value int64) string {
	return fmt.Sprintf(`{"txid":"%s","status":{"confirmed":true,"block_height":990},"vout":[{"scriptpubkey_address":"%s","value":%d}]}`, id, addr, value)
}

func TestEsploraFetchPaginates(t *testing.T) {
	const addr = "tb1qbusyaddress"
	var chainPages atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/blocks/tip/height":
			fmt.Fprint(w, "1000")
		case "/address/" + addr + "/txs":
			entries := []string{
				fmt.Sprintf(`{"txid":"%s","status":{"confirmed":false},"vout":[{"scriptpubkey_address":"%s","value":50}]}`, txid(100), addr),
			}
			for i := 1; i <= esploraChainPageSize; i++ {
				entries = append(entries, confirmedTxJSON(txid(i), addr, int64(1000+i)))
			}
			fmt.Fprintf(w, "[%s]", strings.Join(entries, ","))
		case "/address/" + addr + "/txs/chain/" + txid(esploraChainPageSize):
			chainPages.Add(1)
			fmt.Fprintf(w, "[%s]", confirmedTxJSON(txid(26), addr, 2600))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewEsploraClient(EsploraConfig{BaseURL: srv.URL, Timeout: time.Second, RPS: 1000})
	obs, err := client.Fetch(context.Background(), addr)
	require.NoError(t, err)
	require.Len(t, obs, esploraChainPageSize+2)
	assert.Equal(t, int32(1), chainPages.Load())

	byID := make(map[string]Observation, len(obs))
	for _, o := range obs {
		byID[o.TxID] = o
	}
	assert.Equal(t, Observation{TxID: txid(26), Amount: 2600, Confirmations: 11}, byID[txid(26)])
	assert.Equal(t, int64(0), byID[txid(100)].Confirmations)
}

func TestEsploraFetchStopsAtPageCap(t *testing.T) {
	const addr = "tb1qendless"
	var pages atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/blocks/tip/height" {
			fmt.Fprint(w, "1000")
			return
		}
		n := int(pages.Add(1))
		entries := make([]string, 0, esploraChainPageSize)
		for i := 0; i < esploraChainPageSize; i++ {
			entries = append(entries, confirmedTxJSON(txid(n*1000+i), addr, 10))
		}
		fmt.Fprintf(w, "[%s]", strings.Join(entries, ","))
	}))
	defer srv.Close()

	client := NewEsploraClient(EsploraConfig{BaseURL: srv.URL, Timeout: time.Second, RPS: 1000})
	obs, err := client.Fetch(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, int32(maxHistoryPages), pages.Load())
	assert.Len(t, obs, maxHistoryPages*esploraChainPageSize)
}

func TestEsploraFetchSkipsUndecodableEntries(t *testing.T) {
	const addr = "tb1qmixedpage"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/blocks/tip/height":
			fmt.Fprint(w, "1000")
		case "/address/" + addr + "/txs":
			fmt.Fprintf(w, `[%s, {"txid": 42, "status": "broken"}, %s]`,
				confirmedTxJSON(txid(1), addr, 700), confirmedTxJSON(txid(2), addr, 800))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewEsploraClient(EsploraConfig{BaseURL: srv.URL, Timeout: time.Second, RPS: 1000})
	obs, err := client.Fetch(context.Background(), addr)
	require.NoError(t, err)
	require.Len(t, obs, 2)
	assert.Equal(t, txid(1), obs[0].TxID)
	assert.Equal(t, txid(2), obs[1].TxID)
}
