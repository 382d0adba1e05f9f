package ledger

import (
	"context"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
)

// MockClient is an in-memory ledger for development and tests.
type MockClient struct {
	mu      sync.RWMutex
	txs     map[string]map[string]*Observation
	order   map[string][]string
	failErr error
}

func NewMockClient() *MockClient {
	return &MockClient{
		txs:   make(map[string]map[string]*Observation),
		order: make(map[string][]string),
	}
}

func (m *MockClient) Name() string { return "mock" }

// AddTransaction records an unconfirmed payment to address.
func (m *MockClient) AddTransaction(address, txid string, amount btcutil.Amount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byTx, ok := m.txs[address]
	if !ok {
		byTx = make(map[string]*Observation)
		m.txs[address] = byTx
	}
	if _, exists := byTx[txid]; exists {
		return
	}
	byTx[txid] = &Observation{TxID: txid, Amount: amount}
	m.order[address] = append(m.order[address], txid)
}

// Confirm sets the confirmation depth of a known payment. Unknown txids are ignored.
func (m *MockClient) Confirm(address, txid string, confirmations int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if obs, ok := m.txs[address][txid]; ok {
		obs.Confirmations = confirmations
	}
}

// SetError makes every Fetch fail with err until cleared with nil.
func (m *MockClient) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

func (m *MockClient) Fetch(ctx context.Context, address string) ([]Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	ids := m.order[address]
	out := make([]Observation, 0, len(ids))
	for _, id := range ids {
		out = append(out, *m.txs[address][id])
	}
	return out, nil
}
