package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/ayo6706/captcha-solver-api/internal/domain"
	"github.com/ayo6706/captcha-solver-api/internal/models"
	"github.com/ayo6706/captcha-solver-api/internal/repository"
	"github.com/google/uuid"
)

// fakeDepositStore is an in-memory DepositStore. RunInUserTx holds a single
// mutex for the whole callback, like the advisory lock does in Postgres, and
// restores a snapshot when the callback fails.
type fakeDepositStore struct {
	mu        sync.Mutex
	addresses map[uuid.UUID]string
	txns      map[uuid.UUID]models.Transaction
	byTxID    map[string]uuid.UUID
	deposits  map[uuid.UUID]models.Deposit
	balances  map[uuid.UUID]int64
	audits    []repository.InsertAuditLogParams
	commits   int
	fail      func(op string) error
	// replays makes the next n callbacks run twice, the first attempt
	// rolled back, the way RunInTx retries a failed commit.
	replays   int
}

type fakeSnapshot struct {
	txns     map[uuid.UUID]models.Transaction
	byTxID   map[string]uuid.UUID
	deposits map[uuid.UUID]models.Deposit
	balances map[uuid.UUID]int64
	audits   int
}

func newFakeDepositStore() *fakeDepositStore {
	return &fakeDepositStore{
		addresses: make(map[uuid.UUID]string),
		txns:      make(map[uuid.UUID]models.Transaction),
		byTxID:    make(map[string]uuid.UUID),
		deposits:  make(map[uuid.UUID]models.Deposit),
		balances:  make(map[uuid.UUID]int64),
	}
}

func (s *fakeDepositStore) addUser(address string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.addresses[id] = address
	s.balances[id] = 0
	return id
}

func (s *fakeDepositStore) snapshot() fakeSnapshot {
	snap := fakeSnapshot{
		txns:     make(map[uuid.UUID]models.Transaction, len(s.txns)),
		byTxID:   make(map[string]uuid.UUID, len(s.byTxID)),
		deposits: make(map[uuid.UUID]models.Deposit, len(s.deposits)),
		balances: make(map[uuid.UUID]int64, len(s.balances)),
		audits:   len(s.audits),
	}
	for k, v := range s.txns {
		snap.txns[k] = v
	}
	for k, v := range s.byTxID {
		snap.byTxID[k] = v
	}
	for k, v := range s.deposits {
		snap.deposits[k] = v
	}
	for k, v := range s.balances {
		snap.balances[k] = v
	}
	return snap
}

func (s *fakeDepositStore) restore(snap fakeSnapshot) {
	s.txns = snap.txns
	s.byTxID = snap.byTxID
	s.deposits = snap.deposits
	s.balances = snap.balances
	s.audits = s.audits[:snap.audits]
}

func (s *fakeDepositStore) RunInUserTx(ctx context.Context, userID uuid.UUID, fn func(tx DepositTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	snap := s.snapshot()
	if s.replays > 0 {
		s.replays--
		_ = fn(&fakeDepositTx{s: s})
		s.restore(snap)
		snap = s.snapshot()
	}
	if err := fn(&fakeDepositTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	s.commits++
	return nil
}

func (s *fakeDepositStore) ActiveDepositAddress(ctx context.Context, userID uuid.UUID) (*models.DepositAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr, ok := s.addresses[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &models.DepositAddress{UserID: userID, Address: addr, IsActive: true}, nil
}

// seedTransaction inserts a row directly, bypassing the engine.
func (s *fakeDepositStore) seedTransaction(txn models.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txns[txn.ID] = txn
	s.byTxID[txn.TxID] = txn.ID
}

func (s *fakeDepositStore) balance(userID uuid.UUID) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID]
}

func (s *fakeDepositStore) transaction(txid string) models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txns[s.byTxID[txid]]
}

func (s *fakeDepositStore) userDeposits(userID uuid.UUID) []models.Deposit {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Deposit
	for _, d := range s.deposits {
		if d.UserID == userID {
			d.MemberTransactionIDs = s.membersLocked(d.ID)
			out = append(out, d)
		}
	}
	return out
}

func (s *fakeDepositStore) membersLocked(depositID uuid.UUID) []uuid.UUID {
	var ids []uuid.UUID
	for _, t := range s.txns {
		if t.DepositID != nil && *t.DepositID == depositID {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

func (s *fakeDepositStore) state() fakeSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

type fakeDepositTx struct {
	s *fakeDepositStore
}

func (t *fakeDepositTx) check(op string) error {
	if t.s.fail == nil {
		return nil
	}
	return t.s.fail(op)
}

func (t *fakeDepositTx) InsertAuditLog(ctx context.Context, arg repository.InsertAuditLogParams) (int64, error) {
	if err := t.check("InsertAuditLog"); err != nil {
		return 0, err
	}
	t.s.audits = append(t.s.audits, arg)
	return int64(len(t.s.audits)), nil
}

func (t *fakeDepositTx) TransactionByTxID(ctx context.Context, txid string) (*models.Transaction, error) {
	if err := t.check("TransactionByTxID"); err != nil {
		return nil, err
	}
	id, ok := t.s.byTxID[txid]
	if !ok {
		return nil, models.ErrNotFound
	}
	txn := t.s.txns[id]
	return &txn, nil
}

func (t *fakeDepositTx) InsertTransaction(ctx context.Context, txn *models.Transaction) (bool, error) {
	if err := t.check("InsertTransaction"); err != nil {
		return false, err
	}
	if _, exists := t.s.byTxID[txn.TxID]; exists {
		return false, nil
	}
	row := *txn
	row.Status = domain.TxStatusPending
	t.s.txns[row.ID] = row
	t.s.byTxID[row.TxID] = row.ID
	return true, nil
}

func (t *fakeDepositTx) UnsettledTransactions(ctx context.Context, userID uuid.UUID) ([]models.Transaction, error) {
	if err := t.check("UnsettledTransactions"); err != nil {
		return nil, err
	}
	var out []models.Transaction
	for _, txn := range t.s.txns {
		if txn.UserID != userID {
			continue
		}
		if txn.Status == domain.TxStatusPending || (txn.Status == domain.TxStatusConfirmed && txn.DepositID == nil) {
			out = append(out, txn)
		}
	}
	return out, nil
}

func (t *fakeDepositTx) RaiseConfirmations(ctx context.Context, id uuid.UUID, confirmations int64) error {
	if err := t.check("RaiseConfirmations"); err != nil {
		return err
	}
	txn := t.s.txns[id]
	if txn.Status == domain.TxStatusPending && txn.Confirmations < confirmations {
		txn.Confirmations = confirmations
		t.s.txns[id] = txn
	}
	return nil
}

func (t *fakeDepositTx) ConfirmTransaction(ctx context.Context, id uuid.UUID, confirmations int64) (int64, error) {
	if err := t.check("ConfirmTransaction"); err != nil {
		return 0, err
	}
	txn, ok := t.s.txns[id]
	if !ok || txn.Status != domain.TxStatusPending {
		return 0, nil
	}
	txn.Status = domain.TxStatusConfirmed
	if confirmations > txn.Confirmations {
		txn.Confirmations = confirmations
	}
	t.s.txns[id] = txn
	return 1, nil
}

func (t *fakeDepositTx) OpenDeposit(ctx context.Context, userID uuid.UUID) (*models.Deposit, error) {
	if err := t.check("OpenDeposit"); err != nil {
		return nil, err
	}
	for _, d := range t.s.deposits {
		if d.UserID == userID && (d.Status == domain.DepositStatusPending || d.Status == domain.DepositStatusPartial) {
			out := d
			return &out, nil
		}
	}
	return nil, models.ErrNotFound
}

func (t *fakeDepositTx) CreateDeposit(ctx context.Context, userID uuid.UUID) (*models.Deposit, error) {
	if err := t.check("CreateDeposit"); err != nil {
		return nil, err
	}
	for _, d := range t.s.deposits {
		if d.UserID == userID && d.Status != domain.DepositStatusCredited {
			return nil, fmt.Errorf("duplicate open deposit for %s", userID)
		}
	}
	d := models.Deposit{ID: uuid.New(), UserID: userID, Status: domain.DepositStatusPending}
	t.s.deposits[d.ID] = d
	return &d, nil
}

func (t *fakeDepositTx) AttachTransaction(ctx context.Context, txnID, depositID uuid.UUID) (int64, error) {
	if err := t.check("AttachTransaction"); err != nil {
		return 0, err
	}
	txn, ok := t.s.txns[txnID]
	if !ok || txn.DepositID != nil || txn.Status != domain.TxStatusConfirmed {
		return 0, nil
	}
	id := depositID
	txn.DepositID = &id
	t.s.txns[txnID] = txn
	return 1, nil
}

func (t *fakeDepositTx) UpdateDepositTotals(ctx context.Context, d *models.Deposit) (int64, error) {
	if err := t.check("UpdateDepositTotals"); err != nil {
		return 0, err
	}
	row, ok := t.s.deposits[d.ID]
	if !ok || row.Status == domain.DepositStatusCredited {
		return 0, nil
	}
	row.TotalSats = d.TotalSats
	row.TotalMicros = d.TotalMicros
	row.Status = d.Status
	t.s.deposits[d.ID] = row
	return 1, nil
}

func (t *fakeDepositTx) CreditDeposit(ctx context.Context, depositID uuid.UUID) (int64, error) {
	if err := t.check("CreditDeposit"); err != nil {
		return 0, err
	}
	row, ok := t.s.deposits[depositID]
	if !ok || row.Status == domain.DepositStatusCredited {
		return 0, models.ErrNotFound
	}
	row.Status = domain.DepositStatusCredited
	row.CreditedMicros = row.TotalMicros
	t.s.deposits[depositID] = row
	return row.CreditedMicros, nil
}

func (t *fakeDepositTx) MarkDepositTransactionsCredited(ctx context.Context, depositID uuid.UUID) (int64, error) {
	if err := t.check("MarkDepositTransactionsCredited"); err != nil {
		return 0, err
	}
	var n int64
	for id, txn := range t.s.txns {
		if txn.DepositID != nil && *txn.DepositID == depositID && txn.Status == domain.TxStatusConfirmed {
			txn.Status = domain.TxStatusCredited
			t.s.txns[id] = txn
			n++
		}
	}
	return n, nil
}

func (t *fakeDepositTx) CreditBalance(ctx context.Context, userID uuid.UUID, amountMicros int64) (int64, error) {
	if err := t.check("CreditBalance"); err != nil {
		return 0, err
	}
	if _, ok := t.s.balances[userID]; !ok {
		return 0, nil
	}
	t.s.balances[userID] += amountMicros
	return 1, nil
}
