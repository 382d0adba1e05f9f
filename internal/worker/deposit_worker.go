package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ayo6706/captcha-solver-api/internal/observability"
	"github.com/ayo6706/captcha-solver-api/internal/service"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// UserLister returns the users that own an active deposit address.
type UserLister interface {
	ListReconcilableUserIDs(ctx context.Context) ([]uuid.UUID, error)
}

// SweepSummary describes one pass over every reconcilable user.
type SweepSummary struct {
	Users             int
	Failed            int
	LedgerUnavailable int
	CreditedDeposits  int
	CreditedMicros    int64
}

// DepositWorker polls the ledger for every user with a deposit address.
// Passes for different users run concurrently; passes for the same user are
// serialized by the reconciler's lock.
type DepositWorker struct {
	users        UserLister
	reconciler   service.Reconciler
	pollInterval time.Duration
	concurrency  int
	stopCh       chan struct{}
	stopOnce     sync.Once
	running      sync.WaitGroup
}

// NewDepositWorker creates a worker polling every minute with four concurrent passes.
func NewDepositWorker(users UserLister, reconciler service.Reconciler) *DepositWorker {
	return &DepositWorker{
		users:        users,
		reconciler:   reconciler,
		pollInterval: time.Minute,
		concurrency:  4,
		stopCh:       make(chan struct{}),
	}
}

// WithPollInterval sets the poll interval for the worker.
func (w *DepositWorker) WithPollInterval(interval time.Duration) *DepositWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// WithConcurrency bounds how many users are reconciled at once.
func (w *DepositWorker) WithConcurrency(n int) *DepositWorker {
	if n > 0 {
		w.concurrency = n
	}
	return w
}

// Start blocks and sweeps at the configured interval until Stop is called or
// ctx is canceled.
func (w *DepositWorker) Start(ctx context.Context) {
	w.running.Add(1)
	defer w.running.Done()
	w.loop(ctx)
}

func (w *DepositWorker) loop(ctx context.Context) {
	zap.L().Info("deposit worker starting",
		zap.Duration("interval", w.pollInterval),
		zap.Int("concurrency", w.concurrency),
	)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("deposit worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("deposit worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop ends the loop and waits for a sweep in progress to finish.
func (w *DepositWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	w.running.Wait()
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *DepositWorker) Run(ctx context.Context) func() {
	w.running.Add(1)
	go func() {
		defer w.running.Done()
		w.loop(ctx)
	}()
	return w.Stop
}

func (w *DepositWorker) runOnce(ctx context.Context) {
	summary, err := w.SweepOnce(ctx)
	if err != nil {
		observability.IncrementWorkerRun("deposits", "failed")
		zap.L().Error("deposit sweep failed", zap.Error(err))
		return
	}
	result := "success"
	if summary.Failed > 0 {
		result = "partial"
	}
	observability.IncrementWorkerRun("deposits", result)
	zap.L().Info("deposit sweep finished",
		zap.Int("users", summary.Users),
		zap.Int("failed", summary.Failed),
		zap.Int("ledger_unavailable", summary.LedgerUnavailable),
		zap.Int("credited_deposits", summary.CreditedDeposits),
		zap.Int64("credited_micros", summary.CreditedMicros),
	)
}

// SweepOnce reconciles every user once. A failure for one user is logged and
// counted; it does not stop the others.
func (w *DepositWorker) SweepOnce(ctx context.Context) (SweepSummary, error) {
	ids, err := w.users.ListReconcilableUserIDs(ctx)
	if err != nil {
		return SweepSummary{}, fmt.Errorf("failed to list users: %w", err)
	}

	var (
		failed, unavailable, credited atomic.Int64
		creditedMicros                atomic.Int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			result, err := w.reconciler.Reconcile(gctx, id)
			if err != nil {
				failed.Add(1)
				zap.L().Error("deposit reconciliation failed", zap.String("user_id", id.String()), zap.Error(err))
				return nil
			}
			if result.LedgerUnavailable {
				unavailable.Add(1)
			}
			credited.Add(int64(result.CreditedDeposits))
			creditedMicros.Add(result.CreditedMicros)
			return nil
		})
	}
	_ = g.Wait()

	return SweepSummary{
		Users:             len(ids),
		Failed:            int(failed.Load()),
		LedgerUnavailable: int(unavailable.Load()),
		CreditedDeposits:  int(credited.Load()),
		CreditedMicros:    creditedMicros.Load(),
	}, ctx.Err()
}
