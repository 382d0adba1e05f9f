package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ayo6706/captcha-solver-api/internal/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticUsers struct {
	ids []uuid.UUID
	err error
}

func (s staticUsers) ListReconcilableUserIDs(context.Context) ([]uuid.UUID, error) {
	return s.ids, s.err
}

type recordingReconciler struct {
	mu       sync.Mutex
	seen     map[uuid.UUID]int
	fail     map[uuid.UUID]bool
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (r *recordingReconciler) Reconcile(_ context.Context, userID uuid.UUID) (*service.ReconcileResult, error) {
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	r.mu.Lock()
	r.seen[userID]++
	r.mu.Unlock()
	if r.fail[userID] {
		return nil, errors.New("storage down")
	}
	return &service.ReconcileResult{UserID: userID, CreditedDeposits: 1, CreditedMicros: 15}, nil
}

func TestDepositWorker_SweepOnce(t *testing.T) {
	ids := make([]uuid.UUID, 10)
	for i := range ids {
		ids[i] = uuid.New()
	}
	rec := &recordingReconciler{seen: map[uuid.UUID]int{}, fail: map[uuid.UUID]bool{ids[3]: true}}
	w := NewDepositWorker(staticUsers{ids: ids}, rec).WithConcurrency(3)

	summary, err := w.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, summary.Users)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 9, summary.CreditedDeposits)
	assert.Equal(t, int64(9*15), summary.CreditedMicros)
	assert.LessOrEqual(t, rec.peak.Load(), int32(3))
	for _, id := range ids {
		assert.Equal(t, 1, rec.seen[id])
	}
}

func TestDepositWorker_ListFailure(t *testing.T) {
	rec := &recordingReconciler{seen: map[uuid.UUID]int{}}
	w := NewDepositWorker(staticUsers{err: errors.New("db down")}, rec)

	_, err := w.SweepOnce(context.Background())
	require.Error(t, err)
	assert.Empty(t, rec.seen)
}

func TestDepositWorker_StopIsIdempotent(t *testing.T) {
	rec := &recordingReconciler{seen: map[uuid.UUID]int{}}
	w := NewDepositWorker(staticUsers{}, rec).WithPollInterval(time.Millisecond)

	stop := w.Run(context.Background())
	time.Sleep(5 * time.Millisecond)
	stop()
	stop()
}

type countingChecker struct {
	runs   atomic.Int32
	report service.IntegrityReport
}

func (c *countingChecker) Run(context.Context) (service.IntegrityReport, error) {
	c.runs.Add(1)
	return c.report, nil
}

func TestIntegrityWorker_RunsAtStartup(t *testing.T) {
	checker := &countingChecker{report: service.IntegrityReport{BalanceMismatches: 1}}
	w := NewIntegrityWorker(checker).WithInterval(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return checker.runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

type blockingReconciler struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingReconciler) Reconcile(_ context.Context, userID uuid.UUID) (*service.ReconcileResult, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return &service.ReconcileResult{UserID: userID}, nil
}

func TestDepositWorker_StopWaitsForRunningSweep(t *testing.T) {
	rec := &blockingReconciler{entered: make(chan struct{}), release: make(chan struct{})}
	w := NewDepositWorker(staticUsers{ids: []uuid.UUID{uuid.New()}}, rec).WithPollInterval(time.Millisecond)

	stop := w.Run(context.Background())
	select {
	case <-rec.entered:
	case <-time.After(time.Second):
		t.Fatal("sweep never started")
	}

	stopped := make(chan struct{})
	go func() {
		stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("stop returned while a pass was still running")
	case <-time.After(30 * time.Millisecond):
	}

	close(rec.release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("stop did not return after the pass finished")
	}
}

func TestIntegrityWorker_StopBeforeStartSkipsRun(t *testing.T) {
	checker := &countingChecker{}
	w := NewIntegrityWorker(checker)
	w.Stop()
	w.Start(context.Background())
	assert.Equal(t, int32(0), checker.runs.Load())
}
