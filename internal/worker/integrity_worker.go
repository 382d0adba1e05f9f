package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/captcha-solver-api/internal/observability"
	"github.com/ayo6706/captcha-solver-api/internal/service"
	"go.uber.org/zap"
)

type IntegrityChecker interface {
	Run(ctx context.Context) (service.IntegrityReport, error)
}

// IntegrityWorker periodically cross-checks deposits, transactions and balances.
type IntegrityWorker struct {
	checker  IntegrityChecker
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	running  sync.WaitGroup
}

// NewIntegrityWorker constructs a worker with a default hourly interval.
func NewIntegrityWorker(checker IntegrityChecker) *IntegrityWorker {
	return &IntegrityWorker{
		checker:  checker,
		interval: time.Hour,
		stopCh:   make(chan struct{}),
	}
}

// WithInterval updates the run interval.
func (w *IntegrityWorker) WithInterval(interval time.Duration) *IntegrityWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start blocks and runs the checks at the configured interval.
func (w *IntegrityWorker) Start(ctx context.Context) {
	w.running.Add(1)
	defer w.running.Done()
	w.loop(ctx)
}

func (w *IntegrityWorker) loop(ctx context.Context) {
	zap.L().Info("integrity worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately at startup.
	select {
	case <-w.stopCh:
		return
	default:
		w.runOnce(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("integrity worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("integrity worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop ends the loop and waits for a running check to finish.
func (w *IntegrityWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	w.running.Wait()
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *IntegrityWorker) Run(ctx context.Context) func() {
	w.running.Add(1)
	go func() {
		defer w.running.Done()
		w.loop(ctx)
	}()
	return w.Stop
}

func (w *IntegrityWorker) runOnce(ctx context.Context) {
	report, err := w.checker.Run(ctx)
	if err != nil {
		observability.IncrementWorkerRun("integrity", "failed")
		zap.L().Error("integrity run failed", zap.Error(err))
		return
	}
	result := "success"
	if !report.Clean() {
		result = "findings"
	}
	observability.IncrementWorkerRun("integrity", result)
}
