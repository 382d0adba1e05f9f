package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/captcha-solver-api/internal/observability"
	"github.com/ayo6706/captcha-solver-api/internal/repository"
	"go.uber.org/zap"
)

// IntegrityReport counts violations found by one integrity run.
type IntegrityReport struct {
	DepositTotalMismatches     int   `json:"deposit_total_mismatches"`
	BalanceMismatches          int   `json:"balance_mismatches"`
	OrphanCreditedTransactions int64 `json:"orphan_credited_transactions"`
}

func (r IntegrityReport) Clean() bool {
	return r.DepositTotalMismatches == 0 && r.BalanceMismatches == 0 && r.OrphanCreditedTransactions == 0
}

// IntegrityService verifies the deposit and balance invariants across all users.
// It only reads; findings are logged and exported as gauges.
type IntegrityService struct {
	store QueryStore
}

func NewIntegrityService(store QueryStore) *IntegrityService {
	return &IntegrityService{store: store}
}

// Run checks that every deposit total equals the sum of its members, that
// every credited transaction sits in a credited deposit, and that every
// balance equals credited deposits minus charged solves.
func (s *IntegrityService) Run(ctx context.Context) (IntegrityReport, error) {
	queries := s.store.Queries()
	var report IntegrityReport

	totals, err := queries.ListDepositTotalMismatches(ctx)
	if err != nil {
		return report, fmt.Errorf("check deposit totals: %w", err)
	}
	report.DepositTotalMismatches = len(totals)
	for _, row := range totals {
		zap.L().Error("CRITICAL: deposit total does not match its transactions",
			zap.String("deposit_id", repository.FromPgUUID(row.ID).String()),
			zap.String("user_id", repository.FromPgUUID(row.UserID).String()),
			zap.Int64("total_micros", row.TotalMicros),
			zap.Int64("member_micros", row.MemberMicros),
		)
	}

	orphans, err := queries.CountCreditedOutsideCreditedDeposit(ctx)
	if err != nil {
		return report, fmt.Errorf("check credited transactions: %w", err)
	}
	report.OrphanCreditedTransactions = orphans
	if orphans > 0 {
		zap.L().Error("CRITICAL: credited transactions outside a credited deposit", zap.Int64("count", orphans))
	}

	balances, err := queries.ListBalanceMismatches(ctx)
	if err != nil {
		return report, fmt.Errorf("check balances: %w", err)
	}
	report.BalanceMismatches = len(balances)
	for _, row := range balances {
		zap.L().Error("CRITICAL: balance does not match credited deposits minus spend",
			zap.String("user_id", repository.FromPgUUID(row.UserID).String()),
			zap.Int64("amount_micros", row.AmountMicros),
			zap.Int64("expected_micros", row.ExpectedMicros),
		)
	}

	observability.SetIntegrityFindings("deposit_totals", report.DepositTotalMismatches)
	observability.SetIntegrityFindings("orphan_credited", int(report.OrphanCreditedTransactions))
	observability.SetIntegrityFindings("balances", report.BalanceMismatches)

	if report.Clean() {
		zap.L().Info("Deposit ledger consistent")
	}
	return report, nil
}
