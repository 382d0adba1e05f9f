package service

import (
	"fmt"
	"strings"

	"github.com/ayo6706/captcha-solver-api/internal/domain"
)

var transactionTransitions = map[string]map[string]struct{}{
	domain.TxStatusPending: {
		domain.TxStatusConfirmed: {},
	},
	domain.TxStatusConfirmed: {
		domain.TxStatusCredited: {},
	},
	domain.TxStatusCredited: {},
}

var depositTransitions = map[string]map[string]struct{}{
	domain.DepositStatusPending: {
		domain.DepositStatusPartial:  {},
		domain.DepositStatusCredited: {},
	},
	domain.DepositStatusPartial: {
		domain.DepositStatusCredited: {},
	},
	domain.DepositStatusCredited: {},
}

func normalizeState(state string) string {
	return strings.ToLower(strings.TrimSpace(state))
}

func canTransition(table map[string]map[string]struct{}, current, next string) bool {
	current = normalizeState(current)
	next = normalizeState(next)
	nextStates, ok := table[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

// checkTransition allows staying in place and any edge in table.
func checkTransition(table map[string]map[string]struct{}, entity, current, next string) error {
	if normalizeState(current) == normalizeState(next) {
		return nil
	}
	if !canTransition(table, current, next) {
		return fmt.Errorf("%w: invalid %s state transition %s -> %s", ErrInvariantViolation, entity, current, next)
	}
	return nil
}
