package service

import (
	"errors"
	"fmt"
)

var (
	// ErrInvariantViolation marks a state the deposit engine must never reach.
	// The enclosing database transaction is always rolled back.
	ErrInvariantViolation = errors.New("deposit invariant violation")
	ErrAlreadyAggregated  = errors.New("transaction already belongs to a deposit")
)

func requireExactlyOne(rows int64, operation string) error {
	if rows != 1 {
		return fmt.Errorf("%w: %s affected %d rows", ErrInvariantViolation, operation, rows)
	}
	return nil
}

func normalizePage(page, limit, defaultLimit, maxLimit int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit, (page - 1) * limit
}
