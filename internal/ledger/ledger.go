// Package ledger reads payments to deposit addresses from an external,
// eventually consistent blockchain view.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var (
	ErrUnavailable   = errors.New("ledger unavailable")
	ErrInvalidTxID   = errors.New("invalid transaction id")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidDepth  = errors.New("invalid confirmation count")
)

// Observation is one view of a payment to an address. The same TxID may be
// reported again later with a higher confirmation count.
type Observation struct {
	TxID          string
	Amount        btcutil.Amount
	Confirmations int64
}

// Client lists payments to an address. An error means the pass learned
// nothing and must not be interpreted as "no payments".
type Client interface {
	Fetch(ctx context.Context, address string) ([]Observation, error)
}

// Normalized returns the observation with its TxID in canonical lowercase form.
func (o Observation) Normalized() Observation {
	o.TxID = strings.ToLower(strings.TrimSpace(o.TxID))
	return o
}

// Validate rejects observations a well-behaved ledger would never report.
func (o Observation) Validate() error {
	if len(o.TxID) != chainhash.MaxHashStringSize {
		return fmt.Errorf("%w: length %d", ErrInvalidTxID, len(o.TxID))
	}
	if _, err := chainhash.NewHashFromStr(o.TxID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTxID, err)
	}
	if o.Amount <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, int64(o.Amount))
	}
	if o.Confirmations < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidDepth, o.Confirmations)
	}
	return nil
}
