package ledger

import (
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// NetworkParams maps a configured network name to its chain parameters.
func NetworkParams(network string) (*chaincfg.Params, error) {
	switch strings.ToLower(strings.TrimSpace(network)) {
	case "mainnet", "bitcoin":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unsupported network %q", network)
	}
}

// NewDepositAddress returns a fresh P2WPKH address for the network. Only the
// address is produced; no key material is kept.
func NewDepositAddress(params *chaincfg.Params) (string, error) {
	program := make([]byte, 20)
	if _, err := rand.Read(program); err != nil {
		return "", fmt.Errorf("read random witness program: %w", err)
	}
	addr, err := btcutil.NewAddressWitnessPubKeyHash(program, params)
	if err != nil {
		return "", fmt.Errorf("encode witness address: %w", err)
	}
	return addr.EncodeAddress(), nil
}

// ValidateAddress checks that the address decodes and belongs to the network.
func ValidateAddress(address string, params *chaincfg.Params) error {
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return fmt.Errorf("decode address: %w", err)
	}
	if !addr.IsForNet(params) {
		return fmt.Errorf("address %s is not for %s", address, params.Name)
	}
	return nil
}
