package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret-0123456789-test-secret")
	t.Setenv("WEBHOOK_HMAC_KEY", "hook-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, int64(15_000_000), cfg.Deposit.MinDepositMicros)
	require.Equal(t, int64(2), cfg.Deposit.ConfirmationThreshold)
	require.Equal(t, OvershootAbsorb, cfg.Deposit.OvershootPolicy)
	require.Equal(t, int64(1_000), cfg.CaptchaPriceMicros)
	require.Equal(t, "testnet", cfg.Ledger.Network)
	require.Equal(t, "45000", cfg.Price.FallbackBTCUSD.String())
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MIN_DEPOSIT", "20.5")
	t.Setenv("CAPTCHA_CONFIRMATION_THRESHOLD", "6")
	t.Setenv("BITCOIN_NETWORK", "mainnet")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, int64(20_500_000), cfg.Deposit.MinDepositMicros)
	require.Equal(t, int64(6), cfg.Deposit.ConfirmationThreshold)
	require.Equal(t, "mainnet", cfg.Ledger.Network)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  string
	}{
		{name: "short_jwt_secret", key: "JWT_SECRET", val: "short"},
		{name: "unknown_overshoot_policy", key: "DEPOSIT_OVERSHOOT_POLICY", val: "carry_forward"},
		{name: "zero_threshold", key: "CONFIRMATION_THRESHOLD", val: "0"},
		{name: "unknown_network", key: "BITCOIN_NETWORK", val: "signet"},
		{name: "bad_duration", key: "LEDGER_TIMEOUT", val: "soon"},
		{name: "bad_min_deposit", key: "MIN_DEPOSIT", val: "fifteen"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tc.key, tc.val)
			_, err := Load()
			require.Error(t, err)
		})
	}
}
