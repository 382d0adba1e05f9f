package domain

const (
	// Transaction lifecycle as observed on the ledger.
	TxStatusPending   = "pending"
	TxStatusConfirmed = "confirmed"
	TxStatusCredited  = "credited"

	// Deposit bucket lifecycle.
	DepositStatusPending  = "pending"
	DepositStatusPartial  = "partial"
	DepositStatusCredited = "credited"

	// CAPTCHA solve lifecycle.
	SolveStatusPending = "pending"
	SolveStatusSuccess = "success"
	SolveStatusFailed  = "failed"

	RoleUser  = "user"
	RoleAdmin = "admin"

	// AccountCurrency is the currency balances and deposit thresholds are held in.
	AccountCurrency = "USD"
	NativeCurrency  = "BTC"
)
