package domain

import "errors"

// Ledger errors. Validation errors are returned before anything is written.
var (
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrGoalNotFound            = errors.New("savings goal not found")
	ErrWalletNotFound          = errors.New("wallet not found")
	ErrInsufficientWalletFunds = errors.New("insufficient wallet funds")
	ErrInsufficientGoalFunds   = errors.New("insufficient goal funds")
	ErrGoalNotEmpty            = errors.New("savings goal still holds funds")
	ErrInvalidGoal             = errors.New("invalid savings goal")
	ErrInvalidStatus           = errors.New("invalid goal status")
	ErrInvalidTransactionType  = errors.New("invalid transaction type")
	ErrInvalidDeposit          = errors.New("invalid deposit")

	// ErrStorageConflict is a transient serialization, deadlock or lock
	// timeout failure. The engine retries it before surfacing it.
	ErrStorageConflict = errors.New("storage conflict")

	// ErrDuplicateExternalDeposit means the external reference was already
	// applied. It never reaches API callers; the prior result is returned.
	ErrDuplicateExternalDeposit = errors.New("external deposit already applied")

	ErrTransactionNotFound = errors.New("transaction not found")
	ErrWalletExists        = errors.New("wallet already provisioned")
)

// IsValidation reports whether err was raised before any mutation because
// the request itself was unacceptable.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidGoal) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInvalidTransactionType) ||
		errors.Is(err, ErrInvalidDeposit)
}

// ClassifyError returns a short label for metrics.
func ClassifyError(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrGoalNotFound):
		return "goal_not_found"
	case errors.Is(err, ErrWalletNotFound):
		return "wallet_not_found"
	case errors.Is(err, ErrInsufficientWalletFunds):
		return "insufficient_wallet_funds"
	case errors.Is(err, ErrInsufficientGoalFunds):
		return "insufficient_goal_funds"
	case errors.Is(err, ErrGoalNotEmpty):
		return "goal_not_empty"
	case errors.Is(err, ErrInvalidGoal), errors.Is(err, ErrInvalidStatus):
		return "invalid_goal"
	case errors.Is(err, ErrInvalidTransactionType):
		return "invalid_transaction_type"
	case errors.Is(err, ErrInvalidDeposit):
		return "invalid_deposit"
	case errors.Is(err, ErrStorageConflict):
		return "storage_conflict"
	case errors.Is(err, ErrDuplicateExternalDeposit):
		return "duplicate_deposit"
	default:
		return "internal"
	}
}
