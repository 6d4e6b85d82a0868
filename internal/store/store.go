package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/punchamoorthee/savingsledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Tx is the atomic unit. Every Lock* call holds the row until the unit ends,
// so a balance read through it cannot go stale before the write.
// Callers lock the wallet before any goal.
type Tx interface {
	LockWalletByUser(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	LockWalletByAccountNumber(ctx context.Context, accountNumber string) (*domain.Wallet, error)
	LockGoal(ctx context.Context, userID, goalID uuid.UUID) (*domain.SavingsGoal, error)

	UpdateWalletBalance(ctx context.Context, walletID uuid.UUID, balance decimal.Decimal) error
	UpdateGoalAmount(ctx context.Context, goalID uuid.UUID, amount decimal.Decimal) error

	// Insert* fill in Seq and CreatedAt on the passed row.
	InsertWalletTransaction(ctx context.Context, t *domain.WalletTransaction) error
	InsertGoalTransaction(ctx context.Context, t *domain.SavingsGoalTransaction) error
	FindWalletTransactionByReference(ctx context.Context, reference string) (*domain.WalletTransaction, error)

	InsertWallet(ctx context.Context, w *domain.Wallet) error
	InsertGoal(ctx context.Context, g *domain.SavingsGoal) error
}

// Page selects a window of a log. A zero Limit returns everything.
type Page struct {
	Limit  int
	Offset int
	Desc   bool
}

// Store is the ledger store.
type Store interface {
	// WithinTx runs fn in one atomic unit. Any error from fn rolls back every
	// write made through tx. Driver conflicts come back as domain.ErrStorageConflict.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetWalletByUser(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	GetGoal(ctx context.Context, userID, goalID uuid.UUID) (*domain.SavingsGoal, error)
	ListGoals(ctx context.Context, userID uuid.UUID) ([]domain.SavingsGoal, error)
	ListWalletTransactions(ctx context.Context, walletID uuid.UUID, page Page) ([]domain.WalletTransaction, error)
	ListGoalTransactions(ctx context.Context, goalID uuid.UUID, page Page) ([]domain.SavingsGoalTransaction, error)
	// ListUserGoalTransactions returns every goal log row of the user, deleted
	// goals included, oldest first.
	ListUserGoalTransactions(ctx context.Context, userID uuid.UUID) ([]domain.SavingsGoalTransaction, error)
	FindWalletTransactionByReference(ctx context.Context, reference string) (*domain.WalletTransaction, error)

	// DeleteGoal removes the goal only if its amount is zero.
	DeleteGoal(ctx context.Context, userID, goalID uuid.UUID) error
	UpdateGoalStatus(ctx context.Context, userID, goalID uuid.UUID, status domain.GoalStatus) (*domain.SavingsGoal, error)

	Ping(ctx context.Context) error
	Close()
}
