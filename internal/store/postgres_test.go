package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/savingsledger/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestPostgres connects to LEDGER_TEST_DATABASE_URL and skips without it.
func newTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("LEDGER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("LEDGER_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, dsn, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestPostgres_TransferUnit(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()

	w := &domain.Wallet{ID: uuid.New(), UserID: uuid.New(), Balance: decimal.Zero, Currency: "NGN", AccountNumber: uuid.NewString()[:20]}
	g := &domain.SavingsGoal{
		ID: uuid.New(), UserID: w.UserID, Name: "Emergency Fund",
		Amount: decimal.Zero, TargetAmount: decimal.NewFromInt(1000), Status: domain.GoalActive,
		InterestRate: decimal.Zero, AccruedInterest: decimal.Zero,
	}
	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertWallet(ctx, w); err != nil {
			return err
		}
		return tx.InsertGoal(ctx, g)
	}))

	ref := "pg-" + uuid.NewString()
	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.LockWalletByAccountNumber(ctx, w.AccountNumber)
		if err != nil {
			return err
		}
		if err := tx.UpdateWalletBalance(ctx, locked.ID, decimal.NewFromInt(100)); err != nil {
			return err
		}
		return tx.InsertWalletTransaction(ctx, &domain.WalletTransaction{
			ID: uuid.New(), WalletID: locked.ID, Type: domain.WalletCredit,
			Amount: decimal.NewFromInt(100), Description: "Wallet deposit", ExternalReference: &ref,
		})
	}))

	transferID := uuid.New()
	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.LockWalletByUser(ctx, w.UserID)
		if err != nil {
			return err
		}
		goal, err := tx.LockGoal(ctx, w.UserID, g.ID)
		if err != nil {
			return err
		}
		amount := decimal.RequireFromString("40.25")
		if err := tx.UpdateWalletBalance(ctx, locked.ID, locked.Balance.Sub(amount)); err != nil {
			return err
		}
		if err := tx.UpdateGoalAmount(ctx, goal.ID, goal.Amount.Add(amount)); err != nil {
			return err
		}
		if err := tx.InsertWalletTransaction(ctx, &domain.WalletTransaction{
			ID: uuid.New(), WalletID: locked.ID, TransferID: &transferID, Type: domain.WalletDebit, Amount: amount,
		}); err != nil {
			return err
		}
		return tx.InsertGoalTransaction(ctx, &domain.SavingsGoalTransaction{
			ID: uuid.New(), GoalID: goal.ID, TransferID: transferID, Type: domain.GoalContribution,
			Amount: amount, GoalCurrentAmount: goal.Amount.Add(amount),
		})
	}))

	got, err := s.GetWalletByUser(ctx, w.UserID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("59.75")), got.Balance.String())

	walletTxs, err := s.ListWalletTransactions(ctx, w.ID, Page{Desc: true})
	require.NoError(t, err)
	require.Len(t, walletTxs, 2)
	assert.Equal(t, domain.WalletDebit, walletTxs[0].Type)
	require.NotNil(t, walletTxs[0].TransferID)
	assert.Equal(t, transferID, *walletTxs[0].TransferID)

	goalTxs, err := s.ListUserGoalTransactions(ctx, w.UserID)
	require.NoError(t, err)
	require.Len(t, goalTxs, 1)
	assert.True(t, goalTxs[0].GoalCurrentAmount.Equal(decimal.RequireFromString("40.25")))

	err = s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.LockWalletByUser(ctx, w.UserID)
		if err != nil {
			return err
		}
		if err := tx.UpdateWalletBalance(ctx, locked.ID, locked.Balance.Add(decimal.NewFromInt(1))); err != nil {
			return err
		}
		dup := ref
		return tx.InsertWalletTransaction(ctx, &domain.WalletTransaction{
			ID: uuid.New(), WalletID: locked.ID, Type: domain.WalletCredit,
			Amount: decimal.NewFromInt(1), ExternalReference: &dup,
		})
	})
	require.ErrorIs(t, err, domain.ErrDuplicateExternalDeposit)

	got, err = s.GetWalletByUser(ctx, w.UserID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("59.75")), "rejected unit rolled back")

	assert.ErrorIs(t, s.DeleteGoal(ctx, w.UserID, g.ID), domain.ErrGoalNotEmpty)
}

func TestPostgres_LockTimeoutIsConflict(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()

	w := &domain.Wallet{ID: uuid.New(), UserID: uuid.New(), Balance: decimal.Zero, Currency: "NGN", AccountNumber: uuid.NewString()[:20]}
	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertWallet(ctx, w)
	}))

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			if _, err := tx.LockWalletByUser(ctx, w.UserID); err != nil {
				return err
			}
			close(held)
			<-done
			return errors.New("rollback")
		})
	}()
	<-held

	err := s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.LockWalletByUser(ctx, w.UserID)
		return err
	})
	close(done)
	assert.ErrorIs(t, err, domain.ErrStorageConflict)
}
