package service_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/punchamoorthee/savingsledger/internal/domain"
	"github.com/punchamoorthee/savingsledger/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type auditFixture struct {
	wallet    *domain.Wallet
	goal      domain.SavingsGoal
	walletTxs []domain.WalletTransaction
	goalTxs   []domain.SavingsGoalTransaction
}

// newAuditFixture is a wallet funded with 100 that moved 50 into one goal.
func newAuditFixture() *auditFixture {
	walletID, goalID, transferID := uuid.New(), uuid.New(), uuid.New()
	return &auditFixture{
		wallet: &domain.Wallet{ID: walletID, Balance: dec("50")},
		goal:   domain.SavingsGoal{ID: goalID, Amount: dec("50")},
		walletTxs: []domain.WalletTransaction{
			{ID: uuid.New(), WalletID: walletID, Type: domain.WalletCredit, Amount: dec("100")},
			{ID: uuid.New(), WalletID: walletID, TransferID: &transferID, Type: domain.WalletDebit, Amount: dec("50")},
		},
		goalTxs: []domain.SavingsGoalTransaction{
			{ID: uuid.New(), GoalID: goalID, TransferID: transferID, Type: domain.GoalContribution, Amount: dec("50"), GoalCurrentAmount: dec("50")},
		},
	}
}

func (f *auditFixture) replay() *domain.AuditReport {
	return service.Replay(f.wallet, []domain.SavingsGoal{f.goal}, f.walletTxs, f.goalTxs)
}

func TestReplayConsistentLedger(t *testing.T) {
	report := newAuditFixture().replay()
	assert.True(t, report.Consistent)
	assertDecimal(t, "50", report.ReplayedBalance)
	require.Len(t, report.Goals, 1)
	assertDecimal(t, "50", report.Goals[0].ReplayedAmount)
	assert.Empty(t, report.UnpairedWalletEntries)
}

func TestReplayDetectsDivergence(t *testing.T) {
	t.Run("stored balance drifted", func(t *testing.T) {
		f := newAuditFixture()
		f.wallet.Balance = dec("55")
		report := f.replay()
		assert.False(t, report.Consistent)
		assertDecimal(t, "50", report.ReplayedBalance)
	})

	t.Run("snapshot does not match running sum", func(t *testing.T) {
		f := newAuditFixture()
		f.goalTxs[0].GoalCurrentAmount = dec("40")
		report := f.replay()
		assert.False(t, report.Consistent)
		assert.Equal(t, []uuid.UUID{f.goalTxs[0].ID}, report.Goals[0].SnapshotMismatch)
	})

	t.Run("goal leg without wallet leg", func(t *testing.T) {
		f := newAuditFixture()
		f.walletTxs[1].TransferID = nil
		report := f.replay()
		assert.False(t, report.Consistent)
		assert.Equal(t, []uuid.UUID{f.goalTxs[0].ID}, report.Goals[0].UnpairedEntries)
	})

	t.Run("legs with mismatched direction", func(t *testing.T) {
		f := newAuditFixture()
		f.walletTxs[1].Type = domain.WalletCredit
		f.wallet.Balance = dec("150")
		report := f.replay()
		assert.False(t, report.Consistent)
		assert.Len(t, report.Goals[0].UnpairedEntries, 1)
		assert.Len(t, report.UnpairedWalletEntries, 1)
	})

	t.Run("wallet leg without goal leg", func(t *testing.T) {
		f := newAuditFixture()
		orphan := uuid.New()
		f.walletTxs = append(f.walletTxs, domain.WalletTransaction{
			ID: uuid.New(), WalletID: f.wallet.ID, TransferID: &orphan, Type: domain.WalletDebit, Amount: dec("10"),
		})
		f.wallet.Balance = dec("40")
		report := f.replay()
		assert.False(t, report.Consistent)
		assert.Equal(t, []uuid.UUID{f.walletTxs[2].ID}, report.UnpairedWalletEntries)
	})

	t.Run("stored goal amount drifted", func(t *testing.T) {
		f := newAuditFixture()
		f.goal.Amount = decimal.NewFromInt(49)
		assert.False(t, f.replay().Consistent)
	})
}
