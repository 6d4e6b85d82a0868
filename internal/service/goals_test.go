package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/savingsledger/internal/domain"
	"github.com/punchamoorthee/savingsledger/internal/service"
	"github.com/punchamoorthee/savingsledger/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvisionUserIsIdempotent(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	userID := uuid.New()

	first, created, err := l.goals.ProvisionUser(ctx, domain.NewWallet{UserID: userID, Currency: "usd", AccountNumber: "0123456789"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "USD", first.Currency)
	assert.True(t, first.Balance.IsZero())

	second, created, err := l.goals.ProvisionUser(ctx, domain.NewWallet{UserID: userID})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	goals, err := l.goals.ListGoals(ctx, userID)
	require.NoError(t, err)
	require.Len(t, goals, 1)
	assert.Equal(t, "Emergency Fund", goals[0].Name)
	assertDecimal(t, "100000", goals[0].TargetAmount)
	assert.Equal(t, domain.GoalActive, goals[0].Status)

	_, _, err = l.goals.ProvisionUser(ctx, domain.NewWallet{UserID: uuid.New(), AccountNumber: "0123456789"})
	assert.ErrorIs(t, err, domain.ErrWalletExists, "account numbers are unique")
}

func TestCreateGoalWithOpeningAmount(t *testing.T) {
	mem := store.NewMemoryStore(5 * time.Second)
	hook := newRecordingHook(mem, nil)
	l := newLedgerOver(t, mem, mem, service.WithHooks(hook))
	ctx := context.Background()
	u := l.newUser(t, "1000")
	<-hook.events

	goal, err := l.goals.CreateGoal(ctx, u.ID, domain.NewGoal{
		Name:          "  School fees ",
		TargetAmount:  dec("5000"),
		OpeningAmount: dec("400"),
	})
	require.NoError(t, err)
	assert.Equal(t, "School fees", goal.Name)
	assertDecimal(t, "400", goal.Amount)
	assertDecimal(t, "400", l.goalAmount(t, u, goal.ID))
	assertDecimal(t, "600", l.walletBalance(t, u.ID))

	event := <-hook.events
	assert.Equal(t, domain.EventContribution, event.Type)
	require.NotNil(t, event.GoalID)
	assert.Equal(t, goal.ID, *event.GoalID)

	txs, err := l.goals.ListGoalTransactions(ctx, u.ID, goal.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "Opening balance for School fees", txs[0].Description)

	l.requireConsistent(t, u.ID)
}

func TestCreateGoalRejections(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	u := l.newUser(t, "100")

	tests := []struct {
		name    string
		userID  uuid.UUID
		goal    domain.NewGoal
		wantErr error
	}{
		{"blank name", u.ID, domain.NewGoal{Name: " ", TargetAmount: dec("10")}, domain.ErrInvalidGoal},
		{"zero target", u.ID, domain.NewGoal{Name: "x", TargetAmount: dec("0")}, domain.ErrInvalidGoal},
		{"negative opening", u.ID, domain.NewGoal{Name: "x", TargetAmount: dec("10"), OpeningAmount: dec("-1")}, domain.ErrInvalidGoal},
		{"opening above target", u.ID, domain.NewGoal{Name: "x", TargetAmount: dec("10"), OpeningAmount: dec("11")}, domain.ErrInvalidGoal},
		{"target precision", u.ID, domain.NewGoal{Name: "x", TargetAmount: dec("10.001")}, domain.ErrInvalidAmount},
		{"opening above wallet", u.ID, domain.NewGoal{Name: "x", TargetAmount: dec("500"), OpeningAmount: dec("150")}, domain.ErrInsufficientWalletFunds},
		{"no wallet", uuid.New(), domain.NewGoal{Name: "x", TargetAmount: dec("10")}, domain.ErrWalletNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.goals.CreateGoal(ctx, tt.userID, tt.goal)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	goals, err := l.goals.ListGoals(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, goals, 1, "rejected goals are not created")
	assertDecimal(t, "100", l.walletBalance(t, u.ID))
}

func TestDeleteGoal(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	u := l.newUser(t, "100")

	_, err := l.transfers.Contribute(ctx, u.ID, u.GoalID, dec("25"), "")
	require.NoError(t, err)
	require.ErrorIs(t, l.goals.DeleteGoal(ctx, u.ID, u.GoalID), domain.ErrGoalNotEmpty)

	_, err = l.transfers.Withdraw(ctx, u.ID, u.GoalID, dec("25"), "")
	require.NoError(t, err)
	require.NoError(t, l.goals.DeleteGoal(ctx, u.ID, u.GoalID))

	_, err = l.goals.GetGoal(ctx, u.ID, u.GoalID)
	assert.ErrorIs(t, err, domain.ErrGoalNotFound)
	_, err = l.transfers.Contribute(ctx, u.ID, u.GoalID, dec("1"), "")
	assert.ErrorIs(t, err, domain.ErrGoalNotFound)

	report := l.requireConsistent(t, u.ID)
	require.Len(t, report.Goals, 1, "deleted goal logs still replay")
	assert.True(t, report.Goals[0].ReplayedAmount.IsZero())
}

func TestUpdateGoalStatus(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	u := l.newUser(t, "100")

	_, err := l.goals.UpdateGoalStatus(ctx, u.ID, u.GoalID, domain.GoalStatus("frozen"))
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
	_, err = l.goals.UpdateGoalStatus(ctx, uuid.New(), u.GoalID, domain.GoalPaused)
	assert.ErrorIs(t, err, domain.ErrGoalNotFound)

	goal, err := l.goals.UpdateGoalStatus(ctx, u.ID, u.GoalID, domain.GoalPaused)
	require.NoError(t, err)
	assert.Equal(t, domain.GoalPaused, goal.Status)

	_, err = l.transfers.Contribute(ctx, u.ID, u.GoalID, dec("10"), "")
	assert.NoError(t, err, "status does not gate transfers")
}

func TestWalletTransactionsPagination(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	u := l.newUser(t, "100")
	for i := 0; i < 3; i++ {
		_, err := l.transfers.Contribute(ctx, u.ID, u.GoalID, dec("10"), "")
		require.NoError(t, err)
	}

	page, err := l.goals.ListWalletTransactions(ctx, u.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, domain.WalletDebit, page[0].Type)

	rest, err := l.goals.ListWalletTransactions(ctx, u.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, domain.WalletCredit, rest[1].Type, "opening deposit is the oldest row")

	_, err = l.goals.ListGoalTransactions(ctx, uuid.New(), u.GoalID, 10, 0)
	assert.ErrorIs(t, err, domain.ErrGoalNotFound)
}
