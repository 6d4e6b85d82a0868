package service_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/savingsledger/internal/domain"
	"github.com/punchamoorthee/savingsledger/internal/logging"
	"github.com/punchamoorthee/savingsledger/internal/service"
	"github.com/punchamoorthee/savingsledger/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ledger wires both services over one in-memory store. Reads in assertions
// go to mem directly so they never pass through an injected failure.
type ledger struct {
	mem       *store.MemoryStore
	transfers *service.TransferService
	goals     *service.GoalService
}

var defaultGoals = []domain.NewGoal{{Name: "Emergency Fund", TargetAmount: decimal.NewFromInt(100000)}}

func newLedger(t *testing.T, opts ...service.Option) *ledger {
	t.Helper()
	mem := store.NewMemoryStore(5 * time.Second)
	return newLedgerOver(t, mem, mem, opts...)
}

func newLedgerOver(t *testing.T, mem *store.MemoryStore, st store.Store, opts ...service.Option) *ledger {
	t.Helper()
	logger := logging.NewNoOpLogger()
	opts = append([]service.Option{service.WithRetryBackoff(time.Millisecond)}, opts...)
	transfers := service.NewTransferService(st, logger, opts...)
	return &ledger{
		mem:       mem,
		transfers: transfers,
		goals:     service.NewGoalService(st, transfers, defaultGoals, "NGN", logger),
	}
}

// user is a provisioned account holder with its default goal.
type user struct {
	ID      uuid.UUID
	GoalID  uuid.UUID
	Account string
}

func (l *ledger) newUser(t *testing.T, balance string) user {
	t.Helper()
	ctx := context.Background()
	u := user{ID: uuid.New(), Account: uuid.NewString()}

	_, created, err := l.goals.ProvisionUser(ctx, domain.NewWallet{UserID: u.ID, AccountNumber: u.Account})
	require.NoError(t, err)
	require.True(t, created)

	goals, err := l.goals.ListGoals(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, goals, 1)
	u.GoalID = goals[0].ID

	if amount := dec(balance); amount.IsPositive() {
		_, err := l.transfers.DepositExternal(ctx, domain.DepositEvent{
			AccountNumber: u.Account,
			Reference:     "opening-" + uuid.NewString(),
			Amount:        amount,
		})
		require.NoError(t, err)
	}
	return u
}

func (l *ledger) walletBalance(t *testing.T, userID uuid.UUID) decimal.Decimal {
	t.Helper()
	w, err := l.mem.GetWalletByUser(context.Background(), userID)
	require.NoError(t, err)
	return w.Balance
}

func (l *ledger) goalAmount(t *testing.T, u user, goalID uuid.UUID) decimal.Decimal {
	t.Helper()
	g, err := l.mem.GetGoal(context.Background(), u.ID, goalID)
	require.NoError(t, err)
	return g.Amount
}

func (l *ledger) requireConsistent(t *testing.T, userID uuid.UUID) *domain.AuditReport {
	t.Helper()
	report, err := l.goals.AuditWallet(context.Background(), userID)
	require.NoError(t, err)
	require.True(t, report.Consistent, "audit: %+v", report)
	return report
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

// conflictingStore fails the next n units with a storage conflict after
// their writes were staged, so each failure is a full rollback.
type conflictingStore struct {
	store.Store
	remaining atomic.Int32
	attempts  atomic.Int32
}

func (c *conflictingStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	c.attempts.Add(1)
	return c.Store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if c.remaining.Add(-1) >= 0 {
			return fmt.Errorf("%w: injected", domain.ErrStorageConflict)
		}
		return nil
	})
}

// recordingHook captures events together with the stored wallet balance
// it could see when it ran.
type recordingHook struct {
	mem    *store.MemoryStore
	events chan domain.LedgerEvent
	seen   chan decimal.Decimal
	err    error
}

func newRecordingHook(mem *store.MemoryStore, err error) *recordingHook {
	return &recordingHook{
		mem:    mem,
		events: make(chan domain.LedgerEvent, 64),
		seen:   make(chan decimal.Decimal, 64),
		err:    err,
	}
}

func (h *recordingHook) Name() string { return "recording" }

func (h *recordingHook) AfterCommit(ctx context.Context, event domain.LedgerEvent) error {
	w, err := h.mem.GetWalletByUser(ctx, event.UserID)
	if err == nil {
		h.seen <- w.Balance
	}
	h.events <- event
	return h.err
}
