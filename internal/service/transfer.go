package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/savingsledger/internal/domain"
	"github.com/punchamoorthee/savingsledger/internal/logging"
	"github.com/punchamoorthee/savingsledger/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultRetryBackoff = 20 * time.Millisecond

// TransferService moves funds between a wallet and its goals and applies
// external deposits. Every operation is one atomic unit of the store.
type TransferService struct {
	store      store.Store
	hooks      []Hook
	logger     *logging.Logger
	maxRetries int
	backoff    time.Duration
}

type Option func(*TransferService)

// WithHooks registers post-commit hooks. They run in the order given.
func WithHooks(hooks ...Hook) Option {
	return func(s *TransferService) { s.hooks = append(s.hooks, hooks...) }
}

// WithMaxRetries bounds how many times a unit is attempted on storage conflicts.
func WithMaxRetries(n int) Option {
	return func(s *TransferService) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithRetryBackoff sets the base delay between attempts. Attempt n waits n*d.
func WithRetryBackoff(d time.Duration) Option {
	return func(s *TransferService) { s.backoff = d }
}

func NewTransferService(st store.Store, logger *logging.Logger, opts ...Option) *TransferService {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	s := &TransferService{
		store:      st,
		logger:     logger.Named("transfer"),
		maxRetries: 3,
		backoff:    defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Contribute moves amount from the user's wallet into the goal.
func (s *TransferService) Contribute(ctx context.Context, userID, goalID uuid.UUID, amount decimal.Decimal, description string) (*domain.TransferResult, error) {
	return s.transfer(ctx, userID, goalID, amount, description, domain.GoalContribution)
}

// Withdraw moves amount from the goal back into the user's wallet.
func (s *TransferService) Withdraw(ctx context.Context, userID, goalID uuid.UUID, amount decimal.Decimal, description string) (*domain.TransferResult, error) {
	return s.transfer(ctx, userID, goalID, amount, description, domain.GoalWithdrawal)
}

// Execute dispatches on the goal transaction type.
func (s *TransferService) Execute(ctx context.Context, userID, goalID uuid.UUID, kind domain.GoalTxType, amount decimal.Decimal, description string) (*domain.TransferResult, error) {
	switch kind {
	case domain.GoalContribution:
		return s.Contribute(ctx, userID, goalID, amount, description)
	case domain.GoalWithdrawal:
		return s.Withdraw(ctx, userID, goalID, amount, description)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidTransactionType, kind)
	}
}

func (s *TransferService) transfer(ctx context.Context, userID, goalID uuid.UUID, amount decimal.Decimal, description string, kind domain.GoalTxType) (*domain.TransferResult, error) {
	start := time.Now()
	op := string(kind)

	var (
		result *domain.TransferResult
		wallet *domain.Wallet
	)
	err := requirePositive(amount)
	if err == nil {
		err = s.runInTx(ctx, op, func(ctx context.Context, tx store.Tx) error {
			w, err := tx.LockWalletByUser(ctx, userID)
			if err != nil {
				return err
			}
			if err := domain.ValidateAmount(amount, w.Currency); err != nil {
				return err
			}
			goal, err := tx.LockGoal(ctx, userID, goalID)
			if err != nil {
				return err
			}
			r, err := applyTransfer(ctx, tx, w, goal, amount, description, kind)
			if err != nil {
				return err
			}
			result, wallet = r, w
			return nil
		})
	}
	observe(op, start, err)

	log := s.logger.With(
		zap.String("operation", op),
		zap.Stringer("user_id", userID),
		zap.Stringer("goal_id", goalID),
		zap.String("amount", amount.String()),
	)
	if err != nil {
		if domain.IsValidation(err) || errors.Is(err, domain.ErrInsufficientWalletFunds) || errors.Is(err, domain.ErrInsufficientGoalFunds) {
			log.Info("transfer rejected", zap.Error(err))
		} else {
			log.Error("transfer failed", zap.Error(err))
		}
		return nil, err
	}
	log.Info("transfer committed", zap.Stringer("transfer_id", result.TransferID))

	s.notify(ctx, transferEvent(wallet, result, kind))
	return result, nil
}

// applyTransfer checks the balances held under lock and writes the four
// effects of a goal transfer. Nothing is written when a check fails.
func applyTransfer(ctx context.Context, tx store.Tx, wallet *domain.Wallet, goal *domain.SavingsGoal, amount decimal.Decimal, description string, kind domain.GoalTxType) (*domain.TransferResult, error) {
	walletBalance, goalAmount := wallet.Balance, goal.Amount

	var walletType domain.WalletTxType
	switch kind {
	case domain.GoalContribution:
		if walletBalance.LessThan(amount) {
			return nil, fmt.Errorf("%w: balance %s, requested %s", domain.ErrInsufficientWalletFunds, walletBalance, amount)
		}
		walletBalance = walletBalance.Sub(amount)
		goalAmount = goalAmount.Add(amount)
		walletType = domain.WalletDebit
	case domain.GoalWithdrawal:
		if goalAmount.LessThan(amount) {
			return nil, fmt.Errorf("%w: goal holds %s, requested %s", domain.ErrInsufficientGoalFunds, goalAmount, amount)
		}
		goalAmount = goalAmount.Sub(amount)
		walletBalance = walletBalance.Add(amount)
		walletType = domain.WalletCredit
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidTransactionType, kind)
	}

	if !walletBalance.LessThan(domain.MaxAmount) || !goalAmount.LessThan(domain.MaxAmount) {
		return nil, fmt.Errorf("%w: resulting balance exceeds the ledger limit", domain.ErrInvalidAmount)
	}

	if description == "" {
		description = defaultDescription(kind, goal.Name)
	}
	transferID := uuid.New()

	if err := tx.UpdateWalletBalance(ctx, wallet.ID, walletBalance); err != nil {
		return nil, err
	}
	if err := tx.UpdateGoalAmount(ctx, goal.ID, goalAmount); err != nil {
		return nil, err
	}

	wt := &domain.WalletTransaction{
		ID:          uuid.New(),
		WalletID:    wallet.ID,
		TransferID:  &transferID,
		Type:        walletType,
		Amount:      amount,
		Description: description,
	}
	if err := tx.InsertWalletTransaction(ctx, wt); err != nil {
		return nil, err
	}
	gt := &domain.SavingsGoalTransaction{
		ID:                uuid.New(),
		GoalID:            goal.ID,
		TransferID:        transferID,
		Type:              kind,
		Amount:            amount,
		Description:       description,
		GoalCurrentAmount: goalAmount,
	}
	if err := tx.InsertGoalTransaction(ctx, gt); err != nil {
		return nil, err
	}

	return &domain.TransferResult{
		TransferID:        transferID,
		WalletBalance:     walletBalance,
		GoalAmount:        goalAmount,
		WalletTransaction: *wt,
		GoalTransaction:   *gt,
	}, nil
}

// DepositExternal credits a verified provider deposit exactly once per
// reference. A reference that was already applied returns the earlier
// transaction with Duplicate set and changes nothing.
func (s *TransferService) DepositExternal(ctx context.Context, event domain.DepositEvent) (*domain.DepositResult, error) {
	start := time.Now()
	log := s.logger.With(
		zap.String("operation", "deposit"),
		zap.String("reference", event.Reference),
		zap.String("account_number", event.AccountNumber),
	)

	if event.Reference == "" || event.AccountNumber == "" {
		err := fmt.Errorf("%w: account number and reference are required", domain.ErrInvalidDeposit)
		observe("deposit", start, err)
		return nil, err
	}
	if err := requirePositive(event.Amount); err != nil {
		observe("deposit", start, err)
		return nil, err
	}

	var (
		result *domain.DepositResult
		wallet *domain.Wallet
	)
	apply := func(ctx context.Context, tx store.Tx) error {
		w, err := tx.LockWalletByAccountNumber(ctx, event.AccountNumber)
		if err != nil {
			return err
		}
		prior, err := tx.FindWalletTransactionByReference(ctx, event.Reference)
		switch {
		case err == nil:
			result, wallet = &domain.DepositResult{Transaction: *prior, WalletBalance: w.Balance, Duplicate: true}, w
			return nil
		case !errors.Is(err, domain.ErrTransactionNotFound):
			return err
		}
		if err := domain.ValidateAmount(event.Amount, w.Currency); err != nil {
			return err
		}

		balance := w.Balance.Add(event.Amount)
		if !balance.LessThan(domain.MaxAmount) {
			return fmt.Errorf("%w: resulting balance exceeds the ledger limit", domain.ErrInvalidAmount)
		}
		if err := tx.UpdateWalletBalance(ctx, w.ID, balance); err != nil {
			return err
		}
		reference := event.Reference
		wt := &domain.WalletTransaction{
			ID:                uuid.New(),
			WalletID:          w.ID,
			Type:              domain.WalletCredit,
			Amount:            event.Amount,
			Description:       depositDescription(event),
			SenderName:        optional(event.SenderName),
			SenderBank:        optional(event.SenderBank),
			ExternalReference: &reference,
		}
		if err := tx.InsertWalletTransaction(ctx, wt); err != nil {
			return err
		}
		result, wallet = &domain.DepositResult{Transaction: *wt, WalletBalance: balance}, w
		return nil
	}

	err := s.runInTx(ctx, "deposit", apply)
	if errors.Is(err, domain.ErrDuplicateExternalDeposit) {
		// Another unit committed the same reference first. Running again
		// finds that row and reports it as the prior result.
		log.Info("deposit reference raced, re-reading prior result")
		err = s.runInTx(ctx, "deposit", apply)
	}
	if err == nil && result.Duplicate {
		duplicateDepositsTotal.Inc()
	}
	observe("deposit", start, err)

	if err != nil {
		log.Error("deposit failed", zap.Error(err))
		return nil, err
	}
	if result.Duplicate {
		log.Info("duplicate deposit ignored", zap.Stringer("transaction_id", result.Transaction.ID))
		return result, nil
	}
	log.Info("deposit committed",
		zap.Stringer("transaction_id", result.Transaction.ID),
		zap.String("amount", event.Amount.String()),
	)

	s.notify(ctx, domain.LedgerEvent{
		ID:            result.Transaction.ID,
		Type:          domain.EventDeposit,
		UserID:        wallet.UserID,
		WalletID:      wallet.ID,
		Reference:     event.Reference,
		Amount:        event.Amount,
		Currency:      wallet.Currency,
		WalletBalance: result.WalletBalance,
		OccurredAt:    result.Transaction.CreatedAt,
	})
	return result, nil
}

// runInTx runs fn as one atomic unit, retrying storage conflicts.
func (s *TransferService) runInTx(ctx context.Context, op string, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.retry(ctx, op, func() error {
		return s.store.WithinTx(ctx, fn)
	})
}

// retry repeats fn while it fails with a storage conflict, up to maxRetries
// attempts in total. Each failed attempt has already rolled back.
func (s *TransferService) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err = fn()
		if !errors.Is(err, domain.ErrStorageConflict) {
			return err
		}
		if attempt == s.maxRetries {
			break
		}
		ledgerConflictRetries.WithLabelValues(op).Inc()
		s.logger.Warn("storage conflict, retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-time.After(s.backoff * time.Duration(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func transferEvent(wallet *domain.Wallet, r *domain.TransferResult, kind domain.GoalTxType) domain.LedgerEvent {
	eventType := domain.EventContribution
	if kind == domain.GoalWithdrawal {
		eventType = domain.EventWithdrawal
	}
	goalID, transferID, goalAmount := r.GoalTransaction.GoalID, r.TransferID, r.GoalAmount
	return domain.LedgerEvent{
		ID:            r.GoalTransaction.ID,
		Type:          eventType,
		UserID:        wallet.UserID,
		WalletID:      wallet.ID,
		GoalID:        &goalID,
		TransferID:    &transferID,
		Amount:        r.GoalTransaction.Amount,
		Currency:      wallet.Currency,
		WalletBalance: r.WalletBalance,
		GoalAmount:    &goalAmount,
		OccurredAt:    r.GoalTransaction.CreatedAt,
	}
}

func requirePositive(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than zero", domain.ErrInvalidAmount)
	}
	return nil
}

func defaultDescription(kind domain.GoalTxType, goalName string) string {
	if kind == domain.GoalWithdrawal {
		return fmt.Sprintf("Withdrawal from %s", goalName)
	}
	return fmt.Sprintf("Contribution to %s", goalName)
}

func depositDescription(event domain.DepositEvent) string {
	if event.SenderName != "" {
		return fmt.Sprintf("Deposit from %s", event.SenderName)
	}
	return "Wallet deposit"
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
