package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/savingsledger/internal/domain"
	"github.com/punchamoorthee/savingsledger/internal/logging"
	"github.com/punchamoorthee/savingsledger/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// GoalService owns wallet provisioning and the goal lifecycle. Funding a
// new goal goes through the same transfer path as a contribution.
type GoalService struct {
	store           store.Store
	transfers       *TransferService
	defaultGoals    []domain.NewGoal
	defaultCurrency string
	logger          *logging.Logger
}

func NewGoalService(st store.Store, transfers *TransferService, defaultGoals []domain.NewGoal, defaultCurrency string, logger *logging.Logger) *GoalService {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if defaultCurrency == "" {
		defaultCurrency = domain.DefaultCurrency
	}
	return &GoalService{
		store:           st,
		transfers:       transfers,
		defaultGoals:    defaultGoals,
		defaultCurrency: strings.ToUpper(defaultCurrency),
		logger:          logger.Named("goals"),
	}
}

// ProvisionUser creates the wallet and default goals of a new user in one
// unit. For a user that already has a wallet it returns that wallet and
// created is false.
func (s *GoalService) ProvisionUser(ctx context.Context, nw domain.NewWallet) (wallet *domain.Wallet, created bool, err error) {
	start := time.Now()
	defer func() { observe("provision", start, err) }()

	if existing, err := s.store.GetWalletByUser(ctx, nw.UserID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, domain.ErrWalletNotFound) {
		return nil, false, err
	}

	currency := strings.ToUpper(nw.Currency)
	if currency == "" {
		currency = s.defaultCurrency
	}
	w := &domain.Wallet{
		ID:            uuid.New(),
		UserID:        nw.UserID,
		Balance:       decimal.Zero,
		Currency:      currency,
		BankName:      nw.BankName,
		BankCode:      nw.BankCode,
		AccountNumber: nw.AccountNumber,
	}

	err = s.transfers.runInTx(ctx, "provision", func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertWallet(ctx, w); err != nil {
			return err
		}
		for _, tmpl := range s.defaultGoals {
			g := newGoal(nw.UserID, tmpl.Name, tmpl.TargetAmount)
			if err := tx.InsertGoal(ctx, g); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, domain.ErrWalletExists) {
		existing, getErr := s.store.GetWalletByUser(ctx, nw.UserID)
		if getErr == nil {
			return existing, false, nil
		}
		// The conflict was on the account number, not the user.
		return nil, false, err
	}
	if err != nil {
		return nil, false, err
	}

	s.logger.Info("user provisioned",
		zap.Stringer("user_id", nw.UserID),
		zap.Stringer("wallet_id", w.ID),
		zap.Int("default_goals", len(s.defaultGoals)),
	)
	return w, true, nil
}

// CreateGoal validates 0 <= opening <= target. A non-zero opening amount is
// taken from the wallet as a contribution in the same unit.
func (s *GoalService) CreateGoal(ctx context.Context, userID uuid.UUID, ng domain.NewGoal) (*domain.SavingsGoal, error) {
	start := time.Now()
	name := strings.TrimSpace(ng.Name)

	var err error
	switch {
	case name == "":
		err = fmt.Errorf("%w: name is required", domain.ErrInvalidGoal)
	case !ng.TargetAmount.IsPositive():
		err = fmt.Errorf("%w: target amount must be greater than zero", domain.ErrInvalidGoal)
	case ng.OpeningAmount.IsNegative():
		err = fmt.Errorf("%w: amount cannot be negative", domain.ErrInvalidGoal)
	case ng.OpeningAmount.GreaterThan(ng.TargetAmount):
		err = fmt.Errorf("%w: amount %s exceeds target %s", domain.ErrInvalidGoal, ng.OpeningAmount, ng.TargetAmount)
	}
	if err != nil {
		observe("create_goal", start, err)
		return nil, err
	}

	var (
		goal    *domain.SavingsGoal
		wallet  *domain.Wallet
		funding *domain.TransferResult
	)
	err = s.transfers.runInTx(ctx, "create_goal", func(ctx context.Context, tx store.Tx) error {
		w, err := tx.LockWalletByUser(ctx, userID)
		if err != nil {
			return err
		}
		if err := domain.ValidateAmount(ng.TargetAmount, w.Currency); err != nil {
			return err
		}
		g := newGoal(userID, name, ng.TargetAmount)
		if err := tx.InsertGoal(ctx, g); err != nil {
			return err
		}

		var r *domain.TransferResult
		if ng.OpeningAmount.IsPositive() {
			if err := domain.ValidateAmount(ng.OpeningAmount, w.Currency); err != nil {
				return err
			}
			r, err = applyTransfer(ctx, tx, w, g, ng.OpeningAmount, "Opening balance for "+name, domain.GoalContribution)
			if err != nil {
				return err
			}
			g.Amount = r.GoalAmount
		}
		goal, wallet, funding = g, w, r
		return nil
	})
	observe("create_goal", start, err)
	if err != nil {
		return nil, err
	}

	s.logger.Info("goal created",
		zap.Stringer("user_id", userID),
		zap.Stringer("goal_id", goal.ID),
		zap.String("target_amount", goal.TargetAmount.String()),
		zap.String("opening_amount", goal.Amount.String()),
	)
	if funding != nil {
		s.transfers.notify(ctx, transferEvent(wallet, funding, domain.GoalContribution))
	}
	return goal, nil
}

// DeleteGoal removes an empty goal. Its log rows stay for replay.
func (s *GoalService) DeleteGoal(ctx context.Context, userID, goalID uuid.UUID) error {
	start := time.Now()
	err := s.transfers.retry(ctx, "delete_goal", func() error {
		return s.store.DeleteGoal(ctx, userID, goalID)
	})
	observe("delete_goal", start, err)
	if err != nil {
		return err
	}
	s.logger.Info("goal deleted", zap.Stringer("user_id", userID), zap.Stringer("goal_id", goalID))
	return nil
}

func (s *GoalService) UpdateGoalStatus(ctx context.Context, userID, goalID uuid.UUID, status domain.GoalStatus) (*domain.SavingsGoal, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}
	var goal *domain.SavingsGoal
	err := s.transfers.retry(ctx, "update_goal", func() error {
		g, err := s.store.UpdateGoalStatus(ctx, userID, goalID, status)
		goal = g
		return err
	})
	if err != nil {
		return nil, err
	}
	return goal, nil
}

func (s *GoalService) GetWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	return s.store.GetWalletByUser(ctx, userID)
}

func (s *GoalService) GetGoal(ctx context.Context, userID, goalID uuid.UUID) (*domain.SavingsGoal, error) {
	return s.store.GetGoal(ctx, userID, goalID)
}

func (s *GoalService) ListGoals(ctx context.Context, userID uuid.UUID) ([]domain.SavingsGoal, error) {
	return s.store.ListGoals(ctx, userID)
}

// ListGoalTransactions returns a goal's log, newest first.
func (s *GoalService) ListGoalTransactions(ctx context.Context, userID, goalID uuid.UUID, limit, offset int) ([]domain.SavingsGoalTransaction, error) {
	if _, err := s.store.GetGoal(ctx, userID, goalID); err != nil {
		return nil, err
	}
	return s.store.ListGoalTransactions(ctx, goalID, store.Page{Limit: limit, Offset: offset, Desc: true})
}

// ListWalletTransactions returns the wallet log of the user, newest first.
func (s *GoalService) ListWalletTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.WalletTransaction, error) {
	w, err := s.store.GetWalletByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.store.ListWalletTransactions(ctx, w.ID, store.Page{Limit: limit, Offset: offset, Desc: true})
}

func newGoal(userID uuid.UUID, name string, target decimal.Decimal) *domain.SavingsGoal {
	return &domain.SavingsGoal{
		ID:              uuid.New(),
		UserID:          userID,
		Name:            name,
		Amount:          decimal.Zero,
		TargetAmount:    target,
		Status:          domain.GoalActive,
		InterestRate:    decimal.Zero,
		AccruedInterest: decimal.Zero,
	}
}
