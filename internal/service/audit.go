package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/punchamoorthee/savingsledger/internal/domain"
	"github.com/punchamoorthee/savingsledger/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AuditWallet replays the wallet log and every goal log of the user. The
// replayed sums are authoritative; stored balances and goal_current_amount
// snapshots are checked against them.
func (s *GoalService) AuditWallet(ctx context.Context, userID uuid.UUID) (*domain.AuditReport, error) {
	wallet, err := s.store.GetWalletByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	walletTxs, err := s.store.ListWalletTransactions(ctx, wallet.ID, store.Page{})
	if err != nil {
		return nil, err
	}
	goalTxs, err := s.store.ListUserGoalTransactions(ctx, userID)
	if err != nil {
		return nil, err
	}
	goals, err := s.store.ListGoals(ctx, userID)
	if err != nil {
		return nil, err
	}

	report := Replay(wallet, goals, walletTxs, goalTxs)
	if !report.Consistent {
		s.logger.Error("ledger audit found divergence",
			zap.Stringer("user_id", userID),
			zap.Stringer("wallet_id", wallet.ID),
			zap.String("stored_balance", report.StoredBalance.String()),
			zap.String("replayed_balance", report.ReplayedBalance.String()),
		)
	}
	return report, nil
}

// Replay rebuilds balances from the logs. Goals missing from goals are
// treated as deleted, which only ever happens at a zero amount.
func Replay(wallet *domain.Wallet, goals []domain.SavingsGoal, walletTxs []domain.WalletTransaction, goalTxs []domain.SavingsGoalTransaction) *domain.AuditReport {
	report := &domain.AuditReport{
		WalletID:        wallet.ID,
		StoredBalance:   wallet.Balance,
		ReplayedBalance: decimal.Zero,
		Goals:           []domain.GoalAudit{},
		Consistent:      true,
	}

	legs := make(map[uuid.UUID]domain.WalletTransaction)
	for _, wt := range walletTxs {
		report.ReplayedBalance = report.ReplayedBalance.Add(wt.Signed())
		if wt.TransferID != nil {
			legs[*wt.TransferID] = wt
		}
	}
	if !report.ReplayedBalance.Equal(report.StoredBalance) {
		report.Consistent = false
	}

	audits := make(map[uuid.UUID]*domain.GoalAudit)
	var order []uuid.UUID
	auditFor := func(goalID uuid.UUID) *domain.GoalAudit {
		if a, ok := audits[goalID]; ok {
			return a
		}
		a := &domain.GoalAudit{GoalID: goalID, StoredAmount: decimal.Zero, ReplayedAmount: decimal.Zero}
		audits[goalID] = a
		order = append(order, goalID)
		return a
	}
	for _, g := range goals {
		auditFor(g.ID).StoredAmount = g.Amount
	}

	matched := make(map[uuid.UUID]bool)
	for _, gt := range goalTxs {
		a := auditFor(gt.GoalID)
		a.ReplayedAmount = a.ReplayedAmount.Add(gt.Signed())
		if !gt.GoalCurrentAmount.Equal(a.ReplayedAmount) {
			a.SnapshotMismatch = append(a.SnapshotMismatch, gt.ID)
		}
		leg, ok := legs[gt.TransferID]
		if !ok || !pairs(gt, leg) {
			a.UnpairedEntries = append(a.UnpairedEntries, gt.ID)
			continue
		}
		matched[gt.TransferID] = true
	}

	for _, wt := range walletTxs {
		if wt.TransferID != nil && !matched[*wt.TransferID] {
			report.UnpairedWalletEntries = append(report.UnpairedWalletEntries, wt.ID)
			report.Consistent = false
		}
	}

	for _, id := range order {
		a := audits[id]
		if !a.ReplayedAmount.Equal(a.StoredAmount) || len(a.SnapshotMismatch) > 0 || len(a.UnpairedEntries) > 0 {
			report.Consistent = false
		}
		report.Goals = append(report.Goals, *a)
	}
	return report
}

// pairs reports whether the wallet leg mirrors the goal leg.
func pairs(gt domain.SavingsGoalTransaction, wt domain.WalletTransaction) bool {
	if !gt.Amount.Equal(wt.Amount) {
		return false
	}
	switch gt.Type {
	case domain.GoalContribution:
		return wt.Type == domain.WalletDebit
	case domain.GoalWithdrawal:
		return wt.Type == domain.WalletCredit
	}
	return false
}
