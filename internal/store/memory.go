package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/savingsledger/internal/domain"
	"github.com/shopspring/decimal"
)

// MemoryStore keeps the ledger in process. Rows are locked individually for
// the life of a unit, the same way SELECT ... FOR UPDATE behaves, and writes
// are staged until commit so a failed unit leaves nothing behind.
type MemoryStore struct {
	mu sync.RWMutex

	wallets      map[uuid.UUID]domain.Wallet
	walletByUser map[uuid.UUID]uuid.UUID
	walletByAcct map[string]uuid.UUID
	goals        map[uuid.UUID]domain.SavingsGoal
	deletedGoals map[uuid.UUID]bool
	walletTxs    []domain.WalletTransaction
	goalTxs      []domain.SavingsGoalTransaction
	refs         map[string]int
	seq          int64
	rowLocks     sync.Map
	lockTimeout  time.Duration
	now          func() time.Time
}

// NewMemoryStore returns an empty store. A zero lockTimeout waits for row
// locks until the context ends.
func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	return &MemoryStore{
		wallets:      make(map[uuid.UUID]domain.Wallet),
		walletByUser: make(map[uuid.UUID]uuid.UUID),
		walletByAcct: make(map[string]uuid.UUID),
		goals:        make(map[uuid.UUID]domain.SavingsGoal),
		deletedGoals: make(map[uuid.UUID]bool),
		refs:         make(map[string]int),
		lockTimeout:  lockTimeout,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() {}

func (s *MemoryStore) rowLock(id uuid.UUID) chan struct{} {
	l, _ := s.rowLocks.LoadOrStore(id, make(chan struct{}, 1))
	return l.(chan struct{})
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		s:        s,
		held:     make(map[uuid.UUID]chan struct{}),
		balances: make(map[uuid.UUID]decimal.Decimal),
		amounts:  make(map[uuid.UUID]decimal.Decimal),
	}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

type memTx struct {
	s    *MemoryStore
	held map[uuid.UUID]chan struct{}

	balances  map[uuid.UUID]decimal.Decimal
	amounts   map[uuid.UUID]decimal.Decimal
	walletTxs []*domain.WalletTransaction
	goalTxs   []*domain.SavingsGoalTransaction
	wallets   []*domain.Wallet
	goals     []*domain.SavingsGoal
}

func (t *memTx) lock(ctx context.Context, id uuid.UUID) error {
	if _, ok := t.held[id]; ok {
		return nil
	}
	l := t.s.rowLock(id)

	var timeout <-chan time.Time
	if t.s.lockTimeout > 0 {
		timer := time.NewTimer(t.s.lockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case l <- struct{}{}:
		t.held[id] = l
		return nil
	case <-timeout:
		return fmt.Errorf("%w: lock wait timeout on row %s", domain.ErrStorageConflict, id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *memTx) release() {
	for id, l := range t.held {
		<-l
		delete(t.held, id)
	}
}

func (t *memTx) LockWalletByUser(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	t.s.mu.RLock()
	id, ok := t.s.walletByUser[userID]
	t.s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	return t.lockWallet(ctx, id)
}

func (t *memTx) LockWalletByAccountNumber(ctx context.Context, accountNumber string) (*domain.Wallet, error) {
	t.s.mu.RLock()
	id, ok := t.s.walletByAcct[accountNumber]
	t.s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	return t.lockWallet(ctx, id)
}

func (t *memTx) lockWallet(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	if err := t.lock(ctx, id); err != nil {
		return nil, err
	}
	t.s.mu.RLock()
	w, ok := t.s.wallets[id]
	t.s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	if b, staged := t.balances[id]; staged {
		w.Balance = b
	}
	return &w, nil
}

func (t *memTx) LockGoal(ctx context.Context, userID, goalID uuid.UUID) (*domain.SavingsGoal, error) {
	if err := t.lock(ctx, goalID); err != nil {
		return nil, err
	}
	t.s.mu.RLock()
	g, ok := t.s.goals[goalID]
	deleted := t.s.deletedGoals[goalID]
	t.s.mu.RUnlock()
	if !ok || deleted || g.UserID != userID {
		return nil, domain.ErrGoalNotFound
	}
	if a, staged := t.amounts[goalID]; staged {
		g.Amount = a
	}
	return &g, nil
}

func (t *memTx) UpdateWalletBalance(_ context.Context, walletID uuid.UUID, balance decimal.Decimal) error {
	if _, ok := t.held[walletID]; !ok {
		return fmt.Errorf("wallet %s updated without holding its lock", walletID)
	}
	if balance.IsNegative() {
		return fmt.Errorf("wallet %s balance would be negative", walletID)
	}
	t.balances[walletID] = balance
	return nil
}

func (t *memTx) UpdateGoalAmount(_ context.Context, goalID uuid.UUID, amount decimal.Decimal) error {
	if _, ok := t.held[goalID]; !ok {
		return fmt.Errorf("goal %s updated without holding its lock", goalID)
	}
	if amount.IsNegative() {
		return fmt.Errorf("goal %s amount would be negative", goalID)
	}
	t.amounts[goalID] = amount
	return nil
}

func (t *memTx) InsertWalletTransaction(_ context.Context, wt *domain.WalletTransaction) error {
	wt.CreatedAt = t.s.now()
	t.walletTxs = append(t.walletTxs, wt)
	return nil
}

func (t *memTx) InsertGoalTransaction(_ context.Context, gt *domain.SavingsGoalTransaction) error {
	gt.CreatedAt = t.s.now()
	t.goalTxs = append(t.goalTxs, gt)
	return nil
}

func (t *memTx) FindWalletTransactionByReference(_ context.Context, reference string) (*domain.WalletTransaction, error) {
	for _, wt := range t.walletTxs {
		if wt.ExternalReference != nil && *wt.ExternalReference == reference {
			found := *wt
			return &found, nil
		}
	}
	return t.s.FindWalletTransactionByReference(context.Background(), reference)
}

func (t *memTx) InsertWallet(ctx context.Context, w *domain.Wallet) error {
	if err := t.lock(ctx, w.ID); err != nil {
		return err
	}
	now := t.s.now()
	w.CreatedAt, w.UpdatedAt = now, now
	t.wallets = append(t.wallets, w)
	return nil
}

// InsertGoal locks the new row so the same unit can fund it.
func (t *memTx) InsertGoal(ctx context.Context, g *domain.SavingsGoal) error {
	if err := t.lock(ctx, g.ID); err != nil {
		return err
	}
	now := t.s.now()
	g.CreatedAt, g.UpdatedAt = now, now
	t.goals = append(t.goals, g)
	return nil
}

// commit checks the unique constraints first and only then applies the
// staged writes, so a rejected unit changes nothing.
func (t *memTx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range t.wallets {
		if _, exists := s.walletByUser[w.UserID]; exists {
			return fmt.Errorf("%w: user %s", domain.ErrWalletExists, w.UserID)
		}
		if _, exists := s.walletByAcct[w.AccountNumber]; w.AccountNumber != "" && exists {
			return fmt.Errorf("%w: account %s", domain.ErrWalletExists, w.AccountNumber)
		}
	}
	for _, wt := range t.walletTxs {
		if wt.ExternalReference == nil {
			continue
		}
		if _, exists := s.refs[*wt.ExternalReference]; exists {
			return fmt.Errorf("%w: reference %s", domain.ErrDuplicateExternalDeposit, *wt.ExternalReference)
		}
	}

	now := s.now()
	for _, w := range t.wallets {
		s.wallets[w.ID] = *w
		s.walletByUser[w.UserID] = w.ID
		if w.AccountNumber != "" {
			s.walletByAcct[w.AccountNumber] = w.ID
		}
	}
	for _, g := range t.goals {
		s.goals[g.ID] = *g
	}
	for id, balance := range t.balances {
		w := s.wallets[id]
		w.Balance = balance
		w.UpdatedAt = now
		s.wallets[id] = w
	}
	for id, amount := range t.amounts {
		g := s.goals[id]
		g.Amount = amount
		g.UpdatedAt = now
		s.goals[id] = g
	}
	for _, wt := range t.walletTxs {
		s.seq++
		wt.Seq = s.seq
		s.walletTxs = append(s.walletTxs, *wt)
		if wt.ExternalReference != nil {
			s.refs[*wt.ExternalReference] = len(s.walletTxs) - 1
		}
	}
	for _, gt := range t.goalTxs {
		s.seq++
		gt.Seq = s.seq
		s.goalTxs = append(s.goalTxs, *gt)
	}
	return nil
}

func (s *MemoryStore) GetWalletByUser(_ context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.walletByUser[userID]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	w := s.wallets[id]
	return &w, nil
}

func (s *MemoryStore) GetGoal(_ context.Context, userID, goalID uuid.UUID) (*domain.SavingsGoal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.goals[goalID]
	if !ok || s.deletedGoals[goalID] || g.UserID != userID {
		return nil, domain.ErrGoalNotFound
	}
	return &g, nil
}

func (s *MemoryStore) ListGoals(_ context.Context, userID uuid.UUID) ([]domain.SavingsGoal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	goals := []domain.SavingsGoal{}
	for id, g := range s.goals {
		if g.UserID == userID && !s.deletedGoals[id] {
			goals = append(goals, g)
		}
	}
	sort.Slice(goals, func(i, j int) bool {
		if goals[i].CreatedAt.Equal(goals[j].CreatedAt) {
			return goals[i].ID.String() < goals[j].ID.String()
		}
		return goals[i].CreatedAt.Before(goals[j].CreatedAt)
	})
	return goals, nil
}

func (s *MemoryStore) ListWalletTransactions(_ context.Context, walletID uuid.UUID, page Page) ([]domain.WalletTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	txs := []domain.WalletTransaction{}
	for _, wt := range s.walletTxs {
		if wt.WalletID == walletID {
			txs = append(txs, wt)
		}
	}
	return paginate(txs, page), nil
}

func (s *MemoryStore) ListGoalTransactions(_ context.Context, goalID uuid.UUID, page Page) ([]domain.SavingsGoalTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	txs := []domain.SavingsGoalTransaction{}
	for _, gt := range s.goalTxs {
		if gt.GoalID == goalID {
			txs = append(txs, gt)
		}
	}
	return paginate(txs, page), nil
}

func (s *MemoryStore) ListUserGoalTransactions(_ context.Context, userID uuid.UUID) ([]domain.SavingsGoalTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	txs := []domain.SavingsGoalTransaction{}
	for _, gt := range s.goalTxs {
		if s.goals[gt.GoalID].UserID == userID {
			txs = append(txs, gt)
		}
	}
	return txs, nil
}

func (s *MemoryStore) FindWalletTransactionByReference(_ context.Context, reference string) (*domain.WalletTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.refs[reference]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	wt := s.walletTxs[idx]
	return &wt, nil
}

// DeleteGoal takes the goal's row lock so it cannot interleave with a
// transfer that is about to change the amount.
func (s *MemoryStore) DeleteGoal(ctx context.Context, userID, goalID uuid.UUID) error {
	return s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		g, err := tx.LockGoal(ctx, userID, goalID)
		if err != nil {
			return err
		}
		if !g.Amount.IsZero() {
			return domain.ErrGoalNotEmpty
		}
		s.mu.Lock()
		s.deletedGoals[goalID] = true
		s.mu.Unlock()
		return nil
	})
}

func (s *MemoryStore) UpdateGoalStatus(ctx context.Context, userID, goalID uuid.UUID, status domain.GoalStatus) (*domain.SavingsGoal, error) {
	var updated domain.SavingsGoal
	err := s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.LockGoal(ctx, userID, goalID); err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		stored := s.goals[goalID]
		stored.Status = status
		stored.UpdatedAt = s.now()
		s.goals[goalID] = stored
		updated = stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func paginate[T any](rows []T, page Page) []T {
	if page.Desc {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}
	if page.Offset > 0 {
		if page.Offset >= len(rows) {
			return rows[:0]
		}
		rows = rows[page.Offset:]
	}
	if page.Limit > 0 && page.Limit < len(rows) {
		rows = rows[:page.Limit]
	}
	return rows
}
