package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/savingsledger/internal/domain"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schemaSQL string

// PostgreSQL error codes translated into domain errors.
const (
	codeUniqueViolation      = "23505"
	codeNumericOutOfRange    = "22003"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

const (
	walletColumns = "id, user_id, balance, currency, bank_name, bank_code, COALESCE(account_number, ''), created_at, updated_at"
	goalColumns   = "id, user_id, name, amount, target_amount, status, interest_rate, accrued_interest, created_at, updated_at"
	walletTxCols  = "seq, id, wallet_id, transfer_id, transaction_type, amount, description, sender_name, sender_bank, external_reference, created_at"
	goalTxCols    = "seq, id, goal_id, transfer_id, transaction_type, amount, description, goal_current_amount, created_at"
)

type PostgresStore struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresStore connects and pings. lockTimeout bounds how long a transfer
// waits on a row lock before giving up with a storage conflict.
func NewPostgresStore(ctx context.Context, connString string, lockTimeout time.Duration) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresStore{db: pool, lockTimeout: lockTimeout}, nil
}

// Migrate applies the embedded schema. It is safe to run repeatedly.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) Pool() *pgxpool.Pool { return s.db }

func (s *PostgresStore) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

func (s *PostgresStore) Close() { s.db.Close() }

// WithinTx runs fn at read committed; correctness comes from the FOR UPDATE
// row locks taken by the Lock* methods, not from the isolation level.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return translateErr(fmt.Errorf("tx begin failed: %w", err))
	}
	defer tx.Rollback(ctx)

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return translateErr(fmt.Errorf("lock timeout setup failed: %w", err))
		}
	}

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return translateErr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return translateErr(fmt.Errorf("tx commit failed: %w", err))
	}
	return nil
}

// translateErr maps driver failures onto domain errors and leaves everything
// else untouched.
func translateErr(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return fmt.Errorf("%w: %s", domain.ErrStorageConflict, pgErr.Message)
	case codeNumericOutOfRange:
		return fmt.Errorf("%w: %s", domain.ErrInvalidAmount, pgErr.Message)
	case codeUniqueViolation:
		switch pgErr.ConstraintName {
		case "wallet_transactions_external_reference_key":
			return fmt.Errorf("%w: %s", domain.ErrDuplicateExternalDeposit, pgErr.Detail)
		case "wallets_user_id_key", "wallets_account_number_key":
			return fmt.Errorf("%w: %s", domain.ErrWalletExists, pgErr.Detail)
		}
	}
	return err
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockWalletByUser(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	row := t.tx.QueryRow(ctx, "SELECT "+walletColumns+" FROM wallets WHERE user_id = $1 FOR UPDATE", userID)
	return scanWallet(row)
}

func (t *pgTx) LockWalletByAccountNumber(ctx context.Context, accountNumber string) (*domain.Wallet, error) {
	row := t.tx.QueryRow(ctx, "SELECT "+walletColumns+" FROM wallets WHERE account_number = $1 FOR UPDATE", accountNumber)
	return scanWallet(row)
}

func (t *pgTx) LockGoal(ctx context.Context, userID, goalID uuid.UUID) (*domain.SavingsGoal, error) {
	row := t.tx.QueryRow(ctx,
		"SELECT "+goalColumns+" FROM savings_goals WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL FOR UPDATE",
		goalID, userID)
	return scanGoal(row)
}

func (t *pgTx) UpdateWalletBalance(ctx context.Context, walletID uuid.UUID, balance decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, "UPDATE wallets SET balance = $1, updated_at = now() WHERE id = $2", balance, walletID)
	if err != nil {
		return fmt.Errorf("wallet balance update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWalletNotFound
	}
	return nil
}

func (t *pgTx) UpdateGoalAmount(ctx context.Context, goalID uuid.UUID, amount decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, "UPDATE savings_goals SET amount = $1, updated_at = now() WHERE id = $2", amount, goalID)
	if err != nil {
		return fmt.Errorf("goal amount update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrGoalNotFound
	}
	return nil
}

func (t *pgTx) InsertWalletTransaction(ctx context.Context, wt *domain.WalletTransaction) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO wallet_transactions
			(id, wallet_id, transfer_id, transaction_type, amount, description, sender_name, sender_bank, external_reference)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING seq, created_at`,
		wt.ID, wt.WalletID, wt.TransferID, string(wt.Type), wt.Amount, wt.Description,
		wt.SenderName, wt.SenderBank, wt.ExternalReference,
	).Scan(&wt.Seq, &wt.CreatedAt)
	if err != nil {
		return fmt.Errorf("wallet transaction insert failed: %w", err)
	}
	return nil
}

func (t *pgTx) InsertGoalTransaction(ctx context.Context, gt *domain.SavingsGoalTransaction) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO savings_goal_transactions
			(id, goal_id, transfer_id, transaction_type, amount, description, goal_current_amount)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING seq, created_at`,
		gt.ID, gt.GoalID, gt.TransferID, string(gt.Type), gt.Amount, gt.Description, gt.GoalCurrentAmount,
	).Scan(&gt.Seq, &gt.CreatedAt)
	if err != nil {
		return fmt.Errorf("goal transaction insert failed: %w", err)
	}
	return nil
}

func (t *pgTx) FindWalletTransactionByReference(ctx context.Context, reference string) (*domain.WalletTransaction, error) {
	row := t.tx.QueryRow(ctx, "SELECT "+walletTxCols+" FROM wallet_transactions WHERE external_reference = $1", reference)
	return scanWalletTx(row)
}

func (t *pgTx) InsertWallet(ctx context.Context, w *domain.Wallet) error {
	var accountNumber *string
	if w.AccountNumber != "" {
		accountNumber = &w.AccountNumber
	}
	err := t.tx.QueryRow(ctx,
		`INSERT INTO wallets (id, user_id, balance, currency, bank_name, bank_code, account_number)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at, updated_at`,
		w.ID, w.UserID, w.Balance, w.Currency, w.BankName, w.BankCode, accountNumber,
	).Scan(&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("wallet insert failed: %w", err)
	}
	return nil
}

func (t *pgTx) InsertGoal(ctx context.Context, g *domain.SavingsGoal) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO savings_goals (id, user_id, name, amount, target_amount, status, interest_rate)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at, updated_at`,
		g.ID, g.UserID, g.Name, g.Amount, g.TargetAmount, string(g.Status), g.InterestRate,
	).Scan(&g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("goal insert failed: %w", err)
	}
	return nil
}

// GetWalletByUser reads without locking.
func (s *PostgresStore) GetWalletByUser(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	return scanWallet(s.db.QueryRow(ctx, "SELECT "+walletColumns+" FROM wallets WHERE user_id = $1", userID))
}

func (s *PostgresStore) GetGoal(ctx context.Context, userID, goalID uuid.UUID) (*domain.SavingsGoal, error) {
	return scanGoal(s.db.QueryRow(ctx,
		"SELECT "+goalColumns+" FROM savings_goals WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL",
		goalID, userID))
}

func (s *PostgresStore) ListGoals(ctx context.Context, userID uuid.UUID) ([]domain.SavingsGoal, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+goalColumns+" FROM savings_goals WHERE user_id = $1 AND deleted_at IS NULL ORDER BY created_at, id",
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	goals := []domain.SavingsGoal{}
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		goals = append(goals, *g)
	}
	return goals, rows.Err()
}

func (s *PostgresStore) ListWalletTransactions(ctx context.Context, walletID uuid.UUID, page Page) ([]domain.WalletTransaction, error) {
	query := "SELECT " + walletTxCols + " FROM wallet_transactions WHERE wallet_id = $1 ORDER BY seq" + pageClause(page)
	rows, err := s.db.Query(ctx, query, walletID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := []domain.WalletTransaction{}
	for rows.Next() {
		wt, err := scanWalletTx(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *wt)
	}
	return txs, rows.Err()
}

func (s *PostgresStore) ListGoalTransactions(ctx context.Context, goalID uuid.UUID, page Page) ([]domain.SavingsGoalTransaction, error) {
	query := "SELECT " + goalTxCols + " FROM savings_goal_transactions WHERE goal_id = $1 ORDER BY seq" + pageClause(page)
	return s.queryGoalTxs(ctx, query, goalID)
}

func (s *PostgresStore) ListUserGoalTransactions(ctx context.Context, userID uuid.UUID) ([]domain.SavingsGoalTransaction, error) {
	query := `SELECT t.seq, t.id, t.goal_id, t.transfer_id, t.transaction_type, t.amount, t.description, t.goal_current_amount, t.created_at
		FROM savings_goal_transactions t
		JOIN savings_goals g ON g.id = t.goal_id
		WHERE g.user_id = $1
		ORDER BY t.seq`
	return s.queryGoalTxs(ctx, query, userID)
}

func (s *PostgresStore) queryGoalTxs(ctx context.Context, query string, arg any) ([]domain.SavingsGoalTransaction, error) {
	rows, err := s.db.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := []domain.SavingsGoalTransaction{}
	for rows.Next() {
		var gt domain.SavingsGoalTransaction
		var kind string
		if err := rows.Scan(&gt.Seq, &gt.ID, &gt.GoalID, &gt.TransferID, &kind, &gt.Amount,
			&gt.Description, &gt.GoalCurrentAmount, &gt.CreatedAt); err != nil {
			return nil, err
		}
		gt.Type = domain.GoalTxType(kind)
		txs = append(txs, gt)
	}
	return txs, rows.Err()
}

func (s *PostgresStore) FindWalletTransactionByReference(ctx context.Context, reference string) (*domain.WalletTransaction, error) {
	return scanWalletTx(s.db.QueryRow(ctx,
		"SELECT "+walletTxCols+" FROM wallet_transactions WHERE external_reference = $1", reference))
}

// DeleteGoal soft-deletes so the goal log stays replayable. The amount check
// is part of the UPDATE, so a racing contribution cannot slip in between.
func (s *PostgresStore) DeleteGoal(ctx context.Context, userID, goalID uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE savings_goals SET deleted_at = now(), updated_at = now()
		 WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL AND amount = 0`,
		goalID, userID)
	if err != nil {
		return translateErr(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetGoal(ctx, userID, goalID); err != nil {
		return err
	}
	return domain.ErrGoalNotEmpty
}

func (s *PostgresStore) UpdateGoalStatus(ctx context.Context, userID, goalID uuid.UUID, status domain.GoalStatus) (*domain.SavingsGoal, error) {
	return scanGoal(s.db.QueryRow(ctx,
		`UPDATE savings_goals SET status = $1, updated_at = now()
		 WHERE id = $2 AND user_id = $3 AND deleted_at IS NULL
		 RETURNING `+goalColumns,
		string(status), goalID, userID))
}

func pageClause(page Page) string {
	clause := ""
	if page.Desc {
		clause = " DESC"
	}
	if page.Limit > 0 {
		clause += fmt.Sprintf(" LIMIT %d", page.Limit)
	}
	if page.Offset > 0 {
		clause += fmt.Sprintf(" OFFSET %d", page.Offset)
	}
	return clause
}

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var w domain.Wallet
	err := row.Scan(&w.ID, &w.UserID, &w.Balance, &w.Currency, &w.BankName, &w.BankCode,
		&w.AccountNumber, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

func scanGoal(row pgx.Row) (*domain.SavingsGoal, error) {
	var g domain.SavingsGoal
	var status string
	err := row.Scan(&g.ID, &g.UserID, &g.Name, &g.Amount, &g.TargetAmount, &status,
		&g.InterestRate, &g.AccruedInterest, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrGoalNotFound
		}
		return nil, err
	}
	g.Status = domain.GoalStatus(status)
	return &g, nil
}

func scanWalletTx(row pgx.Row) (*domain.WalletTransaction, error) {
	var wt domain.WalletTransaction
	var kind string
	err := row.Scan(&wt.Seq, &wt.ID, &wt.WalletID, &wt.TransferID, &kind, &wt.Amount, &wt.Description,
		&wt.SenderName, &wt.SenderBank, &wt.ExternalReference, &wt.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, err
	}
	wt.Type = domain.WalletTxType(kind)
	return &wt, nil
}
