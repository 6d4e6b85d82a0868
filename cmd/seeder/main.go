package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/punchamoorthee/savingsledger/internal/config"
	"github.com/punchamoorthee/savingsledger/internal/logging"
	"github.com/punchamoorthee/savingsledger/internal/store"
	"go.uber.org/zap"
)

// SeededUser is one line of the seed manifest the benchmark reads.
type SeededUser struct {
	UserID        uuid.UUID `json:"user_id"`
	GoalID        uuid.UUID `json:"goal_id"`
	AccountNumber string    `json:"account_number"`
}

var (
	totalUsers     int
	initialBalance string
	manifestPath   string
)

func init() {
	flag.IntVar(&totalUsers, "users", 1000, "Number of users to seed")
	flag.StringVar(&initialBalance, "balance", "100000.00", "Opening wallet balance per user")
	flag.StringVar(&manifestPath, "out", "seed_users.json", "Where to write the seeded user manifest")
}

func main() {
	flag.Parse()
	logger, err := logging.NewLogger(logging.Config{Level: "info", Format: "console"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := seed(logger); err != nil {
		logger.Fatal("seeding failed", zap.Error(err))
	}
}

func seed(logger *logging.Logger) error {
	cfg, err := config.Load(".")
	if err != nil {
		return err
	}
	ctx := context.Background()

	pg, err := store.NewPostgresStore(ctx, cfg.DBSource, cfg.LockTimeout)
	if err != nil {
		return err
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		return err
	}
	pool := pg.Pool()

	var count int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM wallets").Scan(&count); err != nil {
		return err
	}
	if count >= totalUsers {
		logger.Info("database already seeded, skipping", zap.Int("wallets", count))
		return nil
	}

	var balance pgtype.Numeric
	if err := balance.Scan(initialBalance); err != nil {
		return fmt.Errorf("invalid -balance %q: %w", initialBalance, err)
	}
	var zero pgtype.Numeric
	if err := zero.Scan("0"); err != nil {
		return err
	}
	var target pgtype.Numeric
	if err := target.Scan("1000000"); err != nil {
		return err
	}

	logger.Info("generating users", zap.Int("users", totalUsers))
	now := time.Now().UTC()
	users := make([]SeededUser, 0, totalUsers)
	wallets := make([][]interface{}, 0, totalUsers)
	goals := make([][]interface{}, 0, totalUsers)
	credits := make([][]interface{}, 0, totalUsers)
	for i := 0; i < totalUsers; i++ {
		u := SeededUser{
			UserID:        uuid.New(),
			GoalID:        uuid.New(),
			AccountNumber: fmt.Sprintf("90%08d", count+i),
		}
		walletID := uuid.New()
		users = append(users, u)
		wallets = append(wallets, []interface{}{walletID, u.UserID, balance, "NGN", u.AccountNumber, now, now})
		goals = append(goals, []interface{}{u.GoalID, u.UserID, "Emergency Fund", zero, target, "active", now, now})
		// The opening credit keeps the wallet log replayable to the seeded balance.
		credits = append(credits, []interface{}{uuid.New(), walletID, "credit", balance, "Opening balance", "seed-" + walletID.String(), now})
	}

	// Copy in one transaction so a failure leaves no half-seeded users.
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	copies := []struct {
		table   string
		columns []string
		rows    [][]interface{}
	}{
		{"wallets", []string{"id", "user_id", "balance", "currency", "account_number", "created_at", "updated_at"}, wallets},
		{"savings_goals", []string{"id", "user_id", "name", "amount", "target_amount", "status", "created_at", "updated_at"}, goals},
		{"wallet_transactions", []string{"id", "wallet_id", "transaction_type", "amount", "description", "external_reference", "created_at"}, credits},
	}
	for _, c := range copies {
		n, err := tx.CopyFrom(ctx, pgx.Identifier{c.table}, c.columns, pgx.CopyFromRows(c.rows))
		if err != nil {
			return fmt.Errorf("bulk insert into %s failed: %w", c.table, err)
		}
		logger.Info("copied rows", zap.String("table", c.table), zap.Int64("rows", n))
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	file, err := os.Create(manifestPath)
	if err != nil {
		return err
	}
	defer file.Close()
	if err := json.NewEncoder(file).Encode(users); err != nil {
		return err
	}
	logger.Info("seeded users", zap.Int("users", len(users)), zap.String("manifest", manifestPath))
	return nil
}
