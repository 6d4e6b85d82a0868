package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every key so host variables cannot leak into a test.
// Empty variables count as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, "ledger_events", cfg.LedgerEventsExchange)
	assert.Equal(t, time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, 30*time.Second, cfg.IdempotencyLockTTL)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.Equal(t, "NGN", cfg.DefaultCurrency)
	assert.Equal(t, "Emergency Fund:100000", cfg.DefaultGoals)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", " Postgres ")
	t.Setenv("DB_SOURCE", "postgres://ledger@localhost/ledger")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("IDEMPOTENCY_TTL", "2h")
	t.Setenv("LEDGER_MAX_RETRIES", "0")
	t.Setenv("DEFAULT_CURRENCY", "usd")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, 2*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, 1, cfg.MaxRetries)
	assert.Equal(t, "USD", cfg.DefaultCurrency)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.True(t, cfg.IsProduction())
}

func TestLoad_DotEnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	content := "STORE_DRIVER=postgres\nDB_SOURCE=postgres://from-file/ledger\nJWT_SECRET=from-file\nSERVER_PORT=9090\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600))
	t.Setenv("SERVER_PORT", "7070")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "postgres://from-file/ledger", cfg.DBSource)
	assert.Equal(t, "7070", cfg.Port, "environment wins over the file")
	assert.Equal(t, "from-file", cfg.JWTSecret)
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("postgres without DB_SOURCE", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STORE_DRIVER", "postgres")
		_, err := Load(t.TempDir())
		assert.ErrorContains(t, err, "DB_SOURCE")
	})

	t.Run("postgres without JWT_SECRET", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STORE_DRIVER", "postgres")
		t.Setenv("DB_SOURCE", "postgres://ledger@localhost/ledger")
		_, err := Load(t.TempDir())
		assert.ErrorContains(t, err, "JWT_SECRET")
	})

	t.Run("production memory without JWT_SECRET", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STORE_DRIVER", "memory")
		t.Setenv("ENVIRONMENT", "production")
		_, err := Load(t.TempDir())
		assert.ErrorContains(t, err, "JWT_SECRET")
	})

	t.Run("unknown driver", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STORE_DRIVER", "sqlite")
		_, err := Load(t.TempDir())
		assert.ErrorContains(t, err, "STORE_DRIVER")
	})
}

func TestParseDefaultGoals(t *testing.T) {
	goals, err := ParseDefaultGoals("Emergency Fund:100000, Rent : 2500.50,,")
	require.NoError(t, err)
	require.Len(t, goals, 2)
	assert.Equal(t, "Emergency Fund", goals[0].Name)
	assert.True(t, goals[0].TargetAmount.Equal(decimal.NewFromInt(100000)))
	assert.Equal(t, "Rent", goals[1].Name)
	assert.True(t, goals[1].TargetAmount.Equal(decimal.RequireFromString("2500.50")))

	goals, err = ParseDefaultGoals("")
	require.NoError(t, err)
	assert.Empty(t, goals)

	for _, bad := range []string{"NoTarget", ":100", "Rent:", "Rent:abc", "Rent:-5", "Rent:0"} {
		_, err := ParseDefaultGoals(bad)
		assert.Error(t, err, bad)
	}
}
