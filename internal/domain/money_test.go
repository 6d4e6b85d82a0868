package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parseAmount runs the same two steps as the handler and the engine.
func parseAmount(raw, currency string) (decimal.Decimal, error) {
	amount, err := ParseDecimal(raw)
	if err != nil {
		return decimal.Zero, err
	}
	return amount, ValidateAmount(amount, currency)
}

func TestParseAndValidateAmount(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		currency string
		want     string
		wantErr  bool
	}{
		{"json number", `10000.00`, "NGN", "10000", false},
		{"json string", `"250.5"`, "NGN", "250.5", false},
		{"whole yen", `500`, "JPY", "500", false},
		{"fractional yen", `500.5`, "JPY", "", true},
		{"too many places", `10.001`, "NGN", "", true},
		{"zero", `0`, "NGN", "", true},
		{"negative", `"-5"`, "NGN", "", true},
		{"not a number", `"ten"`, "NGN", "", true},
		{"empty", ``, "NGN", "", true},
		{"null", `null`, "NGN", "", true},
		{"unknown currency defaults to two places", `1.25`, "XYZ", "1.25", false},
		{"largest column value", `"999999999999999999.99"`, "NGN", "999999999999999999.99", false},
		{"nineteen integer digits", `"1000000000000000000"`, "NGN", "", true},
		{"exponent overflow", `"1e40"`, "NGN", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAmount(tt.raw, tt.currency)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int32(2), MinorUnits("ngn"))
	assert.Equal(t, int32(0), MinorUnits("JPY"))
	assert.Equal(t, int32(2), MinorUnits(""))
}

func TestSignedAmounts(t *testing.T) {
	amount := decimal.NewFromInt(80)

	debit := WalletTransaction{Type: WalletDebit, Amount: amount}
	credit := WalletTransaction{Type: WalletCredit, Amount: amount}
	assert.True(t, debit.Signed().Equal(amount.Neg()))
	assert.True(t, credit.Signed().Equal(amount))

	withdrawal := SavingsGoalTransaction{Type: GoalWithdrawal, Amount: amount}
	contribution := SavingsGoalTransaction{Type: GoalContribution, Amount: amount}
	assert.True(t, withdrawal.Signed().Equal(amount.Neg()))
	assert.True(t, contribution.Signed().Equal(amount))
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "ok", ClassifyError(nil))
	assert.Equal(t, "insufficient_goal_funds", ClassifyError(ErrInsufficientGoalFunds))
	assert.Equal(t, "storage_conflict", ClassifyError(ErrStorageConflict))
	assert.Equal(t, "internal", ClassifyError(assert.AnError))
	assert.True(t, IsValidation(ErrInvalidDeposit))
	assert.False(t, IsValidation(ErrGoalNotFound))
}
