package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet is the single spendable balance of a user.
// Balance is only ever changed by the transfer engine and never goes below zero.
type Wallet struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	Balance       decimal.Decimal `json:"balance"`
	Currency      string          `json:"currency"`
	BankName      string          `json:"bank_name,omitempty"`
	BankCode      string          `json:"bank_code,omitempty"`
	AccountNumber string          `json:"account_number,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalPaused    GoalStatus = "paused"
	GoalCancelled GoalStatus = "cancelled"
)

func (s GoalStatus) Valid() bool {
	switch s {
	case GoalActive, GoalCompleted, GoalPaused, GoalCancelled:
		return true
	}
	return false
}

// SavingsGoal holds funds set aside from the wallet.
// Interest fields belong to the accrual process and are read-only here.
type SavingsGoal struct {
	ID              uuid.UUID       `json:"id"`
	UserID          uuid.UUID       `json:"user_id"`
	Name            string          `json:"name"`
	Amount          decimal.Decimal `json:"amount"`
	TargetAmount    decimal.Decimal `json:"target_amount"`
	Status          GoalStatus      `json:"status"`
	InterestRate    decimal.Decimal `json:"interest_rate"`
	AccruedInterest decimal.Decimal `json:"accrued_interest"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type WalletTxType string

const (
	WalletCredit WalletTxType = "credit"
	WalletDebit  WalletTxType = "debit"
)

type GoalTxType string

const (
	GoalContribution GoalTxType = "contribution"
	GoalWithdrawal   GoalTxType = "withdrawal"
)

// WalletTransaction is one immutable row of the wallet log.
// TransferID is set when the row is one leg of a wallet/goal transfer.
type WalletTransaction struct {
	ID                uuid.UUID       `json:"id"`
	Seq               int64           `json:"-"`
	WalletID          uuid.UUID       `json:"wallet_id"`
	TransferID        *uuid.UUID      `json:"transfer_id,omitempty"`
	Type              WalletTxType    `json:"transaction_type"`
	Amount            decimal.Decimal `json:"amount"`
	Description       string          `json:"description"`
	SenderName        *string         `json:"sender_name,omitempty"`
	SenderBank        *string         `json:"sender_bank,omitempty"`
	ExternalReference *string         `json:"external_reference,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Signed returns the amount with the sign it contributes to the wallet balance.
func (t WalletTransaction) Signed() decimal.Decimal {
	if t.Type == WalletDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// SavingsGoalTransaction is one immutable row of a goal log.
// GoalCurrentAmount is the goal balance right after this row was applied.
type SavingsGoalTransaction struct {
	ID                uuid.UUID       `json:"id"`
	Seq               int64           `json:"-"`
	GoalID            uuid.UUID       `json:"goal_id"`
	TransferID        uuid.UUID       `json:"transfer_id"`
	Type              GoalTxType      `json:"transaction_type"`
	Amount            decimal.Decimal `json:"amount"`
	Description       string          `json:"description"`
	GoalCurrentAmount decimal.Decimal `json:"goal_current_amount"`
	CreatedAt         time.Time       `json:"created_at"`
}

func (t SavingsGoalTransaction) Signed() decimal.Decimal {
	if t.Type == GoalWithdrawal {
		return t.Amount.Neg()
	}
	return t.Amount
}

// DepositEvent is a provider deposit that already passed signature verification.
type DepositEvent struct {
	AccountNumber string          `json:"accountNumber"`
	Reference     string          `json:"reference"`
	Amount        decimal.Decimal `json:"amount"`
	SenderName    string          `json:"senderName"`
	SenderBank    string          `json:"senderBank"`
}

// TransferResult is what the engine reports after a committed goal transfer.
type TransferResult struct {
	TransferID        uuid.UUID              `json:"transfer_id"`
	WalletBalance     decimal.Decimal        `json:"wallet_balance"`
	GoalAmount        decimal.Decimal        `json:"goal_amount"`
	WalletTransaction WalletTransaction      `json:"wallet_transaction"`
	GoalTransaction   SavingsGoalTransaction `json:"goal_transaction"`
}

// DepositResult reports an applied deposit. Duplicate is true when the
// reference had already been applied and nothing changed.
type DepositResult struct {
	Transaction   WalletTransaction `json:"transaction"`
	WalletBalance decimal.Decimal   `json:"wallet_balance"`
	Duplicate     bool              `json:"duplicate"`
}

// IdempotencyRecord is a cached HTTP outcome for a scoped idempotency key.
type IdempotencyRecord struct {
	Key            string    `json:"key"`
	RequestHash    string    `json:"request_hash"`
	ResponseStatus int       `json:"response_status"`
	ContentType    string    `json:"content_type,omitempty"`
	ResponseBody   []byte    `json:"response_body,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}
