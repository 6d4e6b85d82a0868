package domain

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GoalTransactionRequest is the body of POST /goals/transactions.
type GoalTransactionRequest struct {
	GoalID          string          `json:"goal_id" validate:"required,uuid"`
	Amount          json.RawMessage `json:"amount" validate:"required"`
	TransactionType GoalTxType      `json:"transaction_type" validate:"required,oneof=contribution withdrawal"`
	Description     string          `json:"description" validate:"max=255"`
}

// GoalTransactionResponse is returned for a committed contribution or withdrawal.
type GoalTransactionResponse struct {
	Success       bool            `json:"success"`
	Message       string          `json:"message"`
	TransferID    uuid.UUID       `json:"transfer_id"`
	WalletBalance decimal.Decimal `json:"wallet_balance"`
	GoalAmount    decimal.Decimal `json:"goal_amount"`
}

type CreateGoalRequest struct {
	Name         string          `json:"name" validate:"required,max=100"`
	TargetAmount json.RawMessage `json:"target_amount" validate:"required"`
	Amount       json.RawMessage `json:"amount,omitempty"`
}

type UpdateGoalRequest struct {
	Status GoalStatus `json:"status" validate:"required,oneof=active completed paused cancelled"`
}

// ProvisionUserRequest is sent by the user service when an account is created.
type ProvisionUserRequest struct {
	UserID        string `json:"user_id" validate:"required,uuid"`
	Currency      string `json:"currency" validate:"omitempty,len=3"`
	BankName      string `json:"bank_name" validate:"max=100"`
	BankCode      string `json:"bank_code" validate:"max=20"`
	AccountNumber string `json:"account_number" validate:"omitempty,max=20"`
}

// DepositWebhookPayload is the provider body for an inbound deposit.
type DepositWebhookPayload struct {
	AccountNumber string          `json:"accountNumber" validate:"required"`
	Reference     string          `json:"reference" validate:"required,max=128"`
	Amount        json.RawMessage `json:"amount" validate:"required"`
	SenderName    string          `json:"senderName"`
	SenderBank    string          `json:"senderBank"`
}

// NewGoal carries validated input for goal creation.
type NewGoal struct {
	Name          string
	TargetAmount  decimal.Decimal
	OpeningAmount decimal.Decimal
}

// NewWallet carries validated input for provisioning.
type NewWallet struct {
	UserID        uuid.UUID
	Currency      string
	BankName      string
	BankCode      string
	AccountNumber string
}

// AuditReport is the outcome of replaying a user's ledger.
type AuditReport struct {
	WalletID        uuid.UUID       `json:"wallet_id"`
	StoredBalance   decimal.Decimal `json:"stored_balance"`
	ReplayedBalance decimal.Decimal `json:"replayed_balance"`
	Goals           []GoalAudit     `json:"goals"`
	// UnpairedWalletEntries are transfer legs on the wallet side with no goal leg.
	UnpairedWalletEntries []uuid.UUID `json:"unpaired_wallet_entries,omitempty"`
	Consistent            bool        `json:"consistent"`
}

type GoalAudit struct {
	GoalID           uuid.UUID       `json:"goal_id"`
	StoredAmount     decimal.Decimal `json:"stored_amount"`
	ReplayedAmount   decimal.Decimal `json:"replayed_amount"`
	SnapshotMismatch []uuid.UUID     `json:"snapshot_mismatches,omitempty"`
	UnpairedEntries  []uuid.UUID     `json:"unpaired_entries,omitempty"`
}
