package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType doubles as the routing key on the events exchange.
type EventType string

const (
	EventContribution EventType = "savings.contribution"
	EventWithdrawal   EventType = "savings.withdrawal"
	EventDeposit      EventType = "wallet.deposit"
)

// LedgerEvent describes a committed ledger change. It is only ever built
// after the atomic unit that produced it has committed.
type LedgerEvent struct {
	ID            uuid.UUID        `json:"id"`
	Type          EventType        `json:"type"`
	UserID        uuid.UUID        `json:"user_id"`
	WalletID      uuid.UUID        `json:"wallet_id"`
	GoalID        *uuid.UUID       `json:"goal_id,omitempty"`
	TransferID    *uuid.UUID       `json:"transfer_id,omitempty"`
	Reference     string           `json:"reference,omitempty"`
	Amount        decimal.Decimal  `json:"amount"`
	Currency      string           `json:"currency"`
	WalletBalance decimal.Decimal  `json:"wallet_balance"`
	GoalAmount    *decimal.Decimal `json:"goal_amount,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
}
