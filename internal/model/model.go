// Package model defines the core domain types shared across the pool engine.
// All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Betting models.
const (
	BettingFixed  = "fixed"  // every stake equals the entry fee
	BettingCustom = "custom" // stakes within [entryFee, k*entryFee]
)

// Event statuses.
const (
	EventActive    = "active"
	EventCompleted = "completed"
	EventCancelled = "cancelled"
)

// Participant statuses.
const (
	ParticipantActive   = "active"
	ParticipantMatched  = "matched"
	ParticipantWon      = "won"
	ParticipantLost     = "lost"
	ParticipantRefunded = "refunded"
)

// Transaction types.
const (
	TxDeposit        = "deposit"
	TxEscrow         = "escrow"
	TxEventWin       = "event_win"
	TxCreatorFee     = "creator_fee"
	TxEventNoWinners = "event_no_winners"
	TxRefund         = "refund"
)

// Transaction statuses.
const (
	TxPending   = "pending"
	TxCompleted = "completed"
)

// Event is a binary YES/NO prediction event with a staked pool.
// EventPool is a cached sum and always equals YesPool + NoPool.
type Event struct {
	ID           string          `json:"id" db:"id"`
	Title        string          `json:"title" db:"title"`
	Category     string          `json:"category" db:"category"`
	CreatorID    string          `json:"creator_id" db:"creator_id"`
	EntryFee     decimal.Decimal `json:"entry_fee" db:"entry_fee"`
	BettingModel string          `json:"betting_model" db:"betting_model"`
	YesPool      decimal.Decimal `json:"yes_pool" db:"yes_pool"`
	NoPool       decimal.Decimal `json:"no_pool" db:"no_pool"`
	EventPool    decimal.Decimal `json:"event_pool" db:"event_pool"`
	Status       string          `json:"status" db:"status"`
	AdminResult  *bool           `json:"admin_result" db:"admin_result"` // set at most once
	Result       *bool           `json:"result" db:"result"`             // mirror of AdminResult
	CreatorFee   decimal.Decimal `json:"creator_fee" db:"creator_fee"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Participant is one user's stake and prediction on one event.
type Participant struct {
	ID          string           `json:"id" db:"id"`
	EventID     string           `json:"event_id" db:"event_id"`
	UserID      string           `json:"user_id" db:"user_id"`
	Prediction  bool             `json:"prediction" db:"prediction"`
	Amount      decimal.Decimal  `json:"amount" db:"amount"`
	Status      string           `json:"status" db:"status"`
	MatchedWith string           `json:"matched_with,omitempty" db:"matched_with"` // user ID
	Payout      *decimal.Decimal `json:"payout,omitempty" db:"payout"`             // set only on win
	PayoutAt    *time.Time       `json:"payout_at,omitempty" db:"payout_at"`
	JoinedAt    time.Time        `json:"joined_at" db:"joined_at"`
}

// Settled reports whether the participant reached a terminal status.
func (p *Participant) Settled() bool {
	switch p.Status {
	case ParticipantWon, ParticipantLost, ParticipantRefunded:
		return true
	}
	return false
}

// Transaction is an immutable, signed ledger entry. Balances are derived
// from the completed transactions of a user; entries are never updated.
type Transaction struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	Type        string          `json:"type" db:"type"`
	Amount      decimal.Decimal `json:"amount" db:"amount"` // signed: +credit, -debit
	Description string          `json:"description" db:"description"`
	RelatedID   string          `json:"related_id,omitempty" db:"related_id"`
	Status      string          `json:"status" db:"status"`
	Reference   string          `json:"reference,omitempty" db:"reference"` // idempotency key
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// PoolStats is the read-only projection of an event's pool.
type PoolStats struct {
	EventID           string          `json:"event_id"`
	TotalPool         decimal.Decimal `json:"total_pool"`
	YesPool           decimal.Decimal `json:"yes_pool"`
	NoPool            decimal.Decimal `json:"no_pool"`
	ParticipantsCount int             `json:"participants_count"`
}

// SettlementResult summarises a completed settlement.
type SettlementResult struct {
	EventID      string          `json:"event_id"`
	Outcome      bool            `json:"outcome"`
	WinnersCount int             `json:"winners_count"`
	TotalPayout  decimal.Decimal `json:"total_payout"`
	CreatorFee   decimal.Decimal `json:"creator_fee"`
	NoWinners    bool            `json:"no_winners"`
}

// CancelResult summarises an event cancellation.
type CancelResult struct {
	EventID        string          `json:"event_id"`
	RefundedCount  int             `json:"refunded_count"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
}

// Balance is a user's wallet view. Coins is the whole-unit part of Balance.
type Balance struct {
	UserID  string          `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
	Coins   int64           `json:"coins"`
}
