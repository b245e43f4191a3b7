// Package ledger records immutable, signed wallet transactions and derives
// balances from them.
//
// There is no stored balance column: a user's balance is always the sum of
// their completed transactions. Debits are written as negative amounts.
// Every entry that settlement produces carries a deterministic reference,
// so replaying a settlement collides on the reference instead of paying
// twice.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/eventpool/pool-engine/internal/model"
	"github.com/eventpool/pool-engine/internal/store"
)

// Entry is an externally supplied ledger write. Amount is a decimal string
// so callers never round-trip money through float64.
type Entry struct {
	UserID      string
	Type        string
	Amount      string
	Description string
	RelatedID   string
	Reference   string
}

// Posting is a ledger write with an already-parsed amount.
type Posting struct {
	UserID      string
	Type        string
	Amount      decimal.Decimal
	Description string
	RelatedID   string
	Reference   string
}

// HistorySource lists a user's transactions.
type HistorySource interface {
	ListTransactionsByUser(ctx context.Context, userID string) ([]model.Transaction, error)
}

// Ledger writes transactions through a store.Tx.
type Ledger struct {
	now func() time.Time
}

// New creates a ledger stamping entries with the current UTC time.
func New() *Ledger {
	return &Ledger{now: func() time.Time { return time.Now().UTC() }}
}

// RecordTransaction validates e and appends it as a completed transaction.
func (l *Ledger) RecordTransaction(ctx context.Context, tx store.Tx, e Entry) (*model.Transaction, error) {
	amount, err := ParseAmount(e.Amount)
	if err != nil {
		return nil, err
	}
	return l.Post(ctx, tx, Posting{
		UserID:      e.UserID,
		Type:        e.Type,
		Amount:      amount,
		Description: e.Description,
		RelatedID:   e.RelatedID,
		Reference:   e.Reference,
	})
}

// Post appends p as a completed transaction. A repeated non-empty
// reference returns model.ErrDuplicateReference.
func (l *Ledger) Post(ctx context.Context, tx store.Tx, p Posting) (*model.Transaction, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return nil, fmt.Errorf("user id is required: %w", model.ErrValidation)
	}
	if p.Type == "" {
		return nil, fmt.Errorf("transaction type is required: %w", model.ErrValidation)
	}

	t := &model.Transaction{
		ID:          uuid.New().String(),
		UserID:      p.UserID,
		Type:        p.Type,
		Amount:      p.Amount,
		Description: p.Description,
		RelatedID:   p.RelatedID,
		Status:      model.TxCompleted,
		Reference:   p.Reference,
		CreatedAt:   l.now(),
	}
	if err := tx.InsertTransaction(ctx, t); err != nil {
		return nil, fmt.Errorf("record %s for %s: %w", p.Type, p.UserID, err)
	}
	return t, nil
}

// Escrow debits amount from the user's wallet. The wallet stays locked
// until tx ends, so the balance check and the debit are one step.
// Returns model.ErrInsufficientFunds if the balance does not cover amount.
func (l *Ledger) Escrow(ctx context.Context, tx store.Tx, p Posting) (*model.Transaction, error) {
	if !p.Amount.IsPositive() {
		return nil, fmt.Errorf("escrow amount %s must be positive: %w", p.Amount, model.ErrValidation)
	}
	if err := tx.LockWallet(ctx, p.UserID); err != nil {
		return nil, err
	}

	bal, err := tx.Balance(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("balance of %s: %w", p.UserID, err)
	}
	if bal.LessThan(p.Amount) {
		return nil, fmt.Errorf("need %s, have %s: %w", p.Amount, bal, model.ErrInsufficientFunds)
	}

	p.Type = model.TxEscrow
	p.Amount = p.Amount.Neg()
	return l.Post(ctx, tx, p)
}

// Credit adds a positive amount to the user's wallet.
func (l *Ledger) Credit(ctx context.Context, tx store.Tx, p Posting) (*model.Transaction, error) {
	if !p.Amount.IsPositive() {
		return nil, fmt.Errorf("credit amount %s must be positive: %w", p.Amount, model.ErrValidation)
	}
	return l.Post(ctx, tx, p)
}

// Deposit funds a wallet from outside the system.
func (l *Ledger) Deposit(ctx context.Context, tx store.Tx, userID string, amount decimal.Decimal, reference string) (*model.Transaction, error) {
	return l.Credit(ctx, tx, Posting{
		UserID:      userID,
		Type:        model.TxDeposit,
		Amount:      amount,
		Description: "Wallet deposit",
		Reference:   reference,
	})
}

// Balance derives the wallet view of userID from its ledger.
func Balance(ctx context.Context, src store.Reader, userID string) (*model.Balance, error) {
	bal, err := src.Balance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("balance of %s: %w", userID, err)
	}
	return &model.Balance{
		UserID:  userID,
		Balance: bal,
		Coins:   bal.IntPart(),
	}, nil
}

// History returns the user's transactions, newest first.
func History(ctx context.Context, src HistorySource, userID string) ([]model.Transaction, error) {
	txs, err := src.ListTransactionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("history of %s: %w", userID, err)
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	return txs, nil
}

// ParseAmount parses a decimal amount string. Non-numeric and non-finite
// input returns model.ErrValidation.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount is required: %w", model.ErrValidation)
	}
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount %q is not a number: %w", s, model.ErrValidation)
	}
	return amount, nil
}

// Deterministic references for settlement entries.

func EscrowReference(eventID, participantID string) string {
	return fmt.Sprintf("event_%s_join_%s", eventID, participantID)
}

func WinReference(eventID, participantID string) string {
	return fmt.Sprintf("event_%s_win_%s", eventID, participantID)
}

func CreatorFeeReference(eventID string) string {
	return fmt.Sprintf("event_%s_creator_fee", eventID)
}

func NoWinnersReference(eventID string) string {
	return fmt.Sprintf("event_%s_no_winners", eventID)
}

func RefundReference(eventID, participantID string) string {
	return fmt.Sprintf("event_%s_refund_%s", eventID, participantID)
}
