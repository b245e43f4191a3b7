// Package store defines the persistence interface for the pool engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and development).
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/eventpool/pool-engine/internal/model"
)

// Reader is the read side shared by Store and Tx.
type Reader interface {
	// GetEvent retrieves an event by ID. Returns model.ErrEventNotFound.
	GetEvent(ctx context.Context, id string) (*model.Event, error)

	// ListParticipants returns an event's participants ordered by join time.
	ListParticipants(ctx context.Context, eventID string) ([]model.Participant, error)

	// Balance sums the user's completed transactions.
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	Reader

	// CreateEvent persists a new event.
	CreateEvent(ctx context.Context, event *model.Event) error

	// ListEvents returns all events, newest first.
	ListEvents(ctx context.Context) ([]model.Event, error)

	// ListTransactionsByUser returns a user's ledger, newest first.
	ListTransactionsByUser(ctx context.Context, userID string) ([]model.Transaction, error)

	// ListTransactionsByRelated returns all ledger entries tied to an
	// event, oldest first.
	ListTransactionsByRelated(ctx context.Context, relatedID string) ([]model.Transaction, error)

	// InTx runs fn as one atomic unit of work. If fn returns an error
	// nothing it wrote is kept.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}

// Tx is the write side of the store, valid only inside InTx.
type Tx interface {
	Reader

	// LockEvent loads an event and holds it exclusively until the
	// transaction ends. Concurrent joins and settlements of the same event
	// serialize here.
	LockEvent(ctx context.Context, id string) (*model.Event, error)

	// LockWallet holds the user's wallet exclusively until the transaction
	// ends, so a balance check and the debit that follows cannot interleave
	// with another debit.
	LockWallet(ctx context.Context, userID string) error

	// UpdateEvent persists lifecycle fields: status, admin result, result
	// and creator fee. Pool totals change only through IncrementPool.
	UpdateEvent(ctx context.Context, event *model.Event) error

	// IncrementPool adds amount to the YES or NO pool and to the event pool.
	IncrementPool(ctx context.Context, eventID string, prediction bool, amount decimal.Decimal) error

	// GetParticipant retrieves one participant. Returns model.ErrParticipantNotFound.
	GetParticipant(ctx context.Context, id string) (*model.Participant, error)

	// InsertParticipant appends a participant row. Returns
	// model.ErrAlreadyJoined if the user already joined the event.
	InsertParticipant(ctx context.Context, p *model.Participant) error

	// UpdateParticipant persists status, match and payout fields.
	UpdateParticipant(ctx context.Context, p *model.Participant) error

	// InsertTransaction appends an immutable ledger entry. Returns
	// model.ErrDuplicateReference if a non-empty reference already exists.
	InsertTransaction(ctx context.Context, t *model.Transaction) error
}
