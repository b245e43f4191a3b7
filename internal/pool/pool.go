// Package pool maintains the per-side stake totals of an event.
//
// Pools only grow, and only by the amount of an accepted join, inside the
// same store transaction as that join's escrow debit. EventPool is always
// YesPool + NoPool.
package pool

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/eventpool/pool-engine/internal/model"
	"github.com/eventpool/pool-engine/internal/store"
)

// Accumulator applies joins to event pools.
type Accumulator struct{}

// NewAccumulator creates a pool accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// ApplyJoin adds amount to the side matching prediction and to the total.
func (a *Accumulator) ApplyJoin(ctx context.Context, tx store.Tx, eventID string, prediction bool, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("pool increment %s must be positive: %w", amount, model.ErrValidation)
	}
	if err := tx.IncrementPool(ctx, eventID, prediction, amount); err != nil {
		return fmt.Errorf("apply join to %s: %w", eventID, err)
	}
	return nil
}

// Stats projects the event's pool totals and participant count.
func Stats(ctx context.Context, src store.Reader, eventID string) (*model.PoolStats, error) {
	e, err := src.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	ps, err := src.ListParticipants(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list participants of %s: %w", eventID, err)
	}
	return &model.PoolStats{
		EventID:           e.ID,
		TotalPool:         e.EventPool,
		YesPool:           e.YesPool,
		NoPool:            e.NoPool,
		ParticipantsCount: len(ps),
	}, nil
}
