// Package registry manages participant rows: who joined an event, on which
// side, with what stake, and how they were settled.
package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/eventpool/pool-engine/internal/model"
	"github.com/eventpool/pool-engine/internal/stake"
	"github.com/eventpool/pool-engine/internal/store"
)

// Registry creates and settles participants inside store transactions.
// It never moves funds; escrow and credits belong to the ledger.
type Registry struct {
	policy stake.Policy
	now    func() time.Time
}

// New creates a registry enforcing policy on every join.
func New(policy stake.Policy) *Registry {
	return &Registry{
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Policy returns the stake policy in force.
func (r *Registry) Policy() stake.Policy {
	return r.policy
}

// Join validates amount against the event's betting model and inserts an
// active participant. Returns model.ErrInvalidStake for a disallowed amount
// and model.ErrAlreadyJoined if the user is already in the event.
func (r *Registry) Join(ctx context.Context, tx store.Tx, event *model.Event, userID string, prediction bool, amount decimal.Decimal) (*model.Participant, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required: %w", model.ErrValidation)
	}
	if err := r.policy.Check(event.BettingModel, event.EntryFee, amount); err != nil {
		return nil, err
	}

	p := &model.Participant{
		ID:         uuid.New().String(),
		EventID:    event.ID,
		UserID:     userID,
		Prediction: prediction,
		Amount:     amount,
		Status:     model.ParticipantActive,
		JoinedAt:   r.now(),
	}
	if err := tx.InsertParticipant(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ListByEvent returns the event's participants ordered by join time.
func ListByEvent(ctx context.Context, src store.Reader, eventID string) ([]model.Participant, error) {
	ps, err := src.ListParticipants(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list participants of %s: %w", eventID, err)
	}
	if ps == nil {
		ps = []model.Participant{}
	}
	return ps, nil
}

// MarkSettled moves a participant to a terminal status. payout is
// recorded only for won. The transition is one-way: repeating the same
// status is a no-op, a different status on a settled participant returns
// model.ErrAlreadySettled.
func (r *Registry) MarkSettled(ctx context.Context, tx store.Tx, participantID, status string, payout *decimal.Decimal) error {
	switch status {
	case model.ParticipantWon, model.ParticipantLost, model.ParticipantRefunded:
	default:
		return fmt.Errorf("status %q is not terminal: %w", status, model.ErrValidation)
	}

	p, err := tx.GetParticipant(ctx, participantID)
	if err != nil {
		return err
	}
	if p.Settled() {
		if p.Status == status {
			return nil
		}
		return fmt.Errorf("participant %s is %s: %w", participantID, p.Status, model.ErrAlreadySettled)
	}

	now := r.now()
	p.Status = status
	p.PayoutAt = &now
	p.Payout = nil
	if status == model.ParticipantWon && payout != nil {
		v := *payout
		p.Payout = &v
	}
	return tx.UpdateParticipant(ctx, p)
}
