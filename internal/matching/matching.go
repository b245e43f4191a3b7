// Package matching pairs opposite-side participants on a first-come,
// first-served basis.
//
// Match status is informational: settlement pays by prediction side and
// never consults it.
package matching

import (
	"context"
	"fmt"

	"github.com/eventpool/pool-engine/internal/model"
)

// Tx is the slice of a store transaction the matcher needs.
type Tx interface {
	ListParticipants(ctx context.Context, eventID string) ([]model.Participant, error)
	UpdateParticipant(ctx context.Context, p *model.Participant) error
}

// FindOpposite returns the index of the earliest-joined participant in
// existing that can be matched with p: opposite prediction, still active,
// not yet matched, and a different user. Equal join times resolve to the
// earlier row, so existing must be in join order. Returns -1 if none
// qualifies.
func FindOpposite(existing []model.Participant, p *model.Participant) int {
	best := -1
	for i := range existing {
		c := &existing[i]
		if c.ID == p.ID || c.UserID == p.UserID {
			continue
		}
		if c.Prediction == p.Prediction || c.Status != model.ParticipantActive || c.MatchedWith != "" {
			continue
		}
		if best == -1 || c.JoinedAt.Before(existing[best].JoinedAt) {
			best = i
		}
	}
	return best
}

// Matcher applies FCFS matching inside a store transaction.
type Matcher struct{}

// NewMatcher creates a matcher.
func NewMatcher() *Matcher {
	return &Matcher{}
}

// TryMatch pairs p with the earliest unmatched opposite-side participant of
// the event. Both rows move to status matched and record each other's user
// ID. Returns the matched participant's ID, or "" if nobody qualified.
// p is updated in place on success.
func (m *Matcher) TryMatch(ctx context.Context, tx Tx, eventID string, p *model.Participant) (string, error) {
	if p.Status != model.ParticipantActive || p.MatchedWith != "" {
		return "", nil
	}

	existing, err := tx.ListParticipants(ctx, eventID)
	if err != nil {
		return "", fmt.Errorf("list participants: %w", err)
	}

	idx := FindOpposite(existing, p)
	if idx < 0 {
		return "", nil
	}
	other := existing[idx]

	other.Status = model.ParticipantMatched
	other.MatchedWith = p.UserID
	if err := tx.UpdateParticipant(ctx, &other); err != nil {
		return "", fmt.Errorf("update matched participant %s: %w", other.ID, err)
	}

	p.Status = model.ParticipantMatched
	p.MatchedWith = other.UserID
	if err := tx.UpdateParticipant(ctx, p); err != nil {
		return "", fmt.Errorf("update participant %s: %w", p.ID, err)
	}

	return other.ID, nil
}
