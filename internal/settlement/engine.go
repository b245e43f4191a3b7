// Package settlement resolves events: it distributes the pool once the
// outcome is known, or refunds every stake when an event is cancelled.
//
// Each resolution is a single store transaction holding the event lock.
// Either every credit, status change and event update is committed, or
// none is. A resolved event fails fast on the next attempt with
// model.ErrAlreadySettled, and every credit carries a deterministic ledger
// reference so a replay can never pay twice.
package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/eventpool/pool-engine/internal/ledger"
	"github.com/eventpool/pool-engine/internal/metrics"
	"github.com/eventpool/pool-engine/internal/model"
	"github.com/eventpool/pool-engine/internal/payout"
	"github.com/eventpool/pool-engine/internal/registry"
	"github.com/eventpool/pool-engine/internal/store"
)

// NoWinnersMessage describes the zero-winner branch to API clients.
const NoWinnersMessage = "event has no participants for the declared outcome, pool paid to creator"

// Engine settles and cancels events.
type Engine struct {
	store    store.Store
	calc     *payout.Calculator
	ledger   *ledger.Ledger
	registry *registry.Registry
	log      zerolog.Logger
}

// NewEngine creates a settlement engine.
func NewEngine(st store.Store, calc *payout.Calculator, l *ledger.Ledger, reg *registry.Registry, log zerolog.Logger) *Engine {
	return &Engine{
		store:    st,
		calc:     calc,
		ledger:   l,
		registry: reg,
		log:      log,
	}
}

// Settle distributes the event pool for outcome. An undeclared admin
// result is recorded as outcome; a declared one must match it.
func (e *Engine) Settle(ctx context.Context, eventID string, outcome bool) (*model.SettlementResult, error) {
	return e.settle(ctx, eventID, &outcome)
}

// SettleDeclared distributes the event pool for the declared admin
// result. Returns model.ErrSettlementNotReady if none was declared.
func (e *Engine) SettleDeclared(ctx context.Context, eventID string) (*model.SettlementResult, error) {
	return e.settle(ctx, eventID, nil)
}

func (e *Engine) settle(ctx context.Context, eventID string, requested *bool) (*model.SettlementResult, error) {
	start := time.Now()

	var (
		result  *model.SettlementResult
		plan    *payout.Plan
		credits []*model.Transaction
	)

	err := e.store.InTx(ctx, func(tx store.Tx) error {
		credits = credits[:0]

		ev, err := tx.LockEvent(ctx, eventID)
		if err != nil {
			return err
		}
		switch ev.Status {
		case model.EventCompleted:
			return fmt.Errorf("event %s: %w", eventID, model.ErrAlreadySettled)
		case model.EventCancelled:
			return fmt.Errorf("event %s is cancelled: %w", eventID, model.ErrEventClosed)
		}

		var outcome bool
		switch {
		case requested == nil && ev.AdminResult == nil:
			return fmt.Errorf("event %s: %w", eventID, model.ErrSettlementNotReady)
		case requested == nil:
			outcome = *ev.AdminResult
		case ev.AdminResult != nil && *ev.AdminResult != *requested:
			return fmt.Errorf("event %s declared %t, settle requested %t: %w",
				eventID, *ev.AdminResult, *requested, model.ErrOutcomeMismatch)
		default:
			outcome = *requested
		}

		participants, err := tx.ListParticipants(ctx, eventID)
		if err != nil {
			return fmt.Errorf("list participants: %w", err)
		}

		plan = e.calc.Compute(ev.BettingModel, ev.EventPool, participants, outcome)

		if plan.NoWinners {
			credit, err := e.creditCreator(ctx, tx, ev, model.TxEventNoWinners, plan.CreatorCredit(),
				ledger.NoWinnersReference(ev.ID), fmt.Sprintf("No winners on %q, pool returned to creator", ev.Title))
			if err != nil {
				return err
			}
			if credit != nil {
				credits = append(credits, credit)
			}
			for _, id := range plan.Losers {
				if err := e.registry.MarkSettled(ctx, tx, id, model.ParticipantLost, nil); err != nil {
					return err
				}
			}
			ev.CreatorFee = decimal.Zero
		} else {
			for _, w := range plan.Winners {
				amount := w.Payout
				if err := e.registry.MarkSettled(ctx, tx, w.ParticipantID, model.ParticipantWon, &amount); err != nil {
					return err
				}
				credit, err := e.ledger.Credit(ctx, tx, ledger.Posting{
					UserID:      w.UserID,
					Type:        model.TxEventWin,
					Amount:      w.Payout,
					Description: fmt.Sprintf("Winnings from %q", ev.Title),
					RelatedID:   ev.ID,
					Reference:   ledger.WinReference(ev.ID, w.ParticipantID),
				})
				if err != nil {
					return err
				}
				credits = append(credits, credit)
			}
			for _, id := range plan.Losers {
				if err := e.registry.MarkSettled(ctx, tx, id, model.ParticipantLost, nil); err != nil {
					return err
				}
			}
			credit, err := e.creditCreator(ctx, tx, ev, model.TxCreatorFee, plan.CreatorFee,
				ledger.CreatorFeeReference(ev.ID), fmt.Sprintf("Creator fee for %q", ev.Title))
			if err != nil {
				return err
			}
			if credit != nil {
				credits = append(credits, credit)
			}
			ev.CreatorFee = plan.CreatorFee
		}

		o := outcome
		r := outcome
		ev.AdminResult = &o
		ev.Result = &r
		ev.Status = model.EventCompleted
		if err := tx.UpdateEvent(ctx, ev); err != nil {
			return err
		}

		result = &model.SettlementResult{
			EventID:      ev.ID,
			Outcome:      outcome,
			WinnersCount: len(plan.Winners),
			TotalPayout:  plan.TotalPayout(),
			CreatorFee:   ev.CreatorFee,
			NoWinners:    plan.NoWinners,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	branch := "winners"
	if result.NoWinners {
		branch = "no_winners"
	}
	metrics.SettlementsTotal.WithLabelValues(branch).Inc()
	metrics.SettlementLatency.Observe(time.Since(start).Seconds())
	recordCredits(credits)

	e.log.Info().
		Str("event_id", eventID).
		Bool("outcome", result.Outcome).
		Int("winners", result.WinnersCount).
		Int("losers", len(plan.Losers)).
		Str("total_payout", result.TotalPayout.String()).
		Str("creator_fee", result.CreatorFee.String()).
		Bool("no_winners", result.NoWinners).
		Msg("event settled")

	return result, nil
}

// Cancel refunds every stake of an unresolved event and closes it.
// A completed or already cancelled event returns model.ErrAlreadySettled;
// an event with a declared result returns model.ErrEventClosed, since it
// can only be paid out.
func (e *Engine) Cancel(ctx context.Context, eventID string) (*model.CancelResult, error) {
	var (
		result  *model.CancelResult
		credits []*model.Transaction
	)

	err := e.store.InTx(ctx, func(tx store.Tx) error {
		credits = credits[:0]

		ev, err := tx.LockEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if ev.Status == model.EventCompleted || ev.Status == model.EventCancelled {
			return fmt.Errorf("event %s is %s: %w", eventID, ev.Status, model.ErrAlreadySettled)
		}
		if ev.AdminResult != nil {
			return fmt.Errorf("event %s has a declared result: %w", eventID, model.ErrEventClosed)
		}

		participants, err := tx.ListParticipants(ctx, eventID)
		if err != nil {
			return fmt.Errorf("list participants: %w", err)
		}

		result = &model.CancelResult{EventID: ev.ID, RefundedAmount: decimal.Zero}
		for _, p := range participants {
			if p.Settled() {
				continue
			}
			credit, err := e.ledger.Credit(ctx, tx, ledger.Posting{
				UserID:      p.UserID,
				Type:        model.TxRefund,
				Amount:      p.Amount,
				Description: fmt.Sprintf("Refund for cancelled %q", ev.Title),
				RelatedID:   ev.ID,
				Reference:   ledger.RefundReference(ev.ID, p.ID),
			})
			if err != nil {
				return err
			}
			credits = append(credits, credit)
			if err := e.registry.MarkSettled(ctx, tx, p.ID, model.ParticipantRefunded, nil); err != nil {
				return err
			}
			result.RefundedCount++
			result.RefundedAmount = result.RefundedAmount.Add(p.Amount)
		}

		ev.Status = model.EventCancelled
		return tx.UpdateEvent(ctx, ev)
	})
	if err != nil {
		return nil, err
	}

	recordCredits(credits)
	e.log.Info().
		Str("event_id", eventID).
		Int("refunded", result.RefundedCount).
		Str("refunded_amount", result.RefundedAmount.String()).
		Msg("event cancelled")

	return result, nil
}

// creditCreator credits the event creator; a zero amount writes nothing.
func (e *Engine) creditCreator(ctx context.Context, tx store.Tx, ev *model.Event, txType string, amount decimal.Decimal, reference, description string) (*model.Transaction, error) {
	if !amount.IsPositive() {
		return nil, nil
	}
	return e.ledger.Credit(ctx, tx, ledger.Posting{
		UserID:      ev.CreatorID,
		Type:        txType,
		Amount:      amount,
		Description: description,
		RelatedID:   ev.ID,
		Reference:   reference,
	})
}

func recordCredits(credits []*model.Transaction) {
	for _, c := range credits {
		metrics.LedgerTransactions.WithLabelValues(c.Type).Inc()
		metrics.PayoutVolume.WithLabelValues(c.Type).Add(c.Amount.InexactFloat64())
	}
}
