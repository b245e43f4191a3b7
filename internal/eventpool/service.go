// Package eventpool is the application surface of the pool engine: event
// lifecycle, joins, result declaration, payouts and wallets.
//
// Each mutating operation runs as one store transaction; notifications go
// out only after it commits.
package eventpool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/eventpool/pool-engine/internal/ledger"
	"github.com/eventpool/pool-engine/internal/matching"
	"github.com/eventpool/pool-engine/internal/metrics"
	"github.com/eventpool/pool-engine/internal/model"
	"github.com/eventpool/pool-engine/internal/notify"
	"github.com/eventpool/pool-engine/internal/payout"
	"github.com/eventpool/pool-engine/internal/pool"
	"github.com/eventpool/pool-engine/internal/registry"
	"github.com/eventpool/pool-engine/internal/settlement"
	"github.com/eventpool/pool-engine/internal/stake"
	"github.com/eventpool/pool-engine/internal/store"
)

// Options carries the economic parameters of the platform.
type Options struct {
	CreatorFeeRate           decimal.Decimal
	CustomStakeMaxMultiplier decimal.Decimal
}

// DefaultOptions returns the platform defaults: a 3% creator fee and a
// 10x custom stake ceiling.
func DefaultOptions() Options {
	return Options{
		CreatorFeeRate:           payout.DefaultFeeRate,
		CustomStakeMaxMultiplier: stake.DefaultMaxMultiplier,
	}
}

// CreateEventInput describes a new event.
type CreateEventInput struct {
	Title        string          `json:"title"`
	Category     string          `json:"category"`
	CreatorID    string          `json:"creator_id"`
	EntryFee     decimal.Decimal `json:"entry_fee"`
	BettingModel string          `json:"betting_model"`
}

// JoinResult is a committed join.
type JoinResult struct {
	Participant *model.Participant `json:"participant"`
	Pool        *model.PoolStats   `json:"pool"`
	MatchedWith string             `json:"matched_participant_id,omitempty"`
}

// Service wires the registry, ledger, pool, matcher and settlement engine
// over one store.
type Service struct {
	store    store.Store
	ledger   *ledger.Ledger
	registry *registry.Registry
	pool     *pool.Accumulator
	matcher  *matching.Matcher
	engine   *settlement.Engine
	pub      notify.Publisher
	log      zerolog.Logger
}

// NewService creates the service. pub may be nil.
func NewService(st store.Store, opts Options, pub notify.Publisher, log zerolog.Logger) (*Service, error) {
	calc, err := payout.NewCalculator(opts.CreatorFeeRate)
	if err != nil {
		return nil, err
	}
	if pub == nil {
		pub = notify.Nop{}
	}

	l := ledger.New()
	reg := registry.New(stake.NewPolicy(opts.CustomStakeMaxMultiplier))
	return &Service{
		store:    st,
		ledger:   l,
		registry: reg,
		pool:     pool.NewAccumulator(),
		matcher:  matching.NewMatcher(),
		engine:   settlement.NewEngine(st, calc, l, reg, log.With().Str("component", "settlement").Logger()),
		pub:      pub,
		log:      log,
	}, nil
}

// --- Events ---

// CreateEvent validates input and persists an active event with empty pools.
func (s *Service) CreateEvent(ctx context.Context, in CreateEventInput) (*model.Event, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.CreatorID = strings.TrimSpace(in.CreatorID)
	switch {
	case in.Title == "":
		return nil, fmt.Errorf("title is required: %w", model.ErrValidation)
	case in.CreatorID == "":
		return nil, fmt.Errorf("creator_id is required: %w", model.ErrValidation)
	case !in.EntryFee.IsPositive():
		return nil, fmt.Errorf("entry_fee must be positive: %w", model.ErrValidation)
	case !stake.ValidModel(in.BettingModel):
		return nil, fmt.Errorf("betting_model must be %q or %q: %w", model.BettingFixed, model.BettingCustom, model.ErrValidation)
	}

	ev := &model.Event{
		ID:           uuid.New().String(),
		Title:        in.Title,
		Category:     strings.TrimSpace(in.Category),
		CreatorID:    in.CreatorID,
		EntryFee:     in.EntryFee,
		BettingModel: in.BettingModel,
		YesPool:      decimal.Zero,
		NoPool:       decimal.Zero,
		EventPool:    decimal.Zero,
		Status:       model.EventActive,
		CreatorFee:   decimal.Zero,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}

	metrics.ActiveEvents.Inc()
	s.log.Info().Str("event_id", ev.ID).Str("betting_model", ev.BettingModel).
		Str("entry_fee", ev.EntryFee.String()).Msg("event created")
	return ev, nil
}

func (s *Service) GetEvent(ctx context.Context, eventID string) (*model.Event, error) {
	return s.store.GetEvent(ctx, eventID)
}

func (s *Service) ListEvents(ctx context.Context) ([]model.Event, error) {
	events, err := s.store.ListEvents(ctx)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []model.Event{}
	}
	return events, nil
}

// ListParticipants returns the event's participants ordered by join time.
func (s *Service) ListParticipants(ctx context.Context, eventID string) ([]model.Participant, error) {
	if _, err := s.store.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return registry.ListByEvent(ctx, s.store, eventID)
}

// GetPoolStats returns the event's pool projection.
func (s *Service) GetPoolStats(ctx context.Context, eventID string) (*model.PoolStats, error) {
	return pool.Stats(ctx, s.store, eventID)
}

// --- Participation ---

// JoinEvent escrows amount from the user's wallet and adds them to the
// event on the predicted side, then tries to match them with the earliest
// opposite-side participant. Everything happens in one transaction.
func (s *Service) JoinEvent(ctx context.Context, eventID, userID string, prediction bool, amount decimal.Decimal) (*JoinResult, error) {
	var (
		res          JoinResult
		bettingModel string
	)

	err := s.store.InTx(ctx, func(tx store.Tx) error {
		ev, err := tx.LockEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if ev.Status != model.EventActive || ev.AdminResult != nil {
			return fmt.Errorf("event %s: %w", eventID, model.ErrEventClosed)
		}
		bettingModel = ev.BettingModel

		p, err := s.registry.Join(ctx, tx, ev, userID, prediction, amount)
		if err != nil {
			return err
		}
		if _, err := s.ledger.Escrow(ctx, tx, ledger.Posting{
			UserID:      userID,
			Amount:      amount,
			Description: fmt.Sprintf("Stake on %q", ev.Title),
			RelatedID:   ev.ID,
			Reference:   ledger.EscrowReference(ev.ID, p.ID),
		}); err != nil {
			return err
		}
		if err := s.pool.ApplyJoin(ctx, tx, ev.ID, prediction, amount); err != nil {
			return err
		}
		matched, err := s.matcher.TryMatch(ctx, tx, ev.ID, p)
		if err != nil {
			return err
		}

		stats, err := pool.Stats(ctx, tx, ev.ID)
		if err != nil {
			return err
		}
		res = JoinResult{Participant: p, Pool: stats, MatchedWith: matched}
		return nil
	})
	if err != nil {
		metrics.JoinRejections.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}

	side := "no"
	if prediction {
		side = "yes"
	}
	metrics.JoinsTotal.WithLabelValues(bettingModel, side).Inc()
	metrics.LedgerTransactions.WithLabelValues(model.TxEscrow).Inc()

	s.log.Info().
		Str("event_id", eventID).
		Str("user_id", userID).
		Str("participant_id", res.Participant.ID).
		Bool("prediction", prediction).
		Str("amount", amount.String()).
		Str("matched_with", res.MatchedWith).
		Msg("participant joined")

	joined := notify.New(notify.ParticipantJoined, eventID, res)
	joined.UserID = userID
	s.pub.Publish(ctx, joined)
	if res.MatchedWith != "" {
		s.pub.Publish(ctx, notify.New(notify.ParticipantsMatched, eventID, map[string]string{
			"participant_id":         res.Participant.ID,
			"matched_participant_id": res.MatchedWith,
		}))
	}
	return &res, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, model.ErrInvalidStake):
		return "invalid_stake"
	case errors.Is(err, model.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, model.ErrEventClosed):
		return "event_closed"
	case errors.Is(err, model.ErrAlreadyJoined):
		return "already_joined"
	case errors.Is(err, model.ErrEventNotFound):
		return "not_found"
	case errors.Is(err, model.ErrValidation):
		return "validation"
	}
	return "error"
}

// --- Resolution ---

// AdminSetResult records the declared outcome. It does not pay out.
// A second declaration returns model.ErrAlreadySettled.
func (s *Service) AdminSetResult(ctx context.Context, eventID string, outcome bool) (*model.Event, error) {
	var ev *model.Event
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		ev, err = tx.LockEvent(ctx, eventID)
		if err != nil {
			return err
		}
		switch {
		case ev.Status == model.EventCancelled:
			return fmt.Errorf("event %s is cancelled: %w", eventID, model.ErrEventClosed)
		case ev.Status == model.EventCompleted || ev.AdminResult != nil:
			return fmt.Errorf("event %s: %w", eventID, model.ErrAlreadySettled)
		}

		o, r := outcome, outcome
		ev.AdminResult = &o
		ev.Result = &r
		return tx.UpdateEvent(ctx, ev)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("event_id", eventID).Bool("outcome", outcome).Msg("event result declared")
	s.pub.Publish(ctx, notify.New(notify.EventResultDeclared, eventID, map[string]bool{"result": outcome}))
	return ev, nil
}

// ProcessPayout settles the event for its declared result.
func (s *Service) ProcessPayout(ctx context.Context, eventID string) (*model.SettlementResult, error) {
	res, err := s.engine.SettleDeclared(ctx, eventID)
	if err != nil {
		return nil, err
	}
	s.afterSettle(ctx, res)
	return res, nil
}

// SettleEvent declares outcome if needed and settles in one step.
func (s *Service) SettleEvent(ctx context.Context, eventID string, outcome bool) (*model.SettlementResult, error) {
	res, err := s.engine.Settle(ctx, eventID, outcome)
	if err != nil {
		return nil, err
	}
	s.afterSettle(ctx, res)
	return res, nil
}

func (s *Service) afterSettle(ctx context.Context, res *model.SettlementResult) {
	metrics.ActiveEvents.Dec()
	s.pub.Publish(ctx, notify.New(notify.EventSettled, res.EventID, res))
}

// CancelEvent refunds every participant and closes the event.
func (s *Service) CancelEvent(ctx context.Context, eventID string) (*model.CancelResult, error) {
	res, err := s.engine.Cancel(ctx, eventID)
	if err != nil {
		return nil, err
	}
	metrics.ActiveEvents.Dec()
	s.pub.Publish(ctx, notify.New(notify.EventCancelled, eventID, res))
	return res, nil
}

// --- Wallets ---

// GetBalance derives the user's balance from the ledger.
func (s *Service) GetBalance(ctx context.Context, userID string) (*model.Balance, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required: %w", model.ErrValidation)
	}
	return ledger.Balance(ctx, s.store, userID)
}

// Deposit credits the user's wallet. A repeated non-empty reference
// returns model.ErrDuplicateReference and credits nothing.
func (s *Service) Deposit(ctx context.Context, userID string, amount decimal.Decimal, reference string) (*model.Transaction, error) {
	var tr *model.Transaction
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		tr, err = s.ledger.Deposit(ctx, tx, userID, amount, reference)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.LedgerTransactions.WithLabelValues(model.TxDeposit).Inc()
	s.log.Info().Str("user_id", userID).Str("amount", amount.String()).Msg("wallet deposit")
	return tr, nil
}

// ListTransactions returns the user's ledger, newest first.
func (s *Service) ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	return ledger.History(ctx, s.store, userID)
}
