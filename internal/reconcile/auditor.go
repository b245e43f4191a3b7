// Package reconcile audits stored events against the ledger.
//
// The auditor is read-only. It recomputes every pool and settlement from
// participants and transactions and reports whatever disagrees with the
// stored event rows. Nothing is repaired automatically.
package reconcile

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/eventpool/pool-engine/internal/metrics"
	"github.com/eventpool/pool-engine/internal/model"
)

// Check names.
const (
	CheckPoolSum       = "pool_sum"       // eventPool == yesPool + noPool
	CheckSidePools     = "side_pools"     // Σ stakes per side == side pool
	CheckEscrow        = "escrow"         // Σ escrow debits == -eventPool
	CheckSettlement    = "settlement"     // Σ settlement credits == payouts + fee
	CheckConservation  = "conservation"   // Σ settlement credits <= eventPool
	CheckWinnerPayouts = "winner_payouts" // Σ event_win credits == Σ won payouts
	CheckPayoutFloor   = "payout_floor"   // every won payout >= stake
	CheckRefunds       = "refunds"        // cancelled: Σ refunds == eventPool
	CheckUnsettled     = "unsettled"      // resolved events leave no open participants
)

// Source is the read side the auditor needs.
type Source interface {
	ListEvents(ctx context.Context) ([]model.Event, error)
	ListParticipants(ctx context.Context, eventID string) ([]model.Participant, error)
	ListTransactionsByRelated(ctx context.Context, relatedID string) ([]model.Transaction, error)
}

// Discrepancy is one failed check on one event.
type Discrepancy struct {
	EventID  string          `json:"event_id"`
	Check    string          `json:"check"`
	Expected decimal.Decimal `json:"expected"`
	Actual   decimal.Decimal `json:"actual"`
	Detail   string          `json:"detail,omitempty"`
}

// Report is the outcome of one audit run.
type Report struct {
	Events        int           `json:"events"`
	ActiveEvents  int           `json:"active_events"`
	Discrepancies []Discrepancy `json:"discrepancies"`
}

// OK reports whether the run found nothing.
func (r *Report) OK() bool {
	return len(r.Discrepancies) == 0
}

// Auditor recomputes event invariants from the store.
type Auditor struct {
	src Source
	log zerolog.Logger
}

// NewAuditor creates an auditor reading from src.
func NewAuditor(src Source, log zerolog.Logger) *Auditor {
	return &Auditor{src: src, log: log}
}

// Run audits every event once. Each discrepancy is logged; the metrics
// reflect the last run.
func (a *Auditor) Run(ctx context.Context) (*Report, error) {
	events, err := a.src.ListEvents(ctx)
	if err != nil {
		metrics.ReconcileRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("list events: %w", err)
	}

	report := &Report{Events: len(events), Discrepancies: []Discrepancy{}}
	for i := range events {
		if err := ctx.Err(); err != nil {
			metrics.ReconcileRuns.WithLabelValues("error").Inc()
			return nil, err
		}
		ev := &events[i]
		if ev.Status == model.EventActive {
			report.ActiveEvents++
		}
		found, err := a.auditEvent(ctx, ev)
		if err != nil {
			metrics.ReconcileRuns.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("audit event %s: %w", ev.ID, err)
		}
		report.Discrepancies = append(report.Discrepancies, found...)
	}

	for _, d := range report.Discrepancies {
		a.log.Warn().
			Str("event_id", d.EventID).
			Str("check", d.Check).
			Str("expected", d.Expected.String()).
			Str("actual", d.Actual.String()).
			Str("detail", d.Detail).
			Msg("reconcile discrepancy")
	}

	metrics.ReconcileDiscrepancies.Set(float64(len(report.Discrepancies)))
	metrics.ActiveEvents.Set(float64(report.ActiveEvents))
	outcome := "clean"
	if !report.OK() {
		outcome = "discrepancies"
	}
	metrics.ReconcileRuns.WithLabelValues(outcome).Inc()

	a.log.Info().
		Int("events", report.Events).
		Int("discrepancies", len(report.Discrepancies)).
		Msg("reconcile run complete")
	return report, nil
}

func (a *Auditor) auditEvent(ctx context.Context, ev *model.Event) ([]Discrepancy, error) {
	participants, err := a.src.ListParticipants(ctx, ev.ID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	txs, err := a.src.ListTransactionsByRelated(ctx, ev.ID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	var out []Discrepancy
	mismatch := func(check string, expected, actual decimal.Decimal, detail string) {
		if !expected.Equal(actual) {
			out = append(out, Discrepancy{EventID: ev.ID, Check: check, Expected: expected, Actual: actual, Detail: detail})
		}
	}

	mismatch(CheckPoolSum, ev.YesPool.Add(ev.NoPool), ev.EventPool, "")

	yes, no := decimal.Zero, decimal.Zero
	wonPayouts := decimal.Zero
	winners, open := 0, 0
	for _, p := range participants {
		if p.Prediction {
			yes = yes.Add(p.Amount)
		} else {
			no = no.Add(p.Amount)
		}
		switch {
		case p.Status == model.ParticipantWon:
			winners++
			if p.Payout == nil {
				out = append(out, Discrepancy{EventID: ev.ID, Check: CheckPayoutFloor, Expected: p.Amount,
					Actual: decimal.Zero, Detail: "participant " + p.ID + " won without a payout"})
				continue
			}
			wonPayouts = wonPayouts.Add(*p.Payout)
			if p.Payout.LessThan(p.Amount) {
				out = append(out, Discrepancy{EventID: ev.ID, Check: CheckPayoutFloor, Expected: p.Amount,
					Actual: *p.Payout, Detail: "participant " + p.ID})
			}
		case !p.Settled():
			open++
		}
	}
	mismatch(CheckSidePools, ev.YesPool, yes, "yes")
	mismatch(CheckSidePools, ev.NoPool, no, "no")

	sums := make(map[string]decimal.Decimal)
	for _, t := range txs {
		if t.Status != model.TxCompleted {
			continue
		}
		s, ok := sums[t.Type]
		if !ok {
			s = decimal.Zero
		}
		sums[t.Type] = s.Add(t.Amount)
	}
	sum := func(txType string) decimal.Decimal {
		if s, ok := sums[txType]; ok {
			return s
		}
		return decimal.Zero
	}

	mismatch(CheckEscrow, ev.EventPool.Neg(), sum(model.TxEscrow), "")

	switch ev.Status {
	case model.EventCompleted:
		credited := sum(model.TxEventWin).Add(sum(model.TxCreatorFee)).Add(sum(model.TxEventNoWinners))
		expected := wonPayouts.Add(ev.CreatorFee)
		detail := "winners"
		if winners == 0 {
			expected = ev.EventPool
			detail = "no winners"
		}
		mismatch(CheckSettlement, expected, credited, detail)
		if credited.GreaterThan(ev.EventPool) {
			out = append(out, Discrepancy{EventID: ev.ID, Check: CheckConservation, Expected: ev.EventPool,
				Actual: credited, Detail: "credits exceed pool"})
		}
		mismatch(CheckWinnerPayouts, wonPayouts, sum(model.TxEventWin), "")
		if open > 0 {
			mismatch(CheckUnsettled, decimal.Zero, decimal.NewFromInt(int64(open)), "participants not settled")
		}
	case model.EventCancelled:
		mismatch(CheckRefunds, ev.EventPool, sum(model.TxRefund), "")
		if open > 0 {
			mismatch(CheckUnsettled, decimal.Zero, decimal.NewFromInt(int64(open)), "participants not refunded")
		}
	}

	return out, nil
}
