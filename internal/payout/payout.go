// Package payout computes how an event pool is distributed once the
// outcome is known.
//
// The calculator is stateless: it takes the pool total and the full
// participant list and returns a Plan. Applying the plan (ledger credits,
// status transitions) is the settlement engine's job.
//
// Distribution rules:
//   - A creator fee of FeeRate × pool is taken before any division.
//   - Winners split what remains. Each gets their stake back plus a share
//     of the profit pool (available − Σ winner stakes, floored at 0):
//     equal shares under the fixed model, stake-proportional shares under
//     the custom model.
//   - A winner never receives less than their stake. When the floors
//     leave less than the full fee in the pool, the creator fee is cut to
//     what remains, so credits never exceed the pool.
//   - With no winners the creator receives the whole pool and no fee is
//     charged.
//
// All monetary values use shopspring/decimal, never float64 for money.
package payout

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/eventpool/pool-engine/internal/model"
)

var (
	// ErrInvalidFeeRate is returned when the fee rate is outside [0, 1).
	ErrInvalidFeeRate = errors.New("payout: fee rate must be in [0, 1)")

	// DefaultFeeRate is the platform creator fee: 3% of the pool.
	DefaultFeeRate = decimal.RequireFromString("0.03")

	// Scale is the number of decimal places kept on individual payouts.
	// Payouts are truncated, so rounding dust is never over-credited.
	Scale int32 = 8
)

// WinnerPayout is the credit owed to one winning participant.
type WinnerPayout struct {
	ParticipantID string          `json:"participant_id"`
	UserID        string          `json:"user_id"`
	Stake         decimal.Decimal `json:"stake"`
	Payout        decimal.Decimal `json:"payout"`
}

// Plan is the computed distribution of one event pool.
type Plan struct {
	Outcome          bool
	EventPool        decimal.Decimal
	CreatorFee       decimal.Decimal // fee charged; zero when there are no winners
	AvailablePayout  decimal.Decimal // EventPool - CreatorFee
	TotalWinnerStake decimal.Decimal
	ProfitPool       decimal.Decimal
	Winners          []WinnerPayout
	Losers           []string // participant IDs
	NoWinners        bool
}

// TotalPayout is the amount reported as paid out: the available payout in
// the normal case, the whole pool when it goes to the creator.
func (p *Plan) TotalPayout() decimal.Decimal {
	if p.NoWinners {
		return p.EventPool
	}
	return p.AvailablePayout
}

// CreatorCredit is the amount credited to the event creator.
func (p *Plan) CreatorCredit() decimal.Decimal {
	if p.NoWinners {
		return p.EventPool
	}
	return p.CreatorFee
}

// WinnerCredits returns Σ individual winner payouts.
func (p *Plan) WinnerCredits() decimal.Decimal {
	total := decimal.Zero
	for _, w := range p.Winners {
		total = total.Add(w.Payout)
	}
	return total
}

// Calculator computes payout plans for a fixed creator fee rate.
type Calculator struct {
	feeRate decimal.Decimal
}

// NewCalculator creates a calculator charging feeRate of each pool.
func NewCalculator(feeRate decimal.Decimal) (*Calculator, error) {
	if feeRate.IsNegative() || feeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, ErrInvalidFeeRate
	}
	return &Calculator{feeRate: feeRate}, nil
}

// FeeRate returns the creator fee rate.
func (c *Calculator) FeeRate() decimal.Decimal {
	return c.feeRate
}

// Compute builds the plan for an event pool given every participant and
// the declared outcome. Participants are partitioned purely by prediction;
// matched status plays no part.
func (c *Calculator) Compute(bettingModel string, eventPool decimal.Decimal, participants []model.Participant, outcome bool) *Plan {
	plan := &Plan{
		Outcome:          outcome,
		EventPool:        eventPool,
		CreatorFee:       decimal.Zero,
		AvailablePayout:  eventPool,
		TotalWinnerStake: decimal.Zero,
		ProfitPool:       decimal.Zero,
	}

	var winners []model.Participant
	for _, p := range participants {
		if p.Prediction == outcome {
			winners = append(winners, p)
			plan.TotalWinnerStake = plan.TotalWinnerStake.Add(p.Amount)
		} else {
			plan.Losers = append(plan.Losers, p.ID)
		}
	}

	if len(winners) == 0 {
		plan.NoWinners = true
		return plan
	}

	plan.CreatorFee = eventPool.Mul(c.feeRate)
	plan.AvailablePayout = eventPool.Sub(plan.CreatorFee)

	profit := plan.AvailablePayout.Sub(plan.TotalWinnerStake)
	if profit.IsNegative() {
		profit = decimal.Zero
	}
	plan.ProfitPool = profit

	n := decimal.NewFromInt(int64(len(winners)))
	plan.Winners = make([]WinnerPayout, 0, len(winners))

	for _, w := range winners {
		var bonus decimal.Decimal
		switch {
		case bettingModel == model.BettingFixed:
			bonus = profit.Div(n)
		case plan.TotalWinnerStake.IsPositive():
			// profit × (stake / total), multiplied first to keep precision.
			bonus = profit.Mul(w.Amount).Div(plan.TotalWinnerStake)
		default:
			bonus = profit.Div(n)
		}

		amount := w.Amount.Add(bonus).Truncate(Scale)
		if amount.LessThan(w.Amount) {
			amount = w.Amount
		}

		plan.Winners = append(plan.Winners, WinnerPayout{
			ParticipantID: w.ID,
			UserID:        w.UserID,
			Stake:         w.Amount,
			Payout:        amount,
		})
	}

	if rest := eventPool.Sub(plan.WinnerCredits()); rest.LessThan(plan.CreatorFee) {
		if rest.IsNegative() {
			rest = decimal.Zero
		}
		plan.CreatorFee = rest
		plan.AvailablePayout = eventPool.Sub(rest)
	}

	return plan
}
