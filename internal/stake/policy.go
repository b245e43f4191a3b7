// Package stake validates join amounts against an event's betting model.
//
// Two models exist:
//   - fixed:  the stake must equal the entry fee exactly
//   - custom: the stake must lie in [entryFee, MaxMultiplier * entryFee]
//
// The multiplier is platform configuration, not a literal.
package stake

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/eventpool/pool-engine/internal/model"
)

// DefaultMaxMultiplier is the custom-model ceiling used when none is configured.
var DefaultMaxMultiplier = decimal.NewFromInt(10)

// Policy enforces betting-model stake constraints.
type Policy struct {
	// MaxMultiplier bounds custom stakes from above as a multiple of the
	// entry fee.
	MaxMultiplier decimal.Decimal
}

// NewPolicy creates a policy with the given custom-model multiplier.
// Values below 1 fall back to DefaultMaxMultiplier.
func NewPolicy(maxMultiplier decimal.Decimal) Policy {
	if maxMultiplier.LessThan(decimal.NewFromInt(1)) {
		maxMultiplier = DefaultMaxMultiplier
	}
	return Policy{MaxMultiplier: maxMultiplier}
}

// Check validates amount for an event with the given betting model and
// entry fee. Returns nil if the stake is allowed, or an error wrapping
// model.ErrInvalidStake describing the violation.
func (p Policy) Check(bettingModel string, entryFee, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive, got %s", model.ErrInvalidStake, amount)
	}

	switch bettingModel {
	case model.BettingFixed:
		if !amount.Equal(entryFee) {
			return fmt.Errorf("%w: fixed model requires exactly %s, got %s",
				model.ErrInvalidStake, entryFee, amount)
		}
		return nil

	case model.BettingCustom:
		max := p.Max(entryFee)
		if amount.LessThan(entryFee) {
			return fmt.Errorf("%w: minimum stake is %s, got %s", model.ErrInvalidStake, entryFee, amount)
		}
		if amount.GreaterThan(max) {
			return fmt.Errorf("%w: maximum stake is %s, got %s", model.ErrInvalidStake, max, amount)
		}
		return nil
	}

	return fmt.Errorf("%w: unknown betting model %q", model.ErrValidation, bettingModel)
}

// Max returns the largest custom stake allowed for entryFee.
func (p Policy) Max(entryFee decimal.Decimal) decimal.Decimal {
	m := p.MaxMultiplier
	if m.IsZero() {
		m = DefaultMaxMultiplier
	}
	return entryFee.Mul(m)
}

// ValidModel reports whether s names a supported betting model.
func ValidModel(s string) bool {
	return s == model.BettingFixed || s == model.BettingCustom
}
