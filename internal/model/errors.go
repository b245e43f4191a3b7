package model

import "errors"

var (
	// ErrValidation is returned for malformed input (non-numeric amounts,
	// missing fields, unknown betting models).
	ErrValidation = errors.New("validation failed")

	// ErrInvalidStake is returned when a join amount violates the event's
	// betting model.
	ErrInvalidStake = errors.New("stake amount not permitted for this event's betting model")

	ErrEventNotFound       = errors.New("event not found")
	ErrParticipantNotFound = errors.New("participant not found")

	// ErrAlreadySettled means the work is already done: the event was
	// resolved, its result was declared, or the participant was settled.
	// Callers should treat it as a no-op, not as a failure to retry.
	ErrAlreadySettled = errors.New("event already resolved")

	// ErrSettlementNotReady is returned when a payout is requested before
	// the result has been declared.
	ErrSettlementNotReady = errors.New("event result has not been declared")

	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrEventClosed is returned for joins on events that are no longer
	// active or already have a declared result, and for settling a
	// cancelled event.
	ErrEventClosed = errors.New("event is not accepting participants")

	ErrAlreadyJoined = errors.New("user already joined this event")

	// ErrDuplicateReference is returned when a transaction reference
	// (idempotency key) was already recorded.
	ErrDuplicateReference = errors.New("transaction reference already recorded")

	// ErrOutcomeMismatch is returned when settlement is requested with an
	// outcome different from the declared admin result.
	ErrOutcomeMismatch = errors.New("outcome does not match declared result")
)
