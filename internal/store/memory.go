package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/eventpool/pool-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Transactions are serialized behind one mutex and run against a copy of
// the state; the copy replaces the live state only when fn succeeds.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

type memState struct {
	events       map[string]model.Event
	participants map[string]model.Participant
	joinOrder    []string // participant IDs in insertion order
	ledger       []model.Transaction
	references   map[string]struct{}
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memState{
			events:       make(map[string]model.Event),
			participants: make(map[string]model.Participant),
			references:   make(map[string]struct{}),
		},
	}
}

func (st *memState) clone() *memState {
	c := &memState{
		events:       make(map[string]model.Event, len(st.events)),
		participants: make(map[string]model.Participant, len(st.participants)),
		joinOrder:    append([]string(nil), st.joinOrder...),
		ledger:       append([]model.Transaction(nil), st.ledger...),
		references:   make(map[string]struct{}, len(st.references)),
	}
	for k, v := range st.events {
		c.events[k] = v
	}
	for k, v := range st.participants {
		c.participants[k] = v
	}
	for k := range st.references {
		c.references[k] = struct{}{}
	}
	return c
}

// Pointer fields are duplicated so callers never alias stored rows.
func copyEvent(e model.Event) *model.Event {
	if e.AdminResult != nil {
		v := *e.AdminResult
		e.AdminResult = &v
	}
	if e.Result != nil {
		v := *e.Result
		e.Result = &v
	}
	return &e
}

func copyParticipant(p model.Participant) model.Participant {
	if p.Payout != nil {
		v := *p.Payout
		p.Payout = &v
	}
	if p.PayoutAt != nil {
		v := *p.PayoutAt
		p.PayoutAt = &v
	}
	return p
}

// --- state reads (caller holds the lock) ---

func (st *memState) getEvent(id string) (*model.Event, error) {
	e, ok := st.events[id]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", id, model.ErrEventNotFound)
	}
	return copyEvent(e), nil
}

func (st *memState) listParticipants(eventID string) []model.Participant {
	var result []model.Participant
	for _, id := range st.joinOrder {
		p := st.participants[id]
		if p.EventID == eventID {
			result = append(result, copyParticipant(p))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].JoinedAt.Before(result[j].JoinedAt)
	})
	return result
}

func (st *memState) balance(userID string) decimal.Decimal {
	total := decimal.Zero
	for _, t := range st.ledger {
		if t.UserID == userID && t.Status == model.TxCompleted {
			total = total.Add(t.Amount)
		}
	}
	return total
}

// --- Store ---

func (s *MemoryStore) CreateEvent(_ context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.state.events[e.ID]; exists {
		return fmt.Errorf("event %s already exists", e.ID)
	}
	s.state.events[e.ID] = *copyEvent(*e)
	return nil
}

func (s *MemoryStore) GetEvent(_ context.Context, id string) (*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.getEvent(id)
}

func (s *MemoryStore) ListEvents(_ context.Context) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]model.Event, 0, len(s.state.events))
	for _, e := range s.state.events {
		events = append(events, *copyEvent(e))
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].CreatedAt.After(events[j].CreatedAt)
	})
	return events, nil
}

func (s *MemoryStore) ListParticipants(_ context.Context, eventID string) ([]model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listParticipants(eventID), nil
}

func (s *MemoryStore) Balance(_ context.Context, userID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.balance(userID), nil
}

func (s *MemoryStore) ListTransactionsByUser(_ context.Context, userID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	for i := len(s.state.ledger) - 1; i >= 0; i-- {
		if s.state.ledger[i].UserID == userID {
			result = append(result, s.state.ledger[i])
		}
	}
	return result, nil
}

func (s *MemoryStore) ListTransactionsByRelated(_ context.Context, relatedID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	for _, t := range s.state.ledger {
		if t.RelatedID == relatedID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.state.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	// A caller timeout during fn aborts the commit.
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// --- Tx ---

// memTx mutates a private copy of the state; MemoryStore.InTx already
// holds the write lock, so the Lock* methods only check existence.
type memTx struct {
	st *memState
}

func (t *memTx) GetEvent(_ context.Context, id string) (*model.Event, error) {
	return t.st.getEvent(id)
}

func (t *memTx) ListParticipants(_ context.Context, eventID string) ([]model.Participant, error) {
	return t.st.listParticipants(eventID), nil
}

func (t *memTx) Balance(_ context.Context, userID string) (decimal.Decimal, error) {
	return t.st.balance(userID), nil
}

func (t *memTx) LockEvent(_ context.Context, id string) (*model.Event, error) {
	return t.st.getEvent(id)
}

func (t *memTx) LockWallet(_ context.Context, _ string) error { return nil }

func (t *memTx) UpdateEvent(_ context.Context, e *model.Event) error {
	cur, ok := t.st.events[e.ID]
	if !ok {
		return fmt.Errorf("event %s: %w", e.ID, model.ErrEventNotFound)
	}
	updated := copyEvent(*e)
	cur.Status = updated.Status
	cur.AdminResult = updated.AdminResult
	cur.Result = updated.Result
	cur.CreatorFee = updated.CreatorFee
	t.st.events[e.ID] = cur
	return nil
}

func (t *memTx) IncrementPool(_ context.Context, eventID string, prediction bool, amount decimal.Decimal) error {
	e, ok := t.st.events[eventID]
	if !ok {
		return fmt.Errorf("event %s: %w", eventID, model.ErrEventNotFound)
	}
	if prediction {
		e.YesPool = e.YesPool.Add(amount)
	} else {
		e.NoPool = e.NoPool.Add(amount)
	}
	e.EventPool = e.EventPool.Add(amount)
	t.st.events[eventID] = e
	return nil
}

func (t *memTx) GetParticipant(_ context.Context, id string) (*model.Participant, error) {
	p, ok := t.st.participants[id]
	if !ok {
		return nil, fmt.Errorf("participant %s: %w", id, model.ErrParticipantNotFound)
	}
	cp := copyParticipant(p)
	return &cp, nil
}

func (t *memTx) InsertParticipant(_ context.Context, p *model.Participant) error {
	if _, exists := t.st.participants[p.ID]; exists {
		return fmt.Errorf("participant %s already exists", p.ID)
	}
	for _, existing := range t.st.participants {
		if existing.EventID == p.EventID && existing.UserID == p.UserID {
			return fmt.Errorf("user %s on event %s: %w", p.UserID, p.EventID, model.ErrAlreadyJoined)
		}
	}
	t.st.participants[p.ID] = copyParticipant(*p)
	t.st.joinOrder = append(t.st.joinOrder, p.ID)
	return nil
}

func (t *memTx) UpdateParticipant(_ context.Context, p *model.Participant) error {
	cur, ok := t.st.participants[p.ID]
	if !ok {
		return fmt.Errorf("participant %s: %w", p.ID, model.ErrParticipantNotFound)
	}
	updated := copyParticipant(*p)
	cur.Status = updated.Status
	cur.MatchedWith = updated.MatchedWith
	cur.Payout = updated.Payout
	cur.PayoutAt = updated.PayoutAt
	t.st.participants[p.ID] = cur
	return nil
}

func (t *memTx) InsertTransaction(_ context.Context, tr *model.Transaction) error {
	if tr.Reference != "" {
		if _, exists := t.st.references[tr.Reference]; exists {
			return fmt.Errorf("reference %s: %w", tr.Reference, model.ErrDuplicateReference)
		}
		t.st.references[tr.Reference] = struct{}{}
	}
	t.st.ledger = append(t.st.ledger, *tr)
	return nil
}
