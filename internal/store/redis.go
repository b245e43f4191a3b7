package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/eventpool/pool-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// Keys touched inside InTx are invalidated only after the transaction
// commits, so a rolled-back unit of work leaves the cache untouched.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateEvent(ctx context.Context, e *model.Event) error {
	if err := s.primary.CreateEvent(ctx, e); err != nil {
		return err
	}
	s.set(ctx, eventKey(e.ID), e)
	return nil
}

func (s *CachedStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	ct := &cachedTx{
		events: make(map[string]struct{}),
		users:  make(map[string]struct{}),
	}
	err := s.primary.InTx(ctx, func(tx Tx) error {
		ct.Tx = tx
		return fn(ct)
	})
	if err != nil {
		return err
	}

	keys := make([]string, 0, 2*len(ct.events)+len(ct.users))
	for id := range ct.events {
		keys = append(keys, eventKey(id), participantsKey(id))
	}
	for uid := range ct.users {
		keys = append(keys, balanceKey(uid))
	}
	if len(keys) > 0 {
		s.rdb.Del(ctx, keys...)
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	var e model.Event
	if s.get(ctx, eventKey(id), &e) {
		return &e, nil
	}

	// Cache miss: read from primary.
	ev, err := s.primary.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	s.set(ctx, eventKey(id), ev)
	return ev, nil
}

func (s *CachedStore) ListParticipants(ctx context.Context, eventID string) ([]model.Participant, error) {
	var participants []model.Participant
	if s.get(ctx, participantsKey(eventID), &participants) {
		return participants, nil
	}

	participants, err := s.primary.ListParticipants(ctx, eventID)
	if err != nil {
		return nil, err
	}
	s.set(ctx, participantsKey(eventID), participants)
	return participants, nil
}

func (s *CachedStore) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var bal decimal.Decimal
	if s.get(ctx, balanceKey(userID), &bal) {
		return bal, nil
	}

	bal, err := s.primary.Balance(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	s.set(ctx, balanceKey(userID), bal)
	return bal, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListEvents(ctx context.Context) ([]model.Event, error) {
	return s.primary.ListEvents(ctx)
}

func (s *CachedStore) ListTransactionsByUser(ctx context.Context, userID string) ([]model.Transaction, error) {
	return s.primary.ListTransactionsByUser(ctx, userID)
}

func (s *CachedStore) ListTransactionsByRelated(ctx context.Context, relatedID string) ([]model.Transaction, error) {
	return s.primary.ListTransactionsByRelated(ctx, relatedID)
}

func (s *CachedStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return s.primary.Ping(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) get(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) set(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

// cachedTx records which events and wallets a transaction wrote to.
type cachedTx struct {
	Tx
	events map[string]struct{}
	users  map[string]struct{}
}

func (t *cachedTx) UpdateEvent(ctx context.Context, e *model.Event) error {
	t.events[e.ID] = struct{}{}
	return t.Tx.UpdateEvent(ctx, e)
}

func (t *cachedTx) IncrementPool(ctx context.Context, eventID string, prediction bool, amount decimal.Decimal) error {
	t.events[eventID] = struct{}{}
	return t.Tx.IncrementPool(ctx, eventID, prediction, amount)
}

func (t *cachedTx) InsertParticipant(ctx context.Context, p *model.Participant) error {
	t.events[p.EventID] = struct{}{}
	return t.Tx.InsertParticipant(ctx, p)
}

func (t *cachedTx) UpdateParticipant(ctx context.Context, p *model.Participant) error {
	t.events[p.EventID] = struct{}{}
	return t.Tx.UpdateParticipant(ctx, p)
}

func (t *cachedTx) InsertTransaction(ctx context.Context, tr *model.Transaction) error {
	t.users[tr.UserID] = struct{}{}
	return t.Tx.InsertTransaction(ctx, tr)
}

func eventKey(id string) string        { return fmt.Sprintf("event:%s", id) }
func participantsKey(id string) string { return fmt.Sprintf("participants:%s", id) }
func balanceKey(userID string) string  { return fmt.Sprintf("balance:%s", userID) }
