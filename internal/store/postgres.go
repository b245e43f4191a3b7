package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/eventpool/pool-engine/internal/model"
)

//go:embed schema.sql
var schemaSQL string

const (
	pgUniqueViolation = "23505"

	constraintEventUser = "participants_event_user_key"
	constraintReference = "transactions_reference_key"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables and indexes if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) CreateEvent(ctx context.Context, e *model.Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (id, title, category, creator_id, entry_fee, betting_model,
		                     yes_pool, no_pool, event_pool, status, admin_result, result, creator_fee, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11, $12, $13::NUMERIC, $14)`,
		e.ID, e.Title, e.Category, e.CreatorID, e.EntryFee.String(), e.BettingModel,
		e.YesPool.String(), e.NoPool.String(), e.EventPool.String(),
		e.Status, e.AdminResult, e.Result, e.CreatorFee.String(), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create event %s: %w", e.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	return getEvent(ctx, s.pool, id, false)
}

func (s *PostgresStore) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx, selectEvent+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) ListParticipants(ctx context.Context, eventID string) ([]model.Participant, error) {
	return listParticipants(ctx, s.pool, eventID)
}

func (s *PostgresStore) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return balance(ctx, s.pool, userID)
}

func (s *PostgresStore) ListTransactionsByUser(ctx context.Context, userID string) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx, selectTransaction+` WHERE user_id = $1 ORDER BY seq DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (s *PostgresStore) ListTransactionsByRelated(ctx context.Context, relatedID string) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx, selectTransaction+` WHERE related_id = $1 ORDER BY seq`, relatedID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// --- Tx ---

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	return getEvent(ctx, t.tx, id, false)
}

func (t *pgTx) ListParticipants(ctx context.Context, eventID string) ([]model.Participant, error) {
	return listParticipants(ctx, t.tx, eventID)
}

func (t *pgTx) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return balance(ctx, t.tx, userID)
}

func (t *pgTx) LockEvent(ctx context.Context, id string) (*model.Event, error) {
	return getEvent(ctx, t.tx, id, true)
}

// LockWallet takes a transaction-scoped advisory lock keyed on the user.
// Wallets have no row of their own; the balance is a ledger sum.
func (t *pgTx) LockWallet(ctx context.Context, userID string) error {
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
		return fmt.Errorf("lock wallet %s: %w", userID, err)
	}
	return nil
}

func (t *pgTx) UpdateEvent(ctx context.Context, e *model.Event) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE events
		 SET status = $2, admin_result = $3, result = $4, creator_fee = $5::NUMERIC
		 WHERE id = $1`,
		e.ID, e.Status, e.AdminResult, e.Result, e.CreatorFee.String(),
	)
	if err != nil {
		return fmt.Errorf("update event %s: %w", e.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %s: %w", e.ID, model.ErrEventNotFound)
	}
	return nil
}

func (t *pgTx) IncrementPool(ctx context.Context, eventID string, prediction bool, amount decimal.Decimal) error {
	column := "no_pool"
	if prediction {
		column = "yes_pool"
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE events
		 SET `+column+` = `+column+` + $2::NUMERIC, event_pool = event_pool + $2::NUMERIC
		 WHERE id = $1`,
		eventID, amount.String(),
	)
	if err != nil {
		return fmt.Errorf("increment pool %s: %w", eventID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %s: %w", eventID, model.ErrEventNotFound)
	}
	return nil
}

func (t *pgTx) GetParticipant(ctx context.Context, id string) (*model.Participant, error) {
	p, err := scanParticipant(t.tx.QueryRow(ctx, selectParticipant+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("participant %s: %w", id, model.ErrParticipantNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get participant %s: %w", id, err)
	}
	return p, nil
}

func (t *pgTx) InsertParticipant(ctx context.Context, p *model.Participant) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO participants (id, event_id, user_id, prediction, amount, status, matched_with, joined_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8)`,
		p.ID, p.EventID, p.UserID, p.Prediction, p.Amount.String(), p.Status, p.MatchedWith, p.JoinedAt,
	)
	if isUniqueViolation(err, constraintEventUser) {
		return fmt.Errorf("user %s on event %s: %w", p.UserID, p.EventID, model.ErrAlreadyJoined)
	}
	if err != nil {
		return fmt.Errorf("insert participant %s: %w", p.ID, err)
	}
	return nil
}

func (t *pgTx) UpdateParticipant(ctx context.Context, p *model.Participant) error {
	var payout *string
	if p.Payout != nil {
		v := p.Payout.String()
		payout = &v
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE participants
		 SET status = $2, matched_with = $3, payout = $4::NUMERIC, payout_at = $5
		 WHERE id = $1`,
		p.ID, p.Status, p.MatchedWith, payout, p.PayoutAt,
	)
	if err != nil {
		return fmt.Errorf("update participant %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("participant %s: %w", p.ID, model.ErrParticipantNotFound)
	}
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, tr *model.Transaction) error {
	var reference *string
	if tr.Reference != "" {
		reference = &tr.Reference
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, type, amount, description, related_id, status, reference, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7, $8, $9)`,
		tr.ID, tr.UserID, tr.Type, tr.Amount.String(), tr.Description, tr.RelatedID, tr.Status, reference, tr.CreatedAt,
	)
	if isUniqueViolation(err, constraintReference) {
		return fmt.Errorf("reference %s: %w", tr.Reference, model.ErrDuplicateReference)
	}
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", tr.ID, err)
	}
	return nil
}

// --- shared queries ---

const selectEvent = `SELECT id, title, category, creator_id,
        entry_fee::TEXT, betting_model,
        yes_pool::TEXT, no_pool::TEXT, event_pool::TEXT,
        status, admin_result, result, creator_fee::TEXT, created_at
 FROM events`

const selectParticipant = `SELECT id, event_id, user_id, prediction, amount::TEXT,
        status, matched_with, payout::TEXT, payout_at, joined_at
 FROM participants`

const selectTransaction = `SELECT id, user_id, type, amount::TEXT, description,
        related_id, status, COALESCE(reference, ''), created_at
 FROM transactions`

func getEvent(ctx context.Context, q querier, id string, forUpdate bool) (*model.Event, error) {
	query := selectEvent + ` WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	e, err := scanEvent(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", id, model.ErrEventNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}
	return e, nil
}

func listParticipants(ctx context.Context, q querier, eventID string) ([]model.Participant, error) {
	rows, err := q.Query(ctx, selectParticipant+` WHERE event_id = $1 ORDER BY joined_at, seq`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []model.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		participants = append(participants, *p)
	}
	return participants, rows.Err()
}

func balance(ctx context.Context, q querier, userID string) (decimal.Decimal, error) {
	var total string
	err := q.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::TEXT FROM transactions
		 WHERE user_id = $1 AND status = $2`, userID, model.TxCompleted).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance %s: %w", userID, err)
	}
	return decimal.NewFromString(total)
}

func scanEvent(row pgx.Row) (*model.Event, error) {
	var e model.Event
	var entryFee, yesPool, noPool, eventPool, creatorFee string

	if err := row.Scan(&e.ID, &e.Title, &e.Category, &e.CreatorID,
		&entryFee, &e.BettingModel,
		&yesPool, &noPool, &eventPool,
		&e.Status, &e.AdminResult, &e.Result, &creatorFee, &e.CreatedAt); err != nil {
		return nil, err
	}

	e.EntryFee, _ = decimal.NewFromString(entryFee)
	e.YesPool, _ = decimal.NewFromString(yesPool)
	e.NoPool, _ = decimal.NewFromString(noPool)
	e.EventPool, _ = decimal.NewFromString(eventPool)
	e.CreatorFee, _ = decimal.NewFromString(creatorFee)
	return &e, nil
}

func scanParticipant(row pgx.Row) (*model.Participant, error) {
	var p model.Participant
	var amount string
	var payout *string

	if err := row.Scan(&p.ID, &p.EventID, &p.UserID, &p.Prediction, &amount,
		&p.Status, &p.MatchedWith, &payout, &p.PayoutAt, &p.JoinedAt); err != nil {
		return nil, err
	}

	p.Amount, _ = decimal.NewFromString(amount)
	if payout != nil {
		v, err := decimal.NewFromString(*payout)
		if err != nil {
			return nil, fmt.Errorf("parse payout of %s: %w", p.ID, err)
		}
		p.Payout = &v
	}
	return &p, nil
}

func scanTransactions(rows pgx.Rows) ([]model.Transaction, error) {
	var txs []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var amount string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &amount, &t.Description,
			&t.RelatedID, &t.Status, &t.Reference, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Amount, _ = decimal.NewFromString(amount)
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == constraint
}
