package reconcile_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/eventpool/pool-engine/internal/eventpool"
	"github.com/eventpool/pool-engine/internal/model"
	"github.com/eventpool/pool-engine/internal/reconcile"
	"github.com/eventpool/pool-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// seed runs a realistic mix of events through the service: one settled
// with winners, one settled without, one cancelled and one still open.
func seed(t *testing.T, ms *store.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	svc, err := eventpool.NewService(ms, eventpool.DefaultOptions(), nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	for _, u := range []string{"a", "b", "c"} {
		if _, err := svc.Deposit(ctx, u, d(10000), ""); err != nil {
			t.Fatal(err)
		}
	}
	newEvent := func(bettingModel string) string {
		ev, err := svc.CreateEvent(ctx, eventpool.CreateEventInput{
			Title: "event", CreatorID: "creator", EntryFee: d(100), BettingModel: bettingModel,
		})
		if err != nil {
			t.Fatal(err)
		}
		return ev.ID
	}
	mustJoin := func(eventID, user string, prediction bool, amount float64) {
		if _, err := svc.JoinEvent(ctx, eventID, user, prediction, d(amount)); err != nil {
			t.Fatalf("join %s: %v", user, err)
		}
	}

	won := newEvent(model.BettingCustom)
	mustJoin(won, "a", true, 100)
	mustJoin(won, "b", true, 300)
	mustJoin(won, "c", false, 250)
	if _, err := svc.SettleEvent(ctx, won, true); err != nil {
		t.Fatal(err)
	}

	empty := newEvent(model.BettingFixed)
	mustJoin(empty, "a", true, 100)
	if _, err := svc.SettleEvent(ctx, empty, false); err != nil {
		t.Fatal(err)
	}

	cancelled := newEvent(model.BettingFixed)
	mustJoin(cancelled, "b", false, 100)
	if _, err := svc.CancelEvent(ctx, cancelled); err != nil {
		t.Fatal(err)
	}

	open := newEvent(model.BettingFixed)
	mustJoin(open, "c", true, 100)
}

func TestAuditor_CleanLedger(t *testing.T) {
	ms := store.NewMemoryStore()
	seed(t, ms)

	report, err := reconcile.NewAuditor(ms, zerolog.Nop()).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK() {
		t.Errorf("expected no discrepancies, got %+v", report.Discrepancies)
	}
	if report.Events != 4 || report.ActiveEvents != 1 {
		t.Errorf("unexpected counts: %+v", report)
	}
}

func TestAuditor_DetectsUnbackedPool(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	ev := &model.Event{
		ID: "ev1", Title: "t", CreatorID: "creator", EntryFee: d(100), BettingModel: model.BettingFixed,
		Status: model.EventActive, CreatedAt: time.Now().UTC(),
	}
	if err := ms.CreateEvent(ctx, ev); err != nil {
		t.Fatal(err)
	}
	// Pool moves without a participant or an escrow behind it.
	if err := ms.InTx(ctx, func(tx store.Tx) error {
		return tx.IncrementPool(ctx, "ev1", true, d(100))
	}); err != nil {
		t.Fatal(err)
	}

	report, err := reconcile.NewAuditor(ms, zerolog.Nop()).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	checks := map[string]bool{}
	for _, dis := range report.Discrepancies {
		checks[dis.Check] = true
	}
	if !checks[reconcile.CheckSidePools] || !checks[reconcile.CheckEscrow] || checks[reconcile.CheckPoolSum] {
		t.Errorf("unexpected checks: %+v", report.Discrepancies)
	}
}

// fakeSource serves fixed rows.
type fakeSource struct {
	events       []model.Event
	participants map[string][]model.Participant
	txs          map[string][]model.Transaction
	calls        atomic.Int32
}

func (f *fakeSource) ListEvents(context.Context) ([]model.Event, error) {
	f.calls.Add(1)
	return f.events, nil
}

func (f *fakeSource) ListParticipants(_ context.Context, eventID string) ([]model.Participant, error) {
	return f.participants[eventID], nil
}

func (f *fakeSource) ListTransactionsByRelated(_ context.Context, relatedID string) ([]model.Transaction, error) {
	return f.txs[relatedID], nil
}

func tx(txType string, amount float64) model.Transaction {
	return model.Transaction{Type: txType, Amount: d(amount), RelatedID: "ev1", Status: model.TxCompleted}
}

func TestAuditor_DetectsSettlementDrift(t *testing.T) {
	yes := true
	low := d(90)
	src := &fakeSource{
		events: []model.Event{{
			ID: "ev1", Status: model.EventCompleted, BettingModel: model.BettingFixed,
			YesPool: d(100), NoPool: d(100), EventPool: d(200), CreatorFee: d(6),
			AdminResult: &yes, Result: &yes,
		}},
		participants: map[string][]model.Participant{"ev1": {
			{ID: "p1", Prediction: true, Amount: d(100), Status: model.ParticipantWon, Payout: &low},
			{ID: "p2", Prediction: false, Amount: d(100), Status: model.ParticipantLost},
		}},
		txs: map[string][]model.Transaction{"ev1": {
			tx(model.TxEscrow, -100),
			tx(model.TxEscrow, -100),
			tx(model.TxEventWin, 194),
			tx(model.TxCreatorFee, 6),
		}},
	}

	report, err := reconcile.NewAuditor(src, zerolog.Nop()).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	checks := map[string]bool{}
	for _, dis := range report.Discrepancies {
		checks[dis.Check] = true
	}
	for _, want := range []string{reconcile.CheckPayoutFloor, reconcile.CheckSettlement, reconcile.CheckWinnerPayouts} {
		if !checks[want] {
			t.Errorf("expected %s discrepancy, got %+v", want, report.Discrepancies)
		}
	}
	if checks[reconcile.CheckEscrow] || checks[reconcile.CheckSidePools] {
		t.Errorf("unexpected discrepancies: %+v", report.Discrepancies)
	}
}

func TestAuditor_DetectsCreditsAbovePool(t *testing.T) {
	// Self-consistent payouts and fee that together pay out more than the pool.
	yes := true
	stake := d(500)
	src := &fakeSource{
		events: []model.Event{{
			ID: "ev1", Status: model.EventCompleted, BettingModel: model.BettingFixed,
			YesPool: d(1000), NoPool: decimal.Zero, EventPool: d(1000), CreatorFee: d(30),
			AdminResult: &yes, Result: &yes,
		}},
		participants: map[string][]model.Participant{"ev1": {
			{ID: "p1", Prediction: true, Amount: d(500), Status: model.ParticipantWon, Payout: &stake},
			{ID: "p2", Prediction: true, Amount: d(500), Status: model.ParticipantWon, Payout: &stake},
		}},
		txs: map[string][]model.Transaction{"ev1": {
			tx(model.TxEscrow, -500),
			tx(model.TxEscrow, -500),
			tx(model.TxEventWin, 500),
			tx(model.TxEventWin, 500),
			tx(model.TxCreatorFee, 30),
		}},
	}

	report, err := reconcile.NewAuditor(src, zerolog.Nop()).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Discrepancies) != 1 || report.Discrepancies[0].Check != reconcile.CheckConservation {
		t.Fatalf("expected only a conservation discrepancy, got %+v", report.Discrepancies)
	}
	if !report.Discrepancies[0].Actual.Equal(d(1030)) {
		t.Errorf("expected actual 1030, got %s", report.Discrepancies[0].Actual)
	}
}

func TestAuditor_PendingTransactionsIgnored(t *testing.T) {
	src := &fakeSource{
		events: []model.Event{{ID: "ev1", Status: model.EventActive, YesPool: d(100), NoPool: decimal.Zero, EventPool: d(100)}},
		participants: map[string][]model.Participant{"ev1": {
			{ID: "p1", Prediction: true, Amount: d(100), Status: model.ParticipantActive},
		}},
		txs: map[string][]model.Transaction{"ev1": {
			tx(model.TxEscrow, -100),
			{Type: model.TxEscrow, Amount: d(-100), RelatedID: "ev1", Status: model.TxPending},
		}},
	}
	report, err := reconcile.NewAuditor(src, zerolog.Nop()).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK() {
		t.Errorf("expected clean report, got %+v", report.Discrepancies)
	}
}

func TestAuditor_CancelledContext(t *testing.T) {
	src := &fakeSource{events: []model.Event{{ID: "ev1", Status: model.EventActive}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := reconcile.NewAuditor(src, zerolog.Nop()).Run(ctx); err == nil {
		t.Error("expected an error for a cancelled context")
	}
}

// --- Scheduler ---

func TestNewScheduler_RejectsBadSchedule(t *testing.T) {
	a := reconcile.NewAuditor(&fakeSource{}, zerolog.Nop())
	if _, err := reconcile.NewScheduler(a, "every five minutes", zerolog.Nop()); err == nil {
		t.Error("expected an error for a malformed schedule")
	}
}

func TestScheduler_RunsAuditor(t *testing.T) {
	src := &fakeSource{}
	s, err := reconcile.NewScheduler(reconcile.NewAuditor(src, zerolog.Nop()), "@every 1s", zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for src.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if src.calls.Load() == 0 {
		t.Error("expected the auditor to run at least once")
	}
}
