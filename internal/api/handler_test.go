package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/eventpool/pool-engine/internal/api"
	"github.com/eventpool/pool-engine/internal/eventpool"
	"github.com/eventpool/pool-engine/internal/model"
	"github.com/eventpool/pool-engine/internal/settlement"
	"github.com/eventpool/pool-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates a handler over an in-memory store behind a chi router.
func newTestEnv(t *testing.T) chi.Router {
	t.Helper()
	svc, err := eventpool.NewService(store.NewMemoryStore(), eventpool.DefaultOptions(), nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(api.AccessLog(zerolog.Nop())...)
	r.Route("/api/v1", api.NewHandler(svc).Routes)
	return r
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func createEvent(t *testing.T, router http.Handler, bettingModel, entryFee string) model.Event {
	t.Helper()
	body, _ := json.Marshal(map[string]string{
		"title":         "Will the final go to penalties?",
		"category":      "sports",
		"creator_id":    "creator",
		"entry_fee":     entryFee,
		"betting_model": bettingModel,
	})
	w := do(t, router, "POST", "/api/v1/events", string(body))
	if w.Code != http.StatusCreated {
		t.Fatalf("create event: %d %s", w.Code, w.Body.String())
	}
	var ev model.Event
	decode(t, w, &ev)
	return ev
}

func deposit(t *testing.T, router http.Handler, user, amount string) {
	t.Helper()
	w := do(t, router, "POST", "/api/v1/wallets/"+user+"/deposit", `{"amount":"`+amount+`"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("deposit: %d %s", w.Code, w.Body.String())
	}
}

func join(t *testing.T, router http.Handler, eventID, user string, prediction bool, amount string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(map[string]any{"user_id": user, "prediction": prediction, "amount": amount})
	return do(t, router, "POST", "/api/v1/events/"+eventID+"/join", string(body))
}

// --- Events ---

func TestCreateEvent(t *testing.T) {
	router := newTestEnv(t)
	ev := createEvent(t, router, model.BettingFixed, "500")

	if ev.ID == "" || ev.Status != model.EventActive || !ev.EntryFee.Equal(d(500)) {
		t.Errorf("unexpected event: %+v", ev)
	}

	w := do(t, router, "GET", "/api/v1/events/"+ev.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get event: %d %s", w.Code, w.Body.String())
	}

	w = do(t, router, "GET", "/api/v1/events", "")
	var events []model.Event
	decode(t, w, &events)
	if len(events) != 1 || events[0].ID != ev.ID {
		t.Errorf("unexpected list: %+v", events)
	}
}

func TestCreateEvent_BadRequests(t *testing.T) {
	router := newTestEnv(t)
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"title":`},
		{"unknown model", `{"title":"t","creator_id":"c","entry_fee":"10","betting_model":"odds"}`},
		{"non-numeric fee", `{"title":"t","creator_id":"c","entry_fee":"ten","betting_model":"fixed"}`},
		{"missing title", `{"creator_id":"c","entry_fee":"10","betting_model":"fixed"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, "POST", "/api/v1/events", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestGetEvent_NotFound(t *testing.T) {
	router := newTestEnv(t)
	for _, path := range []string{
		"/api/v1/events/missing",
		"/api/v1/events/missing/participants",
		"/api/v1/events/missing/pool",
	} {
		if w := do(t, router, "GET", path, ""); w.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, w.Code)
		}
	}
}

// --- Participation ---

func TestJoinEvent(t *testing.T) {
	router := newTestEnv(t)
	ev := createEvent(t, router, model.BettingCustom, "100")
	deposit(t, router, "alice", "1000")

	w := join(t, router, ev.ID, "alice", true, "250.50")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var res eventpool.JoinResult
	decode(t, w, &res)
	if !res.Participant.Amount.Equal(d(250.5)) || !res.Pool.YesPool.Equal(d(250.5)) {
		t.Errorf("unexpected join: %+v %+v", res.Participant, res.Pool)
	}

	w = do(t, router, "GET", "/api/v1/wallets/alice", "")
	var bal model.Balance
	decode(t, w, &bal)
	if !bal.Balance.Equal(d(749.5)) || bal.Coins != 749 {
		t.Errorf("unexpected balance: %+v", bal)
	}

	// Amounts are serialized as strings.
	w = do(t, router, "GET", "/api/v1/events/"+ev.ID+"/pool", "")
	if !strings.Contains(w.Body.String(), `"total_pool":"250.5"`) {
		t.Errorf("expected string amount, got %s", w.Body.String())
	}
}

func TestJoinEvent_ErrorStatuses(t *testing.T) {
	router := newTestEnv(t)
	ev := createEvent(t, router, model.BettingFixed, "500")
	deposit(t, router, "rich", "5000")
	deposit(t, router, "poor", "100")

	if w := join(t, router, ev.ID, "rich", true, "500"); w.Code != http.StatusCreated {
		t.Fatalf("first join: %d %s", w.Code, w.Body.String())
	}

	tests := []struct {
		name   string
		event  string
		user   string
		amount string
		want   int
	}{
		{"wrong fixed stake", ev.ID, "rich2", "499", http.StatusBadRequest},
		{"insufficient funds", ev.ID, "poor", "500", http.StatusPaymentRequired},
		{"already joined", ev.ID, "rich", "500", http.StatusConflict},
		{"missing event", "missing", "rich", "500", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := join(t, router, tt.event, tt.user, false, tt.amount)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}

	w := do(t, router, "POST", "/api/v1/events/"+ev.ID+"/join", `{"prediction":true,"amount":"500"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing user: expected 400, got %d", w.Code)
	}
	w = do(t, router, "POST", "/api/v1/events/"+ev.ID+"/join", `{"user_id":"x","amount":"500"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing prediction: expected 400, got %d", w.Code)
	}
}

// --- Resolution ---

func TestResultAndPayout(t *testing.T) {
	router := newTestEnv(t)
	ev := createEvent(t, router, model.BettingCustom, "100")
	deposit(t, router, "a", "1000")
	deposit(t, router, "b", "1000")
	join(t, router, ev.ID, "a", true, "100")
	join(t, router, ev.ID, "b", false, "300")

	if w := do(t, router, "POST", "/api/v1/events/"+ev.ID+"/payout", ""); w.Code != http.StatusConflict {
		t.Errorf("payout before result: expected 409, got %d", w.Code)
	}

	w := do(t, router, "POST", "/api/v1/events/"+ev.ID+"/result", `{"result":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("set result: %d %s", w.Code, w.Body.String())
	}
	if w := do(t, router, "POST", "/api/v1/events/"+ev.ID+"/result", `{"result":true}`); w.Code != http.StatusConflict {
		t.Errorf("second result: expected 409, got %d", w.Code)
	}

	w = do(t, router, "POST", "/api/v1/events/"+ev.ID+"/payout", "")
	if w.Code != http.StatusOK {
		t.Fatalf("payout: %d %s", w.Code, w.Body.String())
	}
	var res struct {
		model.SettlementResult
		Message string `json:"message"`
	}
	decode(t, w, &res)
	// pool 400, fee 12, a receives the available 388.
	if res.WinnersCount != 1 || !res.TotalPayout.Equal(d(388)) || !res.CreatorFee.Equal(d(12)) || res.Message != "" {
		t.Errorf("unexpected settlement: %+v", res)
	}

	if w := do(t, router, "POST", "/api/v1/events/"+ev.ID+"/payout", ""); w.Code != http.StatusConflict {
		t.Errorf("second payout: expected 409, got %d", w.Code)
	}

	w = do(t, router, "GET", "/api/v1/wallets/a/transactions", "")
	var txs []model.Transaction
	decode(t, w, &txs)
	if len(txs) != 3 || txs[0].Type != model.TxEventWin || !txs[0].Amount.Equal(d(388)) {
		t.Errorf("unexpected history: %+v", txs)
	}
}

func TestPayout_NoWinnersMessage(t *testing.T) {
	router := newTestEnv(t)
	ev := createEvent(t, router, model.BettingFixed, "100")
	deposit(t, router, "a", "100")
	join(t, router, ev.ID, "a", true, "100")

	w := do(t, router, "POST", "/api/v1/events/"+ev.ID+"/payout", `{"outcome":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("payout: %d %s", w.Code, w.Body.String())
	}
	var res map[string]any
	decode(t, w, &res)
	if res["message"] != settlement.NoWinnersMessage || res["no_winners"] != true {
		t.Errorf("unexpected response: %v", res)
	}

	w = do(t, router, "GET", "/api/v1/wallets/creator", "")
	var bal model.Balance
	decode(t, w, &bal)
	if !bal.Balance.Equal(d(100)) {
		t.Errorf("creator should receive the pool, got %s", bal.Balance)
	}
}

func TestPayout_EmptyBodyOfUnknownLength(t *testing.T) {
	router := newTestEnv(t)
	ev := createEvent(t, router, model.BettingFixed, "100")
	deposit(t, router, "a", "100")
	join(t, router, ev.ID, "a", true, "100")
	if w := do(t, router, "POST", "/api/v1/events/"+ev.ID+"/result", `{"result":true}`); w.Code != http.StatusOK {
		t.Fatalf("set result: %d %s", w.Code, w.Body.String())
	}

	if w := do(t, router, "POST", "/api/v1/events/"+ev.ID+"/payout", `{"outcome":`); w.Code != http.StatusBadRequest {
		t.Errorf("malformed body: expected 400, got %d", w.Code)
	}

	// Chunked transfer: ContentLength is unknown and the body is empty.
	req := httptest.NewRequest("POST", "/api/v1/events/"+ev.ID+"/payout", strings.NewReader(""))
	req.ContentLength = -1
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("payout: %d %s", w.Code, w.Body.String())
	}
	var res model.SettlementResult
	decode(t, w, &res)
	if res.WinnersCount != 1 || !res.Outcome {
		t.Errorf("unexpected settlement: %+v", res)
	}
}

func TestCancelEvent(t *testing.T) {
	router := newTestEnv(t)
	ev := createEvent(t, router, model.BettingFixed, "100")
	deposit(t, router, "a", "100")
	join(t, router, ev.ID, "a", true, "100")

	w := do(t, router, "POST", "/api/v1/events/"+ev.ID+"/cancel", "")
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", w.Code, w.Body.String())
	}
	var res model.CancelResult
	decode(t, w, &res)
	if res.RefundedCount != 1 || !res.RefundedAmount.Equal(d(100)) {
		t.Errorf("unexpected cancel: %+v", res)
	}
	if w := do(t, router, "POST", "/api/v1/events/"+ev.ID+"/cancel", ""); w.Code != http.StatusConflict {
		t.Errorf("second cancel: expected 409, got %d", w.Code)
	}
}

// --- Wallets ---

func TestDeposit_DuplicateReference(t *testing.T) {
	router := newTestEnv(t)
	body := `{"amount":"10","reference":"topup-7"}`
	if w := do(t, router, "POST", "/api/v1/wallets/u/deposit", body); w.Code != http.StatusCreated {
		t.Fatalf("deposit: %d", w.Code)
	}
	if w := do(t, router, "POST", "/api/v1/wallets/u/deposit", body); w.Code != http.StatusConflict {
		t.Errorf("duplicate: expected 409, got %d", w.Code)
	}
	if w := do(t, router, "POST", "/api/v1/wallets/u/deposit", `{"amount":"0"}`); w.Code != http.StatusBadRequest {
		t.Errorf("zero: expected 400, got %d", w.Code)
	}
}

func TestListTransactions_EmptyIsArray(t *testing.T) {
	router := newTestEnv(t)
	w := do(t, router, "GET", "/api/v1/wallets/nobody/transactions", "")
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected empty array, got %d %s", w.Code, w.Body.String())
	}
}

// --- Health ---

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestReady(t *testing.T) {
	ok := httptest.NewRecorder()
	api.Ready(pinger{})(ok, httptest.NewRequest("GET", "/ready", nil))
	if ok.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", ok.Code)
	}

	down := httptest.NewRecorder()
	api.Ready(pinger{err: errors.New("connection refused")})(down, httptest.NewRequest("GET", "/ready", nil))
	if down.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", down.Code)
	}
}

func TestAccessLog_WritesRequestLine(t *testing.T) {
	var buf bytes.Buffer
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(api.AccessLog(zerolog.New(&buf))...)
	r.Get("/health", api.Health)

	do(t, r, "GET", "/health", "")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["message"] != "request" || line["path"] != "/health" || line["status"] != float64(200) {
		t.Errorf("unexpected log line: %v", line)
	}
	if id, _ := line["request_id"].(string); id == "" {
		t.Errorf("expected request_id in %v", line)
	}
}
