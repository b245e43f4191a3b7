package pool_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eventpool/pool-engine/internal/model"
	"github.com/eventpool/pool-engine/internal/pool"
	"github.com/eventpool/pool-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestApplyJoin_AccumulatesBySide(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	ev := &model.Event{ID: "ev1", EntryFee: d(100), BettingModel: model.BettingCustom, Status: model.EventActive, CreatedAt: time.Now()}
	if err := ms.CreateEvent(ctx, ev); err != nil {
		t.Fatal(err)
	}

	acc := pool.NewAccumulator()
	joins := []struct {
		prediction bool
		amount     float64
	}{
		{true, 100}, {false, 250}, {true, 125.5}, {false, 100},
	}
	err := ms.InTx(ctx, func(tx store.Tx) error {
		for _, j := range joins {
			if err := acc.ApplyJoin(ctx, tx, ev.ID, j.prediction, d(j.amount)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	stats, err := pool.Stats(ctx, ms, ev.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !stats.YesPool.Equal(d(225.5)) || !stats.NoPool.Equal(d(350)) {
		t.Errorf("unexpected sides: yes=%s no=%s", stats.YesPool, stats.NoPool)
	}
	if !stats.TotalPool.Equal(stats.YesPool.Add(stats.NoPool)) {
		t.Errorf("total %s != yes + no", stats.TotalPool)
	}
	if stats.ParticipantsCount != 0 {
		t.Errorf("expected no participants, got %d", stats.ParticipantsCount)
	}
}

func TestApplyJoin_RejectsNonPositive(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	acc := pool.NewAccumulator()

	err := ms.InTx(ctx, func(tx store.Tx) error {
		return acc.ApplyJoin(ctx, tx, "ev1", true, decimal.Zero)
	})
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestStats_EventNotFound(t *testing.T) {
	_, err := pool.Stats(context.Background(), store.NewMemoryStore(), "missing")
	if !errors.Is(err, model.ErrEventNotFound) {
		t.Errorf("expected ErrEventNotFound, got %v", err)
	}
}
