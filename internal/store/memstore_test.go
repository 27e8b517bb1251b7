package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/arnavmehta/webhook-dispatcher/internal/clock"
)

func TestMemStore_ClaimPendingSkipsLockedRows(t *testing.T) {
	clk := clock.NewFixed(time.Now())
	st := NewMemStore(clk)
	ctx := context.Background()

	event, _ := st.InsertEvent(ctx, json.RawMessage(`{}`), "http://example.test/hook")

	tx1, claimed1, err := st.ClaimPending(ctx, 10)
	if err != nil {
		t.Fatalf("ClaimPending 1: %v", err)
	}
	if len(claimed1) != 1 || claimed1[0].ID != event.ID {
		t.Fatalf("expected to claim the one pending event, got %+v", claimed1)
	}

	_, claimed2, err := st.ClaimPending(ctx, 10)
	if err != nil {
		t.Fatalf("ClaimPending 2: %v", err)
	}
	if len(claimed2) != 0 {
		t.Fatalf("expected second claim to skip the already-locked row, got %+v", claimed2)
	}

	if err := tx1.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, claimed3, err := st.ClaimPending(ctx, 10)
	if err != nil {
		t.Fatalf("ClaimPending 3: %v", err)
	}
	if len(claimed3) != 1 {
		t.Fatalf("expected event to become claimable again after Close, got %+v", claimed3)
	}
}

func TestMemStore_ClaimPendingRespectsNextRetryAt(t *testing.T) {
	clk := clock.NewFixed(time.Now())
	st := NewMemStore(clk)
	ctx := context.Background()

	event, _ := st.InsertEvent(ctx, json.RawMessage(`{}`), "http://example.test/hook")
	tx, claimed, _ := st.ClaimPending(ctx, 10)
	future := clk.Now().Add(time.Hour)
	if err := tx.RecordAndMarkFailed(ctx, AttemptInput{EventID: claimed[0].ID, AttemptNumber: 1}, 1, future, "boom", false); err != nil {
		t.Fatalf("RecordAndMarkFailed: %v", err)
	}
	tx.Close(ctx)

	_, claimed2, _ := st.ClaimPending(ctx, 10)
	if len(claimed2) != 0 {
		t.Fatalf("expected event not yet due to be excluded from claim, got %+v", claimed2)
	}

	clk.Advance(2 * time.Hour)
	_, claimed3, _ := st.ClaimPending(ctx, 10)
	if len(claimed3) != 1 || claimed3[0].ID != event.ID {
		t.Fatalf("expected event due after advancing the clock, got %+v", claimed3)
	}
}

func TestMemStore_ClaimPendingOrdersByCreatedAt(t *testing.T) {
	clk := clock.NewFixed(time.Now())
	st := NewMemStore(clk)
	ctx := context.Background()

	first, _ := st.InsertEvent(ctx, json.RawMessage(`{}`), "http://example.test/a")
	clk.Advance(time.Second)
	second, _ := st.InsertEvent(ctx, json.RawMessage(`{}`), "http://example.test/b")

	_, claimed, _ := st.ClaimPending(ctx, 10)
	if len(claimed) != 2 || claimed[0].ID != first.ID || claimed[1].ID != second.ID {
		t.Fatalf("expected claim order [%s, %s], got %+v", first.ID, second.ID, claimed)
	}
}

func TestMemStore_RecordAndMarkDeliveredIsTerminal(t *testing.T) {
	clk := clock.NewFixed(time.Now())
	st := NewMemStore(clk)
	ctx := context.Background()

	event, _ := st.InsertEvent(ctx, json.RawMessage(`{}`), "http://example.test/hook")
	tx, claimed, _ := st.ClaimPending(ctx, 10)
	if err := tx.RecordAndMarkDelivered(ctx, AttemptInput{EventID: claimed[0].ID, AttemptNumber: 1}); err != nil {
		t.Fatalf("RecordAndMarkDelivered: %v", err)
	}
	tx.Close(ctx)

	got, _ := st.GetEvent(ctx, event.ID)
	if got.Status != "delivered" {
		t.Fatalf("expected delivered, got %s", got.Status)
	}

	_, claimed2, _ := st.ClaimPending(ctx, 10)
	if len(claimed2) != 0 {
		t.Fatalf("delivered event must never be claimable again, got %+v", claimed2)
	}
}

func TestMemStore_CountsReflectsEachStatus(t *testing.T) {
	clk := clock.NewFixed(time.Now())
	st := NewMemStore(clk)
	ctx := context.Background()

	a, _ := st.InsertEvent(ctx, json.RawMessage(`{}`), "http://example.test/a")
	_, _ = st.InsertEvent(ctx, json.RawMessage(`{}`), "http://example.test/b")

	tx, claimed, _ := st.ClaimPending(ctx, 10)
	for _, c := range claimed {
		if c.ID == a.ID {
			tx.RecordAndMarkDelivered(ctx, AttemptInput{EventID: c.ID, AttemptNumber: 1})
		}
	}
	tx.Close(ctx)

	pending, delivered, dead, err := st.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if pending != 1 || delivered != 1 || dead != 0 {
		t.Fatalf("expected pending=1 delivered=1 dead=0, got pending=%d delivered=%d dead=%d", pending, delivered, dead)
	}
}
