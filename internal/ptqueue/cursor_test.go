package ptqueue

import (
	"context"
	"testing"

	"github.com/wharfq/wharf/pkg/id"
)

func TestVolatileCursorFIFOOrder(t *testing.T) {
	c := NewVolatileCursor()
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	gen := id.NewGenerator()
	r1, r2 := newTestRef(gen), newTestRef(gen)
	if err := c.AddMessageLast(r1); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := c.AddMessageLast(r2); err != nil {
		t.Fatalf("add: %v", err)
	}

	if !c.HasNext() {
		t.Fatalf("expected a pending entry")
	}
	if got := c.Next(); got != r1 {
		t.Fatalf("expected FIFO order to return r1 first")
	}
	c.Remove()
	if c.Size() != 1 {
		t.Fatalf("size after remove = %d, want 1", c.Size())
	}
	if got := c.Next(); got != r2 {
		t.Fatalf("expected r2 next")
	}
	c.Remove()
	if c.HasNext() {
		t.Fatalf("expected the cursor to be drained")
	}
}

func TestVolatileCursorRecoveryNeverRequired(t *testing.T) {
	c := NewVolatileCursor()
	if c.IsRecoveryRequired() {
		t.Fatalf("an in-memory cursor never requires recovery")
	}
}

func TestPebbleCursorDurableFIFOOrder(t *testing.T) {
	db := newTestDB(t)
	store := NewPebbleMessageStore(db, "default", "orders")
	gen := id.NewGenerator()

	msg1 := &Message{ID: gen.Next(), Destination: "orders", Payload: []byte("one")}
	msg2 := &Message{ID: gen.Next(), Destination: "orders", Payload: []byte("two")}
	ctxBg := context.Background()
	if err := store.AddMessage(ctxBg, msg1); err != nil {
		t.Fatalf("add msg1: %v", err)
	}
	if err := store.AddMessage(ctxBg, msg2); err != nil {
		t.Fatalf("add msg2: %v", err)
	}

	c := NewPebbleCursor(db, "default", "orders", store)
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if c.IsRecoveryRequired() {
		t.Fatalf("expected no recovery required before anything has been appended to the cursor")
	}

	ref1 := newMessageReference(msg1, store)
	ref2 := newMessageReference(msg2, store)
	if err := c.AddMessageLast(ref1); err != nil {
		t.Fatalf("add last: %v", err)
	}
	if err := c.AddMessageLast(ref2); err != nil {
		t.Fatalf("add last: %v", err)
	}

	if !c.HasNext() {
		t.Fatalf("expected a pending entry")
	}
	got1 := c.Next()
	if got1 == nil || got1.MessageID() != msg1.ID {
		t.Fatalf("expected msg1 first in FIFO order")
	}
	c.Remove()

	got2 := c.Next()
	if got2 == nil || got2.MessageID() != msg2.ID {
		t.Fatalf("expected msg2 second")
	}
	c.Remove()

	if c.HasNext() {
		t.Fatalf("expected the durable cursor to be drained")
	}
	if c.Size() != 0 {
		t.Fatalf("size after draining = %d, want 0", c.Size())
	}
}

func TestPebbleCursorPicksUpEntriesAddedAfterExhaustion(t *testing.T) {
	db := newTestDB(t)
	store := NewPebbleMessageStore(db, "default", "orders")
	gen := id.NewGenerator()
	ctxBg := context.Background()

	c := NewPebbleCursor(db, "default", "orders", store)
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if c.HasNext() {
		t.Fatalf("expected an empty cursor to report no pending entry")
	}

	msg := &Message{ID: gen.Next(), Destination: "orders", Payload: []byte("late")}
	if err := store.AddMessage(ctxBg, msg); err != nil {
		t.Fatalf("add: %v", err)
	}
	ref := newMessageReference(msg, store)
	if err := c.AddMessageLast(ref); err != nil {
		t.Fatalf("add last: %v", err)
	}

	if !c.HasNext() {
		t.Fatalf("expected HasNext to observe an entry added after the previous exhaustion")
	}
	got := c.Next()
	if got == nil || got.MessageID() != msg.ID {
		t.Fatalf("expected the newly added message back from Next")
	}
	c.Remove()
}

func TestPebbleCursorRecoveryAcrossRestart(t *testing.T) {
	db := newTestDB(t)
	store := NewPebbleMessageStore(db, "default", "orders")
	gen := id.NewGenerator()
	ctxBg := context.Background()

	msg := &Message{ID: gen.Next(), Destination: "orders", Payload: []byte("x")}
	if err := store.AddMessage(ctxBg, msg); err != nil {
		t.Fatalf("add: %v", err)
	}

	c1 := NewPebbleCursor(db, "default", "orders", store)
	if err := c1.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c1.AddMessageLast(newMessageReference(msg, store)); err != nil {
		t.Fatalf("add last: %v", err)
	}

	// Simulate a restart: a fresh cursor over the same db must see the
	// still-undelivered entry and require recovery.
	c2 := NewPebbleCursor(db, "default", "orders", store)
	if err := c2.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !c2.IsRecoveryRequired() {
		t.Fatalf("expected recovery required after restart with an undelivered entry")
	}
	if !c2.HasNext() {
		t.Fatalf("expected the restarted cursor to see the durable entry")
	}
	if got := c2.Next(); got == nil || got.MessageID() != msg.ID {
		t.Fatalf("expected the restarted cursor's entry to match the durable message")
	}
}
