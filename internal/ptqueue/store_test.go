package ptqueue

import (
	"context"
	"testing"

	pebblestore "github.com/wharfq/wharf/internal/storage/pebble"
	"github.com/wharfq/wharf/pkg/id"
)

func newTestDB(t *testing.T) *pebblestore.DB {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestEncodeDecodeMessageRoundTrip(t *testing.T) {
	gen := id.NewGenerator()
	msg := &Message{
		ID:              gen.Next(),
		Destination:     "orders",
		Payload:         []byte("payload bytes"),
		Headers:         map[string]string{"k": "v"},
		Persistent:      true,
		ExpirationMs:    1234,
		GroupID:         "g1",
		RedeliveryCount: 3,
	}
	rec, err := encodeMessage(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decodeMessage(rec)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != msg.ID || string(got.Payload) != string(msg.Payload) || got.Headers["k"] != "v" || got.GroupID != "g1" {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, msg)
	}
}

func TestDecodeMessageRejectsCorruptRecord(t *testing.T) {
	gen := id.NewGenerator()
	rec, err := encodeMessage(&Message{ID: gen.Next(), Payload: []byte("p")})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	rec[len(rec)-1] ^= 0xFF // flip a trailer byte so the CRC no longer matches
	if _, err := decodeMessage(rec); err != errCorruptRecord {
		t.Fatalf("expected errCorruptRecord, got %v", err)
	}
}

func TestPebbleMessageStoreCRUD(t *testing.T) {
	db := newTestDB(t)
	store := NewPebbleMessageStore(db, "default", "orders")
	gen := id.NewGenerator()
	msg := &Message{ID: gen.Next(), Destination: "orders", Payload: []byte("hello")}

	ctx := context.Background()
	if err := store.AddMessage(ctx, msg); err != nil {
		t.Fatalf("add: %v", err)
	}
	got, err := store.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || string(got.Payload) != "hello" {
		t.Fatalf("got %+v, want payload hello", got)
	}

	if err := store.RemoveMessage(ctx, msg.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, err = store.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("get after remove: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil after removal, got %+v", got)
	}
}

func TestPebbleMessageStoreRecoverAndRemoveAll(t *testing.T) {
	db := newTestDB(t)
	store := NewPebbleMessageStore(db, "default", "orders")
	ctx := context.Background()
	gen := id.NewGenerator()

	var want []id.ID
	for i := 0; i < 5; i++ {
		msg := &Message{ID: gen.Next(), Destination: "orders", Payload: []byte("x")}
		want = append(want, msg.ID)
		if err := store.AddMessage(ctx, msg); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	var recovered []id.ID
	if err := store.Recover(ctx, func(m *Message) error {
		recovered = append(recovered, m.ID)
		return nil
	}); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if len(recovered) != len(want) {
		t.Fatalf("recovered %d messages, want %d", len(recovered), len(want))
	}

	if err := store.RemoveAllMessages(ctx); err != nil {
		t.Fatalf("remove all: %v", err)
	}
	recovered = nil
	if err := store.Recover(ctx, func(m *Message) error {
		recovered = append(recovered, m.ID)
		return nil
	}); err != nil {
		t.Fatalf("recover after purge: %v", err)
	}
	if len(recovered) != 0 {
		t.Fatalf("expected no messages after RemoveAllMessages, got %d", len(recovered))
	}
}

func TestPebbleMessageStoreScopedByDestination(t *testing.T) {
	db := newTestDB(t)
	orders := NewPebbleMessageStore(db, "default", "orders")
	billing := NewPebbleMessageStore(db, "default", "billing")
	ctx := context.Background()
	gen := id.NewGenerator()

	msg := &Message{ID: gen.Next(), Destination: "orders", Payload: []byte("x")}
	if err := orders.AddMessage(ctx, msg); err != nil {
		t.Fatalf("add: %v", err)
	}
	got, err := billing.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("get from billing: %v", err)
	}
	if got != nil {
		t.Fatalf("expected billing's store not to see orders' message, got %+v", got)
	}
}
