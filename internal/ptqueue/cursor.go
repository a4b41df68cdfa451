package ptqueue

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/cockroachdb/pebble"
	pebblestore "github.com/wharfq/wharf/internal/storage/pebble"
	"github.com/wharfq/wharf/pkg/id"
)

// PendingCursor is the ordered, possibly disk-backed stream of undelivered
// references. Every operation happens under the cursor's own mutex; callers
// must not call Next/Remove across suspension points without holding it
// (pageIn serializes its cursor-mutex section for exactly this reason).
type PendingCursor interface {
	// Start opens backing resources; idempotent.
	Start() error
	// IsRecoveryRequired reports whether durable state exists that has not
	// yet been merged into this cursor.
	IsRecoveryRequired() bool
	// AddMessageLast appends, preserving arrival order. May fail with
	// ErrCursorTransient (retry) or ErrCursorFatal (log and continue without
	// persisting this entry).
	AddMessageLast(ref *MessageReference) error
	Reset()
	HasNext() bool
	Next() *MessageReference
	// Remove removes the element most recently returned by Next.
	Remove()
	Size() int
}

// VolatileCursor is an in-memory FIFO PendingCursor; it obeys the cursor
// contract but carries no durability of its own (durability, when wanted,
// comes from the MessageStore plus Recover on restart).
type VolatileCursor struct {
	mu      sync.Mutex
	entries []*MessageReference
	pos     int
}

// NewVolatileCursor returns an empty in-memory cursor.
func NewVolatileCursor() *VolatileCursor {
	return &VolatileCursor{pos: -1}
}

func (c *VolatileCursor) Start() error            { return nil }
func (c *VolatileCursor) IsRecoveryRequired() bool { return false }

func (c *VolatileCursor) AddMessageLast(ref *MessageReference) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, ref)
	return nil
}

func (c *VolatileCursor) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos = -1
}

func (c *VolatileCursor) HasNext() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos+1 < len(c.entries)
}

func (c *VolatileCursor) Next() *MessageReference {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pos+1 >= len(c.entries) {
		return nil
	}
	c.pos++
	return c.entries[c.pos]
}

// Remove deletes the element last returned by Next, compacting the slice and
// keeping the read cursor stable relative to the remaining elements.
func (c *VolatileCursor) Remove() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pos < 0 || c.pos >= len(c.entries) {
		return
	}
	c.entries = append(c.entries[:c.pos], c.entries[c.pos+1:]...)
	c.pos--
}

func (c *VolatileCursor) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// PebbleCursor is a disk-spillable PendingCursor: entries are durably
// appended under a monotonic sequence key so a large backlog never needs to
// live fully in memory. Bodies are looked up lazily through the store as the
// cursor walks forward.
type PebbleCursor struct {
	mu          sync.Mutex
	db          *pebblestore.DB
	namespace   string
	destination string
	store       MessageStore
	nextSeq     uint64
	count       int

	iter    *pebble.Iterator
	valid   bool
	lastKey []byte
}

// NewPebbleCursor returns a durable, sequence-ordered cursor over db.
func NewPebbleCursor(db *pebblestore.DB, namespace, destination string, store MessageStore) *PebbleCursor {
	return &PebbleCursor{db: db, namespace: namespace, destination: destination, store: store}
}

func (c *PebbleCursor) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, err := c.db.Get(cursorMetaKey(c.namespace, c.destination)); err == nil && len(b) == 8 {
		c.nextSeq = binary.BigEndian.Uint64(b) + 1
	}
	if err := c.recomputeCountLocked(); err != nil {
		return err
	}
	c.resetLocked()
	return nil
}

// IsRecoveryRequired is true whenever a durable backlog is present; callers
// treat this as a signal to drive an initial forced pageIn.
func (c *PebbleCursor) IsRecoveryRequired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count > 0
}

func (c *PebbleCursor) AddMessageLast(ref *MessageReference) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq := c.nextSeq
	c.nextSeq++

	b := c.db.NewBatch()
	defer b.Close()
	if err := b.Set(cursorKey(c.namespace, c.destination, seq), ref.msgID[:], nil); err != nil {
		return ErrCursorTransient
	}
	var seqb [8]byte
	binary.BigEndian.PutUint64(seqb[:], seq)
	if err := b.Set(cursorMetaKey(c.namespace, c.destination), seqb[:], nil); err != nil {
		return ErrCursorTransient
	}
	if err := c.db.CommitBatch(context.Background(), b); err != nil {
		return ErrCursorTransient
	}
	c.count++
	return nil
}

func (c *PebbleCursor) recomputeCountLocked() error {
	start, end := keyRange(cursorPrefix(c.namespace, c.destination))
	iter, err := c.db.NewIter(&pebble.IterOptions{LowerBound: start, UpperBound: end})
	if err != nil {
		return err
	}
	defer iter.Close()
	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	c.count = n
	return nil
}

// Reset re-opens the iterator from the start of the durable backlog.
func (c *PebbleCursor) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

// resetLocked is Reset's body, callable from Start while the lock is
// already held so the cursor is iteration-ready as soon as it opens
// without requiring every caller to Reset it first.
func (c *PebbleCursor) resetLocked() {
	if c.iter != nil {
		c.iter.Close()
		c.iter = nil
	}
	start, end := keyRange(cursorPrefix(c.namespace, c.destination))
	iter, err := c.db.NewIter(&pebble.IterOptions{LowerBound: start, UpperBound: end})
	if err != nil {
		c.valid = false
		return
	}
	c.iter = iter
	c.valid = iter.First()
}

// HasNext reports whether the cursor has an unconsumed entry. Every entry
// Next returns is removed by its caller before the next call (pageInMore and
// drainCursorLocked both drain immediately), so a stale iterator only ever
// means "nothing new has arrived since the last exhaustion" — re-opening it
// here re-scans the (now shorter) remaining keyspace and picks up anything
// AddMessageLast appended in the meantime.
func (c *PebbleCursor) HasNext() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.iter == nil || !c.valid {
		c.resetLocked()
	}
	return c.iter != nil && c.valid
}

func (c *PebbleCursor) Next() *MessageReference {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.iter == nil || !c.valid {
		return nil
	}
	c.lastKey = append([]byte(nil), c.iter.Key()...)
	var mid id.ID
	copy(mid[:], c.iter.Value())
	ref := c.refForID(mid)
	c.valid = c.iter.Next()
	return ref
}

func (c *PebbleCursor) refForID(mid id.ID) *MessageReference {
	msg, err := c.store.GetMessage(context.Background(), mid)
	if err != nil || msg == nil {
		return newMessageReference(&Message{ID: mid}, c.store)
	}
	return newMessageReference(msg, c.store)
}

// Remove deletes the durable entry for the element last returned by Next.
func (c *PebbleCursor) Remove() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastKey == nil {
		return
	}
	_ = c.db.Delete(c.lastKey)
	c.lastKey = nil
	c.count--
}

func (c *PebbleCursor) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}
