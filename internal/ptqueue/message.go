package ptqueue

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/wharfq/wharf/pkg/id"
)

// nowMs is overridable in tests, mirroring pkg/id's clock seam.
var nowMs = func() int64 { return time.Now().UnixMilli() }

// Message is an immutable producer delivery, save for the broker-maintained
// redelivery counter and region back-reference. Payload/Headers must not be
// mutated by callers after Send.
type Message struct {
	ID              id.ID
	Destination     string
	Payload         []byte
	Headers         map[string]string
	Persistent      bool
	ExpirationMs    int64 // 0 means "never expires"
	GroupID         string
	TxID            string
	RedeliveryCount int32
	Region          string
}

// Expired reports whether the message has passed its expiration timestamp.
func (m *Message) Expired(atMs int64) bool {
	return m.ExpirationMs > 0 && atMs >= m.ExpirationMs
}

func (m *Message) clone() *Message {
	cp := *m
	if m.Headers != nil {
		cp.Headers = make(map[string]string, len(m.Headers))
		for k, v := range m.Headers {
			cp.Headers[k] = v
		}
	}
	if m.Payload != nil {
		cp.Payload = append([]byte(nil), m.Payload...)
	}
	return &cp
}

// LockOwner is an abstract actor competing for reference locks: carries a
// priority and an exclusivity flag used by the Lock/Group Manager.
type LockOwner interface {
	ID() string
	Priority() int
	Exclusive() bool
}

type lockOwner struct {
	id        string
	priority  int
	exclusive bool
}

func (o lockOwner) ID() string      { return o.id }
func (o lockOwner) Priority() int   { return o.priority }
func (o lockOwner) Exclusive() bool { return o.exclusive }

// NewLockOwner builds a LockOwner for a consumer.
func NewLockOwner(consumerID string, priority int, exclusive bool) LockOwner {
	return lockOwner{id: consumerID, priority: priority, exclusive: exclusive}
}

// HighPriorityOwner is the distinguished owner used by administrative
// operations (purge, removeMatching, moveMatching). Its priority always
// passes the priority gate, but it is still refused while an exclusive
// consumer is registered or while another owner holds the reference's lock.
var HighPriorityOwner LockOwner = lockOwner{id: "__admin_high_priority__", priority: math.MaxInt32, exclusive: false}

// MessageReference is the paged-in entity: a handle to a message id that
// lazily loads its body via the store, reference-counted to gate body
// retention, carrying a per-reference lock owned by at most one consumer,
// and a monotonic dropped flag. Once dropped, a reference is tombstoned and
// never redelivered.
type MessageReference struct {
	mu sync.Mutex

	msgID        id.ID
	destination  string
	groupID      string
	expiresAtMs  int64
	persistent   bool
	sizeBytes    int64
	redeliveries int32

	refCount  int32
	dropped   bool
	lockOwner LockOwner

	store MessageStore
	cache *Message
}

func newMessageReference(msg *Message, store MessageStore) *MessageReference {
	ref := &MessageReference{
		msgID:       msg.ID,
		destination: msg.Destination,
		groupID:     msg.GroupID,
		expiresAtMs: msg.ExpirationMs,
		persistent:  msg.Persistent,
		sizeBytes:   int64(len(msg.Payload)),
		refCount:    1,
		cache:       msg,
		store:       store,
	}
	return ref
}

// releaseInitialHold drops the implicit construction-time hold taken while
// the reference travels from the cursor into the Paged-In set. Unless an
// IncRef holder remains, the cached body is released and later Body calls
// reload it from the store.
func (r *MessageReference) releaseInitialHold() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refCount > 0 {
		r.refCount--
	}
	if r.refCount == 0 {
		r.cache = nil
	}
}

// MessageID returns the referenced message's identity.
func (r *MessageReference) MessageID() id.ID { return r.msgID }

// GroupID returns the cached group affinity id, possibly empty.
func (r *MessageReference) GroupID() string { return r.groupID }

// Persistent reports the cached persistence flag.
func (r *MessageReference) Persistent() bool { return r.persistent }

// Expired reports whether the cached expiration has passed.
func (r *MessageReference) Expired(atMs int64) bool {
	return r.expiresAtMs > 0 && atMs >= r.expiresAtMs
}

// IncRef increments the reference count, preventing body eviction.
func (r *MessageReference) IncRef() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refCount++
}

// DecRef decrements the reference count, allowing the body to be released
// once it reaches zero.
func (r *MessageReference) DecRef() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refCount > 0 {
		r.refCount--
	}
	if r.refCount == 0 {
		r.cache = nil
	}
}

// Body lazily loads the message body via the store (or returns the cached
// copy while a holder keeps the reference count above zero), overlaying the
// reference's own redelivery counter so it stays current across a cache
// eviction and reload.
func (r *MessageReference) Body(ctx context.Context) (*Message, error) {
	r.mu.Lock()
	if r.cache != nil {
		m := r.cache
		m.RedeliveryCount = r.redeliveries
		r.mu.Unlock()
		return m, nil
	}
	store := r.store
	msgID := r.msgID
	r.mu.Unlock()

	if store == nil {
		return nil, &QueueError{Kind: ErrKindLoadFailure, Err: errNoStoreForLazyBody}
	}
	msg, err := store.GetMessage(ctx, msgID)
	if err != nil {
		return nil, &QueueError{Kind: ErrKindLoadFailure, Err: err}
	}
	r.mu.Lock()
	if msg != nil {
		msg.RedeliveryCount = r.redeliveries
	}
	if r.refCount > 0 {
		r.cache = msg
	}
	r.mu.Unlock()
	return msg, nil
}

func (r *MessageReference) isDropped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// markDropped tombstones the reference. Returns false if it was already
// dropped, making repeat acknowledgement idempotent.
func (r *MessageReference) markDropped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dropped {
		return false
	}
	r.dropped = true
	return true
}

func (r *MessageReference) lockOwnerID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lockOwner == nil {
		return ""
	}
	return r.lockOwner.ID()
}

// acquireLock grants the per-reference lock to owner, re-entrant for the
// current holder, denied for anyone else while held.
func (r *MessageReference) acquireLock(owner LockOwner) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dropped {
		return false
	}
	if r.lockOwner != nil && r.lockOwner.ID() != owner.ID() {
		return false
	}
	r.lockOwner = owner
	return true
}

// releaseLock clears the per-reference lock unconditionally.
func (r *MessageReference) releaseLock() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lockOwner = nil
}

func (r *MessageReference) incrementRedelivery() int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.redeliveries++
	return r.redeliveries
}

var errNoStoreForLazyBody = errNoStore{}

type errNoStore struct{}

func (errNoStore) Error() string { return "ptqueue: reference body evicted and no store configured" }
