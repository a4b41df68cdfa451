package ptqueue

import (
	"context"
	"sync"

	"github.com/wharfq/wharf/pkg/id"
	logpkg "github.com/wharfq/wharf/pkg/log"
)

// Config bundles the collaborators a QueueCoordinator is constructed from.
// Every field is an external interface the coordinator consumes; none of
// their implementations are the coordinator's own concern.
type Config struct {
	Namespace       string
	Destination     string
	Store           MessageStore
	Cursor          PendingCursor
	Accountant      UsageAccountant
	Policy          DispatchPolicy
	SelectorFactory SelectorFactory
	Stats           *Statistics
	Logger          logpkg.Logger

	// BasePagedIn is the paged-in capacity floor before adding per-subscription
	// prefetch (maxPagedIn = BasePagedIn + Σ prefetch(sub)); 0 uses the
	// package default.
	BasePagedIn int
	// GCThreshold bounds how many tombstones accumulate in the paged-in set
	// before a compaction runs; 0 uses the package default.
	GCThreshold int
}

// QueueCoordinator is the point-to-point queue engine's façade: the single
// object a producer's send(), a consumer's subscribe/ack, and the
// administrative surface all talk to. It owns the dispatch loop. Its own
// two mutexes nest in one order only — doDispatchMutex, then consumersMutex
// (dispatchIterate holds the first while maxPagedIn takes the second) — and
// each collaborator (cursor, paged-in set, lock manager) handles its own
// internal synchronization, taking its mutex for the duration of one call.
type QueueCoordinator struct {
	namespace   string
	destination string
	basePagedIn int
	// sumPrefetch is Σ prefetch(sub) over every active subscription, grown in
	// AddSubscription and shrunk in RemoveSubscription; guarded by
	// consumersMutex like the rest of the registry's bookkeeping.
	sumPrefetch int

	store           MessageStore
	cursor          PendingCursor
	pagedIn         *PagedInSet
	accountant      UsageAccountant
	registry        *SubscriptionRegistry
	locks           *LockManager
	groups          *MessageGroupMap
	policy          DispatchPolicy
	valve           *DispatchValve
	selectorFactory SelectorFactory
	stats           *Statistics
	logger          logpkg.Logger
	runner          TaskRunner

	doDispatchMutex sync.Mutex
	consumersMutex  sync.Mutex
}

// New constructs a QueueCoordinator, wires the paged-in set's GC callback to
// the background task runner, and starts that runner.
func New(cfg Config) *QueueCoordinator {
	if cfg.Policy == nil {
		cfg.Policy = RoundRobinPolicy{}
	}
	if cfg.SelectorFactory == nil {
		cfg.SelectorFactory = CELSelectorFactory{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logpkg.NewLogger(logpkg.WithOutput(logpkg.NullOutput{}))
	}
	if cfg.Accountant == nil {
		cfg.Accountant = NewSimpleAccountant(0, false)
	}
	if cfg.Cursor == nil {
		cfg.Cursor = NewVolatileCursor()
	}
	basePagedIn := cfg.BasePagedIn
	if basePagedIn <= 0 {
		basePagedIn = 100
	}

	q := &QueueCoordinator{
		namespace:       cfg.Namespace,
		destination:     cfg.Destination,
		basePagedIn:     basePagedIn,
		store:           cfg.Store,
		cursor:          cfg.Cursor,
		accountant:      cfg.Accountant,
		registry:        NewSubscriptionRegistry(),
		locks:           NewLockManager(),
		groups:          NewMessageGroupMap(),
		policy:          cfg.Policy,
		valve:           NewDispatchValve(),
		selectorFactory: cfg.SelectorFactory,
		stats:           cfg.Stats,
		logger:          cfg.Logger.WithComponent(cfg.Destination),
	}
	q.pagedIn = NewPagedInSet(cfg.GCThreshold, func() {
		if q.runner != nil {
			q.runner.Wakeup()
		}
	})
	q.runner = NewSimpleTaskRunner(dispatchTask{q: q}, q.logger)
	if q.store != nil {
		q.store.SetUsageManager(q.accountant)
	}
	return q
}

// Start opens the cursor, replays an on-disk backlog if present, and starts
// the background dispatch task.
func (q *QueueCoordinator) Start(ctx context.Context) error {
	if err := q.cursor.Start(); err != nil {
		return storeErr(err)
	}
	q.runner.Start()
	if q.cursor.IsRecoveryRequired() {
		q.runner.Wakeup()
	}
	return nil
}

// Shutdown stops the background dispatch task, letting any in-flight
// iteration finish.
func (q *QueueCoordinator) Shutdown(ctx context.Context) error {
	return q.runner.Shutdown(ctx)
}

// dispatchIterate implements Task (via dispatchTask): one bounded
// page-in-then-dispatch cycle. It reports whether it did anything, so
// SimpleTaskRunner knows whether to loop again immediately or park until the
// next wakeup.
func (q *QueueCoordinator) dispatchIterate() bool {
	q.doDispatchMutex.Lock()
	defer q.doDispatchMutex.Unlock()

	if !q.valve.Increment() {
		return false
	}
	defer q.valve.Decrement()

	pagedIn := q.pageInMore(context.Background())
	dispatched := q.dispatchPagedIn(context.Background())
	return pagedIn || dispatched
}

// dispatchTask adapts QueueCoordinator.dispatchIterate to the Task interface
// so it can be driven by a TaskRunner without colliding with the coordinator's
// own public Iterate (the message-walking facade method).
type dispatchTask struct {
	q *QueueCoordinator
}

func (t dispatchTask) Iterate() bool {
	return t.q.dispatchIterate()
}

// Send accepts a message for delivery: it is rejected outright if it has
// already expired, blocks (or fails fast) under backpressure per the usage
// accountant's mode, then durably stores it. If ctx carries a transaction,
// making it visible to dispatch — the cursor append, the enqueue/depth
// stats, and the paging wakeup — is deferred to a post-commit hook that
// re-checks expiration at commit time; a rollback instead releases the
// reserved usage-accountant bytes, since the commit that would have spent
// them on a durable cursor entry is never going to happen. Outside a
// transaction both happen inline, synchronously, before Send returns.
func (q *QueueCoordinator) Send(ctx context.Context, msg *Message) error {
	now := nowMs()
	if msg.Expired(now) {
		q.logger.Debug("dropping expired message at send", logpkg.Str("msg_id", msg.ID.String()))
		return nil
	}

	if q.accountant.IsFull() {
		if q.accountant.IsSendFailIfNoSpace() {
			return ErrResourceExhausted
		}
		if err := q.accountant.WaitForSpace(ctx); err != nil {
			return err
		}
		// The message may have expired while this call was parked waiting
		// for budget; re-check rather than enqueue something already stale.
		if msg.Expired(nowMs()) {
			q.logger.Debug("dropping expired message after blocking for space", logpkg.Str("msg_id", msg.ID.String()))
			return nil
		}
	}

	if err := q.store.AddMessage(ctx, msg); err != nil {
		return storeErr(err)
	}
	size := int64(len(msg.Payload))
	q.accountant.ReserveBytes(size)
	runPostRollback(ctx, func() { q.accountant.ReleaseBytes(size) })

	ref := newMessageReference(msg, q.store)
	runPostCommit(ctx, func() {
		if msg.Expired(nowMs()) {
			q.accountant.ReleaseBytes(size)
			q.logger.Debug("dropping expired message at commit", logpkg.Str("msg_id", msg.ID.String()))
			return
		}
		err := q.cursor.AddMessageLast(ref)
		for attempt := 1; err == ErrCursorTransient && attempt < 3; attempt++ {
			err = q.cursor.AddMessageLast(ref)
		}
		if err != nil {
			q.accountant.ReleaseBytes(size)
			if err != ErrCursorFatal {
				q.logger.Error("pending cursor rejected committed message", logpkg.Err(err), logpkg.Str("msg_id", msg.ID.String()))
				return
			}
			q.logger.Error("pending cursor rejected message, dropping", logpkg.Str("msg_id", msg.ID.String()))
			return
		}
		q.stats.Enqueue(ctx)
		q.runner.Wakeup()
	})
	return nil
}

// AddSubscription registers a new consumer. Per the stricter of the two
// orderings the design allows, the dispatch valve is turned off before the
// subscription is added and before any paged-in reference is re-offered, so
// no in-flight dispatch can observe a partially-registered consumer.
func (q *QueueCoordinator) AddSubscription(ctx context.Context, sub Subscription) error {
	q.valve.TurnOff()
	defer q.valve.TurnOn()

	q.consumersMutex.Lock()
	info := sub.ConsumerInfo()
	q.registry.Add(sub, info.Exclusive)
	q.sumPrefetch += info.Prefetch
	if hp := q.registry.HighestPriority(); hp > q.locks.HighestPriority() {
		q.locks.SetHighestPriority(hp)
	}
	q.consumersMutex.Unlock()

	if err := sub.OnAdded(ctx, q); err != nil {
		return err
	}
	q.stats.ConsumerAdded(ctx)

	q.offerPagedIn(ctx)
	q.runner.Wakeup()
	return nil
}

// RemoveSubscription unregisters a consumer, clears any exclusive-owner and
// group bindings it held, and releases the per-reference locks on whatever
// it had in flight so those references are re-offered to the remaining
// consumers on the next dispatch cycle.
func (q *QueueCoordinator) RemoveSubscription(ctx context.Context, consumerID string) error {
	q.valve.TurnOff()
	defer q.valve.TurnOn()

	var removed Subscription
	for _, s := range q.registry.Snapshot() {
		if s.ConsumerInfo().ConsumerID == consumerID {
			removed = s
			break
		}
	}

	q.consumersMutex.Lock()
	q.registry.Remove(consumerID)
	if removed != nil {
		q.sumPrefetch -= removed.ConsumerInfo().Prefetch
		if q.sumPrefetch < 0 {
			q.sumPrefetch = 0
		}
	}
	hp := q.registry.RecomputeHighestPriority()
	q.locks.SetHighestPriority(hp)
	q.locks.ClearExclusiveOwnerIfMatches(consumerID)
	q.groups.RemoveConsumer(consumerID)
	for _, ref := range q.pagedIn.Snapshot() {
		if ref.lockOwnerID() == consumerID {
			q.locks.Unlock(ref)
			ref.incrementRedelivery()
		}
	}
	q.consumersMutex.Unlock()

	if removed != nil {
		if err := removed.OnRemoved(ctx, q); err != nil {
			return err
		}
	}
	q.stats.ConsumerRemoved(ctx)
	q.runner.Wakeup()
	return nil
}

// Acknowledge completes delivery of msgID on behalf of consumerID and wakes
// the dispatch runner so it can page in and dispatch more. A reference whose
// per-reference lock is held by a different consumer is refused; an
// unlocked one is accepted. Re-acknowledging an already-dropped reference is
// a no-op, matching at-least-once redelivery semantics under consumer
// retries. The subscription's own prefetch credit is not touched here.
func (q *QueueCoordinator) Acknowledge(ctx context.Context, consumerID string, msgID id.ID) error {
	ref := q.findPagedIn(msgID)
	if ref == nil {
		return nil
	}
	if owner := ref.lockOwnerID(); owner != "" && owner != consumerID {
		return &QueueError{Kind: ErrKindFatal, Err: errNotLockOwner}
	}
	q.drop(ctx, ref)
	q.runner.Wakeup()
	return nil
}

// Purge discards every currently paged-in and pending message for this
// destination that isn't reserved for a queue-wide exclusive consumer: each
// drop first attempts the HighPriorityOwner lock gate, so a reference an
// exclusive consumer is entitled to is left alone rather than stolen. Runs
// paged-in GC once at the end instead of once per drop. Only wipes the
// durable store wholesale when every matching reference was actually
// dropped; otherwise the references left behind still need their store
// entries intact.
func (q *QueueCoordinator) Purge(ctx context.Context) error {
	q.valve.TurnOff()
	defer q.valve.TurnOn()

	q.drainCursorLocked(ctx)
	allDropped := true
	for _, ref := range q.pagedIn.Snapshot() {
		if ref.isDropped() {
			continue
		}
		if !q.adminDrop(ctx, ref) {
			allDropped = false
		}
	}
	q.pagedIn.GC()
	if !allDropped {
		return nil
	}
	q.groups = NewMessageGroupMap()
	return storeErr(q.store.RemoveAllMessages(ctx))
}

// GetMessage looks up a single message body by id, checking the paged-in
// working set before falling back to the durable store.
func (q *QueueCoordinator) GetMessage(ctx context.Context, msgID id.ID) (*Message, error) {
	if ref := q.findPagedIn(msgID); ref != nil {
		return ref.Body(ctx)
	}
	msg, err := q.store.GetMessage(ctx, msgID)
	if err != nil {
		return nil, storeErr(err)
	}
	return msg, nil
}

// Browse returns up to limit message bodies matching sel without removing
// them; limit <= 0 means unbounded. sel may be nil to match everything.
func (q *QueueCoordinator) Browse(ctx context.Context, sel Selector, limit int) ([]*Message, error) {
	var out []*Message
	err := q.Iterate(ctx, func(msg *Message) bool {
		if sel == nil || sel.Eval(msg) {
			out = append(out, msg)
		}
		return limit <= 0 || len(out) < limit
	})
	return out, err
}

// RemoveMatching discards messages matching sel, first attempting the
// HighPriorityOwner lock gate on each one so a reference reserved for a
// queue-wide exclusive consumer is left alone rather than stolen (a denial
// doesn't count toward max), stopping once max removals have happened
// (max <= 0 means unbounded), and returns how many were removed. Runs
// paged-in GC once at the end instead of once per drop.
func (q *QueueCoordinator) RemoveMatching(ctx context.Context, sel Selector, max int) (int, error) {
	q.valve.TurnOff()
	defer q.valve.TurnOn()
	q.drainCursorLocked(ctx)

	removed := 0
	for _, ref := range q.pagedIn.Snapshot() {
		if max > 0 && removed >= max {
			break
		}
		if ref.isDropped() {
			continue
		}
		msg, err := ref.Body(ctx)
		if err != nil {
			q.logger.Warn("skipping reference with unreadable body", logpkg.Err(err))
			continue
		}
		if !sel.Eval(msg) {
			continue
		}
		if !q.adminDrop(ctx, ref) {
			continue
		}
		removed++
	}
	q.pagedIn.GC()
	return removed, nil
}

// CopyMatching hands a clone of messages matching sel to send, without
// removing the originals, stopping once max copies have happened (max <= 0
// means unbounded), and returns how many were copied.
func (q *QueueCoordinator) CopyMatching(ctx context.Context, sel Selector, send func(context.Context, *Message) error, max int) (int, error) {
	q.valve.TurnOff()
	defer q.valve.TurnOn()
	q.drainCursorLocked(ctx)

	copied := 0
	for _, ref := range q.pagedIn.Snapshot() {
		if max > 0 && copied >= max {
			break
		}
		if ref.isDropped() {
			continue
		}
		msg, err := ref.Body(ctx)
		if err != nil {
			q.logger.Warn("skipping reference with unreadable body", logpkg.Err(err))
			continue
		}
		if !sel.Eval(msg) {
			continue
		}
		if err := send(ctx, msg.clone()); err != nil {
			return copied, err
		}
		copied++
	}
	return copied, nil
}

// MoveMatching hands a clone of messages matching sel to send and, on
// success, administratively removes the original, first locking it with
// HighPriorityOwner — per the lock-then-copy-then-remove order — so a
// reference reserved for a queue-wide exclusive consumer is left in place
// rather than stolen (a denial doesn't count toward max and nothing is sent
// for it), stopping once max moves have happened (max <= 0 means
// unbounded), and returns how many moved. Runs paged-in GC once at the end
// instead of once per drop.
func (q *QueueCoordinator) MoveMatching(ctx context.Context, sel Selector, send func(context.Context, *Message) error, max int) (int, error) {
	q.valve.TurnOff()
	defer q.valve.TurnOn()
	q.drainCursorLocked(ctx)

	moved := 0
	for _, ref := range q.pagedIn.Snapshot() {
		if max > 0 && moved >= max {
			break
		}
		if ref.isDropped() {
			continue
		}
		msg, err := ref.Body(ctx)
		if err != nil {
			q.logger.Warn("skipping reference with unreadable body", logpkg.Err(err))
			continue
		}
		if !sel.Eval(msg) {
			continue
		}
		if !q.locks.TryLock(ref, HighPriorityOwner) {
			continue
		}
		if ref.isDropped() {
			// Acknowledged by its consumer between the isDropped check above
			// and this lock grant; leave it alone rather than resend it.
			ref.releaseLock()
			continue
		}
		if err := send(ctx, msg.clone()); err != nil {
			ref.releaseLock()
			return moved, err
		}
		q.adminDropLocked(ctx, ref)
		moved++
	}
	q.pagedIn.GC()
	return moved, nil
}

// Iterate walks every non-dropped message currently visible to the
// destination (draining the pending cursor into the paged-in set first so
// the walk sees the whole backlog, not just the bounded dispatch window),
// calling visit for each until it returns false.
func (q *QueueCoordinator) Iterate(ctx context.Context, visit func(*Message) bool) error {
	q.valve.TurnOff()
	defer q.valve.TurnOn()
	q.drainCursorLocked(ctx)

	for _, ref := range q.pagedIn.Snapshot() {
		if ref.isDropped() {
			continue
		}
		msg, err := ref.Body(ctx)
		if err != nil {
			q.logger.Warn("skipping reference with unreadable body", logpkg.Err(err))
			continue
		}
		if !visit(msg) {
			break
		}
	}
	return nil
}

// CompileSelector compiles expr through the configured selector factory.
func (q *QueueCoordinator) CompileSelector(expr string) (Selector, error) {
	return q.selectorFactory.Compile(expr)
}

// offerPagedIn re-runs the dispatch policy over the current paged-in
// snapshot without pulling anything new off the cursor, used right after a
// new subscription joins so it can pick up messages already in memory.
func (q *QueueCoordinator) offerPagedIn(ctx context.Context) {
	q.dispatchPagedIn(ctx)
}

// maxPagedIn returns the paged-in capacity: basePagedIn grown by the sum of
// every active subscription's prefetch, per the maxPagedIn = base +
// Σ prefetch(sub) invariant.
func (q *QueueCoordinator) maxPagedIn() int {
	q.consumersMutex.Lock()
	defer q.consumersMutex.Unlock()
	return q.basePagedIn + q.sumPrefetch
}

// pageInMore pulls references off the pending cursor until the paged-in
// set reaches its target size or the cursor runs dry, expiring anything
// found stale along the way. It reports whether it moved anything.
func (q *QueueCoordinator) pageInMore(ctx context.Context) bool {
	moved := false
	for q.pagedIn.Len() < q.maxPagedIn() && q.cursor.HasNext() {
		ref := q.cursor.Next()
		if ref == nil {
			break
		}
		if ref.Expired(nowMs()) {
			q.cursor.Remove()
			q.expireBeforePageIn(ctx, ref)
			continue
		}
		ref.releaseInitialHold()
		q.pagedIn.Append(ref)
		q.cursor.Remove()
		moved = true
	}
	return moved
}

// dispatchPagedIn offers every live, non-expired paged-in reference that no
// consumer currently holds locked to the dispatch policy once. It reports
// whether anything was dispatched or expired (both count as forward progress
// for the task runner's loop condition).
func (q *QueueCoordinator) dispatchPagedIn(ctx context.Context) bool {
	consumers := q.registry.Snapshot()
	dctx := &DispatchContext{NowMs: nowMs()}
	progressed := false
	for _, ref := range q.pagedIn.Snapshot() {
		if ref.isDropped() {
			continue
		}
		if ref.Expired(dctx.NowMs) {
			q.expireInPagedIn(ctx, ref)
			progressed = true
			continue
		}
		if len(consumers) == 0 || ref.lockOwnerID() != "" {
			continue
		}
		if _, ok := q.policy.Dispatch(ref, dctx, consumers, q.locks, q.groups); ok {
			q.stats.Dequeue(ctx)
			progressed = true
		}
	}
	return progressed
}

// drainCursorLocked moves every remaining pending reference into the
// paged-in set regardless of the normal maxPagedIn cap, used by
// administrative operations that must see the whole backlog. Callers must
// hold the valve closed.
func (q *QueueCoordinator) drainCursorLocked(ctx context.Context) {
	for q.cursor.HasNext() {
		ref := q.cursor.Next()
		if ref == nil {
			break
		}
		if ref.Expired(nowMs()) {
			q.cursor.Remove()
			q.expireBeforePageIn(ctx, ref)
			continue
		}
		ref.releaseInitialHold()
		q.pagedIn.Append(ref)
		q.cursor.Remove()
	}
}

// findPagedIn scans the current paged-in snapshot for msgID.
func (q *QueueCoordinator) findPagedIn(msgID id.ID) *MessageReference {
	for _, ref := range q.pagedIn.Snapshot() {
		if ref.MessageID() == msgID {
			return ref
		}
	}
	return nil
}

// drop is the consumer-path completion: it requires the caller already
// verified lock ownership.
func (q *QueueCoordinator) drop(ctx context.Context, ref *MessageReference) {
	if !ref.markDropped() {
		return
	}
	q.locks.Unlock(ref)
	q.pagedIn.MarkDropped(ref)
	q.finishDrop(ctx, ref)
}

// adminDrop is the administrative-path completion: it first attempts the
// priority lock gate with HighPriorityOwner, so a reference reserved for a
// queue-wide exclusive consumer (or currently locked by any consumer) is left
// alone rather than stolen, and only tombstones it once that gate grants.
// Reports whether the lock was granted and the reference dropped. Never
// runs paged-in GC itself — callers looping over many references must call
// q.pagedIn.GC() once after the loop instead of once per drop.
func (q *QueueCoordinator) adminDrop(ctx context.Context, ref *MessageReference) bool {
	if !q.locks.TryLock(ref, HighPriorityOwner) {
		return false
	}
	q.adminDropLocked(ctx, ref)
	return true
}

// adminDropLocked tombstones ref without gating its lock first, for callers
// that already hold it via TryLock(ref, HighPriorityOwner) themselves (e.g.
// MoveMatching, which must lock before copying rather than at drop time).
func (q *QueueCoordinator) adminDropLocked(ctx context.Context, ref *MessageReference) {
	if !ref.markDropped() {
		return
	}
	ref.releaseLock()
	q.pagedIn.MarkDroppedNoGC(ref)
	q.finishDrop(ctx, ref)
}

func (q *QueueCoordinator) finishDrop(ctx context.Context, ref *MessageReference) {
	if ref.Persistent() {
		if err := q.store.RemoveMessage(ctx, ref.MessageID()); err != nil {
			q.logger.Warn("failed to remove acknowledged message from store", logpkg.Err(err))
		}
	}
	q.accountant.ReleaseBytes(ref.sizeBytes)
	q.stats.DepthDecrement(ctx)
}

// expireBeforePageIn tombstones a reference discovered stale while still on
// the pending cursor (never entered the paged-in set).
func (q *QueueCoordinator) expireBeforePageIn(ctx context.Context, ref *MessageReference) {
	if !ref.markDropped() {
		return
	}
	if ref.Persistent() {
		if err := q.store.RemoveMessage(ctx, ref.MessageID()); err != nil {
			q.logger.Warn("failed to remove expired message from store", logpkg.Err(err))
		}
	}
	q.accountant.ReleaseBytes(ref.sizeBytes)
	q.stats.DepthDecrement(ctx)
}

// expireInPagedIn tombstones a reference discovered stale while already
// paged in, additionally nudging the paged-in set's garbage counter.
func (q *QueueCoordinator) expireInPagedIn(ctx context.Context, ref *MessageReference) {
	if !ref.markDropped() {
		return
	}
	q.locks.Unlock(ref)
	q.pagedIn.MarkDropped(ref)
	q.finishDrop(ctx, ref)
}

var errNotLockOwner = notLockOwnerErr{}

type notLockOwnerErr struct{}

func (notLockOwnerErr) Error() string { return "ptqueue: caller does not hold the reference lock" }
