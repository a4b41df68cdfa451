package ptqueue

import (
	"context"
	"sync"
)

// txKey is the context key under which an active transaction is carried.
type txKey struct{}

// Tx is a minimal in-process unit of work: it has no distributed coordinator
// and no log of its own, it exists purely so send() can register a
// post-commit hook (append to the cursor, bump enqueue/depth stats, wake the
// paging task) that only fires once the caller's surrounding transaction —
// if any — actually commits, plus a post-rollback hook that releases
// whatever send() reserved (usage accountant bytes) instead, since the
// cursor append those bytes were reserved for will now never happen.
type Tx struct {
	mu           sync.Mutex
	done         bool
	rolledBack   bool
	postCommit   []func()
	postRollback []func()
}

// WithTransaction returns a context carrying a fresh Tx, and the Tx itself
// for the caller to Commit or Rollback.
func WithTransaction(ctx context.Context) (context.Context, *Tx) {
	tx := &Tx{}
	return context.WithValue(ctx, txKey{}, tx), tx
}

// txFromContext extracts the Tx registered on ctx, if any.
func txFromContext(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*Tx)
	return tx, ok
}

// runPostCommit queues fn to run once Commit succeeds. If ctx carries
// no transaction, runPostCommit runs fn immediately — the common case for
// callers that never opened one explicitly.
func runPostCommit(ctx context.Context, fn func()) {
	tx, ok := txFromContext(ctx)
	if !ok {
		fn()
		return
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.postCommit = append(tx.postCommit, fn)
}

// runPostRollback queues fn to run only if ctx's transaction is rolled back
// rather than committed, for releasing send-time side effects (like a usage
// accountant reservation) that have no other undo path once the cursor
// append they were guarding never happens. Outside a transaction this is a
// no-op: there is nothing to roll back.
func runPostRollback(ctx context.Context, fn func()) {
	tx, ok := txFromContext(ctx)
	if !ok {
		return
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.postRollback = append(tx.postRollback, fn)
}

// Commit runs every registered post-commit hook in registration order.
// Calling Commit twice, or after Rollback, is a no-op.
func (t *Tx) Commit() error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return nil
	}
	t.done = true
	hooks := t.postCommit
	rolledBack := t.rolledBack
	t.mu.Unlock()

	if rolledBack {
		return nil
	}
	for _, fn := range hooks {
		fn()
	}
	return nil
}

// Rollback discards every registered post-commit hook without running them
// and instead runs the post-rollback hooks, releasing whatever those hooks'
// registrants reserved in anticipation of a commit that is not going to
// happen. Calling Rollback twice, or after Commit, is a no-op.
func (t *Tx) Rollback() error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return nil
	}
	t.done = true
	t.rolledBack = true
	hooks := t.postRollback
	t.postCommit = nil
	t.postRollback = nil
	t.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	return nil
}
