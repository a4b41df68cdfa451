package ptqueue

import (
	"context"
	"sync"
)

// UsageAccountant is the external byte/slot budget collaborator consumed by
// send(): isFull/isSendFailIfNoSpace gate the fast path, waitForSpace is the
// one suspension point send() is allowed, and setLimit/percentUsage let an
// operator retune or observe it live.
type UsageAccountant interface {
	IsFull() bool
	IsSendFailIfNoSpace() bool
	WaitForSpace(ctx context.Context) error
	SetLimit(n int64)
	PercentUsage() float64
	ReserveBytes(n int64)
	ReleaseBytes(n int64)
}

// SimpleAccountant is a byte-budget UsageAccountant. A queue constructs its
// own accountant and may delegate to a broker-wide parent, mirroring the
// hierarchical rollup used by Statistics.
type SimpleAccountant struct {
	mu       sync.Mutex
	limit    int64 // 0 means unbounded
	used     int64
	failFast bool
	notifyCh chan struct{}

	parent *SimpleAccountant
}

// NewSimpleAccountant builds an accountant with the given byte limit (0 =
// unbounded) and flow-control mode.
func NewSimpleAccountant(limit int64, failFast bool) *SimpleAccountant {
	return &SimpleAccountant{limit: limit, failFast: failFast, notifyCh: make(chan struct{})}
}

// WithParent returns a.(childOf(parent)): usage reserved or released on the
// child is mirrored on the parent. IsFull and WaitForSpace consult only the
// child's own limit, so the parent's limit does not gate the child.
func (a *SimpleAccountant) WithParent(parent *SimpleAccountant) *SimpleAccountant {
	a.parent = parent
	return a
}

func (a *SimpleAccountant) IsFull() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isFullLocked()
}

func (a *SimpleAccountant) isFullLocked() bool {
	if a.limit <= 0 {
		return false
	}
	return a.used >= a.limit
}

func (a *SimpleAccountant) IsSendFailIfNoSpace() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failFast
}

// WaitForSpace blocks until usage drops below the limit or ctx is
// cancelled, in which case send() unwinds without enqueuing.
func (a *SimpleAccountant) WaitForSpace(ctx context.Context) error {
	for {
		a.mu.Lock()
		if !a.isFullLocked() {
			a.mu.Unlock()
			return nil
		}
		ch := a.notifyCh
		a.mu.Unlock()

		select {
		case <-ch:
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (a *SimpleAccountant) SetLimit(n int64) {
	a.mu.Lock()
	a.limit = n
	a.mu.Unlock()
	a.wake()
}

func (a *SimpleAccountant) PercentUsage() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.limit <= 0 {
		return 0
	}
	return float64(a.used) / float64(a.limit) * 100
}

// ReserveBytes charges n bytes toward the budget, propagating to the parent
// accountant if present.
func (a *SimpleAccountant) ReserveBytes(n int64) {
	a.mu.Lock()
	a.used += n
	a.mu.Unlock()
	if a.parent != nil {
		a.parent.ReserveBytes(n)
	}
}

// ReleaseBytes returns n bytes to the budget and wakes any blocked senders.
func (a *SimpleAccountant) ReleaseBytes(n int64) {
	a.mu.Lock()
	a.used -= n
	if a.used < 0 {
		a.used = 0
	}
	a.mu.Unlock()
	a.wake()
	if a.parent != nil {
		a.parent.ReleaseBytes(n)
	}
}

func (a *SimpleAccountant) wake() {
	a.mu.Lock()
	defer a.mu.Unlock()
	close(a.notifyCh)
	a.notifyCh = make(chan struct{})
}
