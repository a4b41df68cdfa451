package ptqueue

import "sync"

// DispatchValve is a counting gate that lets topology-mutating operations
// quiesce in-flight dispatches without holding a coarse lock. Contract:
// after TurnOff returns, no new Increment succeeds and all prior Increments
// have paired with Decrement; TurnOn re-admits. The valve is not a mutex and
// does not participate in the published lock order.
type DispatchValve struct {
	mu     sync.Mutex
	cond   *sync.Cond
	count  int
	closed bool
}

// NewDispatchValve returns an open valve.
func NewDispatchValve() *DispatchValve {
	v := &DispatchValve{}
	v.cond = sync.NewCond(&v.mu)
	return v
}

// Increment admits one in-flight dispatch; returns false if the valve is
// currently turned off.
func (v *DispatchValve) Increment() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return false
	}
	v.count++
	return true
}

// Decrement pairs with a successful Increment.
func (v *DispatchValve) Decrement() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.count > 0 {
		v.count--
	}
	if v.count == 0 {
		v.cond.Broadcast()
	}
}

// TurnOff closes the gate to new Increments and blocks until every prior
// Increment has paired with a Decrement.
func (v *DispatchValve) TurnOff() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	for v.count > 0 {
		v.cond.Wait()
	}
}

// TurnOn re-admits new Increments.
func (v *DispatchValve) TurnOn() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = false
}
