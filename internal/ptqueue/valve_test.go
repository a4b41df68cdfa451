package ptqueue

import (
	"testing"
	"time"
)

func TestDispatchValveIncrementDecrement(t *testing.T) {
	v := NewDispatchValve()
	if !v.Increment() {
		t.Fatalf("expected increment to succeed on an open valve")
	}
	if !v.Increment() {
		t.Fatalf("expected a second concurrent increment to succeed")
	}
	v.Decrement()
	v.Decrement()
}

func TestDispatchValveTurnOffBlocksUntilDrained(t *testing.T) {
	v := NewDispatchValve()
	if !v.Increment() {
		t.Fatalf("increment: unexpected failure")
	}

	done := make(chan struct{})
	go func() {
		v.TurnOff()
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("TurnOff returned before the outstanding Increment was paired with a Decrement")
	case <-time.After(20 * time.Millisecond):
	}

	v.Decrement()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("TurnOff did not return after the last Decrement")
	}
}

func TestDispatchValveRejectsIncrementWhileClosed(t *testing.T) {
	v := NewDispatchValve()
	v.TurnOff()
	if v.Increment() {
		t.Fatalf("expected Increment to fail while the valve is closed")
	}
	v.TurnOn()
	if !v.Increment() {
		t.Fatalf("expected Increment to succeed once the valve reopens")
	}
}
