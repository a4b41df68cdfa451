package ptqueue

import (
	"context"
	"testing"
	"time"
)

func TestSimpleAccountantFailFast(t *testing.T) {
	a := NewSimpleAccountant(10, true)
	if a.IsFull() {
		t.Fatalf("expected a fresh accountant not to be full")
	}
	a.ReserveBytes(10)
	if !a.IsFull() {
		t.Fatalf("expected the accountant to report full once usage reaches the limit")
	}
	if !a.IsSendFailIfNoSpace() {
		t.Fatalf("expected fail-fast mode to be reported")
	}
	if got := a.PercentUsage(); got != 100 {
		t.Fatalf("percent usage = %v, want 100", got)
	}
	a.ReleaseBytes(10)
	if a.IsFull() {
		t.Fatalf("expected the accountant to report space after releasing")
	}
}

func TestSimpleAccountantWaitForSpaceUnblocksOnRelease(t *testing.T) {
	a := NewSimpleAccountant(10, false)
	a.ReserveBytes(10)

	done := make(chan error, 1)
	go func() {
		done <- a.WaitForSpace(context.Background())
	}()

	select {
	case <-done:
		t.Fatalf("WaitForSpace returned before space was released")
	case <-time.After(20 * time.Millisecond):
	}

	a.ReleaseBytes(5)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitForSpace: unexpected error %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("WaitForSpace did not unblock after ReleaseBytes")
	}
}

func TestSimpleAccountantWaitForSpaceRespectsContext(t *testing.T) {
	a := NewSimpleAccountant(1, false)
	a.ReserveBytes(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := a.WaitForSpace(ctx); err == nil {
		t.Fatalf("expected WaitForSpace to return an error once the context is cancelled")
	}
}

func TestSimpleAccountantWithParentRollsUp(t *testing.T) {
	parent := NewSimpleAccountant(100, false)
	child := NewSimpleAccountant(100, false).WithParent(parent)

	child.ReserveBytes(30)
	if got := parent.PercentUsage(); got != 30 {
		t.Fatalf("parent percent usage = %v, want 30", got)
	}

	child.ReleaseBytes(10)
	if got := parent.PercentUsage(); got != 20 {
		t.Fatalf("parent percent usage after release = %v, want 20", got)
	}
}

func TestSimpleAccountantUnboundedLimit(t *testing.T) {
	a := NewSimpleAccountant(0, true)
	a.ReserveBytes(1 << 30)
	if a.IsFull() {
		t.Fatalf("a zero limit means unbounded, expected never full")
	}
}
