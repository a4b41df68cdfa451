package ptqueue

import "sync"

// PagedInSet is the bounded in-memory working set of message references
// eligible for dispatch: an insertion-ordered list protected by its own
// mutex. Every mutation that marks a reference dropped increments
// garbageSize; once it exceeds gcThreshold a compaction runs and the task
// runner is signalled to resume paging.
type PagedInSet struct {
	mu          sync.Mutex
	entries     []*MessageReference
	garbageSize int
	gcThreshold int

	onNeedsPaging func()
}

// NewPagedInSet builds an empty set. onNeedsPaging, if non-nil, is invoked
// after a compaction frees room for more references (typically the task
// runner's Wakeup).
func NewPagedInSet(gcThreshold int, onNeedsPaging func()) *PagedInSet {
	if gcThreshold <= 0 {
		gcThreshold = 64
	}
	return &PagedInSet{gcThreshold: gcThreshold, onNeedsPaging: onNeedsPaging}
}

// Append adds references to the tail of the working set.
func (p *PagedInSet) Append(refs ...*MessageReference) {
	if len(refs) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, refs...)
}

// Len returns the current size, tombstones included.
func (p *PagedInSet) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Snapshot returns a stable copy of the current entries for iteration
// outside the paged-in mutex (admin ops snapshot-first to avoid re-entrant
// lock acquisition against live mutation).
func (p *PagedInSet) Snapshot() []*MessageReference {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*MessageReference, len(p.entries))
	copy(out, p.entries)
	return out
}

// MarkDropped counts ref's tombstone toward garbageSize and runs gc once
// garbageSize exceeds the threshold. Every call counts, so calling it twice
// for the same reference counts that reference twice; entries are only ever
// removed by GC.
func (p *PagedInSet) MarkDropped(ref *MessageReference) {
	if p.markDroppedNoGC(ref) {
		p.GC()
	}
}

// MarkDroppedNoGC tombstones ref like MarkDropped but never triggers a
// compaction itself, for callers that drop many references in a single loop
// and want to call GC once at the end instead of once per tombstone.
func (p *PagedInSet) MarkDroppedNoGC(ref *MessageReference) {
	p.markDroppedNoGC(ref)
}

func (p *PagedInSet) markDroppedNoGC(ref *MessageReference) bool {
	p.mu.Lock()
	p.garbageSize++
	needsGC := p.garbageSize > p.gcThreshold
	p.mu.Unlock()
	return needsGC
}

// GC scans the list once, removing dropped references and resetting the
// garbage counter; this bounds compaction to O(N) rather than O(N^2) when
// driven one tombstone at a time.
func (p *PagedInSet) GC() {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.entries[:0:0]
	for _, ref := range p.entries {
		if !ref.isDropped() {
			kept = append(kept, ref)
		}
	}
	removed := len(p.entries) - len(kept)
	p.entries = kept
	if removed == 0 {
		return
	}
	p.garbageSize = 0
	if p.onNeedsPaging != nil {
		p.onNeedsPaging()
	}
}
