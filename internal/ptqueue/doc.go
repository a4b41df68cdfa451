// Package ptqueue implements the point-to-point queue engine: the
// single-destination delivery core shared by every point-to-point
// destination in the broker. It owns message admission (send), competing
// consumer fan-out (subscribe/acknowledge), and the administrative surface
// (browse, purge, removeMatching/copyMatching/moveMatching, iterate), built
// from a small set of collaborating, independently-lockable components —
// the pending cursor, the paged-in working set, the usage accountant, the
// subscription registry, the lock/group manager, the dispatch policy, and
// the dispatch valve — coordinated by QueueCoordinator.
package ptqueue
