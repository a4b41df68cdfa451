// Package workqueues provides the administrative service layer over the
// point-to-point queue engine (internal/ptqueue).
//
// # Overview
//
// The service implements one-of-N delivery: each message sent to a
// destination is delivered to exactly one competing consumer, as opposed to
// Streams (pub/sub) where messages fan out to every subscriber.
//
// # Core Concepts
//
//   - Reference lock: temporary, per-message exclusive hold a consumer
//     acquires before delivery and releases on acknowledge.
//   - Subscription: a registered consumer with a prefetch credit window and
//     optional selector predicate.
//   - Message group: sticky affinity binding a group id to one consumer for
//     the life of that binding.
//   - Paged-in set: the bounded in-memory working set the dispatch loop
//     actually offers to consumers; the pending cursor holds the remainder,
//     spillable to disk.
//
// # Service Architecture
//
// The service is a thin façade that coordinates one ptqueue.QueueCoordinator
// per namespace/destination pair, obtained from runtime.Runtime.OpenPTQueue,
// and translates plain Go request/response structs into coordinator calls.
//
// # Message Flow
//
//  1. Producer -> Send -> durable store + pending cursor
//  2. Dispatch loop -> pages in, offers to subscriptions round-robin
//  3. Consumer -> Acknowledge -> reference dropped, usage released
//  4. [OR] Subscription departs -> held references re-offered
//
// # Admin Operations
//
//   - Browse: read matching messages without removing them
//   - RemoveMatching / CopyMatching / MoveMatching: bulk selector-driven ops
//   - Purge: discard every message for a destination
//
// The service has no stats operation; no depth or usage snapshot is exposed
// through it.
package workqueues
