package workqueues

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/cockroachdb/pebble"
	"github.com/wharfq/wharf/internal/ptqueue"
	"github.com/wharfq/wharf/internal/runtime"
	"github.com/wharfq/wharf/pkg/id"
	logpkg "github.com/wharfq/wharf/pkg/log"
)

// Service provides the administrative surface over point-to-point queues.
// It coordinates one ptqueue.QueueCoordinator per namespace/destination,
// obtained lazily through runtime.Runtime.OpenPTQueue.
type Service struct {
	rt     *runtime.Runtime
	logger logpkg.Logger

	ids *id.Generator

	defaultPriority int
	defaultPrefetch int
}

// New creates a new WorkQueues service with default settings.
func New(rt *runtime.Runtime) *Service {
	logger := logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
	logger = logger.With(logpkg.F("component", "workqueues"))
	return NewWithLogger(rt, logger)
}

// NewWithLogger creates a new WorkQueues service with a custom logger.
func NewWithLogger(rt *runtime.Runtime, logger logpkg.Logger) *Service {
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
		logger = logger.With(logpkg.F("component", "workqueues"))
	}
	return &Service{
		rt:              rt,
		logger:          logger,
		ids:             id.NewGenerator(),
		defaultPriority: 0,
		defaultPrefetch: 16,
	}
}

func (s *Service) namespace(ns string) string {
	if ns == "" {
		return s.rt.Config().DefaultNamespaceName
	}
	return ns
}

// SendRequest describes a message to enqueue on a destination.
type SendRequest struct {
	Namespace    string
	Destination  string
	Payload      []byte
	Headers      map[string]string
	Persistent   bool
	ExpirationMs int64
	GroupID      string
}

// Send enqueues a message, assigning it a fresh id.
func (s *Service) Send(ctx context.Context, req SendRequest) (id.ID, error) {
	ns := s.namespace(req.Namespace)
	q, err := s.rt.OpenPTQueue(ctx, ns, req.Destination)
	if err != nil {
		return id.ID{}, fmt.Errorf("open destination %s/%s: %w", ns, req.Destination, err)
	}

	msg := &ptqueue.Message{
		ID:           s.ids.Next(),
		Destination:  req.Destination,
		Payload:      req.Payload,
		Headers:      req.Headers,
		Persistent:   req.Persistent,
		ExpirationMs: req.ExpirationMs,
		GroupID:      req.GroupID,
	}
	if err := q.Send(ctx, msg); err != nil {
		return id.ID{}, err
	}
	return msg.ID, nil
}

// SubscribeRequest describes a new consumer registration.
type SubscribeRequest struct {
	Namespace   string
	Destination string
	ConsumerID  string
	Prefetch    int
	Priority    int
	Exclusive   bool
	Selector    string
}

// Subscribe registers a consumer and returns the live subscription handle
// the caller drains via Deliveries().
func (s *Service) Subscribe(ctx context.Context, req SubscribeRequest) (*ptqueue.BaseSubscription, error) {
	ns := s.namespace(req.Namespace)
	q, err := s.rt.OpenPTQueue(ctx, ns, req.Destination)
	if err != nil {
		return nil, fmt.Errorf("open destination %s/%s: %w", ns, req.Destination, err)
	}

	var sel ptqueue.Selector
	if req.Selector != "" {
		sel, err = q.CompileSelector(req.Selector)
		if err != nil {
			return nil, &ptqueue.QueueError{Kind: ptqueue.ErrKindInvalidSelector, Err: err}
		}
	}

	prefetch := req.Prefetch
	if prefetch <= 0 {
		prefetch = s.defaultPrefetch
	}
	sub := ptqueue.NewBaseSubscription(ptqueue.ConsumerInfo{
		ConsumerID: req.ConsumerID,
		Prefetch:   prefetch,
		Priority:   req.Priority,
		Exclusive:  req.Exclusive,
	}, sel)

	if err := q.AddSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Unsubscribe removes a consumer's registration from a destination,
// releasing any references it was holding back to the dispatch pool.
func (s *Service) Unsubscribe(ctx context.Context, namespace, destination, consumerID string) error {
	ns := s.namespace(namespace)
	q, err := s.rt.OpenPTQueue(ctx, ns, destination)
	if err != nil {
		return fmt.Errorf("open destination %s/%s: %w", ns, destination, err)
	}
	return q.RemoveSubscription(ctx, consumerID)
}

// Acknowledge completes delivery of msgID on behalf of consumerID.
func (s *Service) Acknowledge(ctx context.Context, namespace, destination, consumerID, msgID string) error {
	ns := s.namespace(namespace)
	q, err := s.rt.OpenPTQueue(ctx, ns, destination)
	if err != nil {
		return fmt.Errorf("open destination %s/%s: %w", ns, destination, err)
	}
	mid, err := id.Parse(msgID)
	if err != nil {
		return fmt.Errorf("acknowledge: %w", err)
	}
	return q.Acknowledge(ctx, consumerID, mid)
}

// Purge discards every message for a destination.
func (s *Service) Purge(ctx context.Context, namespace, destination string) error {
	ns := s.namespace(namespace)
	q, err := s.rt.OpenPTQueue(ctx, ns, destination)
	if err != nil {
		return fmt.Errorf("open destination %s/%s: %w", ns, destination, err)
	}
	return q.Purge(ctx)
}

// GetMessage fetches a single message body by id.
func (s *Service) GetMessage(ctx context.Context, namespace, destination, msgID string) (*ptqueue.Message, error) {
	ns := s.namespace(namespace)
	q, err := s.rt.OpenPTQueue(ctx, ns, destination)
	if err != nil {
		return nil, fmt.Errorf("open destination %s/%s: %w", ns, destination, err)
	}
	mid, err := id.Parse(msgID)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return q.GetMessage(ctx, mid)
}

// Browse returns up to limit messages matching a selector expression
// without removing them; an empty selector matches everything.
func (s *Service) Browse(ctx context.Context, namespace, destination, selector string, limit int) ([]*ptqueue.Message, error) {
	ns := s.namespace(namespace)
	q, err := s.rt.OpenPTQueue(ctx, ns, destination)
	if err != nil {
		return nil, fmt.Errorf("open destination %s/%s: %w", ns, destination, err)
	}
	sel, err := s.compile(q, selector)
	if err != nil {
		return nil, err
	}
	return q.Browse(ctx, sel, limit)
}

// RemoveMatching discards messages matching selector, skipping any that a
// consumer currently holds locked or that an exclusive consumer is entitled
// to, stopping once max removals have happened
// (max <= 0 means unbounded), and returns how many were removed.
func (s *Service) RemoveMatching(ctx context.Context, namespace, destination, selector string, max int) (int, error) {
	ns := s.namespace(namespace)
	q, err := s.rt.OpenPTQueue(ctx, ns, destination)
	if err != nil {
		return 0, fmt.Errorf("open destination %s/%s: %w", ns, destination, err)
	}
	sel, err := s.compile(q, selector)
	if err != nil {
		return 0, err
	}
	if sel == nil {
		sel = ptqueue.AcceptAllSelector{}
	}
	return q.RemoveMatching(ctx, sel, max)
}

// CopyMatching hands a clone of messages matching selector on srcDest to
// dstDest, leaving the originals in place, stopping once max copies have
// happened (max <= 0 means unbounded), and returns how many copied.
func (s *Service) CopyMatching(ctx context.Context, namespace, srcDest, dstDest, selector string, max int) (int, error) {
	ns := s.namespace(namespace)
	src, err := s.rt.OpenPTQueue(ctx, ns, srcDest)
	if err != nil {
		return 0, fmt.Errorf("open destination %s/%s: %w", ns, srcDest, err)
	}
	dst, err := s.rt.OpenPTQueue(ctx, ns, dstDest)
	if err != nil {
		return 0, fmt.Errorf("open destination %s/%s: %w", ns, dstDest, err)
	}
	sel, err := s.compile(src, selector)
	if err != nil {
		return 0, err
	}
	if sel == nil {
		sel = ptqueue.AcceptAllSelector{}
	}
	return src.CopyMatching(ctx, sel, dst.Send, max)
}

// MoveMatching hands a clone of messages matching selector on srcDest to
// dstDest and, on success, removes the original, stopping once max moves
// have happened (max <= 0 means unbounded), and returns how many moved.
func (s *Service) MoveMatching(ctx context.Context, namespace, srcDest, dstDest, selector string, max int) (int, error) {
	ns := s.namespace(namespace)
	src, err := s.rt.OpenPTQueue(ctx, ns, srcDest)
	if err != nil {
		return 0, fmt.Errorf("open destination %s/%s: %w", ns, srcDest, err)
	}
	dst, err := s.rt.OpenPTQueue(ctx, ns, dstDest)
	if err != nil {
		return 0, fmt.Errorf("open destination %s/%s: %w", ns, dstDest, err)
	}
	sel, err := s.compile(src, selector)
	if err != nil {
		return 0, err
	}
	if sel == nil {
		sel = ptqueue.AcceptAllSelector{}
	}
	return src.MoveMatching(ctx, sel, dst.Send, max)
}

func (s *Service) compile(q *ptqueue.QueueCoordinator, selector string) (ptqueue.Selector, error) {
	if selector == "" {
		return nil, nil
	}
	sel, err := q.CompileSelector(selector)
	if err != nil {
		return nil, &ptqueue.QueueError{Kind: ptqueue.ErrKindInvalidSelector, Err: err}
	}
	return sel, nil
}

// ListDestinations returns every point-to-point destination name with
// durable state in namespace, discovered by scanning message-store keys.
func (s *Service) ListDestinations(_ context.Context, namespace string) ([]string, error) {
	ns := s.namespace(namespace)
	db := s.rt.DB()

	prefix := []byte(fmt.Sprintf("ns/%s/ptq/", ns))
	hi := append(append([]byte{}, prefix...), 0xFF)

	it, err := db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: hi})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer func() { _ = it.Close() }()

	set := make(map[string]struct{})
	for ok := it.First(); ok; ok = it.Next() {
		// Keys are of the form: ns/<namespace>/ptq/<destination>/<section>/...
		parts := bytes.Split(it.Key(), []byte{'/'})
		if len(parts) >= 4 {
			set[string(parts[3])] = struct{}{}
		}
	}

	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}
