package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	cfgpkg "github.com/wharfq/wharf/internal/config"
	"github.com/wharfq/wharf/internal/namespace"
	"github.com/wharfq/wharf/internal/ptqueue"
	pebblestore "github.com/wharfq/wharf/internal/storage/pebble"
	logpkg "github.com/wharfq/wharf/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	DataDir string
	Fsync   pebblestore.FsyncMode
	Config  cfgpkg.Config
	Logger  logpkg.Logger
}

// Runtime wires storage, config, and facades for a single-node instance.
type Runtime struct {
	db     *pebblestore.DB
	config cfgpkg.Config
	logger logpkg.Logger

	ptqMu  sync.Mutex
	ptqs   map[string]*ptqueue.QueueCoordinator
}

// Open initializes the underlying storage and returns a Runtime.
func Open(opts Options) (*Runtime, error) {
	db, err := pebblestore.Open(pebblestore.Options{DataDir: opts.DataDir, Fsync: opts.Fsync})
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithOutput(logpkg.NullOutput{}))
	}
	rt := &Runtime{db: db, config: opts.Config, logger: logger, ptqs: make(map[string]*ptqueue.QueueCoordinator)}
	return rt, nil
}

// Close shuts down every open queue coordinator, then the underlying store.
func (r *Runtime) Close() error {
	r.ptqMu.Lock()
	for _, q := range r.ptqs {
		_ = q.Shutdown(context.Background())
	}
	r.ptqMu.Unlock()

	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth performs a simple health check.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	it.Close()
	return nil
}

// EnsureNamespace creates a namespace record if absent.
func (r *Runtime) EnsureNamespace(name string) (namespace.Meta, error) {
	return namespace.EnsureNamespace(r.db, name)
}

// OpenPTQueue returns the point-to-point queue coordinator for ns/destination,
// constructing and starting it on first use. Coordinators are cached for the
// lifetime of the Runtime so repeated sends/subscribes share one dispatch
// loop and one in-memory working set.
func (r *Runtime) OpenPTQueue(ctx context.Context, ns, destination string) (*ptqueue.QueueCoordinator, error) {
	key := ns + "/" + destination
	r.ptqMu.Lock()
	if q, ok := r.ptqs[key]; ok {
		r.ptqMu.Unlock()
		return q, nil
	}
	r.ptqMu.Unlock()

	store := ptqueue.NewPebbleMessageStore(r.db, ns, destination)
	cursor := ptqueue.NewPebbleCursor(r.db, ns, destination, store)
	qd := r.config.Queue
	accountant := ptqueue.NewSimpleAccountant(qd.UsageLimitBytes, qd.SendFailFast)

	q := ptqueue.New(ptqueue.Config{
		Namespace:   ns,
		Destination: destination,
		Store:       store,
		Cursor:      cursor,
		Accountant:  accountant,
		Logger:      r.logger,
		BasePagedIn: qd.BasePagedIn,
		GCThreshold: qd.GCThreshold,
	})
	if err := q.Start(ctx); err != nil {
		return nil, fmt.Errorf("start ptqueue %s: %w", key, err)
	}

	r.ptqMu.Lock()
	if existing, ok := r.ptqs[key]; ok {
		r.ptqMu.Unlock()
		_ = q.Shutdown(ctx)
		return existing, nil
	}
	r.ptqs[key] = q
	r.ptqMu.Unlock()
	return q, nil
}

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
