// Package runtime wires storage, config, and facades into a single-node
// Wharf instance. It exposes Open/Close, basic health checks, and
// OpenPTQueue, which lazily constructs and caches one point-to-point queue
// coordinator per namespace/destination pair.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(runtime.Options{DataDir: "./data", Fsync: pebblestore.FsyncModeAlways, Config: cfg})
//	defer rt.Close()
//	// Health
//	_ = rt.CheckHealth(context.Background())
//	// Open a destination and send
//	q, _ := rt.OpenPTQueue(context.Background(), "default", "orders")
//	_ = q.Send(context.Background(), &ptqueue.Message{Payload: []byte("hello")})
package runtime
