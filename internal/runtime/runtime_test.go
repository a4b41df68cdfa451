package runtime

import (
	"context"
	"testing"

	cfgpkg "github.com/wharfq/wharf/internal/config"
	pebblestore "github.com/wharfq/wharf/internal/storage/pebble"
)

func TestOpenCloseHealth(t *testing.T) {
	dir := t.TempDir()
	rt, err := Open(Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways, Config: cfgpkg.Default()})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	defer rt.Close()
	if err := rt.CheckHealth(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestEnsureAndOpen(t *testing.T) {
	dir := t.TempDir()
	rt, err := Open(Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways, Config: cfgpkg.Default()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	if _, err := rt.EnsureNamespace("default"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	q, err := rt.OpenPTQueue(context.Background(), "default", "jobs")
	if err != nil {
		t.Fatalf("open ptqueue: %v", err)
	}
	if q2, err := rt.OpenPTQueue(context.Background(), "default", "jobs"); err != nil || q2 != q {
		t.Fatalf("expected cached coordinator, got err=%v same=%v", err, q2 == q)
	}
}
