// Package config provides loading and environment overlay for Wharf runtime
// configuration. It exposes a Default() baseline, Load for a config file,
// FromEnv for environment overrides, and DefaultDataDir; the resulting Config
// is passed into runtime.Options as-is.
//
// Example:
//
//	cfg := config.Default()
//	// Optionally load from file and overlay env vars
//	if fileCfg, err := config.Load("/etc/wharf.json"); err == nil {
//	    cfg = fileCfg
//	}
//	config.FromEnv(&cfg)
//	// Pass cfg into runtime.Options
//	rt, _ := runtime.Open(runtime.Options{DataDir: "/var/lib/wharf", Fsync: pebblestore.FsyncModeAlways, Config: cfg})
//	defer rt.Close()
package config
