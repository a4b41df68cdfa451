package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	AllowAutoCreateNamespaces bool              `json:"allowAutoCreateNamespaces" yaml:"allowAutoCreateNamespaces"`
	DefaultNamespaceName      string            `json:"defaultNamespaceName" yaml:"defaultNamespaceName"`
	NamespaceNameRegex        string            `json:"namespaceNameRegex" yaml:"namespaceNameRegex"`
	NamespaceDefaults         NamespaceDefaults `json:"namespaceDefaults" yaml:"namespaceDefaults"`
	MaxNamespaces             int               `json:"maxNamespaces" yaml:"maxNamespaces"`
	AllowedNamespaces         []string          `json:"allowedNamespaces" yaml:"allowedNamespaces"`
	Queue                     QueueDefaults     `json:"queue" yaml:"queue"`
}

// NamespaceDefaults captures per-namespace baseline limits.
type NamespaceDefaults struct {
	Partitions      int `json:"partitions" yaml:"partitions"`
	PayloadMaxBytes int `json:"payloadMaxBytes" yaml:"payloadMaxBytes"`
	HeadersMaxBytes int `json:"headersMaxBytes" yaml:"headersMaxBytes"`
}

// QueueDefaults captures per-destination defaults for the point-to-point queue engine.
type QueueDefaults struct {
	// BasePagedIn is the paged-in capacity floor before adding per-subscription prefetch.
	BasePagedIn int `json:"basePagedIn" yaml:"basePagedIn"`
	// GCThreshold is the tombstone count that triggers a paged-in compaction.
	GCThreshold int `json:"gcThreshold" yaml:"gcThreshold"`
	// UsageLimitBytes bounds the usage accountant guarding send(); 0 means unbounded.
	UsageLimitBytes int64 `json:"usageLimitBytes" yaml:"usageLimitBytes"`
	// SendFailFast selects ResourceExhausted-on-full over blocking waitForSpace.
	SendFailFast bool `json:"sendFailFast" yaml:"sendFailFast"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		AllowAutoCreateNamespaces: true,
		DefaultNamespaceName:      "default",
		NamespaceNameRegex:        "[a-z0-9-_]{1,64}",
		NamespaceDefaults: NamespaceDefaults{
			Partitions:      16,
			PayloadMaxBytes: 1 << 20,
			HeadersMaxBytes: 16 << 10,
		},
		Queue: QueueDefaults{
			BasePagedIn:     100,
			GCThreshold:     64,
			UsageLimitBytes: 0,
			SendFailFast:    false,
		},
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	ext := filepath.Ext(path)
	switch ext {
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}
