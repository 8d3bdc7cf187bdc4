// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Process configuration loaded from TOML, plus a thread-safe store that
// propagates reloads to registered listeners.

package control

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/momentics/hioload-mem/api"
	"github.com/momentics/hioload-mem/pool"
	"go.uber.org/zap/zapcore"
)

// LogConfig selects the logger level and encoding ("json" or "console").
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Listen    string `toml:"listen"`
	Namespace string `toml:"namespace"`
}

// Config is the whole file. Allocator settings only take effect at start-up;
// the log level follows reloads.
type Config struct {
	Allocator pool.Config   `toml:"allocator"`
	Log       LogConfig     `toml:"log"`
	Metrics   MetricsConfig `toml:"metrics"`
}

func DefaultConfig() Config {
	return Config{
		Allocator: pool.DefaultConfig(),
		Log:       LogConfig{Level: "info", Format: "json"},
		Metrics:   MetricsConfig{Enabled: true, Listen: ":9100", Namespace: "hioload"},
	}
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Allocator.Validate(); err != nil {
		return err
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return api.NewError(api.ErrCodeInvalidArgument, "log: unknown level").WithContext("level", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return api.NewError(api.ErrCodeInvalidArgument, "log: unknown format").WithContext("format", c.Log.Format)
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return api.NewError(api.ErrCodeInvalidArgument, "metrics: listen address required")
	}
	return nil
}

// LoadConfig reads path over DefaultConfig. Unknown keys are an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("control: load %s: %w", path, err)
	}
	return finishDecode(cfg, md)
}

// ParseConfig is LoadConfig for in-memory TOML.
func ParseConfig(data string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.Decode(data, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("control: parse: %w", err)
	}
	return finishDecode(cfg, md)
}

func finishDecode(cfg Config, md toml.MetaData) (Config, error) {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return Config{}, api.NewError(api.ErrCodeInvalidArgument, "control: unknown keys: "+strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ConfigStore holds the current Config and notifies listeners on Update.
type ConfigStore struct {
	mu        sync.RWMutex
	config    Config
	listeners []func(old, cur Config)
}

func NewConfigStore(cfg Config) *ConfigStore {
	return &ConfigStore{config: cfg}
}

// Snapshot returns the current configuration.
func (cs *ConfigStore) Snapshot() Config {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.config
}

// Update validates cfg, stores it and runs the listeners synchronously in
// registration order.
func (cs *ConfigStore) Update(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cs.mu.Lock()
	old := cs.config
	cs.config = cfg
	listeners := append([]func(old, cur Config){}, cs.listeners...)
	cs.mu.Unlock()

	for _, fn := range listeners {
		fn(old, cfg)
	}
	return nil
}

// OnReload registers a listener for later updates.
func (cs *ConfigStore) OnReload(fn func(old, cur Config)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}
