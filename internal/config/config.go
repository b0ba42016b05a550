// Package config loads the configuration document of the bench command: the
// cache and aggregator settings, the workload shape and the logger. It
// exposes a Default() baseline and converts sections into component Options.
//
//	cfg, err := config.Load("bench.yaml") // "" => defaults
//	if err != nil {
//	    return err
//	}
//	agg, err := aggregator.New[[]byte](cfg.Aggregator.Options(cfg.Cache))
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/IvanBrykalov/tierbus/aggregator"
	"github.com/IvanBrykalov/tierbus/cache"
	"github.com/IvanBrykalov/tierbus/fault"
)

// Config is the top-level document.
type Config struct {
	Cache      Cache      `json:"cache" yaml:"cache"`
	Aggregator Aggregator `json:"aggregator" yaml:"aggregator"`
	Bench      Bench      `json:"bench" yaml:"bench"`
	Log        Log        `json:"log" yaml:"log"`
}

// Cache mirrors cache.Options.
type Cache struct {
	IncludeFastTier bool     `json:"includeFastTier" yaml:"includeFastTier"`
	MinCapacity     int      `json:"minCapacity" yaml:"minCapacity"`
	MaxCapacity     int      `json:"maxCapacity" yaml:"maxCapacity"`
	Adaptive        bool     `json:"adaptive" yaml:"adaptive"`
	Window          int      `json:"window" yaml:"window"`
	Windows         int      `json:"windows" yaml:"windows"`
	AdjustInterval  Duration `json:"adjustInterval" yaml:"adjustInterval"`
	TierLifetime    Duration `json:"tierLifetime" yaml:"tierLifetime"`
}

// Aggregator mirrors the scalar part of aggregator.Options.
type Aggregator struct {
	MaxLag        int64 `json:"maxLag" yaml:"maxLag"`
	TrimDelivered bool  `json:"trimDelivered" yaml:"trimDelivered"`
}

// Bench shapes the synthetic workload.
type Bench struct {
	Mode        string   `json:"mode" yaml:"mode"` // cache | pubsub | mediator
	Workers     int      `json:"workers" yaml:"workers"`
	Subscribers int      `json:"subscribers" yaml:"subscribers"`
	Duration    Duration `json:"duration" yaml:"duration"`
	ReadPct     int      `json:"readPct" yaml:"readPct"`
	PayloadSize int      `json:"payloadSize" yaml:"payloadSize"`
	Seed        int64    `json:"seed" yaml:"seed"`
	MetricsAddr string   `json:"metricsAddr" yaml:"metricsAddr"`
	PprofAddr   string   `json:"pprofAddr" yaml:"pprofAddr"`
}

// Log selects the slog handler.
type Log struct {
	Level  string `json:"level" yaml:"level"`   // debug | info | warn | error
	Format string `json:"format" yaml:"format"` // text | json
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Cache: Cache{
			IncludeFastTier: true,
			MinCapacity:     1_000,
			MaxCapacity:     10_000,
			Adaptive:        true,
			Window:          128,
			Windows:         4,
		},
		Aggregator: Aggregator{
			MaxLag:        100_000,
			TrimDelivered: true,
		},
		Bench: Bench{
			Mode:        "pubsub",
			Workers:     4,
			Subscribers: 4,
			Duration:    Duration(10 * time.Second),
			ReadPct:     80,
			PayloadSize: 64,
			MetricsAddr: ":8080",
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a JSON or YAML file (by extension) on top of
// Default(). If path is empty, returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	default:
		err = json.Unmarshal(b, &cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the components would refuse anyway, with the
// offending field named.
func (c Config) Validate() error {
	switch {
	case c.Cache.MinCapacity < 0 || c.Cache.MaxCapacity < 0:
		return fault.Misconfigured("config: cache capacities must be non-negative")
	case c.Cache.MinCapacity > c.Cache.MaxCapacity:
		return fault.Misconfigured("config: cache.minCapacity %d exceeds cache.maxCapacity %d",
			c.Cache.MinCapacity, c.Cache.MaxCapacity)
	case c.Aggregator.MaxLag < 0:
		return fault.Misconfigured("config: aggregator.maxLag must be non-negative")
	case c.Bench.ReadPct < 0 || c.Bench.ReadPct > 100:
		return fault.Misconfigured("config: bench.readPct %d outside [0, 100]", c.Bench.ReadPct)
	}
	switch c.Bench.Mode {
	case "cache", "pubsub", "mediator":
	default:
		return fault.Misconfigured("config: unknown bench.mode %q", c.Bench.Mode)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// Options converts the section into cache.Options. Logger and Metrics are
// left for the caller.
func (c Cache) Options() cache.Options {
	return cache.Options{
		IncludeFastTier: c.IncludeFastTier,
		MinCapacity:     c.MinCapacity,
		MaxCapacity:     c.MaxCapacity,
		Adaptive:        c.Adaptive,
		Window:          c.Window,
		Windows:         c.Windows,
		AdjustInterval:  time.Duration(c.AdjustInterval),
		TierLifetime:    time.Duration(c.TierLifetime),
	}
}

// Options converts the section into aggregator.Options over the given cache.
func (a Aggregator) Options(c Cache) aggregator.Options {
	return aggregator.Options{
		Cache:         c.Options(),
		MaxLag:        a.MaxLag,
		TrimDelivered: a.TrimDelivered,
	}
}

// NewLogger builds a slog.Logger writing to w.
func (l Log) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	ho := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(l.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, ho)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, ho)), nil
	default:
		return nil, fmt.Errorf("config: unknown log.format %q", l.Format)
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: log.level: %w", err)
	}
	return level, nil
}
