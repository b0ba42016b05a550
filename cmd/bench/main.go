// Command bench runs a synthetic workload against the cache, the aggregator or
// the mediator and exposes optional pprof/Prometheus endpoints.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/IvanBrykalov/tierbus/internal/config"
	pmet "github.com/IvanBrykalov/tierbus/metrics/prom"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bench",
		Short: "Synthetic workloads for tierbus",
		Long: "bench drives the tiered cache (mode cache), the pub/sub aggregator (mode pubsub)\n" +
			"or the request/response mediator (mode mediator) and reports throughput.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if err := applyFlags(cmd, &cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	d := config.Default()
	f := rootCmd.Flags()
	f.String("config", "", "YAML or JSON config file (flags override it)")
	f.String("mode", d.Bench.Mode, "workload: cache | pubsub | mediator")
	f.Int("workers", d.Bench.Workers, "number of producer goroutines")
	f.Int("subscribers", d.Bench.Subscribers, "subscribers (pubsub) or handlers (mediator)")
	f.Duration("duration", time.Duration(d.Bench.Duration), "benchmark duration")
	f.Int("reads", d.Bench.ReadPct, "read percentage [0..100] (cache mode)")
	f.Int("payload", d.Bench.PayloadSize, "payload size in bytes")
	f.Int64("seed", 0, "random seed (0 = time-based)")
	f.Int("min", d.Cache.MinCapacity, "fast-tier minimum capacity")
	f.Int("max", d.Cache.MaxCapacity, "fast-tier maximum capacity")
	f.Bool("adaptive", d.Cache.Adaptive, "let the controller move the fast-tier target")
	f.Int64("max-lag", d.Aggregator.MaxLag, "per-subscriber backlog bound (0 = unbounded)")
	f.String("http", d.Bench.MetricsAddr, "serve Prometheus metrics at addr; empty = disabled")
	f.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
	f.String("log-level", d.Log.Level, "log level: debug|info|warn|error")
	f.String("log-format", d.Log.Format, "log format: text|json")
	return rootCmd
}

// applyFlags copies explicitly set flags over the loaded configuration.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	var err error
	set := func(name string, apply func() error) {
		if err == nil && f.Changed(name) {
			err = apply()
		}
	}
	set("mode", func() (e error) { cfg.Bench.Mode, e = f.GetString("mode"); return })
	set("workers", func() (e error) { cfg.Bench.Workers, e = f.GetInt("workers"); return })
	set("subscribers", func() (e error) { cfg.Bench.Subscribers, e = f.GetInt("subscribers"); return })
	set("duration", func() error {
		v, e := f.GetDuration("duration")
		cfg.Bench.Duration = config.Duration(v)
		return e
	})
	set("reads", func() (e error) { cfg.Bench.ReadPct, e = f.GetInt("reads"); return })
	set("payload", func() (e error) { cfg.Bench.PayloadSize, e = f.GetInt("payload"); return })
	set("seed", func() (e error) { cfg.Bench.Seed, e = f.GetInt64("seed"); return })
	set("min", func() (e error) { cfg.Cache.MinCapacity, e = f.GetInt("min"); return })
	set("max", func() (e error) { cfg.Cache.MaxCapacity, e = f.GetInt("max"); return })
	set("adaptive", func() (e error) { cfg.Cache.Adaptive, e = f.GetBool("adaptive"); return })
	set("max-lag", func() (e error) { cfg.Aggregator.MaxLag, e = f.GetInt64("max-lag"); return })
	set("http", func() (e error) { cfg.Bench.MetricsAddr, e = f.GetString("http"); return })
	set("pprof", func() (e error) { cfg.Bench.PprofAddr, e = f.GetString("pprof"); return })
	set("log-level", func() (e error) { cfg.Log.Level, e = f.GetString("log-level"); return })
	set("log-format", func() (e error) { cfg.Log.Format, e = f.GetString("log-format"); return })
	return err
}

func run(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return err
	}
	if cfg.Bench.Seed == 0 {
		cfg.Bench.Seed = time.Now().UnixNano()
	}
	if cfg.Bench.Workers <= 0 {
		cfg.Bench.Workers = 1
	}

	// ---- pprof server (on DefaultServeMux) ----
	if addr := cfg.Bench.PprofAddr; addr != "" {
		go serve(logger, "pprof", addr, nil)
	}

	// ---- Prometheus metrics ----
	metrics := pmet.New(nil, "tierbus", "bench", prometheus.Labels{"mode": cfg.Bench.Mode})
	if addr := cfg.Bench.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go serve(logger, "metrics", addr, mux)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Bench.Duration))
	defer cancel()

	logger.Info("bench starting",
		slog.String("mode", cfg.Bench.Mode),
		slog.Int("workers", cfg.Bench.Workers),
		slog.Duration("duration", time.Duration(cfg.Bench.Duration)),
		slog.Int64("seed", cfg.Bench.Seed))

	w := workload{cfg: cfg, log: logger, metrics: metrics}
	var rep report
	switch cfg.Bench.Mode {
	case "cache":
		rep, err = w.cache(ctx)
	case "pubsub":
		rep, err = w.pubsub(ctx)
	case "mediator":
		rep, err = w.mediator(ctx)
	default:
		err = fmt.Errorf("unknown mode %q (use cache, pubsub or mediator)", cfg.Bench.Mode)
	}
	if err != nil {
		return err
	}
	rep.print(os.Stdout, cfg)
	return nil
}

func serve(logger *slog.Logger, name, addr string, h http.Handler) {
	logger.Info("serving", slog.String("endpoint", name), slog.String("addr", addr))
	if err := http.ListenAndServe(addr, h); err != nil {
		logger.Error("endpoint stopped", slog.String("endpoint", name), slog.String("error", err.Error()))
	}
}
