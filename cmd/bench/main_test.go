package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/tierbus/internal/config"
	pmet "github.com/IvanBrykalov/tierbus/metrics/prom"
)

func TestApplyFlags_OnlyChangedFlagsOverride(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--mode=cache", "--max=32", "--duration=150ms", "--adaptive=false"}))

	cfg := config.Default()
	cfg.Bench.Workers = 7 // as if loaded from a file
	require.NoError(t, applyFlags(cmd, &cfg))

	assert.Equal(t, "cache", cfg.Bench.Mode)
	assert.Equal(t, 32, cfg.Cache.MaxCapacity)
	assert.False(t, cfg.Cache.Adaptive)
	assert.Equal(t, 150*time.Millisecond, time.Duration(cfg.Bench.Duration))
	assert.Equal(t, 7, cfg.Bench.Workers, "unset flag must not clobber the file value")
}

// One short run per mode against a private registry.
func TestWorkloads(t *testing.T) {
	w := workload{
		log:     slog.New(slog.DiscardHandler),
		metrics: pmet.New(prometheus.NewRegistry(), "tierbus", "bench_test", nil),
	}
	for _, mode := range []string{"cache", "pubsub", "mediator"} {
		t.Run(mode, func(t *testing.T) {
			cfg := config.Default()
			cfg.Bench.Mode = mode
			cfg.Bench.Workers = 2
			cfg.Bench.Subscribers = 2
			cfg.Bench.Seed = 1
			cfg.Cache.MinCapacity, cfg.Cache.MaxCapacity = 4, 64
			w.cfg = cfg

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			var (
				rep report
				err error
			)
			switch mode {
			case "cache":
				rep, err = w.cache(ctx)
			case "pubsub":
				rep, err = w.pubsub(ctx)
			case "mediator":
				rep, err = w.mediator(ctx)
			}
			require.NoError(t, err)
			assert.Positive(t, rep.ops)
			assert.NotEmpty(t, rep.lines)
		})
	}
}
