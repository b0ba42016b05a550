package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/tierbus/aggregator"
	"github.com/IvanBrykalov/tierbus/cache"
	"github.com/IvanBrykalov/tierbus/fault"
	"github.com/IvanBrykalov/tierbus/internal/config"
	"github.com/IvanBrykalov/tierbus/mediator"
	pmet "github.com/IvanBrykalov/tierbus/metrics/prom"
	"github.com/IvanBrykalov/tierbus/store"
)

type workload struct {
	cfg     config.Config
	log     *slog.Logger
	metrics *pmet.Adapter
}

type report struct {
	elapsed time.Duration
	ops     uint64
	lines   []string
}

func (r report) print(w io.Writer, cfg config.Config) {
	fmt.Fprintf(w, "mode=%s workers=%d min=%d max=%d adaptive=%v dur=%v seed=%d\n",
		cfg.Bench.Mode, cfg.Bench.Workers, cfg.Cache.MinCapacity, cfg.Cache.MaxCapacity,
		cfg.Cache.Adaptive, r.elapsed.Round(time.Millisecond), cfg.Bench.Seed)
	fmt.Fprintf(w, "ops=%d (%.0f ops/s)\n", r.ops, float64(r.ops)/r.elapsed.Seconds())
	for _, l := range r.lines {
		fmt.Fprintln(w, l)
	}
}

// workers runs fn on every worker until ctx ends. Each worker gets its own
// RNG (rand.Rand is NOT goroutine-safe). Context expiry is not an error.
func (w workload) workers(ctx context.Context, fn func(r *rand.Rand) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for id := 0; id < w.cfg.Bench.Workers; id++ {
		r := rand.New(rand.NewSource(w.cfg.Bench.Seed + int64(id)*9973))
		g.Go(func() error {
			for ctx.Err() == nil {
				if err := fn(r); err != nil {
					if errors.Is(err, fault.ErrCancelledByCaller) {
						return nil
					}
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (w workload) payload() []byte { return make([]byte, w.cfg.Bench.PayloadSize) }

func (w workload) cache(ctx context.Context) (report, error) {
	opt := w.cfg.Cache.Options()
	opt.Logger = w.log
	opt.Metrics = w.metrics
	c, err := cache.New[[]byte](opt)
	if err != nil {
		return report{}, err
	}
	defer func() { _ = c.Close() }()

	// ---- Preload twice the fast tier to get traffic on both tiers ----
	for i := 0; i < 2*max(w.cfg.Cache.MaxCapacity, 1); i++ {
		if _, err := c.Add(w.payload()); err != nil {
			return report{}, err
		}
	}

	var ops, reads, hits atomic.Uint64
	readPct := w.cfg.Bench.ReadPct
	start := time.Now()
	err = w.workers(ctx, func(r *rand.Rand) error {
		ops.Add(1)
		if r.Intn(100) < readPct {
			reads.Add(1)
			if _, ok := c.Lookup(1 + r.Int63n(c.LastID())); ok {
				hits.Add(1)
			}
			return nil
		}
		if r.Intn(10) == 0 {
			_, _ = c.Remove(1 + r.Int63n(c.LastID()))
			return nil
		}
		_, err := c.Add(w.payload())
		return err
	})
	elapsed := time.Since(start)
	if err != nil {
		return report{}, err
	}

	st := c.Stats()
	hitRate := 0.0
	if n := reads.Load(); n > 0 {
		hitRate = float64(hits.Load()) / float64(n) * 100
	}
	return report{
		elapsed: elapsed,
		ops:     ops.Load(),
		lines: []string{
			fmt.Sprintf("reads=%d hit-rate=%.2f%% fast-hits=%d overflow-hits=%d",
				reads.Load(), hitRate, st.FastHits, st.OverflowHits),
			fmt.Sprintf("fast=%d overflow=%d target=%d promotions=%d demotions=%d",
				st.Fast, st.Overflow, st.Target, st.Promotions, st.Demotions),
		},
	}, nil
}

func (w workload) pubsub(ctx context.Context) (report, error) {
	opt := w.cfg.Aggregator.Options(w.cfg.Cache)
	opt.Logger = w.log
	opt.Metrics = w.metrics
	agg, err := aggregator.New[[]byte](opt)
	if err != nil {
		return report{}, err
	}

	var received atomic.Uint64
	for i := 0; i < w.cfg.Bench.Subscribers; i++ {
		_, err := agg.Subscribe(context.Background(), aggregator.Funcs[[]byte]{
			Next: func(context.Context, store.Entry[[]byte]) error {
				received.Add(1)
				return nil
			},
		})
		if err != nil {
			return report{}, err
		}
	}

	start := time.Now()
	err = w.workers(ctx, func(*rand.Rand) error {
		if err := agg.WaitCanPublish(ctx); err != nil {
			return err
		}
		_, err := agg.Publish(w.payload())
		return err
	})
	if err != nil {
		return report{}, err
	}

	// Drain what was published before reporting.
	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := agg.Close(closeCtx); err != nil {
		return report{}, fmt.Errorf("drain: %w", err)
	}
	elapsed := time.Since(start)

	published := agg.Published()
	want := published * int64(w.cfg.Bench.Subscribers)
	if agg.Delivered() != want {
		w.log.Warn("delivery count mismatch", slog.Int64("delivered", agg.Delivered()), slog.Int64("want", want))
	}
	return report{
		elapsed: elapsed,
		ops:     uint64(published),
		lines: []string{
			fmt.Sprintf("published=%d subscribers=%d delivered=%d received=%d",
				published, w.cfg.Bench.Subscribers, agg.Delivered(), received.Load()),
		},
	}, nil
}

func (w workload) mediator(ctx context.Context) (report, error) {
	reqOpt := w.cfg.Aggregator.Options(w.cfg.Cache)
	reqOpt.Metrics = w.metrics
	m, err := mediator.New[[]byte, int](mediator.Options{
		Requests: reqOpt,
		Replies:  w.cfg.Aggregator.Options(w.cfg.Cache),
		Logger:   w.log,
	})
	if err != nil {
		return report{}, err
	}
	for i := 0; i < max(w.cfg.Bench.Subscribers, 1); i++ {
		if _, err := m.Handle(context.Background(), func(_ context.Context, req store.Entry[[]byte]) (int, error) {
			return len(req.Value), nil
		}); err != nil {
			return report{}, err
		}
	}

	var calls, latency atomic.Uint64
	start := time.Now()
	err = w.workers(ctx, func(*rand.Rand) error {
		t0 := time.Now()
		if _, err := m.Send(ctx, w.payload()); err != nil {
			return err
		}
		latency.Add(uint64(time.Since(t0)))
		calls.Add(1)
		return nil
	})
	elapsed := time.Since(start)
	if err != nil {
		return report{}, err
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.Close(closeCtx); err != nil {
		return report{}, fmt.Errorf("close: %w", err)
	}

	avg := time.Duration(0)
	if n := calls.Load(); n > 0 {
		avg = time.Duration(latency.Load() / n)
	}
	return report{
		elapsed: elapsed,
		ops:     calls.Load(),
		lines:   []string{fmt.Sprintf("calls=%d avg-latency=%v handlers=%d", calls.Load(), avg, max(w.cfg.Bench.Subscribers, 1))},
	}, nil
}
