package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/IvanBrykalov/tierbus/cache"
	"github.com/IvanBrykalov/tierbus/fault"
	"github.com/IvanBrykalov/tierbus/internal/util"
	"github.com/IvanBrykalov/tierbus/store"
)

// Aggregator is an append-only event log with per-subscriber fan-out.
// All methods are safe for concurrent use by multiple goroutines.
type Aggregator[T any] struct {
	log *cache.Cache[T]
	opt Options
	lg  *slog.Logger

	// pubMu orders Publish against Subscribe and Close, so a subscriber's
	// starting cursor and the tail it is compared with always agree.
	pubMu  sync.Mutex
	closed atomic.Bool // written under pubMu
	tail   atomic.Int64

	// Live subscriptions as a copy-on-write snapshot; regMu serializes
	// rewrites so fan-out can iterate without locking.
	regMu sync.Mutex
	subs  atomic.Pointer[[]*Subscription[T]]

	published util.PaddedAtomicInt64
	delivered util.PaddedAtomicInt64
	// Delivery goroutines not yet exited, registered or not.
	running atomic.Int64

	// Goroutines parked in AwaitDelivery/WaitCanPublish. Deliveries only
	// broadcast progress while someone is waiting.
	waiters  atomic.Int32
	progress signal

	trimMu  sync.Mutex
	trimmed atomic.Int64 // highest id removed by trimming (or seed-1)

	closing   chan struct{}
	closeOnce sync.Once
	drained   atomic.Bool
}

// New builds an aggregator over a fresh cache configured by opt.Cache.
func New[T any](opt Options) (*Aggregator[T], error) {
	if opt.MaxLag < 0 {
		return nil, fault.Misconfigured("negative max lag %d", opt.MaxLag)
	}
	if opt.Logger == nil {
		opt.Logger = opt.Cache.Logger
	}
	if opt.Logger == nil {
		opt.Logger = slog.New(slog.DiscardHandler)
	}
	if opt.Cache.Logger == nil {
		opt.Cache.Logger = opt.Logger
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}

	log, err := cache.New[T](opt.Cache)
	if err != nil {
		return nil, fmt.Errorf("aggregator: %w", err)
	}

	a := &Aggregator[T]{
		log:     log,
		opt:     opt,
		lg:      opt.Logger.With(slog.String("component", "aggregator")),
		closing: make(chan struct{}),
	}
	a.tail.Store(log.LastID())
	a.trimmed.Store(log.LastID())
	empty := []*Subscription[T]{}
	a.subs.Store(&empty)
	return a, nil
}

// Publish appends item to the log and wakes every live subscriber. It returns
// once the entry is stored; delivery trails behind asynchronously.
func (a *Aggregator[T]) Publish(item T) (store.Entry[T], error) {
	a.pubMu.Lock()
	if a.closed.Load() {
		a.pubMu.Unlock()
		return store.Entry[T]{}, fault.Closed("aggregator")
	}
	e, err := a.log.Add(item)
	if err != nil {
		a.pubMu.Unlock()
		return store.Entry[T]{}, fmt.Errorf("aggregator: publish: %w", err)
	}
	a.tail.Store(e.ID)
	a.pubMu.Unlock()

	a.published.Add(1)
	a.opt.Metrics.Published()
	for _, s := range a.snapshot() {
		s.wake()
	}
	return e, nil
}

// Subscribe registers obs for every entry published from now on. History is
// not replayed.
//
// If ctx is already done the registration fails with ErrCancelledByCaller;
// a later cancellation disposes the subscription.
func (a *Aggregator[T]) Subscribe(ctx context.Context, obs Observer[T]) (*Subscription[T], error) {
	return a.subscribe(ctx, obs, 0, false)
}

// SubscribeFrom registers obs starting after afterID: retained entries with a
// greater id are replayed first (afterID 0 replays the whole retained log).
func (a *Aggregator[T]) SubscribeFrom(ctx context.Context, obs Observer[T], afterID int64) (*Subscription[T], error) {
	return a.subscribe(ctx, obs, afterID, true)
}

func (a *Aggregator[T]) subscribe(ctx context.Context, obs Observer[T], after int64, replay bool) (*Subscription[T], error) {
	fault.Invariant(obs != nil, "aggregator: nil observer")
	if ctx.Err() != nil {
		return nil, fault.Cancelled(context.Cause(ctx))
	}

	a.pubMu.Lock()
	if a.closed.Load() {
		a.pubMu.Unlock()
		return nil, fault.Closed("aggregator")
	}
	cursor := a.tail.Load()
	if replay {
		cursor = max(after, a.trimmed.Load())
	}
	s := newSubscription(ctx, a, obs, cursor)
	a.running.Add(1)
	a.register(s)
	a.pubMu.Unlock()

	s.log.Debug("subscribed", slog.Int64("cursor", cursor))
	go s.run()
	return s, nil
}

// AwaitDelivery blocks until at least n deliveries have completed across all
// subscribers. It fails with ErrClosedForWriting once the aggregator is
// closed and n can no longer be reached, and with ErrCancelledByCaller if ctx
// ends first.
//
// Only successful OnNext calls count; a faulted delivery does not.
func (a *Aggregator[T]) AwaitDelivery(ctx context.Context, n int64) error {
	a.waiters.Add(1)
	defer a.waiters.Add(-1)

	for {
		ch := a.progress.wait()
		if a.delivered.Load() >= n {
			return nil
		}
		if a.drained.Load() || (a.closed.Load() && a.reachable() < n) {
			return fault.Closed("aggregator")
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return fault.Cancelled(context.Cause(ctx))
		}
	}
}

// CanPublish reports false once the aggregator is closed, or while some live
// subscriber trails the tail by more than Options.MaxLag entries.
func (a *Aggregator[T]) CanPublish() bool {
	if a.closed.Load() {
		return false
	}
	if a.opt.MaxLag == 0 {
		return true
	}
	tail := a.tail.Load()
	for _, s := range a.snapshot() {
		if tail-s.cursor.Load() > a.opt.MaxLag {
			return false
		}
	}
	return true
}

// WaitCanPublish blocks until CanPublish reports true. It fails with
// ErrClosedForWriting once the aggregator is closed.
func (a *Aggregator[T]) WaitCanPublish(ctx context.Context) error {
	a.waiters.Add(1)
	defer a.waiters.Add(-1)

	for {
		ch := a.progress.wait()
		if a.closed.Load() {
			return fault.Closed("aggregator")
		}
		if a.CanPublish() {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return fault.Cancelled(context.Cause(ctx))
		}
	}
}

// Published returns the number of entries published so far.
func (a *Aggregator[T]) Published() int64 { return a.published.Load() }

// Delivered returns the number of completed deliveries across all subscribers.
func (a *Aggregator[T]) Delivered() int64 { return a.delivered.Load() }

// Subscribers returns the number of live subscriptions.
func (a *Aggregator[T]) Subscribers() int { return len(a.snapshot()) }

// Log exposes the backing cache.
func (a *Aggregator[T]) Log() *cache.Cache[T] { return a.log }

// Close stops accepting publishes and subscriptions, lets every live
// subscriber drain to the tail and receive OnCompleted, then closes the log.
// If ctx ends first Close returns ErrCancelledByCaller and the drain carries
// on in the background; calling Close again resumes waiting.
func (a *Aggregator[T]) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.pubMu.Lock()
		a.closed.Store(true)
		a.pubMu.Unlock()
		close(a.closing)
		a.progress.broadcast()
		a.lg.Debug("closing", slog.Int("subscribers", a.Subscribers()))
	})

	for _, s := range a.snapshot() {
		select {
		case <-s.done:
		case <-ctx.Done():
			return fault.Cancelled(context.Cause(ctx))
		}
	}

	if a.drained.CompareAndSwap(false, true) {
		a.progress.broadcast()
		if err := a.log.Close(); err != nil {
			return fmt.Errorf("aggregator: close log: %w", err)
		}
		a.lg.Debug("closed",
			slog.Int64("published", a.published.Load()),
			slog.Int64("delivered", a.delivered.Load()))
	}
	return nil
}

func (a *Aggregator[T]) snapshot() []*Subscription[T] { return *a.subs.Load() }

// reachable bounds the delivery count from above once the aggregator is
// closed: the tail is fixed, so registered subscribers can at most catch up
// to it. Each running goroutine may add one more delivery that neither its
// cursor nor the counter shows yet. Reads go cursors, running, delivered.
func (a *Aggregator[T]) reachable() int64 {
	tail := a.tail.Load()
	var pending int64
	for _, s := range a.snapshot() {
		pending += max(tail-s.cursor.Load(), 0)
	}
	pending += a.running.Load()
	return a.delivered.Load() + pending
}

func (a *Aggregator[T]) register(s *Subscription[T]) {
	a.regMu.Lock()
	old := a.snapshot()
	next := make([]*Subscription[T], len(old), len(old)+1)
	copy(next, old)
	next = append(next, s)
	a.subs.Store(&next)
	a.opt.Metrics.Subscribers(len(next))
	a.regMu.Unlock()
}

// unregister drops s from the registry; it reports false if s was already gone.
func (a *Aggregator[T]) unregister(s *Subscription[T]) bool {
	a.regMu.Lock()
	old := a.snapshot()
	i := slices.Index(old, s)
	if i < 0 {
		a.regMu.Unlock()
		return false
	}
	next := slices.Delete(slices.Clone(old), i, i+1)
	a.subs.Store(&next)
	a.opt.Metrics.Subscribers(len(next))
	a.regMu.Unlock()

	a.progress.broadcast()
	a.trim()
	return true
}

// exited accounts a delivery goroutine that will not deliver again.
func (a *Aggregator[T]) exited() {
	a.running.Add(-1)
	a.progress.broadcast()
}

// countDelivery accounts one completed delivery.
func (a *Aggregator[T]) countDelivery() {
	a.delivered.Add(1)
	a.opt.Metrics.Delivered()
	if a.waiters.Load() > 0 {
		a.progress.broadcast()
	}
}

// trim removes log entries every live subscriber has already passed.
func (a *Aggregator[T]) trim() {
	if !a.opt.TrimDelivered {
		return
	}
	subs := a.snapshot()
	if len(subs) == 0 {
		return
	}
	low := subs[0].cursor.Load()
	for _, s := range subs[1:] {
		low = min(low, s.cursor.Load())
	}

	a.trimMu.Lock()
	defer a.trimMu.Unlock()
	from := a.trimmed.Load()
	if low <= from {
		return
	}
	for id := from + 1; id <= low; id++ {
		_, _ = a.log.Remove(id) // already removed through Log() is fine
	}
	a.trimmed.Store(low)
}

// signal is a broadcast channel that is replaced after every broadcast.
type signal struct {
	mu sync.Mutex
	ch chan struct{}
}

// wait returns a channel closed by the next broadcast.
func (s *signal) wait() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		s.ch = make(chan struct{})
	}
	return s.ch
}

func (s *signal) broadcast() {
	s.mu.Lock()
	if s.ch != nil {
		close(s.ch)
		s.ch = nil
	}
	s.mu.Unlock()
}
