package aggregator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/IvanBrykalov/tierbus/fault"
	"github.com/IvanBrykalov/tierbus/internal/util"
	"github.com/IvanBrykalov/tierbus/store"
)

// errDisposed is the cancel cause of an explicitly closed subscription.
var errDisposed = errors.New("subscription disposed")

// Subscription is the handle of one registered observer. Its delivery
// goroutine walks the log from the cursor to the tail, one entry at a time,
// without holding any log lock while the observer runs.
type Subscription[T any] struct {
	id  uuid.UUID
	a   *Aggregator[T]
	obs Observer[T]
	log *slog.Logger

	cursor util.PaddedAtomicInt64 // last id handed to the observer
	notify chan struct{}

	ctx    context.Context
	cancel context.CancelCauseFunc

	done chan struct{}
	err  error // written before done is closed
}

func newSubscription[T any](ctx context.Context, a *Aggregator[T], obs Observer[T], cursor int64) *Subscription[T] {
	id := uuid.New()
	sctx, cancel := context.WithCancelCause(ctx)
	s := &Subscription[T]{
		id:     id,
		a:      a,
		obs:    obs,
		log:    a.lg.With(slog.String("subscription", id.String())),
		notify: make(chan struct{}, 1),
		ctx:    sctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.cursor.Store(cursor)
	return s
}

// ID returns the subscription id.
func (s *Subscription[T]) ID() uuid.UUID { return s.id }

// Cursor returns the last entry id handed to the observer.
func (s *Subscription[T]) Cursor() int64 { return s.cursor.Load() }

// Done is closed once the delivery goroutine has stopped.
func (s *Subscription[T]) Done() <-chan struct{} { return s.done }

// Err reports why delivery stopped: nil after graceful completion or Close,
// an ErrSubscriberFaulted error after a fault, an ErrCancelledByCaller error
// after the subscribe context ended. It is nil while Done is open.
func (s *Subscription[T]) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close disposes the subscription: it is unregistered at once and delivery
// stops after the entry in flight, if any. OnCompleted is not called. Close
// does not wait; use Done for that.
func (s *Subscription[T]) Close() error {
	s.cancel(errDisposed)
	if s.a.unregister(s) {
		s.log.Debug("subscription disposed")
	}
	return nil
}

func (s *Subscription[T]) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription[T]) run() {
	defer s.a.exited()
	defer close(s.done)
	defer s.cancel(errDisposed)

	for {
		if !s.drain() {
			return
		}
		s.a.trim()

		select {
		case <-s.notify:
		case <-s.ctx.Done():
			s.stop(s.ctxErr())
			return
		case <-s.a.closing:
			// No publish can follow; whatever is below the tail is the backlog.
			if !s.drain() {
				return
			}
			s.complete()
			return
		}
	}
}

// drain delivers every entry between the cursor and the tail. It reports
// false once the subscription has stopped.
func (s *Subscription[T]) drain() bool {
	for {
		cur := s.cursor.Load()
		if cur >= s.a.tail.Load() {
			return true
		}
		if s.ctx.Err() != nil {
			s.stop(s.ctxErr())
			return false
		}

		id := cur + 1
		e, ok := s.a.log.Lookup(id)
		if !ok {
			// Trimmed or removed through Log().
			s.cursor.Store(id)
			continue
		}
		if err := s.deliver(e); err != nil {
			if s.ctx.Err() != nil {
				s.stop(s.ctxErr())
			} else {
				s.fail(id, err)
			}
			return false
		}
		s.cursor.Store(id)
		s.a.countDelivery()
	}
}

func (s *Subscription[T]) deliver(e store.Entry[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fault.Recovered(r)
		}
	}()
	return s.obs.OnNext(s.ctx, e)
}

func (s *Subscription[T]) fail(id int64, cause error) {
	s.err = fault.Faulted(cause)
	s.a.unregister(s)
	s.a.opt.Metrics.Faulted()
	s.log.Warn("subscriber faulted; unregistered",
		slog.Int64("id", id), slog.String("error", cause.Error()))
	s.guard("OnError", func() { s.obs.OnError(s.err) })
}

func (s *Subscription[T]) stop(err error) {
	s.err = err
	s.a.unregister(s)
	s.log.Debug("subscription stopped", slog.Int64("cursor", s.cursor.Load()))
}

func (s *Subscription[T]) complete() {
	s.a.unregister(s)
	s.guard("OnCompleted", s.obs.OnCompleted)
	s.log.Debug("subscription completed", slog.Int64("cursor", s.cursor.Load()))
}

// guard runs an observer callback whose panic has nowhere else to go.
func (s *Subscription[T]) guard(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("observer callback panicked",
				slog.String("callback", name), slog.String("error", fault.Recovered(r).Error()))
		}
	}()
	fn()
}

// ctxErr maps the end of the subscription context to Err's value.
func (s *Subscription[T]) ctxErr() error {
	cause := context.Cause(s.ctx)
	if errors.Is(cause, errDisposed) {
		return nil
	}
	return fault.Cancelled(cause)
}
