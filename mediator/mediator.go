// Package mediator layers request/response calls over two aggregators.
//
// Send publishes a request and waits for the reply carrying the request's
// entry id. Handlers subscribe to the request log, compute a response and
// publish it to the reply log; the mediator's own reply subscription hands it
// to the waiting caller. There is no built-in timeout: the caller's context
// bounds the wait, and a cancelled wait forgets its correlation record.
package mediator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/IvanBrykalov/tierbus/aggregator"
	"github.com/IvanBrykalov/tierbus/fault"
	"github.com/IvanBrykalov/tierbus/internal/correlate"
	"github.com/IvanBrykalov/tierbus/store"
)

// Reply is a response tagged with the id of the request it answers.
type Reply[Resp any] struct {
	CorrelationID int64
	Value         Resp
	Err           error
}

// Handler answers one request.
type Handler[Req, Resp any] func(ctx context.Context, req store.Entry[Req]) (Resp, error)

// Options configures the two logs. TrimDelivered is always enabled on both;
// a nil Logger falls back to the logs' loggers, then to discard.
type Options struct {
	Requests aggregator.Options
	Replies  aggregator.Options
	Logger   *slog.Logger
}

// Mediator routes requests to handlers and replies back to callers.
// All methods are safe for concurrent use by multiple goroutines.
type Mediator[Req, Resp any] struct {
	requests *aggregator.Aggregator[Req]
	replies  *aggregator.Aggregator[Reply[Resp]]
	pending  correlate.Table[int64, Resp]
	log      *slog.Logger
}

// New builds a mediator and subscribes it to its reply log.
func New[Req, Resp any](opt Options) (*Mediator[Req, Resp], error) {
	if opt.Logger == nil {
		opt.Logger = opt.Requests.Logger
	}
	if opt.Logger == nil {
		opt.Logger = slog.New(slog.DiscardHandler)
	}
	for _, o := range []*aggregator.Options{&opt.Requests, &opt.Replies} {
		o.TrimDelivered = true
		if o.Logger == nil {
			o.Logger = opt.Logger
		}
	}

	requests, err := aggregator.New[Req](opt.Requests)
	if err != nil {
		return nil, fmt.Errorf("mediator: requests: %w", err)
	}
	replies, err := aggregator.New[Reply[Resp]](opt.Replies)
	if err != nil {
		_ = requests.Close(context.Background())
		return nil, fmt.Errorf("mediator: replies: %w", err)
	}

	m := &Mediator[Req, Resp]{
		requests: requests,
		replies:  replies,
		log:      opt.Logger.With(slog.String("component", "mediator")),
	}
	_, err = replies.Subscribe(context.Background(), aggregator.Funcs[Reply[Resp]]{
		Next: m.resolve,
	})
	if err != nil {
		return nil, fmt.Errorf("mediator: subscribe replies: %w", err)
	}
	return m, nil
}

// Send publishes req and blocks until a handler replies, ctx ends
// (ErrCancelledByCaller) or the mediator closes (ErrClosedForWriting).
// A handler error comes back matching ErrSubscriberFaulted.
func (m *Mediator[Req, Resp]) Send(ctx context.Context, req Req) (Resp, error) {
	var zero Resp
	if ctx.Err() != nil {
		return zero, fault.Cancelled(context.Cause(ctx))
	}

	// Publishing under the table lock keeps a fast reply from racing ahead
	// of its correlation record.
	tk, err := m.pending.Reserve(func() (int64, error) {
		e, err := m.requests.Publish(req)
		return e.ID, err
	})
	if err != nil {
		return zero, err
	}
	return tk.Wait(ctx)
}

// Handle subscribes h to the request log. Requests already retained are
// replayed; only those with a caller still waiting are passed to h. When
// several handlers are registered the first reply wins. Close the returned
// subscription to detach the handler.
func (m *Mediator[Req, Resp]) Handle(ctx context.Context, h Handler[Req, Resp]) (*aggregator.Subscription[Req], error) {
	return m.requests.SubscribeFrom(ctx, aggregator.Funcs[Req]{
		Next: func(ctx context.Context, e store.Entry[Req]) error {
			if !m.pending.Has(e.ID) {
				return nil
			}
			resp, err := invoke(ctx, h, e)
			return m.Reply(e.ID, resp, err)
		},
		Error: func(err error) {
			m.log.Warn("request handler detached", slog.String("error", err.Error()))
		},
	}, 0)
}

// Reply publishes the answer to request id. A non-nil err is delivered to
// the caller wrapped as ErrSubscriberFaulted.
func (m *Mediator[Req, Resp]) Reply(id int64, resp Resp, err error) error {
	if err != nil {
		err = fault.Faulted(err)
	}
	if _, perr := m.replies.Publish(Reply[Resp]{CorrelationID: id, Value: resp, Err: err}); perr != nil {
		return fmt.Errorf("mediator: reply %d: %w", id, perr)
	}
	return nil
}

// Pending returns the number of callers waiting for a reply.
func (m *Mediator[Req, Resp]) Pending() int { return m.pending.Len() }

// Requests exposes the request log.
func (m *Mediator[Req, Resp]) Requests() *aggregator.Aggregator[Req] { return m.requests }

// Close lets handlers finish the requests already published, delivers their
// replies, and fails every caller still waiting with ErrClosedForWriting.
func (m *Mediator[Req, Resp]) Close(ctx context.Context) error {
	err := errors.Join(m.requests.Close(ctx), m.replies.Close(ctx))
	if n := m.pending.FailAll(fault.Closed("mediator")); n > 0 {
		m.log.Debug("failed unanswered requests", slog.Int("count", n))
	}
	return err
}

func (m *Mediator[Req, Resp]) resolve(_ context.Context, e store.Entry[Reply[Resp]]) error {
	r := e.Value
	if !m.pending.Resolve(r.CorrelationID, r.Value, r.Err) {
		m.log.Debug("dropped reply for unknown request", slog.Int64("correlation_id", r.CorrelationID))
	}
	return nil
}

// invoke runs h, turning a panic into an error so the handler stays subscribed.
func invoke[Req, Resp any](ctx context.Context, h Handler[Req, Resp], e store.Entry[Req]) (resp Resp, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fault.Recovered(r)
		}
	}()
	return h(ctx, e)
}
