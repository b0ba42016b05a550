package aggregator

import (
	"context"

	"github.com/IvanBrykalov/tierbus/store"
)

// Observer receives the entries of one subscription.
//
// OnNext is called once per entry, in id order, from the subscription's own
// goroutine. Returning an error (or panicking) faults the subscription: OnError
// receives an error matching fault.ErrSubscriberFaulted and no further calls
// follow. OnCompleted is called once after a graceful Close has delivered the
// whole backlog. A disposed subscription gets neither.
type Observer[T any] interface {
	OnNext(ctx context.Context, e store.Entry[T]) error
	OnError(err error)
	OnCompleted()
}

// Funcs adapts plain functions to Observer. Nil fields are skipped.
type Funcs[T any] struct {
	Next      func(ctx context.Context, e store.Entry[T]) error
	Error     func(err error)
	Completed func()
}

func (f Funcs[T]) OnNext(ctx context.Context, e store.Entry[T]) error {
	if f.Next == nil {
		return nil
	}
	return f.Next(ctx, e)
}

func (f Funcs[T]) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

func (f Funcs[T]) OnCompleted() {
	if f.Completed != nil {
		f.Completed()
	}
}

var _ Observer[int] = Funcs[int]{}
