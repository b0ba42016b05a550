// Package aggregator turns a cache.Cache into an event log with fan-out:
// producers Publish items, every live subscription receives each item
// published after it registered, in id order, exactly once.
//
// Delivery is asynchronous. Publish returns as soon as the entry is in the
// log; each subscription has its own goroutine that walks the log from its
// cursor to the tail. A slow observer only delays itself, and no log lock is
// held while observer code runs. AwaitDelivery lets a producer wait for a
// known number of completed deliveries.
//
// A subscriber whose OnNext returns an error (or panics) is unregistered and
// told so through OnError; the others carry on. Close is graceful: publishing
// stops, every subscription drains its backlog and then gets OnCompleted.
// Subscription.Close disposes a single subscription without OnCompleted.
//
//	agg, err := aggregator.New[string](aggregator.Options{})
//	if err != nil {
//	    return err
//	}
//	sub, _ := agg.Subscribe(ctx, aggregator.Funcs[string]{
//	    Next: func(ctx context.Context, e store.Entry[string]) error {
//	        fmt.Println(e.ID, e.Value)
//	        return nil
//	    },
//	})
//	defer sub.Close()
//
//	_, _ = agg.Publish("hello")
//	_ = agg.AwaitDelivery(ctx, 1)
package aggregator
