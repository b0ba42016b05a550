package aggregator

import (
	"log/slog"

	"github.com/IvanBrykalov/tierbus/cache"
)

// Metrics exposes aggregator-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Published()
	Delivered()
	Faulted()
	Subscribers(n int)
}

// Options configures an Aggregator. Zero values are safe; defaults are
// applied in New():
//   - Cache      => overflow-only log (no fast tier)
//   - MaxLag 0   => no backpressure
//   - nil Logger => Cache.Logger if set, else discard
//   - nil Metrics => NoopMetrics
type Options struct {
	// Cache configures the backing log.
	Cache cache.Options

	// MaxLag bounds how many published entries a live subscriber may trail
	// behind the tail before CanPublish reports false (0 = unbounded).
	MaxLag int64

	// TrimDelivered removes log entries once every live subscriber has
	// passed them. With no live subscribers nothing is trimmed.
	TrimDelivered bool

	Logger  *slog.Logger
	Metrics Metrics
}

// NoopMetrics is a drop-in Metrics implementation that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) Published()      {}
func (NoopMetrics) Delivered()      {}
func (NoopMetrics) Faulted()        {}
func (NoopMetrics) Subscribers(int) {}

var _ Metrics = NoopMetrics{}
