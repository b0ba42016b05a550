package fault

import (
	"context"
	"errors"
	"testing"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotFound_CarriesSentinelCodeAndID(t *testing.T) {
	t.Parallel()

	err := NotFound(42)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEntryNotFound)
	assert.Equal(t, platformerrors.CodeNotFound, Code(err))

	var perr platformerrors.PlatformError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, int64(42), perr.Context()["id"])
}

func TestCollisionAndClosed(t *testing.T) {
	t.Parallel()

	assert.ErrorIs(t, Collision(7), ErrIDCollision)
	assert.Equal(t, platformerrors.CodeAlreadyExists, Code(Collision(7)))

	err := Closed("aggregator")
	assert.ErrorIs(t, err, ErrClosedForWriting)
	assert.Contains(t, err.Error(), "aggregator is closed")
}

// Wrapped causes must stay reachable next to the sentinel.
func TestFaultedAndCancelled_KeepCause(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	err := Faulted(boom)
	assert.ErrorIs(t, err, ErrSubscriberFaulted)
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = Cancelled(ctx.Err())
	assert.ErrorIs(t, err, ErrCancelledByCaller)
	assert.ErrorIs(t, err, context.Canceled)

	assert.ErrorIs(t, Cancelled(nil), ErrCancelledByCaller)
}

func TestMisconfigured(t *testing.T) {
	t.Parallel()

	err := Misconfigured("min %d > max %d", 5, 1)
	assert.ErrorIs(t, err, ErrCapacityMisconfigured)
	assert.Contains(t, err.Error(), "min 5 > max 1")
}

func TestMustAndInvariant(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 3, Must(3, nil))
	assert.Panics(t, func() { Must(0, NotFound(1)) })
	assert.NotPanics(t, func() { Invariant(true, "fine") })
	assert.PanicsWithValue(t, "tierbus: invariant violated: x=1", func() { Invariant(false, "x=%d", 1) })
}

func TestRecovered(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	assert.ErrorIs(t, Recovered(boom), boom)
	assert.EqualError(t, Recovered("bad"), "panic: bad")
}
