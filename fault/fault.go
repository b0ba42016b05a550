// Package fault defines the error taxonomy shared by the store, cache,
// aggregator and mediator packages.
//
// Every failure is a platform error (github.com/jmgilman/go/errors) carrying a
// stable code and, where useful, context such as the entry id. The sentinels
// below stay reachable through errors.Is on any error built by this package:
//
//	if errors.Is(err, fault.ErrEntryNotFound) {
//	    // absent id, a normal outcome
//	}
//
// Operations propagate failures as explicit (value, error) returns. Must is the
// only place an error turns into a panic, for callers that prefer that style at
// an API boundary.
package fault

import (
	"errors"
	"fmt"

	platformerrors "github.com/jmgilman/go/errors"
)

var (
	// ErrEntryNotFound reports an id that is not live in the store.
	ErrEntryNotFound = platformerrors.New(platformerrors.CodeNotFound, "entry not found")

	// ErrIDCollision reports an insert of an id that is already live.
	ErrIDCollision = platformerrors.New(platformerrors.CodeAlreadyExists, "entry id already live")

	// ErrCapacityMisconfigured reports negative bounds or min > max.
	ErrCapacityMisconfigured = platformerrors.New(platformerrors.CodeInvalidConfig, "capacity misconfigured")

	// ErrClosedForWriting reports a mutation after shutdown.
	ErrClosedForWriting = platformerrors.New(platformerrors.CodeUnavailable, "closed for writing")

	// ErrSubscriberFaulted wraps an error (or panic) raised by a subscriber.
	ErrSubscriberFaulted = platformerrors.New(platformerrors.CodeExecutionFailed, "subscriber faulted")

	// ErrCancelledByCaller reports a wait released by the caller's context.
	ErrCancelledByCaller = platformerrors.New(platformerrors.CodeTimeout, "cancelled by caller")
)

// NotFound returns ErrEntryNotFound annotated with the missing id.
func NotFound(id int64) error {
	return platformerrors.WithContext(
		platformerrors.Wrapf(ErrEntryNotFound, platformerrors.CodeNotFound, "entry %d not found", id),
		"id", id)
}

// Collision returns ErrIDCollision annotated with the duplicate id.
func Collision(id int64) error {
	return platformerrors.WithContext(
		platformerrors.Wrapf(ErrIDCollision, platformerrors.CodeAlreadyExists, "entry %d already live", id),
		"id", id)
}

// Misconfigured returns ErrCapacityMisconfigured with a formatted reason.
func Misconfigured(format string, args ...any) error {
	return platformerrors.Wrapf(ErrCapacityMisconfigured, platformerrors.CodeInvalidConfig, format, args...)
}

// Closed returns ErrClosedForWriting naming the closed component.
func Closed(what string) error {
	return platformerrors.WithContext(
		platformerrors.Wrapf(ErrClosedForWriting, platformerrors.CodeUnavailable, "%s is closed", what),
		"component", what)
}

// Faulted wraps a subscriber failure. Both ErrSubscriberFaulted and cause
// match errors.Is.
func Faulted(cause error) error {
	return platformerrors.Wrap(errors.Join(ErrSubscriberFaulted, cause),
		platformerrors.CodeExecutionFailed, "subscriber faulted")
}

// Cancelled wraps the context error that released a wait. Both
// ErrCancelledByCaller and cause match errors.Is.
func Cancelled(cause error) error {
	if cause == nil {
		cause = errors.New("context done")
	}
	return platformerrors.Wrap(errors.Join(ErrCancelledByCaller, cause),
		platformerrors.CodeTimeout, "wait cancelled by caller")
}

// Recovered converts a recovered panic value into an error.
func Recovered(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}

// Must returns v, panicking if err is non-nil.
func Must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

// Invariant panics when cond is false. Broken invariants mean a broken
// implementation, not a runtime condition callers can handle.
func Invariant(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("tierbus: invariant violated: "+format, args...))
	}
}

// Code returns the platform error code carried by err (CodeUnknown if none).
func Code(err error) platformerrors.ErrorCode { return platformerrors.GetCode(err) }
