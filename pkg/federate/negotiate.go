package federate

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"firestige.xyz/fedlink/internal/wire"
	"firestige.xyz/fedlink/pkg/scheduler"
)

// negotiateStartTime runs the one-shot start-time exchange: it sends this
// federate's physical time and blocks for the RTI's 9-byte Timestamp reply
// carrying the federation-wide logical start instant.
//
// A reply that does not open with the Timestamp marker is a fatal protocol
// violation: nothing downstream of that byte can be framed.
func (r *Runtime) negotiateStartTime(physical scheduler.Instant) (scheduler.Instant, error) {
	if err := r.writeFrame(wire.MarkerTimestamp, wire.EncodeTimestamp(int64(physical)), nil); err != nil {
		return 0, fmt.Errorf("fedlink: sending timestamp to RTI: %w", err)
	}

	conn := r.connRef()
	m, err := wire.ReadMarker(conn)
	if err != nil {
		return 0, fmt.Errorf("fedlink: reading start time reply: %w", err)
	}
	if m != wire.MarkerTimestamp {
		r.setState(StateFailed)
		return 0, fmt.Errorf("%w: expected TIMESTAMP reply from RTI, got %s", ErrProtocol, m)
	}

	start, err := wire.ReadTime(conn)
	if err != nil {
		return 0, fmt.Errorf("fedlink: reading start time reply: %w", err)
	}
	return scheduler.Instant(start), nil
}

// SynchronizeStart performs the full startup orchestration: connect and
// register, negotiate the common logical start time, align the scheduler
// clock (computing the stop time when a duration is configured), spawn the
// listener task, and wait until physical time reaches the negotiated start.
//
// ctx covers startup only; once SynchronizeStart returns, the listener task
// runs until Close or a connection/protocol failure.
func (r *Runtime) SynchronizeStart(ctx context.Context) error {
	if r.isClosed() {
		return ErrClosed
	}

	if r.State() != StateConnected {
		if err := r.Connect(ctx); err != nil {
			return err
		}
	}

	start, err := r.negotiateStartTime(r.sched.CurrentPhysicalTime())
	if err != nil {
		return err
	}

	// The stop time is always relative to the negotiated instant, never to
	// the local wall-clock start.
	stop := start - 1
	hasStop := r.opts.Duration > 0
	if hasStop {
		stop = start.Add(scheduler.Interval(r.opts.Duration))
	}
	r.sched.AdoptStartTime(start, stop)

	r.mu.Lock()
	r.startTime = start
	r.stopTime = stop
	r.hasStop = hasStop
	r.mu.Unlock()

	r.log.Info("federation start time negotiated",
		"start", start.Time(),
		"has_stop", hasStop,
	)

	r.spawnListener()

	if err := r.waitUntil(ctx, start); err != nil {
		return err
	}

	// Snapshot the shared physical origin: the negotiated start instant is
	// the same on every federate, so relative physical time queries agree
	// across the federation up to negotiation jitter.
	r.mu.Lock()
	r.physicalStart = start
	r.mu.Unlock()

	return nil
}

// spawnListener starts the listener task and the dispatcher, scoped to the
// connection's lifetime.
func (r *Runtime) spawnListener() {
	lctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(lctx)

	r.mu.Lock()
	r.cancel = cancel
	r.group = group
	r.mu.Unlock()

	group.Go(func() error { return r.listenLoop(gctx) })
	group.Go(func() error { return r.dispatchLoop(gctx) })
}

// waitUntil sleeps until physical time reaches the given instant, or ctx is
// cancelled. This is an alignment wait, not a hard deadline guarantee.
func (r *Runtime) waitUntil(ctx context.Context, t scheduler.Instant) error {
	d := time.Until(t.Time())
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
