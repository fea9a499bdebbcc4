// Package federate implements the federation runtime protocol: the RTI
// connection with its bounded-retry connect and registration, the one-shot
// start-time negotiation, the outbound message path, and the listener task
// that turns inbound frames into locally scheduled events.
//
// A Runtime owns exactly one RTI connection and exactly one listener task.
// It reads the logical clock and enqueues events only through the
// scheduler.Scheduler collaborator; the scheduler's schedule operations are
// the single critical section that keeps inbound timed messages and local
// clock advancement from interleaving.
package federate

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"

	"firestige.xyz/fedlink/internal/metrics"
	"firestige.xyz/fedlink/internal/wire"
	"firestige.xyz/fedlink/pkg/scheduler"
)

// State is the RTI connection state.
type State int32

// Connection states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// TriggerResolver maps a destination port id to the scheduler-side trigger
// that the port's payloads are delivered to.
type TriggerResolver func(port uint16) scheduler.TriggerID

// DialFunc dials the RTI. Injectable for tests.
type DialFunc func(ctx context.Context, address string) (net.Conn, error)

// Defaults for Options, matching the reference runtime's constants.
const (
	DefaultRetryInterval = 2 * time.Second
	DefaultMaxRetries    = 500
	DefaultEventBuffer   = 64
)

// Options configures a Runtime.
type Options struct {
	// FederateID is this federate's identifier within the federation.
	FederateID uint16

	// RTIAddress is the RTI endpoint as host:port.
	RTIAddress string

	// Duration, when positive, bounds the execution: the stop time becomes
	// start + Duration, always relative to the negotiated start instant.
	// Zero or negative means unbounded.
	Duration time.Duration

	// RetryInterval is the fixed wait between failed connect attempts.
	// Defaults to DefaultRetryInterval.
	RetryInterval time.Duration

	// MaxRetries bounds the number of connect attempts before Connect gives
	// up with ErrRetryExhausted. Defaults to DefaultMaxRetries.
	MaxRetries int

	// EventBuffer is the capacity of the channel between the listener task
	// and the dispatcher. Defaults to DefaultEventBuffer.
	EventBuffer int

	// Resolver maps inbound port ids to triggers. Defaults to the identity
	// mapping.
	Resolver TriggerResolver

	// Dial overrides the transport dialer. Defaults to a plain TCP dial.
	Dial DialFunc
}

// Runtime is the per-federate protocol engine for one RTI connection.
type Runtime struct {
	opts  Options
	sched scheduler.Scheduler
	log   *slog.Logger

	state atomic.Int32

	// writeMu serializes outbound frames; header and payload of one frame
	// must never interleave with another frame's bytes.
	writeMu sync.Mutex

	mu     sync.Mutex
	conn   net.Conn
	closed bool

	events chan pendingEvent
	group  *errgroup.Group
	cancel context.CancelFunc

	startTime     scheduler.Instant
	stopTime      scheduler.Instant
	hasStop       bool
	physicalStart scheduler.Instant
}

// New creates a Runtime driving the given scheduler. The scheduler owns the
// logical clock; the runtime only reads it and enqueues events through it.
func New(sched scheduler.Scheduler, opts Options) (*Runtime, error) {
	if sched == nil {
		return nil, fmt.Errorf("fedlink: nil scheduler")
	}
	if opts.RTIAddress == "" {
		return nil, fmt.Errorf("fedlink: RTI address is required")
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}
	if opts.Resolver == nil {
		opts.Resolver = func(port uint16) scheduler.TriggerID {
			return scheduler.TriggerID(port)
		}
	}
	if opts.Dial == nil {
		var d net.Dialer
		opts.Dial = func(ctx context.Context, address string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", address)
		}
	}

	r := &Runtime{
		opts:  opts,
		sched: sched,
		log: slog.Default().With(
			"session", xid.New().String(),
			"federate", opts.FederateID,
		),
		events: make(chan pendingEvent, opts.EventBuffer),
	}
	r.setState(StateDisconnected)
	return r, nil
}

// State returns the current connection state.
func (r *Runtime) State() State {
	return State(r.state.Load())
}

func (r *Runtime) setState(s State) {
	r.state.Store(int32(s))
	metrics.ConnectionState.Set(float64(s))
}

// Connect resolves the RTI address, dials it under the bounded retry policy
// and registers this federate's id.
//
// Address resolution failure is non-retryable and returns ErrUnresolvedHost
// without a single dial attempt. Dial failures are retried every
// RetryInterval up to MaxRetries attempts, then ErrRetryExhausted.
// Registration is fire-and-forget: the FedID frame is written and no
// acknowledgment is expected.
func (r *Runtime) Connect(ctx context.Context) error {
	r.setState(StateConnecting)

	tcpAddr, err := net.ResolveTCPAddr("tcp", r.opts.RTIAddress)
	if err != nil {
		r.setState(StateFailed)
		return fmt.Errorf("%w: %q: %v", ErrUnresolvedHost, r.opts.RTIAddress, err)
	}
	address := tcpAddr.String()

	var conn net.Conn
	for attempt := 1; ; attempt++ {
		metrics.ConnectAttemptsTotal.Inc()
		conn, err = r.opts.Dial(ctx, address)
		if err == nil {
			break
		}

		if attempt >= r.opts.MaxRetries {
			r.setState(StateFailed)
			return fmt.Errorf("%w: %d attempts to %s, last error: %v",
				ErrRetryExhausted, attempt, address, err)
		}

		r.log.Warn("RTI connect failed, will retry",
			"address", address,
			"attempt", attempt,
			"retry_in", r.opts.RetryInterval,
			"error", err,
		)

		select {
		case <-ctx.Done():
			r.setState(StateFailed)
			return ctx.Err()
		case <-time.After(r.opts.RetryInterval):
		}
	}

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	if err := r.writeFrame(wire.MarkerFedID, wire.EncodeFedID(r.opts.FederateID), nil); err != nil {
		r.setState(StateFailed)
		return fmt.Errorf("fedlink: registering federate id: %w", err)
	}

	r.setState(StateConnected)
	r.log.Info("connected to RTI", "address", address)
	return nil
}

// connRef returns the current transport connection.
func (r *Runtime) connRef() net.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

// StartTime returns the negotiated federation start instant.
func (r *Runtime) StartTime() scheduler.Instant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startTime
}

// StopTime returns the computed stop instant and whether a duration bounds
// this execution.
func (r *Runtime) StopTime() (scheduler.Instant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopTime, r.hasStop
}

// PhysicalStartTime returns the physical time snapshotted when execution
// began, for relative-physical-time queries.
func (r *Runtime) PhysicalStartTime() scheduler.Instant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.physicalStart
}

// Close resigns from the federation, tears down the connection and stops the
// listener task. Safe to call more than once.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	conn := r.conn
	cancel := r.cancel
	r.mu.Unlock()

	if conn != nil && r.State() == StateConnected {
		// Best effort; the peer may already be gone.
		if err := r.writeFrame(wire.MarkerResign, wire.EncodeResign(), nil); err != nil {
			r.log.Debug("resign frame not delivered", "error", err)
		}
	}

	if cancel != nil {
		cancel()
	}

	var closeErr error
	if conn != nil {
		closeErr = conn.Close()
	}

	if r.State() != StateFailed {
		r.setState(StateDisconnected)
	}
	return closeErr
}

// Wait blocks until the listener task and dispatcher have stopped and
// returns the first error that stopped them, if any. It returns nil before
// SynchronizeStart has spawned them.
func (r *Runtime) Wait() error {
	r.mu.Lock()
	group := r.group
	r.mu.Unlock()
	if group == nil {
		return nil
	}
	return group.Wait()
}

func (r *Runtime) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
