package federate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"firestige.xyz/fedlink/internal/metrics"
	"firestige.xyz/fedlink/internal/wire"
	"firestige.xyz/fedlink/pkg/scheduler"
)

// pendingEvent is a decoded inbound frame on its way to the local scheduler.
// Constructed by the listener task, consumed by the dispatcher, not retained
// afterwards.
type pendingEvent struct {
	trigger scheduler.TriggerID
	tag     scheduler.Instant
	timed   bool
	payload []byte
}

// listenLoop is the listener task: it reads one marker byte at a time and
// decodes the frame behind it into a pendingEvent for the dispatcher.
//
// Any marker outside the protocol enumeration is fatal. The protocol has no
// resynchronization: once framing is lost the stream is permanently
// unusable, so the loop stops and the connection is marked failed rather
// than attempting repair.
func (r *Runtime) listenLoop(ctx context.Context) error {
	conn := r.connRef()

	// Unblock the read when the runtime shuts down; the socket read is the
	// loop's only suspension point.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		m, err := wire.ReadMarker(conn)
		if err != nil {
			return r.readEnded(ctx, err)
		}
		metrics.FramesReceivedTotal.WithLabelValues(m.String()).Inc()

		var ev pendingEvent
		switch m {
		case wire.MarkerMessage:
			h, err := wire.ReadHeader(conn)
			if err != nil {
				return r.readEnded(ctx, err)
			}
			payload, err := wire.ReadPayload(conn, h.Length)
			if err != nil {
				return r.readEnded(ctx, err)
			}
			ev = pendingEvent{
				trigger: r.opts.Resolver(h.Port),
				payload: payload,
			}

		case wire.MarkerTimedMessage:
			h, err := wire.ReadHeader(conn)
			if err != nil {
				return r.readEnded(ctx, err)
			}
			tag, err := wire.ReadTime(conn)
			if err != nil {
				return r.readEnded(ctx, err)
			}
			payload, err := wire.ReadPayload(conn, h.Length)
			if err != nil {
				return r.readEnded(ctx, err)
			}
			ev = pendingEvent{
				trigger: r.opts.Resolver(h.Port),
				tag:     scheduler.Instant(tag),
				timed:   true,
				payload: payload,
			}

		default:
			r.setState(StateFailed)
			return fmt.Errorf("%w: unrecognized marker %s from RTI", ErrProtocol, m)
		}

		metrics.PayloadBytesReceivedTotal.Add(float64(len(ev.payload)))

		select {
		case <-ctx.Done():
			return nil
		case r.events <- ev:
		}
	}
}

// dispatchLoop hands decoded events to the local scheduler. Timed events go
// through ScheduleAtTag, whose clock read and enqueue happen inside the
// scheduler's critical section, so the delay can never be computed from a
// clock value that a concurrent advance has already replaced.
func (r *Runtime) dispatchLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-r.events:
			var err error
			if ev.timed {
				err = r.sched.ScheduleAtTag(ev.trigger, ev.tag, ev.payload)
				metrics.EventsScheduledTotal.WithLabelValues("timed").Inc()
			} else {
				err = r.sched.Schedule(ev.trigger, 0, ev.payload)
				metrics.EventsScheduledTotal.WithLabelValues("untimed").Inc()
			}
			if err != nil {
				return fmt.Errorf("fedlink: scheduling inbound event: %w", err)
			}
			r.log.Debug("inbound event scheduled",
				"trigger", ev.trigger,
				"timed", ev.timed,
				"bytes", len(ev.payload),
			)
		}
	}
}

// readEnded classifies a read failure: a close initiated by our own shutdown
// is a clean stop, anything else is a transport failure.
func (r *Runtime) readEnded(ctx context.Context, err error) error {
	if ctx.Err() != nil || r.isClosed() {
		return nil
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		r.setState(StateDisconnected)
		r.log.Info("RTI connection closed", "error", err)
		return nil
	}
	r.setState(StateFailed)
	return fmt.Errorf("fedlink: reading from RTI: %w", err)
}
