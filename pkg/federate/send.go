package federate

import (
	"fmt"

	"firestige.xyz/fedlink/internal/metrics"
	"firestige.xyz/fedlink/internal/wire"
)

// Send transmits an untimed message to the given port of the given federate
// via the RTI. The receiver schedules it with zero delay.
//
// The uint16 parameter types enforce the protocol's 16-bit port and federate
// id ranges; exceeding them is impossible rather than recoverable.
func (r *Runtime) Send(port, federate uint16, payload []byte) error {
	if r.State() != StateConnected {
		return ErrNotConnected
	}
	prefix := wire.EncodeMessage(port, federate, payload)
	return r.writeFrame(wire.MarkerMessage, prefix, payload)
}

// SendTimed transmits a message tagged with this federate's current logical
// time, read from the scheduler at call time. The receiver schedules it at
// exactly that tag.
func (r *Runtime) SendTimed(port, federate uint16, payload []byte) error {
	if r.State() != StateConnected {
		return ErrNotConnected
	}
	tag := r.sched.CurrentLogicalTime()
	prefix := wire.EncodeTimedMessage(port, federate, int64(tag), payload)
	return r.writeFrame(wire.MarkerTimedMessage, prefix, payload)
}

// writeFrame writes a frame prefix followed by its payload as two sequential
// writes under the write lock, so concurrent senders never interleave frame
// bytes. payload may be nil for payload-less frames.
func (r *Runtime) writeFrame(marker wire.Marker, prefix, payload []byte) error {
	conn := r.connRef()
	if conn == nil {
		return ErrNotConnected
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if _, err := conn.Write(prefix); err != nil {
		r.setState(StateFailed)
		return fmt.Errorf("fedlink: writing %s frame: %w", marker, err)
	}
	if len(payload) > 0 {
		if _, err := conn.Write(payload); err != nil {
			r.setState(StateFailed)
			return fmt.Errorf("fedlink: writing %s payload: %w", marker, err)
		}
	}

	metrics.FramesSentTotal.WithLabelValues(marker.String()).Inc()
	metrics.PayloadBytesSentTotal.Add(float64(len(payload)))
	return nil
}
