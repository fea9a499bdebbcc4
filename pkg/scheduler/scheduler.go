// Package scheduler defines the local event scheduler collaborator that the
// federate runtime drives, and provides a reference implementation backed by
// a tag-ordered event queue.
//
// The runtime never owns the logical clock. It reads the clock and enqueues
// events exclusively through this interface, and the two schedule operations
// snapshot the clock inside their own critical section, so a delay or tag can
// never be computed against a clock value that has since moved.
package scheduler

import "time"

// Instant is a logical or physical point in time, in nanoseconds since the
// Unix epoch.
type Instant int64

// Interval is a signed duration between two instants, in nanoseconds.
type Interval int64

// TriggerID identifies the local action an inbound payload is delivered to.
type TriggerID int

// Now returns the current physical time as an Instant.
func Now() Instant {
	return Instant(time.Now().UnixNano())
}

// Add offsets an instant by an interval.
func (i Instant) Add(d Interval) Instant {
	return i + Instant(d)
}

// Sub returns the interval from other to i.
func (i Instant) Sub(other Instant) Interval {
	return Interval(i - other)
}

// Time converts the instant to a wall-clock time.Time.
func (i Instant) Time() time.Time {
	return time.Unix(0, int64(i))
}

// A Scheduler owns the logical clock and the event queue of one federate.
//
// Schedule and ScheduleAtTag are atomic with respect to clock advancement:
// each snapshots the current logical time and enqueues under one lock, which
// clock-advancing operations of the implementation must also take.
type Scheduler interface {
	// Schedule enqueues payload for trigger at the given delay relative to
	// the logical time snapshotted inside the call.
	Schedule(trigger TriggerID, delay Interval, payload []byte) error

	// ScheduleAtTag enqueues payload for trigger at the absolute logical tag,
	// computing the equivalent delay against the clock inside the call. The
	// resulting event fires at exactly tag no matter how the clock moves
	// concurrently.
	ScheduleAtTag(trigger TriggerID, tag Instant, payload []byte) error

	// CurrentLogicalTime returns the clock's current logical time.
	CurrentLogicalTime() Instant

	// CurrentPhysicalTime returns the current wall-clock time.
	CurrentPhysicalTime() Instant

	// AdoptStartTime aligns the clock to the federation-wide start instant
	// negotiated with the RTI: current and start time become start, and stop
	// becomes the given stop instant (or no stop when stop < start).
	AdoptStartTime(start, stop Instant)
}
