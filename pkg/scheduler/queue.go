package scheduler

import (
	"container/heap"
	"errors"
	"sync"

	"github.com/rs/xid"
)

// Sentinel errors.
var (
	// ErrTimeReversal is returned when the clock is asked to move backwards.
	ErrTimeReversal = errors.New("fedlink: logical time cannot move backwards")
)

// Event is a scheduled delivery of a payload to a trigger at a logical tag.
type Event struct {
	ID      string
	Trigger TriggerID
	Tag     Instant
	Payload []byte
}

// QueueScheduler is the reference Scheduler: a mutex-guarded logical clock
// plus a tag-ordered event heap. One lock covers both, so the schedule
// operations and clock advancement are mutually exclusive.
type QueueScheduler struct {
	mu      sync.Mutex
	current Instant
	start   Instant
	stop    Instant
	hasStop bool
	events  eventHeap

	// wake receives a signal whenever an event is enqueued, so a run loop
	// blocked waiting for work can re-examine the queue.
	wake chan struct{}
}

// NewQueueScheduler creates an empty scheduler with the clock at zero.
func NewQueueScheduler() *QueueScheduler {
	s := &QueueScheduler{
		events: make(eventHeap, 0),
		wake:   make(chan struct{}, 1),
	}
	heap.Init(&s.events)
	return s
}

// Schedule enqueues payload at current+delay, snapshotting the clock under
// the scheduler lock.
func (s *QueueScheduler) Schedule(trigger TriggerID, delay Interval, payload []byte) error {
	s.mu.Lock()
	tag := s.current.Add(delay)
	s.push(trigger, tag, payload)
	s.mu.Unlock()

	s.signal()
	return nil
}

// ScheduleAtTag enqueues payload at the absolute tag. The delay relative to
// the clock is implied by the same snapshot the enqueue uses, so the event
// fires at exactly tag regardless of concurrent clock advancement.
func (s *QueueScheduler) ScheduleAtTag(trigger TriggerID, tag Instant, payload []byte) error {
	s.mu.Lock()
	s.push(trigger, tag, payload)
	s.mu.Unlock()

	s.signal()
	return nil
}

// push appends under the lock.
func (s *QueueScheduler) push(trigger TriggerID, tag Instant, payload []byte) {
	heap.Push(&s.events, &Event{
		ID:      xid.New().String(),
		Trigger: trigger,
		Tag:     tag,
		Payload: payload,
	})
}

func (s *QueueScheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// CurrentLogicalTime returns the clock's current logical time.
func (s *QueueScheduler) CurrentLogicalTime() Instant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// CurrentPhysicalTime returns the current wall-clock time.
func (s *QueueScheduler) CurrentPhysicalTime() Instant {
	return Now()
}

// AdoptStartTime aligns the clock to the negotiated federation start.
func (s *QueueScheduler) AdoptStartTime(start, stop Instant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.start = start
	s.current = start
	s.stop = stop
	s.hasStop = stop >= start
}

// StartTime returns the adopted start instant.
func (s *QueueScheduler) StartTime() Instant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.start
}

// StopTime returns the stop instant and whether one is set.
func (s *QueueScheduler) StopTime() (Instant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop, s.hasStop
}

// AdvanceTo moves the logical clock forward to t. It takes the same lock as
// the schedule operations, so no event delay is ever computed against a clock
// value this call has already replaced.
func (s *QueueScheduler) AdvanceTo(t Instant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t < s.current {
		return ErrTimeReversal
	}
	s.current = t
	return nil
}

// PeekTag returns the tag of the earliest pending event, if any.
func (s *QueueScheduler) PeekTag() (Instant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events.Len() == 0 {
		return 0, false
	}
	return s.events[0].Tag, true
}

// PopNext removes the earliest pending event and advances the clock to its
// tag, both under one lock. It returns false when the queue is empty or the
// earliest event lies beyond the stop time.
func (s *QueueScheduler) PopNext() (*Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events.Len() == 0 {
		return nil, false
	}
	if s.hasStop && s.events[0].Tag > s.stop {
		return nil, false
	}
	evt := heap.Pop(&s.events).(*Event)
	if evt.Tag > s.current {
		s.current = evt.Tag
	}
	return evt, true
}

// Len returns the number of pending events.
func (s *QueueScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.Len()
}

// Wake returns a channel that receives a signal whenever an event is
// enqueued.
func (s *QueueScheduler) Wake() <-chan struct{} {
	return s.wake
}

// eventHeap orders events by tag, earliest first.
type eventHeap []*Event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	return h[i].Tag < h[j].Tag
}

func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *eventHeap) Push(x any) {
	*h = append(*h, x.(*Event))
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	evt := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return evt
}
