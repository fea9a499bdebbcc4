package federate

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/fedlink/internal/rti"
	"firestige.xyz/fedlink/internal/wire"
	"firestige.xyz/fedlink/pkg/scheduler"
)

// schedCall records one schedule invocation on the recording scheduler.
type schedCall struct {
	trigger scheduler.TriggerID
	delay   scheduler.Interval
	tag     scheduler.Instant
	timed   bool
	payload []byte
}

// recordingScheduler implements scheduler.Scheduler and records every call.
type recordingScheduler struct {
	mu       sync.Mutex
	logical  scheduler.Instant
	start    scheduler.Instant
	stop     scheduler.Instant
	physical []scheduler.Instant

	calls chan schedCall
}

func newRecordingScheduler() *recordingScheduler {
	return &recordingScheduler{calls: make(chan schedCall, 16)}
}

func (s *recordingScheduler) Schedule(trigger scheduler.TriggerID, delay scheduler.Interval, payload []byte) error {
	s.calls <- schedCall{trigger: trigger, delay: delay, payload: payload}
	return nil
}

func (s *recordingScheduler) ScheduleAtTag(trigger scheduler.TriggerID, tag scheduler.Instant, payload []byte) error {
	s.calls <- schedCall{trigger: trigger, tag: tag, timed: true, payload: payload}
	return nil
}

func (s *recordingScheduler) CurrentLogicalTime() scheduler.Instant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logical
}

func (s *recordingScheduler) setLogical(t scheduler.Instant) {
	s.mu.Lock()
	s.logical = t
	s.mu.Unlock()
}

func (s *recordingScheduler) CurrentPhysicalTime() scheduler.Instant {
	now := scheduler.Now()
	s.mu.Lock()
	s.physical = append(s.physical, now)
	s.mu.Unlock()
	return now
}

func (s *recordingScheduler) AdoptStartTime(start, stop scheduler.Instant) {
	s.mu.Lock()
	s.start = start
	s.stop = stop
	s.logical = start
	s.mu.Unlock()
}

func (s *recordingScheduler) next(t *testing.T) schedCall {
	t.Helper()
	select {
	case c := <-s.calls:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("no event reached the scheduler")
		return schedCall{}
	}
}

// startFederation brings up a broker and n synchronized runtimes.
func startFederation(t *testing.T, scheds ...scheduler.Scheduler) []*Runtime {
	t.Helper()

	broker := rti.NewBroker(len(scheds))
	require.NoError(t, broker.Listen("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go broker.Run(ctx)

	runtimes := make([]*Runtime, len(scheds))
	var wg sync.WaitGroup
	errs := make([]error, len(scheds))
	for i, s := range scheds {
		i := i
		r, err := New(s, Options{
			FederateID: uint16(i + 1),
			RTIAddress: broker.Addr(),
		})
		require.NoError(t, err)
		runtimes[i] = r
		t.Cleanup(func() { r.Close() })

		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = r.SynchronizeStart(context.Background())
		}()
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "federate %d failed to synchronize", i+1)
	}
	return runtimes
}

func TestSendDeliversUntimedMessage(t *testing.T) {
	sender := newRecordingScheduler()
	receiver := newRecordingScheduler()
	runtimes := startFederation(t, sender, receiver)

	require.NoError(t, runtimes[0].Send(3, 2, []byte("hello")))

	call := receiver.next(t)
	assert.False(t, call.timed)
	assert.Equal(t, scheduler.TriggerID(3), call.trigger)
	assert.Equal(t, scheduler.Interval(0), call.delay)
	assert.Equal(t, []byte("hello"), call.payload)
}

func TestSendTimedCarriesLogicalTag(t *testing.T) {
	sender := newRecordingScheduler()
	receiver := newRecordingScheduler()
	runtimes := startFederation(t, sender, receiver)

	tag := sender.CurrentLogicalTime().Add(42_000_000)
	sender.setLogical(tag)

	require.NoError(t, runtimes[0].SendTimed(5, 2, nil))

	call := receiver.next(t)
	assert.True(t, call.timed)
	assert.Equal(t, scheduler.TriggerID(5), call.trigger)
	assert.Equal(t, tag, call.tag, "receiver must schedule at exactly the sender's tag")
	assert.Empty(t, call.payload)
}

func TestNegotiatedStartIsMonotone(t *testing.T) {
	sched := newRecordingScheduler()
	runtimes := startFederation(t, sched)

	sched.mu.Lock()
	sent := sched.physical[0]
	sched.mu.Unlock()

	assert.GreaterOrEqual(t, runtimes[0].StartTime(), sent,
		"negotiated start must not precede the physical time sent in the request")
	assert.Equal(t, runtimes[0].StartTime(), sched.start,
		"scheduler clock must adopt the negotiated start")
	assert.Equal(t, runtimes[0].StartTime(), runtimes[0].PhysicalStartTime())
}

func TestDurationBoundsStopTime(t *testing.T) {
	broker := rti.NewBroker(1)
	require.NoError(t, broker.Listen("127.0.0.1:0"))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go broker.Run(ctx)

	sched := newRecordingScheduler()
	r, err := New(sched, Options{
		FederateID: 1,
		RTIAddress: broker.Addr(),
		Duration:   30 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	require.NoError(t, r.SynchronizeStart(context.Background()))

	stop, ok := r.StopTime()
	require.True(t, ok)
	assert.Equal(t, r.StartTime().Add(scheduler.Interval(30*time.Second)), stop)
	assert.Equal(t, stop, sched.stop)
}

func TestConnectRetryBound(t *testing.T) {
	var attempts atomic.Int32
	sched := newRecordingScheduler()

	r, err := New(sched, Options{
		FederateID:    1,
		RTIAddress:    "127.0.0.1:9", // resolvable, never dialed for real
		MaxRetries:    3,
		RetryInterval: time.Millisecond,
		Dial: func(ctx context.Context, address string) (net.Conn, error) {
			attempts.Add(1)
			return nil, assert.AnError
		},
	})
	require.NoError(t, err)

	err = r.Connect(context.Background())
	assert.ErrorIs(t, err, ErrRetryExhausted)
	assert.Equal(t, int32(3), attempts.Load(), "must stop after exactly MaxRetries attempts")
	assert.Equal(t, StateFailed, r.State())
}

func TestUnresolvableHostSkipsDialing(t *testing.T) {
	var attempts atomic.Int32
	sched := newRecordingScheduler()

	r, err := New(sched, Options{
		FederateID: 1,
		RTIAddress: "rti.host.invalid:15045",
		Dial: func(ctx context.Context, address string) (net.Conn, error) {
			attempts.Add(1)
			return nil, assert.AnError
		},
	})
	require.NoError(t, err)

	err = r.Connect(context.Background())
	assert.ErrorIs(t, err, ErrUnresolvedHost)
	assert.Equal(t, int32(0), attempts.Load(), "resolution failure must not trigger connect attempts")
	assert.Equal(t, StateFailed, r.State())
}

func TestUnknownMarkerFailsListener(t *testing.T) {
	// A hand-rolled RTI that completes the handshake, then corrupts framing.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		if _, err := wire.ReadMarker(conn); err != nil { // FED_ID
			return
		}
		if _, err := wire.ReadFedID(conn); err != nil {
			return
		}
		if _, err := wire.ReadMarker(conn); err != nil { // TIMESTAMP
			return
		}
		phys, err := wire.ReadTime(conn)
		if err != nil {
			return
		}
		if _, err := conn.Write(wire.EncodeTimestamp(phys)); err != nil {
			return
		}
		conn.Write([]byte{0xFF})
	}()

	sched := newRecordingScheduler()
	r, err := New(sched, Options{FederateID: 1, RTIAddress: ln.Addr().String()})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	require.NoError(t, r.SynchronizeStart(context.Background()))

	err = r.Wait()
	assert.ErrorIs(t, err, ErrProtocol)
	assert.Equal(t, StateFailed, r.State())
}

func TestCloseResignsAndStopsListener(t *testing.T) {
	sched := newRecordingScheduler()
	runtimes := startFederation(t, sched)

	require.NoError(t, runtimes[0].Close())
	assert.NoError(t, runtimes[0].Wait())
	assert.Equal(t, StateDisconnected, runtimes[0].State())

	// Close is idempotent.
	assert.NoError(t, runtimes[0].Close())
}

func TestSendRequiresConnection(t *testing.T) {
	sched := newRecordingScheduler()
	r, err := New(sched, Options{FederateID: 1, RTIAddress: "127.0.0.1:1"})
	require.NoError(t, err)

	assert.ErrorIs(t, r.Send(1, 2, nil), ErrNotConnected)
	assert.ErrorIs(t, r.SendTimed(1, 2, nil), ErrNotConnected)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(nil, Options{RTIAddress: "x:1"})
	assert.Error(t, err)

	_, err = New(newRecordingScheduler(), Options{})
	assert.Error(t, err)
}
