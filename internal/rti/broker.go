// Package rti implements a minimal runtime-infrastructure broker: it
// registers federates, assigns the federation-wide logical start time, and
// relays messages between federates.
//
// The broker exists for local federations and tests. It implements only the
// client-facing half of the protocol that the federate runtime speaks: FedID
// registration, Timestamp negotiation (the start time is the maximum of all
// submitted physical times), Message/TimedMessage relay by destination
// federate id, and Resign.
package rti

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"

	"firestige.xyz/fedlink/internal/metrics"
	"firestige.xyz/fedlink/internal/wire"
)

// Sentinel errors.
var (
	// ErrBadHandshake means a connection did not open with the expected
	// FedID / Timestamp sequence.
	ErrBadHandshake = errors.New("fedlink: broker handshake violation")

	// ErrBadFrame means a registered federate sent a marker outside the
	// protocol enumeration. Framing is unrecoverable; the connection is
	// dropped.
	ErrBadFrame = errors.New("fedlink: broker received unrecognized marker")
)

// Broker coordinates a fixed-size federation.
type Broker struct {
	expected int
	log      *slog.Logger

	ln net.Listener

	mu        sync.Mutex
	federates map[uint16]*fedConn
	times     []int64
	started   bool
	start     int64

	// startReady is closed once every expected federate has submitted its
	// physical time and the start instant is decided.
	startReady chan struct{}
}

// fedConn is one registered federate connection. Relay writes to the same
// destination are serialized by its mutex.
type fedConn struct {
	id   uint16
	conn net.Conn
	mu   sync.Mutex

	// negotiated closes once this federate's start time reply has been
	// written. A relayed frame must never reach the socket before that
	// reply: the federate is still blocked reading its Timestamp, and a
	// MESSAGE marker in its place is a fatal framing violation on its end.
	negotiated chan struct{}
}

func (f *fedConn) writeFrame(prefix, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.conn.Write(prefix); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := f.conn.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// NewBroker creates a broker expecting the given number of federates.
func NewBroker(expected int) *Broker {
	return &Broker{
		expected:   expected,
		log:        slog.Default().With("broker", xid.New().String()),
		federates:  make(map[uint16]*fedConn),
		startReady: make(chan struct{}),
	}
}

// Listen binds the broker to the given TCP address. Use port 0 to let the
// kernel pick one; Addr reports the bound endpoint.
func (b *Broker) Listen(address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("fedlink: broker listen on %s: %w", address, err)
	}
	b.ln = ln
	b.log.Info("broker listening", "address", ln.Addr().String(), "federates", b.expected)
	return nil
}

// Addr returns the bound listen address. Listen must have succeeded.
func (b *Broker) Addr() string {
	return b.ln.Addr().String()
}

// Run accepts exactly the expected number of federates and serves them until
// all have resigned or disconnected, or ctx is cancelled.
func (b *Broker) Run(ctx context.Context) error {
	if b.ln == nil {
		return fmt.Errorf("fedlink: broker is not listening")
	}

	group, gctx := errgroup.WithContext(ctx)

	// Close the listener and every federate connection on cancellation so
	// blocking reads unwind.
	stop := context.AfterFunc(gctx, func() {
		b.ln.Close()
		b.mu.Lock()
		for _, f := range b.federates {
			f.conn.Close()
		}
		b.mu.Unlock()
	})
	defer stop()

	for i := 0; i < b.expected; i++ {
		conn, err := b.ln.Accept()
		if err != nil {
			if gctx.Err() != nil {
				break
			}
			return fmt.Errorf("fedlink: broker accept: %w", err)
		}
		group.Go(func() error { return b.serve(gctx, conn) })
	}

	return group.Wait()
}

// serve handles one federate connection: registration, start-time
// negotiation, then the relay loop.
func (b *Broker) serve(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	f, err := b.register(conn)
	if err != nil {
		return err
	}
	defer b.unregister(f)

	if err := b.negotiate(ctx, f); err != nil {
		return err
	}

	return b.relayLoop(ctx, f)
}

// register reads the FedID frame that must open every connection.
func (b *Broker) register(conn net.Conn) (*fedConn, error) {
	m, err := wire.ReadMarker(conn)
	if err != nil {
		return nil, fmt.Errorf("fedlink: broker reading registration: %w", err)
	}
	if m != wire.MarkerFedID {
		return nil, fmt.Errorf("%w: expected FED_ID, got %s", ErrBadHandshake, m)
	}
	id, err := wire.ReadFedID(conn)
	if err != nil {
		return nil, fmt.Errorf("fedlink: broker reading federate id: %w", err)
	}

	f := &fedConn{id: id, conn: conn, negotiated: make(chan struct{})}

	b.mu.Lock()
	if _, dup := b.federates[id]; dup {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: duplicate federate id %d", ErrBadHandshake, id)
	}
	b.federates[id] = f
	count := len(b.federates)
	b.mu.Unlock()

	metrics.BrokerFederates.Set(float64(count))
	b.log.Info("federate registered", "federate", id, "remote", conn.RemoteAddr().String())
	return f, nil
}

func (b *Broker) unregister(f *fedConn) {
	b.mu.Lock()
	if b.federates[f.id] == f {
		delete(b.federates, f.id)
	}
	count := len(b.federates)
	b.mu.Unlock()

	metrics.BrokerFederates.Set(float64(count))
	b.log.Info("federate left", "federate", f.id)
}

// negotiate collects the federate's physical time, waits for the whole
// federation, and replies with the decided start instant: the maximum of all
// submitted physical times, so the start lies at or after every federate's
// clock at the moment it asked.
func (b *Broker) negotiate(ctx context.Context, f *fedConn) error {
	m, err := wire.ReadMarker(f.conn)
	if err != nil {
		return fmt.Errorf("fedlink: broker reading timestamp: %w", err)
	}
	if m != wire.MarkerTimestamp {
		return fmt.Errorf("%w: expected TIMESTAMP from federate %d, got %s", ErrBadHandshake, f.id, m)
	}
	t, err := wire.ReadTime(f.conn)
	if err != nil {
		return fmt.Errorf("fedlink: broker reading timestamp: %w", err)
	}

	b.mu.Lock()
	b.times = append(b.times, t)
	if len(b.times) == b.expected && !b.started {
		b.start = maxTime(b.times)
		b.started = true
		close(b.startReady)
		b.log.Info("federation start time decided", "start", b.start)
	}
	b.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.startReady:
	}

	b.mu.Lock()
	start := b.start
	b.mu.Unlock()

	if err := f.writeFrame(wire.EncodeTimestamp(start), nil); err != nil {
		return fmt.Errorf("fedlink: broker sending start time to federate %d: %w", f.id, err)
	}
	close(f.negotiated)
	return nil
}

// relayLoop forwards Message and TimedMessage frames to their destination
// federate until the sender resigns or disconnects.
func (b *Broker) relayLoop(ctx context.Context, f *fedConn) error {
	for {
		m, err := wire.ReadMarker(f.conn)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("fedlink: broker reading from federate %d: %w", f.id, err)
		}

		switch m {
		case wire.MarkerMessage:
			h, err := wire.ReadHeader(f.conn)
			if err != nil {
				return err
			}
			payload, err := wire.ReadPayload(f.conn, h.Length)
			if err != nil {
				return err
			}
			b.relay(ctx, f.id, h.Federate, wire.EncodeMessage(h.Port, h.Federate, payload), payload)

		case wire.MarkerTimedMessage:
			h, err := wire.ReadHeader(f.conn)
			if err != nil {
				return err
			}
			tag, err := wire.ReadTime(f.conn)
			if err != nil {
				return err
			}
			payload, err := wire.ReadPayload(f.conn, h.Length)
			if err != nil {
				return err
			}
			b.relay(ctx, f.id, h.Federate, wire.EncodeTimedMessage(h.Port, h.Federate, tag, payload), payload)

		case wire.MarkerResign:
			return nil

		default:
			return fmt.Errorf("%w: %s from federate %d", ErrBadFrame, m, f.id)
		}
	}
}

// relay forwards one reconstructed frame to the destination federate.
// Unknown destinations are logged and dropped; the sender cannot know which
// federates are still present.
//
// The write is held back until the destination's start time reply is on the
// wire. A sender that finishes negotiating first can otherwise race a frame
// onto a socket whose owner is still waiting for its Timestamp.
func (b *Broker) relay(ctx context.Context, from, to uint16, prefix, payload []byte) {
	b.mu.Lock()
	dest := b.federates[to]
	b.mu.Unlock()

	if dest == nil {
		b.log.Warn("dropping frame for unknown federate", "from", from, "to", to)
		return
	}

	select {
	case <-dest.negotiated:
	case <-ctx.Done():
		return
	}

	if err := dest.writeFrame(prefix, payload); err != nil {
		b.log.Warn("relay write failed", "from", from, "to", to, "error", err)
		return
	}
	metrics.BrokerRelayedTotal.Inc()
}

func maxTime(times []int64) int64 {
	m := times[0]
	for _, t := range times[1:] {
		if t > m {
			m = t
		}
	}
	return m
}
