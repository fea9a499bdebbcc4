package federate

import "errors"

// Sentinel errors. Callers classify failures with errors.Is; the CLI maps
// them to distinct exit codes.
var (
	// ErrUnresolvedHost means the RTI address did not resolve. This is a
	// misconfiguration, not a transient fault: no connect attempt is made.
	ErrUnresolvedHost = errors.New("fedlink: cannot resolve RTI host")

	// ErrRetryExhausted means the bounded connect retry policy ran out of
	// attempts.
	ErrRetryExhausted = errors.New("fedlink: connect retries exhausted")

	// ErrProtocol means the byte stream from the RTI violated the wire
	// protocol. The protocol has no resynchronization, so framing is lost
	// for good and the connection is permanently unusable.
	ErrProtocol = errors.New("fedlink: protocol violation")

	// ErrNotConnected means a send was attempted without a live RTI
	// connection.
	ErrNotConnected = errors.New("fedlink: not connected to RTI")

	// ErrClosed means the runtime has been closed.
	ErrClosed = errors.New("fedlink: runtime closed")
)
