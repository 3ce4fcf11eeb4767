package resolve

import (
	"fmt"

	"github.com/miekg/dns"
)

// TimeoutError is returned by a transport when a single packet attempt
// times out. It is consumed internally by the orchestrator unless it
// turns out to be the last outstanding attempt for a client.
type TimeoutError struct {
	Server string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("query to %s timed out", e.Server)
}

// ClientTimeoutError is returned when a client query exceeds its
// hard_deadline. Always terminal.
type ClientTimeoutError struct {
	ClientID ClientID
}

func (e *ClientTimeoutError) Error() string {
	return fmt.Sprintf("client query %s exceeded its query timeout", e.ClientID)
}

// NXDomainError signals an authoritative denial. Terminal, never retried.
type NXDomainError struct {
	Query *dns.Msg
}

func (e *NXDomainError) Error() string {
	return fmt.Sprintf("query for '%s' returned NXDOMAIN", qName(e.Query))
}

// ResourceExhaustedError is a transient local-resource failure (e.g. file
// descriptor exhaustion). The transport that reported it is retained in
// the client's schedule; retries keep going.
type ResourceExhaustedError struct {
	Server string
	Cause  error
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("resource exhausted talking to %s: %v", e.Server, e.Cause)
}

func (e *ResourceExhaustedError) Unwrap() error { return e.Cause }

// TransportError is any other transport-level failure. The reporting
// transport is dropped from the remaining schedule and sunk to the
// bottom of the ranking.
type TransportError struct {
	Server string
	Cause  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error from %s: %v", e.Server, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// ValidationError is returned by the validator hand-off. Terminal.
type ValidationError struct {
	Cause error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("dnssec validation failed: %v", e.Cause)
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// ArgumentError signals a bad configuration value or a bad argument to
// SendAsync. Reported synchronously on the sink without consulting any
// transport.
type ArgumentError struct {
	Msg string
}

func (e *ArgumentError) Error() string { return "resolve: " + e.Msg }

// ResolverClosedError is delivered to every live client query when
// Close is called.
type ResolverClosedError struct{}

func (e *ResolverClosedError) Error() string { return "resolve: resolver closed" }

// InternalError marks an invariant violation: a duplicate schedule
// timestamp, a stale sub-query identity, or an unknown event kind. A
// second terminal result for the same client is not reported this way;
// the orchestrator logs and drops it.
// Per spec.md these are crash-level bugs that must never surface under
// normal operation; the orchestrator recovers them per-client (so one
// broken client query cannot take down the whole resolver) but still
// reports them distinctly so they are never mistaken for a normal
// transport failure.
type InternalError struct {
	Msg string
}

func (e *InternalError) Error() string { return "resolve: internal error: " + e.Msg }
