package resolve

import (
	"github.com/miekg/dns"

	"github.com/dnscore/orchestrator/dnssec"
)

// EventKind classifies an EventBus arrival.
type EventKind int

const (
	// EventReceived is a response (or transport-level error) for a
	// specific dispatched sub-query.
	EventReceived EventKind = iota
	// EventValidated is the validator's verdict on a previously
	// received message.
	EventValidated
	// EventError is a transport-level failure unassociated with a
	// particular response; handled identically to EventReceived with
	// an error payload.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventReceived:
		return "RECEIVED"
	case EventValidated:
		return "VALIDATED"
	case EventError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is one entry on the internal EventBus: a per-packet (or
// per-validation) notification flowing from a transport or the
// validator into the orchestrator. Sub is nil for EventValidated, since
// validation runs per client-query rather than per dispatched packet;
// ClientID is always set.
type Event struct {
	ClientID ClientID
	Sub      *SubQuery
	Kind     EventKind
	Msg      *dns.Msg
	Err      error
	Level    dnssec.SecurityLevel
}

// EventBus is the internal, multi-producer single-consumer channel
// carrying Events from transports and the validator into the
// orchestrator's tick loop. Grounded in shape on teacher's pipeline.go
// ("requests chan *request" read by a single dedicated goroutine), here
// carrying responses rather than outgoing requests.
type EventBus chan Event

// NewEventBus returns a buffered EventBus. The buffer only smooths out
// bursts; the orchestrator drains it eagerly and never blocks a
// producer for long (spec.md §5: "No backpressure on the event bus").
func NewEventBus(buffer int) EventBus {
	return make(EventBus, buffer)
}
