package resolve

import (
	"github.com/miekg/dns"

	"github.com/dnscore/orchestrator/dnssec"
)

// ClientID identifies one client-visible query across its lifetime.
type ClientID string

// Result is the tuple delivered to a client's sink: exactly one per
// client query (spec.md invariant I3). SecurityLevel is UNCHECKED unless
// the query had DNSSEC validation enabled and reached a terminal success
// (spec.md §4.9/scenario 6).
type Result struct {
	ClientID      ClientID
	Msg           *dns.Msg
	Err           error
	SecurityLevel dnssec.SecurityLevel
}

// ResultChan is the client-facing result sink: a multi-producer,
// single-consumer handoff. The resolver side writes to it at most once
// per query (the orchestrator's terminal event, or SendAsync's own
// rejection of the query); only the caller reads from it.
// Buffered to one slot so the orchestrator's terminal write never
// blocks on a caller that hasn't started reading yet, matching spec.md
// §5 ("the orchestrator never blocks on a caller's sink") without
// requiring a background goroutine per client, since at most one value
// is ever produced per query. Grounded in shape on teacher's pipeline.go
// request.done channel, generalized from "done" signalling to carrying
// the (id, msg, err) triple itself.
type ResultChan chan Result

// NewResultChan returns a ResultChan sized to buffer exactly one
// terminal result.
func NewResultChan() ResultChan {
	return make(ResultChan, 1)
}
