package resolve

import (
	"fmt"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// QueryState is a ClientQuery's position in its lifecycle (spec.md Data
// Model).
type QueryState int

const (
	// StateOpen: still dispatching/awaiting sub-query replies.
	StateOpen QueryState = iota
	// StateStoppedWaitingValidation: a response arrived and was handed
	// to the validator; no further sub-queries are scheduled, but the
	// client is still in the table awaiting the VALIDATED event.
	StateStoppedWaitingValidation
	// StateDone: a terminal event has been decided for this client; it
	// remains in the table only until Remove is called, purely so late
	// transport events can be recognized and dropped.
	StateDone
)

// ClientQuery is the unit surfaced to the caller (spec.md Data Model).
type ClientQuery struct {
	ClientID     ClientID
	Request      *dns.Msg
	Sink         ResultChan
	Outstanding  map[*SubQuery]struct{}
	HardDeadline time.Time // zero value means "no deadline"
	State        QueryState
	// Validate, set from ResolverOptions.DNSSEC at insert time, tells the
	// orchestrator whether a successful response must be handed to the
	// validator before being delivered (spec.md §4.9).
	Validate bool
	// ForceTCP, set by SendAsyncTCP, overrides every dispatched
	// sub-query's transport to use TCP regardless of its configured
	// use_tcp.
	ForceTCP bool
	// DeadServers holds transports dropped from this client's remaining
	// schedule after a non-timeout, non-resource-exhausted error
	// (spec.md §4.4's "remove this transport from the remaining
	// schedule"). PopDue/HasMoreScheduled treat their entries as already
	// fired.
	DeadServers map[SingleTransport]struct{}
}

// HasDeadline reports whether a query_timeout was configured for this
// client.
func (q *ClientQuery) HasDeadline() bool { return !q.HardDeadline.IsZero() }

// DueFire is one scheduled dispatch returned by QueryTable.PopDue, still
// owned by a live client.
type DueFire struct {
	ClientID  ClientID
	Transport SingleTransport
	Attempt   int
}

// ErrDuplicateClientID is returned by Insert when client_id is already
// present, satisfying invariant I1.
var ErrDuplicateClientID = fmt.Errorf("resolve: duplicate client id")

// QueryTable is the single source of truth for which sub-queries may
// still be considered live (spec.md §4.2). Grounded in shape on
// teacher's pipeline.go inFlightQueue, generalized from "one
// connection's pending requests" to "every live client query with its
// own schedule."
type QueryTable struct {
	mu      sync.Mutex
	clients map[ClientID]*ClientQuery
	wheel   *timerWheel
}

// NewQueryTable returns an empty table.
func NewQueryTable() *QueryTable {
	return &QueryTable{
		clients: make(map[ClientID]*ClientQuery),
		wheel:   newTimerWheel(),
	}
}

// Insert registers a new client query, building its schedule via the
// planner with base=now. Atomic: rejects duplicate client_ids.
func (t *QueryTable) Insert(clientID ClientID, request *dns.Msg, sink ResultChan,
	servers []SingleTransport, retryTimes int, retryDelay, queryTimeout time.Duration, validate, forceTCP bool, now time.Time) error {

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.clients[clientID]; exists {
		return ErrDuplicateClientID
	}

	fires, err := Plan(servers, retryTimes, retryDelay, now)
	if err != nil {
		return err
	}
	for _, f := range fires {
		t.wheel.schedule(f.At, clientID, f.Server, f.Attempt)
	}

	var deadline time.Time
	if queryTimeout > 0 {
		deadline = now.Add(queryTimeout)
	}
	t.clients[clientID] = &ClientQuery{
		ClientID:     clientID,
		Request:      request,
		Sink:         sink,
		Outstanding:  make(map[*SubQuery]struct{}),
		HardDeadline: deadline,
		State:        StateOpen,
		Validate:     validate,
		ForceTCP:     forceTCP,
		DeadServers:  make(map[SingleTransport]struct{}),
	}
	return nil
}

// Len reports the number of clients currently tracked (used by
// SendAsync to decide whether to trigger an immediate tick).
func (t *QueryTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.clients)
}

// Get returns the client query for id, if still tracked (open, awaiting
// validation, or pending removal).
func (t *QueryTable) Get(id ClientID) (*ClientQuery, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cq, ok := t.clients[id]
	return cq, ok
}

// PopDue removes and returns every scheduled fire whose time has
// arrived, silently dropping entries whose owning client is no longer
// open (it was cancelled or completed since the fire was scheduled).
func (t *QueryTable) PopDue(now time.Time) []DueFire {
	t.mu.Lock()
	defer t.mu.Unlock()

	raw := t.wheel.popDue(now)
	due := make([]DueFire, 0, len(raw))
	for _, e := range raw {
		cq, ok := t.clients[e.clientID]
		if !ok || cq.State != StateOpen {
			continue
		}
		if _, dead := cq.DeadServers[e.transport]; dead {
			continue
		}
		due = append(due, DueFire{ClientID: e.clientID, Transport: e.transport, Attempt: e.attempt})
	}
	return due
}

// DueTimeouts returns the ids of clients whose hard_deadline has passed
// and which have not yet reached a terminal state.
func (t *QueryTable) DueTimeouts(now time.Time) []ClientID {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ids []ClientID
	for id, cq := range t.clients {
		if cq.State == StateDone {
			continue
		}
		if cq.HasDeadline() && !now.Before(cq.HardDeadline) {
			ids = append(ids, id)
		}
	}
	return ids
}

// RecordOutstanding adds sub to the client's outstanding set.
func (t *QueryTable) RecordOutstanding(clientID ClientID, sub *SubQuery) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cq, ok := t.clients[clientID]; ok {
		cq.Outstanding[sub] = struct{}{}
	}
}

// ClearOutstanding removes sub from the client's outstanding set,
// reporting whether it was present.
func (t *QueryTable) ClearOutstanding(clientID ClientID, sub *SubQuery) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cq, ok := t.clients[clientID]
	if !ok {
		return false
	}
	if _, present := cq.Outstanding[sub]; !present {
		return false
	}
	delete(cq.Outstanding, sub)
	return true
}

// OutstandingEmpty reports whether a client has no outstanding
// sub-queries left.
func (t *QueryTable) OutstandingEmpty(clientID ClientID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cq, ok := t.clients[clientID]
	if !ok {
		return true
	}
	return len(cq.Outstanding) == 0
}

// HasMoreScheduled reports whether the client still has future fires
// pending in the timer wheel.
func (t *QueryTable) HasMoreScheduled(clientID ClientID, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cq, ok := t.clients[clientID]
	if !ok {
		return false
	}
	for _, e := range t.wheel.entries {
		if e.clientID != clientID || !e.at.After(now) {
			continue
		}
		if _, dead := cq.DeadServers[e.transport]; dead {
			continue
		}
		return true
	}
	return false
}

// DropServer removes transport from the client's remaining schedule
// (spec.md §4.4: "remove this transport from the remaining schedule for
// this client" on a hard transport error). Future fires for this
// (client, transport) pair are skipped by PopDue/HasMoreScheduled rather
// than removed from the heap, matching the table's lazy-deletion
// discipline for cancellation.
func (t *QueryTable) DropServer(clientID ClientID, transport SingleTransport) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cq, ok := t.clients[clientID]; ok {
		cq.DeadServers[transport] = struct{}{}
	}
}

// StopScheduling transitions a client to StateStoppedWaitingValidation:
// no further fires will be dispatched for it (PopDue skips non-open
// clients), but it remains in the table awaiting a VALIDATED event.
func (t *QueryTable) StopScheduling(clientID ClientID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cq, ok := t.clients[clientID]; ok && cq.State == StateOpen {
		cq.State = StateStoppedWaitingValidation
	}
}

// MarkDone drops the client's schedule and outstanding set (satisfying
// spec.md's cancel semantics) without removing it from the table, so
// late transport events for this client_id are recognized and silently
// dropped until Remove is called.
func (t *QueryTable) MarkDone(clientID ClientID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cq, ok := t.clients[clientID]; ok {
		cq.State = StateDone
		cq.Outstanding = make(map[*SubQuery]struct{})
	}
}

// Remove is the terminal removal of a client_id from the table.
func (t *QueryTable) Remove(clientID ClientID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.clients, clientID)
}

// All returns every client query currently tracked, used by Close to fail
// outstanding queries.
func (t *QueryTable) All() []*ClientQuery {
	t.mu.Lock()
	defer t.mu.Unlock()
	all := make([]*ClientQuery, 0, len(t.clients))
	for _, cq := range t.clients {
		all = append(all, cq)
	}
	return all
}
