package resolve

import (
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/dnscore/orchestrator/dnssec"
)

// Validator is the async validation collaborator (spec.md §6 "Validator
// contract"). dnssec.Validator satisfies this implicitly via its
// ValidateLevel method. A nil Validator disables DNSSEC hand-off
// entirely; queries with Validate set are then delivered unchecked.
type Validator interface {
	ValidateLevel(msg *dns.Msg) (dnssec.SecurityLevel, error)
}

// Orchestrator is the single-threaded tick loop of spec.md §4.3: one
// goroutine owns the Query Table's timer wheel and the event bus, woken
// on a fixed cadence and on every event-bus arrival. Grounded in shape
// on teacher's Pipeline.start() reader/writer-goroutine-plus-channel
// loop, generalized from one TCP connection's read/write pump to every
// live client query's schedule and incoming transport events.
type Orchestrator struct {
	table     *QueryTable
	ranking   *ServerRanking
	validator Validator
	clock     Clock
	bus       EventBus

	tickInterval time.Duration

	wakeCh chan struct{}
	stopCh chan struct{}
	stop   sync.Once
	done   chan struct{}
}

// NewOrchestrator builds an orchestrator. Call Start to launch its tick
// loop goroutine.
func NewOrchestrator(table *QueryTable, ranking *ServerRanking, validator Validator, clock Clock, tickInterval time.Duration) *Orchestrator {
	if tickInterval <= 0 {
		tickInterval = 500 * time.Millisecond
	}
	return &Orchestrator{
		table:        table,
		ranking:      ranking,
		validator:    validator,
		clock:        clock,
		bus:          NewEventBus(64),
		tickInterval: tickInterval,
		wakeCh:       make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Bus returns the event bus transports and the validator post events
// onto.
func (o *Orchestrator) Bus() EventBus { return o.bus }

// Wake requests an out-of-cadence tick, used by SendAsync to dispatch a
// newly-inserted client's round-0 fires without waiting for the next
// ticker tick (spec.md §4.6: "triggers an immediate tick if the table
// was empty").
func (o *Orchestrator) Wake() {
	select {
	case o.wakeCh <- struct{}{}:
	default:
	}
}

// Start launches the tick loop goroutine.
func (o *Orchestrator) Start() {
	go o.run()
}

func (o *Orchestrator) run() {
	defer close(o.done)

	ticker := time.NewTicker(o.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stopCh:
			o.shutdown()
			return
		case <-ticker.C:
			o.tick()
		case <-o.wakeCh:
			o.tick()
		case ev := <-o.bus:
			o.handleEvent(ev)
			o.tick()
		}
	}
}

// Stop signals the tick loop to shut down every live client query and
// exit. Safe to call more than once; blocks until the goroutine has
// exited.
func (o *Orchestrator) Stop() {
	o.stop.Do(func() { close(o.stopCh) })
	<-o.done
}

// tick performs one wake-up's worth of work per spec.md §4.3: timeout
// check, dispatch of due fires, and a non-blocking drain of whatever
// else has queued on the event bus since the last wake-up.
func (o *Orchestrator) tick() {
	now := o.clock.Now()

	for _, id := range o.table.DueTimeouts(now) {
		o.terminate(id, nil, &ClientTimeoutError{ClientID: id})
	}

	for _, f := range o.table.PopDue(now) {
		o.dispatch(f)
	}

	for {
		select {
		case ev := <-o.bus:
			o.handleEvent(ev)
		default:
			return
		}
	}
}

func (o *Orchestrator) dispatch(f DueFire) {
	cq, ok := o.table.Get(f.ClientID)
	if !ok || cq.State != StateOpen {
		return
	}
	req := cloneForAttempt(cq.Request)
	sub := &SubQuery{Transport: f.Transport, Request: req, ClientID: f.ClientID, Attempt: f.Attempt, ForceTCP: cq.ForceTCP}
	o.table.RecordOutstanding(f.ClientID, sub)
	f.Transport.SendAsync(req, o.bus, sub)
}

func (o *Orchestrator) handleEvent(ev Event) {
	switch ev.Kind {
	case EventReceived, EventError:
		o.handleReceived(ev)
	case EventValidated:
		o.handleValidated(ev)
	default:
		o.terminate(ev.ClientID, nil, &InternalError{Msg: "event bus: unknown event kind"})
	}
}

// handleReceived implements spec.md §4.4's RECEIVED/ERROR handling: both
// kinds carry a sub-query and are processed identically.
func (o *Orchestrator) handleReceived(ev Event) {
	sub := ev.Sub
	cq, ok := o.table.Get(sub.ClientID)
	if !ok {
		return // stale: client already cancelled or delivered
	}

	if !o.table.ClearOutstanding(sub.ClientID, sub) {
		o.terminate(sub.ClientID, nil, &InternalError{Msg: "RECEIVED for a sub-query not in the outstanding set"})
		return
	}

	if ev.Err != nil {
		o.handleTransportError(cq, sub, ev.Err)
		return
	}

	o.ranking.Promote(sub.Transport)
	o.table.StopScheduling(sub.ClientID)

	if cq.Validate && o.validator != nil {
		go o.runValidator(sub.ClientID, ev.Msg)
		return
	}
	o.terminate(sub.ClientID, ev.Msg, nil)
}

func (o *Orchestrator) handleTransportError(cq *ClientQuery, sub *SubQuery, err error) {
	switch err.(type) {
	case *TimeoutError:
		o.ranking.Demote(sub.Transport)
		o.maybeExhaust(cq.ClientID, err)
	case *NXDomainError:
		o.terminateOnError(cq.ClientID, err)
	case *ResourceExhaustedError:
		// Transient local failure: leave the transport in the schedule
		// and keep waiting on whatever else is outstanding or due.
	default:
		o.ranking.SinkToBottom(sub.Transport)
		o.table.DropServer(cq.ClientID, sub.Transport)
		o.maybeExhaust(cq.ClientID, err)
	}
}

// maybeExhaust emits err as the terminal result if client has nothing
// outstanding and nothing left scheduled (spec.md §4.4: "if outstanding
// empty and schedule empty, emit the error to client; else continue
// waiting").
func (o *Orchestrator) maybeExhaust(clientID ClientID, err error) {
	if o.table.OutstandingEmpty(clientID) && !o.table.HasMoreScheduled(clientID, o.clock.Now()) {
		o.terminateOnError(clientID, err)
	}
}

// terminateOnError emits err as the terminal result, unless clientID has
// already moved past StateOpen. A client stuck in
// StateStoppedWaitingValidation is awaiting the VALIDATED event for a
// response some other sub-query already delivered (spec.md §4.4: "keep
// the client in the table awaiting validation"); a straggler sub-query
// erroring after that hand-off must not preempt it.
func (o *Orchestrator) terminateOnError(clientID ClientID, err error) {
	cq, ok := o.table.Get(clientID)
	if !ok || cq.State != StateOpen {
		return
	}
	o.terminate(clientID, nil, err)
}

// runValidator runs the (potentially slow, network-bound) validator off
// the tick loop goroutine and posts its verdict back as an EventValidated,
// keeping the orchestrator's own goroutine non-blocking per spec.md §5.
func (o *Orchestrator) runValidator(clientID ClientID, msg *dns.Msg) {
	level, err := o.validator.ValidateLevel(msg)
	o.bus <- Event{ClientID: clientID, Kind: EventValidated, Msg: msg, Err: err, Level: level}
}

func (o *Orchestrator) handleValidated(ev Event) {
	if _, ok := o.table.Get(ev.ClientID); !ok {
		return // stale: client already cancelled
	}
	if ev.Err != nil {
		o.terminate(ev.ClientID, nil, &ValidationError{Cause: ev.Err})
		return
	}
	o.terminateWithLevel(ev.ClientID, ev.Msg, nil, ev.Level)
}

// terminate delivers a result with SecurityLevel UNCHECKED (the normal
// case for non-DNSSEC queries).
func (o *Orchestrator) terminate(clientID ClientID, msg *dns.Msg, err error) {
	o.terminateWithLevel(clientID, msg, err, dnssec.UNCHECKED)
}

// terminateWithLevel is the sole path by which a client query leaves the
// table with a result on its sink (invariant I3: exactly one terminal
// event). The sink is buffered to one slot, so this never blocks.
func (o *Orchestrator) terminateWithLevel(clientID ClientID, msg *dns.Msg, err error, level dnssec.SecurityLevel) {
	cq, ok := o.table.Get(clientID)
	if !ok {
		return
	}
	o.table.MarkDone(clientID)
	o.table.Remove(clientID)

	select {
	case cq.Sink <- Result{ClientID: clientID, Msg: msg, Err: err, SecurityLevel: level}:
	default:
		Log.WithField("client_id", clientID).Error("terminal sink already held a result, dropping")
	}
}

// shutdown implements spec.md §4.7: every still-tracked client gets a
// single ResolverClosed error, then the table is emptied.
func (o *Orchestrator) shutdown() {
	for _, cq := range o.table.All() {
		o.terminate(cq.ClientID, nil, &ResolverClosedError{})
	}
}
