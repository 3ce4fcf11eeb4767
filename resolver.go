package resolve

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
)

// Resolver is the public, stateful front-end of spec.md §4.6/§4.7:
// Query/SendMessage/SendAsync/Close over a shared Query Table, Server
// Ranking, and Orchestrator tick loop. Grounded on teacher's Resolver
// interface (resolver.go), generalized from a single-shot synchronous
// `Resolve(msg) (msg, error)` call into the stateful async front-end the
// orchestrator requires, and on dnsclient.go's DNSClient.Resolve for the
// shape of the synchronous wrapper.
type Resolver struct {
	opts ResolverOptions

	table        *QueryTable
	ranking      *ServerRanking
	orchestrator *Orchestrator

	dedup   *RequestDedup
	limiter *RateLimiter

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewResolver builds a Resolver over the given transports (in priority
// order) and starts its orchestrator tick loop. Transports are
// configured with opts immediately; Reconfigure configures the
// transports it is given the same way.
func NewResolver(transports []SingleTransport, opts ResolverOptions) (*Resolver, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.DNSSEC && opts.Validator == nil {
		return nil, &ArgumentError{Msg: "dnssec enabled but no Validator configured"}
	}
	if len(transports) == 0 {
		return nil, &ArgumentError{Msg: "at least one server is required"}
	}

	cfg := opts.transportConfig()
	for _, t := range transports {
		t.Configure(cfg)
	}

	r := &Resolver{
		opts:    opts,
		table:   NewQueryTable(),
		ranking: NewServerRanking(transports...),
		dedup:   nil,
	}
	if opts.Dedup {
		r.dedup = NewRequestDedup()
	}
	if opts.RateLimit != nil {
		r.limiter = NewRateLimiter(*opts.RateLimit)
	}
	r.orchestrator = NewOrchestrator(r.table, r.ranking, opts.Validator, opts.Clock, opts.TickInterval)
	r.orchestrator.Start()
	return r, nil
}

// Reconfigure replaces the ranking list with servers (spec.md
// `nameserver` option) and pushes the current options to every
// transport in the new list. Transports that are not in servers are
// left untouched.
func (r *Resolver) Reconfigure(servers []SingleTransport) {
	cfg := r.opts.transportConfig()
	for _, t := range servers {
		t.Configure(cfg)
	}
	r.ranking.Set(servers)
}

// Query builds a Message with RD taken from ResolverOptions.Recurse (and,
// if DNSSEC is enabled, CD set to setCD or to the DNSSEC flag by default)
// and defers to SendMessage (spec.md §4.6).
func (r *Resolver) Query(name string, qtype uint16, qclass uint16, setCD ...bool) (*dns.Msg, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.Question[0].Qclass = qclass
	msg.RecursionDesired = r.opts.Recurse

	if r.opts.DNSSEC {
		cd := true
		if len(setCD) > 0 {
			cd = setCD[0]
		}
		msg.CheckingDisabled = cd
		msg.SetEdns0(r.opts.UDPSize, true)
	}
	return r.SendMessage(msg)
}

// SendMessage awaits a single result from its own sink, raising the
// error if present (spec.md §4.6).
func (r *Resolver) SendMessage(msg *dns.Msg) (*dns.Msg, error) {
	sink := NewResultChan()
	r.SendAsync(msg, sink)
	result := <-sink
	if result.Err != nil {
		return nil, result.Err
	}
	return result.Msg, nil
}

// SendAsync inserts msg into the Query Table and returns its client_id
// immediately; the result arrives later on sink (spec.md §4.6). On a bad
// argument, a single error tuple is pushed to sink synchronously instead.
func (r *Resolver) SendAsync(msg *dns.Msg, sink ResultChan, clientID ...ClientID) ClientID {
	return r.sendAsync(msg, sink, false, clientID...)
}

// SendAsyncTCP is SendAsync with TCP forced for this one query,
// replacing spec.md's omitted fourth `use_tcp` argument to send_async
// (spec.md §9 Design Notes).
func (r *Resolver) SendAsyncTCP(msg *dns.Msg, sink ResultChan, clientID ...ClientID) ClientID {
	return r.sendAsync(msg, sink, true, clientID...)
}

func (r *Resolver) sendAsync(msg *dns.Msg, sink ResultChan, forceTCP bool, clientID ...ClientID) ClientID {
	id := newClientID(clientID...)

	if r.closed.Load() {
		deliver(sink, Result{ClientID: id, Err: &ResolverClosedError{}})
		return id
	}
	if msg == nil || len(msg.Question) == 0 {
		deliver(sink, Result{ClientID: id, Err: &ArgumentError{Msg: "message has no question"}})
		return id
	}
	if r.limiter != nil && !r.limiter.Allow(nil) {
		deliver(sink, Result{ClientID: id, Err: &ArgumentError{Msg: "rate limit exceeded"}})
		return id
	}

	if r.dedup != nil {
		primary, key := r.dedup.Join(msg, id, sink)
		if !primary {
			return id
		}
		relay := NewResultChan()
		go func() {
			result := <-relay
			r.dedup.Complete(key, result)
			deliver(sink, result)
		}()
		sink = relay
	}

	wasEmpty := r.table.Len() == 0
	err := r.table.Insert(id, msg, sink, r.ranking.Snapshot(), r.opts.RetryTimes, r.opts.RetryDelay,
		r.opts.QueryTimeout, r.opts.DNSSEC, forceTCP, r.opts.Clock.Now())
	if err != nil {
		if err == ErrDuplicateFireTime {
			deliver(sink, Result{ClientID: id, Err: &InternalError{Msg: err.Error()}})
			return id
		}
		deliver(sink, Result{ClientID: id, Err: &ArgumentError{Msg: err.Error()}})
		return id
	}
	if wasEmpty {
		r.orchestrator.Wake()
	}
	return id
}

// Close implements spec.md §4.7: every live client query receives a
// single ResolverClosed error, then the orchestrator's goroutine exits.
// Safe to call more than once.
func (r *Resolver) Close() error {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		r.orchestrator.Stop()
	})
	return nil
}

func (r *Resolver) String() string {
	return fmt.Sprintf("Resolver(%d servers)", len(r.ranking.Snapshot()))
}

// newClientID generates a client_id if none was supplied, grounded on
// spec.md §4.6's "now + small_random_int" scheme.
func newClientID(clientID ...ClientID) ClientID {
	if len(clientID) > 0 && clientID[0] != "" {
		return clientID[0]
	}
	return ClientID(fmt.Sprintf("%d-%d", time.Now().UnixNano(), rand.Intn(1<<20)))
}

// deliver writes result to sink without blocking; sink is always
// buffered to at least one slot, so this only ever hits default on a
// genuine double-delivery bug.
func deliver(sink ResultChan, result Result) {
	select {
	case sink <- result:
	default:
	}
}
