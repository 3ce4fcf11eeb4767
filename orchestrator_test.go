package resolve

import (
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/dnscore/orchestrator/dnssec"
)

// fakeTransport is this module's stand-in for teacher's TestResolver
// (resolver_test.go): a SingleTransport whose SendAsync is a plug-in
// function instead of a real socket, letting tests drive RECEIVED/ERROR
// events deterministically without a network.
type fakeTransport struct {
	name string
	fn   func(request *dns.Msg, sub *SubQuery) Event
	fail bool
}

func (f *fakeTransport) Server() string             { return f.name }
func (f *fakeTransport) Configure(TransportConfig)  {}
func (f *fakeTransport) Close() error               { return nil }
func (f *fakeTransport) SendAsync(request *dns.Msg, bus EventBus, sub *SubQuery) {
	if f.fn == nil {
		return
	}
	ev := f.fn(request, sub)
	ev.ClientID = sub.ClientID
	ev.Sub = sub
	bus <- ev
}

// fakeValidator is a Validator stub returning a fixed SecurityLevel/error,
// grounded the same way teacher's TestResolver stubs Resolver.
type fakeValidator struct {
	level dnssec.SecurityLevel
	err   error
}

func (f fakeValidator) ValidateLevel(*dns.Msg) (dnssec.SecurityLevel, error) {
	return f.level, f.err
}

func queryMsg() *dns.Msg {
	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	return q
}

func newTestOrchestrator(validator Validator) (*Orchestrator, *QueryTable, *ServerRanking, *FakeClock) {
	table := NewQueryTable()
	ranking := NewServerRanking()
	clock := NewFakeClock(time.Unix(1_700_000_000, 0))
	o := NewOrchestrator(table, ranking, validator, clock, time.Hour)
	return o, table, ranking, clock
}

func TestOrchestratorSingleServerSuccess(t *testing.T) {
	o, table, ranking, clock := newTestOrchestrator(nil)

	resp := new(dns.Msg)
	resp.SetQuestion("example.com.", dns.TypeA)

	server := &fakeTransport{name: "udp1", fn: func(request *dns.Msg, sub *SubQuery) Event {
		return Event{Kind: EventReceived, Msg: resp}
	}}
	ranking.Set([]SingleTransport{server})

	sink := NewResultChan()
	err := table.Insert("c1", queryMsg(), sink, ranking.Snapshot(), 4, 5*time.Second, 0, false, false, clock.Now())
	require.NoError(t, err)

	o.tick()

	select {
	case result := <-sink:
		require.NoError(t, result.Err)
		require.Same(t, resp, result.Msg)
		require.Equal(t, dnssec.UNCHECKED, result.SecurityLevel)
	default:
		t.Fatal("expected a terminal result after one tick")
	}
	require.Zero(t, table.Len())
}

func TestOrchestratorTwoServerRace(t *testing.T) {
	o, table, ranking, clock := newTestOrchestrator(nil)

	resp := new(dns.Msg)
	resp.SetQuestion("example.com.", dns.TypeA)

	var firstAttempted, secondAttempted bool
	first := &fakeTransport{name: "first", fn: func(request *dns.Msg, sub *SubQuery) Event {
		firstAttempted = true
		return Event{Kind: EventError, Err: &TimeoutError{Server: "first"}}
	}}
	second := &fakeTransport{name: "second", fn: func(request *dns.Msg, sub *SubQuery) Event {
		secondAttempted = true
		return Event{Kind: EventReceived, Msg: resp}
	}}
	ranking.Set([]SingleTransport{first, second})

	sink := NewResultChan()
	// retryDelay=2s, 2 servers -> round-0 stagger is 1s apart.
	err := table.Insert("c1", queryMsg(), sink, ranking.Snapshot(), 4, 2*time.Second, 0, false, false, clock.Now())
	require.NoError(t, err)

	o.tick() // dispatches "first" only; "second" isn't due for another second
	require.True(t, firstAttempted)
	require.False(t, secondAttempted)
	select {
	case <-sink:
		t.Fatal("query must not terminate while 'second' is still scheduled")
	default:
	}

	clock.Advance(time.Second)
	o.tick() // dispatches "second", which succeeds

	select {
	case result := <-sink:
		require.NoError(t, result.Err)
		require.Same(t, resp, result.Msg)
	default:
		t.Fatal("expected a terminal result once 'second' answers")
	}

	// The failed server is demoted below the one that answered.
	ranked := ranking.Snapshot()
	require.Equal(t, []SingleTransport{second, first}, ranked)
}

func TestOrchestratorNXDomainShortCircuits(t *testing.T) {
	o, table, ranking, clock := newTestOrchestrator(nil)

	var secondAttempted bool
	first := &fakeTransport{name: "first", fn: func(request *dns.Msg, sub *SubQuery) Event {
		return Event{Kind: EventError, Err: &NXDomainError{Query: request}}
	}}
	second := &fakeTransport{name: "second", fn: func(request *dns.Msg, sub *SubQuery) Event {
		secondAttempted = true
		return Event{Kind: EventReceived, Msg: request}
	}}
	ranking.Set([]SingleTransport{first, second})

	sink := NewResultChan()
	err := table.Insert("c1", queryMsg(), sink, ranking.Snapshot(), 4, 10*time.Second, 0, false, false, clock.Now())
	require.NoError(t, err)

	o.tick()

	select {
	case result := <-sink:
		require.Error(t, result.Err)
		require.ErrorAs(t, result.Err, new(*NXDomainError))
	default:
		t.Fatal("NXDOMAIN must terminate the query immediately, without waiting for 'second'")
	}
	require.False(t, secondAttempted)
	require.Zero(t, table.Len())
}

func TestOrchestratorClientTimeoutOverridesRetries(t *testing.T) {
	o, table, ranking, clock := newTestOrchestrator(nil)

	// A server that never answers within this test's lifetime.
	server := &fakeTransport{name: "slow"}
	ranking.Set([]SingleTransport{server})

	sink := NewResultChan()
	// query_timeout is far shorter than the retry schedule would need.
	err := table.Insert("c1", queryMsg(), sink, ranking.Snapshot(), 10, time.Minute, 500*time.Millisecond, false, false, clock.Now())
	require.NoError(t, err)

	clock.Advance(time.Second)
	o.tick()

	select {
	case result := <-sink:
		require.Error(t, result.Err)
		require.ErrorAs(t, result.Err, new(*ClientTimeoutError))
	default:
		t.Fatal("expected ClientTimeoutError once the hard deadline passed")
	}
}

func TestOrchestratorShutdownCancelsAll(t *testing.T) {
	o, table, ranking, clock := newTestOrchestrator(nil)
	server := &fakeTransport{name: "udp1"}
	ranking.Set([]SingleTransport{server})

	sinkA := NewResultChan()
	sinkB := NewResultChan()
	require.NoError(t, table.Insert("a", queryMsg(), sinkA, ranking.Snapshot(), 4, time.Second, 0, false, false, clock.Now()))
	require.NoError(t, table.Insert("b", queryMsg(), sinkB, ranking.Snapshot(), 4, time.Second, 0, false, false, clock.Now()))
	require.Equal(t, 2, table.Len())

	o.shutdown()

	for _, sink := range []ResultChan{sinkA, sinkB} {
		select {
		case result := <-sink:
			require.ErrorAs(t, result.Err, new(*ResolverClosedError))
		default:
			t.Fatal("expected a ResolverClosedError on shutdown")
		}
	}
}

func TestOrchestratorValidationHandoff(t *testing.T) {
	o, table, ranking, clock := newTestOrchestrator(fakeValidator{level: dnssec.SECURE})

	resp := new(dns.Msg)
	resp.SetQuestion("example.com.", dns.TypeA)

	server := &fakeTransport{name: "udp1", fn: func(request *dns.Msg, sub *SubQuery) Event {
		return Event{Kind: EventReceived, Msg: resp}
	}}
	ranking.Set([]SingleTransport{server})

	sink := NewResultChan()
	err := table.Insert("c1", queryMsg(), sink, ranking.Snapshot(), 1, time.Second, 0, true, false, clock.Now())
	require.NoError(t, err)

	o.tick() // dispatch + receive, then hand off to the validator goroutine

	require.Eventually(t, func() bool {
		select {
		case result := <-sink:
			require.NoError(t, result.Err)
			require.Equal(t, dnssec.SECURE, result.SecurityLevel)
			return true
		default:
			o.tick() // drain the EventValidated once the goroutine posts it
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestOrchestratorValidationFailureIsTerminal(t *testing.T) {
	wantErr := ErrNoSignatureStub{}
	o, table, ranking, clock := newTestOrchestrator(fakeValidator{level: dnssec.BOGUS, err: wantErr})

	resp := new(dns.Msg)
	resp.SetQuestion("example.com.", dns.TypeA)

	server := &fakeTransport{name: "udp1", fn: func(request *dns.Msg, sub *SubQuery) Event {
		return Event{Kind: EventReceived, Msg: resp}
	}}
	ranking.Set([]SingleTransport{server})

	sink := NewResultChan()
	err := table.Insert("c1", queryMsg(), sink, ranking.Snapshot(), 1, time.Second, 0, true, false, clock.Now())
	require.NoError(t, err)

	o.tick()

	require.Eventually(t, func() bool {
		select {
		case result := <-sink:
			require.ErrorAs(t, result.Err, new(*ValidationError))
			return true
		default:
			o.tick()
			return false
		}
	}, time.Second, time.Millisecond)
}

// ErrNoSignatureStub is a minimal error value used only to exercise the
// validator-failure path above without depending on dnssec's own error
// sentinels.
type ErrNoSignatureStub struct{}

func (ErrNoSignatureStub) Error() string { return "stub: no signature" }
