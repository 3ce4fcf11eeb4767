package resolve

import (
	"encoding/binary"
	"sync"

	"github.com/miekg/dns"
)

// dedupKey identifies queries that should share a single in-flight
// dispatch: same name, type, and EDNS0 Client Subnet (if present).
// Grounded verbatim on teacher's request-dedup.go dedupKey, including
// its address-folding helpers.
type dedupKey struct {
	name      string
	qtype     uint16
	ecsIPv4   uint32
	ecsIPv6Hi uint64
	ecsIPv6Lo uint64
	ecsMask   uint8
}

type dedupWaiter struct {
	clientID ClientID
	sink     ResultChan
}

type dedupEntry struct {
	waiters []dedupWaiter
}

// RequestDedup smooths out spikes of identical concurrent queries by
// dispatching only the first ("primary") one and fanning its terminal
// result out to every other client_id that asked for the same key while
// it was in flight. Grounded on teacher's request-dedup.go, reworked
// from a synchronous blocking Resolve call (callers parked on a channel
// until the single in-flight request finished) into registering
// followers against the async orchestrator's own per-client sinks,
// since nothing here may block a caller.
type RequestDedup struct {
	mu       sync.Mutex
	inflight map[dedupKey]*dedupEntry
}

func NewRequestDedup() *RequestDedup {
	return &RequestDedup{inflight: make(map[dedupKey]*dedupEntry)}
}

func dedupKeyFor(q *dns.Msg) dedupKey {
	k := dedupKey{name: qName(q), qtype: qTypeCode(q)}
	edns0 := q.IsEdns0()
	if edns0 == nil {
		return k
	}
	for _, opt := range edns0.Option {
		ecs, ok := opt.(*dns.EDNS0_SUBNET)
		if !ok {
			continue
		}
		switch ecs.Family {
		case 1:
			k.ecsIPv4 = bytesToUint32(ecs.Address.To4())
			k.ecsMask = ecs.SourceNetmask
		case 2:
			k.ecsIPv6Hi, k.ecsIPv6Lo = bytesToUint128(ecs.Address.To16())
			k.ecsMask = ecs.SourceNetmask
		}
		break
	}
	return k
}

func qTypeCode(q *dns.Msg) uint16 {
	if len(q.Question) == 0 {
		return 0
	}
	return q.Question[0].Qtype
}

// Join registers (clientID, sink) as wanting the answer to q. If no
// identical query is already in flight, Join returns primary=true: the
// caller must dispatch normally and call Complete once it terminates.
// Otherwise Join returns primary=false and records sink as a follower
// that Complete will deliver to once the primary finishes; the caller
// must not touch the Query Table at all in that case.
func (d *RequestDedup) Join(q *dns.Msg, clientID ClientID, sink ResultChan) (primary bool, key dedupKey) {
	if len(q.Question) == 0 {
		return true, dedupKey{}
	}
	key = dedupKeyFor(q)
	d.mu.Lock()
	defer d.mu.Unlock()
	if entry, exists := d.inflight[key]; exists {
		entry.waiters = append(entry.waiters, dedupWaiter{clientID: clientID, sink: sink})
		return false, key
	}
	d.inflight[key] = &dedupEntry{}
	return true, key
}

// Complete delivers result, re-addressed to each follower's own
// client_id, to every sink that joined key while the primary query was
// in flight, then forgets the key.
func (d *RequestDedup) Complete(key dedupKey, result Result) {
	d.mu.Lock()
	entry, ok := d.inflight[key]
	delete(d.inflight, key)
	d.mu.Unlock()
	if !ok {
		return
	}
	for _, w := range entry.waiters {
		r := result
		r.ClientID = w.clientID
		if r.Msg != nil {
			r.Msg = r.Msg.Copy()
		}
		select {
		case w.sink <- r:
		default:
		}
	}
}

func bytesToUint128(b []byte) (uint64, uint64) {
	if len(b) != 16 {
		return 0, 0
	}
	return binary.BigEndian.Uint64(b[0:8]), binary.BigEndian.Uint64(b[8:16])
}

func bytesToUint32(b []byte) uint32 {
	if len(b) != 4 {
		return 0
	}
	return binary.BigEndian.Uint32(b[0:4])
}
