package resolve

import (
	"math/rand"
	"strconv"

	"github.com/miekg/dns"
)

// qName returns the query name from a DNS query, grounded on teacher's
// message.go helper of the same name.
func qName(q *dns.Msg) string {
	if q == nil || len(q.Question) == 0 {
		return ""
	}
	return q.Question[0].Name
}

// qType returns the string representation of the query type.
func qType(q *dns.Msg) string {
	if q == nil || len(q.Question) == 0 {
		return ""
	}
	return dns.TypeToString[q.Question[0].Qtype]
}

// rCode returns the result code name from a DNS response.
func rCode(r *dns.Msg) string {
	if r == nil {
		return ""
	}
	if result, ok := dns.RcodeToString[r.Rcode]; ok {
		return result
	}
	return strconv.Itoa(r.Rcode)
}

// cloneForAttempt returns a copy of req with a fresh random 16-bit
// transaction id, as required for every sub-query dispatch (spec.md
// Data Model: "a fresh transaction id is assigned per sub-query").
func cloneForAttempt(req *dns.Msg) *dns.Msg {
	clone := req.Copy()
	clone.Id = uint16(rand.Intn(1 << 16))
	return clone
}

// setUDPSize changes the UDP size in the EDNS0 record and returns a copy
// of the query, adding an OPT record if there isn't one already. If size
// is 0 the original query is returned unmodified. Grounded on teacher's
// message.go helper of the same name.
func setUDPSize(q *dns.Msg, size uint16) *dns.Msg {
	if size == 0 {
		return q
	}
	clone := q.Copy()
	if edns0 := clone.IsEdns0(); edns0 != nil {
		edns0.SetUDPSize(size)
	} else {
		clone.SetEdns0(size, false)
	}
	return clone
}
