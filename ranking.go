package resolve

import "sync"

// ServerRanking is the ordered list of upstream transports the planner
// draws its schedule from. Ordering changes persist across client
// queries (learned behavior), exactly like teacher's FailBack/Random/
// FailRotate groups but shared across every in-flight query instead of
// being local to one synchronous call chain.
type ServerRanking struct {
	mu      sync.Mutex
	servers []SingleTransport
}

// NewServerRanking returns a ranking seeded with servers in the given
// (initial priority) order.
func NewServerRanking(servers ...SingleTransport) *ServerRanking {
	cp := make([]SingleTransport, len(servers))
	copy(cp, servers)
	return &ServerRanking{servers: cp}
}

// Snapshot returns the current ranking order. The returned slice is a
// copy and safe to use for planning without holding the lock.
func (r *ServerRanking) Snapshot() []SingleTransport {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]SingleTransport, len(r.servers))
	copy(cp, r.servers)
	return cp
}

// Set replaces the ranking wholesale, e.g. when the nameserver option is
// reconfigured.
func (r *ServerRanking) Set(servers []SingleTransport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers = append([]SingleTransport(nil), servers...)
}

// Promote moves s one position toward the front of the ranking. Called
// on a clean RECEIVED success (spec.md §4.5).
func (r *ServerRanking) Promote(s SingleTransport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOf(s)
	if i <= 0 {
		return
	}
	r.servers[i-1], r.servers[i] = r.servers[i], r.servers[i-1]
}

// Demote moves s one position toward the back. Called on a timeout.
func (r *ServerRanking) Demote(s SingleTransport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOf(s)
	if i < 0 || i >= len(r.servers)-1 {
		return
	}
	r.servers[i], r.servers[i+1] = r.servers[i+1], r.servers[i]
}

// SinkToBottom moves s to the very end of the ranking. Called on any
// non-timeout, non-resource-exhausted error.
func (r *ServerRanking) SinkToBottom(s SingleTransport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOf(s)
	if i < 0 || i == len(r.servers)-1 {
		return
	}
	r.servers = append(r.servers[:i], append(r.servers[i+1:], s)...)
}

func (r *ServerRanking) indexOf(s SingleTransport) int {
	for i, srv := range r.servers {
		if srv == s {
			return i
		}
	}
	return -1
}
