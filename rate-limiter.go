package resolve

import (
	"expvar"
	"net"
	"sync"
	"time"
)

// RateLimiterOptions configures the optional per-source-network rate
// limit a Resolver can apply ahead of accepting a new client query
// (spec.md is silent on this; supplemented from teacher's
// rate-limiter.go, generalized from a chained Resolver into a pre-filter
// in front of SendAsync). SendAsync carries no source address and calls
// Allow with a nil source, so under a Resolver every query shares one
// global bucket and the prefixes have no effect.
type RateLimiterOptions struct {
	Requests uint // requests allowed per Window; 0 disables the limiter
	Window   time.Duration
	Prefix4  uint8 // netmask identifying an IPv4 client network
	Prefix6  uint8 // netmask identifying an IPv6 client network
}

// RateLimiter counts SendAsync arrivals per source network per fixed
// window and rejects once the window's budget is spent. Grounded on
// teacher's rate-limiter.go fixed-window counter map, generalized from
// a chained Resolver.Resolve call to a standalone check callable by
// resolver.go before a client query ever reaches the Query Table.
type RateLimiter struct {
	opt RateLimiterOptions

	mu        sync.Mutex
	currWinID int64
	counters  map[string]uint

	query  *expvar.Int
	exceed *expvar.Int
}

// NewRateLimiter returns a limiter for the given options, defaulting an
// unset window to one minute and unset prefixes to /24 and /56.
func NewRateLimiter(opt RateLimiterOptions) *RateLimiter {
	if opt.Window == 0 {
		opt.Window = time.Minute
	}
	if opt.Prefix4 == 0 {
		opt.Prefix4 = 24
	}
	if opt.Prefix6 == 0 {
		opt.Prefix6 = 56
	}
	return &RateLimiter{
		opt:      opt,
		counters: make(map[string]uint),
		query:    getVarInt("resolver", "ratelimit", "query"),
		exceed:   getVarInt("resolver", "ratelimit", "exceed"),
	}
}

// Allow reports whether a query from source may proceed. A nil source
// (no caller-supplied network identity) always shares a single global
// bucket.
func (r *RateLimiter) Allow(source net.IP) bool {
	if r.opt.Requests == 0 {
		return true
	}
	r.query.Add(1)

	key := r.key(source)
	windowID := time.Now().Unix() / int64(r.opt.Window/time.Second)

	r.mu.Lock()
	defer r.mu.Unlock()

	if windowID != r.currWinID {
		r.currWinID = windowID
		r.counters = make(map[string]uint)
	}
	if r.counters[key] >= r.opt.Requests {
		r.exceed.Add(1)
		return false
	}
	r.counters[key]++
	return true
}

func (r *RateLimiter) key(source net.IP) string {
	if source == nil {
		return ""
	}
	if ip4 := source.To4(); ip4 != nil {
		return ip4.Mask(net.CIDRMask(int(r.opt.Prefix4), 32)).String()
	}
	return source.Mask(net.CIDRMask(int(r.opt.Prefix6), 128)).String()
}
