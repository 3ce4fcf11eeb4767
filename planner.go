package resolve

import (
	"errors"
	"time"
)

// ErrDuplicateFireTime is returned by Plan when two schedule entries would
// land on the same absolute time. Per the source design, this is treated
// as a fatal misconfiguration (retry_delay much smaller than the
// per-server stagger) rather than silently overwritten.
var ErrDuplicateFireTime = errors.New("resolve: schedule planner produced duplicate fire time")

// Fire is one planned dispatch: send to Server for the given attempt
// (round index, 0-based) at the absolute time At.
type Fire struct {
	At      time.Time
	Server  SingleTransport
	Attempt int
}

// Plan turns a server list, retry count and retry delay into a set of
// absolute fire times, one per (server, attempt) pair.
//
// Round 0 spreads the first attempt across all servers within one
// nominal retry delay: server i fires at base + i*(D/n). Round k >= 1
// doubles the round delay (d_k = D*2^k) and keeps the same per-server
// stagger within the round.
//
// Plan is pure: no I/O, no mutation of its inputs, deterministic given
// its inputs. It has no direct analog in the teacher repo, whose
// resolver groups retry synchronously one server at a time; it is
// written directly from the formulas above.
func Plan(servers []SingleTransport, retryTimes int, retryDelay time.Duration, base time.Time) ([]Fire, error) {
	n := len(servers)
	if n == 0 || retryTimes <= 0 {
		return nil, nil
	}

	stagger := retryDelay / time.Duration(n)
	seen := make(map[time.Time]struct{}, n*retryTimes)
	fires := make([]Fire, 0, n*retryTimes)

	for k := 0; k < retryTimes; k++ {
		var roundOffset time.Duration
		if k > 0 {
			roundOffset = retryDelay * time.Duration(uint64(1)<<uint(k))
		}
		for i, server := range servers {
			at := base.Add(roundOffset + time.Duration(i)*stagger)
			if _, dup := seen[at]; dup {
				return nil, ErrDuplicateFireTime
			}
			seen[at] = struct{}{}
			fires = append(fires, Fire{At: at, Server: server, Attempt: k})
		}
	}
	return fires, nil
}
