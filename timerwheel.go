package resolve

import (
	"container/heap"
	"time"
)

// fireEntry is one scheduled sub-query dispatch, owned by the timer wheel
// until its fire time is reached or its client is cancelled.
type fireEntry struct {
	at        time.Time
	clientID  ClientID
	transport SingleTransport
	attempt   int
	index     int // heap bookkeeping
}

// timerWheel is an ordered set of scheduled wake-ups, implemented as a
// min-heap on fire time. Teacher code never needed this (each resolver
// group acts synchronously, one call at a time); this is the stdlib
// container/heap idiom used elsewhere in the pack for deadline
// bookkeeping (e.g. teacher's lru-cache.go keeps an ordered structure of
// its own over entries), generalized to fire times here.
type timerWheel struct {
	entries []*fireEntry
}

func newTimerWheel() *timerWheel {
	w := &timerWheel{}
	heap.Init(w)
	return w
}

func (w *timerWheel) Len() int { return len(w.entries) }

func (w *timerWheel) Less(i, j int) bool { return w.entries[i].at.Before(w.entries[j].at) }

func (w *timerWheel) Swap(i, j int) {
	w.entries[i], w.entries[j] = w.entries[j], w.entries[i]
	w.entries[i].index = i
	w.entries[j].index = j
}

func (w *timerWheel) Push(x any) {
	e := x.(*fireEntry)
	e.index = len(w.entries)
	w.entries = append(w.entries, e)
}

func (w *timerWheel) Pop() any {
	old := w.entries
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	w.entries = old[:n-1]
	return e
}

// schedule adds a fire entry for clientID.
func (w *timerWheel) schedule(at time.Time, clientID ClientID, transport SingleTransport, attempt int) {
	heap.Push(w, &fireEntry{at: at, clientID: clientID, transport: transport, attempt: attempt})
}

// popDue removes and returns every entry whose fire time is <= now.
func (w *timerWheel) popDue(now time.Time) []*fireEntry {
	var due []*fireEntry
	for w.Len() > 0 && !w.entries[0].at.After(now) {
		due = append(due, heap.Pop(w).(*fireEntry))
	}
	return due
}

// nextFire returns the earliest scheduled fire time, if any.
func (w *timerWheel) nextFire() (time.Time, bool) {
	if w.Len() == 0 {
		return time.Time{}, false
	}
	return w.entries[0].at, true
}
