package resolve

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerWheelPopDueReturnsInFireOrder(t *testing.T) {
	w := newTimerWheel()
	base := time.Unix(0, 0)
	s1 := &fakeTransport{name: "s1"}
	s2 := &fakeTransport{name: "s2"}
	s3 := &fakeTransport{name: "s3"}

	// Scheduled out of order on purpose.
	w.schedule(base.Add(3*time.Second), "c1", s3, 0)
	w.schedule(base.Add(1*time.Second), "c1", s1, 0)
	w.schedule(base.Add(2*time.Second), "c1", s2, 0)

	due := w.popDue(base.Add(2 * time.Second))
	require.Len(t, due, 2)
	require.Equal(t, s1, due[0].transport)
	require.Equal(t, s2, due[1].transport)

	require.Equal(t, 1, w.Len())
	next, ok := w.nextFire()
	require.True(t, ok)
	require.Equal(t, base.Add(3*time.Second), next)
}

func TestTimerWheelNextFireEmpty(t *testing.T) {
	w := newTimerWheel()
	_, ok := w.nextFire()
	require.False(t, ok)
}

func TestTimerWheelPopDueNothingDue(t *testing.T) {
	w := newTimerWheel()
	base := time.Unix(0, 0)
	w.schedule(base.Add(time.Minute), "c1", &fakeTransport{name: "s1"}, 0)

	due := w.popDue(base)
	require.Empty(t, due)
	require.Equal(t, 1, w.Len())
}

func TestTimerWheelPopDueIsIdempotentlyConsuming(t *testing.T) {
	w := newTimerWheel()
	base := time.Unix(0, 0)
	w.schedule(base, "c1", &fakeTransport{name: "s1"}, 0)

	first := w.popDue(base)
	require.Len(t, first, 1)

	second := w.popDue(base)
	require.Empty(t, second, "an already-popped entry must not fire twice")
}
