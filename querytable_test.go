package resolve

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueryTableInsertRejectsDuplicateClientID(t *testing.T) {
	table := NewQueryTable()
	s1 := &fakeTransport{name: "s1"}
	now := time.Unix(0, 0)

	require.NoError(t, table.Insert("c1", queryMsg(), NewResultChan(), []SingleTransport{s1}, 1, time.Second, 0, false, false, now))
	err := table.Insert("c1", queryMsg(), NewResultChan(), []SingleTransport{s1}, 1, time.Second, 0, false, false, now)
	require.ErrorIs(t, err, ErrDuplicateClientID)
}

func TestQueryTableDueTimeoutsOnlyFiresOnceDeadlinePasses(t *testing.T) {
	table := NewQueryTable()
	s1 := &fakeTransport{name: "s1"}
	now := time.Unix(1000, 0)

	require.NoError(t, table.Insert("c1", queryMsg(), NewResultChan(), []SingleTransport{s1}, 1, time.Second, 5*time.Second, false, false, now))

	require.Empty(t, table.DueTimeouts(now.Add(4*time.Second)))
	require.Equal(t, []ClientID{"c1"}, table.DueTimeouts(now.Add(5*time.Second)))
}

func TestQueryTableDueTimeoutsIgnoresQueriesWithoutADeadline(t *testing.T) {
	table := NewQueryTable()
	s1 := &fakeTransport{name: "s1"}
	now := time.Unix(0, 0)

	require.NoError(t, table.Insert("c1", queryMsg(), NewResultChan(), []SingleTransport{s1}, 1, time.Second, 0, false, false, now))
	require.Empty(t, table.DueTimeouts(now.Add(time.Hour)))
}

func TestQueryTableOutstandingTracking(t *testing.T) {
	table := NewQueryTable()
	s1 := &fakeTransport{name: "s1"}
	now := time.Unix(0, 0)
	require.NoError(t, table.Insert("c1", queryMsg(), NewResultChan(), []SingleTransport{s1}, 1, time.Second, 0, false, false, now))

	sub := &SubQuery{Transport: s1, ClientID: "c1"}
	require.True(t, table.OutstandingEmpty("c1"))

	table.RecordOutstanding("c1", sub)
	require.False(t, table.OutstandingEmpty("c1"))

	require.True(t, table.ClearOutstanding("c1", sub))
	require.True(t, table.OutstandingEmpty("c1"))

	// Clearing an already-cleared sub-query reports false (guards the
	// orchestrator's InternalError check on a stale RECEIVED).
	require.False(t, table.ClearOutstanding("c1", sub))
}

func TestQueryTablePopDueSkipsDeadServers(t *testing.T) {
	table := NewQueryTable()
	s1 := &fakeTransport{name: "s1"}
	s2 := &fakeTransport{name: "s2"}
	now := time.Unix(0, 0)

	require.NoError(t, table.Insert("c1", queryMsg(), NewResultChan(), []SingleTransport{s1, s2}, 1, 2*time.Second, 0, false, false, now))
	table.DropServer("c1", s1)

	due := table.PopDue(now.Add(time.Second))
	require.Len(t, due, 1)
	require.Equal(t, s2, due[0].Transport)
}

func TestQueryTableHasMoreScheduledRespectsDeadServers(t *testing.T) {
	table := NewQueryTable()
	s1 := &fakeTransport{name: "s1"}
	now := time.Unix(0, 0)

	require.NoError(t, table.Insert("c1", queryMsg(), NewResultChan(), []SingleTransport{s1}, 3, time.Second, 0, false, false, now))
	require.True(t, table.HasMoreScheduled("c1", now))

	table.DropServer("c1", s1)
	require.False(t, table.HasMoreScheduled("c1", now))
}

func TestQueryTableMarkDoneThenRemove(t *testing.T) {
	table := NewQueryTable()
	s1 := &fakeTransport{name: "s1"}
	now := time.Unix(0, 0)
	require.NoError(t, table.Insert("c1", queryMsg(), NewResultChan(), []SingleTransport{s1}, 1, time.Second, 0, false, false, now))

	sub := &SubQuery{Transport: s1, ClientID: "c1"}
	table.RecordOutstanding("c1", sub)

	table.MarkDone("c1")
	cq, ok := table.Get("c1")
	require.True(t, ok)
	require.Equal(t, StateDone, cq.State)
	require.Empty(t, cq.Outstanding)

	table.Remove("c1")
	_, ok = table.Get("c1")
	require.False(t, ok)
}

func TestQueryTableStopSchedulingOnlyAffectsOpenQueries(t *testing.T) {
	table := NewQueryTable()
	s1 := &fakeTransport{name: "s1"}
	now := time.Unix(0, 0)
	require.NoError(t, table.Insert("c1", queryMsg(), NewResultChan(), []SingleTransport{s1}, 1, time.Second, 0, false, false, now))

	table.StopScheduling("c1")
	cq, _ := table.Get("c1")
	require.Equal(t, StateStoppedWaitingValidation, cq.State)

	table.MarkDone("c1")
	table.StopScheduling("c1") // already Done: must not resurrect to StoppedWaitingValidation
	cq, _ = table.Get("c1")
	require.Equal(t, StateDone, cq.State)
}
