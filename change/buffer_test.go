package change

import (
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.gazette.dev/dbqueue/metrics"
	"go.gazette.dev/dbqueue/row"
)

func TestRoundTripDeliversInOrderOnCommit(t *testing.T) {
	var reg Registry
	var buf = NewBuffer("round-trip", &reg)
	var obs = new(recorder)
	reg.Add(Strong(obs), nil)

	buf.Begin()
	buf.RecordChange(Event{Kind: Insert, Database: "main", Table: "t", RowID: 1})
	buf.RecordChange(Event{Kind: Update, Database: "main", Table: "t", RowID: 1})
	buf.RecordChange(Event{Kind: Delete, Database: "main", Table: "t", RowID: 1})
	require.Empty(t, obs.events) // Nothing is delivered before commit.

	require.NoError(t, buf.WillCommit())
	require.Equal(t, Committing, buf.State())
	require.Equal(t, 3, buf.DidCommit())
	require.Equal(t, Idle, buf.State())

	require.Equal(t, []string{
		"insert main.t rowid=1 depth=0",
		"update main.t rowid=1 depth=0",
		"delete main.t rowid=1 depth=0",
	}, obs.strings())
	require.Equal(t, []string{"before-commit", "after-commit"}, obs.hooks)
	require.Equal(t, 1.0, testutil.ToFloat64(
		metrics.ChangeEventsTotal.WithLabelValues("round-trip", "update")))
	require.Equal(t, 1.0, testutil.ToFloat64(
		metrics.TransactionsTotal.WithLabelValues("round-trip", metrics.Commit)))
}

func TestRoundTripDeliversNothingOnRollback(t *testing.T) {
	var reg Registry
	var buf = NewBuffer("rollback", &reg)
	var obs = new(recorder)
	reg.Add(Strong(obs), All)

	buf.Begin()
	buf.RecordChange(Event{Kind: Insert, Table: "t", RowID: 1})
	buf.RecordChange(Event{Kind: Update, Table: "t", RowID: 1})
	buf.RecordChange(Event{Kind: Delete, Table: "t", RowID: 1})
	buf.DidRollback()

	require.Equal(t, Idle, buf.State())
	require.Empty(t, obs.events)
	require.Equal(t, []string{"after-rollback"}, obs.hooks)
	require.NoError(t, buf.TakeVeto())
}

func TestSavepointRollbackDiscardsOnlyItsScope(t *testing.T) {
	var reg Registry
	var buf = NewBuffer("savepoints", &reg)
	var obs = new(recorder)
	reg.Add(Strong(obs), nil)

	buf.Begin()
	buf.RecordChange(Event{Kind: Insert, Table: "A", RowID: 1})
	buf.Savepoint("sp")
	buf.RecordChange(Event{Kind: Insert, Table: "B", RowID: 1})
	buf.RecordChange(Event{Kind: Insert, Table: "C", RowID: 1})
	require.True(t, buf.RollbackTo("sp"))
	require.Equal(t, 1, buf.Depth()) // Savepoint remains open.
	buf.RecordChange(Event{Kind: Insert, Table: "D", RowID: 1})

	require.NoError(t, buf.WillCommit())
	require.Equal(t, 2, buf.DidCommit())
	require.Equal(t, []string{
		"insert .A rowid=1 depth=0",
		"insert .D rowid=1 depth=1",
	}, obs.strings())
}

func TestSavepointReleaseOfRepeatedNames(t *testing.T) {
	var reg Registry
	var buf = NewBuffer("repeated", &reg)
	var obs = new(recorder)
	reg.Add(Strong(obs), nil)

	buf.Begin()
	buf.Savepoint("sp1")
	buf.RecordChange(Event{Kind: Insert, Table: "X", RowID: 1})
	buf.Savepoint("sp1")
	buf.RecordChange(Event{Kind: Insert, Table: "Y", RowID: 1})
	require.Equal(t, 2, buf.Depth())

	require.True(t, buf.Release("SP1")) // Releases the inner savepoint.
	require.Equal(t, 1, buf.Depth())
	require.True(t, buf.Release("sp1"))
	require.Equal(t, 0, buf.Depth())
	require.False(t, buf.Release("sp1"))
	require.Equal(t, 2, buf.Len())

	require.NoError(t, buf.WillCommit())
	require.Equal(t, 2, buf.DidCommit())
	require.Equal(t, []string{
		"insert .X rowid=1 depth=1",
		"insert .Y rowid=1 depth=2",
	}, obs.strings())
}

func TestSavepointReleaseDownToNearestMatch(t *testing.T) {
	var reg Registry
	var buf = NewBuffer("nearest", &reg)
	reg.Add(Strong(new(recorder)), nil)

	buf.Begin()
	buf.Savepoint("a")
	buf.Savepoint("b")
	buf.Savepoint("a")
	buf.Savepoint("c")
	require.Equal(t, 4, buf.Depth())

	// Releases "c" and the inner "a".
	require.True(t, buf.Release("a"))
	require.Equal(t, 2, buf.Depth())

	buf.RecordChange(Event{Kind: Insert, Table: "t", RowID: 1})
	require.True(t, buf.RollbackTo("a")) // Pops "b".
	require.Equal(t, 1, buf.Depth())
	require.Equal(t, 0, buf.Len())
	require.False(t, buf.RollbackTo("b"))
}

func TestSoleSavepointActsAsTransaction(t *testing.T) {
	var reg Registry
	var buf = NewBuffer("sole", &reg)
	var obs = new(recorder)
	reg.Add(Strong(obs), nil)

	buf.Savepoint("outer")
	require.Equal(t, InTransaction, buf.State())
	require.Equal(t, 0, buf.Depth())
	buf.RecordChange(Event{Kind: Insert, Table: "t", RowID: 1})
	buf.Savepoint("inner")
	buf.RecordChange(Event{Kind: Insert, Table: "t", RowID: 2})
	require.True(t, buf.RollbackTo("outer"))
	require.Equal(t, 0, buf.Depth())
	require.Equal(t, 0, buf.Len())

	buf.RecordChange(Event{Kind: Insert, Table: "t", RowID: 3})
	require.True(t, buf.Release("outer"))
	require.Equal(t, 0, buf.Depth())

	// The engine's commit callback follows release of the outer savepoint.
	require.NoError(t, buf.WillCommit())
	require.Equal(t, 1, buf.DidCommit())
	require.Equal(t, []string{"insert .t rowid=3 depth=0"}, obs.strings())
}

func TestVetoDeliversNothingToAnyObserver(t *testing.T) {
	var reg Registry
	var buf = NewBuffer("veto", &reg)
	var (
		first  = new(recorder)
		vetoer = &recorder{veto: errors.New("not today")}
		last   = new(recorder)
	)
	reg.Add(Strong(first), nil)
	reg.Add(Strong(vetoer), nil)
	reg.Add(Strong(last), nil)

	buf.RecordChange(Event{Kind: Insert, Table: "t", RowID: 1})
	require.EqualError(t, buf.WillCommit(), "not today")
	require.Equal(t, RollingBack, buf.State())

	// The engine rolls back the vetoed transaction.
	buf.DidRollback()
	require.Equal(t, Idle, buf.State())
	require.Equal(t, vetoer.veto, buf.TakeVeto())
	require.NoError(t, buf.TakeVeto())

	for _, obs := range []*recorder{first, vetoer, last} {
		require.Empty(t, obs.events)
	}
	require.Equal(t, []string{"before-commit", "after-rollback"}, first.hooks)
	require.Equal(t, []string{"before-commit", "after-rollback"}, vetoer.hooks)
	// Observers after the vetoing one aren't consulted.
	require.Equal(t, []string{"after-rollback"}, last.hooks)

	require.Equal(t, 1.0, testutil.ToFloat64(
		metrics.TransactionsTotal.WithLabelValues("veto", metrics.Veto)))
}

func TestCommitFailureLeavesTransactionOpen(t *testing.T) {
	var reg Registry
	var buf = NewBuffer("busy", &reg)
	var obs = new(recorder)
	reg.Add(Strong(obs), nil)

	buf.Begin()
	buf.RecordChange(Event{Kind: Insert, Table: "t", RowID: 1})
	require.NoError(t, buf.WillCommit())
	buf.CommitFailed()
	require.Equal(t, InTransaction, buf.State())
	require.Equal(t, 1, buf.Len())

	require.NoError(t, buf.WillCommit())
	require.Equal(t, 1, buf.DidCommit())
}

func TestFailedReleaseRestoresSavepoints(t *testing.T) {
	var reg Registry
	var buf = NewBuffer("busy-release", &reg)
	var obs = new(recorder)
	reg.Add(Strong(obs), nil)

	buf.Savepoint("outer")
	buf.RecordChange(Event{Kind: Insert, Table: "t", RowID: 1})
	buf.Savepoint("inner")
	buf.RecordChange(Event{Kind: Insert, Table: "t", RowID: 2})

	// Releasing "outer" commits, but the commit is busy. The engine's
	// savepoints remain open.
	var saved = buf.Savepoints()
	require.True(t, buf.Release("outer"))
	require.NoError(t, buf.WillCommit())
	buf.CommitFailed()
	buf.RestoreSavepoints(saved)

	require.Equal(t, InTransaction, buf.State())
	require.Equal(t, 1, buf.Depth())

	// A later rollback to "outer" discards both changes.
	require.True(t, buf.RollbackTo("outer"))
	require.Equal(t, 0, buf.Len())
	require.Equal(t, 0, buf.Depth())

	buf.RecordChange(Event{Kind: Insert, Table: "t", RowID: 3})
	require.True(t, buf.Release("outer"))
	require.NoError(t, buf.WillCommit())
	require.Equal(t, 1, buf.DidCommit())
	require.Equal(t, []string{"insert .t rowid=3 depth=0"}, obs.strings())
}

func TestRestoreSavepointsOfIdleBufferIsNoop(t *testing.T) {
	var reg Registry
	var buf = NewBuffer("idle-restore", &reg)

	buf.Savepoint("sp")
	var saved = buf.Savepoints()
	buf.DidRollback()

	buf.RestoreSavepoints(saved)
	require.Equal(t, Idle, buf.State())
	require.Equal(t, 0, buf.Depth())
	require.False(t, buf.RollbackTo("sp"))
}

func TestDiscardSinceDropsFailedStatementChanges(t *testing.T) {
	var reg Registry
	var buf = NewBuffer("discard", &reg)
	var obs = new(recorder)
	reg.Add(Strong(obs), nil)

	buf.Begin()
	buf.RecordChange(Event{Kind: Insert, Table: "t", RowID: 1})

	var mark = buf.Mark()
	buf.RecordChange(Event{Kind: Insert, Table: "t", RowID: 2})
	buf.RecordChange(Event{Kind: Insert, Table: "t", RowID: 3})
	buf.DiscardSince(mark)
	buf.DiscardSince(mark + 10) // No-op.

	require.NoError(t, buf.WillCommit())
	require.Equal(t, 1, buf.DidCommit())
	require.Equal(t, []string{"insert .t rowid=1 depth=0"}, obs.strings())
}

func TestFiltersSelectEventsPerObserver(t *testing.T) {
	var reg Registry
	var buf = NewBuffer("filters", &reg)
	var (
		all     = new(recorder)
		inserts = new(recorder)
		users   = new(recorder)
	)
	reg.Add(Strong(all), All)
	reg.Add(Strong(inserts), Kinds(Insert))
	reg.Add(Strong(users), And(Tables("users"), Kinds(Update, Delete)))

	buf.RecordChange(Event{Kind: Insert, Table: "Users", RowID: 1})
	buf.RecordChange(Event{Kind: Update, Table: "USERS", RowID: 1})
	buf.RecordChange(Event{Kind: Delete, Table: "teams", RowID: 2})
	require.NoError(t, buf.WillCommit())
	require.Equal(t, 5, buf.DidCommit())

	require.Len(t, all.events, 3)
	require.Equal(t, []string{"insert .Users rowid=1 depth=0"}, inserts.strings())
	require.Equal(t, []string{"update .USERS rowid=1 depth=0"}, users.strings())
}

func TestObserverAddedMidTransactionSeesLaterChanges(t *testing.T) {
	var reg Registry
	var buf = NewBuffer("late", &reg)
	var early, late = new(recorder), new(recorder)
	reg.Add(Strong(early), nil)

	buf.Begin()
	buf.RecordChange(Event{Kind: Insert, Table: "t", RowID: 1})
	reg.Add(Strong(late), nil)
	buf.RecordChange(Event{Kind: Insert, Table: "t", RowID: 2})

	// Removed Observers receive no further notifications.
	var removed = new(recorder)
	reg.Add(Strong(removed), nil)
	buf.RecordChange(Event{Kind: Insert, Table: "t", RowID: 3})
	require.True(t, reg.Remove(removed))
	require.False(t, reg.Remove(removed))

	require.NoError(t, buf.WillCommit())
	buf.DidCommit()

	require.Len(t, early.events, 3)
	require.Equal(t, []string{
		"insert .t rowid=2 depth=0",
		"insert .t rowid=3 depth=0",
	}, late.strings())
	require.Empty(t, removed.events)
	require.Empty(t, removed.hooks)
}

func TestOnceExtentEndsAfterNextTransaction(t *testing.T) {
	var reg Registry
	var buf = NewBuffer("once", &reg)
	var obs = new(recorder)
	reg.Add(Once(obs), nil)
	require.Equal(t, 1, reg.Len())

	buf.RecordChange(Event{Kind: Insert, Table: "t", RowID: 1})
	buf.DidRollback()
	require.Equal(t, 0, reg.Len())

	buf.RecordChange(Event{Kind: Insert, Table: "t", RowID: 2})
	require.NoError(t, buf.WillCommit())
	require.Equal(t, 0, buf.DidCommit())
	require.Equal(t, []string{"after-rollback"}, obs.hooks)
}

func TestWeakExtentEndsWhenObserverIsCollected(t *testing.T) {
	var reg Registry
	var kept = new(recorder)
	reg.Add(Weak(kept), nil)

	func() {
		var dropped = new(recorder)
		reg.Add(Weak(dropped), nil)
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		return reg.Len() == 1
	}, time.Second, 10*time.Millisecond)

	var buf = NewBuffer("weak", &reg)
	buf.RecordChange(Event{Kind: Insert, Table: "t", RowID: 1})
	require.NoError(t, buf.WillCommit())
	require.Equal(t, 1, buf.DidCommit())
	require.Len(t, kept.events, 1)
	runtime.KeepAlive(kept)
}

func TestPreUpdateEventsPrecedeTheirChange(t *testing.T) {
	var reg Registry
	var buf = NewBuffer("pre", &reg)
	var pre, plain = new(preRecorder), new(recorder)
	reg.Add(Strong(pre), nil)
	reg.Add(Strong(plain), nil)

	var old = []row.Value{row.IntValue(1), row.TextValue("before")}
	buf.RecordPreUpdate(PreUpdateEvent{
		Kind:     Update,
		Table:    "t",
		OldRowID: 1,
		NewRowID: 1,
		Old:      old,
		New:      []row.Value{row.IntValue(1), row.TextValue("after")},
	})
	old[1] = row.TextValue("clobbered") // Buffered events are copies.
	buf.RecordChange(Event{Kind: Update, Table: "t", RowID: 1})

	// A pre-update without a following change, as for WITHOUT ROWID tables.
	buf.RecordPreUpdate(PreUpdateEvent{Kind: Delete, Table: "w", OldRowID: 9})

	require.Equal(t, 2, buf.Len())
	require.NoError(t, buf.WillCommit())
	require.Equal(t, 2, buf.DidCommit())

	require.Equal(t, []string{
		`pre update t [1 "before"] => [1 "after"]`,
		"update .t rowid=1 depth=0",
		"pre delete w [] => []",
	}, pre.log)
	require.Equal(t, []string{"update .t rowid=1 depth=0"}, plain.strings())
}

type recorder struct {
	veto   error
	events []Event
	hooks  []string
}

func (r *recorder) OnChange(e Event) { r.events = append(r.events, e) }
func (r *recorder) AfterCommit()     { r.hooks = append(r.hooks, "after-commit") }
func (r *recorder) AfterRollback()   { r.hooks = append(r.hooks, "after-rollback") }

func (r *recorder) BeforeCommit() error {
	r.hooks = append(r.hooks, "before-commit")
	return r.veto
}

func (r *recorder) strings() (out []string) {
	for _, e := range r.events {
		out = append(out, e.String())
	}
	return
}

type preRecorder struct {
	recorder
	log []string
}

func (r *preRecorder) OnChange(e Event) { r.log = append(r.log, e.String()) }

func (r *preRecorder) OnPreUpdate(e PreUpdateEvent) {
	r.log = append(r.log, "pre "+e.Kind.String()+" "+e.Table+" "+
		render(e.Old)+" => "+render(e.New))
}

func render(vv []row.Value) string {
	var s = "["
	for i, v := range vv {
		if i != 0 {
			s += " "
		}
		s += v.String()
	}
	return s + "]"
}
