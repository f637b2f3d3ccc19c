package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"

	"github.com/zoobzio/profz"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "profz.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testReport(id string, start time.Time) profz.Report {
	return profz.Report{
		ID:       id,
		Name:     "GET /users",
		Start:    start,
		Duration: 12 * time.Millisecond,
		Tree: []profz.Entry{
			{Name: "handler", Count: 1, Time: 10, Children: []profz.Entry{
				{Name: "db.query", Count: 2, Time: 6, Category: "database", Children: []profz.Entry{}},
			}},
		},
		Flat: map[profz.Key]profz.Total{
			"handler":  {Name: "handler", Count: 1, Time: 0.010},
			"db.query": {Name: "db.query", Count: 2, Time: 0.006},
		},
		ForceClosed: 1,
	}
}

func TestSaveLoad(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	want := testReport("r1", start)
	require.NoError(t, s.Save(ctx, want))

	got, err := s.Load(ctx, "r1")
	require.NoError(t, err)

	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Name, got.Name)
	assert.True(t, want.Start.Equal(got.Start))
	assert.Equal(t, want.Duration, got.Duration)
	assert.Equal(t, want.ForceClosed, got.ForceClosed)
	assert.Equal(t, want.Tree, got.Tree)
	assert.Equal(t, want.Flat, got.Flat)
}

func TestSaveReplaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r := testReport("r1", time.Now())
	require.NoError(t, s.Save(ctx, r))

	delete(r.Flat, "db.query")
	r.Name = "renamed"
	require.NoError(t, s.Save(ctx, r))

	got, err := s.Load(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Len(t, got.Flat, 1)
}

func TestLoadMissing(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Latest(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAndLatest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Save(ctx, testReport(id, base.Add(time.Duration(i)*time.Minute))))
	}

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})

	two, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c", latest.ID)
}

func TestTotals(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, testReport("a", time.Now())))
	require.NoError(t, s.Save(ctx, testReport("b", time.Now())))

	totals, err := s.Totals(ctx)
	require.NoError(t, err)
	require.Len(t, totals, 2)

	assert.Equal(t, "handler", totals[0].Name)
	assert.Equal(t, 2, totals[0].Count)
	assert.InDelta(t, 0.020, totals[0].Time, 1e-9)
	assert.Equal(t, "db.query", totals[1].Name)
	assert.Equal(t, 4, totals[1].Count)
	assert.InDelta(t, 0.012, totals[1].Time, 1e-9)
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, testReport("a", time.Now())))
	require.NoError(t, s.Delete(ctx, "a"))

	_, err := s.Load(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	totals, err := s.Totals(ctx)
	require.NoError(t, err)
	assert.Empty(t, totals)

	assert.ErrorIs(t, s.Delete(ctx, "a"), ErrNotFound)
}

func TestHandlerSavesProfilerReports(t *testing.T) {
	s := openTestStore(t)
	clock := clockz.NewFakeClock()
	profiler := profz.New().WithClock(clock)
	defer profiler.Close()

	profiler.OnReport(s.Handler())

	ctx, tx := profiler.Begin(context.Background(), "job")
	span := profz.Enter(ctx, "step")
	clock.Advance(5 * time.Millisecond)
	span.Exit()

	report, err := profiler.Finish(tx)
	require.NoError(t, err)

	got, err := s.Load(context.Background(), report.ID)
	require.NoError(t, err)
	require.Len(t, got.Tree, 1)
	assert.Equal(t, "step", got.Tree[0].Name)
	assert.Equal(t, 5.0, got.Tree[0].Time)
	assert.Equal(t, 1, got.Flat["step"].Count)
}
