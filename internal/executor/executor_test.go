package executor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streakline/internal/calendar"
	"streakline/internal/domain"
	"streakline/internal/errs"
	"streakline/internal/lock"
	"streakline/internal/pattern"
)

type fakeGit struct {
	mu       sync.Mutex
	requests []domain.CommitRequest
	failDate string
	pushErr  error
	pushes   int
	// onCommit runs after each successful commit.
	onCommit func(n int)
}

func (f *fakeGit) CreateCommit(_ context.Context, _ string, req domain.CommitRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.Date.String() == f.failDate {
		return "", &errs.CommitCreationError{Date: f.failDate, Err: errors.New("exit status 1")}
	}
	f.requests = append(f.requests, req)
	if f.onCommit != nil {
		f.onCommit(len(f.requests))
	}
	return fmt.Sprintf("c%03d", len(f.requests)), nil
}

func (f *fakeGit) Push(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes++
	return f.pushErr
}

type nopLocker struct{ acquired, released int }

func (l *nopLocker) Acquire() error { l.acquired++; return nil }
func (l *nopLocker) Release() error { l.released++; return nil }

func newExecutor(g *fakeGit, l *nopLocker) *Executor {
	return &Executor{
		Committer: g,
		Pusher:    g,
		NewLock:   func(string) (Locker, error) { return l, nil },
		Rand:      rand.New(rand.NewPCG(1, 2)),
	}
}

func mustUniform(t *testing.T, start, end string, n int) []domain.DayPlan {
	t.Helper()
	r, err := calendar.NewRange(calendar.MustParse(start), calendar.MustParse(end))
	require.NoError(t, err)
	plans, err := pattern.Uniform(r, n)
	require.NoError(t, err)
	return plans
}

func TestExecuteContinuesPastFailedDate(t *testing.T) {
	g := &fakeGit{failDate: "2023-09-10"}
	l := &nopLocker{}
	ex := newExecutor(g, l)

	summary, err := ex.Execute(context.Background(), "/repo", mustUniform(t, "2023-09-08", "2023-09-12", 1), Options{Push: true})
	require.NoError(t, err)

	require.Len(t, summary.Results, 5)
	assert.Equal(t, 4, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, domain.StatusFailed, summary.Results[2].Status)
	assert.Contains(t, summary.Results[2].Error, "2023-09-10")
	for _, i := range []int{0, 1, 3, 4} {
		assert.Equal(t, domain.StatusSuccess, summary.Results[i].Status)
		assert.Equal(t, 1, summary.Results[i].Created)
	}
	assert.Equal(t, domain.ExitCodePartialFailure, summary.ExitCode())
	assert.Equal(t, domain.RunPartial, summary.Status())

	assert.Equal(t, 1, g.pushes, "push happens once after all dates")
	assert.True(t, summary.Pushed)
	assert.Equal(t, 1, l.acquired)
	assert.Equal(t, 1, l.released)
}

func TestExecuteStopsDateOnFirstFailure(t *testing.T) {
	g := &fakeGit{}
	calls := 0
	failing := &countingCommitter{failAt: 2, calls: &calls}
	ex := newExecutor(g, &nopLocker{})
	ex.Committer = failing

	summary, err := ex.Execute(context.Background(), "/repo", mustUniform(t, "2023-09-08", "2023-09-09", 3), Options{})
	require.NoError(t, err)

	first := summary.Results[0]
	assert.Equal(t, domain.StatusFailed, first.Status)
	assert.Equal(t, 1, first.Created)
	assert.Equal(t, 3, first.Requested)
	assert.Equal(t, domain.StatusSuccess, summary.Results[1].Status)
	assert.Equal(t, 5, calls, "2 attempts on the first date, 3 on the second")
}

type countingCommitter struct {
	failAt int
	calls  *int
}

func (c *countingCommitter) CreateCommit(_ context.Context, _ string, req domain.CommitRequest) (string, error) {
	*c.calls++
	if *c.calls == c.failAt {
		return "", &errs.CommitCreationError{Date: req.Date.String(), Err: errors.New("index.lock exists")}
	}
	return "ok", nil
}

func TestExecuteProducesDistinctCommits(t *testing.T) {
	g := &fakeGit{}
	ex := newExecutor(g, &nopLocker{})
	plans := []domain.DayPlan{
		{Date: calendar.MustParse("2023-09-09"), CommitCount: 4},
		{Date: calendar.MustParse("2023-09-08"), CommitCount: 3},
		{Date: calendar.MustParse("2023-09-10"), CommitCount: 0},
	}

	summary, err := ex.Execute(context.Background(), "/repo", plans, Options{Location: time.UTC})
	require.NoError(t, err)
	assert.Equal(t, 7, summary.CommitsCreated())
	require.Len(t, summary.Results, 2, "zero-count plans are not reported")
	assert.Equal(t, calendar.MustParse("2023-09-08"), summary.Results[0].Date)

	seen := map[string]bool{}
	var prev time.Time
	for _, req := range g.requests {
		key := req.TargetFile + "\x00" + req.Content
		assert.False(t, seen[key], "duplicate commit payload %q", req.TargetFile)
		seen[key] = true
		assert.Equal(t, req.Date, calendar.Of(req.When))
		h := req.When.Hour()
		assert.True(t, h >= 9 && h <= 19, "hour %d", h)
		assert.False(t, req.When.Before(prev), "commit times must be non-decreasing")
		prev = req.When
		assert.Contains(t, Messages, req.Message)
	}
	assert.Zero(t, g.pushes, "push not requested")
}

func TestExecuteOverridesKeepContentUnique(t *testing.T) {
	g := &fakeGit{}
	ex := newExecutor(g, &nopLocker{})
	o := Overrides{Message: "chore: notes", TargetFile: "NOTES.md", Content: "same"}

	_, err := ex.Execute(context.Background(), "/repo", mustUniform(t, "2023-09-08", "2023-09-08", 3), Options{Overrides: o})
	require.NoError(t, err)
	require.Len(t, g.requests, 3)
	contents := map[string]bool{}
	for _, req := range g.requests {
		assert.Equal(t, "chore: notes", req.Message)
		assert.Equal(t, "NOTES.md", req.TargetFile)
		assert.True(t, strings.HasPrefix(req.Content, "same\n"))
		contents[req.Content] = true
	}
	assert.Len(t, contents, 3)
}

func TestExecutePushFailureKeepsCommits(t *testing.T) {
	g := &fakeGit{pushErr: errors.New("rejected")}
	ex := newExecutor(g, &nopLocker{})

	summary, err := ex.Execute(context.Background(), "/repo", mustUniform(t, "2023-09-08", "2023-09-09", 1), Options{Push: true})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded)
	assert.False(t, summary.Pushed)
	assert.Contains(t, summary.PushError, "rejected")
	assert.Equal(t, 2, summary.CommitsCreated())
	assert.Equal(t, domain.ExitCodePartialFailure, summary.ExitCode())
}

func TestExecuteSkipsPushWithoutCommits(t *testing.T) {
	g := &fakeGit{failDate: "2023-09-08"}
	ex := newExecutor(g, &nopLocker{})

	summary, err := ex.Execute(context.Background(), "/repo", mustUniform(t, "2023-09-08", "2023-09-08", 1), Options{Push: true})
	require.NoError(t, err)
	assert.Zero(t, g.pushes)
	assert.Equal(t, domain.RunFailed, summary.Status())
}

func TestExecuteCancellationSkipsRemainingDates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g := &fakeGit{onCommit: func(n int) {
		if n == 2 {
			cancel()
		}
	}}
	ex := newExecutor(g, &nopLocker{})
	var observed []string

	summary, err := ex.Execute(ctx, "/repo", mustUniform(t, "2023-09-08", "2023-09-12", 1), Options{
		Push:     true,
		OnResult: func(r domain.DateResult) { observed = append(observed, r.Status) },
	})
	require.NoError(t, err)

	want := []string{
		domain.StatusSuccess, domain.StatusSuccess,
		domain.StatusSkipped, domain.StatusSkipped, domain.StatusSkipped,
	}
	if diff := cmp.Diff(want, observed); diff != "" {
		t.Fatalf("statuses (-want +got):\n%s", diff)
	}
	assert.True(t, summary.Canceled)
	assert.Equal(t, 3, summary.Skipped)
	assert.Zero(t, g.pushes, "a canceled run leaves commits unpushed")
}

func TestExecuteValidatesAndLocks(t *testing.T) {
	g := &fakeGit{}
	ex := newExecutor(g, &nopLocker{})
	_, err := ex.Execute(context.Background(), "", nil, Options{})
	assert.ErrorIs(t, err, errs.ErrInvalidConfig)

	busy := errors.New("busy")
	ex.NewLock = func(string) (Locker, error) { return failingLocker{busy}, nil }
	_, err = ex.Execute(context.Background(), "/repo", mustUniform(t, "2023-09-08", "2023-09-08", 1), Options{})
	assert.ErrorIs(t, err, busy)
	assert.Empty(t, g.requests)
}

type failingLocker struct{ err error }

func (f failingLocker) Acquire() error { return f.err }
func (f failingLocker) Release() error { return nil }

func TestExecuteRealLockRejectsConcurrentRun(t *testing.T) {
	dir := t.TempDir()
	held, err := lock.New(dir)
	require.NoError(t, err)
	require.NoError(t, held.Acquire())
	defer held.Release()

	ex := &Executor{Committer: &fakeGit{}}
	_, err = ex.Execute(context.Background(), dir, mustUniform(t, "2023-09-08", "2023-09-08", 1), Options{})
	assert.ErrorIs(t, err, lock.ErrAlreadyRunning)
}

func TestExpandDefaults(t *testing.T) {
	plans := []domain.DayPlan{{Date: calendar.MustParse("2023-09-08"), CommitCount: 2}}
	reqs := Expand(plans, Overrides{}, time.UTC, rand.New(rand.NewPCG(5, 5)))
	require.Len(t, reqs, 2)
	assert.Equal(t, "streak_updates/2023-09-08/0.md", reqs[0].TargetFile)
	assert.Equal(t, "streak_updates/2023-09-08/1.md", reqs[1].TargetFile)
	assert.True(t, strings.HasPrefix(reqs[1].Content, "# Update for 2023-09-08\n\nCommit #2 of 2"))
	assert.Equal(t, 1, reqs[0].Ordinal)
	assert.Equal(t, 2, reqs[1].Total)
}
