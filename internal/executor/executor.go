// Package executor applies day plans to a local repository: one backdated
// commit per request, sequentially, then at most one push.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"streakline/internal/domain"
	"streakline/internal/errs"
	"streakline/internal/lock"
	"streakline/internal/pattern"
)

// Committer creates one commit and returns its id.
type Committer interface {
	CreateCommit(ctx context.Context, repoPath string, req domain.CommitRequest) (string, error)
}

// Pusher publishes local commits.
type Pusher interface {
	Push(ctx context.Context, repoPath string) error
}

// Locker guards a working copy for the duration of a run.
type Locker interface {
	Acquire() error
	Release() error
}

// Options configures one run.
type Options struct {
	RunID string
	Kind  string
	Push  bool
	Overrides
	// Location is the zone commit times are expressed in; time.Local when nil.
	Location *time.Location
	// OnResult, when set, is called after each date settles.
	OnResult func(domain.DateResult)
}

// Executor runs plans against a repository.
type Executor struct {
	Committer Committer
	Pusher    Pusher
	// NewLock builds the repository lock; lock.New when nil.
	NewLock func(repoPath string) (Locker, error)
	Rand    Rand
	Now     func() time.Time
	Logger  *zap.Logger
}

// New wires an executor over a git collaborator.
func New(c Committer, p Pusher, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{Committer: c, Pusher: p, Now: time.Now, Logger: logger}
}

func (e *Executor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Executor) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

func (e *Executor) rand() Rand {
	if e.Rand != nil {
		return e.Rand
	}
	return rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
}

func (e *Executor) lock(repoPath string) (Locker, error) {
	if e.NewLock != nil {
		return e.NewLock(repoPath)
	}
	return lock.New(repoPath)
}

// Execute applies plans in date order. A failed commit fails its date, skips
// the rest of that date's requests and moves on to the next plan. When ctx is
// cancelled the run stops before the next request and every unattempted date
// is reported skipped. The returned error is non-nil only when the run could
// not start; commit and push failures are reported in the summary.
func (e *Executor) Execute(ctx context.Context, repoPath string, plans []domain.DayPlan, opts Options) (domain.RunSummary, error) {
	summary := domain.RunSummary{
		RunID:     opts.RunID,
		Kind:      opts.Kind,
		RepoPath:  repoPath,
		PushAsked: opts.Push,
		Results:   []domain.DateResult{},
	}
	if repoPath == "" {
		return summary, errs.NewInvalidConfig("repo", repoPath, "repository path is required")
	}
	if e.Committer == nil {
		return summary, errors.New("executor has no committer")
	}

	l, err := e.lock(repoPath)
	if err != nil {
		return summary, err
	}
	if err := l.Acquire(); err != nil {
		return summary, err
	}
	defer func() {
		if err := l.Release(); err != nil {
			e.logger().Warn("release repository lock", zap.Error(err))
		}
	}()

	sorted := make([]domain.DayPlan, 0, len(plans))
	for _, p := range plans {
		if p.CommitCount > 0 {
			sorted = append(sorted, p)
		}
	}
	pattern.SortPlans(sorted)

	log := e.logger().With(zap.String("run_id", opts.RunID), zap.String("repo", repoPath))
	summary.StartedAt = e.now()
	rnd := e.rand()

	for _, p := range sorted {
		res := domain.DateResult{Date: p.Date, Requested: p.CommitCount}
		if ctx.Err() != nil {
			summary.Canceled = true
			res.Status = domain.StatusSkipped
			res.Error = "run canceled"
			e.settle(&summary, res, opts)
			continue
		}
		e.runDate(ctx, repoPath, p, opts, rnd, &res)
		if res.Status == domain.StatusSkipped {
			summary.Canceled = true
		}
		log.Info("date processed",
			zap.String("date", p.Date.String()),
			zap.String("status", res.Status),
			zap.Int("created", res.Created),
			zap.Int("requested", res.Requested))
		e.settle(&summary, res, opts)
	}

	if opts.Push {
		e.push(ctx, repoPath, &summary, log)
	}
	summary.FinishedAt = e.now()
	return summary, nil
}

func (e *Executor) runDate(ctx context.Context, repoPath string, p domain.DayPlan, opts Options, rnd Rand, res *domain.DateResult) {
	reqs := Expand([]domain.DayPlan{p}, opts.Overrides, opts.Location, rnd)
	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			if res.Created == 0 {
				res.Status = domain.StatusSkipped
				res.Error = "run canceled"
				return
			}
			res.Status = domain.StatusFailed
			res.Error = fmt.Sprintf("canceled after %d of %d commits", res.Created, res.Requested)
			return
		}
		id, err := e.Committer.CreateCommit(ctx, repoPath, req)
		if err != nil {
			res.Status = domain.StatusFailed
			res.Error = err.Error()
			return
		}
		res.Created++
		res.CommitIDs = append(res.CommitIDs, id)
	}
	res.Status = domain.StatusSuccess
}

func (e *Executor) settle(s *domain.RunSummary, res domain.DateResult, opts Options) {
	switch res.Status {
	case domain.StatusSuccess:
		s.Succeeded++
	case domain.StatusFailed:
		s.Failed++
	case domain.StatusSkipped:
		s.Skipped++
	}
	s.Results = append(s.Results, res)
	if opts.OnResult != nil {
		opts.OnResult(res)
	}
}

func (e *Executor) push(ctx context.Context, repoPath string, s *domain.RunSummary, log *zap.Logger) {
	switch {
	case s.CommitsCreated() == 0:
		log.Info("nothing to push")
		return
	case s.Canceled:
		log.Warn("run canceled, local commits left unpushed")
		return
	case e.Pusher == nil:
		s.PushError = "no push collaborator configured"
		return
	}
	if err := e.Pusher.Push(ctx, repoPath); err != nil {
		var pe *errs.PushError
		if !errors.As(err, &pe) {
			err = &errs.PushError{Repo: repoPath, Err: err}
		}
		s.PushError = err.Error()
		log.Error("push failed, local commits kept", zap.Error(err))
		return
	}
	s.Pushed = true
}
