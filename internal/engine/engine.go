package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"streakline/internal/calendar"
	"streakline/internal/domain"
	"streakline/internal/errs"
	"streakline/internal/events"
	"streakline/internal/executor"
	"streakline/internal/gapfill"
	"streakline/internal/history"
	"streakline/internal/pattern"
	"streakline/internal/repo"
)

// DefaultAnalyzeDays is the look-back of Analyze when none is given.
const DefaultAnalyzeDays = 365

// referenceFallbackDays is the look-back for a reference when the target
// range lies entirely in the future.
const referenceFallbackDays = 365

// RepositoryChecker validates a working copy before a run.
type RepositoryChecker interface {
	IsRepository(ctx context.Context, path string) bool
}

type Engine struct {
	// DB is the run ledger. A nil DB disables recording.
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Reader history.Reader
	// Filler overrides the gap filler built from Reader and Now.
	Filler   *gapfill.Filler
	Executor *executor.Executor
	Repos    RepositoryChecker
	Logger   *zap.Logger
	Now      func() time.Time
	// Defaults apply to runs started through RunPlans.
	Defaults RunOptions
}

func New(db *sql.DB, reader history.Reader, ex *executor.Executor, logger *zap.Logger) Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Reader:   reader,
		Executor: ex,
		Logger:   logger,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) today() calendar.Date {
	return calendar.Today(e.now())
}

func (e Engine) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

func (e Engine) filler() *gapfill.Filler {
	if e.Filler != nil {
		return e.Filler
	}
	return &gapfill.Filler{Reader: e.Reader, Now: e.Now, Logger: e.Logger}
}

// RunOptions are shared by every committing operation.
type RunOptions struct {
	RepoPath string
	Push     bool
	executor.Overrides
	// Location of commit times; time.Local when nil.
	Location *time.Location
	// OnResult observes each settled date.
	OnResult func(domain.DateResult)
}

// PlanResult is returned by operations that support dry runs. Summary is nil
// when nothing was executed.
type PlanResult struct {
	Plans   []domain.DayPlan   `json:"plans"`
	Summary *domain.RunSummary `json:"summary,omitempty"`
}

// ValidateRepo checks a run target before any side effect.
func (e Engine) ValidateRepo(ctx context.Context, path string) error {
	if path == "" {
		return errs.NewInvalidConfig("repo", path, "repository path is required")
	}
	if e.Repos != nil && !e.Repos.IsRepository(ctx, path) {
		return errs.NewInvalidConfig("repo", path, "not a git working tree")
	}
	return nil
}

// BackdateOptions creates one commit on one date.
type BackdateOptions struct {
	RunOptions
	Date calendar.Date
}

func (e Engine) Backdate(ctx context.Context, opts BackdateOptions) (domain.RunSummary, error) {
	if opts.Date.IsZero() {
		return domain.RunSummary{}, errs.NewInvalidConfig("date", "", "a date is required")
	}
	if err := e.ValidateRepo(ctx, opts.RepoPath); err != nil {
		return domain.RunSummary{}, err
	}
	return e.execute(ctx, domain.KindSingle, []domain.DayPlan{{Date: opts.Date, CommitCount: 1}}, opts.RunOptions)
}

// BulkOptions creates Count commits on every listed date, or on every date of
// Range when Dates is empty.
type BulkOptions struct {
	RunOptions
	Range calendar.DateRange
	Dates []calendar.Date
	Count int
}

func (e Engine) Bulk(ctx context.Context, opts BulkOptions) (domain.RunSummary, error) {
	count := opts.Count
	if count == 0 {
		count = 1
	}
	var (
		plans []domain.DayPlan
		err   error
	)
	if len(opts.Dates) > 0 {
		plans, err = pattern.Dates(opts.Dates, count)
	} else {
		plans, err = pattern.Uniform(opts.Range, count)
	}
	if err != nil {
		return domain.RunSummary{}, err
	}
	if err := e.ValidateRepo(ctx, opts.RepoPath); err != nil {
		return domain.RunSummary{}, err
	}
	return e.execute(ctx, domain.KindBulk, plans, opts.RunOptions)
}

// NaturalOptions drives the pattern generator.
type NaturalOptions struct {
	RunOptions
	Range   calendar.DateRange
	Pattern pattern.Config
	// ReferenceUser, when set, shapes the pattern after that user's calendar.
	ReferenceUser string
	// WeekdayOnly keeps only the reference's weekly rhythm.
	WeekdayOnly bool
	Seed        *uint64
	DryRun      bool
}

func (e Engine) Natural(ctx context.Context, opts NaturalOptions) (PlanResult, error) {
	cfg := opts.Pattern
	if err := cfg.Validate(); err != nil {
		return PlanResult{}, err
	}
	if !opts.DryRun {
		if err := e.ValidateRepo(ctx, opts.RepoPath); err != nil {
			return PlanResult{}, err
		}
	}
	if opts.ReferenceUser != "" {
		ref, err := e.reference(ctx, opts.ReferenceUser, opts.Range, opts.WeekdayOnly)
		if err != nil {
			return PlanResult{}, err
		}
		cfg.Reference = ref
	}
	seed := uint64(e.now().UnixNano())
	if opts.Seed != nil {
		seed = *opts.Seed
	}
	plans, err := pattern.Generate(opts.Range, cfg, pattern.NewSource(seed))
	if err != nil {
		return PlanResult{}, err
	}
	e.logger().Info("pattern generated",
		zap.Stringer("range", opts.Range),
		zap.Int("commits", pattern.Total(plans)),
		zap.Uint64("seed", seed))
	if opts.DryRun {
		return PlanResult{Plans: plans}, nil
	}
	summary, err := e.execute(ctx, domain.KindPattern, plans, opts.RunOptions)
	if err != nil {
		return PlanResult{Plans: plans}, err
	}
	return PlanResult{Plans: plans, Summary: &summary}, nil
}

// reference reads the reference user's activity over the past part of r, or
// over the last year when r lies in the future. An inactive reference is
// dropped with a warning.
func (e Engine) reference(ctx context.Context, user string, r calendar.DateRange, weekdayOnly bool) (*pattern.Reference, error) {
	today := e.today()
	window := r
	if r.Start().After(today) {
		window, _ = calendar.Lookback(today, referenceFallbackDays)
		weekdayOnly = true
	} else if r.End().After(today) {
		window, _ = calendar.NewRange(r.Start(), today)
	}
	levels, err := e.Reader.ReferenceLevels(ctx, user, window)
	if err != nil {
		e.recordHistoryError(ctx, err)
		return nil, err
	}
	ref, err := pattern.NewReference(levels)
	if err != nil {
		e.logger().Warn("reference user has no public activity, ignoring reference",
			zap.String("user", user), zap.Stringer("window", window))
		return nil, nil
	}
	if weekdayOnly {
		ref = ref.WeekdayOnly()
	}
	return ref, nil
}

// FillOptions drives the gap filler.
type FillOptions struct {
	RunOptions
	gapfill.Options
	DryRun bool
}

func (e Engine) Fill(ctx context.Context, opts FillOptions) (PlanResult, error) {
	if opts.DaysBack < 0 {
		return PlanResult{}, errs.NewInvalidConfig("days-back", opts.DaysBack, "must not be negative")
	}
	if !opts.DryRun {
		if err := e.ValidateRepo(ctx, opts.RepoPath); err != nil {
			return PlanResult{}, err
		}
	}
	plans, err := e.filler().Plan(ctx, opts.Options)
	if err != nil {
		e.recordHistoryError(ctx, err)
		return PlanResult{}, err
	}
	if opts.DryRun || len(plans) == 0 {
		return PlanResult{Plans: plans}, nil
	}
	summary, err := e.execute(ctx, domain.KindFill, plans, opts.RunOptions)
	if err != nil {
		return PlanResult{Plans: plans}, err
	}
	return PlanResult{Plans: plans, Summary: &summary}, nil
}

// RunPlans executes plans with the engine's Defaults.
func (e Engine) RunPlans(ctx context.Context, kind string, plans []domain.DayPlan) (domain.RunSummary, error) {
	if err := e.ValidateRepo(ctx, e.Defaults.RepoPath); err != nil {
		return domain.RunSummary{}, err
	}
	return e.execute(ctx, kind, plans, e.Defaults)
}

// Analyze computes streak statistics for user (empty for the token owner)
// over the last daysBack days.
func (e Engine) Analyze(ctx context.Context, user string, daysBack int) (domain.StreakStats, error) {
	if daysBack == 0 {
		daysBack = DefaultAnalyzeDays
	}
	r := e.Reader
	if user != "" {
		r.User = user
	}
	stats, err := r.AnalyzeWindow(ctx, e.today(), daysBack)
	if err != nil {
		e.recordHistoryError(ctx, err)
		return domain.StreakStats{}, err
	}
	return stats, nil
}

// TodayCovered reports whether today already has a contribution.
func (e Engine) TodayCovered(ctx context.Context) (bool, error) {
	covered, err := e.filler().TodayCovered(ctx)
	if err != nil {
		e.recordHistoryError(ctx, err)
	}
	return covered, err
}

func (e Engine) execute(ctx context.Context, kind string, plans []domain.DayPlan, ro RunOptions) (domain.RunSummary, error) {
	if e.Executor == nil {
		return domain.RunSummary{}, errors.New("engine has no executor")
	}
	runID := uuid.NewString()
	log := e.logger().With(zap.String("run_id", runID), zap.String("kind", kind))
	// Ledger writes outlive a cancelled run so its outcome is still recorded.
	ledgerCtx := context.WithoutCancel(ctx)

	dates := 0
	for _, p := range plans {
		if p.CommitCount > 0 {
			dates++
		}
	}
	run := domain.Run{
		ID:        runID,
		Kind:      kind,
		RepoPath:  ro.RepoPath,
		Status:    domain.RunRunning,
		StartedAt: e.now().UTC().Format(time.RFC3339),
		Dates:     dates,
	}
	if err := e.startRun(ledgerCtx, run); err != nil {
		return domain.RunSummary{}, err
	}
	log.Info("run started", zap.Int("dates", dates), zap.Int("commits", pattern.Total(plans)))

	summary, err := e.Executor.Execute(ctx, ro.RepoPath, plans, executor.Options{
		RunID:     runID,
		Kind:      kind,
		Push:      ro.Push,
		Overrides: ro.Overrides,
		Location:  ro.Location,
		OnResult: func(res domain.DateResult) {
			e.appendEvent(ledgerCtx, events.DateSettled, runID, events.EventPayload{
				"date": res.Date.String(), "status": res.Status, "created": res.Created, "requested": res.Requested,
			})
			if ro.OnResult != nil {
				ro.OnResult(res)
			}
		},
	})
	summary.RunID = runID
	summary.Kind = kind
	if err != nil {
		run.Status = domain.RunFailed
		run.Error = err.Error()
		if ferr := e.finishRun(ledgerCtx, run, nil); ferr != nil {
			log.Error("record failed run", zap.Error(ferr))
		}
		return summary, fmt.Errorf("run %s: %w", runID, err)
	}

	run.Status = summary.Status()
	if summary.Canceled {
		run.Status = domain.RunAborted
		run.Error = "canceled"
	}
	run.Commits = summary.CommitsCreated()
	run.Succeeded = summary.Succeeded
	run.Failed = summary.Failed
	run.Pushed = summary.Pushed
	run.PushError = summary.PushError
	if err := e.finishRun(ledgerCtx, run, summary.Results); err != nil {
		return summary, err
	}
	log.Info("run finished",
		zap.String("status", run.Status),
		zap.Int("commits", run.Commits),
		zap.Int("failed", run.Failed),
		zap.Bool("pushed", run.Pushed))
	return summary, nil
}

func (e Engine) startRun(ctx context.Context, run domain.Run) error {
	if e.DB == nil {
		return nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRun(ctx, tx, run); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.RunStarted, run.ID, events.EventPayload{
		"kind": run.Kind, "repo": run.RepoPath, "dates": run.Dates,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) finishRun(ctx context.Context, run domain.Run, results []domain.DateResult) error {
	if e.DB == nil {
		return nil
	}
	finished := e.now().UTC().Format(time.RFC3339)
	run.FinishedAt = &finished
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertResults(ctx, tx, run.ID, results); err != nil {
		return err
	}
	if err := e.Repo.FinishRun(ctx, tx, run); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if run.PushError != "" {
		if err := e.Events.Append(ctx, tx, events.PushFailed, run.ID, events.EventPayload{"error": run.PushError}); err != nil {
			return err
		}
	}
	if err := e.Events.Append(ctx, tx, events.RunFinished, run.ID, events.EventPayload{
		"status": run.Status, "commits": run.Commits, "failed": run.Failed, "pushed": run.Pushed,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) appendEvent(ctx context.Context, typ, runID string, payload events.EventPayload) {
	if e.DB == nil {
		return
	}
	if err := e.Events.Append(ctx, nil, typ, runID, payload); err != nil {
		e.logger().Warn("append event", zap.String("type", typ), zap.Error(err))
	}
}

func (e Engine) recordHistoryError(ctx context.Context, err error) {
	var hue *errs.HistoryUnavailableError
	if !errors.As(err, &hue) {
		return
	}
	e.appendEvent(context.WithoutCancel(ctx), events.HistoryError, "", events.EventPayload{
		"user": hue.User, "rate_limited": hue.RateLimited, "error": err.Error(),
	})
}

// RecordWatchdogCheck appends a watchdog.check event for a finished check.
func (e Engine) RecordWatchdogCheck(ctx context.Context, outcome, runID, errText string) {
	payload := events.EventPayload{"outcome": outcome, "date": e.today().String()}
	if errText != "" {
		payload["error"] = errText
	}
	e.appendEvent(context.WithoutCancel(ctx), events.WatchdogTick, runID, payload)
}

// RecoverAbandoned marks runs left running by a dead process as aborted.
func (e Engine) RecoverAbandoned(ctx context.Context) (int64, error) {
	if e.DB == nil {
		return 0, nil
	}
	return e.Repo.AbortRunning(ctx, e.now().UTC().Format(time.RFC3339), "process exited before the run finished")
}

// RunDetail is a recorded run with its per-date results.
type RunDetail struct {
	domain.Run
	Results []domain.DateResult `json:"results"`
}

func (e Engine) GetRun(ctx context.Context, id string) (RunDetail, error) {
	run, err := e.Repo.GetRun(ctx, id)
	if err != nil {
		return RunDetail{}, err
	}
	results, err := e.Repo.RunResults(ctx, id)
	if err != nil {
		return RunDetail{}, err
	}
	return RunDetail{Run: run, Results: results}, nil
}
