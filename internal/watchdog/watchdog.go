// Package watchdog checks once a day whether the user has contributed and, if
// not, commits once for today.
package watchdog

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"streakline/internal/calendar"
	"streakline/internal/domain"
	"streakline/internal/errs"
)

// State is the watchdog's position in its two-state cycle.
type State string

const (
	StateIdle     State = "idle"
	StateChecking State = "checking"
)

// Outcomes of a check.
const (
	OutcomeCovered   = "covered"
	OutcomeCommitted = "committed"
	OutcomeFailed    = "failed"
	OutcomeNoHistory = "history_unavailable"
)

// Unset marks a trigger hour or minute to be picked at random.
const Unset = -1

// NextTrigger returns the first hour:minute strictly after now, in now's
// location.
func NextTrigger(now time.Time, hour, minute int) time.Time {
	y, m, d := now.Date()
	t := time.Date(y, m, d, hour, minute, 0, 0, now.Location())
	if !t.After(now) {
		t = time.Date(y, m, d+1, hour, minute, 0, 0, now.Location())
	}
	return t
}

// ResolveTime fills unset trigger fields with a random time between 09:00 and
// 17:59.
func ResolveTime(hour, minute int, rnd *rand.Rand) (int, int) {
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	if hour < 0 {
		hour = 9 + rnd.IntN(9)
	}
	if minute < 0 {
		minute = rnd.IntN(60)
	}
	return hour, minute
}

// ValidateTime checks a resolved trigger time.
func ValidateTime(hour, minute int) error {
	if hour < 0 || hour > 23 {
		return errs.NewInvalidConfig("hour", hour, "must be within 0..23")
	}
	if minute < 0 || minute > 59 {
		return errs.NewInvalidConfig("minute", minute, "must be within 0..59")
	}
	return nil
}

// Clock abstracts wall time so tests can drive the loop.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time                         { return time.Now() }
func (wallClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Checker tells whether today is already covered.
type Checker interface {
	TodayCovered(ctx context.Context) (bool, error)
}

// Runner executes plans on behalf of the watchdog.
type Runner interface {
	RunPlans(ctx context.Context, kind string, plans []domain.DayPlan) (domain.RunSummary, error)
}

// Config holds the resolved trigger time.
type Config struct {
	Hour         int
	Minute       int
	CheckOnStart bool
}

// Status is a point-in-time snapshot of the watchdog.
type Status struct {
	State       State      `json:"state" enum:"idle,checking"`
	Hour        int        `json:"hour"`
	Minute      int        `json:"minute"`
	NextTrigger *time.Time `json:"next_trigger,omitempty"`
	LastCheck   *time.Time `json:"last_check,omitempty"`
	LastOutcome string     `json:"last_outcome,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	LastRunID   string     `json:"last_run_id,omitempty"`
	Checks      int        `json:"checks"`
}

// Watchdog is the daily trigger loop.
type Watchdog struct {
	cfg     Config
	checker Checker
	runner  Runner
	clock   Clock
	logger  *zap.Logger

	mu      sync.Mutex
	status  Status
	checked map[slot]bool
	onCheck func(Status)
}

// slot identifies one check opportunity: the start-up check or the daily
// trigger of a date.
type slot struct {
	date    calendar.Date
	startup bool
}

// New builds a watchdog. A nil clock means wall time.
func New(cfg Config, checker Checker, runner Runner, clock Clock, logger *zap.Logger) (*Watchdog, error) {
	if err := ValidateTime(cfg.Hour, cfg.Minute); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = wallClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watchdog{
		cfg:     cfg,
		checker: checker,
		runner:  runner,
		clock:   clock,
		logger:  logger,
		status:  Status{State: StateIdle, Hour: cfg.Hour, Minute: cfg.Minute},
		checked: make(map[slot]bool),
	}, nil
}

// OnCheck registers fn to observe every completed check.
func (w *Watchdog) OnCheck(fn func(Status)) {
	w.mu.Lock()
	w.onCheck = fn
	w.mu.Unlock()
}

// Status returns a copy of the current state.
func (w *Watchdog) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Run blocks until ctx is cancelled, checking once per day at the trigger
// time. It always returns ctx.Err().
func (w *Watchdog) Run(ctx context.Context) error {
	w.logger.Info("watchdog started",
		zap.Int("hour", w.cfg.Hour),
		zap.Int("minute", w.cfg.Minute),
		zap.Bool("check_on_start", w.cfg.CheckOnStart))
	if w.cfg.CheckOnStart {
		w.checkSlot(ctx, true)
	}
	for {
		if err := ctx.Err(); err != nil {
			w.stopped()
			return err
		}
		now := w.clock.Now()
		next := NextTrigger(now, w.cfg.Hour, w.cfg.Minute)
		w.mu.Lock()
		w.status.NextTrigger = &next
		w.mu.Unlock()
		w.logger.Debug("waiting for next trigger", zap.Time("at", next))

		select {
		case <-ctx.Done():
			w.stopped()
			return ctx.Err()
		case <-w.clock.After(next.Sub(now)):
			w.Check(ctx)
		}
	}
}

func (w *Watchdog) stopped() {
	w.mu.Lock()
	w.status.NextTrigger = nil
	w.mu.Unlock()
	w.logger.Info("watchdog stopped")
}

// Check runs one Idle→Checking→Idle cycle for today's trigger. It reports
// false when that trigger was already checked or a check is in progress. A
// start-up check does not consume the day's trigger.
func (w *Watchdog) Check(ctx context.Context) bool {
	return w.checkSlot(ctx, false)
}

func (w *Watchdog) checkSlot(ctx context.Context, startup bool) bool {
	now := w.clock.Now()
	today := calendar.Of(now)
	key := slot{date: today, startup: startup}

	w.mu.Lock()
	if w.status.State == StateChecking || w.checked[key] {
		w.mu.Unlock()
		return false
	}
	w.status.State = StateChecking
	for k := range w.checked {
		if k.date.Before(today) {
			delete(w.checked, k)
		}
	}
	w.checked[key] = true
	w.mu.Unlock()

	outcome, runID, err := w.check(ctx, today)

	w.mu.Lock()
	w.status.State = StateIdle
	w.status.Checks++
	w.status.LastCheck = &now
	w.status.LastOutcome = outcome
	w.status.LastRunID = runID
	w.status.LastError = ""
	if err != nil {
		w.status.LastError = err.Error()
	}
	snapshot, hook := w.status, w.onCheck
	w.mu.Unlock()

	if hook != nil {
		hook(snapshot)
	}
	return true
}

func (w *Watchdog) check(ctx context.Context, today calendar.Date) (string, string, error) {
	log := w.logger.With(zap.String("date", today.String()))
	covered, err := w.checker.TodayCovered(ctx)
	if err != nil {
		log.Warn("history unavailable, skipping today's check", zap.Error(err))
		return OutcomeNoHistory, "", err
	}
	if covered {
		log.Info("today already has contributions")
		return OutcomeCovered, "", nil
	}
	summary, err := w.runner.RunPlans(ctx, domain.KindWatchdog, []domain.DayPlan{{Date: today, CommitCount: 1}})
	if err != nil {
		log.Error("watchdog commit failed", zap.Error(err))
		return OutcomeFailed, summary.RunID, err
	}
	if summary.HasFailures() {
		log.Warn("watchdog run finished with failures", zap.String("run_id", summary.RunID))
		return OutcomeFailed, summary.RunID, runFailure(summary)
	}
	log.Info("committed for today", zap.String("run_id", summary.RunID))
	return OutcomeCommitted, summary.RunID, nil
}

func runFailure(s domain.RunSummary) error {
	if s.PushError != "" {
		return errors.New(s.PushError)
	}
	for _, r := range s.Results {
		if r.Error != "" {
			return errors.New(r.Error)
		}
	}
	return errors.New("run finished with failures")
}
