// Package gapfill plans one commit for every recent day the contribution
// history shows as empty.
package gapfill

import (
	"context"
	"time"

	"go.uber.org/zap"

	"streakline/internal/calendar"
	"streakline/internal/domain"
)

// DefaultDaysBack is the look-back used when Options.DaysBack is zero.
const DefaultDaysBack = 30

// Reader reports per-date contribution coverage.
type Reader interface {
	FetchContributions(ctx context.Context, window calendar.DateRange) (map[calendar.Date]bool, error)
}

// Options tunes a gap scan.
type Options struct {
	// DaysBack is how many days before today are scanned. Zero means
	// DefaultDaysBack; negative is invalid.
	DaysBack int
	// IncludeToday also plans today when it is still empty.
	IncludeToday bool
}

// Filler scans history for gaps.
type Filler struct {
	Reader Reader
	Now    func() time.Time
	Logger *zap.Logger
}

// New creates a Filler with a wall clock.
func New(r Reader, logger *zap.Logger) *Filler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filler{Reader: r, Now: time.Now, Logger: logger}
}

func (f *Filler) today() calendar.Date {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	return calendar.Today(now())
}

func (f *Filler) logger() *zap.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return zap.NewNop()
}

// Plan returns DayPlan{date, 1} for every empty date of [today-DaysBack, today),
// ascending. Today is considered only with IncludeToday. A history failure
// yields no plans and the failure.
func (f *Filler) Plan(ctx context.Context, opts Options) ([]domain.DayPlan, error) {
	daysBack := opts.DaysBack
	if daysBack == 0 {
		daysBack = DefaultDaysBack
	}
	today := f.today()
	window, err := calendar.Lookback(today, daysBack)
	if err != nil {
		return nil, err
	}
	covered, err := f.Reader.FetchContributions(ctx, window)
	if err != nil {
		return nil, err
	}
	plans := []domain.DayPlan{}
	for d := range window.Days() {
		if d == today && !opts.IncludeToday {
			continue
		}
		if covered[d] {
			continue
		}
		plans = append(plans, domain.DayPlan{Date: d, CommitCount: 1})
	}
	f.logger().Info("gap scan complete",
		zap.Stringer("window", window),
		zap.Int("gaps", len(plans)))
	return plans, nil
}

// TodayCovered reports whether today already has a contribution.
func (f *Filler) TodayCovered(ctx context.Context) (bool, error) {
	today := f.today()
	covered, err := f.Reader.FetchContributions(ctx, calendar.SingleDay(today))
	if err != nil {
		return false, err
	}
	return covered[today], nil
}

// Today is the date the filler considers current.
func (f *Filler) Today() calendar.Date {
	return f.today()
}
