// Package history reads contribution calendars from a history provider and
// derives coverage, streak statistics and reference activity levels from them.
package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"streakline/internal/calendar"
	"streakline/internal/domain"
	"streakline/internal/errs"
)

// DefaultTimeout bounds a single history fetch.
const DefaultTimeout = 30 * time.Second

// Provider returns per-day contribution counts for a user. Days the provider
// has no record for may be omitted.
type Provider interface {
	ContributionDays(ctx context.Context, user string, window calendar.DateRange) (map[calendar.Date]int, error)
}

// Reader projects provider data onto complete date windows.
type Reader struct {
	Provider Provider
	// User is the account whose history is read; empty lets the provider
	// resolve the authenticated user.
	User    string
	Timeout time.Duration
	Logger  *zap.Logger
}

func (r Reader) logger() *zap.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return zap.NewNop()
}

func (r Reader) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return DefaultTimeout
}

func (r Reader) counts(ctx context.Context, user string, window calendar.DateRange) (map[calendar.Date]int, error) {
	if r.Provider == nil {
		return nil, &errs.HistoryUnavailableError{User: user, Err: errors.New("no history provider configured")}
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	r.logger().Debug("fetching contribution history",
		zap.String("user", user), zap.Stringer("window", window))
	raw, err := r.Provider.ContributionDays(ctx, user, window)
	if err != nil {
		var hue *errs.HistoryUnavailableError
		if errors.As(err, &hue) {
			return nil, err
		}
		return nil, &errs.HistoryUnavailableError{User: user, Err: err}
	}
	out := make(map[calendar.Date]int, window.Len())
	for d := range window.Days() {
		out[d] = 0
	}
	for d, n := range raw {
		if !window.Contains(d) {
			continue
		}
		if n < 0 {
			n = 0
		}
		out[d] = n
	}
	return out, nil
}

// FetchContributions reports, for every date of window, whether the user has
// at least one contribution. Dates the provider does not know are false. Any
// provider failure is an *errs.HistoryUnavailableError.
func (r Reader) FetchContributions(ctx context.Context, window calendar.DateRange) (map[calendar.Date]bool, error) {
	counts, err := r.counts(ctx, r.User, window)
	if err != nil {
		return nil, err
	}
	out := make(map[calendar.Date]bool, len(counts))
	for d, n := range counts {
		out[d] = n > 0
	}
	return out, nil
}

// Records returns the window as ascending contribution records.
func (r Reader) Records(ctx context.Context, window calendar.DateRange) ([]domain.ContributionRecord, error) {
	counts, err := r.counts(ctx, r.User, window)
	if err != nil {
		return nil, err
	}
	records := make([]domain.ContributionRecord, 0, window.Len())
	for d := range window.Days() {
		n := counts[d]
		records = append(records, domain.ContributionRecord{Date: d, HasContribution: n > 0, Count: n})
	}
	return records, nil
}

// ReferenceLevels returns another user's per-day activity over window, for use
// as a reference distribution. Public calendars only expose daily totals, so
// the levels are an approximation of that user's rhythm.
func (r Reader) ReferenceLevels(ctx context.Context, user string, window calendar.DateRange) (map[calendar.Date]float64, error) {
	if user == "" {
		return nil, errs.NewInvalidConfig("reference-user", user, "must not be empty")
	}
	counts, err := r.counts(ctx, user, window)
	if err != nil {
		return nil, err
	}
	levels := make(map[calendar.Date]float64, len(counts))
	for d, n := range counts {
		levels[d] = float64(n)
	}
	return levels, nil
}

// Analyze computes streak statistics from ascending records ending at or
// before today. A today without contributions does not break the current
// streak since the day is not over yet.
func Analyze(records []domain.ContributionRecord, today calendar.Date) domain.StreakStats {
	sorted := make([]domain.ContributionRecord, 0, len(records))
	for _, rec := range records {
		if rec.Date.After(today) {
			continue
		}
		sorted = append(sorted, rec)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	stats := domain.StreakStats{MissingDates: []calendar.Date{}, Days: sorted}

	run := 0
	for _, rec := range sorted {
		if rec.HasContribution {
			run++
			if run > stats.LongestStreak {
				stats.LongestStreak = run
			}
			d := rec.Date
			stats.LastContribution = &d
		} else {
			run = 0
		}
	}

	for i := len(sorted) - 1; i >= 0; i-- {
		rec := sorted[i]
		if rec.HasContribution {
			stats.CurrentStreak++
			continue
		}
		if rec.Date == today && stats.CurrentStreak == 0 {
			continue
		}
		break
	}

	for i := len(sorted) - 1; i >= 0; i-- {
		if !sorted[i].HasContribution {
			stats.MissingDates = append(stats.MissingDates, sorted[i].Date)
		}
	}
	return stats
}

// AnalyzeWindow reads the window ending today and analyzes it.
func (r Reader) AnalyzeWindow(ctx context.Context, today calendar.Date, daysBack int) (domain.StreakStats, error) {
	window, err := calendar.Lookback(today, daysBack)
	if err != nil {
		return domain.StreakStats{}, err
	}
	records, err := r.Records(ctx, window)
	if err != nil {
		return domain.StreakStats{}, fmt.Errorf("analyze %s: %w", window, err)
	}
	stats := Analyze(records, today)
	stats.User = r.User
	return stats, nil
}
