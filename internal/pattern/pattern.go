// Package pattern turns a date range into per-day commit counts that look like
// a person's week rather than a metronome.
package pattern

import (
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"streakline/internal/calendar"
	"streakline/internal/domain"
	"streakline/internal/errs"
)

// Defaults for Config.
const (
	DefaultMaxDailyCommits  = 10
	DefaultWeekendDampening = 0.3
)

// Source is the randomness the generator draws from. *rand.Rand satisfies it.
type Source interface {
	// Float64 returns a value in [0, 1).
	Float64() float64
}

// NewSource returns a deterministic source for seed.
func NewSource(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Config controls the generated shape.
type Config struct {
	MaxDailyCommits  int
	WeekendDampening float64
	// Reference optionally reweights days after another user's rhythm.
	Reference *Reference
}

// DefaultConfig returns the default configuration without a reference.
func DefaultConfig() Config {
	return Config{
		MaxDailyCommits:  DefaultMaxDailyCommits,
		WeekendDampening: DefaultWeekendDampening,
	}
}

// Validate checks the numeric bounds.
func (c Config) Validate() error {
	if c.MaxDailyCommits < 1 {
		return errs.NewInvalidConfig("max-daily-commits", c.MaxDailyCommits, "must be at least 1")
	}
	if math.IsNaN(c.WeekendDampening) || c.WeekendDampening < 0 || c.WeekendDampening > 1 {
		return errs.NewInvalidConfig("weekend-dampening", c.WeekendDampening, "must be within [0, 1]")
	}
	return nil
}

// Weight is the relative expected activity of d before randomness.
func (c Config) Weight(d calendar.Date) float64 {
	w := 1.0
	if calendar.IsWeekend(d) {
		w = c.WeekendDampening
	}
	if c.Reference != nil {
		w *= c.Reference.Weight(d)
	}
	return w
}

// Generate produces one DayPlan per date of r in ascending order. Each count is
// round(weight * uniform(0, max)) clamped to [0, max]; zero days are expected.
func Generate(r calendar.DateRange, cfg Config, src Source) ([]domain.DayPlan, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if src == nil {
		src = NewSource(uint64(time.Now().UnixNano()))
	}
	max := cfg.MaxDailyCommits
	plans := make([]domain.DayPlan, 0, r.Len())
	for d := range r.Days() {
		draw := src.Float64() * float64(max)
		plans = append(plans, domain.DayPlan{
			Date:        d,
			CommitCount: clamp(math.Round(cfg.Weight(d)*draw), max),
		})
	}
	return plans, nil
}

func clamp(v float64, max int) int {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= float64(max) {
		return max
	}
	return int(v)
}

// Uniform gives every date of r the same explicit count.
func Uniform(r calendar.DateRange, count int) ([]domain.DayPlan, error) {
	if count < 1 {
		return nil, errs.NewInvalidConfig("count", count, "must be at least 1")
	}
	plans := make([]domain.DayPlan, 0, r.Len())
	for d := range r.Days() {
		plans = append(plans, domain.DayPlan{Date: d, CommitCount: count})
	}
	return plans, nil
}

// Dates gives each listed date count commits, ascending and deduplicated.
func Dates(dates []calendar.Date, count int) ([]domain.DayPlan, error) {
	if count < 1 {
		return nil, errs.NewInvalidConfig("count", count, "must be at least 1")
	}
	seen := make(map[calendar.Date]bool, len(dates))
	plans := make([]domain.DayPlan, 0, len(dates))
	for _, d := range dates {
		if seen[d] {
			continue
		}
		seen[d] = true
		plans = append(plans, domain.DayPlan{Date: d, CommitCount: count})
	}
	SortPlans(plans)
	return plans, nil
}

// SortPlans orders plans by date.
func SortPlans(plans []domain.DayPlan) {
	slices.SortStableFunc(plans, func(a, b domain.DayPlan) int { return a.Date.Compare(b.Date) })
}

// Total sums the commit counts of plans.
func Total(plans []domain.DayPlan) int {
	n := 0
	for _, p := range plans {
		n += p.CommitCount
	}
	return n
}
