// Package calendar provides civil dates and inclusive date ranges.
package calendar

import (
	"fmt"
	"iter"
	"time"

	"streakline/internal/errs"
)

// Layout is the textual form of a Date.
const Layout = "2006-01-02"

// Date is a calendar day without time of day or location.
// The zero value is not a valid date; use New, Parse or Of.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// New returns the normalized date for y-m-d (2023-02-30 becomes 2023-03-02).
func New(year int, month time.Month, day int) Date {
	return Of(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// Of returns the civil date of t in t's own location.
func Of(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Today returns the civil date of now in now's location. The local day is the
// boundary that contribution calendars use.
func Today(now time.Time) Date {
	return Of(now)
}

// Parse reads a YYYY-MM-DD date.
func Parse(s string) (Date, error) {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Of(t), nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(s string) Date {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

func (d Date) utc() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// At returns the instant at hour:min:sec on d in loc.
func (d Date) At(hour, min, sec int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Date(d.Year, d.Month, d.Day, hour, min, sec, 0, loc)
}

// AddDays returns d shifted by n days.
func (d Date) AddDays(n int) Date {
	return Of(d.utc().AddDate(0, 0, n))
}

// Weekday returns the day of the week of d.
func (d Date) Weekday() time.Weekday {
	return d.utc().Weekday()
}

// Compare returns -1, 0 or +1 as d is before, equal to or after o.
func (d Date) Compare(o Date) int {
	switch {
	case d.Year != o.Year:
		return cmpInt(d.Year, o.Year)
	case d.Month != o.Month:
		return cmpInt(int(d.Month), int(o.Month))
	default:
		return cmpInt(d.Day, o.Day)
	}
}

func cmpInt(a, b int) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// Before reports whether d is strictly before o.
func (d Date) Before(o Date) bool { return d.Compare(o) < 0 }

// After reports whether d is strictly after o.
func (d Date) After(o Date) bool { return d.Compare(o) > 0 }

// DaysUntil returns the number of days from d to o (negative if o is earlier).
func (d Date) DaysUntil(o Date) int {
	return int(o.utc().Sub(d.utc()).Hours() / 24)
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// IsWeekend reports whether d falls on a Saturday or Sunday.
func IsWeekend(d Date) bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// DateRange is an inclusive, immutable span of days.
type DateRange struct {
	start Date
	end   Date
}

// NewRange builds the range start..end. An end before start is an
// *errs.InvalidRangeError.
func NewRange(start, end Date) (DateRange, error) {
	if end.Before(start) {
		return DateRange{}, &errs.InvalidRangeError{Start: start.String(), End: end.String()}
	}
	return DateRange{start: start, end: end}, nil
}

// SingleDay is the range containing only d.
func SingleDay(d Date) DateRange {
	return DateRange{start: d, end: d}
}

// Lookback is the range [today - daysBack, today].
func Lookback(today Date, daysBack int) (DateRange, error) {
	if daysBack < 0 {
		return DateRange{}, errs.NewInvalidConfig("days-back", daysBack, "must not be negative")
	}
	return NewRange(today.AddDays(-daysBack), today)
}

// Start returns the first day of r.
func (r DateRange) Start() Date { return r.start }

// End returns the last day of r.
func (r DateRange) End() Date { return r.end }

// Len returns the number of days in r.
func (r DateRange) Len() int {
	return r.start.DaysUntil(r.end) + 1
}

// Contains reports whether d lies within r.
func (r DateRange) Contains(d Date) bool {
	return !d.Before(r.start) && !d.After(r.end)
}

// Days yields every day of r in ascending order. The sequence can be ranged
// over any number of times.
func (r DateRange) Days() iter.Seq[Date] {
	return func(yield func(Date) bool) {
		n := r.Len()
		for i := 0; i < n; i++ {
			if !yield(r.start.AddDays(i)) {
				return
			}
		}
	}
}

// Split cuts r into consecutive ranges of at most maxDays days.
func (r DateRange) Split(maxDays int) []DateRange {
	if maxDays <= 0 {
		return []DateRange{r}
	}
	var out []DateRange
	for start := r.start; !start.After(r.end); start = start.AddDays(maxDays) {
		end := start.AddDays(maxDays - 1)
		if end.After(r.end) {
			end = r.end
		}
		out = append(out, DateRange{start: start, end: end})
	}
	return out
}

func (r DateRange) String() string {
	return r.start.String() + ".." + r.end.String()
}
