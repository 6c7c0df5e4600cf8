package pattern

import (
	"time"

	"streakline/internal/calendar"
	"streakline/internal/errs"
)

// Reference is a normalized activity profile taken from another user's public
// calendar. Public calendars only expose daily totals, so a reference can
// shape the weekly rhythm and the day-to-day volume but never commit times.
type Reference struct {
	weekday [7]float64
	byDate  map[calendar.Date]float64
}

// NewReference normalizes raw daily activity levels. Per-date weights have mean
// 1.0 over the supplied dates; weekday weights have mean 1.0 over the weekdays
// that occur in levels (weekdays without samples weigh 1.0).
func NewReference(levels map[calendar.Date]float64) (*Reference, error) {
	var (
		sum     float64
		n       int
		wdSum   [7]float64
		wdCount [7]int
	)
	for d, v := range levels {
		if v < 0 {
			v = 0
		}
		sum += v
		n++
		wd := d.Weekday()
		wdSum[wd] += v
		wdCount[wd]++
	}
	if n == 0 || sum <= 0 {
		return nil, errs.NewInvalidConfig("reference", len(levels), "reference history has no activity")
	}
	mean := sum / float64(n)

	ref := &Reference{byDate: make(map[calendar.Date]float64, n)}
	for d, v := range levels {
		if v < 0 {
			v = 0
		}
		ref.byDate[d] = v / mean
	}

	var wdMeans [7]float64
	var present int
	var wdTotal float64
	for wd := 0; wd < 7; wd++ {
		if wdCount[wd] == 0 {
			continue
		}
		wdMeans[wd] = wdSum[wd] / float64(wdCount[wd])
		wdTotal += wdMeans[wd]
		present++
	}
	wdMean := wdTotal / float64(present)
	for wd := 0; wd < 7; wd++ {
		if wdCount[wd] == 0 {
			ref.weekday[wd] = 1
			continue
		}
		ref.weekday[wd] = wdMeans[wd] / wdMean
	}
	return ref, nil
}

// WeekdayOnly drops the per-date weights so only the weekly rhythm applies.
func (r *Reference) WeekdayOnly() *Reference {
	return &Reference{weekday: r.weekday}
}

// Weight returns the per-date weight for d when the reference covers d,
// otherwise the weight of d's weekday.
func (r *Reference) Weight(d calendar.Date) float64 {
	if r == nil {
		return 1
	}
	if w, ok := r.byDate[d]; ok {
		return w
	}
	return r.weekday[d.Weekday()]
}

// WeekdayWeight returns the normalized weight of wd.
func (r *Reference) WeekdayWeight(wd time.Weekday) float64 {
	if r == nil {
		return 1
	}
	return r.weekday[wd]
}
