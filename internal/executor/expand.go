package executor

import (
	"fmt"
	"slices"
	"time"

	"streakline/internal/domain"
)

// Commit times fall within working hours, 09:00:00 to 19:59:59.
const (
	firstHour = 9
	lastHour  = 19
)

// Messages is the pool default commit messages are drawn from.
var Messages = []string{
	"Update README.md",
	"Fix typo in documentation",
	"Add comments for clarity",
	"Clean up code formatting",
	"Refactor utility function",
	"Update dependencies",
	"Add missing documentation",
	"Fix minor bug in error handling",
	"Improve code readability",
	"Add unit test for edge case",
	"Optimize performance",
	"Improve error messages",
	"Update configuration",
	"Fix linting issues",
	"Add new feature implementation",
	"Implement requested changes",
	"Remove deprecated code",
	"Update documentation",
	"Fix edge case",
	"Merge recent changes",
	"Add new test cases",
	"Improve logging",
}

// Rand is the randomness used for commit times and messages. *rand.Rand from
// math/rand/v2 satisfies it.
type Rand interface {
	IntN(n int) int
}

// Overrides replace the generated message, file or content of every request.
type Overrides struct {
	Message    string
	TargetFile string
	Content    string
}

// Expand turns plans into commit requests. A plan with count n yields n
// requests on its date, ordinals 1..n, times ascending within the date.
// Plans with a zero count yield nothing.
func Expand(plans []domain.DayPlan, o Overrides, loc *time.Location, rnd Rand) []domain.CommitRequest {
	if loc == nil {
		loc = time.Local
	}
	var out []domain.CommitRequest
	for _, p := range plans {
		if p.CommitCount <= 0 {
			continue
		}
		times := commitTimes(p, loc, rnd)
		date := p.Date.String()
		for i := 0; i < p.CommitCount; i++ {
			ord := i + 1
			req := domain.CommitRequest{
				Date:       p.Date,
				When:       times[i],
				Ordinal:    ord,
				Total:      p.CommitCount,
				Message:    o.Message,
				TargetFile: o.TargetFile,
			}
			if req.Message == "" {
				req.Message = Messages[rnd.IntN(len(Messages))]
			}
			if req.TargetFile == "" {
				req.TargetFile = fmt.Sprintf("streak_updates/%s/%d.md", date, i)
			}
			if o.Content == "" {
				req.Content = fmt.Sprintf("# Update for %s\n\nCommit #%d of %d\n\n<!-- %s -->\n",
					date, ord, p.CommitCount, req.When.Format(time.RFC3339))
			} else {
				req.Content = fmt.Sprintf("%s\n<!-- %s %d/%d %s -->\n",
					o.Content, date, ord, p.CommitCount, req.When.Format(time.RFC3339))
			}
			out = append(out, req)
		}
	}
	return out
}

func commitTimes(p domain.DayPlan, loc *time.Location, rnd Rand) []time.Time {
	span := (lastHour - firstHour + 1) * 3600
	times := make([]time.Time, p.CommitCount)
	for i := range times {
		sec := rnd.IntN(span)
		times[i] = p.Date.At(firstHour+sec/3600, (sec/60)%60, sec%60, loc)
	}
	slices.SortFunc(times, func(a, b time.Time) int { return a.Compare(b) })
	return times
}
