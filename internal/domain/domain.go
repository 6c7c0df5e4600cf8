package domain

import (
	"time"

	"streakline/internal/calendar"
)

// DayPlan asks for CommitCount commits on Date. Zero means no action.
type DayPlan struct {
	Date        calendar.Date `json:"date"`
	CommitCount int           `json:"commit_count"`
}

// ContributionRecord is the provider's view of a single day.
type ContributionRecord struct {
	Date            calendar.Date `json:"date"`
	HasContribution bool          `json:"has_contribution"`
	Count           int           `json:"count"`
}

// CommitRequest is one backdated commit.
type CommitRequest struct {
	Date       calendar.Date `json:"date"`
	When       time.Time     `json:"when"`
	Message    string        `json:"message"`
	TargetFile string        `json:"target_file"`
	Content    string        `json:"content"`
	Ordinal    int           `json:"ordinal"`
	Total      int           `json:"total"`
}

// Run kinds.
const (
	KindSingle   = "single"
	KindBulk     = "bulk"
	KindPattern  = "pattern"
	KindFill     = "fill"
	KindWatchdog = "watchdog"
)

// Per-date result statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Run statuses.
const (
	RunRunning = "running"
	RunSuccess = "success"
	RunPartial = "partial"
	RunFailed  = "failed"
	RunAborted = "aborted"
)

// DateResult is the outcome of all requests for one date.
type DateResult struct {
	Date      calendar.Date `json:"date"`
	Requested int           `json:"requested"`
	Created   int           `json:"created"`
	Status    string        `json:"status" enum:"success,failed,skipped"`
	Error     string        `json:"error,omitempty"`
	CommitIDs []string      `json:"commit_ids,omitempty"`
}

// RunSummary aggregates one executor run.
type RunSummary struct {
	RunID      string       `json:"run_id"`
	Kind       string       `json:"kind"`
	RepoPath   string       `json:"repo_path"`
	StartedAt  time.Time    `json:"started_at" format:"date-time"`
	FinishedAt time.Time    `json:"finished_at" format:"date-time"`
	Results    []DateResult `json:"results"`
	PushAsked  bool         `json:"push_requested"`
	Pushed     bool         `json:"pushed"`
	PushError  string       `json:"push_error,omitempty"`
	Canceled   bool         `json:"canceled,omitempty"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	Skipped    int          `json:"skipped"`
}

// CommitsCreated totals created commits across all dates.
func (s RunSummary) CommitsCreated() int {
	n := 0
	for _, r := range s.Results {
		n += r.Created
	}
	return n
}

// HasFailures reports whether any date failed or was skipped, or the push failed.
func (s RunSummary) HasFailures() bool {
	return s.Failed > 0 || s.Skipped > 0 || s.PushError != ""
}

// Status condenses the summary into a run status.
func (s RunSummary) Status() string {
	switch {
	case !s.HasFailures():
		return RunSuccess
	case s.Succeeded > 0:
		return RunPartial
	default:
		return RunFailed
	}
}

// ExitCodePartialFailure is returned by ExitCode when any date failed.
const ExitCodePartialFailure = 3

// ExitCode is 0 when every date and the push succeeded, otherwise
// ExitCodePartialFailure.
func (s RunSummary) ExitCode() int {
	if s.HasFailures() {
		return ExitCodePartialFailure
	}
	return 0
}

// StreakStats describes the shape of a contribution history.
type StreakStats struct {
	User             string               `json:"user"`
	CurrentStreak    int                  `json:"current_streak"`
	LongestStreak    int                  `json:"longest_streak"`
	LastContribution *calendar.Date       `json:"last_contribution,omitempty"`
	MissingDates     []calendar.Date      `json:"missing_dates"`
	Days             []ContributionRecord `json:"days,omitempty"`
}

// Repository is a hosted repository owned by the authenticated user.
type Repository struct {
	Name      string    `json:"name"`
	FullName  string    `json:"full_name"`
	Language  string    `json:"language,omitempty"`
	Private   bool      `json:"private"`
	HTMLURL   string    `json:"html_url"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Run is a ledger row for a recorded executor run.
type Run struct {
	ID         string  `json:"id"`
	Kind       string  `json:"kind"`
	RepoPath   string  `json:"repo_path"`
	Status     string  `json:"status" enum:"running,success,partial,failed,aborted"`
	StartedAt  string  `json:"started_at" format:"date-time"`
	FinishedAt *string `json:"finished_at,omitempty" format:"date-time"`
	Dates      int     `json:"dates"`
	Commits    int     `json:"commits"`
	Succeeded  int     `json:"succeeded"`
	Failed     int     `json:"failed"`
	Pushed     bool    `json:"pushed"`
	PushError  string  `json:"push_error,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// Event is a ledger log entry.
type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	Type    string `json:"type"`
	RunID   string `json:"run_id,omitempty"`
	Payload string `json:"payload_json"`
}
