package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"streakline/internal/app"
	"streakline/internal/calendar"
	"streakline/internal/credentials"
	"streakline/internal/domain"
	"streakline/internal/engine"
	"streakline/internal/errs"
	"streakline/internal/executor"
	"streakline/internal/gapfill"
	"streakline/internal/pattern"
)

// runFlags are shared by every command that commits.
type runFlags struct {
	repo    string
	push    bool
	message string
	file    string
	content string
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.repo, "repo", "", "repository path (default preferences.repo)")
	cmd.Flags().BoolVar(&f.push, "push", false, "push once after committing (default preferences.push)")
	cmd.Flags().StringVar(&f.message, "message", "", "commit message (default: random from a built-in pool)")
	cmd.Flags().StringVar(&f.file, "file", "", "file to write, relative to the repository root")
	cmd.Flags().StringVar(&f.content, "content", "", "file content")
}

// options merges flags over the config file. Flags win only when set.
func (f *runFlags) options(cmd *cobra.Command, ac *app.Context, progress func(domain.DateResult)) engine.RunOptions {
	cfg := ac.Config
	ro := engine.RunOptions{
		RepoPath: cfg.Preferences.Repo,
		Push:     cfg.Preferences.Push,
		Overrides: executor.Overrides{
			Message:    cfg.Commit.Message,
			TargetFile: cfg.Commit.File,
			Content:    cfg.Commit.Content,
		},
		Location: time.Local,
		OnResult: progress,
	}
	if f.repo != "" {
		ro.RepoPath = f.repo
	}
	if cmd.Flags().Changed("push") {
		ro.Push = f.push
	}
	if f.message != "" {
		ro.Message = f.message
	}
	if f.file != "" {
		ro.TargetFile = f.file
	}
	if f.content != "" {
		ro.Content = f.content
	}
	return ro
}

func (c *cli) progress() func(domain.DateResult) {
	if c.jsonOutput() {
		return nil
	}
	return func(r domain.DateResult) {
		mark := "ok"
		if r.Status != domain.StatusSuccess {
			mark = r.Status
		}
		c.printf("%s  %d/%d %s\n", r.Date, r.Created, r.Requested, mark)
	}
}

func parseDate(flag, s string) (calendar.Date, error) {
	d, err := calendar.Parse(strings.TrimSpace(s))
	if err != nil {
		return calendar.Date{}, errs.NewInvalidConfig(flag, s, "expected YYYY-MM-DD")
	}
	return d, nil
}

func parseRange(start, end string) (calendar.DateRange, error) {
	if start == "" || end == "" {
		return calendar.DateRange{}, errs.NewInvalidConfig("start/end", start+".."+end, "both --start and --end are required")
	}
	s, err := parseDate("start", start)
	if err != nil {
		return calendar.DateRange{}, err
	}
	e, err := parseDate("end", end)
	if err != nil {
		return calendar.DateRange{}, err
	}
	return calendar.NewRange(s, e)
}

func parseDateList(list []string) ([]calendar.Date, error) {
	out := make([]calendar.Date, 0, len(list))
	for _, s := range list {
		d, err := parseDate("dates", s)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// finish prints a run summary and turns failures into exit code 3.
func (c *cli) finish(s domain.RunSummary) error {
	if c.jsonOutput() {
		if err := c.printJSON(s); err != nil {
			return err
		}
	} else {
		c.printSummary(s)
	}
	if s.HasFailures() {
		return newExitError(s.ExitCode(), fmt.Sprintf("run %s finished with failures", s.RunID))
	}
	return nil
}

func (c *cli) printSummary(s domain.RunSummary) {
	tw := table.NewWriter()
	tw.SetOutputMirror(c.out)
	tw.AppendHeader(table.Row{"Date", "Requested", "Created", "Status", "Error"})
	for _, r := range s.Results {
		tw.AppendRow(table.Row{r.Date, r.Requested, r.Created, r.Status, r.Error})
	}
	tw.AppendFooter(table.Row{"", "", s.CommitsCreated(), fmt.Sprintf("%d ok / %d failed / %d skipped", s.Succeeded, s.Failed, s.Skipped), ""})
	tw.Render()
	c.printf("Run %s: %s\n", s.RunID, s.Status())
	switch {
	case s.Pushed:
		c.printf("Pushed to the remote.\n")
	case s.PushError != "":
		c.printf("Push failed: %s (local commits are kept)\n", s.PushError)
	case s.CommitsCreated() > 0:
		c.printf("Note: commits were not pushed. Use --push to push changes.\n")
	}
}

func (c *cli) printPlans(plans []domain.DayPlan) {
	tw := table.NewWriter()
	tw.SetOutputMirror(c.out)
	tw.AppendHeader(table.Row{"Date", "Weekday", "Commits"})
	for _, p := range plans {
		tw.AppendRow(table.Row{p.Date, p.Date.Weekday(), p.CommitCount})
	}
	tw.AppendFooter(table.Row{"", "total", pattern.Total(plans)})
	tw.Render()
}

func (c *cli) commitCmd() *cobra.Command {
	var rf runFlags
	var date string
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Create one backdated commit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := parseDate("date", date)
			if err != nil {
				return err
			}
			return c.withApp(cmd.Context(), false, func(ctx context.Context, ac *app.Context) error {
				s, err := ac.Engine.Backdate(ctx, engine.BackdateOptions{RunOptions: rf.options(cmd, ac, c.progress()), Date: d})
				if err != nil {
					return err
				}
				return c.finish(s)
			})
		},
	}
	rf.register(cmd)
	cmd.Flags().StringVar(&date, "date", "", "date of the commit (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func (c *cli) bulkCmd() *cobra.Command {
	var rf runFlags
	var start, end string
	var dates []string
	var count int
	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Create a fixed number of commits on every date of a range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.BulkOptions{Count: count}
			if len(dates) > 0 {
				list, err := parseDateList(dates)
				if err != nil {
					return err
				}
				opts.Dates = list
			} else {
				r, err := parseRange(start, end)
				if err != nil {
					return err
				}
				opts.Range = r
			}
			if count < 1 {
				return errs.NewInvalidConfig("count", count, "must be at least 1")
			}
			return c.withApp(cmd.Context(), false, func(ctx context.Context, ac *app.Context) error {
				opts.RunOptions = rf.options(cmd, ac, c.progress())
				if !c.jsonOutput() {
					c.printf("Bulk backdating %d commit(s) per date into %s\n", count, opts.RepoPath)
				}
				s, err := ac.Engine.Bulk(ctx, opts)
				if err != nil {
					return err
				}
				return c.finish(s)
			})
		},
	}
	rf.register(cmd)
	cmd.Flags().StringVar(&start, "start", "", "first date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "last date, inclusive (YYYY-MM-DD)")
	cmd.Flags().StringSliceVar(&dates, "dates", nil, "explicit dates instead of a range")
	cmd.Flags().IntVar(&count, "count", 1, "commits per date")
	cmd.MarkFlagsMutuallyExclusive("dates", "start")
	cmd.MarkFlagsMutuallyExclusive("dates", "end")
	return cmd
}

func (c *cli) patternCmd() *cobra.Command {
	var rf runFlags
	var start, end, reference string
	var maxDaily int
	var dampening float64
	var seed uint64
	var weekdayOnly, dryRun bool
	cmd := &cobra.Command{
		Use:   "pattern",
		Short: "Generate natural-looking activity over a range",
		Long: `pattern assigns each date a random number of commits, fewer on weekends,
optionally shaped after another user's public contribution calendar.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseRange(start, end)
			if err != nil {
				return err
			}
			return c.withApp(cmd.Context(), false, func(ctx context.Context, ac *app.Context) error {
				cfg := ac.Config
				opts := engine.NaturalOptions{
					RunOptions: rf.options(cmd, ac, c.progress()),
					Range:      r,
					Pattern: pattern.Config{
						MaxDailyCommits:  cfg.Pattern.MaxDailyCommits,
						WeekendDampening: cfg.Pattern.WeekendDampening,
					},
					ReferenceUser: cfg.Pattern.ReferenceUser,
					WeekdayOnly:   weekdayOnly,
					DryRun:        dryRun,
				}
				if cmd.Flags().Changed("max") {
					opts.Pattern.MaxDailyCommits = maxDaily
				}
				if cmd.Flags().Changed("dampening") {
					opts.Pattern.WeekendDampening = dampening
				}
				if cmd.Flags().Changed("reference") {
					opts.ReferenceUser = reference
				}
				if cmd.Flags().Changed("seed") {
					opts.Seed = &seed
				}
				if opts.ReferenceUser != "" && ac.GitHub == nil {
					_, err := credentials.NewStore(ac.ConfigPath, ac.Config.GitHub.Token).Token()
					return err
				}
				res, err := ac.Engine.Natural(ctx, opts)
				if err != nil {
					return err
				}
				return c.planResult(res)
			})
		},
	}
	rf.register(cmd)
	cmd.Flags().StringVar(&start, "start", "", "first date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "last date, inclusive (YYYY-MM-DD)")
	cmd.Flags().IntVar(&maxDaily, "max", pattern.DefaultMaxDailyCommits, "maximum commits on one day (default pattern.max_daily_commits)")
	cmd.Flags().Float64Var(&dampening, "dampening", pattern.DefaultWeekendDampening, "weekend reduction in [0, 1] (default pattern.weekend_dampening)")
	cmd.Flags().StringVar(&reference, "reference", "", "shape the pattern after this user's calendar")
	cmd.Flags().BoolVar(&weekdayOnly, "weekday-only", false, "keep only the reference's weekly rhythm")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "random seed for a reproducible pattern")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the plan without committing")
	return cmd
}

func (c *cli) fillCmd() *cobra.Command {
	var rf runFlags
	var daysBack int
	var includeToday, dryRun bool
	cmd := &cobra.Command{
		Use:   "fill",
		Short: "Commit once on every recent date without contributions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), true, func(ctx context.Context, ac *app.Context) error {
				days := ac.Config.Schedule.DaysBack
				if cmd.Flags().Changed("days-back") {
					days = daysBack
				}
				if !c.jsonOutput() {
					c.printf("Analyzing contribution history and filling missing dates (last %d days)...\n", days)
				}
				res, err := ac.Engine.Fill(ctx, engine.FillOptions{
					RunOptions: rf.options(cmd, ac, c.progress()),
					Options:    gapfill.Options{DaysBack: days, IncludeToday: includeToday},
					DryRun:     dryRun,
				})
				if err != nil {
					return err
				}
				if len(res.Plans) == 0 && !c.jsonOutput() {
					c.printf("Your streak is already complete. No missing dates found.\n")
					return nil
				}
				return c.planResult(res)
			})
		},
	}
	rf.register(cmd)
	cmd.Flags().IntVar(&daysBack, "days-back", gapfill.DefaultDaysBack, "look-back window in days (default schedule.days_back)")
	cmd.Flags().BoolVar(&includeToday, "include-today", false, "also fill today when it is empty")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the missing dates without committing")
	return cmd
}

// planResult prints a dry-run plan or the summary of an executed one.
func (c *cli) planResult(res engine.PlanResult) error {
	if res.Summary == nil {
		if c.jsonOutput() {
			return c.printJSON(res)
		}
		c.printPlans(res.Plans)
		return nil
	}
	return c.finish(*res.Summary)
}
