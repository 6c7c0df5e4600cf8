package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"streakline/internal/app"
	"streakline/internal/config"
	"streakline/internal/engine"
	"streakline/internal/errs"
	"streakline/internal/github"
	"streakline/internal/repo"
)

func (c *cli) setupCmd() *cobra.Command {
	var token, username, repoPath string
	var noVerify bool
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Store the personal access token and preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := app.LoadConfig(c.appOptions(false))
			if err != nil {
				return err
			}
			if token == "" {
				c.printf("Enter your GitHub Personal Access Token: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read token: %w", err)
				}
				token = strings.TrimSpace(line)
			}
			if token == "" {
				return &errs.MissingCredentialError{Sources: []string{"--token", "stdin"}}
			}
			cfg.GitHub.Token = token
			if username != "" {
				cfg.GitHub.Username = username
			}
			if repoPath != "" {
				cfg.Preferences.Repo = repoPath
			}

			if !noVerify {
				c.printf("Testing GitHub API connection...\n")
				login, err := github.New(cfg.GitHub.BaseURL, token).Viewer(cmd.Context())
				if err != nil {
					return fmt.Errorf("connect to github: %w", err)
				}
				c.printf("Successfully authenticated as: %s\n", login)
				if cfg.GitHub.Username == "" {
					cfg.GitHub.Username = login
				}
			}
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			c.printf("Configuration saved to %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "personal access token (prompted when empty)")
	cmd.Flags().StringVar(&username, "username", "", "account whose calendar is read (default: token owner)")
	cmd.Flags().StringVar(&repoPath, "repo", "", "default repository path")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "skip the API connection test")
	return cmd
}

func (c *cli) reposCmd() *cobra.Command {
	var language string
	var limit int
	cmd := &cobra.Command{
		Use:   "repos",
		Short: "Suggest repositories, least recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), true, func(ctx context.Context, ac *app.Context) error {
				all, err := ac.GitHub.Repositories(ctx)
				if err != nil {
					return err
				}
				repos := github.SuggestRepositories(all, language)
				if limit > 0 && len(repos) > limit {
					repos = repos[:limit]
				}
				if c.jsonOutput() {
					return c.printJSON(repos)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(c.out)
				tw.AppendHeader(table.Row{"#", "Name", "Language", "Private", "Last updated"})
				for i, r := range repos {
					tw.AppendRow(table.Row{i + 1, r.FullName, r.Language, r.Private, r.UpdatedAt.Format("2006-01-02")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&language, "language", "", "only repositories in this language")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum repositories to show (0 for all)")
	return cmd
}

func (c *cli) analyzeCmd() *cobra.Command {
	var user string
	var daysBack, show int
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Show current and longest streak and missing dates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if daysBack < 1 {
				return errs.NewInvalidConfig("days-back", daysBack, "must be at least 1")
			}
			return c.withApp(cmd.Context(), true, func(ctx context.Context, ac *app.Context) error {
				stats, err := ac.Engine.Analyze(ctx, user, daysBack)
				if err != nil {
					return err
				}
				if c.jsonOutput() {
					stats.Days = nil
					return c.printJSON(stats)
				}
				c.printf("Current streak: %d days\n", stats.CurrentStreak)
				c.printf("Longest streak: %d days\n", stats.LongestStreak)
				last := "none"
				if stats.LastContribution != nil {
					last = stats.LastContribution.String()
				}
				c.printf("Last contribution: %s\n", last)
				if len(stats.MissingDates) > 0 {
					c.printf("Missing dates in your recent history:\n")
					for i, d := range stats.MissingDates {
						if i == show {
							c.printf("... and %d more\n", len(stats.MissingDates)-show)
							break
						}
						c.printf("- %s\n", d)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "account to analyze (default github.username, then the token owner)")
	cmd.Flags().IntVar(&daysBack, "days-back", engine.DefaultAnalyzeDays, "look-back window in days")
	cmd.Flags().IntVar(&show, "show", 10, "missing dates to list")
	return cmd
}

func (c *cli) runsCmd() *cobra.Command {
	runs := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded runs",
	}
	var limit int
	var kind, status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), false, func(ctx context.Context, ac *app.Context) error {
				items, err := ac.Engine.Repo.ListRuns(ctx, repo.RunFilters{Limit: limit, Kind: kind, Status: status})
				if err != nil {
					return err
				}
				if c.jsonOutput() {
					return c.printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(c.out)
				tw.AppendHeader(table.Row{"ID", "Kind", "Status", "Started", "Dates", "Commits", "Pushed", "Repo"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.Kind, r.Status, r.StartedAt, r.Dates, r.Commits, r.Pushed, r.RepoPath})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "number of runs")
	list.Flags().StringVar(&kind, "kind", "", "filter by kind (single, bulk, pattern, fill, watchdog)")
	list.Flags().StringVar(&status, "status", "", "filter by status")

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run with its per-date results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), false, func(ctx context.Context, ac *app.Context) error {
				detail, err := ac.Engine.GetRun(ctx, args[0])
				if err != nil {
					return fmt.Errorf("run %s: %w", args[0], err)
				}
				if c.jsonOutput() {
					return c.printJSON(detail)
				}
				finished := "-"
				if detail.FinishedAt != nil {
					finished = *detail.FinishedAt
				}
				c.printf("Run %s (%s) %s\nRepo: %s\nStarted: %s  Finished: %s\n",
					detail.ID, detail.Kind, detail.Status, detail.RepoPath, detail.StartedAt, finished)
				if detail.PushError != "" {
					c.printf("Push error: %s\n", detail.PushError)
				}
				if detail.Error != "" {
					c.printf("Error: %s\n", detail.Error)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(c.out)
				tw.AppendHeader(table.Row{"Date", "Requested", "Created", "Status", "Commits", "Error"})
				for _, r := range detail.Results {
					tw.AppendRow(table.Row{r.Date, r.Requested, r.Created, r.Status, strings.Join(r.CommitIDs, " "), r.Error})
				}
				tw.Render()
				return nil
			})
		},
	}
	runs.AddCommand(list, show)
	return runs
}

func (c *cli) logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every run start, settled date, push failure, history outage and watchdog check.",
	}
	var n int
	var evtType, runID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), false, func(ctx context.Context, ac *app.Context) error {
				items, err := ac.Engine.Repo.LatestEvents(ctx, n, runID, evtType)
				if err != nil {
					return err
				}
				if c.jsonOutput() {
					return c.printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(c.out)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Run", "Payload"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.RunID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&runID, "run", "", "only events of this run")
	log.AddCommand(tail)
	return log
}

func (c *cli) configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the config file",
	}
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the loaded config with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := app.LoadConfig(c.appOptions(false))
			if err != nil {
				return err
			}
			red := cfg.Redacted()
			if c.jsonOutput() {
				return c.printJSON(map[string]any{"path": path, "config": red})
			}
			data, err := yaml.Marshal(red)
			if err != nil {
				return err
			}
			c.printf("# %s\n%s", path, data)
			return nil
		},
	}
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, path, err := app.LoadConfig(c.appOptions(false))
			if c.jsonOutput() {
				if perr := c.printJSON(map[string]any{"ok": err == nil, "path": path, "error": errString(err)}); perr != nil {
					return perr
				}
			}
			if err != nil {
				return err
			}
			if !c.jsonOutput() {
				c.printf("config OK (%s)\n", path)
			}
			return nil
		},
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, path, err := app.LoadConfig(c.appOptions(false))
			if err != nil && !force {
				return err
			}
			if _, statErr := os.Stat(path); statErr == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o600); err != nil {
				return err
			}
			c.printf("Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cfgCmd.AddCommand(show, validate, initCmd)
	return cfgCmd
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			c.printf("streak %s\n", version)
		},
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
