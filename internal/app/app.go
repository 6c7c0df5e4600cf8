// Package app assembles the engine from configuration, the ledger and the
// hosting credentials.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"streakline/internal/config"
	"streakline/internal/credentials"
	"streakline/internal/db"
	"streakline/internal/engine"
	"streakline/internal/executor"
	"streakline/internal/github"
	"streakline/internal/gitops"
	"streakline/internal/history"
	"streakline/internal/migrate"
)

// Options carries command-line overrides.
type Options struct {
	ConfigPath string
	// Workspace holds the ledger; the config's preferences.workspace, then
	// the user's home, when empty.
	Workspace string
	// RequireToken fails with a missing credential before anything touches
	// the network.
	RequireToken bool
	Logger       *zap.Logger
	// Credentials overrides the default token chain.
	Credentials *credentials.Store
}

// Context is an opened application: loaded config, migrated ledger and a
// wired engine. Close releases the ledger.
type Context struct {
	Config     *config.Config
	ConfigPath string
	Workspace  string
	DB         *sql.DB
	GitHub     *github.Client
	Git        *gitops.Committer
	Engine     engine.Engine
	Logger     *zap.Logger
}

// LoadConfig reads the config file named by opts, or the default path.
func LoadConfig(opts Options) (*config.Config, string, error) {
	path := opts.ConfigPath
	if path == "" {
		path = config.Path("")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// Open loads config, opens and migrates the ledger, and wires the engine.
// Runs left running by a previous process are marked aborted.
func Open(ctx context.Context, opts Options) (*Context, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, path, err := LoadConfig(opts)
	if err != nil {
		return nil, err
	}

	store := credentials.NewStore(path, cfg.GitHub.Token)
	if opts.Credentials != nil {
		store = *opts.Credentials
	}
	token, tokErr := store.Token()
	if tokErr != nil && opts.RequireToken {
		return nil, tokErr
	}

	workspace := resolveWorkspace(opts.Workspace, cfg.Preferences.Workspace)
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}

	timeout, err := cfg.HistoryTimeout()
	if err != nil {
		conn.Close()
		return nil, err
	}
	reader := history.Reader{User: cfg.GitHub.Username, Timeout: timeout, Logger: logger.Named("history")}
	var client *github.Client
	if token != "" {
		client = github.New(cfg.GitHub.BaseURL, token)
		if timeout > 0 {
			client.Timeout = timeout
		}
		reader.Provider = client
	}

	git := gitops.New(logger.Named("git"))
	ex := executor.New(git, git, logger.Named("executor"))
	e := engine.New(conn, reader, ex, logger.Named("engine"))
	e.Repos = git
	e.Defaults = engine.RunOptions{
		RepoPath: cfg.Preferences.Repo,
		Push:     cfg.Schedule.Push,
		Overrides: executor.Overrides{
			Message:    cfg.Commit.Message,
			TargetFile: cfg.Commit.File,
			Content:    cfg.Commit.Content,
		},
		Location: time.Local,
	}

	if n, err := e.RecoverAbandoned(ctx); err != nil {
		logger.Warn("recover abandoned runs", zap.Error(err))
	} else if n > 0 {
		logger.Info("marked abandoned runs aborted", zap.Int64("runs", n))
	}

	return &Context{
		Config:     cfg,
		ConfigPath: path,
		Workspace:  workspace,
		DB:         conn,
		GitHub:     client,
		Git:        git,
		Engine:     e,
		Logger:     logger,
	}, nil
}

// Close releases the ledger.
func (c *Context) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	return c.DB.Close()
}

func resolveWorkspace(flag, configured string) string {
	if flag != "" {
		return flag
	}
	if configured != "" {
		return configured
	}
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}
