package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"streakline/internal/app"
	"streakline/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCodeOf(err))
	}
}

// cli holds state shared by every command of one invocation.
type cli struct {
	v      *viper.Viper
	logger *zap.Logger
	out    io.Writer
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New(), logger: zap.NewNop()}
	root := &cobra.Command{
		Use:   "streak",
		Short: "Keep a contribution streak alive",
		Long: `streak creates backdated commits in a local repository so a contribution
calendar shows activity: single dates, date ranges, natural-looking patterns,
gap filling from real history and a daily watchdog.

Configuration lives in ~/.streakline.yml; run 'streak setup' first. Every run
is recorded in a local ledger, see 'streak runs list' and 'streak log tail'.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c.out = cmd.OutOrStdout()
			logger, err := logging.New(logging.Options{
				Verbose: c.v.GetBool("verbose"),
				JSON:    c.v.GetBool("log-json"),
				File:    c.v.GetString("log-file"),
			})
			if err != nil {
				return err
			}
			c.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = c.logger.Sync()
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return wrapExit(exitValidation, err)
	})
	c.initConfig()
	c.addPersistentFlags(root)

	root.AddCommand(
		c.setupCmd(),
		c.reposCmd(),
		c.commitCmd(),
		c.bulkCmd(),
		c.patternCmd(),
		c.fillCmd(),
		c.analyzeCmd(),
		c.watchCmd(),
		c.runsCmd(),
		c.logCmd(),
		c.configCmd(),
		c.versionCmd(),
	)
	return root
}

func (c *cli) initConfig() {
	c.v.SetEnvPrefix("STREAKLINE")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()
}

func (c *cli) addPersistentFlags(root *cobra.Command) {
	root.PersistentFlags().String("config", "", "config file (default ~/.streakline.yml)")
	root.PersistentFlags().StringP("workspace", "w", "", "directory holding the .streakline ledger (default: preferences.workspace, then home)")
	root.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	root.PersistentFlags().Bool("json", false, "output JSON")
	root.PersistentFlags().Bool("log-json", false, "JSON log lines")
	root.PersistentFlags().String("log-file", "", "also write logs to this file")
	for _, name := range []string{"config", "workspace", "verbose", "json", "log-json", "log-file"} {
		_ = c.v.BindPFlag(name, root.PersistentFlags().Lookup(name))
	}
}

func (c *cli) appOptions(requireToken bool) app.Options {
	return app.Options{
		ConfigPath:   c.v.GetString("config"),
		Workspace:    c.v.GetString("workspace"),
		RequireToken: requireToken,
		Logger:       c.logger,
	}
}

// withApp opens the application for the duration of fn.
func (c *cli) withApp(ctx context.Context, requireToken bool, fn func(context.Context, *app.Context) error) error {
	ac, err := app.Open(ctx, c.appOptions(requireToken))
	if err != nil {
		return err
	}
	defer ac.Close()
	return fn(ctx, ac)
}

func (c *cli) jsonOutput() bool {
	return c.v.GetBool("json")
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}
