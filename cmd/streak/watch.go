package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"streakline/internal/app"
	"streakline/internal/server"
	"streakline/internal/watchdog"
)

const shutdownTimeout = 5 * time.Second

func (c *cli) watchCmd() *cobra.Command {
	var rf runFlags
	var hour, minute int
	var addr string
	var checkOnStart bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the daily watchdog",
		Long: `watch checks once a day whether today already has a contribution and, if
not, creates one commit for today. With --addr it also serves the read-only
status API. Stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.withApp(ctx, true, func(ctx context.Context, ac *app.Context) error {
				cfg := ac.Config
				h, m := watchdog.Unset, watchdog.Unset
				if cfg.Schedule.Hour != nil {
					h = *cfg.Schedule.Hour
				}
				if cfg.Schedule.Minute != nil {
					m = *cfg.Schedule.Minute
				}
				if cmd.Flags().Changed("hour") {
					h = hour
				}
				if cmd.Flags().Changed("minute") {
					m = minute
				}
				h, m = watchdog.ResolveTime(h, m, nil)

				onStart := cfg.Schedule.CheckOnStart
				if cmd.Flags().Changed("check-on-start") {
					onStart = checkOnStart
				}

				e := ac.Engine
				e.Defaults = rf.options(cmd, ac, nil)
				e.Defaults.Push = cfg.Schedule.Push
				if cmd.Flags().Changed("push") {
					e.Defaults.Push = rf.push
				}
				if err := e.ValidateRepo(ctx, e.Defaults.RepoPath); err != nil {
					return err
				}

				w, err := watchdog.New(watchdog.Config{Hour: h, Minute: m, CheckOnStart: onStart}, e, e, nil, ac.Logger.Named("watchdog"))
				if err != nil {
					return err
				}
				w.OnCheck(func(s watchdog.Status) {
					e.RecordWatchdogCheck(ctx, s.LastOutcome, s.LastRunID, s.LastError)
				})

				if addr == "" {
					addr = cfg.Serve.Addr
				}
				if !c.jsonOutput() {
					c.printf("Watching %s, checking daily at %02d:%02d\n", e.Defaults.RepoPath, h, m)
				}
				return runWatch(ctx, w, addr, server.Config{
					Engine:   e,
					Watchdog: w,
					Auth:     server.AuthConfig{JWTSecret: cfg.Serve.JWTSecret},
					Version:  version,
					Logger:   ac.Logger.Named("api"),
				}, ac.Logger)
			})
		},
	}
	rf.register(cmd)
	cmd.Flags().IntVar(&hour, "hour", watchdog.Unset, "trigger hour 0-23 (default schedule.hour, else random 9-17)")
	cmd.Flags().IntVar(&minute, "minute", watchdog.Unset, "trigger minute 0-59 (default schedule.minute, else random)")
	cmd.Flags().BoolVar(&checkOnStart, "check-on-start", true, "check immediately at startup (default schedule.check_on_start)")
	cmd.Flags().StringVar(&addr, "addr", "", "serve the status API on this address (default serve.addr)")
	return cmd
}

// runWatch runs the watchdog and, when addr is set, the status API until ctx
// is cancelled or either fails.
func runWatch(ctx context.Context, w *watchdog.Watchdog, addr string, scfg server.Config, logger *zap.Logger) error {
	var srv *http.Server
	if addr != "" {
		handler, err := server.New(scfg)
		if err != nil {
			return err
		}
		srv = &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := w.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if srv != nil {
		g.Go(func() error {
			logger.Info("serving status API", zap.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}
	return g.Wait()
}
