package handlers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bireport/internal/logger"
	"bireport/internal/metrics"
	"bireport/internal/pipeline"
	"bireport/internal/scheduler"
	"bireport/internal/server"

	"github.com/spf13/cobra"
)

// NewServeCmd creates the serve command for starting the HTTP server
func NewServeCmd() *cobra.Command {
	var (
		port         int
		host         string
		schedule     bool
		runOnStartup bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP control surface",
		Long: `Start the bireport HTTP server.

The server provides:
  • POST /trigger to start a run, GET /status to follow it
  • GET /topics, /report and /report/download for the last result
  • GET /reports for the delivery history
  • POST /clear-cache, GET /cache and GET /config
  • GET /health and Prometheus metrics on /metrics

With --schedule (or schedule.enabled) runs are also started on the
configured cron expression, monthly by default.

Examples:
  # Start server on default port 8080
  bireport serve

  # Start on a custom port with scheduled runs and a run right away
  bireport serve --port 3000 --schedule --run-on-startup`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, port, host, schedule, runOnStartup)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP server port (default from config: 8080)")
	cmd.Flags().StringVar(&host, "host", "", "HTTP server host (default from config: 0.0.0.0)")
	cmd.Flags().BoolVar(&schedule, "schedule", false, "enable scheduled runs")
	cmd.Flags().BoolVar(&runOnStartup, "run-on-startup", false, "start a run as soon as the server is up")

	return cmd
}

func runServe(cmd *cobra.Command, port int, host string, schedule, runOnStartup bool) error {
	log := logger.Component("serve")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	serverCfg := cfg.Server
	if port != 0 {
		serverCfg.Port = port
	}
	if host != "" {
		serverCfg.Host = host
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	m := metrics.New()
	app, err := pipeline.NewBuilder(cfg).WithMetrics(m).Build(ctx)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	defer app.Close()

	deps := server.Dependencies{
		Runner:   app.Orchestrator,
		Sources:  app.Sources,
		History:  app.Store,
		Metrics:  m,
		Config:   cfg,
		Options:  app.Options,
		Selector: app.DefaultSelector,
	}
	if app.Delivery != nil {
		deps.Reports = app.Delivery
	}
	srv, err := server.New(deps, serverCfg)
	if err != nil {
		return err
	}

	var sched *scheduler.Scheduler
	if schedule || cfg.Schedule.Enabled {
		sched, err = scheduler.New(app.Orchestrator, cfg.Schedule.Cron, app.DefaultSelector, app.Options)
		if err != nil {
			return err
		}
		sched.Start(ctx, runOnStartup || cfg.Schedule.RunOnStartup)
	} else if runOnStartup || cfg.Schedule.RunOnStartup {
		if _, err := app.Orchestrator.Start(ctx, app.DefaultSelector(), app.Options); err != nil {
			log.Warn().Err(err).Msg("startup run not started")
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	}

	if sched != nil {
		<-sched.Stop().Done()
	}
	if app.Orchestrator.Cancel() {
		log.Info().Msg("cancelling in-flight run")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := app.Orchestrator.Wait(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
