package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tuhinx/bubt-annex-routine/internal/api"
	"github.com/tuhinx/bubt-annex-routine/internal/app"
	"github.com/tuhinx/bubt-annex-routine/internal/routine"
	"github.com/tuhinx/bubt-annex-routine/internal/scheduler"
)

func newServeCmd() *cobra.Command {
	var noSchedule bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the routine API and refresh the index on a schedule",
		Long: `Starts the HTTP API over the published outputs. Unless scheduling is
disabled, the pipeline runs once at start and then every schedule.interval.
POST /api/runs triggers an extra run.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), appInstance, !noSchedule)
		},
	}
	cmd.Flags().BoolVar(&noSchedule, "no-schedule", false, "serve only; never run the pipeline")
	return cmd
}

func serve(ctx context.Context, appInstance *app.App, schedule bool) error {
	cfg := appInstance.Config()
	logger := appInstance.Logger()
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	var trigger api.Trigger
	if schedule && cfg.Schedule.Enabled {
		p, err := appInstance.Pipeline()
		if err != nil {
			return err
		}
		sched := scheduler.New(p.RunFunc(false), scheduler.Config{Interval: cfg.Schedule.Interval}, logger.Named("scheduler"))
		trigger = sched
		go sched.Run(ctx)
	} else {
		logger.Info("Scheduled runs disabled")
	}

	server, err := api.NewServer(api.Config{
		OutputRoot:  cfg.Paths.OutputRoot,
		IndexFile:   routine.IndexFile,
		AuthEnabled: cfg.Auth.Enabled,
		APIKey:      cfg.Auth.APIKey,
	}, api.NewRunHandler(appInstance.History(), trigger, logger.Named("runs")), logger.Named("api"))
	if err != nil {
		return fmt.Errorf("create api server: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown initiated")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}
	logger.Info("Shutdown complete")
	return nil
}
