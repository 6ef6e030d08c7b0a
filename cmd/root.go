package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tuhinx/bubt-annex-routine/internal/app"
	"github.com/tuhinx/bubt-annex-routine/internal/config"
	"github.com/tuhinx/bubt-annex-routine/internal/logging"
	"github.com/tuhinx/bubt-annex-routine/internal/telemetry"
)

const serviceName = "bubt-routine-harvester"

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

// rootCommand is the cobra root together with the shutdown hooks registered
// while it runs.
type rootCommand struct {
	*cobra.Command
	cleanup []func()
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *rootCommand {
	var cfgFile string
	root := &rootCommand{}

	root.Command = &cobra.Command{
		Use:   "routine",
		Short: "Harvests BUBT class routines into a searchable index.",
		Long: `routine discovers class routine documents on the BUBT annex listing page,
stages them locally, extracts one record per routine page and publishes
routine_db.json together with page images and single-page PDFs.`,
		SilenceUsage: true,

		// Runs before every subcommand: loads .env and config, builds the
		// logger and the shared services.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			root.onShutdown(func() { _ = logger.Sync() })

			tp, err := telemetry.InitTracerProvider(cmd.Context(), serviceName)
			if err != nil {
				logger.Warn("Tracing disabled", zap.Error(err))
			} else {
				root.onShutdown(func() {
					if err := tp.Shutdown(context.Background()); err != nil {
						logger.Warn("Tracer shutdown failed", zap.Error(err))
					}
				})
			}

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			root.onShutdown(appInstance.Close)
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	root.AddCommand(newAcquireCmd())
	root.AddCommand(newIndexCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newServeCmd())
	return root
}

func (r *rootCommand) onShutdown(fn func()) {
	r.cleanup = append(r.cleanup, fn)
}

// execute runs the selected command and then the shutdown hooks in reverse
// order, whether or not the command succeeded.
func (r *rootCommand) execute(ctx context.Context) error {
	defer r.shutdown()
	return r.ExecuteContext(ctx)
}

func (r *rootCommand) shutdown() {
	for i := len(r.cleanup) - 1; i >= 0; i-- {
		r.cleanup[i]()
	}
	r.cleanup = nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command
// context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().execute(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
