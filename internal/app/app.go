// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	gcsstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/tuhinx/bubt-annex-routine/internal/acquire"
	"github.com/tuhinx/bubt-annex-routine/internal/browser"
	"github.com/tuhinx/bubt-annex-routine/internal/clock/system"
	"github.com/tuhinx/bubt-annex-routine/internal/config"
	"github.com/tuhinx/bubt-annex-routine/internal/extract"
	collyfetcher "github.com/tuhinx/bubt-annex-routine/internal/fetcher/colly"
	"github.com/tuhinx/bubt-annex-routine/internal/hash/sha256"
	"github.com/tuhinx/bubt-annex-routine/internal/id/uuid"
	"github.com/tuhinx/bubt-annex-routine/internal/index"
	"github.com/tuhinx/bubt-annex-routine/internal/normalize"
	"github.com/tuhinx/bubt-annex-routine/internal/pipeline"
	pspublisher "github.com/tuhinx/bubt-annex-routine/internal/publisher/pubsub"
	"github.com/tuhinx/bubt-annex-routine/internal/routine"
	"github.com/tuhinx/bubt-annex-routine/internal/storage/gcs"
	"github.com/tuhinx/bubt-annex-routine/internal/storage/local"
	"github.com/tuhinx/bubt-annex-routine/internal/storage/memory"
	"github.com/tuhinx/bubt-annex-routine/internal/store/postgres"
	"github.com/tuhinx/bubt-annex-routine/internal/store/sqlite"
)

// App holds the shared, long-lived services: the logger, the optional blob
// mirror, record store and notifier, and the run history.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	mirror    routine.BlobStore
	records   routine.RecordStore
	publisher routine.Publisher
	history   *pipeline.History
	closers   []func()
}

// New initializes every configured sink. It fails fast if one cannot be
// reached; sinks set to "none" stay nil.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, history: pipeline.NewHistory(0)}
	logger.Info("Initializing application services")

	if err := a.initMirror(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	if err := a.initRecords(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := a.initPublisher(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("init pubsub: %w", err)
	}

	logger.Info("Application services initialized")
	return a, nil
}

func (a *App) initMirror(ctx context.Context) error {
	switch a.cfg.Storage.Provider {
	case "", "none":
		a.logger.Info("Blob mirror disabled")
	case "memory":
		a.logger.Info("Using in-memory blob mirror")
		a.mirror = memory.NewBlobStore()
	case "local":
		a.logger.Info("Using local blob mirror", zap.String("base_dir", a.cfg.Storage.BaseDir))
		store, err := local.New(local.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return err
		}
		a.mirror = store
	case "gcs":
		a.logger.Info("Using GCS blob mirror", zap.String("bucket", a.cfg.Storage.GCSBucket))
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("Error closing GCS client", zap.Error(err))
			}
		})
		store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Storage.GCSBucket, Prefix: a.cfg.Storage.Prefix})
		if err != nil {
			return err
		}
		a.mirror = store
	default:
		return fmt.Errorf("unknown storage provider: %s", a.cfg.Storage.Provider)
	}
	return nil
}

func (a *App) initRecords(ctx context.Context) error {
	switch a.cfg.Database.Driver {
	case "", "none":
		a.logger.Info("Record store disabled")
	case "sqlite":
		a.logger.Info("Opening SQLite record store")
		store, err := sqlite.Open(ctx, a.cfg.Database.DSN, a.cfg.Database.Table)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() {
			if err := store.Close(); err != nil {
				a.logger.Warn("Error closing SQLite database", zap.Error(err))
			}
		})
		a.records = store
	case "postgres":
		a.logger.Info("Connecting to PostgreSQL")
		store, err := postgres.New(ctx, postgres.Config{DSN: a.cfg.Database.DSN, Table: a.cfg.Database.Table})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, store.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		a.records = store
	default:
		return fmt.Errorf("unknown database driver: %s", a.cfg.Database.Driver)
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" {
		a.logger.Info("Index notifications disabled")
		return nil
	}
	a.logger.Info("Connecting to GCP Pub/Sub", zap.String("topic", a.cfg.PubSub.TopicName))
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("create pubsub client: %w", err)
	}
	pub := pspublisher.New(client.Publisher(a.cfg.PubSub.TopicName), "")
	a.closers = append(a.closers, func() {
		pub.Stop()
		if err := client.Close(); err != nil {
			a.logger.Warn("Error closing Pub/Sub client", zap.Error(err))
		}
	})
	a.publisher = pub
	return nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// History returns the in-memory run history shared by the pipeline and API.
func (a *App) History() *pipeline.History { return a.history }

// Mirror returns the blob mirror, or nil when disabled.
func (a *App) Mirror() routine.BlobStore { return a.mirror }

// Records returns the record store, or nil when disabled.
func (a *App) Records() routine.RecordStore { return a.records }

// Publisher returns the notifier, or nil when disabled.
func (a *App) Publisher() routine.Publisher { return a.publisher }

// Pipeline assembles the harvest pipeline from configuration. The browser is
// launched lazily, once per acquisition stage.
func (a *App) Pipeline() (*pipeline.Pipeline, error) {
	cfg := a.cfg
	downloader := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Browser.UserAgent,
		Timeout:      cfg.HTTPTimeout(),
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	})

	extractor, err := extract.New(extract.Config{
		OutputRoot:  cfg.Paths.OutputRoot,
		HeaderChars: cfg.Extract.HeaderChars,
		ImageDPI:    cfg.Extract.ImageDPI,
	}, extract.OpenFitz, extract.NewPDFCPUSplitter(), normalize.New(), a.logger.Named("extract"))
	if err != nil {
		return nil, fmt.Errorf("create extractor: %w", err)
	}

	hasher := sha256.New()
	return pipeline.New(pipeline.Config{
		ListingURL: cfg.Source.ListingURL,
		StagingDir: cfg.Paths.StagingDir,
		OutputRoot: cfg.Paths.OutputRoot,
		IndexPath:  cfg.IndexPath(),
		Topic:      cfg.PubSub.TopicName,
	}, pipeline.Deps{
		OpenSource: func(context.Context) (pipeline.Source, error) {
			return browser.New(BrowserConfig(cfg), a.logger.Named("browser"))
		},
		Downloader: downloader,
		NewAcquirer: func(r routine.Renderer, d routine.Downloader) (pipeline.Acquirer, error) {
			return acquire.New(acquire.Config{
				StagingDir:    cfg.Paths.StagingDir,
				MinValidBytes: cfg.Acquire.MinValidBytes,
				MaxNameLength: cfg.Acquire.MaxNameLength,
				RenderMarker:  cfg.Source.RenderMarker,
				Workers:       cfg.Acquire.Workers,
			}, r, d, hasher, a.logger.Named("acquire"))
		},
		Indexer:   index.NewBuilder(extractor, a.logger.Named("index")),
		Mirror:    a.mirror,
		Records:   a.records,
		Publisher: a.publisher,
		History:   a.history,
		Clock:     system.New(),
		IDs:       uuid.New(),
	}, a.logger.Named("pipeline"))
}

// BrowserConfig maps the browser section onto the session configuration.
func BrowserConfig(cfg config.Config) browser.Config {
	return browser.Config{
		UserAgent:         strings.TrimSpace(cfg.Browser.UserAgent),
		Headless:          cfg.Browser.Headless,
		ViewportWidth:     cfg.Browser.ViewportWidth,
		ViewportHeight:    cfg.Browser.ViewportHeight,
		NavigationTimeout: cfg.Browser.NavigationTimeout,
		ChallengeTimeout:  cfg.Browser.ChallengeTimeout,
		ChallengeSettle:   cfg.Browser.ChallengeSettle,
		IdleTimeout:       cfg.Browser.IdleTimeout,
		RenderTimeout:     cfg.Browser.RenderTimeout,
		ContentTimeout:    cfg.Browser.ContentTimeout,
		RenderSettle:      cfg.Browser.RenderSettle,
		ContentSelector:   cfg.Browser.ContentSelector,
		RenderMarker:      cfg.Source.RenderMarker,
		MaxParallel:       cfg.Browser.MaxParallel,
		RenderQPS:         cfg.Browser.RenderQPS,
	}
}

// Close shuts down every service in reverse order of initialization.
func (a *App) Close() {
	a.logger.Info("Shutting down application services")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	_ = a.logger.Sync()
}
