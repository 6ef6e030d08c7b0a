// Package pipeline runs the acquisition and indexing stages and fans the
// resulting index out to the configured sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/tuhinx/bubt-annex-routine/internal/index"
	"github.com/tuhinx/bubt-annex-routine/internal/metrics"
	"github.com/tuhinx/bubt-annex-routine/internal/routine"
)

// Source is a browser session able to discover and render routine pages.
type Source interface {
	routine.Discoverer
	routine.Renderer
	Cookies() []*http.Cookie
	Close()
}

// SourceOpener starts a browser session for one acquisition stage.
type SourceOpener func(ctx context.Context) (Source, error)

// Acquirer stages documents for a list of references.
type Acquirer interface {
	Prepare(clean bool) error
	AcquireAll(ctx context.Context, refs []routine.DocumentReference) []routine.Outcome
}

// AcquirerFactory binds an Acquirer to the session's renderer.
type AcquirerFactory func(renderer routine.Renderer, downloader routine.Downloader) (Acquirer, error)

// Indexer builds the record set from the staging directory.
type Indexer interface {
	Build(ctx context.Context, stagingDir string) ([]routine.Record, index.Report, error)
}

const tracerName = "github.com/tuhinx/bubt-annex-routine/internal/pipeline"

type cookieSetter interface {
	SetCookies(rawURL string, cookies []*http.Cookie) error
}

// Config names the locations the pipeline reads and writes.
type Config struct {
	ListingURL string
	StagingDir string
	OutputRoot string
	// IndexPath defaults to OutputRoot/routine_db.json.
	IndexPath string
	// Topic is passed to the publisher with every notification.
	Topic string
}

// Deps are the collaborators of a Pipeline. Mirror, Records, Publisher, and
// History are optional.
type Deps struct {
	OpenSource  SourceOpener
	Downloader  routine.Downloader
	NewAcquirer AcquirerFactory
	Indexer     Indexer
	Mirror      routine.BlobStore
	Records     routine.RecordStore
	Publisher   routine.Publisher
	History     *History
	Clock       routine.Clock
	IDs         routine.IDGenerator
}

// Notification is published after every successful index stage.
type Notification struct {
	RunID     string    `json:"run_id"`
	Records   int       `json:"records"`
	Documents int       `json:"documents"`
	IndexPath string    `json:"index_path"`
	IndexURI  string    `json:"index_uri,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Pipeline coordinates one harvest run.
type Pipeline struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// New validates the configuration and dependencies.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Pipeline, error) {
	if cfg.StagingDir == "" {
		return nil, fmt.Errorf("staging dir is required")
	}
	if cfg.OutputRoot == "" {
		return nil, fmt.Errorf("output root is required")
	}
	if cfg.IndexPath == "" {
		cfg.IndexPath = filepath.Join(cfg.OutputRoot, routine.IndexFile)
	}
	if deps.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if deps.IDs == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Pipeline{cfg: cfg, deps: deps, logger: logger}, nil
}

// Acquire runs the acquisition stage on its own.
func (p *Pipeline) Acquire(ctx context.Context, clean bool) (routine.RunReport, error) {
	runID, err := p.deps.IDs.NewID()
	if err != nil {
		return routine.RunReport{}, fmt.Errorf("generate run id: %w", err)
	}
	return p.acquire(ctx, runID, clean)
}

// Index runs the indexing stage on its own.
func (p *Pipeline) Index(ctx context.Context) (routine.RunReport, error) {
	runID, err := p.deps.IDs.NewID()
	if err != nil {
		return routine.RunReport{}, fmt.Errorf("generate run id: %w", err)
	}
	return p.index(ctx, runID)
}

// Run acquires then indexes under one run id. A listing that cannot be
// reached still indexes whatever is staged. When the acquisition stage itself
// fails the index stage is skipped and the previous index stays published.
func (p *Pipeline) Run(ctx context.Context, clean bool) (reports []routine.RunReport, err error) {
	runID, err := p.deps.IDs.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.run")
	span.SetAttributes(attribute.String("run_id", runID), attribute.Bool("clean", clean))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	logger := p.logger.With(zap.String("run_id", runID))
	logger.Info("Run starting", zap.String("listing_url", p.cfg.ListingURL))

	acq, err := p.acquire(ctx, runID, clean)
	reports = []routine.RunReport{acq}
	if err != nil {
		logger.Error("Acquisition failed, keeping previous index", zap.Error(err))
		return reports, err
	}
	idx, err := p.index(ctx, runID)
	reports = append(reports, idx)
	if err != nil {
		return reports, err
	}
	logger.Info("Run finished",
		zap.Int("documents", acq.Documents),
		zap.Int("failed", acq.Failed),
		zap.Int("records", idx.Records),
	)
	return reports, nil
}

// RunFunc adapts Run for the scheduler.
func (p *Pipeline) RunFunc(clean bool) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := p.Run(ctx, clean)
		return err
	}
}

func (p *Pipeline) acquire(ctx context.Context, runID string, clean bool) (rep routine.RunReport, err error) {
	rep = routine.RunReport{RunID: runID, Stage: routine.StageAcquire, StartedAt: p.deps.Clock.Now()}
	logger := p.logger.With(zap.String("run_id", runID), zap.String("stage", string(routine.StageAcquire)))
	defer func() { p.finish(&rep, err) }()

	if p.deps.OpenSource == nil || p.deps.NewAcquirer == nil {
		return rep, fmt.Errorf("acquisition is not configured")
	}
	if p.cfg.ListingURL == "" {
		return rep, fmt.Errorf("listing url is required")
	}

	src, err := p.deps.OpenSource(ctx)
	if err != nil {
		return rep, fmt.Errorf("open browser: %w", err)
	}
	defer src.Close()

	acq, err := p.deps.NewAcquirer(src, p.deps.Downloader)
	if err != nil {
		return rep, fmt.Errorf("create acquirer: %w", err)
	}
	if err := acq.Prepare(clean); err != nil {
		return rep, err
	}

	logger.Info("Discovering routines", zap.String("listing_url", p.cfg.ListingURL))
	refs, err := src.Discover(ctx, p.cfg.ListingURL)
	if errors.Is(err, routine.ErrNavigation) {
		logger.Warn("Listing navigation failed, continuing without references", zap.Error(err))
		rep.Outcomes = []routine.Outcome{{
			URL:    p.cfg.ListingURL,
			Status: routine.StatusFailed,
			Reason: "listing navigation failed",
			Cause:  err,
		}}
		rep.Failed = 1
		return rep, nil
	}
	if err != nil {
		return rep, err
	}
	logger.Info("Routines discovered", zap.Int("references", len(refs)))

	if setter, ok := p.deps.Downloader.(cookieSetter); ok {
		if err := setter.SetCookies(p.cfg.ListingURL, src.Cookies()); err != nil {
			logger.Warn("Failed to share browser cookies", zap.Error(err))
		}
	}

	rep.Outcomes = acq.AcquireAll(ctx, refs)
	rep.Documents = len(rep.Outcomes)
	for _, o := range rep.Outcomes {
		metrics.ObserveDocument(string(o.Status), string(o.Strategy), o.Bytes)
		if o.Status == routine.StatusFailed {
			rep.Failed++
		}
	}
	logger.Info("Acquisition finished",
		zap.Int("acquired", rep.Count(routine.StatusAcquired)),
		zap.Int("skipped_existing", rep.Count(routine.StatusSkippedExisting)),
		zap.Int("skipped_no_data", rep.Count(routine.StatusSkippedNoData)),
		zap.Int("failed", rep.Failed),
	)
	return rep, nil
}

func (p *Pipeline) index(ctx context.Context, runID string) (rep routine.RunReport, err error) {
	rep = routine.RunReport{
		RunID:     runID,
		Stage:     routine.StageIndex,
		StartedAt: p.deps.Clock.Now(),
		IndexPath: p.cfg.IndexPath,
	}
	logger := p.logger.With(zap.String("run_id", runID), zap.String("stage", string(routine.StageIndex)))
	defer func() { p.finish(&rep, err) }()

	if p.deps.Indexer == nil {
		return rep, fmt.Errorf("indexing is not configured")
	}
	records, built, err := p.deps.Indexer.Build(ctx, p.cfg.StagingDir)
	if err != nil {
		return rep, err
	}
	for _, name := range built.Documents {
		rep.Outcomes = append(rep.Outcomes, routine.Outcome{Name: name, Status: routine.StatusIndexed})
	}
	for _, name := range built.Failed {
		rep.Outcomes = append(rep.Outcomes, routine.Outcome{Name: name, Status: routine.StatusFailed, Reason: "unreadable document"})
	}
	rep.Documents = len(built.Documents) + len(built.Failed)
	rep.Failed = len(built.Failed)
	rep.Records = len(records)

	if err := index.Write(p.cfg.IndexPath, records); err != nil {
		return rep, err
	}
	metrics.SetRecordsIndexed(len(records))
	metrics.AddArtifactsCreated(len(built.Created))
	logger.Info("Index written",
		zap.String("path", p.cfg.IndexPath),
		zap.Int("records", len(records)),
		zap.Int("raw", built.Raw),
		zap.Int("documents", rep.Documents),
		zap.Int("failed", rep.Failed),
		zap.Int("artifacts_created", len(built.Created)),
	)

	indexURI := p.mirror(ctx, logger, built.Created)
	if p.deps.Records != nil {
		if err := p.deps.Records.ReplaceRecords(ctx, runID, records); err != nil {
			logger.Warn("Failed to persist records", zap.Error(err))
		}
	}
	if p.deps.Publisher != nil {
		msg := Notification{
			RunID:     runID,
			Records:   len(records),
			Documents: rep.Documents,
			IndexPath: p.cfg.IndexPath,
			IndexURI:  indexURI,
			Timestamp: p.deps.Clock.Now().UTC(),
		}
		if id, err := p.deps.Publisher.Publish(ctx, p.cfg.Topic, msg); err != nil {
			logger.Warn("Failed to publish notification", zap.Error(err))
		} else {
			logger.Debug("Notification published", zap.String("message_id", id))
		}
	}
	return rep, nil
}

// mirror copies the index and newly created artifacts to the blob store and
// returns the index URI. Failures are logged and never fail the stage.
func (p *Pipeline) mirror(ctx context.Context, logger *zap.Logger, created []string) string {
	if p.deps.Mirror == nil {
		return ""
	}
	indexURI, err := p.put(ctx, p.cfg.IndexPath, routine.IndexFile)
	if err != nil {
		logger.Warn("Failed to mirror index", zap.Error(err))
	}
	mirrored := 0
	for _, rel := range created {
		if _, err := p.put(ctx, filepath.Join(p.cfg.OutputRoot, filepath.FromSlash(rel)), rel); err != nil {
			logger.Warn("Failed to mirror artifact", zap.String("artifact", rel), zap.Error(err))
			continue
		}
		mirrored++
	}
	logger.Info("Outputs mirrored", zap.String("index_uri", indexURI), zap.Int("artifacts", mirrored))
	return indexURI
}

func (p *Pipeline) put(ctx context.Context, src, dst string) (string, error) {
	f, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()
	return p.deps.Mirror.PutObject(ctx, dst, contentType(dst), f)
}

func contentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".json":
		return "application/json"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

func (p *Pipeline) finish(rep *routine.RunReport, err error) {
	rep.FinishedAt = p.deps.Clock.Now()
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ObserveStage(string(rep.Stage), status, rep.Duration(), rep.FinishedAt)
	if p.deps.History != nil {
		p.deps.History.Add(*rep)
	}
}
