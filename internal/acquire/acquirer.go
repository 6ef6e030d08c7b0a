// Package acquire stages routine documents discovered on the listing page.
package acquire

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tuhinx/bubt-annex-routine/internal/routine"
)

var pdfSignature = []byte("%PDF-")

// Config controls naming, skip, and concurrency behavior.
type Config struct {
	StagingDir    string
	MinValidBytes int64
	MaxNameLength int
	RenderMarker  string
	Workers       int
}

// Acquirer downloads or renders each reference into the staging directory.
type Acquirer struct {
	cfg        Config
	renderer   routine.Renderer
	downloader routine.Downloader
	hasher     routine.Hasher
	logger     *zap.Logger
}

// Job pairs a reference with the name reserved for it.
type Job struct {
	Ref  routine.DocumentReference
	Name string
}

// New builds an Acquirer. The renderer may be nil when rendered pages are not
// expected; such references then fail individually.
func New(cfg Config, renderer routine.Renderer, downloader routine.Downloader, hasher routine.Hasher, logger *zap.Logger) (*Acquirer, error) {
	if cfg.StagingDir == "" {
		return nil, fmt.Errorf("staging dir is required")
	}
	if downloader == nil {
		return nil, fmt.Errorf("downloader is required")
	}
	if cfg.MinValidBytes <= 0 {
		cfg.MinValidBytes = 5000
	}
	if cfg.MaxNameLength <= 0 {
		cfg.MaxNameLength = 80
	}
	if cfg.RenderMarker == "" {
		cfg.RenderMarker = "routine.php"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Acquirer{
		cfg:        cfg,
		renderer:   renderer,
		downloader: downloader,
		hasher:     hasher,
		logger:     logger,
	}, nil
}

// Prepare ensures the staging directory exists. With clean set, previously
// staged documents are removed first. Subdirectories and other files are left
// alone, since the staging directory may also hold the published outputs.
func (a *Acquirer) Prepare(clean bool) error {
	if err := os.MkdirAll(a.cfg.StagingDir, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	if !clean {
		return nil
	}
	entries, err := os.ReadDir(a.cfg.StagingDir)
	if err != nil {
		return fmt.Errorf("read staging dir: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !isStagedDocument(e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(a.cfg.StagingDir, e.Name())); err != nil {
			return fmt.Errorf("clear staging dir: %w", err)
		}
		removed++
	}
	a.logger.Info("Cleared staging directory", zap.String("dir", a.cfg.StagingDir), zap.Int("removed", removed))
	return nil
}

func isStagedDocument(name string) bool {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".pdf") {
		return true
	}
	return strings.HasPrefix(name, ".") && strings.HasSuffix(lower, ".tmp") && strings.Contains(lower, ".pdf.")
}

// Plan reserves names for refs in listing order. References that are not
// absolute http(s) URLs get a failed outcome instead of a name.
func (a *Acquirer) Plan(refs []routine.DocumentReference) ([]Job, []routine.Outcome) {
	registry := NewNameRegistry()
	jobs := make([]Job, 0, len(refs))
	var rejected []routine.Outcome
	for _, ref := range refs {
		if !strings.HasPrefix(ref.SourceURL, "http") {
			rejected = append(rejected, routine.Outcome{
				URL:    ref.SourceURL,
				Status: routine.StatusFailed,
				Reason: "unsupported url",
			})
			continue
		}
		name := registry.Reserve(BaseName(ref.Description, a.cfg.MaxNameLength))
		jobs = append(jobs, Job{Ref: ref, Name: name})
	}
	return jobs, rejected
}

// AcquireAll plans names and acquires every reference with the configured
// number of workers. It returns one outcome per reference.
func (a *Acquirer) AcquireAll(ctx context.Context, refs []routine.DocumentReference) []routine.Outcome {
	jobs, rejected := a.Plan(refs)
	for _, o := range rejected {
		a.logger.Warn("Skipping reference", zap.String("url", o.URL), zap.String("reason", o.Reason))
	}

	outcomes := make([]routine.Outcome, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Workers)
	for i, job := range jobs {
		g.Go(func() error {
			outcomes[i] = a.Acquire(gctx, job.Ref, job.Name)
			return nil
		})
	}
	_ = g.Wait()

	return append(outcomes, rejected...)
}

// Acquire stages one reference under name. Failures are reported in the
// outcome and never returned as errors.
func (a *Acquirer) Acquire(ctx context.Context, ref routine.DocumentReference, name string) routine.Outcome {
	out := routine.Outcome{Name: name, URL: ref.SourceURL}
	path := filepath.Join(a.cfg.StagingDir, name)
	logger := a.logger.With(zap.String("name", name), zap.String("url", ref.SourceURL))

	if info, err := os.Stat(path); err == nil && info.Size() > a.cfg.MinValidBytes {
		logger.Debug("Document already staged", zap.Int64("bytes", info.Size()))
		out.Status = routine.StatusSkippedExisting
		out.Bytes = info.Size()
		return out
	}

	var (
		data []byte
		err  error
	)
	if strings.Contains(ref.SourceURL, a.cfg.RenderMarker) {
		out.Strategy = routine.StrategyRendered
		data, err = a.render(ctx, ref.SourceURL)
	} else {
		out.Strategy = routine.StrategyDirect
		data, err = a.download(ctx, ref.SourceURL)
	}
	switch {
	case errors.Is(err, routine.ErrNoData):
		logger.Info("Page reports no routine", zap.String("strategy", string(out.Strategy)))
		out.Status = routine.StatusSkippedNoData
		return out
	case err != nil:
		return a.fail(logger, out, err)
	}

	if err := writeAtomic(path, data); err != nil {
		return a.fail(logger, out, fmt.Errorf("write document: %w", err))
	}
	if out.Strategy == routine.StrategyRendered && int64(len(data)) < a.cfg.MinValidBytes {
		logger.Warn("Rendered document is very small, possibly blank", zap.Int("bytes", len(data)))
	}
	if a.hasher != nil {
		if sum, herr := a.hasher.Hash(data); herr == nil {
			out.SHA256 = sum
		}
	}

	out.Status = routine.StatusAcquired
	out.Bytes = int64(len(data))
	logger.Info("Document staged",
		zap.String("strategy", string(out.Strategy)),
		zap.Int64("bytes", out.Bytes),
	)
	return out
}

func (a *Acquirer) render(ctx context.Context, rawURL string) ([]byte, error) {
	if a.renderer == nil {
		return nil, fmt.Errorf("renderer unavailable")
	}
	return a.renderer.RenderPDF(ctx, rawURL)
}

func (a *Acquirer) download(ctx context.Context, rawURL string) ([]byte, error) {
	data, err := a.downloader.Download(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(data, pdfSignature) {
		return nil, ErrBadSignature
	}
	return data, nil
}

func (a *Acquirer) fail(logger *zap.Logger, out routine.Outcome, err error) routine.Outcome {
	out.Status = routine.StatusFailed
	out.Reason = reasonFor(err)
	out.Cause = err
	logger.Warn("Document not acquired", zap.String("reason", out.Reason), zap.Error(err))
	return out
}

// ErrBadSignature means a direct download did not start with the PDF magic bytes.
var ErrBadSignature = errors.New("invalid pdf signature")

func reasonFor(err error) string {
	switch {
	case errors.Is(err, ErrBadSignature):
		return "invalid pdf signature"
	case errors.Is(err, routine.ErrChallenge):
		return "challenge page"
	case errors.Is(err, routine.ErrBadStatus):
		return "bad status"
	case errors.Is(err, routine.ErrContentTimeout):
		return "content did not load"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "fetch error"
	}
}

// writeAtomic writes data to a temp file beside path and renames it into place.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
