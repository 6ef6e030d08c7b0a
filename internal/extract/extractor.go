// Package extract reads intake records, tables, and per-page artifacts out of
// staged routine documents.
package extract

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/tuhinx/bubt-annex-routine/internal/routine"
)

var unsafeBase = regexp.MustCompile(`[^\w\-]`)

// Config controls extraction.
type Config struct {
	OutputRoot  string
	HeaderChars int
	ImageDPI    float64
}

// Normalizer maps a raw program heading to its canonical name.
type Normalizer interface {
	Normalize(raw string, evening bool) string
}

// Result is everything produced from one document.
type Result struct {
	Records []routine.RawExtraction
	Created []string
}

// Extractor turns staged documents into raw records and page artifacts.
type Extractor struct {
	cfg        Config
	open       Opener
	splitter   PageSplitter
	normalizer Normalizer
	logger     *zap.Logger
}

// New builds an Extractor.
func New(cfg Config, open Opener, splitter PageSplitter, normalizer Normalizer, logger *zap.Logger) (*Extractor, error) {
	if cfg.OutputRoot == "" {
		return nil, fmt.Errorf("output root is required")
	}
	if open == nil || splitter == nil || normalizer == nil {
		return nil, fmt.Errorf("opener, splitter and normalizer are required")
	}
	if cfg.HeaderChars <= 0 {
		cfg.HeaderChars = 600
	}
	if cfg.ImageDPI <= 0 {
		cfg.ImageDPI = 72 * 2.2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{cfg: cfg, open: open, splitter: splitter, normalizer: normalizer, logger: logger}, nil
}

// Prepare creates the artifact directories under the output root.
func (e *Extractor) Prepare() error {
	for _, dir := range []string{routine.ImagesDir, routine.PagesDir} {
		if err := os.MkdirAll(filepath.Join(e.cfg.OutputRoot, dir), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Extract returns the raw records of doc.
func (e *Extractor) Extract(ctx context.Context, doc routine.StagedDocument) ([]routine.RawExtraction, error) {
	res, err := e.ExtractDocument(ctx, doc)
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

// ExtractDocument reads every page of doc. Pages without an intake label are
// skipped and get no artifacts. Artifacts that already exist are reused.
func (e *Extractor) ExtractDocument(ctx context.Context, doc routine.StagedDocument) (Result, error) {
	d, err := e.open(doc.Path)
	if err != nil {
		return Result{}, &routine.ExtractionError{Document: doc.Name, Err: err}
	}
	defer d.Close()

	if err := e.Prepare(); err != nil {
		return Result{}, err
	}

	base := BaseName(doc.Name)
	safeBase := unsafeBase.ReplaceAllString(base, "_")
	evening := strings.Contains(strings.ToLower(base), "evening")
	logger := e.logger.With(zap.String("document", doc.Name))

	var res Result
	for i := 0; i < d.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("extract %s: %w", doc.Name, err)
		}
		text, err := d.Text(i)
		if err != nil {
			return Result{}, &routine.ExtractionError{Document: doc.Name, Err: fmt.Errorf("page %d text: %w", i+1, err)}
		}
		header := ParseHeader(text, e.cfg.HeaderChars, base)
		if len(header.Pairs) == 0 {
			logger.Debug("Page has no intake header", zap.Int("page", i+1))
			continue
		}
		program := e.normalizer.Normalize(header.Program, evening)

		imageRel := fmt.Sprintf("%s/%s_p%d.png", routine.ImagesDir, safeBase, i+1)
		pdfRel := fmt.Sprintf("%s/%s_p%d.pdf", routine.PagesDir, safeBase, i+1)

		created, err := e.ensureArtifact(imageRel, func(w io.Writer) error {
			png, err := d.ImagePNG(i, e.cfg.ImageDPI)
			if err != nil {
				return fmt.Errorf("render page %d: %w", i+1, err)
			}
			_, err = w.Write(png)
			return err
		})
		if err != nil {
			return Result{}, &routine.ExtractionError{Document: doc.Name, Err: err}
		}
		if created {
			res.Created = append(res.Created, imageRel)
		}

		created, err = e.ensureArtifact(pdfRel, func(w io.Writer) error {
			return e.splitter.WritePage(doc.Path, i+1, w)
		})
		if err != nil {
			return Result{}, &routine.ExtractionError{Document: doc.Name, Err: err}
		}
		if created {
			res.Created = append(res.Created, pdfRel)
		}

		tables := e.pageTables(d, i, logger)
		for _, pair := range header.Pairs {
			res.Records = append(res.Records, routine.RawExtraction{
				RawCategory:    header.Program,
				Program:        program,
				Intake:         pair.Intake,
				Section:        pair.Section,
				PageIndex:      i,
				SourceDocument: doc.Name,
				Image:          imageRel,
				PDF:            pdfRel,
				Tables:         tables,
			})
		}
	}
	logger.Debug("Document extracted", zap.Int("records", len(res.Records)), zap.Int("artifacts_created", len(res.Created)))
	return res, nil
}

func (e *Extractor) pageTables(d Document, page int, logger *zap.Logger) []routine.Table {
	html, err := d.HTML(page, false)
	if err != nil {
		logger.Warn("Page layout unavailable", zap.Int("page", page+1), zap.Error(err))
		return []routine.Table{}
	}
	tables, err := BuildTables(html)
	if err != nil {
		logger.Warn("Table reconstruction failed", zap.Int("page", page+1), zap.Error(err))
		return []routine.Table{}
	}
	return tables
}

// ensureArtifact creates rel under the output root with write unless it
// already exists. The file appears under its final name only when complete.
func (e *Extractor) ensureArtifact(rel string, write func(io.Writer) error) (bool, error) {
	path := filepath.Join(e.cfg.OutputRoot, filepath.FromSlash(rel))
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return false, fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	if err := write(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return false, fmt.Errorf("write %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return false, fmt.Errorf("close %s: %w", rel, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return false, fmt.Errorf("publish %s: %w", rel, err)
	}
	return true, nil
}

// BaseName strips a trailing .pdf extension, in any case, from name.
func BaseName(name string) string {
	ext := filepath.Ext(name)
	if strings.EqualFold(ext, ".pdf") {
		return strings.TrimSuffix(name, ext)
	}
	return name
}
