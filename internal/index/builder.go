// Package index builds and persists the published routine index.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/tuhinx/bubt-annex-routine/internal/extract"
	"github.com/tuhinx/bubt-annex-routine/internal/routine"
)

var artifactName = regexp.MustCompile(`(?i)_p\d+\.pdf$`)

// DocumentExtractor extracts records and artifacts from one staged document.
type DocumentExtractor interface {
	ExtractDocument(ctx context.Context, doc routine.StagedDocument) (extract.Result, error)
}

// Report describes one index build.
type Report struct {
	Documents []string
	Failed    []string
	Created   []string
	Raw       int
}

// Builder turns the staging directory into an ordered record set.
type Builder struct {
	extractor DocumentExtractor
	logger    *zap.Logger
}

// NewBuilder returns a Builder.
func NewBuilder(extractor DocumentExtractor, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{extractor: extractor, logger: logger}
}

// Enumerate lists staged documents in lexical order, leaving out generated
// single-page artifacts.
func Enumerate(stagingDir string) ([]routine.StagedDocument, error) {
	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		return nil, fmt.Errorf("read staging dir: %w", err)
	}
	var docs []routine.StagedDocument
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || !strings.EqualFold(filepath.Ext(name), ".pdf") {
			continue
		}
		if strings.Contains(name, routine.PagesDir) || artifactName.MatchString(name) {
			continue
		}
		docs = append(docs, routine.StagedDocument{Name: name, Path: filepath.Join(stagingDir, name)})
	}
	return docs, nil
}

// Build extracts every staged document and returns the published records.
// A document that cannot be read is logged and contributes nothing.
func (b *Builder) Build(ctx context.Context, stagingDir string) ([]routine.Record, Report, error) {
	docs, err := Enumerate(stagingDir)
	if err != nil {
		return nil, Report{}, err
	}

	var (
		report Report
		raw    []routine.RawExtraction
	)
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, report, fmt.Errorf("build index: %w", err)
		}
		b.logger.Info("Parsing document", zap.String("document", doc.Name))
		res, err := b.extractor.ExtractDocument(ctx, doc)
		if err != nil {
			b.logger.Warn("Document skipped", zap.String("document", doc.Name), zap.Error(err))
			report.Failed = append(report.Failed, doc.Name)
			continue
		}
		report.Documents = append(report.Documents, doc.Name)
		report.Created = append(report.Created, res.Created...)
		raw = append(raw, res.Records...)
	}
	report.Raw = len(raw)
	return Assemble(raw), report, nil
}

// Assemble deduplicates raw records on program, intake, and image in
// first-seen order, drops unresolved records, and sorts by program then
// numeric intake.
func Assemble(raw []routine.RawExtraction) []routine.Record {
	seen := make(map[routine.Key]struct{}, len(raw))
	records := make([]routine.Record, 0, len(raw))
	for _, r := range raw {
		rec := routine.Record{
			Program: r.Program,
			Intake:  r.Intake,
			Section: r.Section,
			Image:   r.Image,
			PDF:     r.PDF,
			Tables:  r.Tables,
		}
		if rec.Tables == nil {
			rec.Tables = []routine.Table{}
		}
		key := rec.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if rec.Program == routine.Unknown || rec.Intake == routine.Unknown {
			continue
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Program != records[j].Program {
			return records[i].Program < records[j].Program
		}
		return intakeLess(records[i].Intake, records[j].Intake)
	})
	return records
}

// intakeLess orders intakes by numeric value. Non-numeric intakes count as
// zero. Values are compared as digit strings so any length is exact.
func intakeLess(a, b string) bool {
	ka, kb := intakeKey(a), intakeKey(b)
	if len(ka) != len(kb) {
		return len(ka) < len(kb)
	}
	return ka < kb
}

func intakeKey(intake string) string {
	if intake == "" {
		return "0"
	}
	for _, r := range intake {
		if r < '0' || r > '9' {
			return "0"
		}
	}
	if trimmed := strings.TrimLeft(intake, "0"); trimmed != "" {
		return trimmed
	}
	return "0"
}

// Write persists records as indented JSON at path, replacing any previous
// index only once the new one is complete.
func Write(path string, records []routine.Record) error {
	if records == nil {
		records = []routine.Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp index: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp index: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace index: %w", err)
	}
	return nil
}

// Read loads a previously written index.
func Read(path string) ([]routine.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	var records []routine.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	return records, nil
}
