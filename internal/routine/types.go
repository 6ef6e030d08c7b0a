// Package routine defines the shared domain model for harvested routine documents.
package routine

import (
	"errors"
	"fmt"
	"time"
)

// Unknown is the placeholder value used for unresolved program or intake fields.
const Unknown = "Unknown"

// Directory and file names shared by the extractor, index builder, and API.
const (
	ImagesDir = "routine_images"
	PagesDir  = "routine_pages"
	IndexFile = "routine_db.json"
)

// DocumentReference is one candidate routine discovered on the listing page.
type DocumentReference struct {
	Description string
	SourceURL   string
}

// StagedDocument is an acquired document stored in the staging directory.
type StagedDocument struct {
	Name string
	Path string
}

// Table is a grid of cells. A nil cell means the cell was absent.
type Table [][]*string

// RawExtraction is a record candidate read from one page of a staged document.
type RawExtraction struct {
	RawCategory    string
	Program        string
	Intake         string
	Section        string
	PageIndex      int
	SourceDocument string
	Image          string
	PDF            string
	Tables         []Table
}

// Record is one published entry of the routine index.
type Record struct {
	Program string  `json:"program"`
	Intake  string  `json:"intake"`
	Section string  `json:"section"`
	Image   string  `json:"image"`
	PDF     string  `json:"pdf"`
	Tables  []Table `json:"tables"`
}

// Key identifies a record for deduplication. Section is not part of the key.
type Key struct {
	Program string
	Intake  string
	Image   string
}

// Key returns the deduplication key of the record.
func (r Record) Key() Key {
	return Key{Program: r.Program, Intake: r.Intake, Image: r.Image}
}

// Status classifies the result of acquiring one reference.
type Status string

const (
	// StatusAcquired means a new document was written to staging.
	StatusAcquired Status = "acquired"
	// StatusSkippedExisting means a valid document already existed under the assigned name.
	StatusSkippedExisting Status = "skipped_existing"
	// StatusSkippedNoData means the rendered page reported it has no routine.
	StatusSkippedNoData Status = "skipped_no_data"
	// StatusFailed means the reference could not be acquired or read.
	StatusFailed Status = "failed"
	// StatusIndexed means a staged document was read during indexing.
	StatusIndexed Status = "indexed"
)

// Strategy names how a document was obtained.
type Strategy string

const (
	StrategyDirect   Strategy = "direct"
	StrategyRendered Strategy = "rendered"
)

// Outcome is the explicit per-reference result of an acquisition attempt.
type Outcome struct {
	Name     string
	URL      string
	Status   Status
	Strategy Strategy
	Reason   string
	Bytes    int64
	SHA256   string
	Cause    error
}

// Err returns the acquisition error for failed outcomes and nil otherwise.
func (o Outcome) Err() error {
	if o.Status != StatusFailed {
		return nil
	}
	return &AcquireError{Name: o.Name, URL: o.URL, Reason: o.Reason, Err: o.Cause}
}

// Stage names a pipeline stage.
type Stage string

const (
	StageAcquire Stage = "acquire"
	StageIndex   Stage = "index"
)

// RunReport summarizes one pipeline stage.
type RunReport struct {
	RunID      string
	Stage      Stage
	StartedAt  time.Time
	FinishedAt time.Time
	Outcomes   []Outcome
	Documents  int
	Failed     int
	Records    int
	IndexPath  string
}

// Count returns how many outcomes have the given status.
func (r RunReport) Count(status Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Duration returns the wall time of the stage.
func (r RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ErrNavigation indicates the listing page could not be reached.
var ErrNavigation = errors.New("listing navigation failed")

// NavigationError carries the listing URL and the underlying failure.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigate %s: %v", e.URL, e.Err)
}

// Unwrap exposes both the sentinel and the cause to errors.Is.
func (e *NavigationError) Unwrap() []error {
	return []error{ErrNavigation, e.Err}
}

// AcquireError describes why a single reference was not acquired.
type AcquireError struct {
	Name   string
	URL    string
	Reason string
	Err    error
}

func (e *AcquireError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("acquire %s (%s): %s: %v", e.Name, e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("acquire %s (%s): %s", e.Name, e.URL, e.Reason)
}

func (e *AcquireError) Unwrap() error {
	return e.Err
}

// ExtractionError describes a staged document that could not be read.
type ExtractionError struct {
	Document string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Document, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Sentinel failures reported by document sources.
var (
	// ErrNoData means a rendered page states it has no routine to show.
	ErrNoData = errors.New("page reports no routine data")
	// ErrContentTimeout means the rendered page never produced table content.
	ErrContentTimeout = errors.New("content did not load in time")
	// ErrBadStatus means the document server answered with a non-200 status.
	ErrBadStatus = errors.New("unexpected response status")
	// ErrChallenge means a challenge interstitial was served instead of the document.
	ErrChallenge = errors.New("challenge page served")
)
