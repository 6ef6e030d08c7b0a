package store

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/tuhinx/bubt-annex-routine/internal/routine"
)

// DefaultTable is used when no table name is configured.
const DefaultTable = "routine_records"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Table returns name, or DefaultTable when empty, after checking that it is
// safe to interpolate into SQL.
func Table(name string) (string, error) {
	if name == "" {
		name = DefaultTable
	}
	if !validTableName.MatchString(name) {
		return "", fmt.Errorf("invalid table name %q", name)
	}
	return name, nil
}

// Row is one persisted record. Position keeps the index order.
type Row struct {
	RunID    string
	Position int
	Program  string
	Intake   string
	Section  string
	Image    string
	PDF      string
	Tables   []byte
}

// Args returns the row's values in column order.
func (r Row) Args() []any {
	return []any{r.RunID, r.Position, r.Program, r.Intake, r.Section, r.Image, r.PDF, r.Tables}
}

// Columns lists the insert columns matching Row.Args.
const Columns = "run_id, position, program, intake, section, image, pdf, tables"

// Rows flattens records in index order.
func Rows(runID string, records []routine.Record) ([]Row, error) {
	rows := make([]Row, 0, len(records))
	for i, rec := range records {
		tables := rec.Tables
		if tables == nil {
			tables = []routine.Table{}
		}
		data, err := json.Marshal(tables)
		if err != nil {
			return nil, fmt.Errorf("marshal tables for %s: %w", rec.Image, err)
		}
		rows = append(rows, Row{
			RunID:    runID,
			Position: i,
			Program:  rec.Program,
			Intake:   rec.Intake,
			Section:  rec.Section,
			Image:    rec.Image,
			PDF:      rec.PDF,
			Tables:   data,
		})
	}
	return rows, nil
}
