package pipeline

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/tuhinx/bubt-annex-routine/internal/routine"
)

// WriteReport renders a stage summary followed by every outcome that did not
// succeed.
func WriteReport(w io.Writer, reports ...routine.RunReport) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Run", "Stage", "Documents", "Failed", "Records", "Duration"})
	for _, rep := range reports {
		t.AppendRow(table.Row{
			rep.RunID,
			rep.Stage,
			rep.Documents,
			rep.Failed,
			rep.Records,
			rep.Duration().Round(time.Millisecond),
		})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()

	var problems []routine.Outcome
	for _, rep := range reports {
		for _, o := range rep.Outcomes {
			if o.Status == routine.StatusFailed || o.Status == routine.StatusSkippedNoData {
				problems = append(problems, o)
			}
		}
	}
	if len(problems) == 0 {
		return
	}

	ft := table.NewWriter()
	ft.SetOutputMirror(w)
	ft.AppendHeader(table.Row{"Document", "Status", "Reason"})
	for _, o := range problems {
		name := o.Name
		if name == "" {
			name = o.URL
		}
		reason := o.Reason
		if o.Cause != nil {
			reason = fmt.Sprintf("%s: %v", o.Reason, o.Cause)
		}
		ft.AppendRow(table.Row{name, o.Status, reason})
	}
	ft.SetStyle(table.StyleRounded)
	ft.Render()
}
