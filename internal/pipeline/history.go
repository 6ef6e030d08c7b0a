package pipeline

import (
	"sync"

	"github.com/tuhinx/bubt-annex-routine/internal/routine"
)

const defaultHistorySize = 100

// History keeps the most recent stage reports in memory.
type History struct {
	mu      sync.RWMutex
	size    int
	reports []routine.RunReport
}

// NewHistory retains up to size reports. Non-positive sizes use the default.
func NewHistory(size int) *History {
	if size <= 0 {
		size = defaultHistorySize
	}
	return &History{size: size}
}

// Add appends a report, evicting the oldest once full.
func (h *History) Add(rep routine.RunReport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reports = append(h.reports, rep)
	if over := len(h.reports) - h.size; over > 0 {
		h.reports = append([]routine.RunReport(nil), h.reports[over:]...)
	}
}

// Recent returns up to limit reports, newest first.
func (h *History) Recent(limit int) []routine.RunReport {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if limit <= 0 || limit > len(h.reports) {
		limit = len(h.reports)
	}
	out := make([]routine.RunReport, 0, limit)
	for i := len(h.reports) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h.reports[i])
	}
	return out
}

// Get returns every stage recorded for runID in execution order.
func (h *History) Get(runID string) ([]routine.RunReport, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []routine.RunReport
	for _, rep := range h.reports {
		if rep.RunID == runID {
			out = append(out, rep)
		}
	}
	return out, len(out) > 0
}
