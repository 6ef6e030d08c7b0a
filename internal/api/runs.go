package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tuhinx/bubt-annex-routine/internal/routine"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
)

// RunHistory exposes recent stage reports.
type RunHistory interface {
	Recent(limit int) []routine.RunReport
	Get(runID string) ([]routine.RunReport, bool)
}

// Trigger starts a pipeline run out of schedule. It returns false when a run
// is already in progress.
type Trigger interface {
	TriggerRun() bool
}

// RunHandler exposes read-only run history and manual triggering.
type RunHandler struct {
	history RunHistory
	trigger Trigger
	logger  *zap.Logger
}

// NewRunHandler wires the history and trigger. Either may be nil.
func NewRunHandler(history RunHistory, trigger Trigger, logger *zap.Logger) *RunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunHandler{history: history, trigger: trigger, logger: logger}
}

// ListRuns handles GET /api/runs?limit=. It returns {"runs": [...]} newest
// first, 400 for an invalid limit, or 503 when no history is wired.
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "run history unavailable")
		return
	}
	limit, err := parseLimit(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": toRunDTOs(h.history.Recent(limit), false)})
}

// GetRun handles GET /api/runs/{run_id}. It returns every stage of the run
// with per-document outcomes, or 404.
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "run history unavailable")
		return
	}
	runID := chi.URLParam(r, "run_id")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run_id is required")
		return
	}
	reports, ok := h.history.Get(runID)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "stages": toRunDTOs(reports, true)})
}

// TriggerRun handles POST /api/runs. It answers 202 when a run was started and
// 409 when one is already in progress.
func (h *RunHandler) TriggerRun(w http.ResponseWriter, _ *http.Request) {
	if h.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler unavailable")
		return
	}
	if !h.trigger.TriggerRun() {
		writeError(w, http.StatusConflict, "run already in progress")
		return
	}
	h.logger.Info("Manual run triggered")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	if val > maxLimit {
		val = maxLimit
	}
	return val, nil
}

type runDTO struct {
	RunID      string         `json:"run_id"`
	Stage      string         `json:"stage"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	DurationMS int64          `json:"duration_ms"`
	Documents  int            `json:"documents"`
	Failed     int            `json:"failed"`
	Records    int            `json:"records"`
	Counts     map[string]int `json:"counts,omitempty"`
	Outcomes   []outcomeDTO   `json:"outcomes,omitempty"`
}

type outcomeDTO struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Status   string `json:"status"`
	Strategy string `json:"strategy,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Bytes    int64  `json:"bytes,omitempty"`
	SHA256   string `json:"sha256,omitempty"`
}

func toRunDTOs(in []routine.RunReport, withOutcomes bool) []runDTO {
	out := make([]runDTO, 0, len(in))
	for _, rep := range in {
		dto := runDTO{
			RunID:      rep.RunID,
			Stage:      string(rep.Stage),
			StartedAt:  rep.StartedAt,
			FinishedAt: rep.FinishedAt,
			DurationMS: rep.Duration().Milliseconds(),
			Documents:  rep.Documents,
			Failed:     rep.Failed,
			Records:    rep.Records,
		}
		if len(rep.Outcomes) > 0 {
			dto.Counts = map[string]int{}
			for _, o := range rep.Outcomes {
				dto.Counts[string(o.Status)]++
			}
		}
		if withOutcomes {
			for _, o := range rep.Outcomes {
				dto.Outcomes = append(dto.Outcomes, outcomeDTO{
					Name:     o.Name,
					URL:      o.URL,
					Status:   string(o.Status),
					Strategy: string(o.Strategy),
					Reason:   o.Reason,
					Bytes:    o.Bytes,
					SHA256:   o.SHA256,
				})
			}
		}
		out = append(out, dto)
	}
	return out
}
