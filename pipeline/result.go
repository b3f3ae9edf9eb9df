package pipeline

import (
	"errors"
	"time"

	"github.com/squint-dev/squint/issue"
	"github.com/squint-dev/squint/tracker"
)

// ErrNoRenderableNodes aborts a run whose document yielded no reference
// images at all.
var ErrNoRenderableNodes = errors.New("pipeline: no renderable nodes")

// Comparison is one reference frame scored against the live composite.
type Comparison struct {
	NodeID        string  `json:"node_id"`
	NodeName      string  `json:"node_name"`
	Score         float64 `json:"score"`
	Match         bool    `json:"match"`
	ReferencePath string  `json:"reference_path,omitempty"`
	DiffPath      string  `json:"diff_path,omitempty"`
	HeatmapPath   string  `json:"heatmap_path,omitempty"`
}

// RunResult is the consolidated outcome of one pipeline run. Aborted
// distinguishes a run that failed before producing anything from a
// completed run with partial findings.
type RunResult struct {
	RunID       string `json:"run_id"`
	FileID      string `json:"file_id"`
	PageURL     string `json:"page_url"`
	Aborted     bool   `json:"aborted"`
	AbortReason string `json:"abort_reason,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Comparisons   []Comparison            `json:"comparisons"`
	RenderFailed  map[string]string       `json:"render_failed,omitempty"`
	Issues        []issue.Issue           `json:"issues"`
	Dispatch      *tracker.DispatchResult `json:"-"`
	CompositePath string                  `json:"composite_path,omitempty"`
}

// DispatchFailed reports how many ticket submissions failed, zero when
// dispatch was skipped.
func (r *RunResult) DispatchFailed() int {
	if r.Dispatch == nil {
		return 0
	}
	return r.Dispatch.Failed
}

func abortedResult(r *RunResult, reason error) *RunResult {
	r.Aborted = true
	r.AbortReason = reason.Error()
	r.FinishedAt = time.Now().UTC()
	return r
}
