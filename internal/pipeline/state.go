package pipeline

import (
	"time"

	"bireport/internal/core"
)

// Phase is the orchestrator's lifecycle state.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// Stage names, in execution order.
const (
	StageExtract   = "extract"
	StageParse     = "parse"
	StageEmbed     = "embed"
	StageCluster   = "cluster"
	StageSummarize = "summarize"
	StageAssemble  = "assemble"
	StageDeliver   = "deliver"
)

// RunState is the mutable state of the current or most recent run. It is
// owned by the Orchestrator and only read through Status snapshots.
type RunState struct {
	Phase      Phase
	RunID      string
	Stage      string
	StartedAt  time.Time
	FinishedAt time.Time

	Err      error
	ErrStage string

	Stats    core.ProcessingStats
	Delivery core.DeliveryOutcome
}

// StatusSnapshot is a read-only copy of RunState for status queries.
type StatusSnapshot struct {
	Phase      Phase     `json:"phase"`
	RunID      string    `json:"run_id,omitempty"`
	Stage      string    `json:"stage,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	LastError  string `json:"last_error,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
	ErrorStage string `json:"error_stage,omitempty"`

	DocumentsProcessed int                  `json:"documents_processed"`
	TopicsIdentified   int                  `json:"topics_identified"`
	ReportID           string               `json:"report_id,omitempty"`
	ReportURL          string               `json:"report_url,omitempty"`
	Stats              core.ProcessingStats `json:"stats"`
	HasResult          bool                 `json:"has_result"`
}

// IsRunning reports whether a run is in flight.
func (s StatusSnapshot) IsRunning() bool { return s.Phase == PhaseRunning }

func (rs *RunState) snapshot(hasResult bool) StatusSnapshot {
	snap := StatusSnapshot{
		Phase:              rs.Phase,
		RunID:              rs.RunID,
		Stage:              rs.Stage,
		StartedAt:          rs.StartedAt,
		FinishedAt:         rs.FinishedAt,
		ErrorStage:         rs.ErrStage,
		DocumentsProcessed: rs.Stats.DocumentsParsed,
		TopicsIdentified:   rs.Stats.TopicsIdentified,
		ReportID:           rs.Delivery.ReportID,
		ReportURL:          rs.Delivery.RemoteURL,
		Stats:              rs.Stats,
		HasResult:          hasResult,
	}
	if snap.ReportURL == "" {
		snap.ReportURL = rs.Delivery.LocalPath
	}
	if rs.Err != nil {
		snap.LastError = rs.Err.Error()
		snap.ErrorKind = core.Kind(rs.Err)
	}
	return snap
}
