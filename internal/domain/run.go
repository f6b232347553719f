package domain

import "time"

// RunStatus enumerates PipelineRun lifecycle states.
type RunStatus string

const (
	RunStatusRunning RunStatus = "RUNNING"
	RunStatusSuccess RunStatus = "SUCCESS"
	RunStatusFailed  RunStatus = "FAILED"
)

// Stage names a step of the delivery cycle.
type Stage string

const (
	StageInit        Stage = "INIT"
	StageIngest      Stage = "INGEST"
	StageEnrich      Stage = "ENRICH"
	StageSummarize   Stage = "SUMMARIZE"
	StagePersonalize Stage = "PERSONALIZE"
	StageDone        Stage = "DONE"
	StageFailed      Stage = "FAILED"
)

// PipelineRun is the persisted progress record of one cycle.
type PipelineRun struct {
	ID             string
	Status         RunStatus
	StartedAt      time.Time
	EndedAt        *time.Time
	LogSummary     string
	UsersProcessed int
	Result         *RunResult
}

// StageReport carries per-stage item counts.
type StageReport struct {
	Processed   int  `json:"processed"`
	Failed      int  `json:"failed"`
	Total       int  `json:"total"`
	Unavailable int  `json:"unavailable,omitempty"`
	Skipped     bool `json:"skipped,omitempty"`
}

// UserOutcome records what happened to one user during PERSONALIZE.
type UserOutcome struct {
	UserID     string `json:"user_id"`
	Candidates int    `json:"candidates"`
	Ranked     int    `json:"ranked"`
	Forwarded  int    `json:"forwarded"`
	Delivered  bool   `json:"delivered"`
	Skipped    string `json:"skipped,omitempty"`
	Error      string `json:"error,omitempty"`
}

// RunResult is the summary payload stored on a finished run.
type RunResult struct {
	Ingest          StageReport   `json:"ingest"`
	Enrich          StageReport   `json:"enrich"`
	Transcripts     StageReport   `json:"transcripts"`
	Summarize       StageReport   `json:"summarize"`
	UsersProcessed  int           `json:"users_processed"`
	Recommendations int           `json:"recommendations_created"`
	Deliveries      int           `json:"deliveries"`
	FailedStage     Stage         `json:"failed_stage,omitempty"`
	Error           string        `json:"error,omitempty"`
	Users           []UserOutcome `json:"users,omitempty"`
}
