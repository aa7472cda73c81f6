package studies

import (
	"time"

	"trial-estimator/internal/derive"
	"trial-estimator/internal/documents"
)

const (
	StatusQueued   = "queued"
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// Study is one estimation session: the stages picked at creation and the
// record accumulated by its jobs and manual edits.
type Study struct {
	ID        string
	Stages    []derive.Stage
	Record    *derive.Record
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Job is one queued derivation run against a study.
type Job struct {
	ID           string
	StudyID      string
	RequestID    string
	Mode         derive.Mode
	Documents    []documents.Ref
	Refresh      bool
	DMC          bool
	Status       string
	SubSteps     []string
	Changed      []string
	ErrorCode    string
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// Active reports whether the job still blocks its study.
func (j Job) Active() bool {
	return j.Status == StatusQueued || j.Status == StatusRunning
}
