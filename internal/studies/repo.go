package studies

import (
	"context"

	"trial-estimator/internal/derive"
)

// Repo persists studies and their jobs. Implementations keep at most one
// queued or running job per study and make the job claim atomic.
type Repo interface {
	CreateStudy(ctx context.Context, study Study) error
	GetStudy(ctx context.Context, studyID string) (Study, error)
	// UpdateRecord applies edit to the stored record and saves it. It fails
	// with ErrStudyBusy while a job is active.
	UpdateRecord(ctx context.Context, studyID string, edit func(rec *derive.Record) error) (Study, error)

	// StudyBusy reports whether the study has a queued or running job.
	StudyBusy(ctx context.Context, studyID string) (bool, error)

	// CreateJob stores a queued job, or fails with ErrStudyBusy.
	CreateJob(ctx context.Context, job Job) error
	// QueuedJobs lists jobs that no worker has claimed yet, oldest first.
	QueuedJobs(ctx context.Context) ([]Job, error)
	GetJob(ctx context.Context, jobID string) (Job, error)
	// ClaimJob moves a job from queued to running. Any other state yields
	// ErrAlreadyClaimed.
	ClaimJob(ctx context.Context, jobID string) (Job, error)
	// CompleteJob finishes a running job and saves the study record with it.
	CompleteJob(ctx context.Context, jobID string, rec *derive.Record, res derive.Result) error
	// FailJob marks a job failed. A non-nil rec is saved as well so layers
	// committed before the failure survive.
	FailJob(ctx context.Context, jobID string, rec *derive.Record, code, message string) error
}
