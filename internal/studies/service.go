package studies

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"trial-estimator/internal/derive"
	"trial-estimator/internal/documents"
	"trial-estimator/internal/extraction"
	"trial-estimator/internal/llm"
	"trial-estimator/internal/queue"
	"trial-estimator/internal/shared/metrics"
	"trial-estimator/internal/shared/telemetry"
)

// DefaultExtractionTimeout bounds one job's provider calls.
const DefaultExtractionTimeout = 10 * time.Minute

// Service contains business logic for studies and their jobs.
type Service struct {
	Repo              Repo
	Docs              *documents.Service
	JobQueue          queue.Client
	LLM               llm.Client
	Assumptions       derive.Assumptions
	ExtractionTimeout time.Duration
}

// Upload is one file received with a job submission.
type Upload struct {
	Purpose     documents.Purpose
	FileName    string
	ContentType string
	Body        io.Reader
}

// SubmitInput carries the documents and sub-step flags of a submission.
type SubmitInput struct {
	Uploads []Upload
	Refresh bool
	DMC     bool
}

// CreateStudy starts a session for the given stages.
func (s *Service) CreateStudy(ctx context.Context, rawStages []string) (Study, error) {
	stages, err := derive.ParseStages(rawStages)
	if err != nil {
		return Study{}, err
	}
	now := time.Now().UTC()
	study := Study{
		ID:        uuid.NewString(),
		Stages:    stages,
		Record:    derive.NewRecord(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Repo.CreateStudy(ctx, study); err != nil {
		return Study{}, err
	}
	metrics.IncStudiesCreated()
	telemetry.Info("study.created", map[string]any{
		"request_id": requestIDFromContext(ctx),
		"study_id":   study.ID,
		"stages":     stageNames(stages),
	})
	return study, nil
}

// GetStudy returns a study by ID.
func (s *Service) GetStudy(ctx context.Context, studyID string) (Study, error) {
	if studyID == "" {
		return Study{}, ErrInvalidInput
	}
	return s.Repo.GetStudy(ctx, studyID)
}

// GetJob returns a job by ID.
func (s *Service) GetJob(ctx context.Context, jobID string) (Job, error) {
	if jobID == "" {
		return Job{}, ErrInvalidInput
	}
	return s.Repo.GetJob(ctx, jobID)
}

// Submit validates a submission, stores its documents and queues a job.
// The run mode follows from the study state: documents on a fresh study make
// a first run, documents after a base run rebase it, and sub-step flags alone
// refine it.
func (s *Service) Submit(ctx context.Context, studyID string, in SubmitInput) (Job, error) {
	if s.JobQueue == nil {
		return Job{}, ErrJobQueueNotConfigured
	}
	study, err := s.GetStudy(ctx, studyID)
	if err != nil {
		return Job{}, err
	}

	uploads := make([]Upload, 0, len(in.Uploads))
	for _, u := range in.Uploads {
		switch u.Purpose {
		case documents.PurposeRefresh:
			if !in.Refresh {
				continue
			}
		case documents.PurposeDMC:
			if !in.DMC {
				continue
			}
		}
		uploads = append(uploads, u)
	}

	plan := planRequest(study, uploads, in.Refresh, in.DMC)
	if err := plan.CheckPlan(study.Record); err != nil {
		return Job{}, err
	}
	// Nothing is uploaded for a submission that CreateJob would refuse.
	busy, err := s.Repo.StudyBusy(ctx, study.ID)
	if err != nil {
		return Job{}, err
	}
	if busy {
		return Job{}, ErrStudyBusy
	}

	refs := make([]documents.Ref, 0, len(uploads))
	for _, u := range uploads {
		ref, err := s.Docs.Save(ctx, study.ID, u.Purpose, u.FileName, u.ContentType, u.Body)
		if err != nil {
			return Job{}, err
		}
		refs = append(refs, ref)
	}

	job := Job{
		ID:        uuid.NewString(),
		StudyID:   study.ID,
		RequestID: requestIDFromContext(ctx),
		Mode:      plan.Mode,
		Documents: refs,
		Refresh:   in.Refresh,
		DMC:       in.DMC,
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Repo.CreateJob(ctx, job); err != nil {
		return Job{}, err
	}

	msg := queue.NewMessage(job.ID, job.StudyID, job.RequestID, job.CreatedAt)
	if err := s.JobQueue.Send(ctx, msg); err != nil {
		sendErr := fmt.Errorf("enqueue job: %w", err)
		if failErr := s.Repo.FailJob(context.WithoutCancel(ctx), job.ID, nil, ErrorCodeInternal, sanitizeError(sendErr)); failErr != nil {
			telemetry.Error("study.job.fail_update", map[string]any{"job_id": job.ID, "error": failErr})
		}
		return Job{}, sendErr
	}

	metrics.IncJobsSubmitted()
	s.logStatus(ctx, job, StatusQueued, "->queued", nil)
	return job, nil
}

// RequeuePending sends every job the repo still holds as queued, for queues
// that do not survive a restart. ProcessJob skips a duplicate message.
func (s *Service) RequeuePending(ctx context.Context) (int, error) {
	if s.JobQueue == nil {
		return 0, ErrJobQueueNotConfigured
	}
	jobs, err := s.Repo.QueuedJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list queued jobs: %w", err)
	}
	sent := 0
	for _, job := range jobs {
		msg := queue.NewMessage(job.ID, job.StudyID, job.RequestID, job.CreatedAt)
		if err := s.JobQueue.Send(ctx, msg); err != nil {
			return sent, fmt.Errorf("requeue job %s: %w", job.ID, err)
		}
		sent++
	}
	if sent > 0 {
		telemetry.Info("study.jobs.requeued", map[string]any{"count": sent})
	}
	return sent, nil
}

// EditFields merges manual edits into the study record. Edits are rejected
// while a job is active and when any key is not editable.
func (s *Service) EditFields(ctx context.Context, studyID string, edits map[string]any) (Study, error) {
	if len(edits) == 0 {
		return Study{}, ErrInvalidInput
	}
	var applied derive.Patch
	study, err := s.Repo.UpdateRecord(ctx, studyID, func(rec *derive.Record) error {
		p, err := rec.ApplyManual(edits)
		applied = p
		return err
	})
	if err != nil {
		return Study{}, err
	}
	metrics.IncManualEdits()
	telemetry.Info("study.fields.edited", map[string]any{
		"request_id": requestIDFromContext(ctx),
		"study_id":   studyID,
		"fields":     len(applied),
	})
	return study, nil
}

// ProcessJob runs a queued job. A job that was already claimed is skipped,
// so a redelivered message never runs twice. Job failures are recorded on
// the job and do not surface as errors.
func (s *Service) ProcessJob(ctx context.Context, jobID string) (err error) {
	job, err := s.Repo.ClaimJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, ErrAlreadyClaimed) {
			telemetry.Warn("study.job.skipped", map[string]any{
				"request_id": requestIDFromContext(ctx),
				"job_id":     jobID,
				"status":     job.Status,
			})
			return nil
		}
		return err
	}
	startedAt := time.Now().UTC()
	metrics.IncJobsStarted()
	s.logStatus(ctx, job, StatusRunning, "queued->running", nil)

	var rec *derive.Record
	defer func() {
		if r := recover(); r != nil {
			err = s.failJob(ctx, job, rec, fmt.Errorf("panic: %v", r), startedAt)
		}
	}()

	study, err := s.Repo.GetStudy(ctx, job.StudyID)
	if err != nil {
		return s.failJob(ctx, job, nil, fmt.Errorf("%w: study lookup: %w", errStorage, err), startedAt)
	}
	rec = study.Record

	req, err := s.loadRequest(ctx, study, job)
	if err != nil {
		return s.failJob(ctx, job, nil, err, startedAt)
	}

	if s.LLM == nil {
		return s.failJob(ctx, job, nil, errors.New("missing llm client"), startedAt)
	}
	timeout := s.ExtractionTimeout
	if timeout <= 0 {
		timeout = DefaultExtractionTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	engine := derive.NewEngine(extraction.New(llm.WithRetry(s.LLM, job.ID, job.RequestID)), s.assumptions())
	res, runErr := engine.Run(runCtx, rec, req)
	if runErr != nil {
		return s.failJob(ctx, job, rec, runErr, startedAt)
	}

	if err := s.Repo.CompleteJob(ctx, job.ID, rec, res); err != nil {
		return s.failJob(ctx, job, nil, fmt.Errorf("%w: save result: %w", errStorage, err), startedAt)
	}
	completedAt := time.Now().UTC()
	metrics.IncJobsCompleted()
	metrics.ObserveJobDurationMs(durationMs(startedAt, completedAt))
	s.logStatus(ctx, job, StatusFinished, "running->finished", map[string]any{
		"duration_ms": durationMs(startedAt, completedAt),
		"stages":      stageNames(res.Stages),
		"sub_steps":   strings.Join(res.SubSteps, ","),
		"changed":     len(res.Changed),
	})
	return nil
}

func (s *Service) loadRequest(ctx context.Context, study Study, job Job) (derive.Request, error) {
	load := func(p documents.Purpose) ([]derive.Document, error) {
		docs, err := s.Docs.Load(ctx, documents.Filter(job.Documents, p))
		if err != nil {
			return nil, fmt.Errorf("%w: load %s documents: %w", errStorage, p, err)
		}
		return docs, nil
	}
	studyDocs, err := load(documents.PurposeStudy)
	if err != nil {
		return derive.Request{}, err
	}
	refreshDocs, err := load(documents.PurposeRefresh)
	if err != nil {
		return derive.Request{}, err
	}
	dmcDocs, err := load(documents.PurposeDMC)
	if err != nil {
		return derive.Request{}, err
	}
	return derive.Request{
		Mode:      job.Mode,
		Stages:    study.Stages,
		Documents: studyDocs,
		Refresh:   derive.SubStepRequest{Enabled: job.Refresh, Documents: refreshDocs},
		DMC:       derive.SubStepRequest{Enabled: job.DMC, Documents: dmcDocs},
	}, nil
}

// failJob records the failure and returns nil unless the failure itself
// could not be stored.
func (s *Service) failJob(ctx context.Context, job Job, rec *derive.Record, cause error, startedAt time.Time) error {
	code := classifyFailure(cause)
	msg := sanitizeError(cause)
	if err := s.Repo.FailJob(context.WithoutCancel(ctx), job.ID, rec, code, msg); err != nil {
		telemetry.Error("study.job.fail_update", map[string]any{
			"job_id": job.ID,
			"error":  err,
			"cause":  msg,
		})
		return fmt.Errorf("record failure for job %s: %w", job.ID, err)
	}
	completedAt := time.Now().UTC()
	metrics.IncJobsFailed(code)
	metrics.ObserveJobDurationMs(durationMs(startedAt, completedAt))
	s.logStatus(ctx, job, StatusFailed, "running->failed", map[string]any{
		"duration_ms": durationMs(startedAt, completedAt),
		"error_code":  code,
		"error":       msg,
	})
	return nil
}

func (s *Service) assumptions() derive.Assumptions {
	if s.Assumptions == (derive.Assumptions{}) {
		return derive.DefaultAssumptions()
	}
	return s.Assumptions
}

func (s *Service) logStatus(ctx context.Context, job Job, status, transition string, extra map[string]any) {
	fields := map[string]any{
		"request_id":        firstNonEmpty(requestIDFromContext(ctx), job.RequestID),
		"study_id":          job.StudyID,
		"job_id":            job.ID,
		"mode":              job.Mode.String(),
		"status":            status,
		"status_transition": transition,
	}
	for k, v := range extra {
		fields[k] = v
	}
	telemetry.Info("study.job.status", fields)
}

// planRequest builds the derivation request a submission implies, with
// document placeholders standing in for the uploads.
func planRequest(study Study, uploads []Upload, refresh, dmc bool) derive.Request {
	req := derive.Request{
		Stages:  study.Stages,
		Refresh: derive.SubStepRequest{Enabled: refresh},
		DMC:     derive.SubStepRequest{Enabled: dmc},
	}
	for _, u := range uploads {
		doc := derive.Document{Name: u.FileName}
		switch u.Purpose {
		case documents.PurposeRefresh:
			req.Refresh.Documents = append(req.Refresh.Documents, doc)
		case documents.PurposeDMC:
			req.DMC.Documents = append(req.DMC.Documents, doc)
		default:
			req.Documents = append(req.Documents, doc)
		}
	}
	switch {
	case len(req.Documents) > 0 && study.Record.BaseDone():
		req.Mode = derive.ModeRebase
	case len(req.Documents) == 0 && study.Record.BaseDone():
		req.Mode = derive.ModeRefine
	default:
		req.Mode = derive.ModeFirstRun
	}
	return req
}

func classifyFailure(err error) string {
	switch {
	case err == nil:
		return ErrorCodeInternal
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorCodeExtractionTimeout
	case errors.Is(err, derive.ErrExtractionFormat):
		return ErrorCodeExtractionFormat
	case errors.Is(err, derive.ErrExtractionFailure):
		return ErrorCodeExtractionFailed
	case errors.Is(err, errStorage):
		return ErrorCodeStorage
	case errors.Is(err, derive.ErrInvalidDocumentFormat),
		errors.Is(err, derive.ErrNoDocuments),
		errors.Is(err, derive.ErrNoStages),
		errors.Is(err, derive.ErrBaseNotRun),
		errors.Is(err, derive.ErrSubStepStage),
		errors.Is(err, derive.ErrNothingToRun),
		errors.Is(err, derive.ErrInvalidMode):
		return ErrorCodeValidation
	}
	return ErrorCodeInternal
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.TrimSpace(msg)
	const maxLen = 500
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return msg
}

func durationMs(startedAt, completedAt time.Time) float64 {
	return float64(completedAt.Sub(startedAt).Microseconds()) / 1000.0
}

func stageNames(stages []derive.Stage) string {
	names := make([]string, len(stages))
	for i, st := range stages {
		names[i] = string(st)
	}
	return strings.Join(names, ",")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
