package studies

import (
	"context"
	"sort"
	"sync"
	"time"

	"trial-estimator/internal/derive"
)

// MemoryRepo stores studies and jobs in memory and is safe for concurrent use.
// Records are cloned on the way in and out so callers never share state.
type MemoryRepo struct {
	mu      sync.RWMutex
	studies map[string]Study
	jobs    map[string]Job
	active  map[string]string // studyID -> jobID
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		studies: make(map[string]Study),
		jobs:    make(map[string]Job),
		active:  make(map[string]string),
	}
}

func (r *MemoryRepo) CreateStudy(ctx context.Context, study Study) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.studies[study.ID] = cloneStudy(study)
	return nil
}

func (r *MemoryRepo) GetStudy(ctx context.Context, studyID string) (Study, error) {
	if err := ctx.Err(); err != nil {
		return Study{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	study, ok := r.studies[studyID]
	if !ok {
		return Study{}, ErrNotFound
	}
	return cloneStudy(study), nil
}

func (r *MemoryRepo) UpdateRecord(ctx context.Context, studyID string, edit func(rec *derive.Record) error) (Study, error) {
	if err := ctx.Err(); err != nil {
		return Study{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	study, ok := r.studies[studyID]
	if !ok {
		return Study{}, ErrNotFound
	}
	if _, busy := r.active[studyID]; busy {
		return Study{}, ErrStudyBusy
	}
	rec := study.Record.Clone()
	if err := edit(rec); err != nil {
		return Study{}, err
	}
	study.Record = rec
	study.UpdatedAt = time.Now().UTC()
	r.studies[studyID] = study
	return cloneStudy(study), nil
}

func (r *MemoryRepo) StudyBusy(ctx context.Context, studyID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.studies[studyID]; !ok {
		return false, ErrNotFound
	}
	_, busy := r.active[studyID]
	return busy, nil
}

func (r *MemoryRepo) CreateJob(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.studies[job.StudyID]; !ok {
		return ErrNotFound
	}
	if _, busy := r.active[job.StudyID]; busy {
		return ErrStudyBusy
	}
	r.jobs[job.ID] = job
	if job.Active() {
		r.active[job.StudyID] = job.ID
	}
	return nil
}

func (r *MemoryRepo) GetJob(ctx context.Context, jobID string) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return Job{}, ErrNotFound
	}
	return job, nil
}

func (r *MemoryRepo) QueuedJobs(ctx context.Context) ([]Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Job
	for _, job := range r.jobs {
		if job.Status == StatusQueued {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepo) ClaimJob(ctx context.Context, jobID string) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return Job{}, ErrNotFound
	}
	if job.Status != StatusQueued {
		return job, ErrAlreadyClaimed
	}
	now := time.Now().UTC()
	job.Status = StatusRunning
	job.StartedAt = &now
	r.jobs[jobID] = job
	return job, nil
}

func (r *MemoryRepo) CompleteJob(ctx context.Context, jobID string, rec *derive.Record, res derive.Result) error {
	return r.finish(ctx, jobID, rec, func(job *Job) {
		job.Status = StatusFinished
		job.SubSteps = res.SubSteps
		job.Changed = res.Changed
	})
}

func (r *MemoryRepo) FailJob(ctx context.Context, jobID string, rec *derive.Record, code, message string) error {
	return r.finish(ctx, jobID, rec, func(job *Job) {
		job.Status = StatusFailed
		job.ErrorCode = code
		job.ErrorMessage = message
	})
}

func (r *MemoryRepo) finish(ctx context.Context, jobID string, rec *derive.Record, update func(*Job)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	update(&job)
	job.CompletedAt = &now
	r.jobs[jobID] = job
	if r.active[job.StudyID] == jobID {
		delete(r.active, job.StudyID)
	}
	if rec != nil {
		if study, ok := r.studies[job.StudyID]; ok {
			study.Record = rec.Clone()
			study.UpdatedAt = now
			r.studies[job.StudyID] = study
		}
	}
	return nil
}

func cloneStudy(s Study) Study {
	s.Stages = append([]derive.Stage(nil), s.Stages...)
	if s.Record == nil {
		s.Record = derive.NewRecord()
	} else {
		s.Record = s.Record.Clone()
	}
	return s
}
