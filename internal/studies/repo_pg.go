package studies

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"trial-estimator/internal/derive"
)

const uniqueViolation = "23505"

// PGRepo implements Repo using Postgres. A partial unique index on
// study_jobs(study_id) backs the one-active-job rule.
type PGRepo struct {
	DB *sql.DB
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const studyColumns = `id, stages, record, created_at, updated_at`

const jobColumns = `id, study_id, request_id, mode, documents, refresh, dmc, status,
       sub_steps, changed, error_code, error_message, created_at, started_at, completed_at`

func (r *PGRepo) CreateStudy(ctx context.Context, study Study) error {
	stages, err := json.Marshal(study.Stages)
	if err != nil {
		return err
	}
	record, err := marshalRecord(study.Record)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `
INSERT INTO studies (id, stages, record, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5)`,
		study.ID, stages, record, study.CreatedAt, study.CreatedAt)
	return err
}

func (r *PGRepo) GetStudy(ctx context.Context, studyID string) (Study, error) {
	return getStudy(ctx, r.DB, `SELECT `+studyColumns+` FROM studies WHERE id = $1`, studyID)
}

func (r *PGRepo) UpdateRecord(ctx context.Context, studyID string, edit func(rec *derive.Record) error) (Study, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return Study{}, err
	}
	defer tx.Rollback()

	study, err := getStudy(ctx, tx, `SELECT `+studyColumns+` FROM studies WHERE id = $1 FOR UPDATE`, studyID)
	if err != nil {
		return Study{}, err
	}
	busy, err := hasActiveJob(ctx, tx, studyID)
	if err != nil {
		return Study{}, err
	}
	if busy {
		return Study{}, ErrStudyBusy
	}
	if err := edit(study.Record); err != nil {
		return Study{}, err
	}
	record, err := marshalRecord(study.Record)
	if err != nil {
		return Study{}, err
	}
	if err := tx.QueryRowContext(ctx, `
UPDATE studies SET record = $2, updated_at = now()
WHERE id = $1
RETURNING updated_at`, studyID, record).Scan(&study.UpdatedAt); err != nil {
		return Study{}, err
	}
	if err := tx.Commit(); err != nil {
		return Study{}, err
	}
	return study, nil
}

func (r *PGRepo) CreateJob(ctx context.Context, job Job) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var id string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM studies WHERE id = $1 FOR UPDATE`, job.StudyID).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	busy, err := hasActiveJob(ctx, tx, job.StudyID)
	if err != nil {
		return err
	}
	if busy {
		return ErrStudyBusy
	}

	docs, err := json.Marshal(job.Documents)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO study_jobs (id, study_id, request_id, mode, documents, refresh, dmc, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.StudyID, job.RequestID, job.Mode.String(), docs, job.Refresh, job.DMC, job.Status, job.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrStudyBusy
		}
		return err
	}
	return tx.Commit()
}

func (r *PGRepo) StudyBusy(ctx context.Context, studyID string) (bool, error) {
	return hasActiveJob(ctx, r.DB, studyID)
}

func (r *PGRepo) QueuedJobs(ctx context.Context) ([]Job, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT id, study_id, request_id, created_at FROM study_jobs
WHERE status = 'queued' ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Job
	for rows.Next() {
		var j Job
		var requestID sql.NullString
		if err := rows.Scan(&j.ID, &j.StudyID, &requestID, &j.CreatedAt); err != nil {
			return nil, err
		}
		j.RequestID = requestID.String
		j.Status = StatusQueued
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *PGRepo) GetJob(ctx context.Context, jobID string) (Job, error) {
	return getJob(ctx, r.DB, `SELECT `+jobColumns+` FROM study_jobs WHERE id = $1`, jobID)
}

func (r *PGRepo) ClaimJob(ctx context.Context, jobID string) (Job, error) {
	job, err := getJob(ctx, r.DB, `
UPDATE study_jobs SET status = 'running', started_at = now()
WHERE id = $1 AND status = 'queued'
RETURNING `+jobColumns, jobID)
	if !errors.Is(err, ErrNotFound) {
		return job, err
	}
	existing, getErr := r.GetJob(ctx, jobID)
	if getErr != nil {
		return Job{}, getErr
	}
	return existing, ErrAlreadyClaimed
}

func (r *PGRepo) CompleteJob(ctx context.Context, jobID string, rec *derive.Record, res derive.Result) error {
	subSteps, err := json.Marshal(res.SubSteps)
	if err != nil {
		return err
	}
	changed, err := json.Marshal(res.Changed)
	if err != nil {
		return err
	}
	return r.finish(ctx, jobID, rec, `
UPDATE study_jobs SET status = 'finished', sub_steps = $2, changed = $3, completed_at = now()
WHERE id = $1
RETURNING study_id`, subSteps, changed)
}

func (r *PGRepo) FailJob(ctx context.Context, jobID string, rec *derive.Record, code, message string) error {
	return r.finish(ctx, jobID, rec, `
UPDATE study_jobs SET status = 'failed', error_code = $2, error_message = $3, completed_at = now()
WHERE id = $1
RETURNING study_id`, code, message)
}

func (r *PGRepo) finish(ctx context.Context, jobID string, rec *derive.Record, query string, args ...any) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var studyID string
	if err := tx.QueryRowContext(ctx, query, append([]any{jobID}, args...)...).Scan(&studyID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if rec != nil {
		record, err := marshalRecord(rec)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE studies SET record = $2, updated_at = now() WHERE id = $1`, studyID, record); err != nil {
			return fmt.Errorf("save record study=%s: %w", studyID, err)
		}
	}
	return tx.Commit()
}

func hasActiveJob(ctx context.Context, q queryer, studyID string) (bool, error) {
	var busy bool
	err := q.QueryRowContext(ctx, `
SELECT EXISTS (SELECT 1 FROM study_jobs WHERE study_id = $1 AND status IN ('queued', 'running'))`, studyID).Scan(&busy)
	return busy, err
}

func getStudy(ctx context.Context, q queryer, query string, args ...any) (Study, error) {
	var s Study
	var stages, record []byte
	err := q.QueryRowContext(ctx, query, args...).Scan(&s.ID, &stages, &record, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Study{}, ErrNotFound
		}
		return Study{}, err
	}
	if err := json.Unmarshal(stages, &s.Stages); err != nil {
		return Study{}, fmt.Errorf("decode stages study=%s: %w", s.ID, err)
	}
	s.Record = derive.NewRecord()
	if len(record) > 0 {
		if err := json.Unmarshal(record, s.Record); err != nil {
			return Study{}, fmt.Errorf("decode record study=%s: %w", s.ID, err)
		}
	}
	return s, nil
}

func getJob(ctx context.Context, q queryer, query string, args ...any) (Job, error) {
	var j Job
	var requestID, errorCode, errorMessage sql.NullString
	var mode string
	var docs, subSteps, changed []byte
	var startedAt, completedAt sql.NullTime
	err := q.QueryRowContext(ctx, query, args...).Scan(
		&j.ID,
		&j.StudyID,
		&requestID,
		&mode,
		&docs,
		&j.Refresh,
		&j.DMC,
		&j.Status,
		&subSteps,
		&changed,
		&errorCode,
		&errorMessage,
		&j.CreatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, err
	}
	if j.Mode, err = derive.ParseMode(mode); err != nil {
		return Job{}, err
	}
	j.RequestID = requestID.String
	j.ErrorCode = errorCode.String
	j.ErrorMessage = errorMessage.String
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		j.CompletedAt = &completedAt.Time
	}
	for _, f := range []struct {
		raw []byte
		dst any
	}{{docs, &j.Documents}, {subSteps, &j.SubSteps}, {changed, &j.Changed}} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return Job{}, fmt.Errorf("decode job=%s: %w", j.ID, err)
		}
	}
	return j, nil
}

func marshalRecord(rec *derive.Record) ([]byte, error) {
	if rec == nil {
		rec = derive.NewRecord()
	}
	return json.Marshal(rec)
}

var _ Repo = (*PGRepo)(nil)
