package studies

import (
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"trial-estimator/internal/derive"
	"trial-estimator/internal/documents"
	"trial-estimator/internal/export"
	"trial-estimator/internal/shared/server/middleware"
	"trial-estimator/internal/shared/server/respond"
)

// maxMultipartMemory bounds the in-memory part of a job upload; the rest
// spills to temporary files.
const maxMultipartMemory = 32 << 20

var uploadFields = []struct {
	field   string
	purpose documents.Purpose
}{
	{"docs", documents.PurposeStudy},
	{"refresh_docs", documents.PurposeRefresh},
	{"dmc_docs", documents.PurposeDMC},
}

// Exporter renders a study record into downloadable files.
type Exporter interface {
	Workbook(ctx context.Context, studyID string, rec *derive.Record, stages []derive.Stage) (export.Artifact, error)
	WorkOrder(ctx context.Context, studyID string, rec *derive.Record) (export.Artifact, error)
}

// Handler wires HTTP handlers to the studies service.
type Handler struct {
	Svc    *Service
	Export Exporter
	polls  *pollLimiter
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service, exporter Exporter) *Handler {
	return &Handler{Svc: svc, Export: exporter, polls: newPollLimiter(pollLimitWindow, nil)}
}

// RegisterRoutes attaches study routes to the router group. submit wraps
// only the job submission route, typically with a rate limiter.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, submit ...gin.HandlerFunc) {
	rg.POST("/studies", h.createStudy)
	rg.GET("/studies/:id", h.getStudy)
	rg.POST("/studies/:id/jobs", append(submit, h.submitJob)...)
	rg.PATCH("/studies/:id/fields", h.editFields)
	rg.GET("/studies/:id/export", h.exportWorkbook)
	rg.GET("/studies/:id/work-order", h.exportWorkOrder)
	rg.GET("/jobs/:id", h.getJob)
}

type createStudyRequest struct {
	Steps []string `json:"steps"`
}

func (h *Handler) createStudy(c *gin.Context) {
	var req createStudyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid JSON body", nil)
		return
	}
	study, err := h.Svc.CreateStudy(h.ctx(c), req.Steps)
	if err != nil {
		h.writeError(c, err, "failed to create study")
		return
	}
	c.Set("studyId", study.ID)
	respond.Created(c, studyResponse(study))
}

func (h *Handler) getStudy(c *gin.Context) {
	study, err := h.Svc.GetStudy(h.ctx(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "failed to fetch study")
		return
	}
	c.Set("studyId", study.ID)
	respond.OK(c, studyResponse(study))
}

func (h *Handler) submitJob(c *gin.Context) {
	studyID := c.Param("id")
	c.Set("studyId", studyID)
	if err := c.Request.ParseMultipartForm(maxMultipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid multipart body", nil)
		return
	}

	in := SubmitInput{
		Refresh: formFlag(c, "calculate_refresh"),
		DMC:     formFlag(c, "calculate_dmc"),
	}
	var opened []multipart.File
	defer func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}()
	if form := c.Request.MultipartForm; form != nil {
		for _, part := range uploadFields {
			purpose := part.purpose
			for _, fh := range form.File[part.field] {
				f, err := fh.Open()
				if err != nil {
					respond.Error(c, http.StatusBadRequest, "validation_error", "unreadable upload", nil)
					return
				}
				opened = append(opened, f)
				in.Uploads = append(in.Uploads, Upload{
					Purpose:     purpose,
					FileName:    fh.Filename,
					ContentType: fh.Header.Get("Content-Type"),
					Body:        f,
				})
			}
		}
	}

	job, err := h.Svc.Submit(h.ctx(c), studyID, in)
	if err != nil {
		h.writeError(c, err, "failed to submit job")
		return
	}
	c.Set("jobId", job.ID)
	c.Set("statusTransition", "->queued")
	respond.Accepted(c, gin.H{
		"jobId":  job.ID,
		"status": job.Status,
		"mode":   job.Mode.String(),
	})
}

func (h *Handler) getJob(c *gin.Context) {
	jobID := c.Param("id")
	c.Set("jobId", jobID)
	if !h.polls.Allow(c.ClientIP(), jobID) {
		respond.RateLimited(c, h.polls.RetryAfter(), "polling too frequently")
		return
	}
	job, err := h.Svc.GetJob(h.ctx(c), jobID)
	if err != nil {
		h.writeError(c, err, "failed to fetch job")
		return
	}

	resp := gin.H{
		"id":        job.ID,
		"studyId":   job.StudyID,
		"status":    job.Status,
		"mode":      job.Mode.String(),
		"createdAt": job.CreatedAt,
	}
	if job.StartedAt != nil {
		resp["startedAt"] = job.StartedAt
	}
	if job.CompletedAt != nil {
		resp["completedAt"] = job.CompletedAt
	}
	switch job.Status {
	case StatusFinished:
		study, err := h.Svc.GetStudy(h.ctx(c), job.StudyID)
		if err != nil {
			h.writeError(c, err, "failed to fetch job")
			return
		}
		resp["record"] = study.Record.Sanitized()
		resp["subSteps"] = nonNil(job.SubSteps)
		resp["changed"] = nonNil(job.Changed)
	case StatusFailed:
		resp["error"] = gin.H{"code": job.ErrorCode, "message": job.ErrorMessage}
	default:
		c.Header("Retry-After", strconv.Itoa(int(h.polls.RetryAfter().Seconds())))
	}
	respond.OK(c, resp)
}

func (h *Handler) editFields(c *gin.Context) {
	studyID := c.Param("id")
	c.Set("studyId", studyID)
	var edits map[string]any
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(&edits); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "body must be a JSON object of field values", nil)
		return
	}
	if invalid := resolveEditValues(edits); len(invalid) > 0 {
		details := make([]map[string]string, 0, len(invalid))
		for _, f := range invalid {
			details = append(details, map[string]string{"field": f, "issue": "invalid_value"})
		}
		respond.Error(c, http.StatusBadRequest, "validation_error", "field values must be numbers, strings, booleans or null", details)
		return
	}
	study, err := h.Svc.EditFields(h.ctx(c), studyID, edits)
	if err != nil {
		h.writeError(c, err, "failed to save changes")
		return
	}
	respond.OK(c, studyResponse(study))
}

// resolveEditValues turns JSON numbers into int64 or float64 in place and
// returns the sorted keys whose values are not scalars.
func resolveEditValues(edits map[string]any) []string {
	var invalid []string
	for k, v := range edits {
		switch x := v.(type) {
		case nil, bool, string:
		case json.Number:
			if n, err := x.Int64(); err == nil {
				edits[k] = n
			} else if f, err := x.Float64(); err == nil {
				edits[k] = f
			} else {
				invalid = append(invalid, k)
			}
		default:
			invalid = append(invalid, k)
		}
	}
	sort.Strings(invalid)
	return invalid
}

func (h *Handler) exportWorkbook(c *gin.Context) {
	h.sendExport(c, func(ctx context.Context, s Study) (export.Artifact, error) {
		return h.Export.Workbook(ctx, s.ID, s.Record, s.Stages)
	})
}

func (h *Handler) exportWorkOrder(c *gin.Context) {
	h.sendExport(c, func(ctx context.Context, s Study) (export.Artifact, error) {
		return h.Export.WorkOrder(ctx, s.ID, s.Record)
	})
}

func (h *Handler) sendExport(c *gin.Context, render func(context.Context, Study) (export.Artifact, error)) {
	if h.Export == nil {
		respond.Error(c, http.StatusServiceUnavailable, "export_unavailable", "export is not configured", nil)
		return
	}
	study, err := h.Svc.GetStudy(h.ctx(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "failed to export study")
		return
	}
	c.Set("studyId", study.ID)
	art, err := render(h.ctx(c), study)
	if err != nil {
		if errors.Is(err, export.ErrTemplateNotConfigured) {
			respond.Error(c, http.StatusServiceUnavailable, "export_unavailable", "export template is not configured", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to export study", nil)
		return
	}
	respond.Attachment(c, art.FileName, art.ContentType, art.Data)
}

func (h *Handler) ctx(c *gin.Context) context.Context {
	return WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
}

func (h *Handler) writeError(c *gin.Context, err error, fallback string) {
	var notEditable *derive.FieldNotEditableError
	switch {
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "not found", nil)
	case errors.Is(err, ErrStudyBusy):
		respond.Error(c, http.StatusConflict, "study_busy", "a job for this study is still in progress", nil)
	case errors.As(err, &notEditable):
		details := make([]map[string]string, 0, len(notEditable.Fields))
		for _, f := range notEditable.Fields {
			details = append(details, map[string]string{"field": f, "issue": "not_editable"})
		}
		respond.Error(c, http.StatusBadRequest, "validation_error", "fields are not editable", details)
	case errors.Is(err, derive.ErrInvalidDocumentFormat):
		respond.Error(c, http.StatusBadRequest, "invalid_document_format", "only PDF and DOCX documents are accepted", nil)
	case errors.Is(err, documents.ErrTooLarge):
		respond.Error(c, http.StatusRequestEntityTooLarge, "file_too_large", "document exceeds the upload limit", nil)
	case errors.Is(err, ErrInvalidInput), errors.Is(err, documents.ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request", nil)
	case errors.Is(err, derive.ErrUnknownStage),
		errors.Is(err, derive.ErrNoStages),
		errors.Is(err, derive.ErrNoDocuments),
		errors.Is(err, derive.ErrBaseNotRun),
		errors.Is(err, derive.ErrSubStepStage),
		errors.Is(err, derive.ErrNothingToRun),
		errors.Is(err, derive.ErrInvalidMode):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, ErrJobQueueNotConfigured):
		respond.Error(c, http.StatusServiceUnavailable, "queue_unavailable", "job queue is not configured", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}

func studyResponse(s Study) gin.H {
	keys := s.Record.Keys()
	fields := make([]gin.H, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, gin.H{
			"name":        k,
			"value":       s.Record.Get(k).Sanitized(),
			"layer":       s.Record.LayerOf(k).String(),
			"description": derive.Describe(k),
			"editable":    derive.IsEditable(k),
		})
	}
	stages := make([]string, len(s.Stages))
	for i, st := range s.Stages {
		stages[i] = string(st)
	}
	return gin.H{
		"id":        s.ID,
		"stages":    stages,
		"baseDone":  s.Record.BaseDone(),
		"fields":    fields,
		"createdAt": s.CreatedAt.Format(time.RFC3339),
		"updatedAt": s.UpdatedAt.Format(time.RFC3339),
	}
}

func formFlag(c *gin.Context, name string) bool {
	switch strings.ToLower(strings.TrimSpace(c.Request.FormValue(name))) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
