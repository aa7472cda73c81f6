package export

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"trial-estimator/internal/derive"
	"trial-estimator/internal/shared/metrics"
	"trial-estimator/internal/shared/storage/object"
	"trial-estimator/internal/shared/telemetry"
)

const (
	WorkbookFileName    = "budget_proposal.xlsx"
	WorkOrderFileName   = "work_order.docx"
	WorkbookContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	DocxContentType     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

var (
	ErrTemplateNotConfigured = errors.New("export template not configured")
	ErrInvalidInput          = errors.New("invalid input")
)

// Artifact is a generated export ready to be sent to a client.
type Artifact struct {
	FileName    string
	ContentType string
	Data        []byte
	// StorageKey is set when the artifact was archived.
	StorageKey string
	Fields     []string
}

// Service renders study records into the workbook and work-order templates.
// When Store is set every artifact is archived under exports/<studyID>/.
type Service struct {
	TemplatePath          string
	WorkOrderTemplatePath string
	Store                 object.ObjectStore
	now                   func() time.Time
}

// Workbook fills the estimate workbook and keeps the sheets of the given stages.
func (s *Service) Workbook(ctx context.Context, studyID string, rec *derive.Record, stages []derive.Stage) (Artifact, error) {
	if studyID == "" || rec == nil {
		return Artifact{}, ErrInvalidInput
	}
	if s.TemplatePath == "" {
		return Artifact{}, ErrTemplateNotConfigured
	}
	dir, err := os.MkdirTemp("", "estimate-*")
	if err != nil {
		return Artifact{}, err
	}
	defer os.RemoveAll(dir)

	out := filepath.Join(dir, WorkbookFileName)
	written, err := PopulateWorkbook(rec.Sanitized(), s.TemplatePath, out, derive.Sheets(stages))
	if err != nil {
		return Artifact{}, err
	}
	data, err := os.ReadFile(out)
	if err != nil {
		return Artifact{}, err
	}
	art := Artifact{
		FileName:    WorkbookFileName,
		ContentType: WorkbookContentType,
		Data:        data,
		Fields:      written,
	}
	s.archive(ctx, studyID, &art)
	return art, nil
}

// WorkOrder fills the work-order document template.
func (s *Service) WorkOrder(ctx context.Context, studyID string, rec *derive.Record) (Artifact, error) {
	if studyID == "" || rec == nil {
		return Artifact{}, ErrInvalidInput
	}
	if s.WorkOrderTemplatePath == "" {
		return Artifact{}, ErrTemplateNotConfigured
	}
	tmpl, err := os.ReadFile(s.WorkOrderTemplatePath)
	if err != nil {
		return Artifact{}, err
	}
	var buf bytes.Buffer
	replaced, err := FillWorkOrder(rec.Sanitized(), tmpl, &buf)
	if err != nil {
		return Artifact{}, err
	}
	art := Artifact{
		FileName:    WorkOrderFileName,
		ContentType: DocxContentType,
		Data:        buf.Bytes(),
		Fields:      replaced,
	}
	s.archive(ctx, studyID, &art)
	return art, nil
}

// archive copies the artifact to the object store. A failed copy is logged
// and the artifact is still returned.
func (s *Service) archive(ctx context.Context, studyID string, art *Artifact) {
	metrics.IncExports()
	if s.Store == nil {
		return
	}
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	key := "exports/" + studyID + "/" + now().UTC().Format("20060102T150405Z") + "-" + art.FileName
	if _, err := s.Store.SaveWithKey(ctx, key, art.ContentType, bytes.NewReader(art.Data)); err != nil {
		telemetry.Warn("export.archive_failed", map[string]any{
			"study_id": studyID,
			"key":      key,
			"error":    err.Error(),
		})
		return
	}
	art.StorageKey = key
	telemetry.Info("export.archived", map[string]any{
		"study_id": studyID,
		"key":      key,
		"bytes":    len(art.Data),
		"fields":   len(art.Fields),
	})
}
