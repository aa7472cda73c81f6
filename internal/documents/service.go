package documents

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"trial-estimator/internal/derive"
	"trial-estimator/internal/shared/storage/object"
)

// DefaultMaxBytes caps a single upload.
const DefaultMaxBytes = 25 << 20

// Service validates uploads and moves document bytes through the object store.
type Service struct {
	Store    object.ObjectStore
	MaxBytes int64
}

// NewService constructs a Service.
func NewService(store object.ObjectStore) *Service {
	return &Service{Store: store, MaxBytes: DefaultMaxBytes}
}

// Save validates the upload and stores it under the study's namespace.
// Anything that is not a PDF or DOCX is rejected with
// derive.ErrInvalidDocumentFormat before it is written.
func (s *Service) Save(ctx context.Context, studyID string, purpose Purpose, fileName, contentType string, r io.Reader) (Ref, error) {
	name := strings.TrimSpace(fileName)
	if studyID == "" || name == "" {
		return Ref{}, ErrInvalidInput
	}
	format, err := declaredFormat(name, contentType)
	if err != nil {
		return Ref{}, err
	}

	limit := s.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return Ref{}, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return Ref{}, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, name, limit)
	}
	if err := checkContent(name, format, data); err != nil {
		return Ref{}, err
	}

	key, size, _, err := s.Store.Save(ctx, studyID, name, bytes.NewReader(data))
	if err != nil {
		return Ref{}, fmt.Errorf("store %s: %w", name, err)
	}
	return Ref{Name: name, Format: format, Purpose: purpose, StorageKey: key, SizeBytes: size}, nil
}

// Load reads the referenced documents back into memory.
func (s *Service) Load(ctx context.Context, refs []Ref) ([]derive.Document, error) {
	out := make([]derive.Document, 0, len(refs))
	for _, ref := range refs {
		rc, err := s.Store.Open(ctx, ref.StorageKey)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", ref.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", ref.Name, err)
		}
		out = append(out, derive.Document{Name: ref.Name, Format: ref.Format, Bytes: data})
	}
	return out, nil
}

func declaredFormat(name, contentType string) (derive.Format, error) {
	ct := strings.TrimSpace(contentType)
	if ct != "" && !isGenericContentType(ct) {
		if f, err := derive.ParseFormat(ct); err == nil {
			return f, nil
		}
	}
	f, err := derive.FormatFromName(name)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return f, nil
}

func isGenericContentType(ct string) bool {
	base := strings.ToLower(strings.TrimSpace(strings.Split(ct, ";")[0]))
	return base == "application/octet-stream" || base == "application/zip" || base == "binary/octet-stream"
}

// checkContent compares the sniffed bytes with the declared format.
func checkContent(name string, f derive.Format, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: %s is empty", derive.ErrInvalidDocumentFormat, name)
	}
	sniffed := http.DetectContentType(data)
	var ok bool
	switch f {
	case derive.FormatPDF:
		ok = sniffed == "application/pdf"
	case derive.FormatDOCX:
		ok = sniffed == "application/zip"
	}
	if !ok {
		return fmt.Errorf("%w: %s looks like %s, not %s", derive.ErrInvalidDocumentFormat, name, sniffed, f)
	}
	return nil
}
