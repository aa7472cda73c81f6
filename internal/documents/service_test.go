package documents

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"trial-estimator/internal/derive"
	"trial-estimator/internal/shared/storage/object/local"
)

func docxFixture(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if _, err := w.Write([]byte("<w:document/>")); err != nil {
		t.Fatalf("write entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestSaveAndLoad(t *testing.T) {
	svc := NewService(local.New(t.TempDir()))
	ctx := context.Background()

	pdf, err := svc.Save(ctx, "study-1", PurposeStudy, "protocol.pdf", "application/pdf", strings.NewReader("%PDF-1.7\n"))
	if err != nil {
		t.Fatalf("save pdf: %v", err)
	}
	docx, err := svc.Save(ctx, "study-1", PurposeDMC, "charter.docx", "application/octet-stream", bytes.NewReader(docxFixture(t)))
	if err != nil {
		t.Fatalf("save docx: %v", err)
	}
	if pdf.Format != derive.FormatPDF || docx.Format != derive.FormatDOCX {
		t.Fatalf("unexpected formats %q %q", pdf.Format, docx.Format)
	}

	refs := []Ref{pdf, docx}
	if got := Filter(refs, PurposeDMC); len(got) != 1 || got[0].Name != "charter.docx" {
		t.Fatalf("unexpected filter result %+v", got)
	}

	docs, err := svc.Load(ctx, refs)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(docs) != 2 || string(docs[0].Bytes) != "%PDF-1.7\n" || docs[1].Name != "charter.docx" {
		t.Fatalf("unexpected documents %+v", docs)
	}
	if err := derive.ValidateDocuments(docs); err != nil {
		t.Fatalf("loaded documents should validate: %v", err)
	}
}

func TestSaveRejectsInvalidFormats(t *testing.T) {
	svc := NewService(local.New(t.TempDir()))
	ctx := context.Background()

	tests := []struct {
		name        string
		fileName    string
		contentType string
		body        string
	}{
		{name: "text file", fileName: "notes.txt", contentType: "text/plain", body: "hello"},
		{name: "renamed text", fileName: "protocol.pdf", contentType: "application/pdf", body: "not a pdf"},
		{name: "empty", fileName: "protocol.pdf", contentType: "", body: ""},
		{name: "pdf named docx", fileName: "protocol.docx", contentType: "", body: "%PDF-1.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Save(ctx, "study-1", PurposeStudy, tt.fileName, tt.contentType, strings.NewReader(tt.body))
			if !errors.Is(err, derive.ErrInvalidDocumentFormat) {
				t.Fatalf("expected invalid document format, got %v", err)
			}
		})
	}
}

func TestSaveEnforcesLimits(t *testing.T) {
	svc := &Service{Store: local.New(t.TempDir()), MaxBytes: 8}
	ctx := context.Background()

	if _, err := svc.Save(ctx, "study-1", PurposeStudy, "protocol.pdf", "", strings.NewReader("%PDF-1.7 and more")); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected too large, got %v", err)
	}
	if _, err := svc.Save(ctx, "", PurposeStudy, "protocol.pdf", "", strings.NewReader("%PDF")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
