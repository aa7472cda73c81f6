package derive

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format is an allowed document format.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat accepts a bare format, an extension or a MIME type.
func ParseFormat(s string) (Format, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if i := strings.Index(v, ";"); i >= 0 {
		v = strings.TrimSpace(v[:i])
	}
	v = strings.TrimPrefix(v, ".")
	switch v {
	case "pdf", "application/pdf":
		return FormatPDF, nil
	case "docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return FormatDOCX, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDocumentFormat, s)
}

// FormatFromName derives the format from a file name extension.
func FormatFromName(name string) (Format, error) {
	return ParseFormat(filepath.Ext(name))
}

// MimeType returns the canonical content type for the format.
func (f Format) MimeType() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatDOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	}
	return "application/octet-stream"
}

// Document is an uploaded file handed to the extraction adapter.
type Document struct {
	Name   string
	Format Format
	Bytes  []byte
}

// Validate rejects unsupported formats and empty bodies.
func (d Document) Validate() error {
	if _, err := ParseFormat(string(d.Format)); err != nil {
		return fmt.Errorf("%s: %w", d.Name, err)
	}
	if len(d.Bytes) == 0 {
		return fmt.Errorf("%w: %s is empty", ErrInvalidDocumentFormat, d.Name)
	}
	return nil
}

// ValidateDocuments checks every document before any work starts.
func ValidateDocuments(docs ...[]Document) error {
	for _, set := range docs {
		for _, d := range set {
			if err := d.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}
