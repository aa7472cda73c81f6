package derive

import (
	"errors"
	"strings"
)

var (
	// ErrExtractionFailure marks a failed extraction call (network, auth, model).
	ErrExtractionFailure = errors.New("extraction failed")
	// ErrExtractionFormat marks extraction output no parser strategy could read.
	ErrExtractionFormat = errors.New("extraction output is not a field mapping")
	// ErrInvalidDocumentFormat rejects an upload outside the allowed formats.
	ErrInvalidDocumentFormat = errors.New("invalid document format")
	ErrBaseNotRun            = errors.New("base computation has not completed")
	ErrSubStepStage          = errors.New("sub-steps require the core-study stage")
	ErrInvalidMode           = errors.New("invalid run mode")
	ErrNoStages              = errors.New("no stages selected")
	ErrUnknownStage          = errors.New("unknown stage")
	ErrNoDocuments           = errors.New("documents are required")
	ErrNothingToRun          = errors.New("no sub-step requested")
	ErrFieldNotEditable      = errors.New("field is not editable")
)

// FieldNotEditableError lists the keys a manual edit request may not touch.
type FieldNotEditableError struct {
	Fields []string
}

func (e *FieldNotEditableError) Error() string {
	return ErrFieldNotEditable.Error() + ": " + strings.Join(e.Fields, ", ")
}

func (e *FieldNotEditableError) Unwrap() error { return ErrFieldNotEditable }
