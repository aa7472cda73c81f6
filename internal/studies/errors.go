package studies

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrStudyBusy             = errors.New("study has a job in progress")
	ErrAlreadyClaimed        = errors.New("job already claimed")
	ErrInvalidInput          = errors.New("invalid input")
	ErrJobQueueNotConfigured = errors.New("job queue not configured")

	errStorage = errors.New("storage")
)

const (
	ErrorCodeValidation        = "VALIDATION_ERROR"
	ErrorCodeExtractionTimeout = "EXTRACTION_TIMEOUT"
	ErrorCodeExtractionFailed  = "EXTRACTION_FAILED"
	ErrorCodeExtractionFormat  = "EXTRACTION_FORMAT"
	ErrorCodeStorage           = "STORAGE_ERROR"
	ErrorCodeInternal          = "INTERNAL_ERROR"
)
