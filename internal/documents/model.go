package documents

import "trial-estimator/internal/derive"

// Purpose says which part of a job a document feeds.
type Purpose string

const (
	PurposeStudy   Purpose = "study"
	PurposeRefresh Purpose = "refresh"
	PurposeDMC     Purpose = "dmc"
)

// Ref points at an uploaded document in the object store. Jobs carry refs;
// the bytes are loaded only by the worker that runs the job.
type Ref struct {
	Name       string        `json:"name"`
	Format     derive.Format `json:"format"`
	Purpose    Purpose       `json:"purpose"`
	StorageKey string        `json:"storageKey"`
	SizeBytes  int64         `json:"sizeBytes"`
}

// Filter returns the refs with the given purpose, preserving order.
func Filter(refs []Ref, p Purpose) []Ref {
	var out []Ref
	for _, r := range refs {
		if r.Purpose == p {
			out = append(out, r)
		}
	}
	return out
}
