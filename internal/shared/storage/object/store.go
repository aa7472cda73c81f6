package object

import (
	"context"
	"io"
)

// ObjectStore saves and retrieves binary objects. Uploaded documents are
// saved under a namespace (the owning study); generated artifacts are written
// to explicit keys.
type ObjectStore interface {
	Save(ctx context.Context, namespace string, fileName string, r io.Reader) (storageKey string, sizeBytes int64, mimeType string, err error)
	Open(ctx context.Context, storageKey string) (io.ReadCloser, error)
	SaveWithKey(ctx context.Context, storageKey string, contentType string, r io.Reader) (int64, error)
}
