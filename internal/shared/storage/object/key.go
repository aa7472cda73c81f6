package object

import (
	"bytes"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"trial-estimator/internal/shared/util"
)

// sniffLen matches what http.DetectContentType inspects.
const sniffLen = 512

// NewKey returns a fresh storage key for an upload: a hashed directory per
// namespace holding a uniquely prefixed, sanitized file name.
func NewKey(namespace, fileName string) (string, error) {
	name, err := util.SanitizeFileName(fileName)
	if err != nil {
		return "", eris.Wrapf(err, "file name %q", fileName)
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return path.Join(util.HashNamespace(namespace), id+"_"+name), nil
}

// Sniff detects the content type of r from its leading bytes and returns a
// reader that replays them ahead of the rest of r.
func Sniff(r io.Reader) (string, io.Reader, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", nil, eris.Wrap(err, "read content head")
	}
	head = head[:n]
	return http.DetectContentType(head), io.MultiReader(bytes.NewReader(head), r), nil
}
