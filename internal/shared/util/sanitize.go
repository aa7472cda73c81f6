package util

import (
	"strings"

	"github.com/rotisserie/eris"
)

// ErrInvalidFileName is returned for names that are empty or try to escape
// the storage namespace.
var ErrInvalidFileName = eris.New("invalid file name")

// SanitizeFileName flattens path separators so uploaded documents always land
// directly inside their study namespace.
func SanitizeFileName(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", ErrInvalidFileName
	}
	s := strings.TrimSpace(name)
	s = strings.NewReplacer("/", "_", "\\", "_").Replace(s)
	if s == "" {
		return "", ErrInvalidFileName
	}
	return s, nil
}
