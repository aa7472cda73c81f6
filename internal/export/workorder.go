package export

import (
	"bytes"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/nguyenthenguyen/docx"
	"github.com/rotisserie/eris"
)

// Placeholder returns the template marker for key.
func Placeholder(key string) string {
	return "{{" + key + "}}"
}

// FillWorkOrder replaces {{key}} markers in the body of a DOCX template and
// writes the document to w. Markers without a value are left in place.
func FillWorkOrder(values map[string]any, template []byte, w io.Writer) ([]string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(template), int64(len(template)))
	if err != nil {
		return nil, eris.Wrap(err, "docx: read template")
	}
	defer r.Close()

	doc := r.Editable()
	content := doc.GetContent()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var replaced []string
	for _, k := range keys {
		if !strings.Contains(content, Placeholder(k)) {
			continue
		}
		if err := doc.Replace(Placeholder(k), FormatValue(values[k]), -1); err != nil {
			return nil, eris.Wrapf(err, "docx: replace %s", k)
		}
		replaced = append(replaced, k)
	}
	if err := doc.Write(w); err != nil {
		return nil, eris.Wrap(err, "docx: write")
	}
	return replaced, nil
}

// PopulateWorkOrder is FillWorkOrder between two files.
func PopulateWorkOrder(values map[string]any, templatePath, outputPath string) ([]string, error) {
	tmpl, err := os.ReadFile(templatePath)
	if err != nil {
		return nil, eris.Wrapf(err, "docx: open template %s", templatePath)
	}
	var buf bytes.Buffer
	replaced, err := FillWorkOrder(values, tmpl, &buf)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(outputPath, buf.Bytes(), 0o644); err != nil {
		return nil, eris.Wrap(err, "docx: save work order")
	}
	return replaced, nil
}
