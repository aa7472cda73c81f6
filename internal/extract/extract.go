// Package extract turns uploaded study documents into plain text for
// providers that cannot read the binary formats directly.
package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"

	"trial-estimator/internal/derive"
)

var (
	// ErrEmptyDocument is returned for zero-length payloads.
	ErrEmptyDocument = eris.New("empty document")
	// ErrNoDocumentXML is returned for zip archives that are not Word documents.
	ErrNoDocumentXML = eris.New("word/document.xml not found")
)

const docxBodyPart = "word/document.xml"

// Text extracts the readable text of a PDF or DOCX document. The format is
// taken from the content when it can be recognised, then from mimeType, then
// from the file name.
func Text(ctx context.Context, name, mimeType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", eris.Wrap(ErrEmptyDocument, name)
	}
	format, err := resolveFormat(name, mimeType, data)
	if err != nil {
		return "", err
	}
	switch format {
	case derive.FormatPDF:
		return pdfText(data)
	default:
		return docxText(data)
	}
}

func resolveFormat(name, mimeType string, data []byte) (derive.Format, error) {
	if f, ok := sniff(data); ok {
		return f, nil
	}
	if f, err := derive.ParseFormat(mimeType); err == nil {
		return f, nil
	}
	return derive.FormatFromName(name)
}

// sniff recognises the PDF magic and Word archives; other zips are left to
// the declared type.
func sniff(data []byte) (derive.Format, bool) {
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return derive.FormatPDF, true
	}
	if !bytes.HasPrefix(data, []byte("PK")) {
		return "", false
	}
	if _, err := findPart(data, docxBodyPart); err == nil {
		return derive.FormatDOCX, true
	}
	return "", false
}

func pdfText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", eris.Wrap(err, "open pdf")
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", eris.Wrap(err, "read pdf text")
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", eris.Wrap(err, "copy pdf text")
	}
	return strings.TrimSpace(buf.String()), nil
}

func docxText(data []byte) (string, error) {
	part, err := findPart(data, docxBodyPart)
	if err != nil {
		return "", err
	}
	rc, err := part.Open()
	if err != nil {
		return "", eris.Wrap(err, "open document part")
	}
	defer rc.Close()
	return paragraphs(rc)
}

func findPart(data []byte, name string) (*zip.File, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, eris.Wrap(err, "open docx archive")
	}
	for _, f := range zr.File {
		if strings.ReplaceAll(f.Name, "\\", "/") == name {
			return f, nil
		}
	}
	return nil, ErrNoDocumentXML
}

// paragraphs keeps run text and breaks lines at paragraph, line-break and
// table-cell boundaries so tabular protocol synopses stay readable.
func paragraphs(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var lines []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			lines = append(lines, s)
		}
		cur.Reset()
	}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", eris.Wrap(err, "parse document xml")
		}
		switch t := tok.(type) {
		case xml.CharData:
			cur.Write(t)
		case xml.StartElement:
			if t.Name.Local == "tab" {
				cur.WriteByte('\t')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p", "br", "tc":
				flush()
			}
		}
	}
	flush()
	return strings.Join(lines, "\n"), nil
}
