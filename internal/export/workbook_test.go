package export

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

// buildTemplate writes a workbook with the given sheets and injects defined
// names into xl/workbook.xml.
func buildTemplate(t *testing.T, sheets []string, names map[string]string) string {
	t.Helper()
	var defs strings.Builder
	for name, ref := range names {
		defs.WriteString(`<definedName name="` + name + `">` + ref + `</definedName>`)
	}
	return writeTemplate(t, sheets, nil, defs.String())
}

// writeTemplate builds a workbook where sheets listed in blank have no rows
// at all, and splices definedNames (raw XML elements) into the workbook part.
func writeTemplate(t *testing.T, sheets []string, blank map[string]bool, definedNames string) string {
	t.Helper()
	f := xlsx.NewFile()
	for _, name := range sheets {
		sh, err := f.AddSheet(name)
		require.NoError(t, err)
		if !blank[name] {
			sh.Cell(0, 0).SetString(name)
		}
	}
	var raw bytes.Buffer
	require.NoError(t, f.Write(&raw))

	var defs strings.Builder
	defs.WriteString("<definedNames>")
	defs.WriteString(definedNames)
	defs.WriteString("</definedNames>")

	zr, err := zip.NewReader(bytes.NewReader(raw.Bytes()), int64(raw.Len()))
	require.NoError(t, err)
	var out bytes.Buffer
	zw := zip.NewWriter(&out)
	for _, zf := range zr.File {
		rc, err := zf.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		if zf.Name == "xl/workbook.xml" {
			s := string(data)
			i := strings.LastIndex(s, "</")
			require.Positive(t, i)
			data = []byte(s[:i] + defs.String() + s[i:])
		}
		w, err := zw.Create(zf.Name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "template.xlsx")
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o644))
	return path
}

func TestParseDestination(t *testing.T) {
	cases := map[string]Destination{
		"'Study Information'!$B$3":  {Sheet: "Study Information", Cell: "B3"},
		"Sheet1!$C$10:$C$12":        {Sheet: "Sheet1", Cell: "C10"},
		"='Sponsor''s View'!D4":     {Sheet: "Sponsor's View", Cell: "D4"},
		"Project Management!$A$1 ": {Sheet: "Project Management", Cell: "A1"},
	}
	for ref, want := range cases {
		got, ok := ParseDestination(ref)
		require.True(t, ok, ref)
		assert.Equal(t, want, got, ref)
	}

	for _, ref := range []string{"", "B3", "Sheet1!", "Sheet1!#REF!", "!A1"} {
		_, ok := ParseDestination(ref)
		assert.False(t, ok, ref)
	}
}

func TestPopulateWorkbookWritesNamedCells(t *testing.T) {
	tmpl := buildTemplate(t,
		[]string{"Study Information", "Biostatistics and Programming"},
		map[string]string{
			"num_subj":     "'Study Information'!$B$2",
			"sponsor":      "'Study Information'!$B$3",
			"sdtm_fr":      "'Biostatistics and Programming'!$C$5",
			"missing_cell": "'Nowhere'!$A$1",
		})
	out := filepath.Join(t.TempDir(), "out.xlsx")

	written, err := PopulateWorkbook(map[string]any{
		"num_subj":  int64(120),
		"sponsor":   "Acme",
		"sdtm_fr":   "",
		"unmatched": 4,
	}, tmpl, out, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"num_subj", "sdtm_fr", "sponsor"}, written)

	f, err := xlsx.OpenFile(out)
	require.NoError(t, err)
	info := f.Sheet["Study Information"]
	require.NotNil(t, info)
	assert.Equal(t, "120", info.Cell(1, 1).Value)
	assert.Equal(t, "Acme", info.Cell(2, 1).Value)
	assert.Equal(t, "", f.Sheet["Biostatistics and Programming"].Cell(4, 2).Value)
}

func TestPopulateWorkbookPrunesSheets(t *testing.T) {
	tmpl := buildTemplate(t,
		[]string{"Study Information", "Biostatistics and Programming", "Clinical Data Management", "CONFORM Informatics"},
		map[string]string{
			"num_subj": "'Study Information'!$B$2",
			"dm_pages": "'Clinical Data Management'!$B$2",
		})
	out := filepath.Join(t.TempDir(), "out.xlsx")

	_, err := PopulateWorkbook(map[string]any{"num_subj": int64(10), "dm_pages": int64(3)}, tmpl, out,
		[]string{"Study Information", "CONFORM Informatics"})
	require.NoError(t, err)

	f, err := xlsx.OpenFile(out)
	require.NoError(t, err)
	var names []string
	for _, sh := range f.Sheets {
		names = append(names, sh.Name)
	}
	assert.Equal(t, []string{"Study Information", "CONFORM Informatics"}, names)
	for _, dn := range f.DefinedNames {
		assert.NotEqual(t, "dm_pages", dn.Name, "names into dropped sheets are removed")
	}
}

func TestPopulateWorkbookKeepsBlankSheets(t *testing.T) {
	tmpl := writeTemplate(t,
		[]string{"Study Information", "Project Management", "CONFORM Informatics"},
		map[string]bool{"Project Management": true, "CONFORM Informatics": true},
		`<definedName name="num_subj">'Study Information'!$B$2</definedName>`)
	out := filepath.Join(t.TempDir(), "out.xlsx")

	written, err := PopulateWorkbook(map[string]any{"num_subj": int64(40)}, tmpl, out,
		[]string{"Study Information", "Project Management"})
	require.NoError(t, err)
	assert.Equal(t, []string{"num_subj"}, written)

	f, err := xlsx.OpenFile(out)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 2)
	assert.Equal(t, "Project Management", f.Sheets[1].Name)
	assert.Equal(t, "40", f.Sheet["Study Information"].Cell(1, 1).Value)
}

func TestPopulateWorkbookWritesEveryArea(t *testing.T) {
	tmpl := buildTemplate(t,
		[]string{"Study Information", "Biostatistics and Programming"},
		map[string]string{
			"num_subj": "'Study Information'!$B$2,'Biostatistics and Programming'!$D$1:$D$3",
		})
	out := filepath.Join(t.TempDir(), "out.xlsx")

	written, err := PopulateWorkbook(map[string]any{"num_subj": int64(75)}, tmpl, out, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"num_subj"}, written)

	f, err := xlsx.OpenFile(out)
	require.NoError(t, err)
	assert.Equal(t, "75", f.Sheet["Study Information"].Cell(1, 1).Value)
	assert.Equal(t, "75", f.Sheet["Biostatistics and Programming"].Cell(0, 3).Value)
}

func TestPruneSheetsRemapsScopedNames(t *testing.T) {
	tmpl := writeTemplate(t,
		[]string{"Study Information", "Clinical Data Management", "Project Management"},
		nil,
		`<definedName name="pm_total" localSheetId="2">'Project Management'!$B$2</definedName>`+
			`<definedName name="dm_total" localSheetId="1">'Clinical Data Management'!$B$2</definedName>`+
			`<definedName name="shared">'Study Information'!$A$1,'Clinical Data Management'!$A$1</definedName>`)
	out := filepath.Join(t.TempDir(), "out.xlsx")

	_, err := PopulateWorkbook(nil, tmpl, out, []string{"Study Information", "Project Management"})
	require.NoError(t, err)

	f, err := xlsx.OpenFile(out)
	require.NoError(t, err)
	byName := map[string]string{}
	scope := map[string]int{}
	for _, dn := range f.DefinedNames {
		byName[dn.Name] = dn.Data
		scope[dn.Name] = dn.LocalSheetID
	}
	assert.NotContains(t, byName, "dm_total")
	assert.Equal(t, 1, scope["pm_total"], "scoped name follows its sheet to the new position")
	assert.Equal(t, "'Study Information'!$A$1", byName["shared"])
}

func TestParseDestinations(t *testing.T) {
	got := ParseDestinations("'Sponsor, Inc'!$A$1,Sheet2!$B$2:$B$4,#REF!")
	assert.Equal(t, []Destination{{Sheet: "Sponsor, Inc", Cell: "A1"}, {Sheet: "Sheet2", Cell: "B2"}}, got)
}

func TestPopulateWorkbookMissingTemplate(t *testing.T) {
	_, err := PopulateWorkbook(nil, filepath.Join(t.TempDir(), "nope.xlsx"), filepath.Join(t.TempDir(), "out.xlsx"), nil)
	assert.Error(t, err)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "", FormatValue(nil))
	assert.Equal(t, "12", FormatValue(int64(12)))
	assert.Equal(t, "0.25", FormatValue(0.25))
	assert.Equal(t, "true", FormatValue(true))
	assert.Equal(t, "ABC-1", FormatValue("ABC-1"))
}
