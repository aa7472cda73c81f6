package export

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Destination is the cell one area of a defined name points at.
type Destination struct {
	Sheet string
	Cell  string
}

// ParseDestination reads the first area of a defined-name reference such as
// 'Study Information'!$B$3.
func ParseDestination(ref string) (Destination, bool) {
	dests := ParseDestinations(ref)
	if len(dests) == 0 {
		return Destination{}, false
	}
	return dests[0], true
}

// ParseDestinations reads every area of a reference like
// 'Study Information'!$B$3,Sheet2!$C$1:$C$4. Each range resolves to its
// top-left cell; unreadable areas are skipped.
func ParseDestinations(ref string) []Destination {
	var out []Destination
	for _, area := range splitAreas(ref) {
		if d, ok := parseArea(area); ok {
			out = append(out, d)
		}
	}
	return out
}

// splitAreas splits a reference on commas outside quoted sheet names.
func splitAreas(ref string) []string {
	ref = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(ref), "="))
	var areas []string
	quoted := false
	last := 0
	for i := 0; i < len(ref); i++ {
		switch ref[i] {
		case '\'':
			quoted = !quoted
		case ',':
			if !quoted {
				areas = append(areas, ref[last:i])
				last = i + 1
			}
		}
	}
	return append(areas, ref[last:])
}

func parseArea(area string) (Destination, bool) {
	area = strings.TrimSpace(area)
	i := strings.LastIndex(area, "!")
	if i <= 0 || i == len(area)-1 {
		return Destination{}, false
	}
	sheet := area[:i]
	if len(sheet) >= 2 && sheet[0] == '\'' && sheet[len(sheet)-1] == '\'' {
		sheet = strings.ReplaceAll(sheet[1:len(sheet)-1], "''", "'")
	}
	cell := area[i+1:]
	if j := strings.IndexByte(cell, ':'); j >= 0 {
		cell = cell[:j]
	}
	cell = strings.ReplaceAll(cell, "$", "")
	if sheet == "" || cell == "" || strings.Contains(cell, "#REF") {
		return Destination{}, false
	}
	return Destination{Sheet: sheet, Cell: cell}, true
}

// PopulateWorkbook opens the template, writes every value whose key is a
// defined name into the cell the name points at, keeps only keepSheets (all
// sheets when empty) and saves the result to outputPath. It returns the keys
// written. Keys without a defined name are ignored.
func PopulateWorkbook(values map[string]any, templatePath, outputPath string, keepSheets []string) ([]string, error) {
	f, err := xlsx.OpenFile(templatePath)
	if err != nil {
		return nil, eris.Wrapf(err, "xlsx: open template %s", templatePath)
	}
	written, err := populate(f, values)
	if err != nil {
		return nil, err
	}
	if len(keepSheets) > 0 {
		pruneSheets(f, keepSheets)
	}
	initColumns(f)
	if err := f.Save(outputPath); err != nil {
		return nil, eris.Wrap(err, "xlsx: save workbook")
	}
	return written, nil
}

func populate(f *xlsx.File, values map[string]any) ([]string, error) {
	var written []string
	for _, dn := range f.DefinedNames {
		if dn == nil {
			continue
		}
		v, ok := values[dn.Name]
		if !ok {
			continue
		}
		hit := false
		for _, dest := range ParseDestinations(dn.Data) {
			sheet, ok := f.Sheet[dest.Sheet]
			if !ok {
				continue
			}
			col, row, err := xlsx.GetCoordsFromCellIDString(dest.Cell)
			if err != nil {
				return nil, eris.Wrapf(err, "xlsx: defined name %s", dn.Name)
			}
			setCell(sheet.Cell(row, col), v)
			hit = true
		}
		if hit {
			written = append(written, dn.Name)
		}
	}
	sort.Strings(written)
	return written, nil
}

// initColumns gives sheets read without any rows an empty column store;
// xlsx cannot save a sheet whose Cols is nil.
func initColumns(f *xlsx.File) {
	for _, sh := range f.Sheets {
		if sh != nil && sh.Cols == nil {
			sh.Cols = &xlsx.ColStore{}
		}
	}
}

func setCell(c *xlsx.Cell, v any) {
	switch x := v.(type) {
	case nil:
		c.SetString("")
	case string:
		c.SetString(x)
	case bool:
		c.SetBool(x)
	case int:
		c.SetInt(x)
	case int64:
		c.SetInt64(x)
	case float64:
		c.SetFloat(x)
	default:
		c.SetValue(x)
	}
}

// pruneSheets drops every sheet not listed in keep. Defined names lose the
// areas that pointed into a dropped sheet and disappear when none are left.
// Sheet-scoped names follow their sheet's new position. LocalSheetID 0 is
// indistinguishable from a workbook-scoped name and is left alone: sheet 0 is
// either kept at position 0 or its names lose their areas above.
func pruneSheets(f *xlsx.File, keep []string) {
	want := make(map[string]bool, len(keep))
	for _, name := range keep {
		want[name] = true
	}
	oldIndex := make(map[string]int, len(f.Sheets))
	kept := f.Sheets[:0]
	for i, sh := range f.Sheets {
		oldIndex[sh.Name] = i
		if want[sh.Name] {
			kept = append(kept, sh)
			continue
		}
		delete(f.Sheet, sh.Name)
	}
	f.Sheets = kept
	if len(f.Sheets) == 0 {
		return
	}

	newIndex := make(map[int]int, len(kept))
	for i, sh := range kept {
		newIndex[oldIndex[sh.Name]] = i
	}
	names := f.DefinedNames[:0]
	for _, dn := range f.DefinedNames {
		if dn == nil {
			continue
		}
		data, ok := keepAreas(dn.Data, want)
		if !ok {
			continue
		}
		dn.Data = data
		if dn.LocalSheetID != 0 {
			idx, ok := newIndex[dn.LocalSheetID]
			if !ok {
				continue
			}
			dn.LocalSheetID = idx
		}
		names = append(names, dn)
	}
	f.DefinedNames = names
}

// keepAreas removes the areas of ref that point into sheets outside want.
// Areas that are not cell references (constants, formulas) are kept as is.
// It reports false when every cell area was removed.
func keepAreas(ref string, want map[string]bool) (string, bool) {
	areas := splitAreas(ref)
	out := make([]string, 0, len(areas))
	dropped := false
	for _, area := range areas {
		if d, ok := parseArea(area); ok && !want[d.Sheet] {
			dropped = true
			continue
		}
		out = append(out, strings.TrimSpace(area))
	}
	if len(out) == 0 {
		return "", false
	}
	if !dropped {
		return ref, true
	}
	return strings.Join(out, ","), true
}

// FormatValue renders a sanitized value for text templates.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
