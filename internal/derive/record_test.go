package derive

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyIsIdempotent(t *testing.T) {
	patch := Patch{FieldNumSubj: Int(120), FieldSponsor: Text("ACME"), FieldTotalDur: Unknown()}

	once := NewRecord()
	once.Apply(Defaults(StageCoreStudy, DefaultAssumptions()), LayerDefault)
	once.Apply(patch, LayerBase)

	twice := once.Clone()
	changed := twice.Apply(patch, LayerBase)

	assert.Empty(t, changed)
	assert.True(t, once.Equal(twice))
}

func TestApplyLeavesAbsentKeys(t *testing.T) {
	rec := NewRecord()
	rec.Apply(Patch{"a": Int(1), "b": Int(2)}, LayerBase)
	rec.Apply(Patch{"a": Int(3)}, LayerBase)

	assert.Equal(t, Number(3), rec.Get("a"))
	assert.Equal(t, Number(2), rec.Get("b"))
}

func TestApplyLayerPrecedence(t *testing.T) {
	rec := NewRecord()
	rec.Apply(Patch{FieldSDTMFR: Int(18)}, LayerSubStep)
	rec.Apply(Patch{FieldSDTMFR: Unknown()}, LayerDefault)
	rec.Apply(Patch{FieldSDTMFR: Int(2)}, LayerBase)
	assert.Equal(t, Number(18), rec.Get(FieldSDTMFR))

	rec.Apply(Patch{FieldSDTMFR: Int(20)}, LayerSubStep)
	assert.Equal(t, Number(20), rec.Get(FieldSDTMFR))

	rec.Apply(Patch{FieldSDTMFR: Int(7)}, LayerManual)
	rec.Apply(Patch{FieldSDTMFR: Int(21)}, LayerSubStep)
	assert.Equal(t, Number(7), rec.Get(FieldSDTMFR))
	assert.Equal(t, LayerManual, rec.LayerOf(FieldSDTMFR))
}

func TestMergeExtractedIsRightBiased(t *testing.T) {
	defaults := Defaults(StageDataManagement, DefaultAssumptions())
	extracted := Patch{FieldCRFPagesPerVisit: Int(12), FieldNumSubj: Int(40), FieldSubjDur: Unknown()}

	merged := MergeExtracted(defaults, extracted)

	assert.Equal(t, Number(12), merged[FieldCRFPagesPerVisit])
	assert.Equal(t, Number(40), merged[FieldNumSubj])
	assert.True(t, merged[FieldSubjDur].IsUnknown())
	assert.Equal(t, Number(10), defaults[FieldCRFPagesPerVisit], "base must not be mutated")
	for k := range defaults {
		assert.Contains(t, merged, k)
	}
}

func TestApplyManualAllowList(t *testing.T) {
	rec := NewRecord()
	rec.Apply(Patch{FieldNumSubj: Int(100)}, LayerBase)

	_, err := rec.ApplyManual(map[string]any{FieldNumSubj: "150", "calculate_dmc": "on", "bogus": 1})
	var notEditable *FieldNotEditableError
	require.ErrorAs(t, err, &notEditable)
	assert.True(t, errors.Is(err, ErrFieldNotEditable))
	assert.Equal(t, []string{"bogus", "calculate_dmc"}, notEditable.Fields)
	assert.Equal(t, Number(100), rec.Get(FieldNumSubj), "rejected request must not apply")

	patch, err := rec.ApplyManual(map[string]any{FieldNumSubj: "1,500", FieldSponsor: "ACME"})
	require.NoError(t, err)
	assert.Equal(t, Number(1500), patch[FieldNumSubj])
	assert.Equal(t, Number(1500), rec.Get(FieldNumSubj))
	assert.Equal(t, Text("ACME"), rec.Get(FieldSponsor))
	assert.Equal(t, LayerManual, rec.LayerOf(FieldSponsor))
}

func TestApplyManualKeepsStudyNumberText(t *testing.T) {
	rec := NewRecord()
	patch, err := rec.ApplyManual(map[string]any{FieldStudyNumber: "001", FieldNumSubj: "001"})
	require.NoError(t, err)
	assert.Equal(t, Text("001"), patch[FieldStudyNumber])
	assert.Equal(t, Text("001"), rec.Get(FieldStudyNumber))
	assert.Equal(t, Number(1), rec.Get(FieldNumSubj))
}

func TestRecordJSONRoundTrip(t *testing.T) {
	rec := NewRecord()
	rec.Apply(Patch{FieldNumSubj: Int(100), FieldTotalDur: Unknown(), FieldDMCIA: Bool(true)}, LayerBase)
	rec.Apply(Patch{FieldSponsor: Text("ACME")}, LayerManual)
	rec.MarkBaseDone()

	b, err := json.Marshal(rec)
	require.NoError(t, err)

	got := NewRecord()
	require.NoError(t, json.Unmarshal(b, got))
	assert.True(t, rec.Equal(got))
	assert.True(t, got.Has(FieldTotalDur))
	assert.Equal(t, LayerManual, got.LayerOf(FieldSponsor))
}

func TestSanitizedBlanksUnknown(t *testing.T) {
	rec := NewRecord()
	rec.Apply(Patch{FieldNumSubj: Int(100), FieldTotalDur: Unknown()}, LayerBase)
	out := rec.Sanitized()
	assert.Equal(t, "", out[FieldTotalDur])
	assert.Equal(t, int64(100), out[FieldNumSubj])
}

func TestHeld(t *testing.T) {
	rec := NewRecord()
	rec.Apply(Patch{"a": Int(1)}, LayerBase)
	rec.Apply(Patch{"b": Int(2)}, LayerSubStep)
	rec.Apply(Patch{"c": Int(3)}, LayerManual)
	assert.Equal(t, Patch{"c": Number(3)}, rec.Held(LayerManual))
	assert.Len(t, rec.Held(LayerSubStep), 2)
}
