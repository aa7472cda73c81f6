package derive

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStagesAliasesAndOrder(t *testing.T) {
	got, err := ParseStages([]string{"biostats", "conform", "data_management", "core-study", ""})
	require.NoError(t, err)
	assert.Equal(t, []Stage{StageConform, StageDataManagement, StageCoreStudy}, got)
}

func TestParseStagesRejectsUnknown(t *testing.T) {
	_, err := ParseStages([]string{"pharmacovigilance"})
	assert.True(t, errors.Is(err, ErrUnknownStage))

	_, err = ParseStages(nil)
	assert.True(t, errors.Is(err, ErrNoStages))
}

func TestSheets(t *testing.T) {
	assert.Equal(t,
		[]string{"Study Information", "Project Management", "Biostatistics and Programming"},
		Sheets([]Stage{StageCoreStudy, StageProjectManagement}),
	)
}

func TestDefaultsUseAssumptions(t *testing.T) {
	a := Assumptions{ScreenFailureRate: 0.1, DropoutRate: 0.1}
	p := Defaults(StageCoreStudy, a)
	assert.Equal(t, Number(0.1), p[FieldScreenFailureRate])
	assert.Equal(t, Number(5), p["sdtm_tdd"])
	assert.Equal(t, Bool(false), p[FieldDMCIA])
	assert.True(t, p["tlf_final_unique_tables"].IsUnknown())

	dm := Defaults(StageDataManagement, a)
	assert.Equal(t, Number(0.5), dm[FieldCRFWithdrawnMultiplier])
	assert.True(t, dm[FieldCRFPagesComplete].IsUnknown())

	pm := Defaults(StageProjectManagement, a)
	assert.Len(t, pm, 6)
}

func TestDefaultsAreFresh(t *testing.T) {
	p := Defaults(StageConform, DefaultAssumptions())
	p[FieldTotalDur] = Int(10)
	assert.True(t, Defaults(StageConform, DefaultAssumptions())[FieldTotalDur].IsUnknown())
}

func TestDefaultFieldsAreDescribed(t *testing.T) {
	for _, st := range []Stage{StageCoreStudy, StageDataManagement, StageProjectManagement, StageConform} {
		for k := range Defaults(st, DefaultAssumptions()) {
			assert.NotEmpty(t, Describe(k), "%s/%s", st, k)
			assert.True(t, IsEditable(k))
		}
	}
	assert.False(t, IsEditable("calculate_refresh"))
}
