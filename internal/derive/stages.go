package derive

import (
	"fmt"
	"sort"
	"strings"
)

// Stage is a top-level estimation stage.
type Stage string

const (
	StageCoreStudy         Stage = "core-study"
	StageDataManagement    Stage = "data-management"
	StageProjectManagement Stage = "project-management"
	StageConform           Stage = "conform"
)

var stageAliases = map[string]Stage{
	"core-study":         StageCoreStudy,
	"core_study":         StageCoreStudy,
	"biostats":           StageCoreStudy,
	"data-management":    StageDataManagement,
	"data_management":    StageDataManagement,
	"project-management": StageProjectManagement,
	"project_management": StageProjectManagement,
	"conform":            StageConform,
}

// Stages run in this order within a job.
var stageOrder = map[Stage]int{
	StageConform:           0,
	StageProjectManagement: 1,
	StageDataManagement:    2,
	StageCoreStudy:         3,
}

var stageSheets = map[Stage]string{
	StageCoreStudy:         "Biostatistics and Programming",
	StageDataManagement:    "Clinical Data Management",
	StageProjectManagement: "Project Management",
	StageConform:           "CONFORM Informatics",
}

// StudyInformationSheet is kept in every exported workbook.
const StudyInformationSheet = "Study Information"

// ParseStage accepts canonical names and their form aliases.
func ParseStage(s string) (Stage, error) {
	st, ok := stageAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStage, s)
	}
	return st, nil
}

// ParseStages parses, dedupes and orders a stage list.
func ParseStages(raw []string) ([]Stage, error) {
	out := make([]Stage, 0, len(raw))
	for _, s := range raw {
		if strings.TrimSpace(s) == "" {
			continue
		}
		st, err := ParseStage(s)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	out = OrderStages(out)
	if len(out) == 0 {
		return nil, ErrNoStages
	}
	return out, nil
}

// OrderStages returns a deduplicated copy in run order.
func OrderStages(stages []Stage) []Stage {
	seen := map[Stage]bool{}
	out := make([]Stage, 0, len(stages))
	for _, s := range stages {
		if _, ok := stageOrder[s]; !ok || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return stageOrder[out[i]] < stageOrder[out[j]] })
	return out
}

// HasStage reports whether stages contains s.
func HasStage(stages []Stage, s Stage) bool {
	for _, st := range stages {
		if st == s {
			return true
		}
	}
	return false
}

// Sheet is the workbook sheet holding the stage's estimate.
func (s Stage) Sheet() string { return stageSheets[s] }

// Sheets lists the workbook sheets to keep for a set of stages.
func Sheets(stages []Stage) []string {
	out := []string{StudyInformationSheet}
	for _, s := range OrderStages(stages) {
		out = append(out, s.Sheet())
	}
	return out
}

// Assumptions are the tunable domain constants used to seed defaults.
type Assumptions struct {
	ScreenFailureRate float64
	DropoutRate       float64
	// AssumedEnrollment seeds num_subj for data management when extraction
	// finds none. Zero disables it.
	AssumedEnrollment int
}

func DefaultAssumptions() Assumptions {
	return Assumptions{
		ScreenFailureRate: 0.2,
		DropoutRate:       0.15,
		AssumedEnrollment: 100,
	}
}

var durationFields = []string{
	FieldStartDur,
	FieldEnrollDur,
	FieldSubjDur,
	FieldCloseDur,
	FieldAnalysisDur,
	FieldTotalDur,
}

var studyFields = []string{
	FieldNumCountries,
	FieldNumSites,
	FieldNumScreenedSubj,
	FieldNumScreenFail,
	FieldNumSubj,
	FieldNumComplete,
	FieldNumWithdrawn,
	FieldNumVisits,
	FieldAvgUnscheduledVisits,
}

var coreUnknown = []string{
	"sdtm_sd", FieldSDTMDMCFR, "sdtm_ia_fr", FieldSDTMFR,
	"adam_simp", "adam_compl", FieldADaMDMCFR, "adam_ia_fr", FieldADaMFR,
	FieldTLFDMCFR, "tlf_ia_fr", FieldTLFFinalFR,
	"safety_signal_report", "stat_support_requests", "prog_support_requests",
	FieldNumDMCMeet, FieldDSURReportTables, "dsur_report_listings", "dsur_datasets", FieldDSURYears,
	"investigator_tables", "investigator_listings", "investigator_datasets", "investigator_years",
	"patient_profile", "num_meetings",
}

// Defaults returns the seed values of a stage. The result is a fresh patch.
func Defaults(stage Stage, a Assumptions) Patch {
	p := Patch{}
	switch stage {
	case StageCoreStudy:
		setUnknown(p, studyFields...)
		setUnknown(p, durationFields...)
		setUnknown(p, coreUnknown...)
		for _, kind := range tlfKinds {
			setUnknown(p, tlfField("tlf_dmc", kind), tlfField("tlf_ia", kind), tlfField("tlf_final", kind))
		}
		p[FieldDMCIA] = Bool(false)
		p[FieldScreenFailureRate] = Number(a.ScreenFailureRate)
		p[FieldDropoutRate] = Number(a.DropoutRate)
		p["sdtm_tdd"] = Int(5)
	case StageDataManagement:
		setUnknown(p, studyFields...)
		setUnknown(p, durationFields...)
		p[FieldScreenFailureRate] = Number(a.ScreenFailureRate)
		p[FieldDropoutRate] = Number(a.DropoutRate)
		p["data_review_listings"] = Int(50)
		p["protocol_deviation_check"] = Int(40)
		p[FieldCRFPagesPerVisit] = Int(10)
		p[FieldCRFWithdrawnMultiplier] = Number(0.5)
		p[FieldCRFPagesScreenFail] = Int(5)
		setUnknown(p, FieldCRFPagesComplete, FieldCRFPagesWithdrawn, FieldCRFPagesTotal)
		p[FieldManualQueriesComplete] = Int(20)
		p[FieldManualQueriesWithdrawn] = Int(10)
		p[FieldManualQueriesTotal] = Unknown()
		p[FieldAutoQueriesComplete] = Int(30)
		p[FieldAutoQueriesScreenFail] = Int(5)
		p[FieldAutoQueriesWithdrawn] = Int(15)
		p[FieldAutoQueriesTotal] = Unknown()
		p["num_sae"] = Int(30)
		p["num_unique_terms_aemh"] = Int(2000)
		p["num_unique_terms_cm"] = Int(2000)
		p["num_external_data_source"] = Int(3)
		p["external_data_reconcilation"] = Int(87)
		p["num_local_lab"] = Int(25)
		p["num_lab_panel"] = Int(5)
		p["num_data_metrics_report"] = Int(15)
	case StageProjectManagement, StageConform:
		setUnknown(p, durationFields...)
	}
	return p
}

func setUnknown(p Patch, fields ...string) {
	for _, f := range fields {
		p[f] = Unknown()
	}
}
