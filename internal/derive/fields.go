package derive

import "sort"

// Field names referenced by formulas and sub-steps.
const (
	FieldNumCountries         = "num_countries"
	FieldNumSites             = "num_sites"
	FieldNumSubj              = "num_subj"
	FieldEnrollDur            = "enroll_dur"
	FieldSubjDur              = "subj_dur"
	FieldTotalDur             = "total_dur"
	FieldStartDur             = "start_dur"
	FieldCloseDur             = "close_dur"
	FieldAnalysisDur          = "analysis_dur"
	FieldNumVisits            = "num_visits"
	FieldAvgUnscheduledVisits = "avg_unscheduled_visits"
	FieldDMCIA                = "dmc/ia"
	FieldStudyNumber          = "study_number"
	FieldSponsor              = "sponsor"

	FieldScreenFailureRate = "screen_failure_rate"
	FieldDropoutRate       = "dropout_rate"
	FieldNumScreenedSubj   = "num_screened_subj"
	FieldNumScreenFail     = "num_screen_fail"
	FieldNumComplete       = "num_complete"
	FieldNumWithdrawn      = "num_withdrawn"

	FieldCRFPagesPerVisit       = "crf_pages_per_visit"
	FieldCRFWithdrawnMultiplier = "crf_withdrawn_multiplier"
	FieldCRFPagesScreenFail     = "crf_pages_screen_fail"
	FieldCRFPagesComplete       = "crf_pages_complete"
	FieldCRFPagesWithdrawn      = "crf_pages_withdrawn"
	FieldCRFPagesTotal          = "crf_pages_total"

	FieldManualQueriesComplete  = "manual_queries_complete"
	FieldManualQueriesWithdrawn = "manual_queries_withdrawn"
	FieldManualQueriesTotal     = "manual_queries_total"
	FieldAutoQueriesComplete    = "auto_queries_complete"
	FieldAutoQueriesScreenFail  = "auto_queries_screen_fail"
	FieldAutoQueriesWithdrawn   = "auto_queries_withdrawn"
	FieldAutoQueriesTotal       = "auto_queries_total"

	FieldSDTMFR     = "sdtm_fr"
	FieldADaMFR     = "adam_fr"
	FieldTLFFinalFR = "tlf_final_fr"
	FieldSDTMDMCFR  = "sdtm_dmc_fr"
	FieldADaMDMCFR  = "adam_dmc_fr"
	FieldTLFDMCFR   = "tlf_dmc_fr"

	FieldNumDMCMeet         = "num_dmc_meet"
	FieldDMCMeetFreq        = "dmc_meet_freq"
	FieldDSURReportTables   = "dsur_report_tables"
	FieldDSURReportDatasets = "dsur_report_datasets"
	FieldDSURYears          = "dsur_years"
)

// TLF deliverable kinds, in the order the workbook lists them.
var tlfKinds = []string{
	"unique_tables",
	"repeat_tables",
	"unique_figures",
	"repeat_figures",
	"unique_listings",
	"repeat_listings",
}

func tlfField(prefix, kind string) string { return prefix + "_" + kind }

// Control keys carry request options and are never stored in a record.
var controlKeys = map[string]struct{}{
	"calculate_refresh":   {},
	"calculate_dmc":       {},
	"refresh_file_opt_in": {},
	"dmc_file_opt_in":     {},
}

// IsControlKey reports whether key is a request option rather than a field.
func IsControlKey(key string) bool {
	_, ok := controlKeys[key]
	return ok
}

var descriptions = map[string]string{
	FieldNumCountries:         "Number of participating countries.",
	FieldNumSites:             "Number of investigational sites.",
	FieldNumSubj:              "Number of enrolled subjects.",
	FieldEnrollDur:            "Enrollment duration in months.",
	FieldSubjDur:              "Subject participation duration in months.",
	FieldTotalDur:             "Whole study duration in months.",
	FieldStartDur:             "Start-up duration in months.",
	FieldCloseDur:             "Close-out duration in months.",
	FieldAnalysisDur:          "Analysis and reporting duration in months.",
	FieldNumVisits:            "Scheduled visits per subject.",
	FieldAvgUnscheduledVisits: "Average unscheduled visits per subject.",
	FieldDMCIA:                "Whether the study uses a DMC or interim analysis.",
	FieldStudyNumber:          "Study name or protocol number.",
	FieldSponsor:              "Sponsoring company.",

	FieldScreenFailureRate: "Assumed screen-failure rate.",
	FieldDropoutRate:       "Assumed dropout rate.",
	FieldNumScreenedSubj:   "Number of screened subjects.",
	FieldNumScreenFail:     "Number of screen failures.",
	FieldNumComplete:       "Number of subjects completing the study.",
	FieldNumWithdrawn:      "Number of withdrawn subjects.",

	"data_review_listings":        "Data review listings.",
	"protocol_deviation_check":    "Protocol deviation checks.",
	FieldCRFPagesPerVisit:         "CRF pages per visit.",
	FieldCRFWithdrawnMultiplier:   "Share of a completed subject's CRF pages filled for a withdrawn subject.",
	FieldCRFPagesScreenFail:       "CRF pages per screen failure.",
	FieldCRFPagesComplete:         "CRF pages per completed subject.",
	FieldCRFPagesWithdrawn:        "CRF pages per withdrawn subject.",
	FieldCRFPagesTotal:            "Total CRF pages.",
	FieldManualQueriesComplete:    "Manual queries per completed subject.",
	FieldManualQueriesWithdrawn:   "Manual queries per withdrawn subject.",
	FieldManualQueriesTotal:       "Total manual queries.",
	FieldAutoQueriesComplete:      "Automatic queries per completed subject.",
	FieldAutoQueriesScreenFail:    "Automatic queries per screen failure.",
	FieldAutoQueriesWithdrawn:     "Automatic queries per withdrawn subject.",
	FieldAutoQueriesTotal:         "Total automatic queries.",
	"num_sae":                     "Serious adverse events.",
	"num_unique_terms_aemh":       "Unique AE/MH terms to code.",
	"num_unique_terms_cm":         "Unique concomitant medication terms to code.",
	"num_external_data_source":    "External data sources.",
	"external_data_reconcilation": "External data reconciliations.",
	"num_local_lab":               "Local laboratories.",
	"num_lab_panel":               "Laboratory panels.",
	"num_data_metrics_report":     "Data metrics reports.",

	"sdtm_tdd":      "SDTM trial design domains.",
	"sdtm_sd":       "SDTM subject domains.",
	FieldSDTMFR:     "Full SDTM refreshes.",
	FieldSDTMDMCFR:  "SDTM refreshes for DMC meetings.",
	"sdtm_ia_fr":    "SDTM refreshes for interim analyses.",
	"adam_simp":     "Simple ADaM datasets.",
	"adam_compl":    "Complex ADaM datasets.",
	FieldADaMFR:     "Full ADaM refreshes.",
	FieldADaMDMCFR:  "ADaM refreshes for DMC meetings.",
	"adam_ia_fr":    "ADaM refreshes for interim analyses.",
	FieldTLFFinalFR: "Full TLF refreshes.",
	FieldTLFDMCFR:   "TLF refreshes for DMC meetings.",
	"tlf_ia_fr":     "TLF refreshes for interim analyses.",

	"safety_signal_report":  "Safety signal reports.",
	"stat_support_requests": "Statistical support hours.",
	"prog_support_requests": "Programming support hours.",
	FieldNumDMCMeet:         "DMC meetings.",
	FieldDMCMeetFreq:        "Months between DMC meetings.",
	FieldDSURReportTables:   "DSUR report tables.",
	"dsur_report_listings":  "DSUR report listings.",
	FieldDSURReportDatasets: "DSUR report datasets.",
	"dsur_datasets":         "DSUR datasets.",
	FieldDSURYears:          "Years of DSUR reporting.",
	"investigator_tables":   "Investigator brochure tables.",
	"investigator_listings": "Investigator brochure listings.",
	"investigator_datasets": "Investigator brochure datasets.",
	"investigator_years":    "Years of investigator brochure updates.",
	"patient_profile":       "Patient profiles.",
	"num_meetings":          "Project meetings.",
}

func init() {
	for _, kind := range tlfKinds {
		label := kindLabel(kind)
		descriptions[tlfField("tlf", kind)] = "Estimated " + label + "."
		descriptions[tlfField("tlf_final", kind)] = "Final analysis " + label + "."
		descriptions[tlfField("tlf_dmc", kind)] = "DMC " + label + "."
		descriptions[tlfField("tlf_ia", kind)] = "Interim analysis " + label + "."
	}
}

func kindLabel(kind string) string {
	switch kind {
	case "unique_tables":
		return "unique tables"
	case "repeat_tables":
		return "repeat tables"
	case "unique_figures":
		return "unique figures"
	case "repeat_figures":
		return "repeat figures"
	case "unique_listings":
		return "unique listings"
	default:
		return "repeat listings"
	}
}

// Describe returns a short description for a field, or "" when none exists.
func Describe(field string) string {
	return descriptions[field]
}

// textFields hold identifiers that must never be read as numbers.
var textFields = map[string]bool{
	FieldStudyNumber: true,
	FieldSponsor:     true,
}

// IsTextField reports whether field carries free text.
func IsTextField(field string) bool { return textFields[field] }

// IsEditable reports whether a manual edit may target field.
func IsEditable(field string) bool {
	if IsControlKey(field) {
		return false
	}
	_, ok := descriptions[field]
	return ok
}

// Fields lists every known field name in sorted order.
func Fields() []string {
	out := make([]string, 0, len(descriptions))
	for k := range descriptions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
