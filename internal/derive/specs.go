package derive

// FieldDef names one field an extraction call must return.
type FieldDef struct {
	Name        string
	Description string
}

// FieldSpec describes one extraction call: the fields it must return and the
// instructions given to the provider.
type FieldSpec struct {
	Name     string
	Role     string
	Fields   []FieldDef
	Guidance string
	// Numeric asks the provider for integers and the -1 sentinel.
	Numeric bool
}

// Names lists the spec's field names in order.
func (s FieldSpec) Names() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}

// Complete returns a copy of p in which every spec field is present.
// Missing fields become Unknown.
func (s FieldSpec) Complete(p Patch) Patch {
	out := p.Clone()
	for _, f := range s.Fields {
		if _, ok := out[f.Name]; !ok {
			out[f.Name] = Unknown()
		}
	}
	return out
}

const (
	roleExtract = "You are an expert in the clinical data management industry, trained to extract study information from provided documents."
	rolePredict = "You are an expert in the clinical data management industry, trained to read provided documents to accurately predict study-related variables."
)

// ProvidedSpec covers the study parameters stated in the protocol.
var ProvidedSpec = FieldSpec{
	Name:    "provided",
	Role:    roleExtract,
	Numeric: true,
	Fields: []FieldDef{
		{FieldNumCountries, "specified number of countries"},
		{FieldNumSites, "specified number of sites"},
		{FieldNumSubj, "specified number of enrolled subjects"},
		{FieldEnrollDur, "specified duration of enrollment in months"},
		{FieldSubjDur, "specified duration of subject participation/treatment in months"},
		{FieldTotalDur, "specified duration of the whole study in months"},
		{FieldNumVisits, "specified number of visits per patient"},
		{FieldAvgUnscheduledVisits, "estimated average number of unscheduled visits per patient"},
		{FieldDMCIA, "whether or not this study involves the use of a data monitoring committee (dmc) or interim analysis (ia) (output as a boolean true/false)"},
	},
}

// WorkOrderSpec covers the identifying fields printed on the work order.
var WorkOrderSpec = FieldSpec{
	Name: "work_order",
	Role: roleExtract,
	Fields: []FieldDef{
		{FieldStudyNumber, "the name/number of the study which the protocol references"},
		{FieldSponsor, "the name of the company that is sponsoring this study"},
	},
}

// AssumedSpec covers the deliverable counts the provider has to estimate.
var AssumedSpec = FieldSpec{
	Name: "assumed",
	Role: rolePredict,
	Fields: []FieldDef{
		{"sdtm_sd", "predicted number of SDTM subject domains"},
		{"adam_simp", "predicted number of simple ADaM domains (most safety domains)"},
		{"adam_compl", "predicted number of complex ADaM domains (ADSL, ADLB, ADEX, Efficacy)"},
		{"stat_support_requests", "predicted number of statistical support hours needed throughout study duration"},
		{"prog_support_requests", "predicted number of programming support hours needed throughout study duration"},
		{"tlf_unique_tables", "specified number of unique tables"},
		{"tlf_repeat_tables", "specified number of repeat tables"},
		{"tlf_unique_figures", "specified number of unique figures"},
		{"tlf_repeat_figures", "specified number of repeat figures"},
		{"tlf_unique_listings", "specified number of unique listings"},
		{"tlf_repeat_listings", "specified number of repeat listings"},
	},
	Guidance: assumedGuidance,
}

// RefreshSpec covers reported full-refresh counts.
var RefreshSpec = FieldSpec{
	Name:    "refresh",
	Role:    roleExtract,
	Numeric: true,
	Fields: []FieldDef{
		{FieldSDTMFR, "specified number of full refreshes for SDTM datasets"},
		{FieldADaMFR, "specified number of full refreshes for ADaM datasets"},
		{FieldTLFFinalFR, "specified number of full refreshes for TLFs"},
	},
}

// DMCSpec covers reported DMC meeting counts and cadence.
var DMCSpec = FieldSpec{
	Name:    "dmc",
	Role:    roleExtract,
	Numeric: true,
	Fields: []FieldDef{
		{FieldNumDMCMeet, "specified number of meetings for the DMC (data monitoring committee)"},
		{FieldDMCMeetFreq, "frequency of DMC meetings in terms of months (i.e. every 3 months)"},
	},
}

const assumedGuidance = `How to estimate the number of SDTM domains, ADaM datasets and TLFs from the protocol:

sdtm_sd: the schedule of assessments maps procedures to SDTM datasets. Trial design domains TA, TE, TI, TS, TV and special purpose domains SE, SV, RELREC are always included and are not subject domains. Subject level datasets DM, AE, MH, PE, CM, EC, EX, DS, DV, EG, VS, IE, LB, SC, RP are generally included, so at least 18 subject domains are needed.

adam_simp and adam_compl: use the objectives and endpoints in the synopsis. Generally 6 simple datasets (ADAE, ADCM, ADMH, ADDV, ADEG, ADVS) and 4 complex datasets (ADLB, ADSL, ADEX, ADEXSUM) are needed. Oncology studies add complex ADRS, ADTR, ADTTE and optionally ADEFF. Pharmacokinetics adds simple ADPP and ADPC. Anti-drug antibody analysis adds simple ADADA. Pharmacodynamics adds complex ADPD. adam_simp is at least 6 and adam_compl at least 4.

tlf: safety and baseline analysis needs at least 16 unique tables and 9 repeat tables, plus 16 unique listings and 5 repeat listings. Figures depend on the study. Multiple phases, periods or parts multiply the repeat tables.
Phase 1, single part: 50-100 TLFs (25 unique tables, 20 repeat tables, 20 unique listings, 10 repeat listings, 5 unique figures, 3 repeat figures).
Phase 2: 80-150 TLFs (30 unique tables, 30 repeat tables, 30 unique listings, 10 repeat listings, 10 unique figures, 5 repeat figures).
Phase 3: 120-200 TLFs (35 unique tables, 50 repeat tables, 40 unique listings, 15 repeat listings, 15 unique figures, 10 repeat figures).`
