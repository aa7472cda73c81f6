package derive

import "math"

// SubStepRequest enables an optional core-study enrichment. Without
// documents the formula branch runs.
type SubStepRequest struct {
	Enabled   bool
	Documents []Document
}

// HasDocuments reports whether extraction should be attempted.
func (s SubStepRequest) HasDocuments() bool { return len(s.Documents) > 0 }

// DMC and interim-analysis TLF subsets as shares of the final counts.
const (
	dmcShare = 0.6
	iaShare  = 0.75

	dsurReportTablesFixed   = 10
	dsurReportDatasetsFixed = 7

	defaultDMCMeetingMonths = 6
)

// RefreshPatch computes the three full-refresh counts. extracted is nil when
// no documents were supplied; Unknown extracted values fall back to the
// per-month rule.
func RefreshPatch(g Getter, extracted Patch) Patch {
	pick := func(field string, perMonth float64) Value {
		if v := extracted.Get(field).ToNumber(); !v.IsUnknown() {
			return v
		}
		return refreshFromDuration(g, perMonth)
	}
	return Patch{
		FieldSDTMFR:     pick(FieldSDTMFR, sdtmRefreshPerMonth),
		FieldADaMFR:     pick(FieldADaMFR, adamRefreshPerMonth),
		FieldTLFFinalFR: pick(FieldTLFFinalFR, tlfFinalRefreshPerMonth),
	}
}

// DMCPatch computes the DMC and interim-analysis TLF subsets, the DSUR
// constants and the DMC meeting count. extracted is nil when no documents
// were supplied.
func DMCPatch(g Getter, extracted Patch) Patch {
	p := Patch{}
	for _, kind := range tlfKinds {
		final := g.Get(tlfField("tlf_final", kind))
		p[tlfField("tlf_dmc", kind)] = scaled(final, dmcShare)
		p[tlfField("tlf_ia", kind)] = scaled(final, iaShare)
	}
	p[FieldDSURReportTables] = Int(dsurReportTablesFixed)
	p[FieldDSURReportDatasets] = Int(dsurReportDatasetsFixed)
	p[FieldDSURYears] = dsurYears(g)

	meetings := dmcMeetings(g, extracted)
	p[FieldNumDMCMeet] = meetings
	p[FieldSDTMDMCFR] = meetings
	p[FieldADaMDMCFR] = meetings
	p[FieldTLFDMCFR] = meetings
	return p
}

func scaled(v Value, share float64) Value {
	f, ok := v.ToNumber().Float()
	if !ok {
		return Unknown()
	}
	return Number(math.Floor(f * share))
}

func dmcMeetings(g Getter, extracted Patch) Value {
	if reported, ok := extracted.Get(FieldNumDMCMeet).ToNumber().Float(); ok {
		return Number(math.Trunc(reported))
	}
	sd, ok := num(g, FieldSubjDur)
	if !ok {
		return Unknown()
	}
	freq, ok := extracted.Get(FieldDMCMeetFreq).ToNumber().Float()
	if !ok || freq == 0 {
		freq = defaultDMCMeetingMonths
	}
	return Number(math.Ceil(sd/freq) + 1)
}
