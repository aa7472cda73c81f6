package derive

import "math"

// formula derives one field from others in the same patch.
type formula struct {
	field string
	eval  func(p Patch) Value
}

// num reads an operand through ToNumber; ok is false for Unknown.
func num(g Getter, field string) (float64, bool) {
	return g.Get(field).ToNumber().Float()
}

func nums(g Getter, fields ...string) ([]float64, bool) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, ok := num(g, f)
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

var (
	totalDuration = formula{FieldTotalDur, func(p Patch) Value {
		v, ok := nums(p, FieldEnrollDur, FieldSubjDur)
		if !ok {
			return Unknown()
		}
		return Number(math.Max(v[0]+v[1], math.Max(v[0], v[1])))
	}}

	screenedSubjects = formula{FieldNumScreenedSubj, func(p Patch) Value {
		v, ok := nums(p, FieldNumSubj, FieldScreenFailureRate)
		if !ok || v[1] == 1 {
			return Unknown()
		}
		return Number(math.RoundToEven(v[0] / (1 - v[1])))
	}}

	screenFailures = formula{FieldNumScreenFail, func(p Patch) Value {
		v, ok := nums(p, FieldScreenFailureRate, FieldNumScreenedSubj)
		if !ok {
			return Unknown()
		}
		return Number(math.RoundToEven(v[0] * v[1]))
	}}

	completedSubjects = formula{FieldNumComplete, func(p Patch) Value {
		v, ok := nums(p, FieldNumSubj, FieldDropoutRate)
		if !ok {
			return Unknown()
		}
		return Number(math.RoundToEven(v[0] * (1 - v[1])))
	}}

	withdrawnSubjects = formula{FieldNumWithdrawn, func(p Patch) Value {
		v, ok := nums(p, FieldDropoutRate, FieldNumSubj)
		if !ok {
			return Unknown()
		}
		return Number(math.RoundToEven(v[0] * v[1]))
	}}

	visitCount = formula{FieldNumVisits, func(p Patch) Value {
		sd, ok := num(p, FieldSubjDur)
		if !ok {
			return Unknown()
		}
		return Number(2*sd + 2)
	}}

	unscheduledVisits = formula{FieldAvgUnscheduledVisits, func(p Patch) Value {
		visits, ok := num(p, FieldNumVisits)
		if !ok {
			return Unknown()
		}
		return Number(visits / 4)
	}}

	crfPagesComplete = formula{FieldCRFPagesComplete, func(p Patch) Value {
		v, ok := nums(p, FieldNumVisits, FieldCRFPagesPerVisit)
		if !ok {
			return Unknown()
		}
		return Number(math.Trunc(v[0] * v[1]))
	}}

	crfPagesWithdrawn = formula{FieldCRFPagesWithdrawn, func(p Patch) Value {
		v, ok := nums(p, FieldCRFWithdrawnMultiplier, FieldCRFPagesComplete)
		if !ok {
			return Unknown()
		}
		return Number(math.Trunc(v[0] * v[1]))
	}}

	crfPagesTotal = formula{FieldCRFPagesTotal, func(p Patch) Value {
		v, ok := nums(p,
			FieldNumScreenFail, FieldCRFPagesScreenFail,
			FieldNumComplete, FieldCRFPagesComplete, FieldAvgUnscheduledVisits, FieldCRFPagesPerVisit,
			FieldNumWithdrawn, FieldCRFPagesWithdrawn,
		)
		if !ok {
			return Unknown()
		}
		total := v[0]*v[1] + v[2]*(v[3]+v[4]*v[5]) + v[6]*v[7]
		return Number(math.Trunc(total))
	}}

	manualQueriesTotal = formula{FieldManualQueriesTotal, func(p Patch) Value {
		v, ok := nums(p,
			FieldNumComplete, FieldManualQueriesComplete,
			FieldNumWithdrawn, FieldManualQueriesWithdrawn,
		)
		if !ok {
			return Unknown()
		}
		return Number(math.Trunc(v[0]*v[1] + v[2]*v[3]))
	}}

	autoQueriesTotal = formula{FieldAutoQueriesTotal, func(p Patch) Value {
		v, ok := nums(p,
			FieldNumScreenFail, FieldAutoQueriesScreenFail,
			FieldNumComplete, FieldAutoQueriesComplete,
			FieldNumWithdrawn, FieldAutoQueriesWithdrawn,
		)
		if !ok {
			return Unknown()
		}
		return Number(math.Trunc(v[0]*v[1] + v[2]*v[3] + v[4]*v[5]))
	}}
)

// tlfFinalCopies mirror the estimated TLF counts into the final-analysis set.
func tlfFinalCopies() []formula {
	out := make([]formula, 0, len(tlfKinds))
	for _, kind := range tlfKinds {
		src := tlfField("tlf", kind)
		out = append(out, formula{tlfField("tlf_final", kind), func(p Patch) Value {
			return p.Get(src).ToNumber()
		}})
	}
	return out
}

// Formula lists per stage, in dependency order.
var stageFormulas = map[Stage][]formula{
	StageCoreStudy: append([]formula{totalDuration}, tlfFinalCopies()...),
	StageDataManagement: {
		totalDuration,
		screenedSubjects, screenFailures, completedSubjects, withdrawnSubjects,
		visitCount, unscheduledVisits,
		crfPagesComplete, crfPagesWithdrawn, crfPagesTotal,
		manualQueriesTotal, autoQueriesTotal,
	},
	StageProjectManagement: {totalDuration},
	StageConform:           {totalDuration},
}

// ApplyFormulas fills the stage's derived fields that are still Unknown in p.
// Every formula field ends up present in p, Unknown when an operand is.
// It returns the fields it wrote.
func ApplyFormulas(stage Stage, p Patch) []string {
	var wrote []string
	for _, f := range stageFormulas[stage] {
		if !p.Get(f.field).IsUnknown() {
			continue
		}
		p[f.field] = f.eval(p)
		wrote = append(wrote, f.field)
	}
	return wrote
}

// Refresh multipliers per month of subject participation.
const (
	sdtmRefreshPerMonth     = 1.5
	adamRefreshPerMonth     = 3
	tlfFinalRefreshPerMonth = 1
)

func refreshFromDuration(g Getter, perMonth float64) Value {
	sd, ok := num(g, FieldSubjDur)
	if !ok {
		return Unknown()
	}
	return Number(sd * perMonth)
}

func dsurYears(g Getter) Value {
	td, ok := num(g, FieldTotalDur)
	if !ok {
		return Unknown()
	}
	return Number(math.Ceil(td / 12))
}
