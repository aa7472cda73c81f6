package derive

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Extractor returns values for every field of spec found in docs. Fields it
// cannot determine are Unknown.
type Extractor interface {
	Extract(ctx context.Context, docs []Document, spec FieldSpec) (Patch, error)
}

// Mode selects how a run treats the existing record.
type Mode uint8

const (
	// ModeFirstRun discards the record and reseeds stage defaults.
	ModeFirstRun Mode = iota + 1
	// ModeRebase re-runs the base stages and keeps sub-step and manual values.
	ModeRebase
	// ModeRefine applies sub-step patches only.
	ModeRefine
)

func (m Mode) String() string {
	switch m {
	case ModeFirstRun:
		return "first_run"
	case ModeRebase:
		return "rebase"
	case ModeRefine:
		return "refine"
	default:
		return "invalid"
	}
}

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, error) {
	for _, m := range []Mode{ModeFirstRun, ModeRebase, ModeRefine} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// Request describes one unit of derivation work.
type Request struct {
	Mode      Mode
	Stages    []Stage
	Documents []Document
	Refresh   SubStepRequest
	DMC       SubStepRequest
}

// Validate checks a request against the record before anything runs.
func (req Request) Validate(rec *Record) error {
	if err := ValidateDocuments(req.Documents, req.Refresh.Documents, req.DMC.Documents); err != nil {
		return err
	}
	return req.CheckPlan(rec)
}

// CheckPlan is Validate without the document content checks. It lets a
// caller reject a request before the document bytes are at hand.
func (req Request) CheckPlan(rec *Record) error {
	stages := OrderStages(req.Stages)
	subSteps := req.Refresh.Enabled || req.DMC.Enabled
	switch req.Mode {
	case ModeFirstRun, ModeRebase:
		if len(stages) == 0 {
			return ErrNoStages
		}
		if len(req.Documents) == 0 {
			return ErrNoDocuments
		}
		if req.Mode == ModeRebase && !rec.BaseDone() {
			return ErrBaseNotRun
		}
	case ModeRefine:
		if !rec.BaseDone() {
			return ErrBaseNotRun
		}
		if !subSteps {
			return ErrNothingToRun
		}
	default:
		return ErrInvalidMode
	}
	if subSteps && !HasStage(stages, StageCoreStudy) {
		return ErrSubStepStage
	}
	return nil
}

// Result summarizes what a run committed.
type Result struct {
	Stages   []Stage
	SubSteps []string
	Changed  []string
}

type Engine struct {
	extractor   Extractor
	assumptions Assumptions
}

func NewEngine(ex Extractor, a Assumptions) *Engine {
	return &Engine{extractor: ex, assumptions: a}
}

// Run derives the requested stages and sub-steps into rec. Each stage and
// sub-step commits on success, so on error rec holds every layer merged
// before the failure.
func (e *Engine) Run(ctx context.Context, rec *Record, req Request) (Result, error) {
	var res Result
	if err := req.Validate(rec); err != nil {
		return res, err
	}
	stages := OrderStages(req.Stages)
	if req.Mode != ModeRefine {
		if err := e.runBase(ctx, rec, req, stages, &res); err != nil {
			return res, err
		}
	}
	err := e.runSubSteps(ctx, rec, req, &res)
	return res, err
}

func (e *Engine) runBase(ctx context.Context, rec *Record, req Request, stages []Stage, res *Result) error {
	in := &stageInputs{engine: e, docs: req.Documents}
	var held Patch
	if req.Mode == ModeRebase {
		held = rec.Held(LayerManual)
	}
	reset := req.Mode == ModeFirstRun
	committed := Patch{}
	for _, st := range stages {
		defaults, overlay, err := e.stagePatch(ctx, st, in, held)
		if err != nil {
			return fmt.Errorf("stage %s: %w", st, err)
		}
		if reset {
			rec.Reset()
			reset = false
		}
		defaults = keepKnown(committed, defaults)
		overlay = keepKnown(committed, overlay)
		res.Changed = append(res.Changed, rec.Apply(defaults, LayerDefault)...)
		res.Changed = append(res.Changed, rec.Apply(overlay, LayerBase)...)
		committed.Merge(defaults)
		committed.Merge(overlay)
		res.Stages = append(res.Stages, st)
	}
	rec.MarkBaseDone()
	return nil
}

// stagePatch builds a stage's seed values and the extracted and derived
// values laid over them. held values take part in formulas but are not
// returned.
func (e *Engine) stagePatch(ctx context.Context, st Stage, in *stageInputs, held Patch) (Patch, Patch, error) {
	defaults := Defaults(st, e.assumptions)
	extracted, err := in.forStage(ctx, st)
	if err != nil {
		return nil, nil, err
	}
	merged := MergeExtracted(defaults, extracted)
	merged.Merge(held)
	overlay := extracted.Clone()

	if st == StageDataManagement && e.assumptions.AssumedEnrollment > 0 && merged.Get(FieldNumSubj).IsUnknown() {
		merged[FieldNumSubj] = Int(e.assumptions.AssumedEnrollment)
		overlay[FieldNumSubj] = merged[FieldNumSubj]
	}
	for _, f := range ApplyFormulas(st, merged) {
		overlay[f] = merged[f]
	}
	for k := range held {
		delete(overlay, k)
	}
	return defaults, overlay, nil
}

// keepKnown drops Unknown values for keys an earlier stage of the same run
// already set to a known value.
func keepKnown(committed, p Patch) Patch {
	out := make(Patch, len(p))
	for k, v := range p {
		if v.IsUnknown() && !committed.Get(k).IsUnknown() {
			continue
		}
		out[k] = v
	}
	return out
}

func (e *Engine) runSubSteps(ctx context.Context, rec *Record, req Request, res *Result) error {
	var errs []error
	if req.Refresh.Enabled {
		if err := e.runSubStep(ctx, rec, req.Refresh, RefreshSpec, RefreshPatch, res); err != nil {
			errs = append(errs, fmt.Errorf("refresh: %w", err))
		}
	}
	if req.DMC.Enabled {
		if err := e.runSubStep(ctx, rec, req.DMC, DMCSpec, DMCPatch, res); err != nil {
			errs = append(errs, fmt.Errorf("dmc: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) runSubStep(ctx context.Context, rec *Record, sub SubStepRequest, spec FieldSpec, build func(Getter, Patch) Patch, res *Result) error {
	var extracted Patch
	if sub.HasDocuments() {
		p, err := e.extract(ctx, sub.Documents, spec)
		if err != nil {
			return err
		}
		extracted = p
	}
	res.Changed = append(res.Changed, rec.Apply(build(rec, extracted), LayerSubStep)...)
	res.SubSteps = append(res.SubSteps, spec.Name)
	return nil
}

// extract calls the adapter and completes its output to the spec.
func (e *Engine) extract(ctx context.Context, docs []Document, spec FieldSpec) (Patch, error) {
	p, err := e.extractor.Extract(ctx, docs, spec)
	if err != nil {
		if errors.Is(err, ErrExtractionFormat) || errors.Is(err, ErrExtractionFailure) {
			return nil, fmt.Errorf("%s: %w", spec.Name, err)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrExtractionFailure, spec.Name, err)
	}
	out := make(Patch, len(p))
	for k, v := range p {
		out[k] = NormalizeField(k, v)
	}
	return spec.Complete(out), nil
}

// stageInputs shares extraction results between the stages of one run.
type stageInputs struct {
	engine *Engine
	docs   []Document
	study  Patch
}

func (in *stageInputs) forStage(ctx context.Context, st Stage) (Patch, error) {
	if st != StageCoreStudy {
		if in.study == nil {
			p, err := in.fetchStudy(ctx)
			if err != nil {
				return nil, err
			}
			in.study = p
		}
		return in.study.Clone(), nil
	}

	g, gctx := errgroup.WithContext(ctx)
	study := in.study
	var assumed Patch
	if study == nil {
		g.Go(func() error {
			p, err := in.fetchStudy(gctx)
			study = p
			return err
		})
	}
	g.Go(func() error {
		p, err := in.engine.extract(gctx, in.docs, AssumedSpec)
		assumed = p
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	in.study = study
	return MergeExtracted(study, assumed), nil
}

// fetchStudy extracts the protocol parameters and work-order identifiers.
func (in *stageInputs) fetchStudy(ctx context.Context) (Patch, error) {
	g, gctx := errgroup.WithContext(ctx)
	var provided, order Patch
	g.Go(func() error {
		p, err := in.engine.extract(gctx, in.docs, ProvidedSpec)
		provided = p
		return err
	})
	g.Go(func() error {
		p, err := in.engine.extract(gctx, in.docs, WorkOrderSpec)
		order = p
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return MergeExtracted(provided, order), nil
}
