package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"trial-estimator/internal/bootstrap"
	"trial-estimator/internal/derive"
	"trial-estimator/internal/export"
	"trial-estimator/internal/extraction"
	"trial-estimator/internal/llm"
)

type runOptions struct {
	Stages       []string
	Docs         []string
	RefreshDocs  []string
	DMCDocs      []string
	Refresh      bool
	DMC          bool
	RecordPath   string
	Sets         []string
	WorkbookOut  string
	WorkOrderOut string
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Derive estimates from local documents",
	Long: `Runs one estimation pass against local files.

With --record the record is loaded before the run and saved after it, so a
later call can refine the same study with --refresh or --dmc alone, or apply
manual edits with --set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := bootstrap.NewLLM(cfg)
		if err != nil {
			return err
		}
		assumptions := derive.Assumptions{
			ScreenFailureRate: cfg.ScreenFailureRate,
			DropoutRate:       cfg.DropoutRate,
			AssumedEnrollment: cfg.AssumedEnrollment,
		}
		ctx := cmd.Context()
		if cfg.ExtractionTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.ExtractionTimeout)
			defer cancel()
		}
		return runEstimate(ctx, client, assumptions, runOpts, templates{
			Workbook:  cfg.TemplatePath,
			WorkOrder: cfg.WorkOrderTemplatePath,
		}, cmd.OutOrStdout())
	},
}

func init() {
	f := runCmd.Flags()
	f.StringSliceVar(&runOpts.Stages, "stage", nil, "stage to estimate (repeatable): conform, biostats, core-study, data-management, project-management")
	f.StringSliceVar(&runOpts.Docs, "docs", nil, "study document (PDF or DOCX, repeatable)")
	f.StringSliceVar(&runOpts.RefreshDocs, "refresh-docs", nil, "refresh sub-step document (repeatable)")
	f.StringSliceVar(&runOpts.DMCDocs, "dmc-docs", nil, "DMC sub-step document (repeatable)")
	f.BoolVar(&runOpts.Refresh, "refresh", false, "calculate the refresh sub-step")
	f.BoolVar(&runOpts.DMC, "dmc", false, "calculate the DMC sub-step")
	f.StringVar(&runOpts.RecordPath, "record", "", "JSON file holding the study record between runs")
	f.StringArrayVar(&runOpts.Sets, "set", nil, "manual edit key=value applied before the run (repeatable)")
	f.StringVar(&runOpts.WorkbookOut, "workbook", "", "write the populated budget workbook to this path")
	f.StringVar(&runOpts.WorkOrderOut, "work-order", "", "write the populated work order to this path")
	_ = runCmd.MarkFlagRequired("stage")
	rootCmd.AddCommand(runCmd)
}

type templates struct {
	Workbook  string
	WorkOrder string
}

type runSummary struct {
	Mode     string         `json:"mode,omitempty"`
	Stages   []derive.Stage `json:"stages"`
	SubSteps []string       `json:"subSteps,omitempty"`
	Changed  []string       `json:"changed,omitempty"`
	Edited   []string       `json:"edited,omitempty"`
	Files    []string       `json:"files,omitempty"`
	Record   map[string]any `json:"record"`
}

func applySets(rec *derive.Record, edits map[string]any, summary *runSummary) error {
	patch, err := rec.ApplyManual(edits)
	if err != nil {
		return err
	}
	summary.Edited = summary.Edited[:0]
	for k := range patch {
		summary.Edited = append(summary.Edited, k)
	}
	sort.Strings(summary.Edited)
	return nil
}

func runEstimate(ctx context.Context, client llm.Client, assumptions derive.Assumptions, opts runOptions, tmpl templates, out io.Writer) error {
	stages, err := derive.ParseStages(opts.Stages)
	if err != nil {
		return err
	}
	rec, err := loadRecord(opts.RecordPath)
	if err != nil {
		return err
	}

	summary := runSummary{Stages: derive.OrderStages(stages)}

	var edits map[string]any
	if len(opts.Sets) > 0 {
		if edits, err = parseSets(opts.Sets); err != nil {
			return err
		}
		if err := applySets(rec, edits, &summary); err != nil {
			return err
		}
	}

	req, err := buildRequest(rec, stages, opts)
	if err != nil {
		return err
	}

	var runErr error
	if req != nil {
		summary.Mode = req.Mode.String()
		engine := derive.NewEngine(extraction.New(llm.WithRetry(client, "cli", "")), assumptions)
		res, err := engine.Run(ctx, rec, *req)
		summary.SubSteps = res.SubSteps
		summary.Changed = res.Changed
		runErr = err
		// A first run starts from an empty record, so edits go on top of it.
		if req.Mode == derive.ModeFirstRun && len(edits) > 0 {
			if err := applySets(rec, edits, &summary); err != nil {
				return err
			}
		}
	} else if len(opts.Sets) == 0 {
		return derive.ErrNothingToRun
	}

	// Whatever committed before a failure is kept, matching the API.
	if err := saveRecord(opts.RecordPath, rec); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}

	values := rec.Sanitized()
	if opts.WorkbookOut != "" {
		if tmpl.Workbook == "" {
			return export.ErrTemplateNotConfigured
		}
		if _, err := export.PopulateWorkbook(values, tmpl.Workbook, opts.WorkbookOut, derive.Sheets(stages)); err != nil {
			return err
		}
		summary.Files = append(summary.Files, opts.WorkbookOut)
	}
	if opts.WorkOrderOut != "" {
		if tmpl.WorkOrder == "" {
			return export.ErrTemplateNotConfigured
		}
		if _, err := export.PopulateWorkOrder(values, tmpl.WorkOrder, opts.WorkOrderOut); err != nil {
			return err
		}
		summary.Files = append(summary.Files, opts.WorkOrderOut)
	}

	summary.Record = values
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

// buildRequest picks the run mode the same way job submission does. It
// returns nil when there is nothing to derive.
func buildRequest(rec *derive.Record, stages []derive.Stage, opts runOptions) (*derive.Request, error) {
	docs, err := readDocuments(opts.Docs)
	if err != nil {
		return nil, err
	}
	req := derive.Request{Stages: stages, Documents: docs}
	if opts.Refresh {
		if req.Refresh.Documents, err = readDocuments(opts.RefreshDocs); err != nil {
			return nil, err
		}
		req.Refresh.Enabled = true
	}
	if opts.DMC {
		if req.DMC.Documents, err = readDocuments(opts.DMCDocs); err != nil {
			return nil, err
		}
		req.DMC.Enabled = true
	}

	switch {
	case len(docs) > 0 && rec.BaseDone():
		req.Mode = derive.ModeRebase
	case len(docs) > 0:
		req.Mode = derive.ModeFirstRun
	case opts.Refresh || opts.DMC:
		req.Mode = derive.ModeRefine
	default:
		return nil, nil
	}
	return &req, nil
}

func readDocuments(paths []string) ([]derive.Document, error) {
	out := make([]derive.Document, 0, len(paths))
	for _, p := range paths {
		format, err := derive.FormatFromName(p)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, eris.Wrapf(err, "read %s", p)
		}
		out = append(out, derive.Document{Name: filepath.Base(p), Format: format, Bytes: data})
	}
	return out, nil
}

// parseSets decodes key=value pairs. Values are YAML scalars so numbers and
// booleans keep their type; an empty value or ~ clears the field.
func parseSets(pairs []string) (map[string]any, error) {
	edits := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q: want key=value", pair)
		}
		var v any
		if strings.TrimSpace(raw) != "" {
			if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
				v = raw
			}
		}
		edits[key] = v
	}
	return edits, nil
}

func loadRecord(path string) (*derive.Record, error) {
	if path == "" {
		return derive.NewRecord(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return derive.NewRecord(), nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "read record")
	}
	rec := derive.NewRecord()
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, eris.Wrap(err, "decode record")
	}
	return rec, nil
}

func saveRecord(path string, rec *derive.Record) error {
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return eris.Wrap(err, "encode record")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrap(err, "write record")
	}
	return nil
}
