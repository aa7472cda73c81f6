package extraction

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"trial-estimator/internal/derive"
	"trial-estimator/internal/llm"
	"trial-estimator/internal/shared/telemetry"
)

const previewLimit = 300

// Extractor implements derive.Extractor on top of an llm.Client.
type Extractor struct {
	client      llm.Client
	chain       ParseChain
	maxTokens   int
	temperature float64
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithParseChain replaces DefaultParseChain.
func WithParseChain(c ParseChain) Option {
	return func(e *Extractor) { e.chain = c }
}

// WithSampling overrides the token limit and temperature.
func WithSampling(maxTokens int, temperature float64) Option {
	return func(e *Extractor) {
		e.maxTokens = maxTokens
		e.temperature = temperature
	}
}

func New(client llm.Client, opts ...Option) *Extractor {
	e := &Extractor{
		client:      client,
		chain:       DefaultParseChain,
		maxTokens:   llm.DefaultMaxTokens,
		temperature: llm.DefaultTemperature,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract asks the provider for the spec's fields. Keys outside the spec are
// dropped; values are returned as decoded and left to the caller to normalize.
func (e *Extractor) Extract(ctx context.Context, docs []derive.Document, spec derive.FieldSpec) (derive.Patch, error) {
	if len(docs) == 0 {
		return nil, derive.ErrNoDocuments
	}
	req := llm.Request{
		Prompt:      BuildPrompt(spec),
		Documents:   toLLMDocuments(docs),
		MaxTokens:   e.maxTokens,
		Temperature: e.temperature,
		Tag:         spec.Name,
	}
	resp, err := e.client.Complete(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, eris.Wrapf(derive.ErrExtractionFailure, "%s: %v", spec.Name, err)
	}

	raw, err := e.chain.Parse(resp.Text)
	if err != nil {
		telemetry.Warn("extraction.unparsed", map[string]any{
			"spec":    spec.Name,
			"preview": preview(resp.Text),
		})
		return nil, err
	}

	wanted := make(map[string]bool, len(spec.Fields))
	for _, f := range spec.Fields {
		wanted[f.Name] = true
	}
	out := make(derive.Patch, len(spec.Fields))
	dropped := 0
	for k, v := range raw {
		key := strings.TrimSpace(k)
		if !wanted[key] {
			dropped++
			continue
		}
		out[key] = derive.FromAny(v)
	}
	telemetry.Info("extraction.parsed", map[string]any{
		"spec":     spec.Name,
		"fields":   len(out),
		"dropped":  dropped,
		"model":    resp.Model,
		"docCount": len(docs),
	})
	return out, nil
}

// BuildPrompt renders the instruction text for a field spec.
func BuildPrompt(spec derive.FieldSpec) string {
	var b strings.Builder
	b.WriteString(spec.Role)
	b.WriteString("\nYou will receive a study protocol along with other supporting document(s), and a list of variables with brief descriptions that you need to determine from the documents.\n")
	b.WriteString("Below are the variables:\n\nto_extract = {\n")
	for _, f := range spec.Fields {
		b.WriteString("    ")
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Description)
		b.WriteString(",\n")
	}
	b.WriteString("}\n\nOutput the quantities in the format of a Python dictionary with keys written exactly as above.")
	if spec.Numeric {
		b.WriteString(" If a quantity cannot be found, write its value as -1. Make sure you enter an integer only for each entry.")
		b.WriteString("\nIt is imperative that the durations are in months. Make sure to convert them to months.")
	}
	if spec.Guidance != "" {
		b.WriteString("\nThese quantities should be estimated using the following non-comprehensive general guidelines:\n\n")
		b.WriteString(spec.Guidance)
	}
	return b.String()
}

func toLLMDocuments(docs []derive.Document) []llm.Document {
	out := make([]llm.Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, llm.Document{
			Name:     d.Name,
			MimeType: d.Format.MimeType(),
			Data:     d.Bytes,
		})
	}
	return out
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= previewLimit {
		return s
	}
	return s[:previewLimit] + "..."
}

var _ derive.Extractor = (*Extractor)(nil)
