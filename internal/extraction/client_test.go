package extraction

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trial-estimator/internal/derive"
	"trial-estimator/internal/llm"
)

type stubClient struct {
	reply string
	err   error
	got   llm.Request
}

func (s *stubClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	s.got = req
	if s.err != nil {
		return llm.Response{}, s.err
	}
	return llm.Response{Text: s.reply, Model: "stub"}, nil
}

var protocol = []derive.Document{{Name: "protocol.pdf", Format: derive.FormatPDF, Bytes: []byte("%PDF-1.7")}}

func TestExtractReturnsSpecFields(t *testing.T) {
	stub := &stubClient{reply: "```python\n{'sdtm_fr': 4, 'adam_fr': '-1', 'bogus': 9}\n```"}
	ex := New(stub)

	got, err := ex.Extract(context.Background(), protocol, derive.RefreshSpec)
	require.NoError(t, err)

	assert.Equal(t, derive.Int(4), got.Get(derive.FieldSDTMFR))
	assert.True(t, got.Get(derive.FieldADaMFR).IsUnknown())
	_, ok := got["bogus"]
	assert.False(t, ok, "keys outside the spec are dropped")

	assert.Equal(t, "refresh", stub.got.Tag)
	assert.Equal(t, llm.DefaultMaxTokens, stub.got.MaxTokens)
	assert.InDelta(t, llm.DefaultTemperature, stub.got.Temperature, 1e-9)
	require.Len(t, stub.got.Documents, 1)
	assert.Equal(t, "application/pdf", stub.got.Documents[0].MimeType)
}

func TestExtractProviderFailure(t *testing.T) {
	ex := New(&stubClient{err: errors.New("throttled")})

	_, err := ex.Extract(context.Background(), protocol, derive.DMCSpec)
	require.Error(t, err)
	assert.ErrorIs(t, err, derive.ErrExtractionFailure)
	assert.Contains(t, err.Error(), "dmc")
}

func TestExtractFormatFailure(t *testing.T) {
	ex := New(&stubClient{reply: "Sorry, the document does not say."})

	_, err := ex.Extract(context.Background(), protocol, derive.DMCSpec)
	require.Error(t, err)
	assert.ErrorIs(t, err, derive.ErrExtractionFormat)
	assert.NotErrorIs(t, err, derive.ErrExtractionFailure)
}

func TestExtractCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ex := New(&stubClient{err: errors.New("request aborted")})

	_, err := ex.Extract(ctx, protocol, derive.DMCSpec)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtractRequiresDocuments(t *testing.T) {
	_, err := New(&stubClient{}).Extract(context.Background(), nil, derive.ProvidedSpec)
	assert.ErrorIs(t, err, derive.ErrNoDocuments)
}

func TestWithSampling(t *testing.T) {
	stub := &stubClient{reply: "{}"}
	_, err := New(stub, WithSampling(250, 0)).Extract(context.Background(), protocol, derive.WorkOrderSpec)
	require.NoError(t, err)
	assert.Equal(t, 250, stub.got.MaxTokens)
	assert.Zero(t, stub.got.Temperature)
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt(derive.ProvidedSpec)
	assert.True(t, strings.HasPrefix(p, derive.ProvidedSpec.Role))
	assert.Contains(t, p, "num_subj: specified number of enrolled subjects,")
	assert.Contains(t, p, "write its value as -1")

	wo := BuildPrompt(derive.WorkOrderSpec)
	assert.Contains(t, wo, "sponsor: ")
	assert.NotContains(t, wo, "-1", "text fields have no numeric sentinel instruction")

	assumed := BuildPrompt(derive.AssumedSpec)
	assert.Contains(t, assumed, "non-comprehensive general guidelines")
	assert.Contains(t, assumed, "sdtm_sd")
}
