package anthropic

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"

	"trial-estimator/internal/extract"
	"trial-estimator/internal/llm"
	"trial-estimator/internal/shared/telemetry"
)

const mimePDF = "application/pdf"

type messageCreator interface {
	New(ctx context.Context, params sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Client implements llm.Client with the Messages API. PDFs are sent as
// native document blocks; other formats are converted to plain text.
type Client struct {
	messages messageCreator
	model    string
}

func NewClient(apiKey, model string) (*Client, error) {
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("LLM_MODEL is required for Anthropic")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return &Client{messages: &c.Messages, model: model}, nil
}

func (c *Client) Complete(ctx context.Context, in llm.Request) (llm.Response, error) {
	blocks := []sdk.ContentBlockParamUnion{sdk.NewTextBlock(in.Prompt)}
	for _, doc := range in.Documents {
		block, err := documentBlock(ctx, doc)
		if err != nil {
			return llm.Response{}, err
		}
		blocks = append(blocks, block)
	}

	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	params := sdk.MessageNewParams{
		Model:       sdk.Model(c.model),
		MaxTokens:   int64(maxTokens),
		Messages:    []sdk.MessageParam{sdk.NewUserMessage(blocks...)},
		Temperature: sdk.Float(in.Temperature),
	}

	msg, err := c.messages.New(ctx, params)
	if err != nil {
		return llm.Response{}, eris.Wrap(err, "anthropic: create message")
	}

	var text strings.Builder
	for _, b := range msg.Content {
		if b.Type == "text" {
			text.WriteString(b.Text)
		}
	}
	out := llm.Response{
		Text:         strings.TrimSpace(text.String()),
		Model:        string(msg.Model),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	if out.Text == "" {
		return llm.Response{}, eris.New("anthropic: response empty content")
	}
	telemetry.Info("llm.response", map[string]any{
		"provider":      "anthropic",
		"model":         c.model,
		"tag":           in.Tag,
		"input_tokens":  out.InputTokens,
		"output_tokens": out.OutputTokens,
		"stop_reason":   string(msg.StopReason),
	})
	return out, nil
}

func documentBlock(ctx context.Context, doc llm.Document) (sdk.ContentBlockParamUnion, error) {
	var block sdk.ContentBlockParamUnion
	if strings.EqualFold(strings.TrimSpace(doc.MimeType), mimePDF) {
		block = sdk.NewDocumentBlock(sdk.Base64PDFSourceParam{
			Data: base64.StdEncoding.EncodeToString(doc.Data),
		})
	} else {
		text, err := extract.Text(ctx, doc.Name, doc.MimeType, doc.Data)
		if err != nil {
			return block, eris.Wrapf(err, "anthropic: read document %s", doc.Name)
		}
		block = sdk.NewDocumentBlock(sdk.PlainTextSourceParam{Data: text})
	}
	if doc.Name != "" {
		block.OfDocument.Title = sdk.String(doc.Name)
	}
	return block, nil
}

var _ llm.Client = (*Client)(nil)
