package llm

import (
	"context"
	"errors"
)

// Client abstracts LLM providers for document extraction.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Document is a file attached to a completion request.
type Document struct {
	Name     string
	MimeType string
	Data     []byte
}

// Request captures one prompt and its attachments.
type Request struct {
	Prompt      string
	Documents   []Document
	MaxTokens   int
	Temperature float64
	// Tag labels the call in logs.
	Tag string
}

// Response is the provider's text reply.
type Response struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Default sampling settings for extraction calls.
const (
	DefaultMaxTokens   = 1000
	DefaultTemperature = 0.3
)

// ErrNotImplemented is returned by the placeholder client.
var ErrNotImplemented = errors.New("LLM not implemented")

// PlaceholderClient is used when no provider is configured.
type PlaceholderClient struct{}

// Complete returns ErrNotImplemented.
func (PlaceholderClient) Complete(ctx context.Context, req Request) (Response, error) {
	_ = ctx
	_ = req
	return Response{}, ErrNotImplemented
}
