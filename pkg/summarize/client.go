// Package summarize wraps the Anthropic API for listing-report generation.
// Callers hand it a document and a requested model id; unrecognized models
// fall back to the configured default rather than rejecting the request.
package summarize

import (
	"context"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/doorstep-labs/doorstep/internal/faults"
)

// Client defines the summarization operation.
type Client interface {
	// Summarize produces free text for a document. Slow models are
	// expected; the call is bounded by the configured wall-clock timeout.
	Summarize(ctx context.Context, document, modelID string) (string, error)
}

// Config controls model selection and the hard call timeout.
type Config struct {
	APIKey        string
	DefaultModel  string
	AllowedModels []string
	MaxTokens     int64
	Timeout       time.Duration
}

type client struct {
	cfg     Config
	sdk     sdk.Client
	allowed map[string]bool
}

// New creates a summarizer backed by the official SDK. Extra request
// options (custom base URL) are for tests.
func New(cfg Config, opts ...option.RequestOption) Client {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Minute
	}
	allowed := make(map[string]bool, len(cfg.AllowedModels))
	for _, m := range cfg.AllowedModels {
		allowed[m] = true
	}
	sdkOpts := append([]option.RequestOption{option.WithAPIKey(cfg.APIKey)}, opts...)
	return &client{
		cfg:     cfg,
		sdk:     sdk.NewClient(sdkOpts...),
		allowed: allowed,
	}
}

// pickModel returns the requested model when allow-listed, otherwise the
// configured default.
func (c *client) pickModel(modelID string) string {
	if modelID != "" && c.allowed[modelID] {
		return modelID
	}
	if modelID != "" {
		zap.L().Debug("summarize: unrecognized model, using default",
			zap.String("requested", modelID),
			zap.String("default", c.cfg.DefaultModel),
		)
	}
	return c.cfg.DefaultModel
}

func (c *client) Summarize(ctx context.Context, document, modelID string) (string, error) {
	if c.cfg.APIKey == "" {
		return "", eris.Wrap(faults.ErrNoCredentials, "summarize")
	}
	if strings.TrimSpace(document) == "" {
		return "", eris.New("summarize: empty document")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	model := c.pickModel(modelID)
	msg, err := c.sdk.Messages.New(callCtx, sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: c.cfg.MaxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(document)),
		},
	})
	if err != nil {
		if callCtx.Err() != nil && ctx.Err() == nil {
			return "", &faults.TimeoutError{Provider: "summarize", Op: model, Err: err}
		}
		return "", eris.Wrap(err, "summarize: create message")
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", &faults.MalformedError{
			Provider: "summarize",
			Err:      eris.New("response contained no text blocks"),
		}
	}
	return text, nil
}
