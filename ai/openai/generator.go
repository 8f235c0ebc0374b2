package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/poiesic/plansight/ai"
	"github.com/poiesic/plansight/core"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Generator implements ai.Generator using an OpenAI-compatible chat completion API.
type Generator struct {
	llm          llms.Model
	defaultModel string
	logger       *slog.Logger
}

func newGenerator(config *ai.Config) (*Generator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.GenerationHost),
		openai.WithToken(config.APIKey),
		openai.WithModel(config.GenerationModel),
	)
	if err != nil {
		return nil, core.ConfigurationError("creating generation client: %v", err)
	}

	return &Generator{
		llm:          client,
		defaultModel: config.GenerationModel,
		logger:       slog.Default().With("component", "openai-generator"),
	}, nil
}

// NewGenerator creates a new generator using the provided configuration.
func NewGenerator(config *ai.Config) (ai.Generator, error) {
	return newGenerator(config)
}

// Generate runs the request through the primary model and its fallbacks.
func (g *Generator) Generate(ctx context.Context, req ai.GenerateRequest) (*ai.GenerateResponse, error) {
	messages, err := buildMessages(req)
	if err != nil {
		return nil, err
	}

	return ai.GenerateWithFallback(ctx, g.logger, req, g.defaultModel, func(ctx context.Context, model string) (string, error) {
		g.logger.Debug("calling model", "model", model, "attachments", len(req.Attachments))
		resp, err := g.llm.GenerateContent(ctx, messages, callOptions(req, model)...)
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", ai.ErrEmptyResponse
		}
		return resp.Choices[0].Content, nil
	})
}

// AcceptsAttachment reports whether the chat completions API takes mimeType.
// Attachments travel as image_url parts, so only images qualify.
func (g *Generator) AcceptsAttachment(mimeType string) bool {
	return imageAttachment(mimeType)
}

func imageAttachment(mimeType string) bool {
	switch mimeType {
	case ai.MIMETypePNG, ai.MIMETypeJPEG, "image/gif", "image/webp":
		return true
	}
	return false
}

func callOptions(req ai.GenerateRequest, model string) []llms.CallOption {
	opts := []llms.CallOption{
		llms.WithModel(model),
		llms.WithTemperature(req.Temperature),
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.JSON {
		opts = append(opts, llms.WithJSONMode())
	}
	return opts
}

func buildMessages(req ai.GenerateRequest) ([]llms.MessageContent, error) {
	var messages []llms.MessageContent
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}

	parts := make([]llms.ContentPart, 0, len(req.Attachments)+1)
	for _, att := range req.Attachments {
		if len(att.Data) == 0 && att.URI == "" {
			continue
		}
		if !imageAttachment(att.MIMEType) {
			return nil, fmt.Errorf("%w: %s", ai.ErrUnsupportedAttachment, att.MIMEType)
		}
		url := att.URI
		if len(att.Data) > 0 {
			// binary parts are not part of the chat completions schema
			url = "data:" + att.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(att.Data)
		}
		parts = append(parts, llms.ImageURLPart(url))
	}
	parts = append(parts, llms.TextPart(req.Prompt))

	return append(messages, llms.MessageContent{Role: llms.ChatMessageTypeHuman, Parts: parts}), nil
}

var _ ai.AttachmentFilter = (*Generator)(nil)
