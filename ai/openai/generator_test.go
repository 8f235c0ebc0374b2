package openai

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/poiesic/plansight/ai"
	"github.com/poiesic/plansight/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

const unsetTemperature = -1

// recordingModel is an llms.Model that keeps the resolved options and
// messages of every call.
type recordingModel struct {
	options  []llms.CallOptions
	messages [][]llms.MessageContent
	reply    string
}

func (m *recordingModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	// unsetTemperature shows whether a temperature option was applied
	opts := llms.CallOptions{Temperature: unsetTemperature}
	for _, opt := range options {
		opt(&opts)
	}
	m.options = append(m.options, opts)
	m.messages = append(m.messages, messages)
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *recordingModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func newTestGenerator(model llms.Model) *Generator {
	return &Generator{
		llm:          model,
		defaultModel: "gpt-test",
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestBuildMessages(t *testing.T) {
	t.Run("system and prompt", func(t *testing.T) {
		msgs, err := buildMessages(ai.GenerateRequest{System: "be brief", Prompt: "hello"})
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, llms.ChatMessageTypeSystem, msgs[0].Role)
		assert.Equal(t, llms.ChatMessageTypeHuman, msgs[1].Role)
		require.Len(t, msgs[1].Parts, 1)
		assert.Equal(t, llms.TextContent{Text: "hello"}, msgs[1].Parts[0])
	})

	t.Run("no system message", func(t *testing.T) {
		msgs, err := buildMessages(ai.GenerateRequest{Prompt: "hello"})
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, llms.ChatMessageTypeHuman, msgs[0].Role)
	})

	t.Run("attachments precede the prompt", func(t *testing.T) {
		msgs, err := buildMessages(ai.GenerateRequest{
			Prompt: "describe",
			Attachments: []ai.Attachment{
				{MIMEType: ai.MIMETypePNG, Data: []byte{1, 2, 3}},
				{MIMEType: ai.MIMETypePNG, URI: "https://example.com/p1.png"},
				{MIMEType: ai.MIMETypePNG},
			},
		})
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		parts := msgs[0].Parts
		require.Len(t, parts, 3, "attachments without data or uri are dropped")
		assert.Equal(t, llms.ImageURLContent{URL: "data:image/png;base64,AQID"}, parts[0])
		assert.Equal(t, llms.ImageURLContent{URL: "https://example.com/p1.png"}, parts[1])
		assert.Equal(t, llms.TextContent{Text: "describe"}, parts[2])
	})

	t.Run("pdf pages are rejected", func(t *testing.T) {
		_, err := buildMessages(ai.GenerateRequest{
			Prompt:      "describe",
			Attachments: []ai.Attachment{{MIMEType: ai.MIMETypePDF, Data: []byte("%PDF-1.7")}},
		})
		assert.ErrorIs(t, err, ai.ErrUnsupportedAttachment)
		assert.ErrorIs(t, err, core.ErrValidation)
	})
}

func TestGenerator_AcceptsAttachment(t *testing.T) {
	g := newTestGenerator(&recordingModel{})
	assert.True(t, g.AcceptsAttachment(ai.MIMETypePNG))
	assert.True(t, g.AcceptsAttachment(ai.MIMETypeJPEG))
	assert.False(t, g.AcceptsAttachment(ai.MIMETypePDF))
	assert.False(t, ai.AcceptsAttachment(g, ai.MIMETypePDF))
}

func TestGenerate_PassesOptions(t *testing.T) {
	t.Run("zero temperature is sent", func(t *testing.T) {
		model := &recordingModel{reply: "ok"}
		resp, err := newTestGenerator(model).Generate(context.Background(),
			ai.GenerateRequest{Prompt: "hello", Temperature: 0})
		require.NoError(t, err)
		assert.Equal(t, "gpt-test", resp.Model)

		require.Len(t, model.options, 1)
		assert.Equal(t, "gpt-test", model.options[0].Model)
		assert.Zero(t, model.options[0].Temperature)
	})

	t.Run("configured values reach the model", func(t *testing.T) {
		model := &recordingModel{reply: "{}"}
		_, err := newTestGenerator(model).Generate(context.Background(), ai.GenerateRequest{
			Model:       "gpt-big",
			Prompt:      "plan",
			Temperature: 0.4,
			MaxTokens:   512,
			JSON:        true,
		})
		require.NoError(t, err)

		require.Len(t, model.options, 1)
		opts := model.options[0]
		assert.Equal(t, "gpt-big", opts.Model)
		assert.InDelta(t, 0.4, opts.Temperature, 1e-9)
		assert.Equal(t, 512, opts.MaxTokens)
		assert.True(t, opts.JSONMode)
	})

	t.Run("page images travel as image_url parts", func(t *testing.T) {
		model := &recordingModel{reply: "| Door | Width |"}
		_, err := newTestGenerator(model).Generate(context.Background(), ai.GenerateRequest{
			Prompt:      "describe",
			Attachments: []ai.Attachment{{MIMEType: ai.MIMETypeJPEG, Data: []byte{0xff, 0xd8}}},
		})
		require.NoError(t, err)

		require.Len(t, model.messages, 1)
		parts := model.messages[0][0].Parts
		require.Len(t, parts, 2)
		img, ok := parts[0].(llms.ImageURLContent)
		require.True(t, ok, "got %T", parts[0])
		assert.Equal(t, "data:image/jpeg;base64,/9g=", img.URL)
	})

	t.Run("unsupported attachment never reaches the model", func(t *testing.T) {
		model := &recordingModel{reply: "ok"}
		_, err := newTestGenerator(model).Generate(context.Background(), ai.GenerateRequest{
			Prompt:      "describe",
			Attachments: []ai.Attachment{{MIMEType: ai.MIMETypePDF, Data: []byte("%PDF-1.7")}},
		})
		assert.ErrorIs(t, err, ai.ErrUnsupportedAttachment)
		assert.Empty(t, model.options)
	})
}

func TestNewProviderValidatesConfig(t *testing.T) {
	_, err := NewProvider(&ai.Config{})
	assert.Error(t, err)

	p, err := NewProvider(ai.DefaultConfig())
	require.NoError(t, err)
	assert.NotNil(t, p.Embedder())
	assert.NotNil(t, p.Generator())
	assert.NoError(t, p.Close())
}

func TestNewProviderWithLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	p, err := NewProvider(ai.DefaultConfig(), WithLogger(logger))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "component=openai-provider")

	provider, ok := p.(*Provider)
	require.True(t, ok)
	provider.generator.logger.Debug("generator ready")
	assert.Contains(t, buf.String(), "component=openai-generator")
}
