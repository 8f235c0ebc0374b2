// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package vertex implements ai.Generator on Gemini models served by Vertex AI.
//
// Attachments with a URI are passed as file references (gs:// objects are read
// by Vertex directly); attachments with inline data are sent as blobs.
package vertex

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/poiesic/plansight/ai"
	"github.com/poiesic/plansight/core"
)

var (
	// ErrProjectRequired is returned when no Google Cloud project is configured.
	ErrProjectRequired = errors.New("vertex: project and location are required")
)

// Generator implements ai.Generator using the Vertex AI Gemini API.
type Generator struct {
	client       *genai.Client
	defaultModel string
	logger       *slog.Logger
}

// NewGenerator connects to Vertex AI in the given project and location.
// defaultModel is used when a request does not name a model.
func NewGenerator(ctx context.Context, project, location, defaultModel string) (*Generator, error) {
	if project == "" || location == "" {
		return nil, core.ConfigurationError("%v", ErrProjectRequired)
	}

	client, err := genai.NewClient(ctx, project, location)
	if err != nil {
		return nil, core.ExternalServiceError("vertex", err)
	}

	return &Generator{
		client:       client,
		defaultModel: defaultModel,
		logger:       slog.Default().With("component", "vertex-generator"),
	}, nil
}

// Generate runs the request through the primary model and its fallbacks.
func (g *Generator) Generate(ctx context.Context, req ai.GenerateRequest) (*ai.GenerateResponse, error) {
	parts := buildParts(req)

	return ai.GenerateWithFallback(ctx, g.logger, req, g.defaultModel, func(ctx context.Context, name string) (string, error) {
		model := g.client.GenerativeModel(name)
		configureModel(model, req)

		resp, err := model.GenerateContent(ctx, parts...)
		if err != nil {
			return "", err
		}
		return responseText(resp), nil
	})
}

// AcceptsAttachment reports whether Gemini takes mimeType inline.
func (g *Generator) AcceptsAttachment(mimeType string) bool {
	return mimeType == ai.MIMETypePDF || strings.HasPrefix(mimeType, "image/")
}

// Close releases the underlying client.
func (g *Generator) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func configureModel(model *genai.GenerativeModel, req ai.GenerateRequest) {
	if req.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}
	model.GenerationConfig.Temperature = genai.Ptr(float32(req.Temperature))
	if req.MaxTokens > 0 {
		model.GenerationConfig.MaxOutputTokens = genai.Ptr(int32(req.MaxTokens))
	}
	if req.JSON {
		model.GenerationConfig.ResponseMIMEType = "application/json"
	}
}

func buildParts(req ai.GenerateRequest) []genai.Part {
	parts := make([]genai.Part, 0, len(req.Attachments)+1)
	for _, att := range req.Attachments {
		switch {
		case len(att.Data) > 0:
			parts = append(parts, genai.Blob{MIMEType: att.MIMEType, Data: att.Data})
		case att.URI != "":
			parts = append(parts, genai.FileData{MIMEType: att.MIMEType, FileURI: att.URI})
		}
	}
	return append(parts, genai.Text(req.Prompt))
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String()
}
