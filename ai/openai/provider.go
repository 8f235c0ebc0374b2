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


package openai

import (
	"log/slog"

	"github.com/poiesic/plansight/ai"
)

// Provider serves embeddings and chat generation from OpenAI-compatible
// endpoints. The two may live on different hosts, such as a local embedding
// server next to a hosted chat model.
type Provider struct {
	embedder  *Embedder
	generator *Generator
	logger    *slog.Logger
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithLogger sets the logger the provider and its services write to.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) ProviderOption {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewProvider connects the embedding and generation clients described by config.
func NewProvider(config *ai.Config, opts ...ProviderOption) (ai.AIProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	p := &Provider{logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}

	var err error
	if p.embedder, err = newEmbedder(config); err != nil {
		return nil, err
	}
	if p.generator, err = newGenerator(config); err != nil {
		return nil, err
	}
	p.embedder.logger = p.logger.With("component", "openai-embedder", "model", config.EmbeddingModel)
	p.generator.logger = p.logger.With("component", "openai-generator")
	p.logger = p.logger.With("component", "openai-provider")

	p.logger.Debug("connected", "embedding_host", config.EmbeddingHost, "generation_host", config.GenerationHost)
	return p, nil
}

func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

func (p *Provider) Generator() ai.Generator {
	return p.generator
}

// Close is a no-op; the HTTP clients hold no resources.
func (p *Provider) Close() error {
	p.logger.Debug("closing")
	return nil
}
