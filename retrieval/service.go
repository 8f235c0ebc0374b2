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


package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/plansight/ai"
	"github.com/poiesic/plansight/config"
	"github.com/poiesic/plansight/core"
	"github.com/poiesic/plansight/reembed"
	"github.com/poiesic/plansight/storage"
)

// Query is a similarity search over one index run.
// Zero TopK or Threshold select the configured defaults.
type Query struct {
	Text       string
	IndexRunID string
	TopK       int
	Threshold  float32
}

// Service ranks a run's chunks against a query.
type Service struct {
	chunks   storage.ChunkRepository
	embedder ai.Embedder
	settings config.RetrievalSettings
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// NewService creates a retrieval service using the given retrieval settings.
func NewService(
	chunks storage.ChunkRepository,
	provider ai.AIProvider,
	settings config.RetrievalSettings,
	opts ...Option,
) (*Service, error) {
	if chunks == nil {
		return nil, ErrChunkRepositoryRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}
	if settings.TopK < 1 || settings.TopK > config.MaxTopK {
		return nil, core.ConfigurationError("retrieval.top_k must be in [1, %d], got %d", config.MaxTopK, settings.TopK)
	}
	if settings.SimilarityThreshold < 0 || settings.SimilarityThreshold > 1 {
		return nil, core.ConfigurationError("retrieval.similarity_threshold must be in [0, 1], got %g", settings.SimilarityThreshold)
	}
	if settings.Dimensions <= 0 {
		return nil, core.ConfigurationError("retrieval.dimensions must be positive")
	}

	s := &Service{
		chunks:   chunks,
		embedder: provider.Embedder(),
		settings: settings,
		logger:   slog.Default(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "retrieval")

	return s, nil
}

// Search returns the run's chunks most similar to q.Text, ranked by score
// descending with ties in insertion order. A query nothing clears returns an
// empty slice.
func (s *Service) Search(ctx context.Context, q Query) ([]core.ChunkMatch, error) {
	return s.SearchWithMonitor(ctx, q, nil)
}

// SearchWithMonitor is Search with callbacks at each stage.
func (s *Service) SearchWithMonitor(ctx context.Context, q Query, monitor Monitor) ([]core.ChunkMatch, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}

	q, err := s.resolve(q)
	if err != nil {
		return nil, err
	}
	monitor.Start(q)

	vector, err := s.embedder.EmbedText(ctx, q.Text)
	if err != nil {
		s.logger.Error("error generating embedding for query", "run", q.IndexRunID, "err", err)
		return nil, core.ExternalServiceError("embedder", err)
	}
	if err := reembed.CheckVector(vector, s.settings.Dimensions); err != nil {
		s.logger.Error("malformed query embedding", "run", q.IndexRunID, "err", err)
		return nil, err
	}
	monitor.AfterQueryEmbedding(len(vector))

	matches, err := s.chunks.FindSimilar(ctx, q.IndexRunID, vector, q.Threshold, q.TopK)
	if err != nil {
		s.logger.Error("error querying for similar chunks", "run", q.IndexRunID, "err", err)
		return nil, core.ExternalServiceError("chunk store", err)
	}
	if matches == nil {
		matches = []core.ChunkMatch{}
	}
	monitor.AfterSimilaritySearch(matches)

	s.logger.Debug("search complete", "run", q.IndexRunID, "top_k", q.TopK,
		"threshold", q.Threshold, "matches", len(matches))
	monitor.Finish(matches)
	return matches, nil
}

// resolve validates q and fills in the configured defaults.
func (s *Service) resolve(q Query) (Query, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return q, fmt.Errorf("%w: query text", core.ErrMissingField)
	}
	if q.IndexRunID == "" {
		return q, fmt.Errorf("%w: index run id", core.ErrMissingField)
	}
	if q.Threshold < 0 || q.Threshold > 1 {
		return q, fmt.Errorf("%w: similarity threshold %g outside [0, 1]", core.ErrValidation, q.Threshold)
	}

	if q.TopK <= 0 {
		q.TopK = s.settings.TopK
	}
	q.TopK = min(q.TopK, config.MaxTopK)
	if q.Threshold == 0 {
		q.Threshold = s.settings.SimilarityThreshold
	}
	return q, nil
}
