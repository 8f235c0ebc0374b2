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


package reembed

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/plansight/ai"
	"github.com/poiesic/plansight/core"
	"github.com/poiesic/plansight/storage"
)

// BatchProcessor embeds batches of chunks and stores their vectors.
type BatchProcessor struct {
	repo           storage.ChunkRepository
	embedder       ai.Embedder
	dimensions     int
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewBatchProcessor creates a new batch processor.
// dimensions is the expected vector length; zero accepts any length.
func NewBatchProcessor(repo storage.ChunkRepository, embedder ai.Embedder, dimensions, maxRetries int, retryBaseDelay time.Duration) *BatchProcessor {
	return &BatchProcessor{
		repo:           repo,
		embedder:       embedder,
		dimensions:     dimensions,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
	}
}

// Process generates embeddings for a batch of chunks of one run and stores them.
// Vectors are normalized to unit length before storage.
func (bp *BatchProcessor) Process(ctx context.Context, runID string, chunks []*core.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	// Extract text content
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}

	// Generate embeddings with retry
	var embeddings [][]float32
	err := RetryWithBackoff(ctx, func() error {
		var err error
		embeddings, err = bp.embedder.EmbedTexts(ctx, texts)
		return err
	}, bp.maxRetries, bp.retryBaseDelay)

	if err != nil {
		return fmt.Errorf("failed to generate embeddings after %d attempts: %w", bp.maxRetries, err)
	}

	if len(embeddings) != len(chunks) {
		return fmt.Errorf("%w: expected %d vectors, got %d", ErrMalformedEmbedding, len(chunks), len(embeddings))
	}

	// Normalize vectors and assign to chunks
	vectors := make(map[string][]float32, len(chunks))
	for i, chunk := range chunks {
		vector, err := PrepareVector(embeddings[i], bp.dimensions)
		if err != nil {
			return fmt.Errorf("chunk %s: %w", chunk.ID, err)
		}
		chunk.Vector = vector
		vectors[chunk.ID] = vector
	}

	if err := bp.repo.UpdateVectors(ctx, runID, vectors); err != nil {
		return fmt.Errorf("failed to update chunks: %w", err)
	}

	return nil
}
