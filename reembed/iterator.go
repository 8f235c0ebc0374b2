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

	"github.com/poiesic/plansight/core"
	"github.com/poiesic/plansight/storage"
)

const (
	// DefaultBatchSize is the default number of chunks to embed in each batch
	DefaultBatchSize = 100
)

// ChunkIterator iterates over the chunks of a run in batches.
type ChunkIterator struct {
	repo      storage.ChunkRepository
	runID     string
	batchSize int
}

// NewChunkIterator creates a new chunk iterator.
// batchSize: number of chunks handed to fn at a time (must be > 0)
func NewChunkIterator(repo storage.ChunkRepository, runID string, batchSize int) *ChunkIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &ChunkIterator{
		repo:      repo,
		runID:     runID,
		batchSize: batchSize,
	}
}

// ForEach iterates over all chunks of the run in insertion order, calling fn
// for each batch. Iteration stops on first error from fn or when all chunks
// are processed. Context cancellation is checked between batches.
func (it *ChunkIterator) ForEach(ctx context.Context, fn func([]*core.Chunk) error) error {
	// Check context before starting
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	chunks, err := it.repo.ListRunChunks(ctx, it.runID)
	if err != nil {
		return err
	}

	for _, batch := range Batches(chunks, it.batchSize) {
		if err := fn(batch); err != nil {
			return err
		}

		// Check context after each batch
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	return nil
}

// Batches splits items into consecutive slices of at most size elements.
func Batches[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var batches [][]T
	for i := 0; i < len(items); i += size {
		end := min(i+size, len(items))
		batches = append(batches, items[i:end])
	}
	return batches
}
