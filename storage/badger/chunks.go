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


package badger

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/plansight/core"
	"github.com/poiesic/plansight/storage"
)

// ChunkRepository implements storage.ChunkRepository for BadgerDB.
type ChunkRepository struct {
	backend *Backend
	seq     *badger.Sequence
}

var _ storage.ChunkRepository = (*ChunkRepository)(nil)

// NewChunkRepository creates a new ChunkRepository.
func NewChunkRepository(backend *Backend) (*ChunkRepository, error) {
	seq, err := backend.GetSequence(chunkSeq)
	if err != nil {
		return nil, err
	}

	return &ChunkRepository{
		backend: backend,
		seq:     seq,
	}, nil
}

// Close releases the chunk sequence.
func (r *ChunkRepository) Close() error {
	return r.seq.Release()
}

// nextSeq returns the next chunk sequence number.
func (r *ChunkRepository) nextSeq() (uint64, error) {
	next, err := r.seq.Next()
	if err != nil {
		return 0, err
	}
	// BadgerDB sequences can return 0 on first call, so we skip it
	if next == 0 {
		return r.seq.Next()
	}
	return next, nil
}

// PutChunks replaces the chunks of a document.
func (r *ChunkRepository) PutChunks(ctx context.Context, runID, documentID string, chunks []*core.Chunk) error {
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		previous, err := readDocumentChunkIDs(tx, runID, documentID)
		if err != nil {
			return err
		}

		keep := make(map[string]bool, len(chunks))
		for _, chunk := range chunks {
			chunk.RunID = runID
			chunk.DocumentID = documentID
			keep[chunk.ID] = true

			existing, err := getJSON[core.Chunk](tx, makeChunkKey(runID, chunk.ID))
			if err != nil {
				return err
			}
			if existing != nil {
				chunk.Seq = existing.Seq
			} else {
				seq, err := r.nextSeq()
				if err != nil {
					return err
				}
				chunk.Seq = seq
			}

			if err := setJSON(tx, makeChunkKey(runID, chunk.ID), chunk); err != nil {
				return err
			}
			if err := tx.Set(makeChunkDocKey(runID, documentID, chunk.Index), []byte(chunk.ID)); err != nil {
				return err
			}
		}

		// Remove chunks left over from a longer previous chunking
		for index, id := range previous {
			if !keep[id] {
				if err := tx.Delete(makeChunkKey(runID, id)); err != nil {
					return err
				}
			}
			if index >= len(chunks) {
				if err := tx.Delete(makeChunkDocKey(runID, documentID, index)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// GetChunks returns a document's chunks ordered by index.
func (r *ChunkRepository) GetChunks(ctx context.Context, runID, documentID string) ([]*core.Chunk, error) {
	var chunks []*core.Chunk
	err := r.backend.View(func(tx *badger.Txn) error {
		ids, err := readDocumentChunkIDs(tx, runID, documentID)
		if err != nil {
			return err
		}
		indexes := make([]int, 0, len(ids))
		for index := range ids {
			indexes = append(indexes, index)
		}
		slices.Sort(indexes)

		for _, index := range indexes {
			chunk, err := getJSON[core.Chunk](tx, makeChunkKey(runID, ids[index]))
			if err != nil {
				return err
			}
			if chunk != nil {
				chunks = append(chunks, chunk)
			}
		}
		return nil
	})
	return chunks, err
}

// ListRunChunks returns every chunk of a run ordered by sequence number.
func (r *ChunkRepository) ListRunChunks(ctx context.Context, runID string) ([]*core.Chunk, error) {
	var chunks []*core.Chunk
	err := r.backend.View(func(tx *badger.Txn) error {
		return scanPrefix(tx, makePartialChunkKey(runID), func(_, val []byte) error {
			chunk, err := storage.Unmarshal[core.Chunk](val)
			if err != nil {
				return err
			}
			chunks = append(chunks, chunk)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(chunks, func(a, b *core.Chunk) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
	return chunks, nil
}

// UpdateVectors sets the vectors of existing chunks.
func (r *ChunkRepository) UpdateVectors(ctx context.Context, runID string, vectors map[string][]float32) error {
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		for id, vector := range vectors {
			key := makeChunkKey(runID, id)
			chunk, err := getJSON[core.Chunk](tx, key)
			if err != nil {
				return err
			}
			if chunk == nil {
				return fmt.Errorf("%w: chunk %s in run %s", storage.ErrNotFound, id, runID)
			}
			chunk.Vector = vector
			if err := setJSON(tx, key, chunk); err != nil {
				return err
			}
		}
		return nil
	})
}

// FindSimilar scans the run's chunks and ranks them by cosine similarity.
func (r *ChunkRepository) FindSimilar(ctx context.Context, runID string, vector []float32, minSimilarity float32, limit int) ([]core.ChunkMatch, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", storage.ErrInvalidQuery, limit)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", storage.ErrInvalidQuery)
	}

	results := []core.ChunkMatch{}
	err := r.backend.View(func(tx *badger.Txn) error {
		return scanPrefix(tx, makePartialChunkKey(runID), func(_, val []byte) error {
			chunk, err := storage.Unmarshal[core.Chunk](val)
			if err != nil {
				return err
			}

			// Skip chunks without embeddings
			if len(chunk.Vector) == 0 {
				return nil
			}
			if len(chunk.Vector) != len(vector) {
				return fmt.Errorf("%w: query has %d dimensions, chunk %s has %d",
					storage.ErrDimensionMismatch, len(vector), chunk.ID, len(chunk.Vector))
			}

			similarity := cosineSimilarity(vector, chunk.Vector)
			if similarity >= minSimilarity {
				results = append(results, core.MatchFromChunk(chunk, similarity))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(results, core.CompareMatches)

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// CountChunks returns the number of chunks stored for a run.
func (r *ChunkRepository) CountChunks(ctx context.Context, runID string) (int, error) {
	count := 0
	err := r.backend.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialChunkKey(runID)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// readDocumentChunkIDs returns the chunk IDs of a document keyed by index.
func readDocumentChunkIDs(tx *badger.Txn, runID, documentID string) (map[int]string, error) {
	prefix := makePartialChunkDocKey(runID, documentID)
	ids := make(map[int]string)
	err := scanPrefix(tx, prefix, func(key, val []byte) error {
		index, err := strconv.Atoi(string(key[len(prefix):]))
		if err != nil {
			return fmt.Errorf("%w: malformed chunk index key %q", storage.ErrSerializationFailed, key)
		}
		ids[index] = string(val)
		return nil
	})
	return ids, err
}

// dotProduct calculates the dot product of two vectors.
func dotProduct(a, b []float32) float32 {
	var sum float32
	minLen := min(len(a), len(b))
	for i := 0; i < minLen; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// cosineSimilarity returns the cosine of the angle between a and b,
// or 0 when either vector has zero magnitude.
func cosineSimilarity(a, b []float32) float32 {
	na := math.Sqrt(float64(dotProduct(a, a)))
	nb := math.Sqrt(float64(dotProduct(b, b)))
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(float64(dotProduct(a, b)) / (na * nb))
}
