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


package storage

import (
	"context"
	"time"

	"github.com/poiesic/plansight/core"
)

// RunRepository persists index runs, their document records and wiki runs.
// Implementations must be thread-safe and support concurrent access.
type RunRepository interface {
	// CreateIndexRun stores a new run.
	// Returns ErrDuplicateKey if a run with the same ID exists.
	CreateIndexRun(ctx context.Context, run *core.IndexRun) error

	// GetIndexRun retrieves a run by ID.
	// Returns ErrNotFound if the run does not exist.
	GetIndexRun(ctx context.Context, id string) (*core.IndexRun, error)

	// ListIndexRuns returns all runs, newest first.
	ListIndexRuns(ctx context.Context) ([]*core.IndexRun, error)

	// UpdateIndexRun applies fn to the stored run inside a transaction and
	// returns the updated run. fn may be invoked more than once.
	UpdateIndexRun(ctx context.Context, id string, fn func(*core.IndexRun) error) (*core.IndexRun, error)

	// RegisterDocuments adds documents to a run in the pending state.
	// Documents already registered under the run keep their existing record,
	// so resubmitting a batch resumes rather than restarts.
	// Returns the stored records in the order given.
	RegisterDocuments(ctx context.Context, runID string, docs ...*core.DocumentRecord) ([]*core.DocumentRecord, error)

	// GetDocument retrieves a document record.
	// Returns ErrNotFound if the document is not registered under the run.
	GetDocument(ctx context.Context, runID, documentID string) (*core.DocumentRecord, error)

	// ListDocuments returns the run's documents in registration order.
	ListDocuments(ctx context.Context, runID string) ([]*core.DocumentRecord, error)

	// UpdateDocument applies fn to the stored document inside a transaction.
	// The run's aggregate document status and the step history are updated in
	// the same transaction. fn may be invoked more than once.
	UpdateDocument(ctx context.Context, runID, documentID string, fn func(*core.DocumentRecord) error) (*core.DocumentRecord, error)

	// CreateWikiRun stores a new wiki run.
	// Returns ErrDuplicateKey if a wiki run with the same ID exists.
	CreateWikiRun(ctx context.Context, run *core.WikiRun) error

	// GetWikiRun retrieves a wiki run by ID.
	// Returns ErrNotFound if the wiki run does not exist.
	GetWikiRun(ctx context.Context, id string) (*core.WikiRun, error)

	// ListWikiRuns returns the wiki runs generated over an index run, newest first.
	ListWikiRuns(ctx context.Context, indexRunID string) ([]*core.WikiRun, error)

	// UpdateWikiRun applies fn to the stored wiki run inside a transaction.
	// fn may be invoked more than once.
	UpdateWikiRun(ctx context.Context, id string, fn func(*core.WikiRun) error) (*core.WikiRun, error)

	// StepHistory returns every terminal result recorded for a step of a
	// unit, oldest attempt first. See DocumentUnit, IndexRunUnit and WikiRunUnit.
	StepHistory(ctx context.Context, unitID string, step core.StepName) ([]core.StepResult, error)

	// Close releases any resources held by the repository.
	Close() error
}

// ChunkRepository stores chunks and answers vector similarity queries.
type ChunkRepository interface {
	// PutChunks replaces the chunks of a document. Chunks keep the sequence
	// number of an existing chunk with the same ID; new chunks are assigned
	// the next sequence number. Stale chunks beyond the new count are removed.
	PutChunks(ctx context.Context, runID, documentID string, chunks []*core.Chunk) error

	// GetChunks returns a document's chunks ordered by index.
	GetChunks(ctx context.Context, runID, documentID string) ([]*core.Chunk, error)

	// ListRunChunks returns every chunk of a run ordered by sequence number.
	ListRunChunks(ctx context.Context, runID string) ([]*core.Chunk, error)

	// UpdateVectors sets the vectors of existing chunks, keyed by chunk ID.
	// Returns ErrNotFound if any chunk does not exist.
	UpdateVectors(ctx context.Context, runID string, vectors map[string][]float32) error

	// FindSimilar returns chunks of a run whose similarity to vector is at
	// least minSimilarity, ordered by score descending then sequence
	// ascending, up to limit results.
	FindSimilar(ctx context.Context, runID string, vector []float32, minSimilarity float32, limit int) ([]core.ChunkMatch, error)

	// CountChunks returns the number of chunks stored for a run.
	CountChunks(ctx context.Context, runID string) (int, error)

	// Close releases any resources held by the repository.
	Close() error
}

// ArtifactRepository stores intermediate step outputs so an interrupted unit
// can resume from its first unsatisfied step.
type ArtifactRepository interface {
	// SaveArtifact stores v as the output of step for unit, replacing any
	// previous value.
	SaveArtifact(ctx context.Context, unitID string, step core.StepName, v any) error

	// LoadArtifact decodes the stored output of step for unit into v.
	// Returns false if nothing was stored.
	LoadArtifact(ctx context.Context, unitID string, step core.StepName, v any) (bool, error)

	// DeleteArtifacts removes every artifact stored for unit.
	DeleteArtifacts(ctx context.Context, unitID string) error
}

// ObjectStore holds binary assets: split page files and exported markdown.
// Object names are slash separated and relative to the store root.
type ObjectStore interface {
	// Upload copies a local file to object and returns its reference.
	// Uploading to an object that already exists is a no-op.
	Upload(ctx context.Context, localPath, object, contentType string) (string, error)

	// Put writes data to object, replacing any previous content, and returns its reference.
	Put(ctx context.Context, object string, data []byte, contentType string) (string, error)

	// Get reads the content of object.
	// Returns ErrNotFound if the object does not exist.
	Get(ctx context.Context, object string) ([]byte, error)

	// SignedURL returns a time-limited URL for reading object.
	SignedURL(ctx context.Context, object string, expiry time.Duration) (string, error)
}

// Store bundles the repositories a pipeline needs.
type Store interface {
	RunRepository
	ChunkRepository
	ArtifactRepository
}
