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
	"maps"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/plansight/core"
	"github.com/poiesic/plansight/storage"
)

// RunRepository implements storage.RunRepository for BadgerDB.
type RunRepository struct {
	backend *Backend
}

var _ storage.RunRepository = (*RunRepository)(nil)

// NewRunRepository creates a new RunRepository.
func NewRunRepository(backend *Backend) *RunRepository {
	return &RunRepository{
		backend: backend,
	}
}

// Close is a no-op; the backend is owned by the caller.
func (r *RunRepository) Close() error {
	return nil
}

// CreateIndexRun stores a new index run.
func (r *RunRepository) CreateIndexRun(ctx context.Context, run *core.IndexRun) error {
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		key := makeIndexRunKey(run.ID)
		found, err := exists(tx, key)
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("%w: index run %s", storage.ErrDuplicateKey, run.ID)
		}
		storage.NormalizeIndexRun(run)
		return setJSON(tx, key, run)
	})
}

// GetIndexRun retrieves an index run by ID.
func (r *RunRepository) GetIndexRun(ctx context.Context, id string) (*core.IndexRun, error) {
	var run *core.IndexRun
	err := r.backend.View(func(tx *badger.Txn) error {
		var err error
		run, err = readIndexRun(tx, id)
		return err
	})
	return run, err
}

// ListIndexRuns returns all index runs, newest first.
func (r *RunRepository) ListIndexRuns(ctx context.Context) ([]*core.IndexRun, error) {
	var runs []*core.IndexRun
	err := r.backend.View(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(indexRunPrefix+keySep), func(_, val []byte) error {
			run, err := storage.Unmarshal[core.IndexRun](val)
			if err != nil {
				return err
			}
			storage.NormalizeIndexRun(run)
			runs = append(runs, run)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(runs, func(a, b *core.IndexRun) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return runs, nil
}

// UpdateIndexRun applies fn to the stored run and records new terminal
// run-level results in the step history.
func (r *RunRepository) UpdateIndexRun(ctx context.Context, id string, fn func(*core.IndexRun) error) (*core.IndexRun, error) {
	var updated *core.IndexRun
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		run, err := readIndexRun(tx, id)
		if err != nil {
			return err
		}
		before := maps.Clone(run.Steps)
		if err := fn(run); err != nil {
			return err
		}
		run.UpdatedAt = time.Now().UTC()
		if err := appendHistory(tx, storage.IndexRunUnit(id), storage.NewTerminalResults(before, run.Steps)); err != nil {
			return err
		}
		if err := setJSON(tx, makeIndexRunKey(id), run); err != nil {
			return err
		}
		updated = run
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RegisterDocuments adds documents to a run, keeping records that already exist.
func (r *RunRepository) RegisterDocuments(ctx context.Context, runID string, docs ...*core.DocumentRecord) ([]*core.DocumentRecord, error) {
	var stored []*core.DocumentRecord
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		stored = make([]*core.DocumentRecord, 0, len(docs))
		run, err := readIndexRun(tx, runID)
		if err != nil {
			return err
		}

		for _, doc := range docs {
			key := makeDocumentKey(runID, doc.ID)
			existing, err := getJSON[core.DocumentRecord](tx, key)
			if err != nil {
				return err
			}
			if existing != nil {
				storage.NormalizeDocument(existing)
				stored = append(stored, existing)
				continue
			}

			doc.RunID = runID
			storage.NormalizeDocument(doc)
			if err := setJSON(tx, key, doc); err != nil {
				return err
			}
			if !slices.Contains(run.DocumentIDs, doc.ID) {
				run.DocumentIDs = append(run.DocumentIDs, doc.ID)
			}
			run.DocumentStatus[doc.ID] = doc.Status()
			stored = append(stored, doc)
		}

		run.UpdatedAt = time.Now().UTC()
		return setJSON(tx, makeIndexRunKey(runID), run)
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// GetDocument retrieves a document record.
func (r *RunRepository) GetDocument(ctx context.Context, runID, documentID string) (*core.DocumentRecord, error) {
	var doc *core.DocumentRecord
	err := r.backend.View(func(tx *badger.Txn) error {
		var err error
		doc, err = readDocument(tx, runID, documentID)
		return err
	})
	return doc, err
}

// ListDocuments returns the run's documents in registration order.
func (r *RunRepository) ListDocuments(ctx context.Context, runID string) ([]*core.DocumentRecord, error) {
	var docs []*core.DocumentRecord
	err := r.backend.View(func(tx *badger.Txn) error {
		run, err := readIndexRun(tx, runID)
		if err != nil {
			return err
		}
		docs = make([]*core.DocumentRecord, 0, len(run.DocumentIDs))
		for _, id := range run.DocumentIDs {
			doc, err := readDocument(tx, runID, id)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
		}
		return nil
	})
	return docs, err
}

// UpdateDocument applies fn to the stored document. The run's document status
// and the step history are written in the same transaction.
func (r *RunRepository) UpdateDocument(ctx context.Context, runID, documentID string, fn func(*core.DocumentRecord) error) (*core.DocumentRecord, error) {
	var updated *core.DocumentRecord
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		doc, err := readDocument(tx, runID, documentID)
		if err != nil {
			return err
		}
		run, err := readIndexRun(tx, runID)
		if err != nil {
			return err
		}

		before := maps.Clone(doc.Steps)
		if err := fn(doc); err != nil {
			return err
		}
		now := time.Now().UTC()
		doc.UpdatedAt = now
		if err := appendHistory(tx, storage.DocumentUnit(runID, documentID), storage.NewTerminalResults(before, doc.Steps)); err != nil {
			return err
		}
		if err := setJSON(tx, makeDocumentKey(runID, documentID), doc); err != nil {
			return err
		}

		run.DocumentStatus[documentID] = doc.Status()
		run.UpdatedAt = now
		if err := setJSON(tx, makeIndexRunKey(runID), run); err != nil {
			return err
		}
		updated = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// CreateWikiRun stores a new wiki run.
func (r *RunRepository) CreateWikiRun(ctx context.Context, run *core.WikiRun) error {
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		key := makeWikiRunKey(run.ID)
		found, err := exists(tx, key)
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("%w: wiki run %s", storage.ErrDuplicateKey, run.ID)
		}
		storage.NormalizeWikiRun(run)
		return setJSON(tx, key, run)
	})
}

// GetWikiRun retrieves a wiki run by ID.
func (r *RunRepository) GetWikiRun(ctx context.Context, id string) (*core.WikiRun, error) {
	var run *core.WikiRun
	err := r.backend.View(func(tx *badger.Txn) error {
		var err error
		run, err = readWikiRun(tx, id)
		return err
	})
	return run, err
}

// ListWikiRuns returns the wiki runs over an index run, newest first.
func (r *RunRepository) ListWikiRuns(ctx context.Context, indexRunID string) ([]*core.WikiRun, error) {
	var runs []*core.WikiRun
	err := r.backend.View(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(wikiRunPrefix+keySep), func(_, val []byte) error {
			run, err := storage.Unmarshal[core.WikiRun](val)
			if err != nil {
				return err
			}
			if run.IndexRunID == indexRunID {
				runs = append(runs, run)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(runs, func(a, b *core.WikiRun) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return runs, nil
}

// UpdateWikiRun applies fn to the stored wiki run.
func (r *RunRepository) UpdateWikiRun(ctx context.Context, id string, fn func(*core.WikiRun) error) (*core.WikiRun, error) {
	var updated *core.WikiRun
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		run, err := readWikiRun(tx, id)
		if err != nil {
			return err
		}
		before := maps.Clone(run.Steps)
		if err := fn(run); err != nil {
			return err
		}
		run.UpdatedAt = time.Now().UTC()
		if err := appendHistory(tx, storage.WikiRunUnit(id), storage.NewTerminalResults(before, run.Steps)); err != nil {
			return err
		}
		if err := setJSON(tx, makeWikiRunKey(id), run); err != nil {
			return err
		}
		updated = run
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// StepHistory returns the terminal results recorded for a step, oldest first.
func (r *RunRepository) StepHistory(ctx context.Context, unitID string, step core.StepName) ([]core.StepResult, error) {
	var history []core.StepResult
	err := r.backend.View(func(tx *badger.Txn) error {
		return scanPrefix(tx, makePartialHistoryKey(unitID, step), func(_, val []byte) error {
			result, err := storage.Unmarshal[core.StepResult](val)
			if err != nil {
				return err
			}
			history = append(history, *result)
			return nil
		})
	})
	return history, err
}

// appendHistory writes terminal results to the step history of unit.
func appendHistory(tx *badger.Txn, unitID string, results []core.StepResult) error {
	for _, result := range results {
		if err := setJSON(tx, makeHistoryKey(unitID, result.Step, result.Attempt), result); err != nil {
			return err
		}
	}
	return nil
}

func readIndexRun(tx *badger.Txn, id string) (*core.IndexRun, error) {
	run, err := getJSON[core.IndexRun](tx, makeIndexRunKey(id))
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("%w: index run %s", storage.ErrNotFound, id)
	}
	storage.NormalizeIndexRun(run)
	return run, nil
}

func readDocument(tx *badger.Txn, runID, documentID string) (*core.DocumentRecord, error) {
	doc, err := getJSON[core.DocumentRecord](tx, makeDocumentKey(runID, documentID))
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: document %s in run %s", storage.ErrNotFound, documentID, runID)
	}
	storage.NormalizeDocument(doc)
	return doc, nil
}

func readWikiRun(tx *badger.Txn, id string) (*core.WikiRun, error) {
	run, err := getJSON[core.WikiRun](tx, makeWikiRunKey(id))
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("%w: wiki run %s", storage.ErrNotFound, id)
	}
	storage.NormalizeWikiRun(run)
	return run, nil
}
