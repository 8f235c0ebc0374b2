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
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/plansight/core"
	"github.com/poiesic/plansight/storage"
)

// ArtifactRepository implements storage.ArtifactRepository for BadgerDB.
type ArtifactRepository struct {
	backend *Backend
}

var _ storage.ArtifactRepository = (*ArtifactRepository)(nil)

// NewArtifactRepository creates a new ArtifactRepository.
func NewArtifactRepository(backend *Backend) *ArtifactRepository {
	return &ArtifactRepository{
		backend: backend,
	}
}

// SaveArtifact persists the output of a step for a unit.
func (r *ArtifactRepository) SaveArtifact(ctx context.Context, unitID string, step core.StepName, v any) error {
	value, err := storage.Marshal(v)
	if err != nil {
		return err
	}
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		return tx.Set(makeArtifactKey(unitID, step), value)
	})
}

// LoadArtifact decodes the stored output of a step into v.
// Returns false, nil if no artifact exists.
func (r *ArtifactRepository) LoadArtifact(ctx context.Context, unitID string, step core.StepName, v any) (bool, error) {
	found := false
	err := r.backend.View(func(tx *badger.Txn) error {
		item, err := tx.Get(makeArtifactKey(unitID, step))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return storage.Decode(val, v)
		})
	})
	return found, err
}

// DeleteArtifacts removes every artifact stored for a unit.
func (r *ArtifactRepository) DeleteArtifacts(ctx context.Context, unitID string) error {
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		return deletePrefix(tx, makePartialArtifactKey(unitID))
	})
}
