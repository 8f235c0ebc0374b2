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
	"errors"

	"github.com/poiesic/plansight/storage"
)

// Store bundles the BadgerDB repositories over a single backend.
type Store struct {
	*RunRepository
	*ChunkRepository
	*ArtifactRepository
	backend *Backend
}

var _ storage.Store = (*Store)(nil)

// NewStore opens a BadgerDB database at path and creates every repository on it.
func NewStore(path string) (*Store, error) {
	backend, err := OpenBackend(path, false)
	if err != nil {
		return nil, err
	}
	return newStore(backend)
}

func newStore(backend *Backend) (*Store, error) {
	chunks, err := NewChunkRepository(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return &Store{
		RunRepository:      NewRunRepository(backend),
		ChunkRepository:    chunks,
		ArtifactRepository: NewArtifactRepository(backend),
		backend:            backend,
	}, nil
}

// Backend exposes the underlying backend.
func (s *Store) Backend() *Backend {
	return s.backend
}

// Close releases the repositories and closes the database.
func (s *Store) Close() error {
	return errors.Join(s.ChunkRepository.Close(), s.RunRepository.Close(), s.backend.Close())
}
