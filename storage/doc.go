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


// Package storage provides the storage abstraction layer for plansight.
//
// This package defines repository interfaces that decouple persistence from
// the indexing, wiki and retrieval pipelines. Different backends (BadgerDB,
// Firestore, PostgreSQL with pgvector) can be used interchangeably.
//
// # Constructor Return Type Pattern
//
// Public constructors return interfaces:
//
//	runs, err := badger.NewRunRepository(path)  // returns storage.RunRepository
//
// Internal package constructors (newBackend, etc.) may return concrete types
// since they're only used within the implementation package.
//
// # Architecture
//
//   - RunRepository: index runs, document records, wiki runs and step history
//   - ChunkRepository: chunks, vectors and similarity search
//   - ArtifactRepository: intermediate step outputs used to resume a unit
//   - ObjectStore: page assets and exported wiki markdown
//
// # Read-Modify-Write
//
// Aggregates are mutated through Update* methods that take a function. The
// function runs inside a transaction and may be invoked more than once when
// the backend detects a conflicting writer, so it must not have side effects
// beyond mutating its argument.
//
// # Usage
//
//	store, err := badger.NewMemoryStore()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
package storage
