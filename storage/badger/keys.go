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
	"fmt"
	"strings"

	"github.com/poiesic/plansight/core"
)

const (
	indexRunPrefix  = "idxrun"
	documentPrefix  = "docrec"
	wikiRunPrefix   = "wikirun"
	historyPrefix   = "stephist"
	artifactPrefix  = "artfct"
	chunkPrefix     = "chunk"
	chunkDocPrefix  = "chunkdoc"
	chunkSeq        = "chunkseq"
	keySep          = ":"
	attemptKeyWidth = 10
)

// keyEscaper keeps IDs from containing keySep, so a prefix scan for one run
// can never match a run whose ID extends it.
var keyEscaper = strings.NewReplacer("%", "%25", keySep, "%3A")

func part(id string) string {
	return keyEscaper.Replace(id)
}

// makeIndexRunKey generates a key for an index run by ID.
func makeIndexRunKey(id string) []byte {
	return []byte(indexRunPrefix + keySep + part(id))
}

// makeDocumentKey generates a key for a document record.
// Format: prefix:runID:documentID
func makeDocumentKey(runID, documentID string) []byte {
	return []byte(documentPrefix + keySep + part(runID) + keySep + part(documentID))
}

// makeWikiRunKey generates a key for a wiki run by ID.
func makeWikiRunKey(id string) []byte {
	return []byte(wikiRunPrefix + keySep + part(id))
}

// makeHistoryKey generates a key for one terminal step result.
// The attempt is zero padded so history scans return attempts in order.
// Format: prefix:unit:step:attempt
func makeHistoryKey(unitID string, step core.StepName, attempt int) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s:%0*d", historyPrefix, part(unitID), step, attemptKeyWidth, attempt))
}

// makePartialHistoryKey generates the scan prefix for a step's history.
func makePartialHistoryKey(unitID string, step core.StepName) []byte {
	return []byte(historyPrefix + keySep + part(unitID) + keySep + string(step) + keySep)
}

// makeArtifactKey generates a key for a step artifact.
// Format: prefix:unit:step
func makeArtifactKey(unitID string, step core.StepName) []byte {
	return []byte(artifactPrefix + keySep + part(unitID) + keySep + string(step))
}

// makePartialArtifactKey generates the scan prefix for a unit's artifacts.
func makePartialArtifactKey(unitID string) []byte {
	return []byte(artifactPrefix + keySep + part(unitID) + keySep)
}

// makeChunkKey generates a key for a chunk.
// Format: prefix:runID:chunkID
func makeChunkKey(runID, chunkID string) []byte {
	return []byte(chunkPrefix + keySep + part(runID) + keySep + part(chunkID))
}

// makePartialChunkKey generates the scan prefix for a run's chunks.
func makePartialChunkKey(runID string) []byte {
	return []byte(chunkPrefix + keySep + part(runID) + keySep)
}

// makeChunkDocKey generates a key for the document index of a chunk.
// Format: prefix:runID:documentID:index
func makeChunkDocKey(runID, documentID string, index int) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s:%08d", chunkDocPrefix, part(runID), part(documentID), index))
}

// makePartialChunkDocKey generates the scan prefix for a document's chunk index.
func makePartialChunkDocKey(runID, documentID string) []byte {
	return []byte(chunkDocPrefix + keySep + part(runID) + keySep + part(documentID) + keySep)
}
