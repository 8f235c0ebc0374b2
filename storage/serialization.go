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
	"encoding/json"
	"fmt"
	"slices"

	"github.com/poiesic/plansight/core"
)

// Marshal serializes a record to bytes.
func Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return data, nil
}

// Decode deserializes bytes produced by Marshal into v.
func Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return nil
}

// Unmarshal deserializes bytes produced by Marshal.
func Unmarshal[T any](data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return &v, nil
}

// DocumentUnit names a document as a unit of work for history and artifacts.
func DocumentUnit(runID, documentID string) string {
	return "doc/" + runID + "/" + documentID
}

// IndexRunUnit names an index run as a unit of work.
func IndexRunUnit(runID string) string {
	return "run/" + runID
}

// WikiRunUnit names a wiki run as a unit of work.
func WikiRunUnit(wikiID string) string {
	return "wiki/" + wikiID
}

// NewTerminalResults returns the terminal results in after that are not
// present in before, sorted by step name. Repositories append these to the
// step history when an aggregate is updated.
func NewTerminalResults(before, after map[core.StepName]core.StepResult) []core.StepResult {
	var added []core.StepResult
	for step, r := range after {
		if !r.Status.IsTerminal() {
			continue
		}
		prev, ok := before[step]
		if ok && prev.Attempt == r.Attempt && prev.Status == r.Status {
			continue
		}
		added = append(added, r)
	}
	slices.SortFunc(added, func(a, b core.StepResult) int {
		switch {
		case a.Step < b.Step:
			return -1
		case a.Step > b.Step:
			return 1
		}
		return 0
	})
	return added
}

// NormalizeIndexRun replaces nil maps left by decoding.
func NormalizeIndexRun(run *core.IndexRun) {
	if run.DocumentStatus == nil {
		run.DocumentStatus = make(map[string]core.Status)
	}
	if run.Steps == nil {
		run.Steps = make(map[core.StepName]core.StepResult)
	}
}

// NormalizeDocument replaces nil maps left by decoding.
func NormalizeDocument(doc *core.DocumentRecord) {
	if doc.Steps == nil {
		doc.Steps = make(map[core.StepName]core.StepResult)
	}
}

// NormalizeWikiRun replaces nil maps left by decoding.
func NormalizeWikiRun(run *core.WikiRun) {
	if run.Steps == nil {
		run.Steps = make(map[core.StepName]core.StepResult)
	}
}
