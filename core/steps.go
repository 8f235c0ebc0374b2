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


package core

import "slices"

// StepName identifies a pipeline step. It is the key used in step-result maps
// and in step history.
type StepName string

// Indexing steps, in execution order.
const (
	StepPartition  StepName = "partition"
	StepMetadata   StepName = "metadata"
	StepEnrichment StepName = "enrichment"
	StepChunking   StepName = "chunking"
	StepEmbedding  StepName = "embedding"
)

// Wiki generation steps, in execution order.
const (
	StepMetadataCollection   StepName = "metadata_collection"
	StepOverviewGeneration   StepName = "overview_generation"
	StepStructureGeneration  StepName = "structure_generation"
	StepPageContentRetrieval StepName = "page_content_retrieval"
	StepMarkdownGeneration   StepName = "markdown_generation"
)

// Status is the lifecycle state of a step result or of a derived unit status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// IsTerminal reports whether the status can no longer change for a given attempt.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// Satisfied reports whether a result with this status fulfils a required step.
// Skipped counts as satisfied.
func (s Status) Satisfied() bool {
	return s == StatusCompleted || s == StatusSkipped
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// PipelineKind selects a fixed, ordered list of steps.
type PipelineKind string

const (
	KindIndexing PipelineKind = "indexing"
	KindWiki     PipelineKind = "wiki"
)

// StepSpec describes one step of a pipeline kind.
type StepSpec struct {
	Name StepName
	// Required steps must be completed (or skipped) for the unit to complete.
	Required bool
	// Batched steps execute once per run across all eligible units.
	Batched bool
}

var pipelineSteps = map[PipelineKind][]StepSpec{
	KindIndexing: {
		{Name: StepPartition, Required: true},
		{Name: StepMetadata, Required: true},
		{Name: StepEnrichment, Required: false},
		{Name: StepChunking, Required: true},
		{Name: StepEmbedding, Required: true, Batched: true},
	},
	KindWiki: {
		{Name: StepMetadataCollection, Required: true},
		{Name: StepOverviewGeneration, Required: true},
		{Name: StepStructureGeneration, Required: true},
		{Name: StepPageContentRetrieval, Required: true},
		{Name: StepMarkdownGeneration, Required: true},
	},
}

// Valid reports whether k is a known pipeline kind.
func (k PipelineKind) Valid() bool {
	_, ok := pipelineSteps[k]
	return ok
}

// Steps returns the ordered step descriptors for a pipeline kind.
// The returned slice is a copy.
func Steps(kind PipelineKind) []StepSpec {
	return slices.Clone(pipelineSteps[kind])
}

// StepNames returns the ordered step names for a pipeline kind.
func StepNames(kind PipelineKind) []StepName {
	specs := pipelineSteps[kind]
	names := make([]StepName, len(specs))
	for i, spec := range specs {
		names[i] = spec.Name
	}
	return names
}

// LookupStep returns the descriptor for name within kind.
func LookupStep(kind PipelineKind, name StepName) (StepSpec, bool) {
	for _, spec := range pipelineSteps[kind] {
		if spec.Name == name {
			return spec, true
		}
	}
	return StepSpec{}, false
}

// DeriveStatus computes a unit's status from its step-result map.
//
// A non-empty override wins. Otherwise the unit is failed if any result is
// failed, completed if every required step is completed or skipped, running if
// any step has started, and pending if nothing has happened yet.
func DeriveStatus(kind PipelineKind, results map[StepName]StepResult, override Status) Status {
	if override != "" {
		return override
	}

	started := false
	for _, result := range results {
		if result.Status == StatusFailed {
			return StatusFailed
		}
		if result.Status != StatusPending {
			started = true
		}
	}

	specs := pipelineSteps[kind]
	complete := len(specs) > 0
	for _, spec := range specs {
		if !spec.Required {
			continue
		}
		result, ok := results[spec.Name]
		if !ok || !result.Status.Satisfied() {
			complete = false
			break
		}
	}
	if complete {
		return StatusCompleted
	}

	if started {
		return StatusRunning
	}
	return StatusPending
}

// FirstFailure returns the first failed result in declared step order.
func FirstFailure(kind PipelineKind, results map[StepName]StepResult) (StepResult, bool) {
	for _, spec := range pipelineSteps[kind] {
		if result, ok := results[spec.Name]; ok && result.Status == StatusFailed {
			return result, true
		}
	}
	return StepResult{}, false
}

// ResumePoint returns the index of the first step in kind that has no
// result or whose result is not satisfied. It returns len(steps) when every
// step is satisfied.
func ResumePoint(kind PipelineKind, results map[StepName]StepResult) int {
	specs := pipelineSteps[kind]
	for i, spec := range specs {
		result, ok := results[spec.Name]
		if !ok || !result.Status.Satisfied() {
			return i
		}
	}
	return len(specs)
}
