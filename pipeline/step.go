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


package pipeline

import (
	"context"

	"github.com/poiesic/plansight/core"
)

// Outcome is what a step reports on success.
type Outcome struct {
	// Status is StatusCompleted or StatusSkipped. Empty means completed.
	Status core.Status

	// Summary holds small counts and metrics.
	Summary map[string]any

	// Samples is a preview of the step's output.
	Samples []string
}

// Skipped returns an outcome for a step that had nothing to do.
func Skipped(reason string) Outcome {
	return Outcome{Status: core.StatusSkipped, Summary: map[string]any{"reason": reason}}
}

// Step is one named transformation over the unit state S.
type Step[S any] struct {
	Name core.StepName

	// Run performs the step. It must not persist step results.
	Run func(ctx context.Context, state *S) (Outcome, error)

	// Restore reloads the step's persisted output into state. It reports
	// false when no usable output exists. A nil Restore always re-runs.
	Restore func(ctx context.Context, state *S) (bool, error)
}

// Recorder persists step results for one unit.
type Recorder interface {
	// Results returns the unit's current step results.
	Results(ctx context.Context) (map[core.StepName]core.StepResult, error)

	// Record applies a result to the unit.
	Record(ctx context.Context, result core.StepResult) error
}
