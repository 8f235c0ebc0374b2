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

import (
	"fmt"
	"maps"
	"time"
)

const (
	// MaxSamples bounds the number of sample outputs kept on a StepResult.
	MaxSamples = 5

	// MaxSampleLength bounds the length of each sample output, in runes.
	MaxSampleLength = 240
)

// StepResult is the persisted outcome of one step applied to one unit of work.
type StepResult struct {
	Step        StepName       `json:"step"`
	Status      Status         `json:"status"`
	Attempt     int            `json:"attempt"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Duration    time.Duration  `json:"duration"`
	Summary     map[string]any `json:"summary,omitempty"`
	Samples     []string       `json:"samples,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// StartResult creates a running result for the given attempt.
func StartResult(step StepName, attempt int, now time.Time) StepResult {
	if attempt < 1 {
		attempt = 1
	}
	return StepResult{
		Step:      step,
		Status:    StatusRunning,
		Attempt:   attempt,
		StartedAt: now.UTC(),
	}
}

// Finish returns a terminal copy of r with the given status, summary and samples.
func (r StepResult) Finish(status Status, summary map[string]any, samples []string, now time.Time) StepResult {
	r.Status = status
	r.CompletedAt = now.UTC()
	r.Duration = r.CompletedAt.Sub(r.StartedAt)
	r.Summary = maps.Clone(summary)
	r.Samples = BoundSamples(samples)
	r.Error = ""
	return r
}

// Fail returns a failed copy of r carrying err's message.
func (r StepResult) Fail(err error, now time.Time) StepResult {
	r.Status = StatusFailed
	r.CompletedAt = now.UTC()
	r.Duration = r.CompletedAt.Sub(r.StartedAt)
	r.Error = err.Error()
	if r.Error == "" {
		r.Error = "unknown error"
	}
	return r
}

// BoundSamples truncates samples to MaxSamples entries of MaxSampleLength runes.
func BoundSamples(samples []string) []string {
	if len(samples) == 0 {
		return nil
	}
	if len(samples) > MaxSamples {
		samples = samples[:MaxSamples]
	}
	bounded := make([]string, len(samples))
	for i, s := range samples {
		bounded[i] = Preview(s, MaxSampleLength)
	}
	return bounded
}

// Preview truncates s to at most n runes, appending an ellipsis when cut.
func Preview(s string, n int) string {
	runes := []rune(s)
	if n <= 0 || len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

// ApplyResult installs r as the current result for its step in results.
//
// Terminal results are append-only: once the current attempt is terminal, only
// a result with a higher attempt number may replace it.
func ApplyResult(results map[StepName]StepResult, r StepResult) error {
	if err := ValidateStepResult(r); err != nil {
		return err
	}
	if current, ok := results[r.Step]; ok && current.Status.IsTerminal() && r.Attempt <= current.Attempt {
		return fmt.Errorf("%w: %s attempt %d", ErrResultFinalized, r.Step, current.Attempt)
	}
	results[r.Step] = r
	return nil
}

// NextAttempt returns the attempt number a new execution of step should use.
func NextAttempt(results map[StepName]StepResult, step StepName) int {
	current, ok := results[step]
	if !ok {
		return 1
	}
	if current.Status.IsTerminal() {
		return current.Attempt + 1
	}
	if current.Attempt < 1 {
		return 1
	}
	return current.Attempt
}

// DocumentRecord is the persisted processing state of one document.
// Status is always derived from Steps and Override.
type DocumentRecord struct {
	ID         string                  `json:"id"`
	RunID      string                  `json:"run_id"`
	UserID     string                  `json:"user_id,omitempty"`
	Filename   string                  `json:"filename"`
	FilePath   string                  `json:"file_path"`
	UploadType UploadType              `json:"upload_type"`
	UploadID   string                  `json:"upload_id,omitempty"`
	Metadata   map[string]string       `json:"metadata,omitempty"`
	Steps      map[StepName]StepResult `json:"steps"`
	Override   Status                  `json:"override,omitempty"`
	CreatedAt  time.Time               `json:"created_at"`
	UpdatedAt  time.Time               `json:"updated_at"`
}

// NewDocumentRecord registers a document in the pending state.
func NewDocumentRecord(in DocumentInput, now time.Time) *DocumentRecord {
	return &DocumentRecord{
		ID:         in.ID,
		RunID:      in.RunID,
		UserID:     in.UserID,
		Filename:   in.Filename,
		FilePath:   in.FilePath,
		UploadType: in.UploadType,
		UploadID:   in.UploadID,
		Metadata:   maps.Clone(in.Metadata),
		Steps:      make(map[StepName]StepResult),
		CreatedAt:  now.UTC(),
		UpdatedAt:  now.UTC(),
	}
}

// Input reconstructs the submission the record was registered from.
func (d *DocumentRecord) Input() DocumentInput {
	return DocumentInput{
		ID:         d.ID,
		RunID:      d.RunID,
		UserID:     d.UserID,
		FilePath:   d.FilePath,
		Filename:   d.Filename,
		UploadType: d.UploadType,
		UploadID:   d.UploadID,
		Metadata:   maps.Clone(d.Metadata),
	}
}

// Status derives the document status from its step results.
func (d *DocumentRecord) Status() Status {
	return DeriveStatus(KindIndexing, d.Steps, d.Override)
}

// ErrorMessage mirrors the error of the first failing step.
func (d *DocumentRecord) ErrorMessage() string {
	if failure, ok := FirstFailure(KindIndexing, d.Steps); ok {
		return failure.Error
	}
	return ""
}

// IndexRun is the aggregate of one indexing run.
type IndexRun struct {
	ID             string                  `json:"id"`
	Name           string                  `json:"name,omitempty"`
	DocumentIDs    []string                `json:"document_ids"`
	DocumentStatus map[string]Status       `json:"document_status"`
	Steps          map[StepName]StepResult `json:"steps"`
	CreatedAt      time.Time               `json:"created_at"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

// NewIndexRun creates an empty run.
func NewIndexRun(id, name string, now time.Time) *IndexRun {
	return &IndexRun{
		ID:             id,
		Name:           name,
		DocumentStatus: make(map[string]Status),
		Steps:          make(map[StepName]StepResult),
		CreatedAt:      now.UTC(),
		UpdatedAt:      now.UTC(),
	}
}

// Counts tallies document statuses.
func (r *IndexRun) Counts() map[Status]int {
	counts := make(map[Status]int)
	for _, id := range r.DocumentIDs {
		status := r.DocumentStatus[id]
		if status == "" {
			status = StatusPending
		}
		counts[status]++
	}
	return counts
}

// Status derives the run status from its documents and run-level steps.
//
// A failed run-level step or a run whose documents all failed is failed. Any
// pending or running document keeps the run running. Otherwise it is completed.
func (r *IndexRun) Status() Status {
	if len(r.DocumentIDs) == 0 {
		return StatusPending
	}
	for _, result := range r.Steps {
		if result.Status == StatusFailed {
			return StatusFailed
		}
	}
	counts := r.Counts()
	if counts[StatusPending] == len(r.DocumentIDs) {
		return StatusPending
	}
	if counts[StatusPending] > 0 || counts[StatusRunning] > 0 {
		return StatusRunning
	}
	if counts[StatusFailed] == len(r.DocumentIDs) {
		return StatusFailed
	}
	return StatusCompleted
}

// WikiPage is one generated page of a wiki run.
type WikiPage struct {
	Index       int      `json:"index"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Queries     []string `json:"queries"`
	ChunkIDs    []string `json:"chunk_ids,omitempty"`
	Markdown    string   `json:"markdown,omitempty"`
	MarkdownRef string   `json:"markdown_ref,omitempty"`
}

// WikiRun is the aggregate of one wiki generation over an indexing run.
type WikiRun struct {
	ID         string                  `json:"id"`
	IndexRunID string                  `json:"index_run_id"`
	Steps      map[StepName]StepResult `json:"steps"`
	Override   Status                  `json:"override,omitempty"`
	Overview   string                  `json:"overview,omitempty"`
	Pages      []WikiPage              `json:"pages,omitempty"`
	CreatedAt  time.Time               `json:"created_at"`
	UpdatedAt  time.Time               `json:"updated_at"`
}

// NewWikiRun creates a pending wiki run over an indexing run.
func NewWikiRun(id, indexRunID string, now time.Time) *WikiRun {
	return &WikiRun{
		ID:         id,
		IndexRunID: indexRunID,
		Steps:      make(map[StepName]StepResult),
		CreatedAt:  now.UTC(),
		UpdatedAt:  now.UTC(),
	}
}

// Status derives the wiki run status from its step results.
func (w *WikiRun) Status() Status {
	return DeriveStatus(KindWiki, w.Steps, w.Override)
}

// ErrorMessage mirrors the error of the first failing step.
func (w *WikiRun) ErrorMessage() string {
	if failure, ok := FirstFailure(KindWiki, w.Steps); ok {
		return failure.Error
	}
	return ""
}
