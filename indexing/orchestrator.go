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


package indexing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/plansight/ai"
	"github.com/poiesic/plansight/config"
	"github.com/poiesic/plansight/core"
	"github.com/poiesic/plansight/extract"
	"github.com/poiesic/plansight/pipeline"
	"github.com/poiesic/plansight/reembed"
	"github.com/poiesic/plansight/storage"
)

// Dependencies are the services an Orchestrator works against.
type Dependencies struct {
	Runs      storage.RunRepository
	Chunks    storage.ChunkRepository
	Artifacts storage.ArtifactRepository

	// Objects holds page assets. Required when enrichment is enabled.
	Objects storage.ObjectStore

	Extractor extract.Extractor
	Provider  ai.AIProvider
}

// Orchestrator runs the indexing pipeline over batches of documents.
type Orchestrator struct {
	runs      storage.RunRepository
	chunks    storage.ChunkRepository
	artifacts storage.ArtifactRepository
	objects   storage.ObjectStore
	extractor extract.Extractor
	embedder  ai.Embedder
	generator ai.Generator
	settings  config.Settings
	options   config.IndexingOptions
	runner    *pipeline.Runner[documentState]
	pool      *ants.Pool
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock sets the time source used for step results.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// NewOrchestrator validates the settings and builds the indexing steps.
// The orchestrator owns a worker pool sized by options.Concurrency; call
// Release when done.
func NewOrchestrator(deps Dependencies, settings config.Settings, options config.IndexingOptions, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Runs == nil:
		return nil, ErrRunRepositoryRequired
	case deps.Chunks == nil:
		return nil, ErrChunkRepositoryRequired
	case deps.Artifacts == nil:
		return nil, ErrArtifactRepositoryRequired
	case deps.Extractor == nil:
		return nil, ErrExtractorRequired
	case deps.Provider == nil:
		return nil, ErrAIProviderRequired
	case options.Enrichment && deps.Objects == nil:
		return nil, ErrObjectStoreRequired
	}
	if err := settings.Validate(string(core.KindIndexing)); err != nil {
		return nil, err
	}
	if err := options.Validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		runs:      deps.Runs,
		chunks:    deps.Chunks,
		artifacts: deps.Artifacts,
		objects:   deps.Objects,
		extractor: deps.Extractor,
		embedder:  deps.Provider.Embedder(),
		generator: deps.Provider.Generator(),
		settings:  settings,
		options:   options,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "indexing")

	if o.embedder == nil {
		return nil, core.ConfigurationError("AI provider has no embedder")
	}
	if options.Enrichment && o.generator == nil {
		return nil, core.ConfigurationError("enrichment requires a generator")
	}

	runner, err := pipeline.NewRunner(core.KindIndexing, o.documentSteps(),
		pipeline.WithClock(o.now), pipeline.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	o.runner = runner

	pool, err := ants.NewPool(options.Concurrency)
	if err != nil {
		return nil, err
	}
	o.pool = pool
	return o, nil
}

// Release releases the worker pool.
// The orchestrator should not be used after calling Release.
func (o *Orchestrator) Release() {
	if o.pool != nil {
		o.pool.Release()
	}
}

// ProcessOptions holds optional parameters for ProcessDocuments.
type ProcessOptions struct {
	// Force re-runs every step, ignoring earlier results.
	Force bool

	// RunName labels a newly created run.
	RunName string
}

// ProcessDocuments indexes a batch of documents into runID, creating the run
// if needed. It returns true if every submitted document completed.
//
// Document failures are recorded in the documents' step results and never
// returned as errors. The returned error reports invalid input
// (core.ErrValidation) or a fault of the run registry.
func (o *Orchestrator) ProcessDocuments(ctx context.Context, runID string, inputs []core.DocumentInput, opts *ProcessOptions) (bool, error) {
	if opts == nil {
		opts = &ProcessOptions{}
	}
	if err := core.ValidateBatch(runID, inputs, o.options.MaxBatchSize); err != nil {
		return false, err
	}
	if err := o.ensureRun(ctx, runID, opts.RunName); err != nil {
		return false, err
	}

	records := make([]*core.DocumentRecord, len(inputs))
	for i, in := range inputs {
		records[i] = core.NewDocumentRecord(in, o.now())
	}
	if _, err := o.runs.RegisterDocuments(ctx, runID, records...); err != nil {
		return false, fmt.Errorf("register documents: %w", err)
	}

	logger := o.logger.With("run", runID)
	logger.Info("processing documents", "documents", len(inputs), "force", opts.Force)

	states := make([]*documentState, len(inputs))
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		faults []error
	)
	fault := func(err error) {
		mu.Lock()
		faults = append(faults, err)
		mu.Unlock()
	}
	for i, in := range inputs {
		state := &documentState{input: in}
		states[i] = state
		wg.Add(1)
		err := o.pool.Submit(func() {
			defer wg.Done()
			if err := o.processDocument(ctx, state, opts.Force); err != nil {
				fault(err)
			}
		})
		if err != nil {
			wg.Done()
			fault(fmt.Errorf("document %s: %w", in.ID, err))
		}
	}
	wg.Wait()

	if err := o.embed(ctx, runID, states, opts.Force); err != nil {
		fault(err)
	}

	completed := true
	for _, in := range inputs {
		doc, err := o.runs.GetDocument(ctx, runID, in.ID)
		if err != nil {
			fault(err)
			completed = false
			continue
		}
		if doc.Status() != core.StatusCompleted {
			completed = false
		}
	}

	if run, err := o.runs.GetIndexRun(ctx, runID); err == nil {
		logger.Info("documents processed", "status", run.Status(), "counts", run.Counts())
	}
	return completed && len(faults) == 0, errors.Join(faults...)
}

// ensureRun creates the run unless it already exists.
func (o *Orchestrator) ensureRun(ctx context.Context, runID, name string) error {
	_, err := o.runs.GetIndexRun(ctx, runID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return err
	}
	err = o.runs.CreateIndexRun(ctx, core.NewIndexRun(runID, name, o.now()))
	if errors.Is(err, storage.ErrDuplicateKey) {
		// created concurrently
		return nil
	}
	return err
}

// processDocument runs the per-document steps. Step failures are recorded
// on the document; only recording faults are returned.
func (o *Orchestrator) processDocument(ctx context.Context, state *documentState, force bool) error {
	logger := o.logger.With("run", state.input.RunID, "document", state.input.ID)
	report, err := o.runner.Run(ctx, state.recorder(o.runs), state, force)
	if err != nil {
		return fmt.Errorf("document %s: %w", state.input.ID, err)
	}
	if report.Failed() {
		logger.Warn("document failed", "step", report.Failure.Step, "err", report.Cause)
		return nil
	}
	state.ready = true
	state.rechunked = slices.Contains(report.Executed, core.StepChunking)
	logger.Debug("document steps finished", "executed", report.Executed, "restored", report.Restored)
	return nil
}

// newBatchProcessor embeds and stores chunk vectors with retry.
func (o *Orchestrator) newBatchProcessor() *reembed.BatchProcessor {
	return reembed.NewBatchProcessor(o.chunks, o.embedder, o.settings.Embedding.Dimensions,
		o.options.MaxRetries, o.options.RetryDelay)
}
