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


package wiki

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/plansight/ai"
	"github.com/poiesic/plansight/config"
	"github.com/poiesic/plansight/core"
	"github.com/poiesic/plansight/pipeline"
	"github.com/poiesic/plansight/retrieval"
	"github.com/poiesic/plansight/storage"
)

// Dependencies are the services an Orchestrator works against.
type Dependencies struct {
	Runs      storage.RunRepository
	Chunks    storage.ChunkRepository
	Artifacts storage.ArtifactRepository
	Objects   storage.ObjectStore
	Provider  ai.AIProvider
}

// Orchestrator generates wikis from index runs.
type Orchestrator struct {
	runs      storage.RunRepository
	chunks    storage.ChunkRepository
	artifacts storage.ArtifactRepository
	objects   storage.ObjectStore
	generator ai.Generator
	search    *retrieval.Service
	settings  config.Settings
	options   config.WikiOptions
	runner    *pipeline.Runner[wikiState]
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

// NewOrchestrator validates the wiki settings and builds the wiki steps.
func NewOrchestrator(deps Dependencies, settings config.Settings, options config.WikiOptions, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Runs == nil:
		return nil, ErrRunRepositoryRequired
	case deps.Chunks == nil:
		return nil, ErrChunkRepositoryRequired
	case deps.Artifacts == nil:
		return nil, ErrArtifactRepositoryRequired
	case deps.Objects == nil:
		return nil, ErrObjectStoreRequired
	case deps.Provider == nil:
		return nil, ErrAIProviderRequired
	}
	if err := settings.Validate(string(core.KindWiki)); err != nil {
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
		generator: deps.Provider.Generator(),
		settings:  settings,
		options:   options,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "wiki")

	if o.generator == nil {
		return nil, core.ConfigurationError("wiki generation requires a generator")
	}

	search, err := retrieval.NewService(deps.Chunks, deps.Provider, settings.Retrieval, retrieval.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	o.search = search

	runner, err := pipeline.NewRunner(core.KindWiki, o.wikiSteps(),
		pipeline.WithClock(o.now), pipeline.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	o.runner = runner
	return o, nil
}

// RunPipeline generates a new wiki over indexRunID and returns the stored
// WikiRun. Each call creates an independent WikiRun.
//
// A step failure is recorded on the WikiRun and is not returned as an error.
// The returned error reports a missing index run (core.ErrNotFound) or a
// fault of the run registry.
func (o *Orchestrator) RunPipeline(ctx context.Context, indexRunID string) (*core.WikiRun, error) {
	indexRun, err := o.indexRun(ctx, indexRunID)
	if err != nil {
		return nil, err
	}

	run := core.NewWikiRun(core.NewID(), indexRunID, o.now())
	if err := o.runs.CreateWikiRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create wiki run: %w", err)
	}
	o.logger.Info("generating wiki", "wiki", run.ID, "run", indexRunID)

	return o.execute(ctx, &wikiState{wikiID: run.ID, indexRun: indexRun})
}

// Resume continues a wiki run from its first unsatisfied step. A completed
// run is returned unchanged.
func (o *Orchestrator) Resume(ctx context.Context, wikiID string) (*core.WikiRun, error) {
	run, err := o.runs.GetWikiRun(ctx, wikiID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, core.NotFoundError("wiki run", wikiID)
		}
		return nil, err
	}
	if run.Status() == core.StatusCompleted {
		return run, nil
	}

	indexRun, err := o.indexRun(ctx, run.IndexRunID)
	if err != nil {
		return nil, err
	}
	o.logger.Info("resuming wiki", "wiki", run.ID, "run", run.IndexRunID)
	return o.execute(ctx, &wikiState{wikiID: run.ID, indexRun: indexRun})
}

func (o *Orchestrator) indexRun(ctx context.Context, id string) (*core.IndexRun, error) {
	run, err := o.runs.GetIndexRun(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, core.NotFoundError("index run", id)
		}
		return nil, err
	}
	return run, nil
}

func (o *Orchestrator) execute(ctx context.Context, state *wikiState) (*core.WikiRun, error) {
	logger := o.logger.With("wiki", state.wikiID)

	report, err := o.runner.Run(ctx, pipeline.WikiRecorder{Repo: o.runs, WikiID: state.wikiID}, state, false)
	if err != nil {
		return nil, fmt.Errorf("wiki %s: %w", state.wikiID, err)
	}
	if report.Failed() {
		logger.Warn("wiki generation failed", "step", report.Failure.Step, "err", report.Cause)
	}

	run, err := o.runs.GetWikiRun(context.WithoutCancel(ctx), state.wikiID)
	if err != nil {
		return nil, err
	}
	logger.Info("wiki generation finished", "status", run.Status(), "pages", len(run.Pages))
	return run, nil
}
