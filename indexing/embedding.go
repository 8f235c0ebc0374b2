package indexing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/poiesic/plansight/core"
	"github.com/poiesic/plansight/pipeline"
	"github.com/poiesic/plansight/reembed"
)

// embedCandidates returns the documents the embedding step must process:
// those that finished chunking in this pass and either have no satisfied
// embedding result or were re-chunked.
func (o *Orchestrator) embedCandidates(ctx context.Context, states []*documentState, force bool) ([]*documentState, error) {
	var candidates []*documentState
	for _, s := range states {
		if !s.ready {
			continue
		}
		if force || s.rechunked {
			candidates = append(candidates, s)
			continue
		}
		results, err := s.recorder(o.runs).Results(ctx)
		if err != nil {
			return nil, err
		}
		if !results[core.StepEmbedding].Status.Satisfied() {
			candidates = append(candidates, s)
		}
	}
	return candidates, nil
}

// embed runs the batched embedding step once across every candidate
// document. The result is recorded on the run and on each participating
// document. Batches run concurrently; a failed batch fails only the
// documents whose chunks it carried.
func (o *Orchestrator) embed(ctx context.Context, runID string, states []*documentState, force bool) error {
	logger := o.logger.With("run", runID, "step", string(core.StepEmbedding))

	candidates, err := o.embedCandidates(ctx, states, force)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		logger.Debug("no documents to embed")
		return nil
	}

	runRec := pipeline.IndexRunRecorder{Repo: o.runs, RunID: runID}
	runStarted, err := o.startEmbedding(ctx, runRec)
	if err != nil {
		return err
	}

	var faults []error
	var chunks []*core.Chunk
	started := make(map[string]core.StepResult, len(candidates))
	for _, s := range candidates {
		result, err := o.startEmbedding(ctx, s.recorder(o.runs))
		if err != nil {
			faults = append(faults, err)
			continue
		}
		if len(s.chunks) == 0 {
			skipped := result.Finish(core.StatusSkipped, map[string]any{"reason": "no chunks"}, nil, o.now())
			if err := s.recorder(o.runs).Record(context.WithoutCancel(ctx), skipped); err != nil {
				faults = append(faults, err)
			}
			continue
		}
		started[s.input.ID] = result
		chunks = append(chunks, s.chunks...)
	}

	batches := reembed.Batches(chunks, o.options.EmbeddingBatchSize)
	logger.Info("embedding chunks", "documents", len(started), "chunks", len(chunks), "batches", len(batches))

	failedDocs, failedBatches, firstErr := o.runBatches(ctx, runID, batches)

	for _, s := range candidates {
		result, ok := started[s.input.ID]
		if !ok {
			continue
		}
		var finished core.StepResult
		if err, failed := failedDocs[s.input.ID]; failed {
			finished = result.Fail(core.NewStepError(core.StepEmbedding, err), o.now())
		} else {
			finished = result.Finish(core.StatusCompleted, map[string]any{"chunks": len(s.chunks)}, nil, o.now())
		}
		if err := s.recorder(o.runs).Record(context.WithoutCancel(ctx), finished); err != nil {
			faults = append(faults, err)
		}
	}

	var runFinished core.StepResult
	switch {
	case len(batches) == 0:
		runFinished = runStarted.Finish(core.StatusSkipped, map[string]any{"reason": "no chunks"}, nil, o.now())
	case failedBatches == len(batches):
		err := fmt.Errorf("all %d batches failed: %w", len(batches), firstErr)
		runFinished = runStarted.Fail(core.NewStepError(core.StepEmbedding, err), o.now())
		logger.Error("embedding failed", "err", err)
	default:
		runFinished = runStarted.Finish(core.StatusCompleted, map[string]any{
			"documents":      len(started),
			"chunks":         len(chunks),
			"batches":        len(batches),
			"failed_batches": failedBatches,
		}, nil, o.now())
	}
	if err := runRec.Record(context.WithoutCancel(ctx), runFinished); err != nil {
		faults = append(faults, err)
	}
	return errors.Join(faults...)
}

// runBatches embeds batches with bounded concurrency. Failures are
// collected per document rather than cancelling sibling batches.
func (o *Orchestrator) runBatches(ctx context.Context, runID string, batches [][]*core.Chunk) (map[string]error, int, error) {
	processor := o.newBatchProcessor()

	var (
		mu            sync.Mutex
		failedDocs    = make(map[string]error)
		failedBatches int
		firstErr      error
	)
	var g errgroup.Group
	g.SetLimit(o.options.EmbeddingConcurrency)
	for i, batch := range batches {
		g.Go(func() error {
			err := processor.Process(ctx, runID, batch)
			if err == nil {
				return nil
			}
			o.logger.Warn("embedding batch failed", "run", runID, "batch", i, "chunks", len(batch), "err", err)

			mu.Lock()
			defer mu.Unlock()
			failedBatches++
			if firstErr == nil {
				firstErr = err
			}
			for _, c := range batch {
				if _, seen := failedDocs[c.DocumentID]; !seen {
					failedDocs[c.DocumentID] = err
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return failedDocs, failedBatches, firstErr
}

// startEmbedding records a running embedding result on rec.
func (o *Orchestrator) startEmbedding(ctx context.Context, rec pipeline.Recorder) (core.StepResult, error) {
	current, err := rec.Results(ctx)
	if err != nil {
		return core.StepResult{}, err
	}
	started := core.StartResult(core.StepEmbedding, core.NextAttempt(current, core.StepEmbedding), o.now())
	if err := rec.Record(ctx, started); err != nil {
		return core.StepResult{}, fmt.Errorf("recording %s start: %w", core.StepEmbedding, err)
	}
	return started, nil
}
