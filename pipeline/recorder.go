package pipeline

import (
	"context"
	"maps"

	"github.com/poiesic/plansight/core"
	"github.com/poiesic/plansight/storage"
)

// DocumentRecorder records results on a document through the run registry.
type DocumentRecorder struct {
	Repo       storage.RunRepository
	RunID      string
	DocumentID string
}

// Results implements Recorder.
func (r DocumentRecorder) Results(ctx context.Context) (map[core.StepName]core.StepResult, error) {
	doc, err := r.Repo.GetDocument(ctx, r.RunID, r.DocumentID)
	if err != nil {
		return nil, err
	}
	return maps.Clone(doc.Steps), nil
}

// Record implements Recorder.
func (r DocumentRecorder) Record(ctx context.Context, result core.StepResult) error {
	_, err := r.Repo.UpdateDocument(ctx, r.RunID, r.DocumentID, func(doc *core.DocumentRecord) error {
		return core.ApplyResult(doc.Steps, result)
	})
	return err
}

// IndexRunRecorder records run-level results such as the batched embedding step.
type IndexRunRecorder struct {
	Repo  storage.RunRepository
	RunID string
}

// Results implements Recorder.
func (r IndexRunRecorder) Results(ctx context.Context) (map[core.StepName]core.StepResult, error) {
	run, err := r.Repo.GetIndexRun(ctx, r.RunID)
	if err != nil {
		return nil, err
	}
	return maps.Clone(run.Steps), nil
}

// Record implements Recorder.
func (r IndexRunRecorder) Record(ctx context.Context, result core.StepResult) error {
	_, err := r.Repo.UpdateIndexRun(ctx, r.RunID, func(run *core.IndexRun) error {
		return core.ApplyResult(run.Steps, result)
	})
	return err
}

// WikiRecorder records results on a wiki run.
type WikiRecorder struct {
	Repo   storage.RunRepository
	WikiID string
}

// Results implements Recorder.
func (r WikiRecorder) Results(ctx context.Context) (map[core.StepName]core.StepResult, error) {
	run, err := r.Repo.GetWikiRun(ctx, r.WikiID)
	if err != nil {
		return nil, err
	}
	return maps.Clone(run.Steps), nil
}

// Record implements Recorder.
func (r WikiRecorder) Record(ctx context.Context, result core.StepResult) error {
	_, err := r.Repo.UpdateWikiRun(ctx, r.WikiID, func(run *core.WikiRun) error {
		return core.ApplyResult(run.Steps, result)
	})
	return err
}

var (
	_ Recorder = DocumentRecorder{}
	_ Recorder = IndexRunRecorder{}
	_ Recorder = WikiRecorder{}
)
