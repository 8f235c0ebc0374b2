package badger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/plansight/core"
	"github.com/poiesic/plansight/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRun(t *testing.T, store *Store, id string, docIDs ...string) []*core.DocumentRecord {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, store.CreateIndexRun(ctx, core.NewIndexRun(id, "tower-b", now)))

	docs := make([]*core.DocumentRecord, len(docIDs))
	for i, docID := range docIDs {
		docs[i] = core.NewDocumentRecord(core.DocumentInput{
			ID:         docID,
			RunID:      id,
			Filename:   docID + ".pdf",
			FilePath:   "/uploads/" + docID + ".pdf",
			UploadType: core.UploadTypeEmail,
		}, now)
	}
	stored, err := store.RegisterDocuments(ctx, id, docs...)
	require.NoError(t, err)
	return stored
}

func finish(step core.StepName, attempt int) core.StepResult {
	now := time.Now()
	return core.StartResult(step, attempt, now).Finish(core.StatusCompleted, nil, nil, now)
}

func TestCreateIndexRun_Duplicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateIndexRun(ctx, core.NewIndexRun("run-1", "", time.Now())))
	err := store.CreateIndexRun(ctx, core.NewIndexRun("run-1", "", time.Now()))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	_, err = store.GetIndexRun(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRegisterDocuments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	newRun(t, store, "run-1", "doc-b", "doc-a")

	run, err := store.GetIndexRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-b", "doc-a"}, run.DocumentIDs)
	assert.Equal(t, core.StatusPending, run.Status())

	docs, err := store.ListDocuments(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "doc-b", docs[0].ID)
	assert.Equal(t, "doc-a", docs[1].ID)

	_, err = store.RegisterDocuments(ctx, "missing", docs[0])
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRegisterDocuments_ResubmissionKeepsProgress(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	newRun(t, store, "run-1", "doc-1")

	_, err := store.UpdateDocument(ctx, "run-1", "doc-1", func(doc *core.DocumentRecord) error {
		return core.ApplyResult(doc.Steps, finish(core.StepPartition, 1))
	})
	require.NoError(t, err)

	resubmitted := core.NewDocumentRecord(core.DocumentInput{ID: "doc-1", RunID: "run-1", Filename: "doc-1.pdf"}, time.Now())
	stored, err := store.RegisterDocuments(ctx, "run-1", resubmitted)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Contains(t, stored[0].Steps, core.StepPartition)

	run, err := store.GetIndexRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, run.DocumentIDs, 1)
}

func TestUpdateDocument_UpdatesRunAndHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	newRun(t, store, "run-1", "doc-1", "doc-2")

	now := time.Now()
	failed := core.StartResult(core.StepPartition, 1, now).Fail(errors.New("encrypted pdf"), now)
	doc, err := store.UpdateDocument(ctx, "run-1", "doc-1", func(doc *core.DocumentRecord) error {
		return core.ApplyResult(doc.Steps, failed)
	})
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, doc.Status())

	run, err := store.GetIndexRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, run.DocumentStatus["doc-1"])
	assert.Equal(t, core.StatusRunning, run.Status(), "doc-2 is still pending")

	// Retry as a new attempt; both attempts stay in history
	_, err = store.UpdateDocument(ctx, "run-1", "doc-1", func(doc *core.DocumentRecord) error {
		return core.ApplyResult(doc.Steps, finish(core.StepPartition, core.NextAttempt(doc.Steps, core.StepPartition)))
	})
	require.NoError(t, err)

	history, err := store.StepHistory(ctx, storage.DocumentUnit("run-1", "doc-1"), core.StepPartition)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, core.StatusFailed, history[0].Status)
	assert.Equal(t, "encrypted pdf", history[0].Error)
	assert.Equal(t, core.StatusCompleted, history[1].Status)
	assert.Equal(t, 2, history[1].Attempt)

	// Overwriting a terminal attempt is rejected and nothing is written
	_, err = store.UpdateDocument(ctx, "run-1", "doc-1", func(doc *core.DocumentRecord) error {
		return core.ApplyResult(doc.Steps, failed)
	})
	assert.ErrorIs(t, err, core.ErrResultFinalized)

	_, err = store.UpdateDocument(ctx, "run-1", "missing", func(*core.DocumentRecord) error { return nil })
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateDocument_ConcurrentWritersAggregate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ids := []string{"d0", "d1", "d2", "d3", "d4", "d5", "d6", "d7"}
	newRun(t, store, "run-1", ids...)

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for _, step := range core.StepNames(core.KindIndexing) {
				_, err := store.UpdateDocument(ctx, "run-1", id, func(doc *core.DocumentRecord) error {
					return core.ApplyResult(doc.Steps, finish(step, 1))
				})
				assert.NoError(t, err)
			}
		}(id)
	}
	wg.Wait()

	run, err := store.GetIndexRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, run.Status())
	assert.Equal(t, map[core.Status]int{core.StatusCompleted: len(ids)}, run.Counts())
}

func TestUpdateIndexRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	newRun(t, store, "run-1", "doc-1")

	run, err := store.UpdateIndexRun(ctx, "run-1", func(run *core.IndexRun) error {
		return core.ApplyResult(run.Steps, finish(core.StepEmbedding, 1))
	})
	require.NoError(t, err)
	assert.Contains(t, run.Steps, core.StepEmbedding)

	history, err := store.StepHistory(ctx, storage.IndexRunUnit("run-1"), core.StepEmbedding)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	runs, err := store.ListIndexRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestWikiRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older := core.NewWikiRun("wiki-1", "run-1", time.Now().Add(-time.Hour))
	newer := core.NewWikiRun("wiki-2", "run-1", time.Now())
	other := core.NewWikiRun("wiki-3", "run-2", time.Now())
	for _, w := range []*core.WikiRun{older, newer, other} {
		require.NoError(t, store.CreateWikiRun(ctx, w))
	}
	assert.ErrorIs(t, store.CreateWikiRun(ctx, older), storage.ErrDuplicateKey)

	runs, err := store.ListWikiRuns(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "wiki-2", runs[0].ID)

	updated, err := store.UpdateWikiRun(ctx, "wiki-1", func(w *core.WikiRun) error {
		w.Overview = "Structural drawings for a twelve storey tower."
		w.Pages = append(w.Pages, core.WikiPage{Index: 0, Title: "Foundations"})
		return core.ApplyResult(w.Steps, finish(core.StepOverviewGeneration, 1))
	})
	require.NoError(t, err)
	assert.Equal(t, core.StatusRunning, updated.Status())

	got, err := store.GetWikiRun(ctx, "wiki-1")
	require.NoError(t, err)
	assert.Equal(t, "Foundations", got.Pages[0].Title)

	_, err = store.GetWikiRun(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
