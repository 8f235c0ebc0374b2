package wiki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/poiesic/plansight/ai"
	"github.com/poiesic/plansight/ai/mock"
	"github.com/poiesic/plansight/config"
	"github.com/poiesic/plansight/core"
	"github.com/poiesic/plansight/storage"
	"github.com/poiesic/plansight/storage/badger"
	"github.com/poiesic/plansight/storage/objects"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// keywordVector maps text onto one axis per subject.
func keywordVector(text string) []float32 {
	switch {
	case strings.Contains(text, "concrete"):
		return []float32{1, 0, 0}
	case strings.Contains(text, "steel"):
		return []float32{0, 1, 0}
	}
	return []float32{0, 0, 1}
}

var testPlan = []pagePlan{
	{Title: "Concrete", Description: "Cast-in-place work.", Queries: []string{"concrete mix", "concrete forms", "concrete curing"}},
	{Title: "Steel", Description: "Structural framing.", Queries: []string{"steel beams", "steel columns", "steel connections", "steel deck"}},
	{Title: "Landscaping", Queries: []string{"planting", "irrigation", "site grading"}},
}

type testEnv struct {
	orch      *Orchestrator
	store     *badger.Store
	objects   storage.ObjectStore
	embedder  *mock.MockEmbedder
	generator *mock.MockGenerator

	// failPage makes markdown generation fail for the named page.
	failPage atomic.Value
	// plan is returned by structure generation.
	plan []pagePlan
}

func testSettings() config.Settings {
	s := config.DefaultSettings()
	s.Retrieval.Dimensions = 3
	s.Retrieval.TopK = 5
	s.Retrieval.SimilarityThreshold = 0.3
	s.Generation.Model = "wiki-model"
	s.Generation.Timeout = 5 * time.Second
	return s
}

func testOptions() config.WikiOptions {
	return config.WikiOptions{
		MinPagesPerDocument:  1,
		MaxPagesPerDocument:  2,
		MinQueriesPerPage:    3,
		MaxQueriesPerPage:    5,
		MaxChunksPerPage:     2,
		ContentPreviewLength: 40,
		OverviewSampleSize:   3,
		OverviewQueries:      []string{"project scope", "concrete overview"},
		RetrievalConcurrency: 2,
	}
}

func (e *testEnv) generate(ctx context.Context, req ai.GenerateRequest) (*ai.GenerateResponse, error) {
	switch {
	case strings.HasPrefix(req.Prompt, "Write a project overview"):
		return &ai.GenerateResponse{Text: `{"title": "Tower", "overview": "A four storey office building.", "topics": ["concrete", "steel"]}`}, nil
	case strings.HasPrefix(req.Prompt, "Plan the pages"):
		b, err := json.Marshal(structure{Pages: e.plan})
		if err != nil {
			return nil, err
		}
		return &ai.GenerateResponse{Text: string(b)}, nil
	case strings.HasPrefix(req.Prompt, "Write the wiki page"):
		if name, _ := e.failPage.Load().(string); name != "" && strings.Contains(req.Prompt, fmt.Sprintf("%q", name)) {
			return nil, core.ExternalServiceError("llm", errors.New("model overloaded"))
		}
		title := strings.TrimSuffix(strings.TrimPrefix(strings.SplitN(req.Prompt, "\n", 2)[0], `Write the wiki page "`), `".`)
		return &ai.GenerateResponse{Text: "Content about " + title + ".", Model: req.Model}, nil
	}
	return nil, fmt.Errorf("unexpected prompt: %.40s", req.Prompt)
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	env := &testEnv{
		store:     store,
		objects:   objects.NewFilesystemStore(memfs.New()),
		embedder:  mock.NewMockEmbedder(),
		generator: mock.NewMockGenerator(),
		plan:      testPlan,
	}
	env.failPage.Store("")
	env.embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return keywordVector(text), nil
	}
	env.generator.GenerateFunc = env.generate

	orch, err := NewOrchestrator(Dependencies{
		Runs:      store,
		Chunks:    store,
		Artifacts: store,
		Objects:   env.objects,
		Provider:  mock.NewMockProviderWithServices(env.embedder, env.generator),
	}, testSettings(), testOptions())
	require.NoError(t, err)
	env.orch = orch
	return env
}

// seedIndexRun stores a run whose documents completed indexing, with one
// embedded chunk per content string.
func seedIndexRun(t *testing.T, store *badger.Store, runID string, docs map[string][]string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateIndexRun(ctx, core.NewIndexRun(runID, "tower", time.Now())))

	for _, id := range []string{"doc-a", "doc-b"} {
		contents, ok := docs[id]
		if !ok {
			continue
		}
		in := core.DocumentInput{ID: id, RunID: runID, Filename: id + ".pdf", UploadType: core.UploadTypeUserProject}
		_, err := store.RegisterDocuments(ctx, runID, core.NewDocumentRecord(in, time.Now()))
		require.NoError(t, err)
		_, err = store.UpdateDocument(ctx, runID, id, func(doc *core.DocumentRecord) error {
			for _, step := range core.StepNames(core.KindIndexing) {
				if err := core.ApplyResult(doc.Steps, core.StepResult{Step: step, Status: core.StatusCompleted, Attempt: 1}); err != nil {
					return err
				}
			}
			return nil
		})
		require.NoError(t, err)

		chunks := make([]*core.Chunk, len(contents))
		for i, c := range contents {
			chunks[i] = &core.Chunk{
				ID:      core.ChunkID(runID, id, i),
				Index:   i,
				Content: c,
				Page:    i + 1,
				Section: strings.ToUpper(id),
				Vector:  keywordVector(c),
			}
		}
		require.NoError(t, store.PutChunks(ctx, runID, id, chunks))
	}
}

func defaultDocs() map[string][]string {
	return map[string][]string{
		"doc-a": {"concrete mix 4000 psi", "concrete curing seven days", "concrete forms plywood"},
		"doc-b": {"steel beams W12x26", "steel columns HSS6x6"},
	}
}

func pagePrompts(g *mock.MockGenerator) []string {
	var prompts []string
	for _, req := range g.Requests() {
		if strings.HasPrefix(req.Prompt, "Write the wiki page") {
			prompts = append(prompts, req.Prompt)
		}
	}
	return prompts
}

func TestNewOrchestrator(t *testing.T) {
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	defer store.Close()

	provider := mock.NewMockProvider()
	objs := objects.NewFilesystemStore(memfs.New())
	deps := Dependencies{Runs: store, Chunks: store, Artifacts: store, Objects: objs, Provider: provider}

	t.Run("valid configuration", func(t *testing.T) {
		orch, err := NewOrchestrator(deps, testSettings(), testOptions())
		require.NoError(t, err)
		assert.NotNil(t, orch)
	})

	t.Run("missing dependencies", func(t *testing.T) {
		tests := []struct {
			mutate func(d *Dependencies)
			want   error
		}{
			{func(d *Dependencies) { d.Runs = nil }, ErrRunRepositoryRequired},
			{func(d *Dependencies) { d.Chunks = nil }, ErrChunkRepositoryRequired},
			{func(d *Dependencies) { d.Artifacts = nil }, ErrArtifactRepositoryRequired},
			{func(d *Dependencies) { d.Objects = nil }, ErrObjectStoreRequired},
			{func(d *Dependencies) { d.Provider = nil }, ErrAIProviderRequired},
		}
		for _, tt := range tests {
			d := deps
			tt.mutate(&d)
			_, err := NewOrchestrator(d, testSettings(), testOptions())
			assert.Equal(t, tt.want, err)
		}
	})

	t.Run("missing generation model", func(t *testing.T) {
		settings := testSettings()
		settings.Generation.Model = ""
		_, err := NewOrchestrator(deps, settings, testOptions())
		assert.ErrorIs(t, err, core.ErrConfiguration)
		assert.Contains(t, err.Error(), "wiki.generation.model")
	})

	t.Run("invalid layout", func(t *testing.T) {
		options := testOptions()
		options.MaxQueriesPerPage = 1
		_, err := NewOrchestrator(deps, testSettings(), options)
		assert.ErrorIs(t, err, core.ErrConfiguration)
	})
}

func TestRunPipeline(t *testing.T) {
	env := setupTestEnv(t)
	seedIndexRun(t, env.store, "run-1", defaultDocs())
	ctx := context.Background()

	run, err := env.orch.RunPipeline(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, core.StatusCompleted, run.Status())
	assert.Equal(t, "run-1", run.IndexRunID)
	assert.Equal(t, "A four storey office building.", run.Overview)
	for _, step := range core.StepNames(core.KindWiki) {
		assert.Equal(t, core.StatusCompleted, run.Steps[step].Status, step)
	}

	t.Run("metadata", func(t *testing.T) {
		summary := run.Steps[core.StepMetadataCollection].Summary
		assert.EqualValues(t, 2, summary["documents"])
		assert.EqualValues(t, 5, summary["chunks"])
		assert.EqualValues(t, 2, summary["sections"])
	})

	t.Run("structure", func(t *testing.T) {
		require.Len(t, run.Pages, 3)
		for i, page := range run.Pages {
			assert.Equal(t, i, page.Index)
			assert.GreaterOrEqual(t, len(page.Queries), 3)
			assert.LessOrEqual(t, len(page.Queries), 5)
		}
		assert.EqualValues(t, 10, run.Steps[core.StepPageContentRetrieval].Summary["queries"])
	})

	t.Run("retrieval bounded per page", func(t *testing.T) {
		assert.Len(t, run.Pages[0].ChunkIDs, 2, "capped at max chunks per page")
		for _, id := range run.Pages[0].ChunkIDs {
			assert.Contains(t, []string{
				core.ChunkID("run-1", "doc-a", 0), core.ChunkID("run-1", "doc-a", 1), core.ChunkID("run-1", "doc-a", 2),
			}, id)
		}
		assert.Len(t, run.Pages[1].ChunkIDs, 2)
		assert.Empty(t, run.Pages[2].ChunkIDs)
		assert.EqualValues(t, 1, run.Steps[core.StepPageContentRetrieval].Summary["empty_pages"])
	})

	t.Run("zero match page still gets markdown", func(t *testing.T) {
		page := run.Pages[2]
		assert.Equal(t, "# Landscaping\n\nContent about Landscaping.", page.Markdown)
		prompts := pagePrompts(env.generator)
		require.Len(t, prompts, 3)
		assert.Contains(t, prompts[2], "No excerpts matched this page.")
	})

	t.Run("markdown exported", func(t *testing.T) {
		for i, page := range run.Pages {
			assert.Equal(t, PageObject(run.ID, i), page.MarkdownRef)
			data, err := env.objects.Get(ctx, page.MarkdownRef)
			require.NoError(t, err)
			assert.Equal(t, page.Markdown, string(data))
		}
	})

	t.Run("prompts bounded by preview length", func(t *testing.T) {
		prompt := pagePrompts(env.generator)[0]
		assert.Contains(t, prompt, `<excerpt document="doc-a"`)
		assert.Equal(t, 2, strings.Count(prompt, "<excerpt "))
	})

	t.Run("requests use wiki generation settings", func(t *testing.T) {
		for _, req := range env.generator.Requests() {
			assert.Equal(t, "wiki-model", req.Model)
			assert.Equal(t, 5*time.Second, req.Timeout)
		}
	})
}

func TestRunPipeline_IndependentRuns(t *testing.T) {
	env := setupTestEnv(t)
	seedIndexRun(t, env.store, "run-1", defaultDocs())
	ctx := context.Background()

	first, err := env.orch.RunPipeline(ctx, "run-1")
	require.NoError(t, err)
	second, err := env.orch.RunPipeline(ctx, "run-1")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, core.StatusCompleted, first.Status())
	assert.Equal(t, core.StatusCompleted, second.Status())
	assert.Equal(t, 1, first.Steps[core.StepMarkdownGeneration].Attempt)
	assert.Equal(t, 1, second.Steps[core.StepMarkdownGeneration].Attempt)
	assert.NotEqual(t, first.Pages[0].MarkdownRef, second.Pages[0].MarkdownRef)

	runs, err := env.store.ListWikiRuns(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestRunPipeline_IndexRunNotFound(t *testing.T) {
	env := setupTestEnv(t)

	_, err := env.orch.RunPipeline(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)

	runs, err := env.store.ListWikiRuns(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRunPipeline_NoContent(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.CreateIndexRun(ctx, core.NewIndexRun("empty", "", time.Now())))

	run, err := env.orch.RunPipeline(ctx, "empty")
	require.NoError(t, err)

	assert.Equal(t, core.StatusFailed, run.Status())
	assert.Equal(t, core.StatusFailed, run.Steps[core.StepMetadataCollection].Status)
	assert.Contains(t, run.ErrorMessage(), "no completed documents")
	assert.NotContains(t, run.Steps, core.StepOverviewGeneration)
	assert.Zero(t, env.generator.CallCount())
}

func TestRunPipeline_StructureRejected(t *testing.T) {
	env := setupTestEnv(t)
	env.plan = testPlan[:1] // below the two page minimum for two documents
	seedIndexRun(t, env.store, "run-1", defaultDocs())

	run, err := env.orch.RunPipeline(context.Background(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, core.StatusFailed, run.Status())
	assert.Equal(t, core.StatusFailed, run.Steps[core.StepStructureGeneration].Status)
	assert.True(t, strings.HasPrefix(run.ErrorMessage(), string(core.StepStructureGeneration)+": "))
	assert.NotContains(t, run.Steps, core.StepPageContentRetrieval)
	assert.Equal(t, "A four storey office building.", run.Overview, "earlier output is kept")
	assert.Empty(t, run.Pages)
}

func TestRunPipeline_EmbedderDown(t *testing.T) {
	env := setupTestEnv(t)
	seedIndexRun(t, env.store, "run-1", defaultDocs())
	env.embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("connection refused")
	}

	run, err := env.orch.RunPipeline(context.Background(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, core.StatusCompleted, run.Steps[core.StepOverviewGeneration].Status, "overview absorbs failed queries")
	assert.EqualValues(t, 2, run.Steps[core.StepOverviewGeneration].Summary["failed_queries"])
	assert.Equal(t, core.StatusFailed, run.Steps[core.StepPageContentRetrieval].Status)
	assert.Contains(t, run.ErrorMessage(), "every page query failed")
	assert.Len(t, run.Pages, 3, "planned pages are kept")
}

func TestRunPipeline_PartialQueryFailure(t *testing.T) {
	env := setupTestEnv(t)
	seedIndexRun(t, env.store, "run-1", defaultDocs())
	env.embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		if text == "steel beams" {
			return []float32{}, nil
		}
		return keywordVector(text), nil
	}

	run, err := env.orch.RunPipeline(context.Background(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, core.StatusCompleted, run.Status())
	assert.EqualValues(t, 1, run.Steps[core.StepPageContentRetrieval].Summary["failed_queries"])
	assert.Len(t, run.Pages[1].ChunkIDs, 2, "sibling queries still fill the page")
}

func TestRunPipeline_FailureKeepsPagesAndResumes(t *testing.T) {
	env := setupTestEnv(t)
	seedIndexRun(t, env.store, "run-1", defaultDocs())
	env.failPage.Store("Steel")
	ctx := context.Background()

	run, err := env.orch.RunPipeline(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, core.StatusFailed, run.Status())
	failure := run.Steps[core.StepMarkdownGeneration]
	assert.Equal(t, core.StatusFailed, failure.Status)
	assert.Equal(t, failure.Error, run.ErrorMessage())
	assert.Contains(t, run.ErrorMessage(), `page 1 "Steel"`)
	assert.Contains(t, run.ErrorMessage(), "model overloaded")

	require.Len(t, run.Pages, 3)
	assert.NotEmpty(t, run.Pages[0].Markdown, "pages written before the failure are kept")
	assert.Empty(t, run.Pages[1].Markdown)
	assert.Empty(t, run.Pages[2].Markdown, "remaining pages are not attempted")

	env.failPage.Store("")
	calls := env.generator.CallCount()

	resumed, err := env.orch.Resume(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, resumed.ID)
	assert.Equal(t, core.StatusCompleted, resumed.Status())
	assert.Equal(t, 2, resumed.Steps[core.StepMarkdownGeneration].Attempt)
	assert.EqualValues(t, 1, resumed.Steps[core.StepMarkdownGeneration].Summary["kept"])
	assert.EqualValues(t, 2, resumed.Steps[core.StepMarkdownGeneration].Summary["generated"])
	assert.Equal(t, 1, resumed.Steps[core.StepStructureGeneration].Attempt, "completed steps are restored")
	assert.Equal(t, calls+2, env.generator.CallCount(), "only the missing pages are generated")

	for _, page := range resumed.Pages {
		assert.NotEmpty(t, page.MarkdownRef)
	}

	history, err := env.store.StepHistory(ctx, storage.WikiRunUnit(run.ID), core.StepMarkdownGeneration)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, core.StatusFailed, history[0].Status)
	assert.Equal(t, core.StatusCompleted, history[1].Status)

	again, err := env.orch.Resume(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Steps[core.StepMarkdownGeneration].Attempt, "completed run is not re-run")

	_, err = env.orch.Resume(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMergeMatches(t *testing.T) {
	sets := [][]core.ChunkMatch{
		{{ChunkID: "a", Score: 0.5, Seq: 1}, {ChunkID: "b", Score: 0.9, Seq: 2}},
		nil,
		{{ChunkID: "a", Score: 0.7, Seq: 1}, {ChunkID: "c", Score: 0.7, Seq: 0}},
	}

	merged := mergeMatches(sets, 10)
	require.Len(t, merged, 3)
	assert.Equal(t, "b", merged[0].ChunkID)
	assert.Equal(t, "c", merged[1].ChunkID, "equal scores keep insertion order")
	assert.Equal(t, "a", merged[2].ChunkID)
	assert.InDelta(t, 0.7, merged[2].Score, 1e-6, "best score wins")

	assert.Len(t, mergeMatches(sets, 1), 1)
	assert.Empty(t, mergeMatches(nil, 5))
}
