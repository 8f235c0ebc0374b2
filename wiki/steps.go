package wiki

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/poiesic/plansight/ai"
	"github.com/poiesic/plansight/core"
	"github.com/poiesic/plansight/pipeline"
	"github.com/poiesic/plansight/retrieval"
	"github.com/poiesic/plansight/storage"
	"golang.org/x/sync/errgroup"
)

// maxSections bounds the section list handed to the model.
const maxSections = 60

// wikiState carries step outputs through one wiki run.
type wikiState struct {
	wikiID    string
	indexRun  *core.IndexRun
	metadata  runMetadata
	overview  overview
	pages     []pagePlan
	retrieved [][]core.ChunkMatch
}

type runMetadata struct {
	RunName   string         `json:"run_name,omitempty"`
	Documents []documentInfo `json:"documents"`
	Chunks    int            `json:"chunks"`
	Sections  []string       `json:"sections,omitempty"`
}

type documentInfo struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
}

type overview struct {
	Title    string   `json:"title"`
	Overview string   `json:"overview"`
	Topics   []string `json:"topics,omitempty"`
	Sample   []string `json:"sample,omitempty"`
}

type pagePlan struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Queries     []string `json:"queries"`
}

type structure struct {
	Pages []pagePlan `json:"pages"`
}

func (s *wikiState) unit() string {
	return storage.WikiRunUnit(s.wikiID)
}

func (o *Orchestrator) wikiSteps() []pipeline.Step[wikiState] {
	return []pipeline.Step[wikiState]{
		{
			Name:    core.StepMetadataCollection,
			Run:     o.collectMetadata,
			Restore: restoreArtifact(o, core.StepMetadataCollection, func(s *wikiState) any { return &s.metadata }),
		},
		{
			Name:    core.StepOverviewGeneration,
			Run:     o.generateOverview,
			Restore: restoreArtifact(o, core.StepOverviewGeneration, func(s *wikiState) any { return &s.overview }),
		},
		{
			Name:    core.StepStructureGeneration,
			Run:     o.generateStructure,
			Restore: restoreArtifact(o, core.StepStructureGeneration, func(s *wikiState) any { return &s.pages }),
		},
		{
			Name: core.StepPageContentRetrieval,
			Run:  o.retrievePageContent,
			Restore: func(ctx context.Context, s *wikiState) (bool, error) {
				ok, err := o.artifacts.LoadArtifact(ctx, s.unit(), core.StepPageContentRetrieval, &s.retrieved)
				return ok && err == nil && len(s.retrieved) == len(s.pages), err
			},
		},
		{
			Name: core.StepMarkdownGeneration,
			Run:  o.generateMarkdown,
		},
	}
}

// restoreArtifact loads a step's saved output into the field chosen by target.
func restoreArtifact(o *Orchestrator, step core.StepName, target func(*wikiState) any) func(context.Context, *wikiState) (bool, error) {
	return func(ctx context.Context, s *wikiState) (bool, error) {
		return o.artifacts.LoadArtifact(ctx, s.unit(), step, target(s))
	}
}

// collectMetadata gathers the completed documents and the sections of the run.
func (o *Orchestrator) collectMetadata(ctx context.Context, s *wikiState) (pipeline.Outcome, error) {
	runID := s.indexRun.ID
	docs, err := o.runs.ListDocuments(ctx, runID)
	if err != nil {
		return pipeline.Outcome{}, fmt.Errorf("list documents: %w", err)
	}

	meta := runMetadata{RunName: s.indexRun.Name}
	for _, doc := range docs {
		if doc.Status() == core.StatusCompleted {
			meta.Documents = append(meta.Documents, documentInfo{ID: doc.ID, Filename: doc.Filename})
		}
	}
	if len(meta.Documents) == 0 {
		return pipeline.Outcome{}, fmt.Errorf("%w: run %s has no completed documents", ErrNoContent, runID)
	}

	chunks, err := o.chunks.ListRunChunks(ctx, runID)
	if err != nil {
		return pipeline.Outcome{}, core.ExternalServiceError("chunk store", err)
	}
	for _, c := range chunks {
		if len(c.Vector) == 0 {
			continue
		}
		meta.Chunks++
		if c.Section != "" && len(meta.Sections) < maxSections && !slices.Contains(meta.Sections, c.Section) {
			meta.Sections = append(meta.Sections, c.Section)
		}
	}
	if meta.Chunks == 0 {
		return pipeline.Outcome{}, fmt.Errorf("%w: run %s has no embedded chunks", ErrNoContent, runID)
	}

	if err := o.artifacts.SaveArtifact(ctx, s.unit(), core.StepMetadataCollection, meta); err != nil {
		return pipeline.Outcome{}, err
	}
	s.metadata = meta

	samples := make([]string, 0, len(meta.Documents))
	for _, d := range meta.Documents {
		samples = append(samples, d.Filename)
	}
	return pipeline.Outcome{
		Summary: map[string]any{
			"documents": len(meta.Documents),
			"chunks":    meta.Chunks,
			"sections":  len(meta.Sections),
		},
		Samples: samples,
	}, nil
}

// generateOverview samples the top-ranked chunks for the overview queries and
// asks the model for a project overview.
func (o *Orchestrator) generateOverview(ctx context.Context, s *wikiState) (pipeline.Outcome, error) {
	queries := make([]retrieval.Query, len(o.options.OverviewQueries))
	for i, text := range o.options.OverviewQueries {
		queries[i] = retrieval.Query{Text: text, IndexRunID: s.indexRun.ID, TopK: o.options.OverviewSampleSize}
	}
	results, failed := o.retrieve(ctx, queries)
	if err := ctx.Err(); err != nil {
		return pipeline.Outcome{}, err
	}
	sample := mergeMatches(results, o.options.OverviewSampleSize)

	prompt, err := render(overviewTemplate, map[string]any{
		"Metadata": s.metadata,
		"Excerpts": excerpts(sample, o.options.ContentPreviewLength),
	})
	if err != nil {
		return pipeline.Outcome{}, err
	}

	var ov overview
	if _, err := ai.GenerateJSON(ctx, o.generator, o.request(prompt), overviewSchema, &ov); err != nil {
		return pipeline.Outcome{}, err
	}
	ov.Overview = strings.TrimSpace(ov.Overview)
	for _, m := range sample {
		ov.Sample = append(ov.Sample, m.ChunkID)
	}

	if err := o.artifacts.SaveArtifact(ctx, s.unit(), core.StepOverviewGeneration, ov); err != nil {
		return pipeline.Outcome{}, err
	}
	if _, err := o.runs.UpdateWikiRun(ctx, s.wikiID, func(run *core.WikiRun) error {
		run.Overview = ov.Overview
		return nil
	}); err != nil {
		return pipeline.Outcome{}, err
	}
	s.overview = ov

	return pipeline.Outcome{
		Summary: map[string]any{
			"queries":        len(queries),
			"failed_queries": failed,
			"sample":         len(sample),
			"topics":         len(ov.Topics),
		},
		Samples: []string{ov.Title, ov.Overview},
	}, nil
}

// generateStructure asks the model for the page plan and stores the pages on
// the wiki run.
func (o *Orchestrator) generateStructure(ctx context.Context, s *wikiState) (pipeline.Outcome, error) {
	docs := len(s.metadata.Documents)
	minPages := o.options.MinPagesPerDocument * docs
	maxPages := o.options.MaxPagesPerDocument * docs

	schema, err := structureSchema(minPages, maxPages, o.options.MinQueriesPerPage, o.options.MaxQueriesPerPage)
	if err != nil {
		return pipeline.Outcome{}, err
	}
	prompt, err := render(structureTemplate, map[string]any{
		"Overview":   s.overview.Overview,
		"Metadata":   s.metadata,
		"MinPages":   minPages,
		"MaxPages":   maxPages,
		"MinQueries": o.options.MinQueriesPerPage,
		"MaxQueries": o.options.MaxQueriesPerPage,
	})
	if err != nil {
		return pipeline.Outcome{}, err
	}

	var plan structure
	if _, err := ai.GenerateJSON(ctx, o.generator, o.request(prompt), schema, &plan); err != nil {
		return pipeline.Outcome{}, err
	}

	pages := make([]core.WikiPage, len(plan.Pages))
	titles := make([]string, len(plan.Pages))
	queries := 0
	for i := range plan.Pages {
		p := &plan.Pages[i]
		p.Title = strings.TrimSpace(p.Title)
		p.Description = strings.TrimSpace(p.Description)
		for j, q := range p.Queries {
			p.Queries[j] = strings.TrimSpace(q)
		}
		pages[i] = core.WikiPage{Index: i, Title: p.Title, Description: p.Description, Queries: p.Queries}
		titles[i] = p.Title
		queries += len(p.Queries)
	}

	if err := o.artifacts.SaveArtifact(ctx, s.unit(), core.StepStructureGeneration, plan.Pages); err != nil {
		return pipeline.Outcome{}, err
	}
	if _, err := o.runs.UpdateWikiRun(ctx, s.wikiID, func(run *core.WikiRun) error {
		run.Pages = pages
		return nil
	}); err != nil {
		return pipeline.Outcome{}, err
	}
	s.pages = plan.Pages

	return pipeline.Outcome{
		Summary: map[string]any{"pages": len(pages), "queries": queries},
		Samples: titles,
	}, nil
}

// retrievePageContent runs every page query and merges the matches per page.
// A failed query contributes no chunks.
func (o *Orchestrator) retrievePageContent(ctx context.Context, s *wikiState) (pipeline.Outcome, error) {
	var queries []retrieval.Query
	var owner []int
	for i, p := range s.pages {
		for _, text := range p.Queries {
			queries = append(queries, retrieval.Query{Text: text, IndexRunID: s.indexRun.ID})
			owner = append(owner, i)
		}
	}

	results, failed := o.retrieve(ctx, queries)
	if err := ctx.Err(); err != nil {
		return pipeline.Outcome{}, err
	}
	if len(queries) > 0 && failed == len(queries) {
		return pipeline.Outcome{}, ErrRetrievalFailed
	}

	perPage := make([][][]core.ChunkMatch, len(s.pages))
	for q, matches := range results {
		perPage[owner[q]] = append(perPage[owner[q]], matches)
	}
	retrieved := make([][]core.ChunkMatch, len(s.pages))
	chunkIDs := make([][]string, len(s.pages))
	empty, total := 0, 0
	for i := range s.pages {
		retrieved[i] = mergeMatches(perPage[i], o.options.MaxChunksPerPage)
		for _, m := range retrieved[i] {
			chunkIDs[i] = append(chunkIDs[i], m.ChunkID)
		}
		if len(retrieved[i]) == 0 {
			empty++
		}
		total += len(retrieved[i])
	}

	if err := o.artifacts.SaveArtifact(ctx, s.unit(), core.StepPageContentRetrieval, retrieved); err != nil {
		return pipeline.Outcome{}, err
	}
	if _, err := o.runs.UpdateWikiRun(ctx, s.wikiID, func(run *core.WikiRun) error {
		for i := range run.Pages {
			if i < len(chunkIDs) {
				run.Pages[i].ChunkIDs = chunkIDs[i]
			}
		}
		return nil
	}); err != nil {
		return pipeline.Outcome{}, err
	}
	s.retrieved = retrieved

	return pipeline.Outcome{
		Summary: map[string]any{
			"queries":        len(queries),
			"failed_queries": failed,
			"chunks":         total,
			"empty_pages":    empty,
		},
	}, nil
}

// generateMarkdown writes each page and exports it to the object store. Pages
// written by an earlier attempt are kept.
func (o *Orchestrator) generateMarkdown(ctx context.Context, s *wikiState) (pipeline.Outcome, error) {
	run, err := o.runs.GetWikiRun(ctx, s.wikiID)
	if err != nil {
		return pipeline.Outcome{}, err
	}

	generated, kept := 0, 0
	var samples []string
	for i, plan := range s.pages {
		if i < len(run.Pages) && run.Pages[i].MarkdownRef != "" {
			kept++
			continue
		}

		var matches []core.ChunkMatch
		if i < len(s.retrieved) {
			matches = s.retrieved[i]
		}
		markdown, err := o.writePage(ctx, s, plan, matches)
		if err != nil {
			return pipeline.Outcome{}, fmt.Errorf("page %d %q: %w", i, plan.Title, err)
		}
		ref, err := o.export(ctx, s.wikiID, i, markdown)
		if err != nil {
			return pipeline.Outcome{}, fmt.Errorf("page %d %q: %w", i, plan.Title, err)
		}

		if _, err := o.runs.UpdateWikiRun(ctx, s.wikiID, func(run *core.WikiRun) error {
			if i >= len(run.Pages) {
				return fmt.Errorf("wiki run has no page %d", i)
			}
			run.Pages[i].Markdown = markdown
			run.Pages[i].MarkdownRef = ref
			return nil
		}); err != nil {
			return pipeline.Outcome{}, err
		}
		generated++
		samples = append(samples, markdown)
	}

	return pipeline.Outcome{
		Summary: map[string]any{"pages": len(s.pages), "generated": generated, "kept": kept},
		Samples: samples,
	}, nil
}

// writePage generates one page from at most MaxChunksPerPage excerpts of
// ContentPreviewLength runes each.
func (o *Orchestrator) writePage(ctx context.Context, s *wikiState, plan pagePlan, matches []core.ChunkMatch) (string, error) {
	if len(matches) > o.options.MaxChunksPerPage {
		matches = matches[:o.options.MaxChunksPerPage]
	}
	prompt, err := render(pageTemplate, map[string]any{
		"Page":     plan,
		"Overview": s.overview.Overview,
		"Excerpts": excerpts(matches, o.options.ContentPreviewLength),
	})
	if err != nil {
		return "", err
	}

	resp, err := o.generator.Generate(ctx, o.request(prompt))
	if err != nil {
		return "", err
	}
	markdown := strings.TrimSpace(resp.Text)
	if !strings.HasPrefix(markdown, "# ") {
		markdown = "# " + plan.Title + "\n\n" + markdown
	}
	return markdown, nil
}

// request builds a generation request with the wiki settings.
func (o *Orchestrator) request(prompt string) ai.GenerateRequest {
	gen := o.settings.Generation
	return ai.GenerateRequest{
		Model:          gen.Model,
		FallbackModels: gen.FallbackModels,
		System:         systemPrompt,
		Prompt:         prompt,
		Temperature:    gen.Temperature,
		MaxTokens:      gen.MaxTokens,
		Timeout:        gen.Timeout,
	}
}

// retrieve runs queries with bounded concurrency. Failed queries leave a nil
// entry and are counted.
func (o *Orchestrator) retrieve(ctx context.Context, queries []retrieval.Query) ([][]core.ChunkMatch, int) {
	results := make([][]core.ChunkMatch, len(queries))
	errs := make([]error, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.options.RetrievalConcurrency)
	for i, q := range queries {
		g.Go(func() error {
			matches, err := o.search.Search(gctx, q)
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i] = matches
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for i, err := range errs {
		if err != nil {
			failed++
			o.logger.Warn("page query failed", "query", queries[i].Text, "err", err)
		}
	}
	return results, failed
}

// mergeMatches deduplicates matches by chunk, keeping the best score, and
// returns the top limit in rank order.
func mergeMatches(sets [][]core.ChunkMatch, limit int) []core.ChunkMatch {
	best := make(map[string]core.ChunkMatch)
	for _, set := range sets {
		for _, m := range set {
			if prev, ok := best[m.ChunkID]; !ok || m.Score > prev.Score {
				best[m.ChunkID] = m
			}
		}
	}
	merged := make([]core.ChunkMatch, 0, len(best))
	for _, m := range best {
		merged = append(merged, m)
	}
	slices.SortFunc(merged, core.CompareMatches)
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
