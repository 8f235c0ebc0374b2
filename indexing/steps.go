package indexing

import (
	"context"
	"fmt"
	"slices"

	"github.com/poiesic/plansight/ai"
	"github.com/poiesic/plansight/core"
	"github.com/poiesic/plansight/extract"
	"github.com/poiesic/plansight/pipeline"
	"github.com/poiesic/plansight/storage"
)

// documentState is the working state of one document as it moves through
// the per-document steps.
type documentState struct {
	input    core.DocumentInput
	elements []core.Element
	chunks   []*core.Chunk

	// ready is set once every per-document step is satisfied in this pass.
	ready bool

	// rechunked is set when chunking executed rather than restored, which
	// leaves the stored chunks without vectors.
	rechunked bool
}

func (s *documentState) unit() string {
	return storage.DocumentUnit(s.input.RunID, s.input.ID)
}

func (s *documentState) recorder(runs storage.RunRepository) pipeline.DocumentRecorder {
	return pipeline.DocumentRecorder{Repo: runs, RunID: s.input.RunID, DocumentID: s.input.ID}
}

// chunkingArtifact records how many chunks a document produced, so a
// restore can tell an intact chunk set from a partial one.
type chunkingArtifact struct {
	Count int `json:"count"`
}

// documentSteps builds the per-document steps in declared order.
func (o *Orchestrator) documentSteps() []pipeline.Step[documentState] {
	return []pipeline.Step[documentState]{
		{Name: core.StepPartition, Run: o.partition, Restore: o.restoreElements(core.StepPartition)},
		{Name: core.StepMetadata, Run: o.metadata, Restore: o.restoreElements(core.StepMetadata)},
		{Name: core.StepEnrichment, Run: o.enrich, Restore: o.restoreElements(core.StepEnrichment)},
		{Name: core.StepChunking, Run: o.chunk, Restore: o.restoreChunks},
	}
}

func (o *Orchestrator) partition(ctx context.Context, s *documentState) (pipeline.Outcome, error) {
	elements, err := o.extractor.Extract(ctx, extract.Request{
		RunID:      s.input.RunID,
		DocumentID: s.input.ID,
		FilePath:   s.input.FilePath,
		Filename:   s.input.Filename,
	})
	if err != nil {
		return pipeline.Outcome{}, err
	}
	if len(elements) == 0 {
		return pipeline.Outcome{}, fmt.Errorf("%w: %s has no pages", core.ErrValidation, s.input.Filename)
	}
	s.elements = elements
	if err := o.saveElements(ctx, s, core.StepPartition); err != nil {
		return pipeline.Outcome{}, err
	}

	kinds := make(map[core.ElementKind]int)
	var samples []string
	for _, el := range elements {
		kinds[el.Kind]++
		if el.Text != "" {
			samples = append(samples, el.Text)
		}
	}
	return pipeline.Outcome{
		Summary: map[string]any{
			"elements": len(elements),
			"pages":    len(extract.SortedPages(elements)),
			"text":     kinds[core.ElementText],
			"images":   kinds[core.ElementImage],
		},
		Samples: samples,
	}, nil
}

func (o *Orchestrator) metadata(ctx context.Context, s *documentState) (pipeline.Outcome, error) {
	sections, tables := annotate(s.elements)
	if err := o.saveElements(ctx, s, core.StepMetadata); err != nil {
		return pipeline.Outcome{}, err
	}
	return pipeline.Outcome{
		Summary: map[string]any{"sections": len(sections), "tables": tables},
		Samples: sections,
	}, nil
}

func (o *Orchestrator) enrich(ctx context.Context, s *documentState) (pipeline.Outcome, error) {
	var targets []int
	unsupported := 0
	if o.options.Enrichment {
		for i, el := range s.elements {
			if !needsEnrichment(el) {
				continue
			}
			if !ai.AcceptsAttachment(o.generator, assetType(el)) {
				unsupported++
				continue
			}
			targets = append(targets, i)
		}
	}
	if unsupported > 0 {
		o.logger.Warn("model cannot read page assets", "document", s.input.ID, "pages", unsupported)
	}

	if len(targets) == 0 {
		// a skipped enrichment still stores elements for the next restore
		if err := o.saveElements(ctx, s, core.StepEnrichment); err != nil {
			return pipeline.Outcome{}, err
		}
		switch {
		case !o.options.Enrichment:
			return pipeline.Skipped("enrichment disabled"), nil
		case unsupported > 0:
			return pipeline.Skipped(fmt.Sprintf("model accepts none of %d page assets", unsupported)), nil
		}
		return pipeline.Skipped("no pages need enrichment"), nil
	}

	enriched := slices.Clone(s.elements)
	var samples []string
	for _, i := range targets {
		text, err := o.describe(ctx, enriched[i])
		if err != nil {
			return pipeline.Outcome{}, err
		}
		enriched[i].Description = text
		samples = append(samples, text)
	}
	s.elements = enriched
	if err := o.saveElements(ctx, s, core.StepEnrichment); err != nil {
		return pipeline.Outcome{}, err
	}
	return pipeline.Outcome{
		Summary: map[string]any{"enriched": len(targets), "unsupported": unsupported},
		Samples: samples,
	}, nil
}

func (o *Orchestrator) chunk(ctx context.Context, s *documentState) (pipeline.Outcome, error) {
	chunking := o.settings.Chunking
	chunks := buildChunks(s.input.RunID, s.input.ID, s.elements, chunking.ChunkSize, chunking.Overlap)

	// PutChunks also clears chunks left over from a longer earlier attempt
	if err := o.chunks.PutChunks(ctx, s.input.RunID, s.input.ID, chunks); err != nil {
		return pipeline.Outcome{}, core.ExternalServiceError("chunk store", err)
	}
	if err := o.artifacts.SaveArtifact(ctx, s.unit(), core.StepChunking, chunkingArtifact{Count: len(chunks)}); err != nil {
		return pipeline.Outcome{}, err
	}
	s.chunks = chunks

	if len(chunks) == 0 {
		return pipeline.Skipped("no text to chunk"), nil
	}
	samples := make([]string, 0, core.MaxSamples)
	for _, c := range chunks[:min(len(chunks), core.MaxSamples)] {
		samples = append(samples, c.Content)
	}
	return pipeline.Outcome{
		Summary: map[string]any{"chunks": len(chunks), "chunk_size": chunking.ChunkSize, "overlap": chunking.Overlap},
		Samples: samples,
	}, nil
}

func (o *Orchestrator) saveElements(ctx context.Context, s *documentState, step core.StepName) error {
	if err := o.artifacts.SaveArtifact(ctx, s.unit(), step, s.elements); err != nil {
		return fmt.Errorf("save %s output: %w", step, err)
	}
	return nil
}

func (o *Orchestrator) restoreElements(step core.StepName) func(context.Context, *documentState) (bool, error) {
	return func(ctx context.Context, s *documentState) (bool, error) {
		var elements []core.Element
		ok, err := o.artifacts.LoadArtifact(ctx, s.unit(), step, &elements)
		if err != nil || !ok {
			return false, err
		}
		s.elements = elements
		return true, nil
	}
}

func (o *Orchestrator) restoreChunks(ctx context.Context, s *documentState) (bool, error) {
	var artifact chunkingArtifact
	ok, err := o.artifacts.LoadArtifact(ctx, s.unit(), core.StepChunking, &artifact)
	if err != nil || !ok {
		return false, err
	}
	chunks, err := o.chunks.GetChunks(ctx, s.input.RunID, s.input.ID)
	if err != nil {
		return false, err
	}
	if len(chunks) != artifact.Count {
		return false, nil
	}
	s.chunks = chunks
	return true, nil
}
