package indexing

import (
	"context"
	"testing"

	"github.com/poiesic/plansight/ai"
	"github.com/poiesic/plansight/config"
	"github.com/poiesic/plansight/core"
	"github.com/poiesic/plansight/extract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeedsEnrichment(t *testing.T) {
	tests := []struct {
		name string
		el   core.Element
		want bool
	}{
		{"scanned page", core.Element{Kind: core.ElementImage, Page: 1, AssetRef: "p1"}, true},
		{"no asset", core.Element{Kind: core.ElementImage, Page: 1}, false},
		{"already described", core.Element{Kind: core.ElementImage, AssetRef: "p1", Description: "plan"}, false},
		{"full-page text", core.Element{Kind: core.ElementText, AssetRef: "p1", FullPage: true}, false},
		{"full-page table", core.Element{Kind: core.ElementTable, AssetRef: "p1", FullPage: true}, false},
		{"partial table", core.Element{Kind: core.ElementTable, AssetRef: "p1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, needsEnrichment(tt.el))
		})
	}
}

func TestAssetType(t *testing.T) {
	assert.Equal(t, ai.MIMETypePDF, assetType(core.Element{AssetRef: "p1"}))
	assert.Equal(t, ai.MIMETypePNG, assetType(core.Element{AssetRef: "p1", AssetType: ai.MIMETypePNG}))
}

func TestProcessDocuments_EnrichmentFollowsModelFormats(t *testing.T) {
	env := setupTestEnv(t, func(o *config.IndexingOptions) { o.Enrichment = true })
	ctx := context.Background()

	image := extract.ImageObject("run-1", "plans", 2, ai.MIMETypePNG)
	_, err := env.objects.Put(ctx, image, []byte{0x89, 'P', 'N', 'G'}, ai.MIMETypePNG)
	require.NoError(t, err)

	env.extractor.pages["plans.pdf"] = []core.Element{
		{Kind: core.ElementImage, Page: 1, AssetRef: extract.PageObject("run-1", "plans", 1), AssetType: ai.MIMETypePDF},
		{Kind: core.ElementImage, Page: 2, AssetRef: image, AssetType: ai.MIMETypePNG},
	}
	gen := env.provider.GetMockGenerator()
	gen.AcceptFunc = func(mimeType string) bool { return mimeType != ai.MIMETypePDF }
	gen.GenerateFunc = func(ctx context.Context, req ai.GenerateRequest) (*ai.GenerateResponse, error) {
		return &ai.GenerateResponse{Text: "Elevation of grid line C", Model: req.Model}, nil
	}

	allCompleted, err := env.orch.ProcessDocuments(ctx, "run-1", []core.DocumentInput{input("run-1", "plans")}, nil)
	require.NoError(t, err)
	assert.True(t, allCompleted)

	requests := gen.Requests()
	require.Len(t, requests, 1, "the PDF page is left for a model that can read it")
	require.Len(t, requests[0].Attachments, 1)
	assert.Equal(t, ai.MIMETypePNG, requests[0].Attachments[0].MIMEType)

	doc, err := env.store.GetDocument(ctx, "run-1", "plans")
	require.NoError(t, err)
	step := doc.Steps[core.StepEnrichment]
	assert.Equal(t, core.StatusCompleted, step.Status)
	assert.EqualValues(t, 1, step.Summary["enriched"])
	assert.EqualValues(t, 1, step.Summary["unsupported"])
}

func TestProcessDocuments_EnrichmentSkipsUnreadableAssets(t *testing.T) {
	env := setupTestEnv(t, func(o *config.IndexingOptions) { o.Enrichment = true })
	ctx := context.Background()

	env.extractor.pages["plans.pdf"] = []core.Element{
		{Kind: core.ElementText, Page: 1, Text: "GENERAL NOTES", FullPage: true, AssetRef: extract.PageObject("run-1", "plans", 1)},
		{Kind: core.ElementImage, Page: 2, AssetRef: extract.PageObject("run-1", "plans", 2)},
	}
	gen := env.provider.GetMockGenerator()
	gen.AcceptFunc = func(mimeType string) bool { return false }

	allCompleted, err := env.orch.ProcessDocuments(ctx, "run-1", []core.DocumentInput{input("run-1", "plans")}, nil)
	require.NoError(t, err)
	assert.True(t, allCompleted, "an unreadable page does not fail the document")
	assert.Zero(t, gen.CallCount())

	doc, err := env.store.GetDocument(ctx, "run-1", "plans")
	require.NoError(t, err)
	assert.Equal(t, core.StatusSkipped, doc.Steps[core.StepEnrichment].Status)
	assert.Contains(t, doc.Steps[core.StepEnrichment].Summary["reason"], "page assets")
}
