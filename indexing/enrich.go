package indexing

import (
	"context"
	"fmt"
	"strings"

	"github.com/poiesic/plansight/ai"
	"github.com/poiesic/plansight/core"
)

const enrichSystemPrompt = "You are a construction document parser. You transcribe drawings, schedules and " +
	"scanned pages into markdown. Accuracy, detail, and information preservation are of utmost importance."

const enrichUserPrompt = `You will be provided with one page of a construction document.

Transcribe the page into markdown:
Text: Copy all legible text, including notes, callouts, title block fields and sheet numbers.
Tables and schedules: Render them as markdown tables. Copy merged cell content into every cell it spans.
Drawings and images: Describe what is shown, including dimensions, materials, grid lines and references to other sheets.
Ignore repeated headers, footers and page numbers.

Return only the markdown.`

// needsEnrichment reports whether el carries content that text extraction
// could not recover. Elements from a full-page extraction, tables included,
// are already covered.
func needsEnrichment(el core.Element) bool {
	return el.AssetRef != "" && el.Description == "" && !el.FullPage
}

// assetType is the MIME type of the asset behind el.
func assetType(el core.Element) string {
	if el.AssetType == "" {
		return ai.MIMETypePDF
	}
	return el.AssetType
}

// describe asks the vision model to transcribe the page behind el.
func (o *Orchestrator) describe(ctx context.Context, el core.Element) (string, error) {
	data, err := o.objects.Get(ctx, el.AssetRef)
	if err != nil {
		return "", fmt.Errorf("load page asset %s: %w", el.AssetRef, err)
	}

	gen := o.settings.Generation
	resp, err := o.generator.Generate(ctx, ai.GenerateRequest{
		Model:          gen.Model,
		FallbackModels: gen.FallbackModels,
		System:         enrichSystemPrompt,
		Prompt:         enrichUserPrompt,
		Attachments:    []ai.Attachment{{MIMEType: assetType(el), Data: data}},
		Temperature:    gen.Temperature,
		MaxTokens:      gen.MaxTokens,
		Timeout:        gen.Timeout,
	})
	if err != nil {
		return "", fmt.Errorf("page %d: %w", el.Page, err)
	}
	return strings.TrimSpace(resp.Text), nil
}
