package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/poiesic/plansight/core"
	"github.com/poiesic/plansight/storage/objects"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestPDF writes a minimal PDF with one page per entry. A non-empty
// entry is drawn as lines of Helvetica text; an empty entry is a blank page.
func writeTestPDF(t *testing.T, path string, pages []string) {
	t.Helper()

	var objs []string
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	objs = append(objs,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	)
	for i, text := range pages {
		var stream strings.Builder
		if text != "" {
			stream.WriteString("BT /F1 12 Tf 72 720 Td\n")
			for j, line := range strings.Split(text, "\n") {
				if j > 0 {
					stream.WriteString("0 -14 Td\n")
				}
				fmt.Fprintf(&stream, "(%s) Tj\n", line)
			}
			stream.WriteString("ET")
		}
		objs = append(objs,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", stream.Len(), stream.String()),
		)
	}

	var b strings.Builder
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, obj := range objs {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)

	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
}

func TestCheckPDF(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.pdf")
	writeTestPDF(t, good, []string{"A"})
	assert.NoError(t, CheckPDF(good))

	padded := filepath.Join(dir, "padded.pdf")
	require.NoError(t, os.WriteFile(padded, []byte("\n\n%PDF-1.7\n"), 0o644))
	assert.NoError(t, CheckPDF(padded))

	bad := filepath.Join(dir, "bad.pdf")
	require.NoError(t, os.WriteFile(bad, []byte("PK\x03\x04 this is a zip"), 0o644))
	err := CheckPDF(bad)
	assert.ErrorIs(t, err, ErrNotPDF)
	assert.ErrorIs(t, err, core.ErrValidation)

	empty := filepath.Join(dir, "empty.pdf")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	assert.ErrorIs(t, CheckPDF(empty), ErrNotPDF)

	assert.ErrorIs(t, CheckPDF(filepath.Join(dir, "missing.pdf")), core.ErrValidation)
}

func TestPageObject(t *testing.T) {
	assert.Equal(t, "run-1/doc-1/pages/00001.pdf", PageObject("run-1", "doc-1", 1))
	assert.Equal(t, "run-1/doc-1/pages/00120.pdf", PageObject("run-1", "doc-1", 120))
}

func TestImageObject(t *testing.T) {
	assert.Equal(t, "run-1/doc-1/images/00002.png", ImageObject("run-1", "doc-1", 2, "image/png"))
	assert.Equal(t, "run-1/doc-1/images/00002.jpg", ImageObject("run-1", "doc-1", 2, "image/jpeg"))
}

func TestLargestImagesWithoutPages(t *testing.T) {
	images, err := largestImages(filepath.Join(t.TempDir(), "missing.pdf"), nil)
	require.NoError(t, err)
	assert.Empty(t, images)
}

func TestNumberedFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"document_1.pdf", "document_2.pdf", "document_10.PDF", "notes.txt", "cover.pdf"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	files, err := numberedFiles(dir, ".pdf")
	require.NoError(t, err)
	assert.Len(t, files, 3)
	assert.Equal(t, filepath.Join(dir, "document_10.PDF"), files[10])
}

func TestPDFExtractor(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := objects.NewLocalStore(filepath.Join(dir, "objects"))
	require.NoError(t, err)

	extractor, err := NewPDFExtractor(store, WithWorkDir(dir), WithUploadConcurrency(2))
	require.NoError(t, err)

	pdf := filepath.Join(dir, "plans.pdf")
	writeTestPDF(t, pdf, []string{"GENERAL NOTES\n1. Verify all dimensions", "", "DOOR SCHEDULE"})

	req := Request{RunID: "run-1", DocumentID: "doc-1", FilePath: pdf, Filename: "plans.pdf"}
	elements, err := extractor.Extract(ctx, req)
	require.NoError(t, err)
	require.Len(t, elements, 3)

	assert.Equal(t, core.ElementText, elements[0].Kind)
	assert.True(t, elements[0].FullPage)
	assert.Contains(t, elements[0].Text, "GENERAL NOTES")
	assert.Contains(t, elements[0].Text, "Verify all dimensions")

	assert.Equal(t, core.ElementImage, elements[1].Kind, "blank pages need a vision pass")
	assert.False(t, elements[1].FullPage)

	for i, el := range elements {
		assert.Equal(t, i+1, el.Page)
		assert.Equal(t, PageObject("run-1", "doc-1", i+1), el.AssetRef, "pages without an embedded image keep the PDF")
		assert.Equal(t, "application/pdf", el.AssetType)
		data, err := store.Get(ctx, el.AssetRef)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(data), "%PDF-"))
	}

	t.Run("re-extraction is idempotent", func(t *testing.T) {
		again, err := extractor.Extract(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, elements, again)
	})
}

func TestPDFExtractorRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	store, err := objects.NewLocalStore(filepath.Join(dir, "objects"))
	require.NoError(t, err)
	extractor, err := NewPDFExtractor(store, WithWorkDir(dir))
	require.NoError(t, err)

	notPDF := filepath.Join(dir, "specs.pdf")
	require.NoError(t, os.WriteFile(notPDF, []byte("hello"), 0o644))
	_, err = extractor.Extract(context.Background(), Request{RunID: "r", DocumentID: "d", FilePath: notPDF})
	assert.ErrorIs(t, err, ErrNotPDF)

	corrupt := filepath.Join(dir, "corrupt.pdf")
	require.NoError(t, os.WriteFile(corrupt, []byte("%PDF-1.4\ngarbage without objects"), 0o644))
	_, err = extractor.Extract(context.Background(), Request{RunID: "r", DocumentID: "d", FilePath: corrupt})
	assert.ErrorIs(t, err, ErrCorruptPDF)

	_, err = NewPDFExtractor(nil)
	assert.ErrorIs(t, err, ErrObjectStoreRequired)
}
