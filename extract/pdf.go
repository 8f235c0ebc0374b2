package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/poiesic/plansight/core"
	"github.com/poiesic/plansight/storage"
	"golang.org/x/sync/errgroup"
)

const defaultUploadConcurrency = 8

const mimePDF = "application/pdf"

// PDFExtractor extracts page elements from PDFs using pdfcpu.
type PDFExtractor struct {
	objects           storage.ObjectStore
	workDir           string
	uploadConcurrency int
	logger            *slog.Logger
}

// Option configures a PDFExtractor.
type Option func(*PDFExtractor)

// WithWorkDir sets the parent directory for temporary files.
// Default is os.TempDir().
func WithWorkDir(dir string) Option {
	return func(e *PDFExtractor) {
		e.workDir = dir
	}
}

// WithUploadConcurrency bounds concurrent page uploads.
func WithUploadConcurrency(n int) Option {
	return func(e *PDFExtractor) {
		if n > 0 {
			e.uploadConcurrency = n
		}
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *PDFExtractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewPDFExtractor creates an extractor that stores page assets in objects.
func NewPDFExtractor(objects storage.ObjectStore, opts ...Option) (*PDFExtractor, error) {
	if objects == nil {
		return nil, ErrObjectStoreRequired
	}
	e := &PDFExtractor{
		objects:           objects,
		uploadConcurrency: defaultUploadConcurrency,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "pdf-extractor")
	return e, nil
}

// Extract validates, splits and uploads the PDF, returning one element per page.
func (e *PDFExtractor) Extract(ctx context.Context, req Request) ([]core.Element, error) {
	logger := e.logger.With("run", req.RunID, "document", req.DocumentID)

	if err := CheckPDF(req.FilePath); err != nil {
		return nil, err
	}

	tempDir, err := os.MkdirTemp(e.workDir, "plansight-extract-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	optimized := filepath.Join(tempDir, "document.pdf")
	if err := api.OptimizeFile(req.FilePath, optimized, relaxedConfig()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPDF, err)
	}
	pageCount, err := api.PageCountFile(optimized)
	if err != nil {
		return nil, fmt.Errorf("%w: page count: %v", ErrCorruptPDF, err)
	}
	if pageCount == 0 {
		return nil, fmt.Errorf("%w: document has no pages", ErrCorruptPDF)
	}

	pagesDir := filepath.Join(tempDir, "pages")
	contentDir := filepath.Join(tempDir, "content")
	for _, dir := range []string{pagesDir, contentDir} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	if err := api.SplitFile(optimized, pagesDir, 1, nil); err != nil {
		return nil, fmt.Errorf("%w: split: %v", ErrCorruptPDF, err)
	}
	logger.Debug("split document", "pages", pageCount)

	objects, err := e.uploadPages(ctx, req, pagesDir, pageCount)
	if err != nil {
		return nil, err
	}

	texts, err := pageTexts(optimized, contentDir)
	if err != nil {
		// Text recovery is best effort; pages fall back to image elements.
		logger.Warn("content extraction failed", "err", err)
		texts = map[int]string{}
	}

	var scanned []int
	for page := 1; page <= pageCount; page++ {
		if texts[page] == "" {
			scanned = append(scanned, page)
		}
	}
	images, err := e.uploadPageImages(ctx, req, optimized, scanned)
	if err != nil {
		return nil, err
	}

	elements := make([]core.Element, 0, pageCount)
	for page := 1; page <= pageCount; page++ {
		text := texts[page]
		if text == "" {
			el := core.Element{
				Kind:      core.ElementImage,
				Page:      page,
				AssetRef:  objects[page],
				AssetType: mimePDF,
			}
			if img, ok := images[page]; ok {
				el.AssetRef, el.AssetType = img.ref, img.mimeType
			}
			elements = append(elements, el)
			continue
		}
		elements = append(elements, core.Element{
			Kind:      core.ElementText,
			Page:      page,
			Text:      text,
			FullPage:  true,
			AssetRef:  objects[page],
			AssetType: mimePDF,
		})
	}

	logger.Info("extracted document", "pages", pageCount, "text_pages", len(texts))
	return elements, nil
}

// uploadPages uploads every split page and returns object paths by page number.
func (e *PDFExtractor) uploadPages(ctx context.Context, req Request, pagesDir string, pageCount int) (map[int]string, error) {
	files, err := numberedFiles(pagesDir, ".pdf")
	if err != nil {
		return nil, err
	}
	if len(files) != pageCount {
		return nil, fmt.Errorf("%w: split produced %d pages, expected %d", ErrCorruptPDF, len(files), pageCount)
	}

	objects := make(map[int]string, pageCount)
	for page := range files {
		objects[page] = PageObject(req.RunID, req.DocumentID, page)
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(e.uploadConcurrency)
	for page, local := range files {
		eg.Go(func() error {
			if _, err := e.objects.Upload(gctx, local, objects[page], mimePDF); err != nil {
				return fmt.Errorf("uploading page %d: %w", page, err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return objects, nil
}

// pageTexts extracts the content streams of every page and recovers their text.
func pageTexts(pdfPath, outDir string) (map[int]string, error) {
	if err := api.ExtractContentFile(pdfPath, outDir, nil, relaxedConfig()); err != nil {
		return nil, err
	}
	files, err := numberedFiles(outDir, ".txt")
	if err != nil {
		return nil, err
	}

	texts := make(map[int]string, len(files))
	for page, file := range files {
		stream, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		if text := ContentText(stream); text != "" {
			texts[page] = text
		}
	}
	return texts, nil
}

var trailingNumber = regexp.MustCompile(`(\d+)$`)

// numberedFiles maps the trailing number of each file name with ext to its path.
// pdfcpu names split pages and content files "<base>_<page><ext>".
func numberedFiles(dir, ext string) (map[int]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	files := make(map[int]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(name), ext) {
			continue
		}
		m := trailingNumber.FindStringSubmatch(strings.TrimSuffix(name, filepath.Ext(name)))
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			continue
		}
		files[n] = filepath.Join(dir, name)
	}
	return files, nil
}

// SortedPages returns the page numbers of elements in ascending order.
func SortedPages(elements []core.Element) []int {
	seen := make(map[int]bool)
	var pages []int
	for _, el := range elements {
		if !seen[el.Page] {
			seen[el.Page] = true
			pages = append(pages, el.Page)
		}
	}
	sort.Ints(pages)
	return pages
}

func relaxedConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

var _ Extractor = (*PDFExtractor)(nil)
