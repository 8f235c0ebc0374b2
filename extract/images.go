package extract

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// imageTypes maps the pdfcpu file types vision models accept to MIME types.
var imageTypes = map[string]string{
	"png": "image/png",
	"jpg": "image/jpeg",
}

// pageImage is the raster image that stands in for a page without text.
type pageImage struct {
	data     []byte
	mimeType string
	area     int
	ref      string
}

// largestImages returns, for each page in pages, the largest embedded image
// that can be sent to a vision model. Pages without one are absent.
func largestImages(pdfPath string, pages []int) (map[int]pageImage, error) {
	if len(pages) == 0 {
		return nil, nil
	}
	f, err := os.Open(pdfPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	selected := make([]string, len(pages))
	for i, page := range pages {
		selected[i] = strconv.Itoa(page)
	}

	found := make(map[int]pageImage)
	err = api.ExtractImages(f, selected, func(img model.Image, _ bool, _ int) error {
		mimeType, ok := imageTypes[img.FileType]
		if !ok || img.Reader == nil {
			return nil
		}
		area := img.Width * img.Height
		if best, ok := found[img.PageNr]; ok && best.area >= area {
			return nil
		}
		data, err := io.ReadAll(img)
		if err != nil {
			return fmt.Errorf("reading image %s on page %d: %w", img.Name, img.PageNr, err)
		}
		found[img.PageNr] = pageImage{data: data, mimeType: mimeType, area: area}
		return nil
	}, relaxedConfig())
	if err != nil {
		return nil, err
	}
	return found, nil
}

// uploadPageImages stores the largest image of each page in pages and returns
// them by page number. Image recovery is best effort; pages without one keep
// their PDF asset.
func (e *PDFExtractor) uploadPageImages(ctx context.Context, req Request, pdfPath string, pages []int) (map[int]pageImage, error) {
	images, err := largestImages(pdfPath, pages)
	if err != nil {
		e.logger.Warn("image extraction failed", "document", req.DocumentID, "err", err)
		return nil, nil
	}

	for page, img := range images {
		name := ImageObject(req.RunID, req.DocumentID, page, img.mimeType)
		ref, err := e.objects.Put(ctx, name, img.data, img.mimeType)
		if err != nil {
			return nil, fmt.Errorf("uploading page %d image: %w", page, err)
		}
		img.ref, img.data = ref, nil
		images[page] = img
	}
	return images, nil
}
