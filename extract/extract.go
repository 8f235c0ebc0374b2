// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package extract turns a PDF into page-level elements.
//
// The PDFExtractor validates and optimizes the file with pdfcpu, splits it
// into single-page PDFs, uploads each page to the object store under a
// deterministic path and recovers whatever text the page content streams
// carry. Pages without recoverable text become image elements so a vision
// model can describe them later.
package extract

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/poiesic/plansight/core"
)

var (
	// ErrNotPDF is returned for files that do not start with the PDF header.
	ErrNotPDF = fmt.Errorf("%w: not a PDF file", core.ErrValidation)

	// ErrCorruptPDF is returned when a PDF cannot be read or repaired.
	ErrCorruptPDF = errors.New("corrupt PDF")

	// ErrObjectStoreRequired is returned when an extractor has no object store.
	ErrObjectStoreRequired = errors.New("object store required")
)

// pdfMagic is the header every PDF starts with.
const pdfMagic = "%PDF-"

// Request identifies the file to extract.
type Request struct {
	RunID      string
	DocumentID string
	FilePath   string
	Filename   string
}

// Extractor turns a document into elements with page provenance.
type Extractor interface {
	Extract(ctx context.Context, req Request) ([]core.Element, error)
}

// PageObject returns the deterministic object path of a page (1-based).
func PageObject(runID, documentID string, page int) string {
	return path.Join(runID, documentID, "pages", fmt.Sprintf("%05d.pdf", page))
}

// ImageObject returns the deterministic object path of a page's raster image.
func ImageObject(runID, documentID string, page int, mimeType string) string {
	ext := ".png"
	if mimeType == "image/jpeg" {
		ext = ".jpg"
	}
	return path.Join(runID, documentID, "images", fmt.Sprintf("%05d%s", page, ext))
}

// CheckPDF verifies that the file at filePath starts with the PDF header.
// Leading whitespace before the header is tolerated.
func CheckPDF(filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrValidation, err)
	}
	defer f.Close()

	r := bufio.NewReader(io.LimitReader(f, 1024))
	for {
		b, err := r.ReadByte()
		if err != nil {
			return ErrNotPDF
		}
		if b == ' ' || b == '\t' || b == '\r' || b == '\n' || b == 0xEF || b == 0xBB || b == 0xBF {
			continue
		}
		if err := r.UnreadByte(); err != nil {
			return ErrNotPDF
		}
		break
	}

	header := make([]byte, len(pdfMagic))
	if _, err := io.ReadFull(r, header); err != nil || !strings.EqualFold(string(header), pdfMagic) {
		return ErrNotPDF
	}
	return nil
}
