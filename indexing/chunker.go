package indexing

import (
	"strings"
	"unicode"

	"github.com/poiesic/plansight/core"
)

// splitText cuts text into windows of at most size runes, each starting
// overlap runes before the end of the previous one. Windows end at
// whitespace when a break exists in their second half.
func splitText(text string, size, overlap int) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= size {
		return []string{string(runes)}
	}

	var pieces []string
	start := 0
	for start < len(runes) {
		end := min(start+size, len(runes))
		if end < len(runes) {
			if cut := lastSpace(runes[start:end]); cut > size/2 {
				end = start + cut
			}
		}
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			pieces = append(pieces, piece)
		}
		if end == len(runes) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return pieces
}

func lastSpace(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return -1
}

// elementContent is the text an element contributes to the index.
func elementContent(el core.Element) string {
	text := strings.TrimSpace(el.Text)
	desc := strings.TrimSpace(el.Description)
	switch {
	case desc == "":
		return text
	case text == "":
		return desc
	}
	return text + "\n\n" + desc
}

// buildChunks splits every element into chunks with deterministic IDs.
// Chunk indexes are contiguous across the document.
func buildChunks(runID, documentID string, elements []core.Element, size, overlap int) []*core.Chunk {
	var chunks []*core.Chunk
	for _, el := range elements {
		for _, piece := range splitText(elementContent(el), size, overlap) {
			index := len(chunks)
			chunks = append(chunks, &core.Chunk{
				ID:         core.ChunkID(runID, documentID, index),
				RunID:      runID,
				DocumentID: documentID,
				Index:      index,
				Content:    piece,
				Page:       el.Page,
				Section:    el.Section,
			})
		}
	}
	return chunks
}
