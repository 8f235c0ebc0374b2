package core

import (
	"fmt"

	"github.com/google/uuid"
)

// chunkNamespace seeds deterministic chunk IDs.
var chunkNamespace = uuid.MustParse("6f1f3c5e-2a0b-4d5e-9b7a-3c1d2e4f5a6b")

// NewID returns a random identifier for runs and documents.
func NewID() string {
	return uuid.NewString()
}

// ChunkID derives a stable chunk identifier from its position, so that
// re-chunking a document overwrites rather than duplicates.
func ChunkID(runID, documentID string, index int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s/%s/%d", runID, documentID, index))).String()
}

// UploadType tags how a document entered the system.
type UploadType string

const (
	UploadTypeEmail       UploadType = "email"
	UploadTypeUserProject UploadType = "user_project"
)

// DocumentInput is a transient document submission.
type DocumentInput struct {
	ID         string
	RunID      string
	UserID     string
	FilePath   string
	Filename   string
	UploadType UploadType
	UploadID   string
	Metadata   map[string]string
}

// ElementKind classifies partitioned content.
type ElementKind string

const (
	ElementText  ElementKind = "text"
	ElementTable ElementKind = "table"
	ElementImage ElementKind = "image"
	ElementPage  ElementKind = "page"
)

// BBox is an element's position on its page, in PDF points.
type BBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Element is one piece of partitioned document content with page provenance.
type Element struct {
	Kind        ElementKind `json:"kind"`
	Page        int         `json:"page"`
	Text        string      `json:"text"`
	BBox        *BBox       `json:"bbox,omitempty"`
	FullPage    bool        `json:"full_page,omitempty"`
	AssetRef    string      `json:"asset_ref,omitempty"`
	AssetType   string      `json:"asset_type,omitempty"` // empty means a single-page PDF
	Section     string      `json:"section,omitempty"`
	Numbering   string      `json:"numbering,omitempty"`
	Description string      `json:"description,omitempty"`
}

// Chunk is the atomic unit stored and retrieved by vector search.
type Chunk struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	DocumentID string    `json:"document_id"`
	Seq        uint64    `json:"seq"`
	Index      int       `json:"index"`
	Content    string    `json:"content"`
	Page       int       `json:"page"`
	Section    string    `json:"section,omitempty"`
	Vector     []float32 `json:"vector,omitempty"`
}

// ChunkMatch is a ranked retrieval result.
type ChunkMatch struct {
	ChunkID    string  `json:"chunk_id"`
	Content    string  `json:"content"`
	Score      float32 `json:"score"`
	DocumentID string  `json:"document_id"`
	Page       int     `json:"page"`
	Section    string  `json:"section,omitempty"`
	Seq        uint64  `json:"seq"`
}

// MatchFromChunk builds a match for c with the given score.
func MatchFromChunk(c *Chunk, score float32) ChunkMatch {
	return ChunkMatch{
		ChunkID:    c.ID,
		Content:    c.Content,
		Score:      score,
		DocumentID: c.DocumentID,
		Page:       c.Page,
		Section:    c.Section,
		Seq:        c.Seq,
	}
}

// CompareMatches orders matches by score descending, then by insertion order.
func CompareMatches(a, b ChunkMatch) int {
	switch {
	case a.Score > b.Score:
		return -1
	case a.Score < b.Score:
		return 1
	case a.Seq < b.Seq:
		return -1
	case a.Seq > b.Seq:
		return 1
	}
	return 0
}
