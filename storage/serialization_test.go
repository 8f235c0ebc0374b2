package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/poiesic/plansight/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentRecordRoundTrip(t *testing.T) {
	now := time.Date(2025, 4, 2, 9, 30, 0, 0, time.UTC)
	doc := core.NewDocumentRecord(core.DocumentInput{
		ID:         "doc-1",
		RunID:      "run-1",
		Filename:   "A-101.pdf",
		FilePath:   "/uploads/A-101.pdf",
		UploadType: core.UploadTypeUserProject,
		Metadata:   map[string]string{"discipline": "architectural"},
	}, now)
	running := core.StartResult(core.StepPartition, 1, now)
	require.NoError(t, core.ApplyResult(doc.Steps, running.Finish(core.StatusCompleted,
		map[string]any{"pages": 12}, []string{"FLOOR PLAN - LEVEL 1"}, now.Add(4*time.Second))))

	data, err := Marshal(doc)
	require.NoError(t, err)

	decoded, err := Unmarshal[core.DocumentRecord](data)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, decoded.ID)
	assert.Equal(t, doc.Metadata, decoded.Metadata)
	assert.Equal(t, core.StatusRunning, decoded.Status())

	partition := decoded.Steps[core.StepPartition]
	assert.Equal(t, 4*time.Second, partition.Duration)
	// numbers come back as float64 through JSON
	assert.Equal(t, float64(12), partition.Summary["pages"])
	assert.Equal(t, []string{"FLOOR PLAN - LEVEL 1"}, partition.Samples)
}

func TestUnmarshalInvalid(t *testing.T) {
	_, err := Unmarshal[core.IndexRun]([]byte("{not json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSerializationFailed))
}

func TestNotFoundMatchesCore(t *testing.T) {
	assert.ErrorIs(t, ErrNotFound, core.ErrNotFound)
}

func TestNewTerminalResults(t *testing.T) {
	before := map[core.StepName]core.StepResult{
		core.StepPartition: {Step: core.StepPartition, Status: core.StatusCompleted, Attempt: 1},
		core.StepMetadata:  {Step: core.StepMetadata, Status: core.StatusFailed, Attempt: 1, Error: "timeout"},
	}
	after := map[core.StepName]core.StepResult{
		core.StepPartition: {Step: core.StepPartition, Status: core.StatusCompleted, Attempt: 1},
		core.StepMetadata:  {Step: core.StepMetadata, Status: core.StatusCompleted, Attempt: 2},
		core.StepChunking:  {Step: core.StepChunking, Status: core.StatusRunning, Attempt: 1},
		core.StepEmbedding: {Step: core.StepEmbedding, Status: core.StatusSkipped, Attempt: 1},
	}

	added := NewTerminalResults(before, after)
	require.Len(t, added, 2)
	assert.Equal(t, core.StepEmbedding, added[0].Step)
	assert.Equal(t, core.StepMetadata, added[1].Step)
	assert.Equal(t, 2, added[1].Attempt)

	assert.Empty(t, NewTerminalResults(after, after))
}

func TestUnitNames(t *testing.T) {
	assert.Equal(t, "doc/r1/d1", DocumentUnit("r1", "d1"))
	assert.Equal(t, "run/r1", IndexRunUnit("r1"))
	assert.Equal(t, "wiki/w1", WikiRunUnit("w1"))
}
