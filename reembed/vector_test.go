package reembed

import (
	"math"
	"testing"

	"github.com/poiesic/plansight/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestCheckVector(t *testing.T) {
	tests := []struct {
		name       string
		vector     []float32
		dimensions int
		wantErr    bool
	}{
		{"valid", []float32{0.1, 0.2, 0.3}, 3, false},
		{"any length when dimensions unset", []float32{1, 2}, 0, false},
		{"negative components", []float32{-1, 0, 0}, 3, false},
		{"empty", nil, 3, true},
		{"wrong length", []float32{1, 2}, 3, true},
		{"zero vector", []float32{0, 0, 0}, 3, true},
		{"NaN component", []float32{1, float32(math.NaN()), 0}, 3, true},
		{"infinite component", []float32{float32(math.Inf(-1)), 0, 0}, 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckVector(tt.vector, tt.dimensions)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrMalformedEmbedding)
			assert.ErrorIs(t, err, core.ErrExternalService)
		})
	}
}

func TestNormalizeVector(t *testing.T) {
	t.Run("unit length", func(t *testing.T) {
		in := []float32{3, 4}
		out := NormalizeVector(in)
		assert.InDeltaSlice(t, []float32{0.6, 0.8}, out, 1e-6)
		assert.Equal(t, []float32{3, 4}, in, "input is not modified")
	})

	t.Run("embedding sized vector", func(t *testing.T) {
		in := make([]float32, 1536)
		for i := range in {
			in[i] = float32(i%7) - 3
		}
		assert.InDelta(t, 1.0, norm(NormalizeVector(in)), 1e-5)
	})

	t.Run("zero and empty vectors", func(t *testing.T) {
		assert.Equal(t, []float32{0, 0}, NormalizeVector([]float32{0, 0}))
		assert.Empty(t, NormalizeVector(nil))
	})
}

func TestPrepareVector(t *testing.T) {
	v, err := PrepareVector([]float32{0, 2, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0}, v)

	_, err = PrepareVector([]float32{0, 0, 0}, 3)
	assert.ErrorIs(t, err, ErrMalformedEmbedding)
}
