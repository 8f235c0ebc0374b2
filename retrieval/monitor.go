package retrieval

import "github.com/poiesic/plansight/core"

// Monitor provides hooks to observe a search.
// Implement this interface to trace intermediate results.
type Monitor interface {
	Start(q Query)
	AfterQueryEmbedding(dimensions int)
	AfterSimilaritySearch(matches []core.ChunkMatch)
	Finish(matches []core.ChunkMatch)
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ Query)                             {}
func (n *noopMonitor) AfterQueryEmbedding(_ int)                 {}
func (n *noopMonitor) AfterSimilaritySearch(_ []core.ChunkMatch) {}
func (n *noopMonitor) Finish(_ []core.ChunkMatch)                {}
