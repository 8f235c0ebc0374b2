package mock

import "github.com/poiesic/plansight/ai"

// MockProvider aggregates mock AI services.
type MockProvider struct {
	embedder  *MockEmbedder
	generator *MockGenerator
}

// NewMockProvider creates a new mock provider with default services.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		embedder:  NewMockEmbedder(),
		generator: NewMockGenerator(),
	}
}

// NewMockProviderWithServices creates a mock provider around the given doubles.
func NewMockProviderWithServices(embedder *MockEmbedder, generator *MockGenerator) *MockProvider {
	return &MockProvider{
		embedder:  embedder,
		generator: generator,
	}
}

// Embedder implements ai.AIProvider.
func (p *MockProvider) Embedder() ai.Embedder {
	return p.embedder
}

// Generator implements ai.AIProvider.
func (p *MockProvider) Generator() ai.Generator {
	return p.generator
}

// Close implements ai.AIProvider.
func (p *MockProvider) Close() error {
	return nil
}

// GetMockEmbedder returns the concrete mock embedder.
func (p *MockProvider) GetMockEmbedder() *MockEmbedder {
	return p.embedder
}

// GetMockGenerator returns the concrete mock generator.
func (p *MockProvider) GetMockGenerator() *MockGenerator {
	return p.generator
}

var _ ai.AIProvider = (*MockProvider)(nil)
