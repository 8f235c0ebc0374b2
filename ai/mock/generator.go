package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/poiesic/plansight/ai"
)

// MockGenerator is a test double for ai.Generator.
type MockGenerator struct {
	// GenerateFunc is called by Generate if set.
	// If nil, the prompt is echoed back.
	GenerateFunc func(ctx context.Context, req ai.GenerateRequest) (*ai.GenerateResponse, error)

	// AcceptFunc answers AcceptsAttachment if set.
	// If nil, every attachment type is accepted.
	AcceptFunc func(mimeType string) bool

	mu       sync.Mutex
	requests []ai.GenerateRequest
}

// NewMockGenerator creates a new mock generator with default behavior.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

// Generate implements ai.Generator.
func (m *MockGenerator) Generate(ctx context.Context, req ai.GenerateRequest) (*ai.GenerateResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	fn := m.GenerateFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &ai.GenerateResponse{Text: req.Prompt, Model: req.Model}, nil
}

// AcceptsAttachment implements ai.AttachmentFilter.
func (m *MockGenerator) AcceptsAttachment(mimeType string) bool {
	m.mu.Lock()
	fn := m.AcceptFunc
	m.mu.Unlock()
	if fn == nil {
		return true
	}
	return fn(mimeType)
}

// CallCount returns the number of Generate calls.
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of every request received, in call order.
func (m *MockGenerator) Requests() []ai.GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.requests)
}

// Reset clears recorded requests and the custom function.
func (m *MockGenerator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.GenerateFunc = nil
	m.AcceptFunc = nil
}
