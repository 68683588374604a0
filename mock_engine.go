package ocrsession

import (
	"context"
	"sync"
)

const MockEngineText = "mock engine decoder response"

// MockCall records what the mock engine saw for one attempt.
type MockCall struct {
	ImgBytes []byte
	Config   RecognitionConfig
}

// MockEngine is the test double for the recognition backend. With no
// Handler it answers every attempt with a canned successful result;
// tests install a Handler to script per-attempt outcomes.
type MockEngine struct {
	mu      sync.Mutex
	calls   []MockCall
	Handler func(imgBytes []byte, config RecognitionConfig) (OcrResult, error)
}

func (m *MockEngine) Recognize(ctx context.Context, imgBytes []byte, config RecognitionConfig) (OcrResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{ImgBytes: imgBytes, Config: config})
	handler := m.Handler
	m.mu.Unlock()

	if handler != nil {
		return handler(imgBytes, config)
	}
	return OcrResult{Success: true, Text: MockEngineText, Confidence: 90}, nil
}

// Calls returns the recorded attempts in invocation order.
func (m *MockEngine) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount reports how many attempts reached the engine.
func (m *MockEngine) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
