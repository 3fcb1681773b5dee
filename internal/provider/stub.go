package provider

import (
	"context"
	"sync"
	"time"
)

// StubProvider replays scripted responses. It backs offline runs and tests.
type StubProvider struct {
	mu sync.Mutex

	// Responses are returned in order; the last one repeats.
	Responses []Response
	// Err, when set, is returned instead of a response.
	Err error
	// Delay is waited before answering, honoring ctx.
	Delay time.Duration

	name  string
	calls int
}

func NewStubProvider() *StubProvider {
	return &StubProvider{
		name: "stub",
		Responses: []Response{
			{
				Content: `{"activity": "Reviewing recent screen activity", "application": "Unknown", "key_info": []}`,
				Usage:   Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
			},
		},
	}
}

func (m *StubProvider) Chat(ctx context.Context, messages []Message) (*Response, error) {
	m.mu.Lock()
	m.calls++
	delay, err := m.Delay, m.Err
	var resp Response
	if len(m.Responses) > 0 {
		resp = m.Responses[0]
		if len(m.Responses) > 1 {
			m.Responses = m.Responses[1:]
		}
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Calls returns how many times Chat was invoked.
func (m *StubProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *StubProvider) Name() string {
	return m.name
}

// SetName changes the reported provider name.
func (m *StubProvider) SetName(name string) {
	m.name = name
}
