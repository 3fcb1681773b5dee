package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/rewind/internal/config"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var analysisMessages = []Message{
	{Role: "system", Content: "You are a memory assistant. Respond with JSON only."},
	{Role: "user", Content: "Screen text:\nYour verification code is 847291"},
}

func TestOpenAIProvider(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{"message": {"content": "{\"activity\": \"reading email\"}", "role": "assistant"}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer server.Close()

	p, err := NewOpenAIProvider("test-key", server.URL, "llama-3.3-70b-versatile")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "openai" {
		t.Errorf("Expected 'openai', got '%s'", p.Name())
	}

	resp, err := p.Chat(context.Background(), analysisMessages)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if !strings.Contains(resp.Content, "reading email") {
		t.Errorf("Unexpected content %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("Expected 15 total tokens, got %d", resp.Usage.TotalTokens)
	}
	if got["max_tokens"] != float64(MaxTokens) {
		t.Errorf("Expected max_tokens %d in request, got %v", MaxTokens, got["max_tokens"])
	}
	if rf, ok := got["response_format"].(map[string]any); !ok || rf["type"] != "json_object" {
		t.Errorf("Expected json_object response format, got %v", got["response_format"])
	}
}

func TestOpenAIProvider_RateLimitClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "Rate limit reached", "type": "requests"}}`))
	}))
	defer server.Close()

	p, _ := NewOpenAIProvider("test-key", server.URL, "gpt-4.1-mini")
	_, err := p.Chat(context.Background(), analysisMessages)
	if err == nil {
		t.Fatal("Expected error")
	}
	if r := Classify(err); r != ReasonRateLimited {
		t.Errorf("Classify = %q, want rate_limited (err: %v)", r, err)
	}
}

func TestOllamaProvider(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message": {"role": "assistant", "content": "{\"activity\": \"coding\"}"}, "done": true, "eval_count": 10, "prompt_eval_count": 5}`))
	}))
	defer server.Close()

	p, err := NewOllamaProvider("llama3", server.URL)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "ollama" {
		t.Errorf("Expected 'ollama', got '%s'", p.Name())
	}

	resp, err := p.Chat(context.Background(), analysisMessages)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if !strings.Contains(resp.Content, "coding") {
		t.Errorf("Unexpected content %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("Expected 15 total tokens, got %d", resp.Usage.TotalTokens)
	}
	if msgs, _ := got["messages"].([]any); len(msgs) != 2 {
		t.Errorf("Expected system and user messages, got %v", got["messages"])
	}
}

func TestOllamaProvider_EnvHost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message": {"content": "hi from ollama"}, "done": true}`))
	}))
	defer server.Close()

	t.Setenv("OLLAMA_HOST", server.URL)
	p, _ := NewOllamaProvider("", "")
	resp, err := p.Chat(context.Background(), analysisMessages)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "hi from ollama" {
		t.Errorf("Expected 'hi from ollama', got '%s'", resp.Content)
	}
}

func TestAnthropicProvider(t *testing.T) {
	var got anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg_123",
			"content": [{"type": "text", "text": "{\"activity\": \"shopping\"}"}],
			"usage": {"input_tokens": 5, "output_tokens": 5}
		}`))
	}))
	defer server.Close()

	p, _ := NewAnthropicProvider("test-key", "claude-3-5-haiku-latest")
	p.SetBaseURL(server.URL)
	if p.Name() != "anthropic" {
		t.Errorf("Expected 'anthropic', got '%s'", p.Name())
	}

	resp, err := p.Chat(context.Background(), analysisMessages)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if !strings.Contains(resp.Content, "shopping") {
		t.Errorf("Unexpected content %q", resp.Content)
	}
	if got.System == "" || len(got.Messages) != 1 || got.Messages[0].Role != "user" {
		t.Errorf("Expected system prompt split from messages, got %+v", got)
	}
	if resp.Usage.TotalTokens != 10 {
		t.Errorf("Expected 10 total tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestAnthropicProvider_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Reason
	}{
		{"rate limited status", http.StatusTooManyRequests, `{"type":"error"}`, ReasonRateLimited},
		{"server error", http.StatusInternalServerError, `oops`, ReasonError},
		{"malformed body", http.StatusOK, `not json`, ReasonMalformed},
		{"rate limit body", http.StatusOK, `{"error": {"type": "rate_limit_error", "message": "slow down"}}`, ReasonRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			p, _ := NewAnthropicProvider("test-key", "")
			p.SetBaseURL(server.URL)
			_, err := p.Chat(context.Background(), analysisMessages)
			if err == nil {
				t.Fatal("Expected error")
			}
			if r := Classify(err); r != tt.want {
				t.Errorf("Classify = %q, want %q (err: %v)", r, tt.want, err)
			}
		})
	}
}

func TestAnthropicProvider_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	p, _ := NewAnthropicProvider("test-key", "")
	p.SetBaseURL(server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.Chat(ctx, analysisMessages)
	if r := Classify(err); r != ReasonTimeout {
		t.Errorf("Classify = %q, want timeout (err: %v)", r, err)
	}
}

func TestCLIProvider(t *testing.T) {
	p, err := NewCLIProvider("echo", []string{"-n"})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "hello"}})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("Expected 'hello', got '%s'", resp.Content)
	}

	if _, err := NewCLIProvider("", nil); err == nil {
		t.Error("Expected error for empty binary path")
	}
}

func TestStubProvider(t *testing.T) {
	p := NewStubProvider()
	p.Responses = []Response{{Content: "one"}, {Content: "two"}}

	for _, want := range []string{"one", "two", "two"} {
		resp, err := p.Chat(context.Background(), nil)
		if err != nil {
			t.Fatal(err)
		}
		if resp.Content != want {
			t.Errorf("Expected %q, got %q", want, resp.Content)
		}
	}
	if p.Calls() != 3 {
		t.Errorf("Expected 3 calls, got %d", p.Calls())
	}

	p.Delay = time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := p.Chat(ctx, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		cfg     config.ProviderConfig
		wantErr bool
	}{
		{config.ProviderConfig{Name: "groq", Type: config.TypeGroq, APIKey: "k", BaseURL: "https://api.groq.com/openai/v1"}, false},
		{config.ProviderConfig{Name: "work-openai", Type: config.TypeOpenAI, APIKey: "k"}, false},
		{config.ProviderConfig{Name: "claude", Type: config.TypeAnthropic, APIKey: "k"}, false},
		{config.ProviderConfig{Name: "local", Type: config.TypeOllama}, false},
		{config.ProviderConfig{Name: "llm", Type: config.TypeCLI, Command: "llm -m mistral"}, false},
		{config.ProviderConfig{Name: "offline", Type: config.TypeStub}, false},
		{config.ProviderConfig{Name: "openai", Type: config.TypeOpenAI}, true},
		{config.ProviderConfig{Name: "llm", Type: config.TypeCLI}, true},
		{config.ProviderConfig{Name: "x", Type: "palm"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.cfg.Name+"/"+tt.cfg.Type, func(t *testing.T) {
			p, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && p.Name() != tt.cfg.Name {
				t.Errorf("Name = %q, want %q", p.Name(), tt.cfg.Name)
			}
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Reason
	}{
		{"nil", nil, ""},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), ReasonTimeout},
		{"sentinel timeout", fmt.Errorf("x: %w", ErrTimeout), ReasonTimeout},
		{"sentinel malformed", fmt.Errorf("x: %w", ErrMalformed), ReasonMalformed},
		{"net timeout", fmt.Errorf("dial: %w", timeoutErr{}), ReasonTimeout},
		{"openai 429", &openai.APIError{HTTPStatusCode: 429, Message: "slow"}, ReasonRateLimited},
		{"openai 500", &openai.APIError{HTTPStatusCode: 500, Message: "boom"}, ReasonError},
		{"grpc exhausted", status.Error(codes.ResourceExhausted, "quota"), ReasonRateLimited},
		{"grpc deadline", status.Error(codes.DeadlineExceeded, "slow"), ReasonTimeout},
		{"message quota", errors.New("googleapi: Error 429: Resource has been exhausted"), ReasonRateLimited},
		{"plain", errors.New("connection refused"), ReasonError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
