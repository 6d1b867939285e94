package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Schema asks the provider for structured JSON output matching Schema.
type Schema struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"schema"`
}

// Request captures the normalized model input.
type Request struct {
	Instructions   string    `json:"instructions"`
	Messages       []Message `json:"messages"`
	ResponseSchema *Schema   `json:"response_schema,omitempty"`
	Stream         bool      `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model.
type Response struct {
	ID           string      `json:"id"`
	Partial      bool        `json:"partial"`
	Text         string      `json:"text"`
	FinishReason string      `json:"finish_reason"`
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name                     string `json:"name"`
	Provider                 string `json:"provider"`
	SupportsStructuredOutput bool   `json:"supports_structured_output"`
}

// Model is the minimal interface needed to drive generation.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// ErrNoResponse is returned by Collect when the model closed its stream
// without a final response.
var ErrNoResponse = errors.New("model returned no response")

// Collect drains a generation and returns the final response.
func Collect(ctx context.Context, m Model, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	out, errCh := m.Generate(ctx, req)

	var (
		final Response
		got   bool
	)
	for out != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case r, ok := <-out:
			if !ok {
				out = nil
				continue
			}
			if !r.Partial {
				final, got = r, true
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return Response{}, err
			}
		}
	}
	if !got {
		return Response{}, ErrNoResponse
	}
	return final, nil
}

// MockModel is a lightweight in-memory Model useful for tests and the
// "mock" provider. Queued responses are returned in order; once exhausted,
// Fallback is used.
type MockModel struct {
	mu       sync.Mutex
	info     Info
	queue    []string
	requests []Request

	// Fallback produces the completion when the queue is empty. The default
	// answers with an empty decision document.
	Fallback func(req Request) string
}

// NewMockModel constructs a MockModel.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info: Info{Name: name, Provider: "mock", SupportsStructuredOutput: true},
		Fallback: func(req Request) string {
			if req.ResponseSchema != nil {
				return `{"response": "", "actions": {}}`
			}
			return fmt.Sprintf("Mock response to: %s", lastUserText(req))
		},
	}
}

// AddResponse queues a canned completion.
func (m *MockModel) AddResponse(response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, response)
}

// Requests returns every request received so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *MockModel) next(req Request) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.queue) > 0 {
		r := m.queue[0]
		m.queue = m.queue[1:]
		return r
	}
	return m.Fallback(req)
}

// Generate implements Model; emits optional streaming chunks then the final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)
		if len(req.Messages) == 0 {
			errCh <- fmt.Errorf("no messages provided")
			return
		}
		full := m.next(req)
		if req.Stream {
			for _, r := range full {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Text: string(r)}:
				}
			}
		}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- Response{Text: full, FinishReason: "stop"}:
		}
	}()
	return respCh, errCh
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }

func lastUserText(req Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			return strings.TrimSpace(req.Messages[i].Content)
		}
	}
	return ""
}
