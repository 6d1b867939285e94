package core

import "context"

// Event names emitted by the dispatcher. EventResponseEnd is the single
// end-of-stream signal for one query.
const (
	EventResponse      = "agent_response"
	EventResponseError = "agent_response_error"
	EventResponseEnd   = "agent_response_end"
)

// EventSink receives ordered progress notifications. Emit is fire-and-forget:
// implementations report their own failures (typically by logging) and must
// preserve the call order.
type EventSink interface {
	Emit(ctx context.Context, name string, payload any)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, name string, payload any)

// Emit implements EventSink.
func (f EventSinkFunc) Emit(ctx context.Context, name string, payload any) { f(ctx, name, payload) }

// ActionResponse is one chosen action inside a response event.
type ActionResponse struct {
	Name             string         `json:"name"`
	Params           map[string]any `json:"params"`
	TriggeredAgentID *int64         `json:"triggered_agent_id"`
}

// ResponsePayload is the payload of EventResponse.
type ResponsePayload struct {
	QueryID  string           `json:"query_id"`
	AgentID  int64            `json:"agent_id"`
	Response string           `json:"response"`
	Actions  []ActionResponse `json:"actions"`
}

// ErrorPayload is the payload of EventResponseError.
type ErrorPayload struct {
	QueryID string `json:"query_id"`
	AgentID int64  `json:"agent_id"`
	Error   string `json:"error"`
}

// EndPayload is the payload of EventResponseEnd.
type EndPayload struct {
	QueryID string `json:"query_id"`
}
