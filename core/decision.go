package core

import (
	"context"

	"github.com/hupe1980/agentgate/state"
)

// AgentDetails describes the agent an action would trigger.
type AgentDetails struct {
	ID            int64        `json:"agent_id"`
	Name          string       `json:"agent_name"`
	Description   string       `json:"agent_description"`
	ExternalState state.Object `json:"agent_external_state"`
}

// AvailableAction is an action that passed gating.
type AvailableAction struct {
	Action
	TriggeredAgent *AgentDetails
}

// HistoryEntry is one past turn resolved against its caller.
type HistoryEntry struct {
	Message *AgentMessage
	// Caller is nil when the caller no longer exists.
	Caller *CallerDetails
}

// DecisionInput is everything the decision collaborator may use.
type DecisionInput struct {
	AgentID       int64
	AgentName     string
	Instructions  string
	GlobalState   state.Object
	InternalState state.Object
	ExternalState state.Object
	Caller        CallerDetails
	History       []HistoryEntry
	Actions       []AvailableAction
	Query         string
}

// ChosenAction is an action selected by the decision collaborator.
type ChosenAction struct {
	Name   string
	Params map[string]any
}

// Decision is the structured output of one decision step. Actions are
// ordered as the collaborator returned them.
type Decision struct {
	Response string
	Actions  []ChosenAction
}

// Decider turns a DecisionInput into a Decision. It is the opaque LLM
// boundary; any error it returns aborts the current dispatch branch.
type Decider interface {
	Decide(ctx context.Context, in DecisionInput) (Decision, error)
}

// DeciderFunc adapts a function to Decider.
type DeciderFunc func(ctx context.Context, in DecisionInput) (Decision, error)

// Decide implements Decider.
func (f DeciderFunc) Decide(ctx context.Context, in DecisionInput) (Decision, error) {
	return f(ctx, in)
}
