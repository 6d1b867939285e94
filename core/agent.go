package core

import (
	"time"

	"github.com/hupe1980/agentgate/state"
)

// CallerKind distinguishes the two kinds of conversation initiators.
type CallerKind string

const (
	// CallerAgent marks an agent calling another agent through an action.
	CallerAgent CallerKind = "agent"
	// CallerPlayer marks a human player querying an agent.
	CallerPlayer CallerKind = "player"
)

// CallerDetails is everything the decision collaborator learns about whoever
// asked the question.
type CallerDetails struct {
	Kind        CallerKind `json:"kind"`
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
}

// Caller is the closed capability shared by Agent and Player.
type Caller interface {
	Describe() CallerDetails
}

// CallerRef identifies a caller without loading it.
type CallerRef struct {
	Kind CallerKind `json:"kind"`
	ID   int64      `json:"id"`
}

// PlayerRef is shorthand for a player caller reference.
func PlayerRef(id int64) CallerRef { return CallerRef{Kind: CallerPlayer, ID: id} }

// AgentRef is shorthand for an agent caller reference.
func AgentRef(id int64) CallerRef { return CallerRef{Kind: CallerAgent, ID: id} }

// Agent is an LLM-backed participant. InternalState is private to the agent,
// ExternalState is visible to others.
type Agent struct {
	ID            int64        `json:"id"`
	Name          string       `json:"name"`
	Description   string       `json:"description,omitempty"`
	Instructions  string       `json:"instructions,omitempty"`
	InternalState state.Object `json:"internal_state"`
	ExternalState state.Object `json:"external_state"`
	Actions       []Action     `json:"actions,omitempty"`
}

// CombinedState overlays the internal state onto the external state.
// Internal keys win on conflict.
func (a *Agent) CombinedState() state.Object {
	return state.Merge(a.ExternalState, a.InternalState)
}

// Describe implements Caller.
func (a *Agent) Describe() CallerDetails {
	return CallerDetails{Kind: CallerAgent, ID: a.ID, Name: a.Name, Description: a.Description}
}

// Clone returns a deep copy of the agent.
func (a *Agent) Clone() *Agent {
	c := *a
	c.InternalState = a.InternalState.Clone()
	c.ExternalState = a.ExternalState.Clone()
	c.Actions = make([]Action, len(a.Actions))
	for i, act := range a.Actions {
		c.Actions[i] = act.Clone()
	}
	return &c
}

// Player is an external, human participant.
type Player struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Describe implements Caller.
func (p *Player) Describe() CallerDetails {
	return CallerDetails{Kind: CallerPlayer, ID: p.ID, Name: p.Name, Description: p.Description}
}

// ActionResult is one chosen action as recorded in a response.
type ActionResult struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

// MessageResponse is the structured answer of one agent turn.
type MessageResponse struct {
	Response string         `json:"response"`
	Actions  []ActionResult `json:"actions"`
}

// AgentMessage is one persisted conversation turn. Exactly one of
// CallerAgentID and CallerPlayerID is set. Messages are append-only.
type AgentMessage struct {
	ID             int64           `json:"id"`
	AgentID        int64           `json:"agent_id"`
	CallerAgentID  *int64          `json:"caller_agent_id,omitempty"`
	CallerPlayerID *int64          `json:"caller_player_id,omitempty"`
	Query          string          `json:"query"`
	Response       MessageResponse `json:"response"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Caller returns the reference of whoever sent the query.
func (m *AgentMessage) Caller() CallerRef {
	if m.CallerAgentID != nil {
		return AgentRef(*m.CallerAgentID)
	}
	if m.CallerPlayerID != nil {
		return PlayerRef(*m.CallerPlayerID)
	}
	return CallerRef{}
}

// SetCaller records ref as the message caller.
func (m *AgentMessage) SetCaller(ref CallerRef) {
	id := ref.ID
	m.CallerAgentID, m.CallerPlayerID = nil, nil
	switch ref.Kind {
	case CallerAgent:
		m.CallerAgentID = &id
	case CallerPlayer:
		m.CallerPlayerID = &id
	}
}
