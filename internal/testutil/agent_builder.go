package testutil

import (
	"github.com/hupe1980/agentgate/core"
	"github.com/hupe1980/agentgate/state"
)

// AgentBuilder provides a fluent helper for constructing agents in tests.
//
//	a := NewAgent("guard").Instructions("keep watch").Internal("hp", 10).Build()
type AgentBuilder struct {
	a core.Agent
}

// NewAgent creates a builder with empty states.
func NewAgent(name string) *AgentBuilder {
	return &AgentBuilder{a: core.Agent{Name: name, InternalState: state.Object{}, ExternalState: state.Object{}}}
}

func (b *AgentBuilder) ID(id int64) *AgentBuilder              { b.a.ID = id; return b }
func (b *AgentBuilder) Description(d string) *AgentBuilder     { b.a.Description = d; return b }
func (b *AgentBuilder) Instructions(i string) *AgentBuilder    { b.a.Instructions = i; return b }
func (b *AgentBuilder) Action(a core.Action) *AgentBuilder     { b.a.Actions = append(b.a.Actions, a); return b }
func (b *AgentBuilder) Internal(key string, v any) *AgentBuilder {
	b.a.InternalState[key] = mustValue(v)
	return b
}

// External sets one key of the external state (chainable).
func (b *AgentBuilder) External(key string, v any) *AgentBuilder {
	b.a.ExternalState[key] = mustValue(v)
	return b
}

// Build returns a copy of the agent.
func (b *AgentBuilder) Build() *core.Agent { return b.a.Clone() }

// ActionBuilder provides a fluent helper for constructing actions.
type ActionBuilder struct {
	a core.Action
}

// NewAction creates a builder for an action without params.
func NewAction(name string) *ActionBuilder { return &ActionBuilder{a: core.Action{Name: name}} }

func (b *ActionBuilder) ID(id int64) *ActionBuilder          { b.a.ID = id; return b }
func (b *ActionBuilder) Description(d string) *ActionBuilder { b.a.Description = d; return b }

// Triggers makes choosing the action query agentID (chainable).
func (b *ActionBuilder) Triggers(agentID int64) *ActionBuilder {
	b.a.TriggeredAgentID = &agentID
	return b
}

// Param appends a typed param; literals are only used with core.ParamLiteral.
func (b *ActionBuilder) Param(name string, t core.ParamType, literals ...any) *ActionBuilder {
	b.a.Params = append(b.a.Params, core.ActionParam{Name: name, Type: t, LiteralValues: literals})
	return b
}

// Build returns a copy of the action.
func (b *ActionBuilder) Build() core.Action { return b.a.Clone() }

// Object converts a decoded JSON map to a state.Object and panics on
// unsupported values.
func Object(m map[string]any) state.Object {
	v, err := state.FromAny(m)
	if err != nil {
		panic(err)
	}
	return v.(state.Object)
}

func mustValue(v any) state.Value {
	out, err := state.FromAny(v)
	if err != nil {
		panic(err)
	}
	return out
}
