package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agentgate/core"
)

type step struct {
	decision core.Decision
	err      error
}

// ScriptedDecider replays decisions per agent and records every input it
// receives. When an agent's script is exhausted its last step repeats.
type ScriptedDecider struct {
	mu     sync.Mutex
	script map[int64][]step
	calls  []core.DecisionInput
}

var _ core.Decider = (*ScriptedDecider)(nil)

// NewScriptedDecider returns an empty script.
func NewScriptedDecider() *ScriptedDecider {
	return &ScriptedDecider{script: make(map[int64][]step)}
}

// On queues a decision for agentID (chainable).
func (d *ScriptedDecider) On(agentID int64, response string, actions ...core.ChosenAction) *ScriptedDecider {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.script[agentID] = append(d.script[agentID], step{decision: core.Decision{Response: response, Actions: actions}})
	return d
}

// Fail queues an error for agentID (chainable).
func (d *ScriptedDecider) Fail(agentID int64, err error) *ScriptedDecider {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.script[agentID] = append(d.script[agentID], step{err: err})
	return d
}

// Decide implements core.Decider.
func (d *ScriptedDecider) Decide(_ context.Context, in core.DecisionInput) (core.Decision, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, in)

	steps := d.script[in.AgentID]
	if len(steps) == 0 {
		return core.Decision{}, fmt.Errorf("no scripted decision for agent %d", in.AgentID)
	}
	s := steps[0]
	if len(steps) > 1 {
		d.script[in.AgentID] = steps[1:]
	}
	return s.decision, s.err
}

// Calls returns the inputs received so far.
func (d *ScriptedDecider) Calls() []core.DecisionInput {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]core.DecisionInput, len(d.calls))
	copy(out, d.calls)
	return out
}

// Choose is shorthand for a chosen action.
func Choose(name string, params map[string]any) core.ChosenAction {
	return core.ChosenAction{Name: name, Params: params}
}
