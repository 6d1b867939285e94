// Package decision implements core.Decider on top of a language model.
//
// The model receives the agent's instructions and states in the system
// prompt, the conversation history as chat turns and the caller's query as
// the last user message. It must answer with the JSON document described by
// ResponseSchema; ParseDecision turns that document into a core.Decision.
package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/hupe1980/agentgate/core"
	"github.com/hupe1980/agentgate/logging"
	"github.com/hupe1980/agentgate/model"
)

// Options configures a ModelDecider.
type Options struct {
	Logger logging.Logger
	// Stream requests a streaming generation; only the final text is used.
	Stream bool
}

// ModelDecider asks a model.Model for each decision.
type ModelDecider struct {
	model  model.Model
	logger logging.Logger
	stream bool
}

var _ core.Decider = (*ModelDecider)(nil)

// NewModelDecider creates a decider backed by m.
func NewModelDecider(m model.Model, optFns ...func(o *Options)) *ModelDecider {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ModelDecider{model: m, logger: opts.Logger, stream: opts.Stream}
}

// Decide implements core.Decider.
func (d *ModelDecider) Decide(ctx context.Context, in core.DecisionInput) (core.Decision, error) {
	req, err := BuildRequest(in)
	if err != nil {
		return core.Decision{}, err
	}
	req.Stream = d.stream

	start := time.Now()
	resp, err := model.Collect(ctx, d.model, req)
	logging.LogDecision(logging.With(d.logger, "agent_id", in.AgentID), d.model.Info().Name, time.Since(start), err == nil, err)
	if err != nil {
		return core.Decision{}, fmt.Errorf("decide for agent %d: %w", in.AgentID, err)
	}

	decision, unknown, err := ParseDecision(resp.Text, in.Actions)
	if err != nil {
		return core.Decision{}, err
	}
	for _, name := range unknown {
		d.logger.Warn("model chose an unavailable action", "agent_id", in.AgentID, "action", name)
	}
	return decision, nil
}

type rawDecision struct {
	Response string                     `json:"response"`
	Actions  map[string]json.RawMessage `json:"actions"`
}

// ParseDecision decodes the model's JSON answer. Chosen actions follow the
// order of actions; non-null entries naming no available action are
// returned as unknown and left out.
func ParseDecision(text string, actions []core.AvailableAction) (core.Decision, []string, error) {
	var raw rawDecision
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return core.Decision{}, nil, fmt.Errorf("decode decision: %w", err)
	}

	decision := core.Decision{Response: raw.Response}
	known := make(map[string]bool, len(actions))
	for _, a := range actions {
		known[a.Name] = true
		params, ok := raw.Actions[a.Name]
		if !ok || isNull(params) {
			continue
		}
		var p map[string]any
		if err := json.Unmarshal(params, &p); err != nil {
			return core.Decision{}, nil, fmt.Errorf("decode params of action %q: %w", a.Name, err)
		}
		if p == nil {
			p = map[string]any{}
		}
		decision.Actions = append(decision.Actions, core.ChosenAction{Name: a.Name, Params: p})
	}

	var unknown []string
	for name, params := range raw.Actions {
		if !known[name] && !isNull(params) {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	return decision, unknown, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
