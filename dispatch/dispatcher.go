package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/agentgate/condition"
	"github.com/hupe1980/agentgate/core"
	"github.com/hupe1980/agentgate/event"
	"github.com/hupe1980/agentgate/internal/util"
	"github.com/hupe1980/agentgate/logging"
	"github.com/hupe1980/agentgate/state"
)

// DefaultMaxDepth bounds the trigger chain of one query.
const DefaultMaxDepth = 8

// Gate decides whether an action is currently available. An action without
// rules is available; a broken rule returns an error matching
// condition.ErrEvaluation.
type Gate interface {
	Check(ctx context.Context, actionID int64, global state.Object) (bool, error)
}

// Observer is notified about finished turns and queries.
type Observer interface {
	TurnFinished(agentID int64, success bool, elapsed time.Duration)
	QueryFinished(success bool, elapsed time.Duration)
}

// Dependencies are the collaborators a Dispatcher needs. All are required
// except Events, which defaults to discarding.
type Dependencies struct {
	Agents   core.AgentRepository
	Players  core.PlayerRepository
	Messages core.MessageRepository
	States   core.StateStore
	Gate     Gate
	Decider  core.Decider
	Events   core.EventSink
}

// Options configures a Dispatcher.
type Options struct {
	// MaxDepth is the deepest trigger level a query may reach; the addressed
	// agent runs at depth 0. Zero disables the limit. Defaults to
	// DefaultMaxDepth.
	MaxDepth int

	// NewQueryID allocates correlation ids. Defaults to random UUIDs.
	NewQueryID func() string

	// Observer receives timing information. Optional.
	Observer Observer

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Dispatcher runs queries. It holds no per-query state and is safe for
// concurrent use as long as its dependencies are.
type Dispatcher struct {
	deps     Dependencies
	maxDepth int
	newID    func() string
	observer Observer
	logger   logging.Logger
}

// New creates a Dispatcher.
func New(deps Dependencies, optFns ...func(o *Options)) *Dispatcher {
	opts := Options{
		MaxDepth:   DefaultMaxDepth,
		NewQueryID: uuid.NewString,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if deps.Events == nil {
		deps.Events = event.Noop{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Dispatcher{
		deps:     deps,
		maxDepth: opts.MaxDepth,
		newID:    opts.NewQueryID,
		observer: opts.Observer,
		logger:   opts.Logger,
	}
}

// Request addresses one query to one agent.
type Request struct {
	AgentID int64          `json:"agent_id"`
	Caller  core.CallerRef `json:"caller"`
	Query   string         `json:"query"`
}

// Result summarizes a finished query. Success is false when any turn of the
// query failed.
type Result struct {
	QueryID string `json:"query_id"`
	Success bool   `json:"success"`
}

// Query runs req to completion. A missing agent, caller or global state is
// returned as an error before anything is emitted; every later failure is
// reported through events and reflected in Result.Success.
func (d *Dispatcher) Query(ctx context.Context, req Request) (Result, error) {
	agent, err := d.deps.Agents.GetAgent(ctx, req.AgentID)
	if err != nil {
		return Result{}, err
	}
	caller, err := d.caller(ctx, req.Caller)
	if err != nil {
		return Result{}, err
	}
	if _, err := d.deps.States.GlobalState(ctx); err != nil {
		return Result{}, fmt.Errorf("load global state: %w", err)
	}

	r := &run{
		Dispatcher: d,
		queryID:    d.newID(),
	}
	r.logger = logging.With(d.logger, "query_id", r.queryID)
	r.logger.Info("query started", "agent_id", agent.ID, "caller", req.Caller)

	start := time.Now()
	success := false
	if chosen, ok := r.turn(ctx, agent, caller, req.Query); ok {
		success = r.fanOut(ctx, agent, chosen, 0)
	}

	d.deps.Events.Emit(ctx, core.EventResponseEnd, core.EndPayload{QueryID: r.queryID})
	elapsed := time.Since(start)
	if d.observer != nil {
		d.observer.QueryFinished(success, elapsed)
	}
	r.logger.Info("query finished", "success", success, "duration", elapsed)

	return Result{QueryID: r.queryID, Success: success}, nil
}

func (d *Dispatcher) caller(ctx context.Context, ref core.CallerRef) (core.Caller, error) {
	switch ref.Kind {
	case core.CallerPlayer:
		p, err := d.deps.Players.GetPlayer(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		return p, nil
	case core.CallerAgent:
		a, err := d.deps.Agents.GetAgent(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, core.Validationf("unknown caller kind %q", ref.Kind)
	}
}

// run carries the state of one query.
type run struct {
	*Dispatcher
	queryID string
	logger  logging.Logger
}

// chosen pairs a chosen action with its definition.
type chosen struct {
	action core.Action
	params map[string]any
}

// fanOut dispatches the triggering actions chosen by agent, depth-first.
// depth is the level of agent itself.
func (r *run) fanOut(ctx context.Context, agent *core.Agent, actions []chosen, depth int) bool {
	success := true
	for _, c := range actions {
		if c.action.TriggeredAgentID == nil {
			continue
		}
		targetID := *c.action.TriggeredAgentID
		target, err := r.deps.Agents.GetAgent(ctx, targetID)
		if err != nil {
			r.logger.Warn("triggered agent not found, skipping",
				"agent_id", agent.ID, "action", c.action.Name, "triggered_agent_id", targetID, "error", err)
			continue
		}

		if r.maxDepth > 0 && depth+1 > r.maxDepth {
			r.emitError(ctx, target.ID, fmt.Errorf("maximum dispatch depth %d exceeded", r.maxDepth))
			return false
		}

		query, err := json.Marshal(c.params)
		if err != nil {
			r.emitError(ctx, target.ID, fmt.Errorf("encode params of action %q: %w", c.action.Name, err))
			return false
		}

		next, ok := r.turn(ctx, target, agent, string(query))
		if !ok {
			return false
		}
		if !r.fanOut(ctx, target, next, depth+1) {
			success = false
		}
	}
	return success
}

// turn gates, decides, persists and emits for one agent. Failures are
// emitted as error events and reported as false.
func (r *run) turn(ctx context.Context, agent *core.Agent, caller core.Caller, query string) ([]chosen, bool) {
	start := time.Now()
	actions, err := r.decide(ctx, agent, caller, query)
	if r.observer != nil {
		r.observer.TurnFinished(agent.ID, err == nil, time.Since(start))
	}
	if err != nil {
		r.emitError(ctx, agent.ID, err)
		return nil, false
	}
	return actions, true
}

func (r *run) decide(ctx context.Context, agent *core.Agent, caller core.Caller, query string) ([]chosen, error) {
	global, err := r.deps.States.GlobalState(ctx)
	if err != nil {
		return nil, fmt.Errorf("load global state: %w", err)
	}

	available, err := r.gate(ctx, agent, global)
	if err != nil {
		return nil, err
	}

	history, err := r.history(ctx, agent.ID)
	if err != nil {
		return nil, err
	}

	decision, err := r.deps.Decider.Decide(ctx, core.DecisionInput{
		AgentID:       agent.ID,
		AgentName:     agent.Name,
		Instructions:  agent.Instructions,
		GlobalState:   global,
		InternalState: agent.InternalState,
		ExternalState: agent.ExternalState,
		Caller:        caller.Describe(),
		History:       history,
		Actions:       available,
		Query:         query,
	})
	if err != nil {
		return nil, err
	}

	actions, err := r.validate(agent.ID, decision, available)
	if err != nil {
		return nil, err
	}

	msg := &core.AgentMessage{
		AgentID:  agent.ID,
		Query:    query,
		Response: core.MessageResponse{Response: decision.Response, Actions: make([]core.ActionResult, 0, len(actions))},
	}
	msg.SetCaller(callerRef(caller))
	payload := core.ResponsePayload{
		QueryID:  r.queryID,
		AgentID:  agent.ID,
		Response: decision.Response,
		Actions:  make([]core.ActionResponse, 0, len(actions)),
	}
	for _, c := range actions {
		msg.Response.Actions = append(msg.Response.Actions, core.ActionResult{Name: c.action.Name, Params: c.params})
		payload.Actions = append(payload.Actions, core.ActionResponse{
			Name:             c.action.Name,
			Params:           c.params,
			TriggeredAgentID: c.action.TriggeredAgentID,
		})
	}

	if _, err := r.deps.Messages.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}
	r.deps.Events.Emit(ctx, core.EventResponse, payload)
	r.logger.Debug("turn completed", "agent_id", agent.ID, "actions", len(actions))

	return actions, nil
}

// gate returns the agent's currently available actions in declaration
// order. Any broken rule aborts the turn.
func (r *run) gate(ctx context.Context, agent *core.Agent, global state.Object) ([]core.AvailableAction, error) {
	var available []core.AvailableAction
	for _, a := range agent.Actions {
		ok, err := r.deps.Gate.Check(ctx, a.ID, global)
		if err != nil {
			return nil, fmt.Errorf("gate action %q: %w", a.Name, err)
		}
		if !ok {
			continue
		}
		av := core.AvailableAction{Action: a}
		if a.TriggeredAgentID != nil {
			target, err := r.deps.Agents.GetAgent(ctx, *a.TriggeredAgentID)
			switch {
			case err == nil:
				av.TriggeredAgent = &core.AgentDetails{
					ID:            target.ID,
					Name:          target.Name,
					Description:   target.Description,
					ExternalState: target.ExternalState,
				}
			case !errors.Is(err, core.ErrNotFound):
				return nil, fmt.Errorf("load triggered agent %d: %w", *a.TriggeredAgentID, err)
			}
		}
		available = append(available, av)
	}
	return available, nil
}

// history resolves the agent's past messages against their callers.
// Callers that no longer exist resolve to nil.
func (r *run) history(ctx context.Context, agentID int64) ([]core.HistoryEntry, error) {
	messages, err := r.deps.Messages.ListMessages(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("load history of agent %d: %w", agentID, err)
	}

	cache := map[core.CallerRef]*core.CallerDetails{}
	out := make([]core.HistoryEntry, 0, len(messages))
	for _, m := range messages {
		ref := m.Caller()
		details, seen := cache[ref]
		if !seen {
			c, err := r.caller(ctx, ref)
			switch {
			case err == nil:
				d := c.Describe()
				details = &d
			case !errors.Is(err, core.ErrNotFound) && !errors.Is(err, core.ErrValidation):
				return nil, fmt.Errorf("load caller of message %d: %w", m.ID, err)
			}
			cache[ref] = details
		}
		out = append(out, core.HistoryEntry{Message: m, Caller: details})
	}
	return out, nil
}

// validate maps chosen actions onto the available ones, keeping the
// decision's order. Unknown names are dropped; invalid params fail the turn.
func (r *run) validate(agentID int64, d core.Decision, available []core.AvailableAction) ([]chosen, error) {
	byName := make(map[string]core.Action, len(available))
	for _, a := range available {
		byName[a.Name] = a.Action
	}

	out := make([]chosen, 0, len(d.Actions))
	for _, c := range d.Actions {
		action, ok := byName[c.Name]
		if !ok {
			r.logger.Warn("ignoring unavailable action", "agent_id", agentID, "action", c.Name)
			continue
		}
		params := c.Params
		if params == nil {
			params = map[string]any{}
		}
		if err := util.ValidateParameters(params, util.ParamsSchema(action.Params)); err != nil {
			return nil, fmt.Errorf("invalid params for action %q: %w", c.Name, err)
		}
		out = append(out, chosen{action: action, params: params})
	}
	return out, nil
}

func (r *run) emitError(ctx context.Context, agentID int64, err error) {
	msg := ErrorMessage(err)
	r.logger.Warn("turn failed", "agent_id", agentID, "error", msg)
	r.deps.Events.Emit(ctx, core.EventResponseError, core.ErrorPayload{
		QueryID: r.queryID,
		AgentID: agentID,
		Error:   msg,
	})
}

// ErrorMessage renders a turn failure for an error event. Broken rules are
// reported with their evaluation message, everything else as an internal
// error.
func ErrorMessage(err error) string {
	var (
		evalErr *condition.EvaluationError
		pathErr *condition.StateVariableNotFoundError
	)
	switch {
	case errors.As(err, &evalErr):
		return "Condition evaluation error: " + evalErr.Error()
	case errors.As(err, &pathErr):
		return "Condition evaluation error: " + pathErr.Error()
	default:
		return "Internal server error: " + err.Error()
	}
}

func callerRef(c core.Caller) core.CallerRef {
	d := c.Describe()
	return core.CallerRef{Kind: d.Kind, ID: d.ID}
}
