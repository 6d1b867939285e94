package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/agentgate/core"
	"github.com/hupe1980/agentgate/state"
)

var _ core.Store = (*Store)(nil)

// Options configures a Store.
type Options struct {
	// Now stamps appended messages. Defaults to time.Now in UTC.
	Now func() time.Time
}

// Store keeps all entities in maps guarded by one RWMutex.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	global       state.Object
	agents       map[int64]*core.Agent
	agentActions map[int64][]int64
	players      map[int64]*core.Player
	actions      map[int64]core.Action
	messages     []*core.AgentMessage
	operators    map[int64]core.Operator
	conditions   map[int64]core.Condition

	seq map[string]int64
}

// New constructs an empty store.
func New(optFns ...func(o *Options)) *Store {
	opts := Options{Now: func() time.Time { return time.Now().UTC() }}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Store{
		now:          opts.Now,
		global:       state.Object{},
		agents:       make(map[int64]*core.Agent),
		agentActions: make(map[int64][]int64),
		players:      make(map[int64]*core.Player),
		actions:      make(map[int64]core.Action),
		operators:    make(map[int64]core.Operator),
		conditions:   make(map[int64]core.Condition),
		seq:          make(map[string]int64),
	}
}

// nextIDLocked returns the next id of a table; caller holds the write lock.
func (s *Store) nextIDLocked(table string) int64 {
	s.seq[table]++
	return s.seq[table]
}

func (s *Store) GlobalState(context.Context) (state.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.global.Clone(), nil
}

func (s *Store) SetGlobalState(_ context.Context, st state.Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global = st.Clone()
	if s.global == nil {
		s.global = state.Object{}
	}
	return nil
}

func (s *Store) AgentState(_ context.Context, agentID int64) (state.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[agentID]
	if !ok {
		return nil, core.NotFoundf("Agent with id %d not found", agentID)
	}
	return a.CombinedState().Clone(), nil
}

func (s *Store) SetAgentState(_ context.Context, agentID int64, internal, external state.Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	if !ok {
		return core.NotFoundf("Agent with id %d not found", agentID)
	}
	a.InternalState = orEmpty(internal.Clone())
	a.ExternalState = orEmpty(external.Clone())
	return nil
}

// CreateAgent stores a copy of a with a fresh id. Actions carrying an id are
// assigned to the new agent.
func (s *Store) CreateAgent(_ context.Context, a *core.Agent) (*core.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := a.Clone()
	c.ID = s.nextIDLocked("agents")
	c.InternalState = orEmpty(c.InternalState)
	c.ExternalState = orEmpty(c.ExternalState)
	for _, act := range c.Actions {
		if _, ok := s.actions[act.ID]; !ok {
			return nil, core.NotFoundf("Action with id %d not found", act.ID)
		}
		s.agentActions[c.ID] = append(s.agentActions[c.ID], act.ID)
	}
	c.Actions = nil
	s.agents[c.ID] = c
	return s.agentLocked(c.ID), nil
}

func (s *Store) GetAgent(_ context.Context, id int64) (*core.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.agents[id]; !ok {
		return nil, core.NotFoundf("Agent with id %d not found", id)
	}
	return s.agentLocked(id), nil
}

func (s *Store) ListAgents(context.Context) ([]*core.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := sortedKeys(s.agents)
	out := make([]*core.Agent, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.agentLocked(id))
	}
	return out, nil
}

func (s *Store) AssignAction(_ context.Context, agentID, actionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[agentID]; !ok {
		return core.NotFoundf("Agent with id %d not found", agentID)
	}
	if _, ok := s.actions[actionID]; !ok {
		return core.NotFoundf("Action with id %d not found", actionID)
	}
	for _, id := range s.agentActions[agentID] {
		if id == actionID {
			return nil
		}
	}
	s.agentActions[agentID] = append(s.agentActions[agentID], actionID)
	return nil
}

// agentLocked returns a clone with actions populated in assignment order.
func (s *Store) agentLocked(id int64) *core.Agent {
	c := s.agents[id].Clone()
	c.Actions = make([]core.Action, 0, len(s.agentActions[id]))
	for _, actionID := range s.agentActions[id] {
		c.Actions = append(c.Actions, s.actions[actionID].Clone())
	}
	return c
}

func (s *Store) CreatePlayer(_ context.Context, p *core.Player) (*core.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *p
	c.ID = s.nextIDLocked("players")
	s.players[c.ID] = &c
	out := c
	return &out, nil
}

func (s *Store) GetPlayer(_ context.Context, id int64) (*core.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[id]
	if !ok {
		return nil, core.NotFoundf("Player with id %d not found", id)
	}
	out := *p
	return &out, nil
}

// CreateAction stores the action and its params with fresh ids.
func (s *Store) CreateAction(_ context.Context, a core.Action) (core.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := a.Clone()
	c.ID = s.nextIDLocked("actions")
	for i := range c.Params {
		c.Params[i].ID = s.nextIDLocked("action_params")
		c.Params[i].ActionID = c.ID
	}
	s.actions[c.ID] = c
	return c.Clone(), nil
}

func (s *Store) GetAction(_ context.Context, id int64) (core.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actions[id]
	if !ok {
		return core.Action{}, core.NotFoundf("Action with id %d not found", id)
	}
	return a.Clone(), nil
}

func (s *Store) AppendMessage(_ context.Context, m *core.AgentMessage) (*core.AgentMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := cloneMessage(m)
	c.ID = s.nextIDLocked("agent_messages")
	if c.Timestamp.IsZero() {
		c.Timestamp = s.now()
	}
	s.messages = append(s.messages, c)
	return cloneMessage(c), nil
}

func (s *Store) ListMessages(_ context.Context, agentID int64) ([]*core.AgentMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.AgentMessage
	for _, m := range s.messages {
		if m.AgentID == agentID || (m.CallerAgentID != nil && *m.CallerAgentID == agentID) {
			out = append(out, cloneMessage(m))
		}
	}
	return out, nil
}

func cloneMessage(m *core.AgentMessage) *core.AgentMessage {
	c := *m
	c.SetCaller(m.Caller())
	c.Response.Actions = make([]core.ActionResult, len(m.Response.Actions))
	for i, a := range m.Response.Actions {
		c.Response.Actions[i] = core.ActionResult{Name: a.Name, Params: cloneParams(a.Params)}
	}
	return &c
}

func cloneParams(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func orEmpty(o state.Object) state.Object {
	if o == nil {
		return state.Object{}
	}
	return o
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
