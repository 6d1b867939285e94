package memory

import (
	"context"

	"github.com/hupe1980/agentgate/core"
)

func (s *Store) CreateOperator(_ context.Context, o core.Operator) (core.Operator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := cloneOperator(o)
	c.ID = s.nextIDLocked("operators")
	s.operators[c.ID] = c
	return cloneOperator(c), nil
}

func (s *Store) UpdateOperator(_ context.Context, o core.Operator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.operators[o.ID]; !ok {
		return core.NotFoundf("Operator with id %d not found", o.ID)
	}
	s.operators[o.ID] = cloneOperator(o)
	return nil
}

func (s *Store) GetOperator(_ context.Context, id int64) (core.Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.operators[id]
	if !ok {
		return core.Operator{}, core.NotFoundf("Operator with id %d not found", id)
	}
	return cloneOperator(o), nil
}

func (s *Store) CreateCondition(_ context.Context, c core.Condition) (core.Condition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := cloneCondition(c)
	n.ID = s.nextIDLocked("conditions")
	s.conditions[n.ID] = n
	return cloneCondition(n), nil
}

func (s *Store) UpdateCondition(_ context.Context, c core.Condition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conditions[c.ID]; !ok {
		return core.NotFoundf("Condition with id %d not found", c.ID)
	}
	s.conditions[c.ID] = cloneCondition(c)
	return nil
}

func (s *Store) GetCondition(_ context.Context, id int64) (core.Condition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conditions[id]
	if !ok {
		return core.Condition{}, core.NotFoundf("Condition with id %d not found", id)
	}
	return cloneCondition(c), nil
}

func (s *Store) DeleteCondition(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conditions[id]; !ok {
		return core.NotFoundf("Condition with id %d not found", id)
	}
	delete(s.conditions, id)
	return nil
}

// FindNodesByRootID returns operators then conditions of one tree, each
// ordered by id.
func (s *Store) FindNodesByRootID(_ context.Context, rootID int64) ([]core.ConditionNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.ConditionNode
	for _, id := range sortedKeys(s.operators) {
		if o := s.operators[id]; o.RootID == rootID {
			c := cloneOperator(o)
			out = append(out, &c)
		}
	}
	for _, id := range sortedKeys(s.conditions) {
		if n := s.conditions[id]; n.RootID == rootID {
			c := cloneCondition(n)
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Store) FindRootByActionID(_ context.Context, actionID int64) (*core.Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range sortedKeys(s.operators) {
		o := s.operators[id]
		if o.IsRoot() && o.ActionID != nil && *o.ActionID == actionID {
			c := cloneOperator(o)
			return &c, nil
		}
	}
	return nil, nil
}

func (s *Store) SetActionIDForRoot(_ context.Context, rootID, actionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, o := range s.operators {
		if o.RootID == rootID {
			o.ActionID = &actionID
			s.operators[id] = cloneOperator(o)
		}
	}
	for id, c := range s.conditions {
		if c.RootID == rootID {
			c.ActionID = &actionID
			s.conditions[id] = cloneCondition(c)
		}
	}
	return nil
}

// UpdateNodes replaces every listed node under one lock. Nothing is written
// when any node is missing.
func (s *Store) UpdateNodes(_ context.Context, nodes []core.ConditionNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range nodes {
		switch n := n.(type) {
		case *core.Operator:
			if _, ok := s.operators[n.ID]; !ok {
				return core.NotFoundf("Operator with id %d not found", n.ID)
			}
		case *core.Condition:
			if _, ok := s.conditions[n.ID]; !ok {
				return core.NotFoundf("Condition with id %d not found", n.ID)
			}
		}
	}
	for _, n := range nodes {
		switch n := n.(type) {
		case *core.Operator:
			s.operators[n.ID] = cloneOperator(*n)
		case *core.Condition:
			s.conditions[n.ID] = cloneCondition(*n)
		}
	}
	return nil
}

// DeleteNodes removes every listed node under one lock. Missing nodes are
// ignored.
func (s *Store) DeleteNodes(_ context.Context, nodes []core.ConditionNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range nodes {
		switch n.(type) {
		case *core.Operator:
			delete(s.operators, n.NodeID())
		case *core.Condition:
			delete(s.conditions, n.NodeID())
		}
	}
	return nil
}

func cloneOperator(o core.Operator) core.Operator {
	o.ParentID = cloneID(o.ParentID)
	o.ActionID = cloneID(o.ActionID)
	return o
}

func cloneCondition(c core.Condition) core.Condition {
	c.ActionID = cloneID(c.ActionID)
	c.StateAgentID = cloneID(c.StateAgentID)
	return c
}

func cloneID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
