package testutil

import "github.com/hupe1980/agentgate/core"

// TreeBuilder assembles the flat node rows of one rule tree with
// deterministic ids, starting at 1 for the root.
//
//	tb := NewTree(core.And)
//	or := tb.Operator(tb.RootID(), core.Or)
//	tb.Leaf(or, "door/open", core.Equal, "true")
type TreeBuilder struct {
	rootID   int64
	actionID *int64
	nextOp   int64
	nextLeaf int64
	nodes    []core.ConditionNode
}

// NewTree starts a tree whose root combines children with op.
func NewTree(op core.LogicalOperator) *TreeBuilder {
	b := &TreeBuilder{rootID: 1, nextOp: 1}
	b.nodes = append(b.nodes, &core.Operator{ID: 1, RootID: 1, LogicalOperator: op})
	return b
}

// RootID returns the id of the root operator.
func (b *TreeBuilder) RootID() int64 { return b.rootID }

// ForAction denormalizes actionID onto every node built so far and later.
func (b *TreeBuilder) ForAction(actionID int64) *TreeBuilder {
	b.actionID = &actionID
	for _, n := range b.nodes {
		switch t := n.(type) {
		case *core.Operator:
			t.ActionID = &actionID
		case *core.Condition:
			t.ActionID = &actionID
		}
	}
	return b
}

// Operator adds an operator under parent and returns its id.
func (b *TreeBuilder) Operator(parent int64, op core.LogicalOperator) int64 {
	b.nextOp++
	p := parent
	b.nodes = append(b.nodes, &core.Operator{
		ID: b.nextOp, ParentID: &p, RootID: b.rootID, LogicalOperator: op, ActionID: b.actionID,
	})
	return b.nextOp
}

// Leaf adds a global state comparison under parent and returns its id.
func (b *TreeBuilder) Leaf(parent int64, path string, cmp core.Comparator, expected string) int64 {
	return b.leaf(parent, nil, path, cmp, expected)
}

// AgentLeaf adds a comparison against an agent's combined state.
func (b *TreeBuilder) AgentLeaf(parent, agentID int64, path string, cmp core.Comparator, expected string) int64 {
	return b.leaf(parent, &agentID, path, cmp, expected)
}

func (b *TreeBuilder) leaf(parent int64, agentID *int64, path string, cmp core.Comparator, expected string) int64 {
	b.nextLeaf++
	b.nodes = append(b.nodes, &core.Condition{
		ID:                b.nextLeaf,
		ParentID:          parent,
		RootID:            b.rootID,
		ActionID:          b.actionID,
		StateAgentID:      agentID,
		StateVariablePath: path,
		Comparator:        cmp,
		ExpectedValue:     expected,
	})
	return b.nextLeaf
}

// Nodes returns the rows in creation order.
func (b *TreeBuilder) Nodes() []core.ConditionNode {
	out := make([]core.ConditionNode, len(b.nodes))
	copy(out, b.nodes)
	return out
}
