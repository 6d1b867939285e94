// Package condition implements the rule engine that gates agent actions.
//
// Rules are persisted as a flat forest of core.Operator and core.Condition
// rows linked by ParentID and RootID. Build reconstructs one tree on demand
// into an index-based arena; Evaluate is a pure function of the tree and the
// supplied states. Nothing here keeps a live pointer graph between calls.
//
// Service layers the administrative operations on top: creating roots and
// nodes, write-time validation, assigning a tree to an action and cascade
// deletion.
package condition

import (
	"fmt"
	"sort"

	"github.com/hupe1980/agentgate/core"
)

// Tree is an in-memory rule tree. Index 0 is the root operator; children
// holds the arena indices of each node's children in evaluation order.
type Tree struct {
	nodes    []core.ConditionNode
	children [][]int
}

// Build reconstructs the tree rooted at rootID from a flat node set. Nodes
// belonging to other roots, and nodes not reachable from the root through
// operator parents, are ignored. Under each operator, leaves come first and
// operators second, each group in input order.
func Build(nodes []core.ConditionNode, rootID int64) (*Tree, error) {
	var root *core.Operator
	leaves := make(map[int64][]*core.Condition)
	operators := make(map[int64][]*core.Operator)

	for _, n := range nodes {
		if n.NodeRootID() != rootID {
			continue
		}
		switch node := n.(type) {
		case *core.Operator:
			if node.ID == rootID {
				root = node
				continue
			}
			if node.ParentID != nil {
				operators[*node.ParentID] = append(operators[*node.ParentID], node)
			}
		case *core.Condition:
			leaves[node.ParentID] = append(leaves[node.ParentID], node)
		}
	}
	if root == nil {
		return nil, fmt.Errorf("%w: %d", ErrRootNotFound, rootID)
	}

	t := &Tree{}
	visited := map[int64]bool{}
	t.attach(t.add(root), root.ID, leaves, operators, visited)
	return t, nil
}

// NewLeafTree wraps a single condition so it can be evaluated on its own.
func NewLeafTree(c *core.Condition) *Tree {
	t := &Tree{}
	t.add(c)
	return t
}

func (t *Tree) add(n core.ConditionNode) int {
	t.nodes = append(t.nodes, n)
	t.children = append(t.children, nil)
	return len(t.nodes) - 1
}

func (t *Tree) attach(
	idx int,
	id int64,
	leaves map[int64][]*core.Condition,
	operators map[int64][]*core.Operator,
	visited map[int64]bool,
) {
	if visited[id] {
		return
	}
	visited[id] = true

	for _, leaf := range leaves[id] {
		t.children[idx] = append(t.children[idx], t.add(leaf))
	}
	for _, op := range operators[id] {
		if visited[op.ID] {
			continue
		}
		child := t.add(op)
		t.children[idx] = append(t.children[idx], child)
		t.attach(child, op.ID, leaves, operators, visited)
	}
}

// Root returns the root node.
func (t *Tree) Root() core.ConditionNode { return t.nodes[0] }

// Len returns the number of nodes in the tree.
func (t *Tree) Len() int { return len(t.nodes) }

// Walk visits every node depth-first, parents before children.
func (t *Tree) Walk(fn func(n core.ConditionNode, depth int)) {
	var visit func(idx, depth int)
	visit = func(idx, depth int) {
		fn(t.nodes[idx], depth)
		for _, c := range t.children[idx] {
			visit(c, depth+1)
		}
	}
	visit(0, 0)
}

// PostOrder returns the subtree rooted at the operator with the given id,
// children before parents. The boolean is false when no such operator is in
// the tree.
func (t *Tree) PostOrder(operatorID int64) ([]core.ConditionNode, bool) {
	start := -1
	for i, n := range t.nodes {
		if isOperator(n) && n.NodeID() == operatorID {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, false
	}
	var out []core.ConditionNode
	var visit func(idx int)
	visit = func(idx int) {
		for _, c := range t.children[idx] {
			visit(c)
		}
		out = append(out, t.nodes[idx])
	}
	visit(start)
	return out, true
}

// AgentIDs returns the distinct agent ids referenced by the tree's leaves,
// sorted ascending.
func (t *Tree) AgentIDs() []int64 {
	seen := map[int64]bool{}
	var ids []int64
	for _, n := range t.nodes {
		c, ok := n.(*core.Condition)
		if !ok || c.StateAgentID == nil || seen[*c.StateAgentID] {
			continue
		}
		seen[*c.StateAgentID] = true
		ids = append(ids, *c.StateAgentID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Flatten turns the tree back into persisted rows, re-deriving every
// ParentID and RootID from the tree structure. Rows are returned in
// depth-first order.
func Flatten(t *Tree) []core.ConditionNode {
	rootID := t.nodes[0].NodeID()
	out := make([]core.ConditionNode, 0, len(t.nodes))

	var visit func(idx int, parent *int64)
	visit = func(idx int, parent *int64) {
		switch n := t.nodes[idx].(type) {
		case *core.Operator:
			cp := *n
			cp.RootID = rootID
			cp.ParentID = copyID(parent)
			out = append(out, &cp)
		case *core.Condition:
			cp := *n
			cp.RootID = rootID
			if parent != nil {
				cp.ParentID = *parent
			}
			out = append(out, &cp)
		}
		id := t.nodes[idx].NodeID()
		for _, c := range t.children[idx] {
			visit(c, &id)
		}
	}
	visit(0, nil)
	return out
}

func copyID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func isOperator(n core.ConditionNode) bool {
	_, ok := n.(*core.Operator)
	return ok
}
