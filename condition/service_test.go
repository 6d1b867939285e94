package condition

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgate/core"
	"github.com/hupe1980/agentgate/internal/testutil"
	"github.com/hupe1980/agentgate/store/memory"
)

type fixture struct {
	ctx    context.Context
	store  *memory.Store
	svc    *Service
	action core.Action
	agent  *core.Agent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	require.NoError(t, store.SetGlobalState(ctx, testutil.Object(map[string]any{
		"weather": "rain",
		"level":   3,
	})))
	action, err := store.CreateAction(ctx, testutil.NewAction("open_door").Build())
	require.NoError(t, err)
	agent, err := store.CreateAgent(ctx, testutil.NewAgent("guard").Internal("alert", true).External("alert", false).Build())
	require.NoError(t, err)

	return &fixture{ctx: ctx, store: store, svc: NewService(store, store, store, store), action: action, agent: agent}
}

func TestCreateRoot(t *testing.T) {
	f := newFixture(t)

	root, err := f.svc.CreateRoot(f.ctx, RootSpec{LogicalOperator: core.And, ActionID: &f.action.ID})
	require.NoError(t, err)
	assert.True(t, root.IsRoot())
	assert.Equal(t, root.ID, root.RootID)

	_, err = f.svc.CreateRoot(f.ctx, RootSpec{LogicalOperator: core.Or, ActionID: &f.action.ID})
	assert.ErrorIs(t, err, core.ErrConflict)

	missing := int64(404)
	_, err = f.svc.CreateRoot(f.ctx, RootSpec{LogicalOperator: core.And, ActionID: &missing})
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.EqualError(t, err, "Action with id 404 not found")

	_, err = f.svc.CreateRoot(f.ctx, RootSpec{LogicalOperator: "XOR"})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestCreateOperatorChecksTopology(t *testing.T) {
	f := newFixture(t)
	root, err := f.svc.CreateRoot(f.ctx, RootSpec{LogicalOperator: core.And, ActionID: &f.action.ID})
	require.NoError(t, err)
	other, err := f.svc.CreateRoot(f.ctx, RootSpec{LogicalOperator: core.And})
	require.NoError(t, err)

	op, err := f.svc.CreateOperator(f.ctx, OperatorSpec{ParentID: root.ID, RootID: root.ID, LogicalOperator: core.Or})
	require.NoError(t, err)
	assert.Equal(t, root.ID, *op.ParentID)
	require.NotNil(t, op.ActionID)
	assert.Equal(t, f.action.ID, *op.ActionID)

	_, err = f.svc.CreateOperator(f.ctx, OperatorSpec{ParentID: op.ID, RootID: op.ID, LogicalOperator: core.And})
	assert.ErrorIs(t, err, core.ErrConflict, "root must be a root")

	_, err = f.svc.CreateOperator(f.ctx, OperatorSpec{ParentID: op.ID, RootID: other.ID, LogicalOperator: core.And})
	assert.ErrorIs(t, err, core.ErrConflict, "parent must belong to root")

	_, err = f.svc.CreateOperator(f.ctx, OperatorSpec{ParentID: 999, RootID: root.ID, LogicalOperator: core.And})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestCreateConditionValidatesAtWrite(t *testing.T) {
	f := newFixture(t)
	root, err := f.svc.CreateRoot(f.ctx, RootSpec{LogicalOperator: core.And, ActionID: &f.action.ID})
	require.NoError(t, err)

	c, err := f.svc.CreateCondition(f.ctx, ConditionSpec{
		ParentID: root.ID, RootID: root.ID, StateVariablePath: "weather", Comparator: core.Equal, ExpectedValue: "rain",
	})
	require.NoError(t, err)
	require.NotNil(t, c.ActionID)
	assert.Equal(t, f.action.ID, *c.ActionID)

	_, err = f.svc.CreateCondition(f.ctx, ConditionSpec{
		ParentID: root.ID, RootID: root.ID, StateVariablePath: "weather", Comparator: core.Greater, ExpectedValue: "5",
	})
	assert.ErrorIs(t, err, core.ErrConflict)
	assert.EqualError(t, err, "Comparison 'GREATER' is not valid for values: state_var=rain, expected_value=5")

	_, err = f.svc.CreateCondition(f.ctx, ConditionSpec{
		ParentID: root.ID, RootID: root.ID, StateVariablePath: "missing", Comparator: core.Equal, ExpectedValue: "1",
	})
	assert.ErrorIs(t, err, core.ErrConflict)

	_, err = f.svc.CreateCondition(f.ctx, ConditionSpec{
		ParentID: root.ID, RootID: root.ID, StateAgentID: &f.agent.ID, StateVariablePath: "alert", Comparator: core.Equal, ExpectedValue: "true",
	})
	require.NoError(t, err, "combined state is used, internal wins")

	ghost := int64(77)
	_, err = f.svc.CreateCondition(f.ctx, ConditionSpec{
		ParentID: root.ID, RootID: root.ID, StateAgentID: &ghost, StateVariablePath: "alert", Comparator: core.Equal, ExpectedValue: "true",
	})
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = f.svc.CreateCondition(f.ctx, ConditionSpec{
		ParentID: root.ID, RootID: root.ID, StateVariablePath: "weather", Comparator: "=~", ExpectedValue: "rain",
	})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestUpdateCondition(t *testing.T) {
	f := newFixture(t)
	root, err := f.svc.CreateRoot(f.ctx, RootSpec{LogicalOperator: core.And, ActionID: &f.action.ID})
	require.NoError(t, err)
	c, err := f.svc.CreateCondition(f.ctx, ConditionSpec{
		ParentID: root.ID, RootID: root.ID, StateVariablePath: "level", Comparator: core.Greater, ExpectedValue: "1",
	})
	require.NoError(t, err)

	bad := "sunny"
	_, err = f.svc.UpdateCondition(f.ctx, c.ID, ConditionPatch{ExpectedValue: &bad})
	assert.ErrorIs(t, err, core.ErrConflict)

	stored, err := f.svc.GetCondition(f.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "1", stored.ExpectedValue, "rejected update must not be persisted")

	good := "10"
	updated, err := f.svc.UpdateCondition(f.ctx, c.ID, ConditionPatch{ExpectedValue: &good})
	require.NoError(t, err)
	assert.Equal(t, "10", updated.ExpectedValue)

	_, err = f.svc.UpdateCondition(f.ctx, 999, ConditionPatch{})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestUpdateOperator(t *testing.T) {
	f := newFixture(t)
	root, err := f.svc.CreateRoot(f.ctx, RootSpec{LogicalOperator: core.And})
	require.NoError(t, err)
	a, err := f.svc.CreateOperator(f.ctx, OperatorSpec{ParentID: root.ID, RootID: root.ID, LogicalOperator: core.Or})
	require.NoError(t, err)
	b, err := f.svc.CreateOperator(f.ctx, OperatorSpec{ParentID: a.ID, RootID: root.ID, LogicalOperator: core.Or})
	require.NoError(t, err)

	and := core.And
	updated, err := f.svc.UpdateOperator(f.ctx, a.ID, OperatorPatch{LogicalOperator: &and})
	require.NoError(t, err)
	assert.Equal(t, core.And, updated.LogicalOperator)

	_, err = f.svc.UpdateOperator(f.ctx, a.ID, OperatorPatch{ParentID: &b.ID})
	assert.ErrorIs(t, err, core.ErrConflict, "cannot move below a descendant")

	_, err = f.svc.UpdateOperator(f.ctx, root.ID, OperatorPatch{ParentID: &a.ID})
	assert.ErrorIs(t, err, core.ErrConflict, "roots have no parent")
}

func TestUpdateOperatorMovesSubtreeToAnotherTree(t *testing.T) {
	f := newFixture(t)
	source, err := f.svc.CreateRoot(f.ctx, RootSpec{LogicalOperator: core.And})
	require.NoError(t, err)
	target, err := f.svc.CreateRoot(f.ctx, RootSpec{LogicalOperator: core.Or, ActionID: &f.action.ID})
	require.NoError(t, err)

	op, err := f.svc.CreateOperator(f.ctx, OperatorSpec{ParentID: source.ID, RootID: source.ID, LogicalOperator: core.Or})
	require.NoError(t, err)
	inner, err := f.svc.CreateOperator(f.ctx, OperatorSpec{ParentID: op.ID, RootID: source.ID, LogicalOperator: core.And})
	require.NoError(t, err)
	leaf, err := f.svc.CreateCondition(f.ctx, ConditionSpec{
		ParentID: inner.ID, RootID: source.ID, StateVariablePath: "level", Comparator: core.AtLeast, ExpectedValue: "1",
	})
	require.NoError(t, err)

	moved, err := f.svc.UpdateOperator(f.ctx, op.ID, OperatorPatch{ParentID: &target.ID, RootID: &target.ID})
	require.NoError(t, err)
	assert.Equal(t, target.ID, moved.RootID)
	assert.Equal(t, target.ID, *moved.ParentID)

	tree, err := f.svc.Tree(f.ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, tree.Len(), "root, moved operator, its child operator and leaf")

	rest, err := f.store.FindNodesByRootID(f.ctx, source.ID)
	require.NoError(t, err)
	assert.Len(t, rest, 1, "only the source root stays behind")

	gotLeaf, err := f.svc.GetCondition(f.ctx, leaf.ID)
	require.NoError(t, err)
	assert.Equal(t, target.ID, gotLeaf.RootID)
	assert.Equal(t, inner.ID, gotLeaf.ParentID)
	require.NotNil(t, gotLeaf.ActionID)
	assert.Equal(t, f.action.ID, *gotLeaf.ActionID)

	gotInner, err := f.svc.GetOperator(f.ctx, inner.ID)
	require.NoError(t, err)
	assert.Equal(t, target.ID, gotInner.RootID)
	require.NotNil(t, gotInner.ActionID)
	assert.Equal(t, f.action.ID, *gotInner.ActionID)

	require.NoError(t, f.svc.DeleteTree(f.ctx, target.ID))
	_, err = f.svc.GetCondition(f.ctx, leaf.ID)
	assert.ErrorIs(t, err, core.ErrNotFound, "moved leaf is deleted with its new tree")
	_, err = f.svc.GetOperator(f.ctx, inner.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestAssignRootToActionPropagates(t *testing.T) {
	f := newFixture(t)
	root, err := f.svc.CreateRoot(f.ctx, RootSpec{LogicalOperator: core.And})
	require.NoError(t, err)
	op, err := f.svc.CreateOperator(f.ctx, OperatorSpec{ParentID: root.ID, RootID: root.ID, LogicalOperator: core.Or})
	require.NoError(t, err)
	leaf, err := f.svc.CreateCondition(f.ctx, ConditionSpec{
		ParentID: op.ID, RootID: root.ID, StateVariablePath: "weather", Comparator: core.Equal, ExpectedValue: "rain",
	})
	require.NoError(t, err)
	assert.Nil(t, leaf.ActionID)

	require.NoError(t, f.svc.AssignRootToAction(f.ctx, root.ID, f.action.ID))

	nodes, err := f.store.FindNodesByRootID(f.ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	for _, n := range nodes {
		switch v := n.(type) {
		case *core.Operator:
			require.NotNil(t, v.ActionID)
			assert.Equal(t, f.action.ID, *v.ActionID)
		case *core.Condition:
			require.NotNil(t, v.ActionID)
			assert.Equal(t, f.action.ID, *v.ActionID)
		}
	}

	tree, err := f.svc.TreeForAction(f.ctx, f.action.ID)
	require.NoError(t, err)
	require.NotNil(t, tree)
	assert.Equal(t, 3, tree.Len())

	other, err := f.svc.CreateRoot(f.ctx, RootSpec{LogicalOperator: core.Or})
	require.NoError(t, err)
	err = f.svc.AssignRootToAction(f.ctx, other.ID, f.action.ID)
	assert.ErrorIs(t, err, core.ErrConflict)

	err = f.svc.AssignRootToAction(f.ctx, op.ID, f.action.ID)
	assert.ErrorIs(t, err, core.ErrConflict, "not a root")

	require.NoError(t, f.svc.AssignRootToAction(f.ctx, root.ID, f.action.ID), "reassigning the same root is allowed")
}

func TestDeleteCascades(t *testing.T) {
	f := newFixture(t)
	root, err := f.svc.CreateRoot(f.ctx, RootSpec{LogicalOperator: core.And, ActionID: &f.action.ID})
	require.NoError(t, err)
	op, err := f.svc.CreateOperator(f.ctx, OperatorSpec{ParentID: root.ID, RootID: root.ID, LogicalOperator: core.Or})
	require.NoError(t, err)
	inner, err := f.svc.CreateOperator(f.ctx, OperatorSpec{ParentID: op.ID, RootID: root.ID, LogicalOperator: core.And})
	require.NoError(t, err)
	for _, parent := range []int64{root.ID, op.ID, inner.ID} {
		_, err := f.svc.CreateCondition(f.ctx, ConditionSpec{
			ParentID: parent, RootID: root.ID, StateVariablePath: "level", Comparator: core.AtLeast, ExpectedValue: "1",
		})
		require.NoError(t, err)
	}

	require.NoError(t, f.svc.DeleteOperator(f.ctx, op.ID))
	nodes, err := f.store.FindNodesByRootID(f.ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, nodes, 2, "root and its own leaf remain")

	rootLeaf := nodes[1].NodeID()
	require.NoError(t, f.svc.DeleteCondition(f.ctx, rootLeaf))
	err = f.svc.DeleteCondition(f.ctx, rootLeaf)
	assert.EqualError(t, err, fmt.Sprintf("Condition with id %d not found", rootLeaf))

	require.NoError(t, f.svc.DeleteTree(f.ctx, root.ID))
	nodes, err = f.store.FindNodesByRootID(f.ctx, root.ID)
	require.NoError(t, err)
	assert.Empty(t, nodes)

	tree, err := f.svc.TreeForAction(f.ctx, f.action.ID)
	require.NoError(t, err)
	assert.Nil(t, tree)
}

func TestEvaluateAction(t *testing.T) {
	f := newFixture(t)

	ok, err := f.svc.EvaluateAction(f.ctx, f.action.ID)
	require.NoError(t, err)
	assert.True(t, ok, "no tree means available")

	root, err := f.svc.CreateRoot(f.ctx, RootSpec{LogicalOperator: core.And, ActionID: &f.action.ID})
	require.NoError(t, err)
	_, err = f.svc.CreateCondition(f.ctx, ConditionSpec{
		ParentID: root.ID, RootID: root.ID, StateVariablePath: "weather", Comparator: core.Equal, ExpectedValue: "sun",
	})
	require.NoError(t, err)

	ok, err = f.svc.EvaluateAction(f.ctx, f.action.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.store.SetGlobalState(f.ctx, testutil.Object(map[string]any{"weather": 12})))
	ok, err = f.svc.Check(f.ctx, f.action.ID, testutil.Object(map[string]any{"weather": "sun"}))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, f.store.SetGlobalState(f.ctx, testutil.Object(map[string]any{})))
	_, err = f.svc.EvaluateAction(f.ctx, f.action.ID)
	assert.ErrorIs(t, err, core.ErrConflict)

	_, err = f.svc.EvaluateAction(f.ctx, 999)
	assert.ErrorIs(t, err, core.ErrNotFound)
}
