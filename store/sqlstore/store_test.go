package sqlstore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgate/core"
	"github.com/hupe1980/agentgate/internal/testutil"
	"github.com/hupe1980/agentgate/state"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentgate.db")
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s, err := Open(context.Background(), SQLite, path, func(o *Options) {
		o.Now = func() time.Time { return fixed }
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLite(t *testing.T) {
	t.Run("state", func(t *testing.T) { testState(t, openSQLite(t)) })
	t.Run("agents", func(t *testing.T) { testAgents(t, openSQLite(t)) })
	t.Run("messages", func(t *testing.T) { testMessages(t, openSQLite(t)) })
	t.Run("conditions", func(t *testing.T) { testConditions(t, openSQLite(t)) })
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openSQLite(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestOpenRejectsUnknownDialect(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "")
	assert.ErrorContains(t, err, "unsupported database dialect")
}

func TestRebind(t *testing.T) {
	s := &Store{dialect: Postgres}
	assert.Equal(t, "SELECT a FROM b WHERE c = $1 AND d = $2", s.rebind("SELECT a FROM b WHERE c = ? AND d = ?"))

	s.dialect = SQLite
	assert.Equal(t, "WHERE c = ?", s.rebind("WHERE c = ?"))
}

func testState(t *testing.T, s core.Store) {
	ctx := context.Background()

	global, err := s.GlobalState(ctx)
	require.NoError(t, err)
	assert.Empty(t, global)

	want := testutil.Object(map[string]any{"weather": "rain", "door": map[string]any{"open": true}})
	require.NoError(t, s.SetGlobalState(ctx, want))
	require.NoError(t, s.SetGlobalState(ctx, want))
	global, err = s.GlobalState(ctx)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(want, global))

	agent, err := s.CreateAgent(ctx, testutil.NewAgent("guard").Internal("mood", "calm").External("mood", "stern").Build())
	require.NoError(t, err)

	combined, err := s.AgentState(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, state.String("calm"), combined["mood"])

	require.NoError(t, s.SetAgentState(ctx, agent.ID, state.Object{}, testutil.Object(map[string]any{"hp": 3})))
	combined, err = s.AgentState(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, state.Number(3), combined["hp"])

	err = s.SetAgentState(ctx, 999, nil, nil)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.AgentState(ctx, 999)
	assert.EqualError(t, err, "Agent with id 999 not found")
}

func testAgents(t *testing.T, s core.Store) {
	ctx := context.Background()

	cook, err := s.CreateAgent(ctx, testutil.NewAgent("cook").Description("makes stew").Build())
	require.NoError(t, err)

	order, err := s.CreateAction(ctx, testutil.NewAction("order").
		Description("order a dish").
		Triggers(cook.ID).
		Param("dish", core.ParamLiteral, "stew", "soup").
		Param("count", core.ParamInt).
		Build())
	require.NoError(t, err)
	require.Len(t, order.Params, 2)
	assert.Equal(t, order.ID, order.Params[0].ActionID)

	wave, err := s.CreateAction(ctx, testutil.NewAction("wave").Build())
	require.NoError(t, err)

	host, err := s.CreateAgent(ctx, testutil.NewAgent("host").
		Instructions("be polite").
		Action(wave).
		Build())
	require.NoError(t, err)
	require.NoError(t, s.AssignAction(ctx, host.ID, order.ID))
	require.NoError(t, s.AssignAction(ctx, host.ID, order.ID))

	got, err := s.GetAgent(ctx, host.ID)
	require.NoError(t, err)
	assert.Equal(t, "be polite", got.Instructions)
	require.Len(t, got.Actions, 2)
	assert.Equal(t, "wave", got.Actions[0].Name)
	assert.Empty(t, cmp.Diff(order, got.Actions[1]))

	err = s.AssignAction(ctx, host.ID, 404)
	assert.EqualError(t, err, "Action with id 404 not found")
	err = s.AssignAction(ctx, 404, wave.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	agents, err := s.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "cook", agents[0].Name)

	player, err := s.CreatePlayer(ctx, &core.Player{Name: "Alice"})
	require.NoError(t, err)
	p, err := s.GetPlayer(ctx, player.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", p.Name)
	_, err = s.GetPlayer(ctx, 404)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testMessages(t *testing.T, s core.Store) {
	ctx := context.Background()
	a, err := s.CreateAgent(ctx, testutil.NewAgent("a").Build())
	require.NoError(t, err)
	b, err := s.CreateAgent(ctx, testutil.NewAgent("b").Build())
	require.NoError(t, err)

	first := &core.AgentMessage{
		AgentID: a.ID,
		Query:   "hello",
		Response: core.MessageResponse{
			Response: "hi",
			Actions:  []core.ActionResult{{Name: "call_b", Params: map[string]any{"n": float64(2)}}},
		},
	}
	first.SetCaller(core.PlayerRef(7))
	saved, err := s.AppendMessage(ctx, first)
	require.NoError(t, err)
	assert.NotZero(t, saved.ID)
	assert.False(t, saved.Timestamp.IsZero())

	second := &core.AgentMessage{AgentID: b.ID, Query: `{"n":2}`, Response: core.MessageResponse{Response: "ok"}}
	second.SetCaller(core.AgentRef(a.ID))
	_, err = s.AppendMessage(ctx, second)
	require.NoError(t, err)

	msgs, err := s.ListMessages(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2, "a received the first and sent the second")
	assert.Equal(t, core.PlayerRef(7), msgs[0].Caller())
	assert.Equal(t, map[string]any{"n": float64(2)}, msgs[0].Response.Actions[0].Params)
	assert.Equal(t, core.AgentRef(a.ID), msgs[1].Caller())
	assert.Empty(t, msgs[1].Response.Actions)

	msgs, err = s.ListMessages(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func testConditions(t *testing.T, s core.Store) {
	ctx := context.Background()
	action, err := s.CreateAction(ctx, testutil.NewAction("open").Build())
	require.NoError(t, err)

	root, err := s.CreateOperator(ctx, core.Operator{LogicalOperator: core.And})
	require.NoError(t, err)
	root.RootID = root.ID
	require.NoError(t, s.UpdateOperator(ctx, root))

	child, err := s.CreateOperator(ctx, core.Operator{ParentID: &root.ID, RootID: root.ID, LogicalOperator: core.Or})
	require.NoError(t, err)
	agentID := int64(3)
	leaf, err := s.CreateCondition(ctx, core.Condition{
		ParentID:          child.ID,
		RootID:            root.ID,
		StateAgentID:      &agentID,
		StateVariablePath: "door/open",
		Comparator:        core.Equal,
		ExpectedValue:     "true",
	})
	require.NoError(t, err)

	none, err := s.FindRootByActionID(ctx, action.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, s.SetActionIDForRoot(ctx, root.ID, action.ID))
	found, err := s.FindRootByActionID(ctx, action.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, root.ID, found.ID)

	nodes, err := s.FindNodesByRootID(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	for _, n := range nodes {
		switch v := n.(type) {
		case *core.Operator:
			require.NotNil(t, v.ActionID)
			assert.Equal(t, action.ID, *v.ActionID)
		case *core.Condition:
			require.NotNil(t, v.ActionID)
			assert.Equal(t, action.ID, *v.ActionID)
			assert.Equal(t, agentID, *v.StateAgentID)
		}
	}
	assert.IsType(t, &core.Condition{}, nodes[2])

	leaf.ExpectedValue = "false"
	require.NoError(t, s.UpdateCondition(ctx, leaf))
	got, err := s.GetCondition(ctx, leaf.ID)
	require.NoError(t, err)
	assert.Equal(t, "false", got.ExpectedValue)
	assert.Equal(t, action.ID, *got.ActionID)

	other, err := s.CreateOperator(ctx, core.Operator{LogicalOperator: core.Or})
	require.NoError(t, err)
	other.RootID = other.ID
	require.NoError(t, s.UpdateOperator(ctx, other))

	child.ParentID, child.RootID, child.ActionID = &other.ID, other.ID, nil
	got.RootID, got.ActionID = other.ID, nil
	require.NoError(t, s.UpdateNodes(ctx, []core.ConditionNode{&child, &got}))
	moved, err := s.FindNodesByRootID(ctx, other.ID)
	require.NoError(t, err)
	assert.Len(t, moved, 3)

	stale := child
	stale.RootID = root.ID
	ghost := core.Condition{ID: 999, ParentID: other.ID, RootID: other.ID, Comparator: core.Equal}
	err = s.UpdateNodes(ctx, []core.ConditionNode{&stale, &ghost})
	assert.ErrorIs(t, err, core.ErrNotFound)
	again, err := s.GetOperator(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, other.ID, again.RootID, "a failed batch is rolled back")

	require.NoError(t, s.DeleteNodes(ctx, []core.ConditionNode{&got, &child}))
	_, err = s.GetCondition(ctx, leaf.ID)
	assert.EqualError(t, err, fmt.Sprintf("Condition with id %d not found", leaf.ID))
	_, err = s.GetOperator(ctx, child.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, s.DeleteNodes(ctx, []core.ConditionNode{&root, &other}))
	_, err = s.GetOperator(ctx, root.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, s.DeleteCondition(ctx, leaf.ID), core.ErrNotFound)
	assert.ErrorIs(t, s.UpdateCondition(ctx, leaf), core.ErrNotFound)
}
