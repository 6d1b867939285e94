package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgate/state"
)

func TestAgentMessageCaller(t *testing.T) {
	var m AgentMessage
	m.SetCaller(AgentRef(4))
	require.NotNil(t, m.CallerAgentID)
	assert.Nil(t, m.CallerPlayerID)
	assert.Equal(t, AgentRef(4), m.Caller())

	m.SetCaller(PlayerRef(9))
	assert.Nil(t, m.CallerAgentID)
	require.NotNil(t, m.CallerPlayerID)
	assert.Equal(t, int64(9), *m.CallerPlayerID)
	assert.Equal(t, PlayerRef(9), m.Caller())
}

func TestCombinedStateInternalWins(t *testing.T) {
	a := &Agent{
		InternalState: state.Object{"mood": state.String("grumpy")},
		ExternalState: state.Object{"mood": state.String("smiling"), "coat": state.String("red")},
	}
	want := state.Object{"mood": state.String("grumpy"), "coat": state.String("red")}
	if diff := cmp.Diff(want, a.CombinedState()); diff != "" {
		t.Errorf("combined state mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, state.String("smiling"), a.ExternalState["mood"])
}

func TestAgentClone(t *testing.T) {
	trigger := int64(2)
	a := &Agent{
		ID:            1,
		InternalState: state.Object{"gold": state.Number(3)},
		Actions:       []Action{{ID: 5, Name: "pay", TriggeredAgentID: &trigger, Params: []ActionParam{{Name: "amount"}}}},
	}
	c := a.Clone()
	c.InternalState["gold"] = state.Number(0)
	*c.Actions[0].TriggeredAgentID = 7
	c.Actions[0].Params[0].Name = "changed"

	assert.Equal(t, state.Number(3), a.InternalState["gold"])
	assert.Equal(t, int64(2), *a.Actions[0].TriggeredAgentID)
	assert.Equal(t, "amount", a.Actions[0].Params[0].Name)
}

func TestComparator(t *testing.T) {
	names := map[Comparator]string{
		Equal: "EQUAL", NotEqual: "NOT_EQUAL", Greater: "GREATER",
		Less: "LESS", AtLeast: "AT_LEAST", AtMost: "AT_MOST",
	}
	for c, name := range names {
		assert.True(t, c.Valid(), c)
		assert.Equal(t, name, c.Name())
	}
	assert.False(t, Comparator("~=").Valid())
	assert.Equal(t, "~=", Comparator("~=").Name())
}

func TestParamTypeAndOperatorValidity(t *testing.T) {
	for _, p := range []ParamType{ParamString, ParamInt, ParamFloat, ParamBool, ParamLiteral} {
		assert.True(t, p.Valid(), p)
	}
	assert.False(t, ParamType("date").Valid())
	assert.True(t, And.Valid())
	assert.True(t, Or.Valid())
	assert.False(t, LogicalOperator("XOR").Valid())
}

func TestOperatorIsRoot(t *testing.T) {
	parent := int64(1)
	assert.True(t, (&Operator{ID: 1, RootID: 1}).IsRoot())
	assert.False(t, (&Operator{ID: 2, RootID: 1, ParentID: &parent}).IsRoot())
	assert.False(t, (&Operator{ID: 3, RootID: 1}).IsRoot())
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		err  error
		kind error
		msg  string
	}{
		{NotFoundf("Agent with id %d not found", 3), ErrNotFound, "Agent with id 3 not found"},
		{Conflictf("Root with id %d has a parent", 4), ErrConflict, "Root with id 4 has a parent"},
		{Validationf("bad %s", "input"), ErrValidation, "bad input"},
	}
	for _, tt := range tests {
		wrapped := fmt.Errorf("load: %w", tt.err)
		assert.True(t, errors.Is(wrapped, tt.kind))
		assert.Equal(t, tt.msg, tt.err.Error())
	}
	assert.False(t, errors.Is(NotFoundf("x"), ErrConflict))
}
