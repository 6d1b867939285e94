package core

import (
	"context"

	"github.com/hupe1980/agentgate/state"
)

// StateStore supplies the global state singleton and per-agent state.
// The global state is replaced wholesale, never patched.
type StateStore interface {
	GlobalState(ctx context.Context) (state.Object, error)
	SetGlobalState(ctx context.Context, s state.Object) error
	// AgentState returns the combined state of an agent or ErrNotFound.
	AgentState(ctx context.Context, agentID int64) (state.Object, error)
	SetAgentState(ctx context.Context, agentID int64, internal, external state.Object) error
}

// AgentRepository persists agents together with their action assignments.
type AgentRepository interface {
	CreateAgent(ctx context.Context, a *Agent) (*Agent, error)
	// GetAgent returns the agent with its actions populated, or ErrNotFound.
	GetAgent(ctx context.Context, id int64) (*Agent, error)
	ListAgents(ctx context.Context) ([]*Agent, error)
	AssignAction(ctx context.Context, agentID, actionID int64) error
}

// PlayerRepository persists players.
type PlayerRepository interface {
	CreatePlayer(ctx context.Context, p *Player) (*Player, error)
	GetPlayer(ctx context.Context, id int64) (*Player, error)
}

// ActionRepository persists actions and their parameters.
type ActionRepository interface {
	CreateAction(ctx context.Context, a Action) (Action, error)
	GetAction(ctx context.Context, id int64) (Action, error)
}

// MessageRepository appends and lists conversation turns.
type MessageRepository interface {
	AppendMessage(ctx context.Context, m *AgentMessage) (*AgentMessage, error)
	// ListMessages returns every message the agent answered or sent, oldest first.
	ListMessages(ctx context.Context, agentID int64) ([]*AgentMessage, error)
}

// ConditionRepository persists rule tree nodes as flat rows.
type ConditionRepository interface {
	CreateOperator(ctx context.Context, o Operator) (Operator, error)
	UpdateOperator(ctx context.Context, o Operator) error
	GetOperator(ctx context.Context, id int64) (Operator, error)

	CreateCondition(ctx context.Context, c Condition) (Condition, error)
	UpdateCondition(ctx context.Context, c Condition) error
	GetCondition(ctx context.Context, id int64) (Condition, error)
	DeleteCondition(ctx context.Context, id int64) error

	// FindNodesByRootID returns every operator and condition of one tree,
	// ordered by id within each kind.
	FindNodesByRootID(ctx context.Context, rootID int64) ([]ConditionNode, error)
	// FindRootByActionID returns the root operator assigned to the action,
	// or nil when the action has no rule tree.
	FindRootByActionID(ctx context.Context, actionID int64) (*Operator, error)
	// SetActionIDForRoot writes actionID onto every node sharing rootID.
	SetActionIDForRoot(ctx context.Context, rootID, actionID int64) error
	// UpdateNodes rewrites several nodes atomically, e.g. a subtree moved
	// to another tree.
	UpdateNodes(ctx context.Context, nodes []ConditionNode) error
	// DeleteNodes removes the given nodes in order, atomically.
	DeleteNodes(ctx context.Context, nodes []ConditionNode) error
}

// Store bundles every repository a full deployment needs.
type Store interface {
	StateStore
	AgentRepository
	PlayerRepository
	ActionRepository
	MessageRepository
	ConditionRepository
}
