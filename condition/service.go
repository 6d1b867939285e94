package condition

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/agentgate/core"
	"github.com/hupe1980/agentgate/logging"
	"github.com/hupe1980/agentgate/state"
)

// Options configures a Service.
type Options struct {
	Logger logging.Logger
}

// Service manages rule trees: lookup and evaluation for dispatch, and the
// administrative writes that keep the persisted forest consistent.
type Service struct {
	conditions core.ConditionRepository
	actions    core.ActionRepository
	agents     core.AgentRepository
	states     core.StateStore
	logger     logging.Logger
}

// NewService creates a Service over the given repositories.
func NewService(
	conditions core.ConditionRepository,
	actions core.ActionRepository,
	agents core.AgentRepository,
	states core.StateStore,
	optFns ...func(o *Options),
) *Service {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Service{
		conditions: conditions,
		actions:    actions,
		agents:     agents,
		states:     states,
		logger:     opts.Logger,
	}
}

// RootSpec describes a new root operator. ActionID may be nil and assigned
// later with AssignRootToAction.
type RootSpec struct {
	LogicalOperator core.LogicalOperator `json:"logical_operator"`
	ActionID        *int64               `json:"action_id"`
}

// OperatorSpec describes a new non-root operator.
type OperatorSpec struct {
	ParentID        int64                `json:"parent_id"`
	RootID          int64                `json:"root_id"`
	LogicalOperator core.LogicalOperator `json:"logical_operator"`
}

// ConditionSpec describes a new leaf.
type ConditionSpec struct {
	ParentID          int64           `json:"parent_id"`
	RootID            int64           `json:"root_id"`
	StateAgentID      *int64          `json:"state_agent_id"`
	StateVariablePath string          `json:"state_variable_name"`
	Comparator        core.Comparator `json:"comparison"`
	ExpectedValue     string          `json:"expected_value"`
}

// ConditionPatch lists the leaf fields to change. Nil fields are kept.
// UseGlobalState clears StateAgentID.
type ConditionPatch struct {
	ParentID          *int64           `json:"parent_id,omitempty"`
	RootID            *int64           `json:"root_id,omitempty"`
	StateAgentID      *int64           `json:"state_agent_id,omitempty"`
	UseGlobalState    bool             `json:"use_global_state,omitempty"`
	StateVariablePath *string          `json:"state_variable_name,omitempty"`
	Comparator        *core.Comparator `json:"comparison,omitempty"`
	ExpectedValue     *string          `json:"expected_value,omitempty"`
}

// OperatorPatch lists the operator fields to change. Nil fields are kept.
type OperatorPatch struct {
	ParentID        *int64                `json:"parent_id,omitempty"`
	RootID          *int64                `json:"root_id,omitempty"`
	LogicalOperator *core.LogicalOperator `json:"logical_operator,omitempty"`
}

// Tree loads the tree rooted at rootID.
func (s *Service) Tree(ctx context.Context, rootID int64) (*Tree, error) {
	root, err := s.operator(ctx, rootID, "Root")
	if err != nil {
		return nil, err
	}
	if !root.IsRoot() {
		return nil, core.Conflictf("Operator with id %d is not a root", rootID)
	}
	return s.build(ctx, rootID)
}

// TreeForAction returns the rule tree gating the action, or nil when the
// action has none.
func (s *Service) TreeForAction(ctx context.Context, actionID int64) (*Tree, error) {
	root, err := s.conditions.FindRootByActionID(ctx, actionID)
	if err != nil {
		return nil, fmt.Errorf("find root for action %d: %w", actionID, err)
	}
	if root == nil {
		return nil, nil
	}
	return s.build(ctx, root.ID)
}

func (s *Service) build(ctx context.Context, rootID int64) (*Tree, error) {
	nodes, err := s.conditions.FindNodesByRootID(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("load nodes of root %d: %w", rootID, err)
	}
	return Build(nodes, rootID)
}

// AgentStatesFor loads the combined state of every agent the tree's leaves
// reference. Agents that no longer exist are left out, so evaluating a leaf
// that reads them fails.
func (s *Service) AgentStatesFor(ctx context.Context, t *Tree) (AgentStates, error) {
	out := AgentStates{}
	for _, id := range t.AgentIDs() {
		st, err := s.states.AgentState(ctx, id)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("load state of agent %d: %w", id, err)
		}
		out[id] = st
	}
	return out, nil
}

// Check evaluates the action's rule tree against global and the current
// agent states. An action without a tree is available. Evaluation errors are
// returned unchanged and match ErrEvaluation.
func (s *Service) Check(ctx context.Context, actionID int64, global state.Object) (bool, error) {
	t, err := s.TreeForAction(ctx, actionID)
	if err != nil {
		return false, err
	}
	if t == nil {
		return true, nil
	}
	agents, err := s.AgentStatesFor(ctx, t)
	if err != nil {
		return false, err
	}
	return Evaluate(t, global, agents)
}

// EvaluateAction evaluates the action's rules against the current state.
// A broken rule is reported as a conflict.
func (s *Service) EvaluateAction(ctx context.Context, actionID int64) (bool, error) {
	if _, err := s.action(ctx, actionID); err != nil {
		return false, err
	}
	global, err := s.states.GlobalState(ctx)
	if err != nil {
		return false, fmt.Errorf("load global state: %w", err)
	}
	ok, err := s.Check(ctx, actionID, global)
	if err != nil {
		if errors.Is(err, ErrEvaluation) {
			return false, core.Conflictf("%s", err.Error())
		}
		return false, err
	}
	return ok, nil
}

// GetOperator returns the operator or a NotFound error.
func (s *Service) GetOperator(ctx context.Context, id int64) (core.Operator, error) {
	return s.operator(ctx, id, "Operator")
}

// GetCondition returns the condition or a NotFound error.
func (s *Service) GetCondition(ctx context.Context, id int64) (core.Condition, error) {
	c, err := s.conditions.GetCondition(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		return c, core.NotFoundf("Condition with id %d not found", id)
	}
	return c, err
}

// CreateRoot creates a root operator, optionally bound to an action that
// has no tree yet.
func (s *Service) CreateRoot(ctx context.Context, spec RootSpec) (core.Operator, error) {
	if !spec.LogicalOperator.Valid() {
		return core.Operator{}, core.Validationf("invalid logical operator %q", spec.LogicalOperator)
	}
	if spec.ActionID != nil {
		if _, err := s.action(ctx, *spec.ActionID); err != nil {
			return core.Operator{}, err
		}
		existing, err := s.conditions.FindRootByActionID(ctx, *spec.ActionID)
		if err != nil {
			return core.Operator{}, fmt.Errorf("find root for action %d: %w", *spec.ActionID, err)
		}
		if existing != nil {
			return core.Operator{}, core.Conflictf(
				"Action with id %d already has root assigned with id %d", *spec.ActionID, existing.ID,
			)
		}
	}

	op, err := s.conditions.CreateOperator(ctx, core.Operator{
		LogicalOperator: spec.LogicalOperator,
		ActionID:        spec.ActionID,
	})
	if err != nil {
		return core.Operator{}, fmt.Errorf("create root: %w", err)
	}
	op.RootID = op.ID
	if err := s.conditions.UpdateOperator(ctx, op); err != nil {
		return core.Operator{}, fmt.Errorf("create root: %w", err)
	}

	s.logger.Debug("root operator created", "root_id", op.ID, "action_id", spec.ActionID)
	return op, nil
}

// CreateOperator adds an operator under parent in root's tree. The new
// operator inherits the root's action.
func (s *Service) CreateOperator(ctx context.Context, spec OperatorSpec) (core.Operator, error) {
	if !spec.LogicalOperator.Valid() {
		return core.Operator{}, core.Validationf("invalid logical operator %q", spec.LogicalOperator)
	}
	root, err := s.validateParentAndRoot(ctx, spec.ParentID, spec.RootID)
	if err != nil {
		return core.Operator{}, err
	}

	parentID := spec.ParentID
	op, err := s.conditions.CreateOperator(ctx, core.Operator{
		ParentID:        &parentID,
		RootID:          root.ID,
		LogicalOperator: spec.LogicalOperator,
		ActionID:        root.ActionID,
	})
	if err != nil {
		return core.Operator{}, fmt.Errorf("create operator: %w", err)
	}
	return op, nil
}

// CreateCondition adds a leaf after checking that it evaluates against the
// current state without error.
func (s *Service) CreateCondition(ctx context.Context, spec ConditionSpec) (core.Condition, error) {
	c := core.Condition{
		ParentID:          spec.ParentID,
		RootID:            spec.RootID,
		StateAgentID:      spec.StateAgentID,
		StateVariablePath: spec.StateVariablePath,
		Comparator:        spec.Comparator,
		ExpectedValue:     spec.ExpectedValue,
	}
	if err := validateLeafFields(c); err != nil {
		return core.Condition{}, err
	}
	root, err := s.validateParentAndRoot(ctx, c.ParentID, c.RootID)
	if err != nil {
		return core.Condition{}, err
	}
	if err := s.validateStateAgent(ctx, c.StateAgentID); err != nil {
		return core.Condition{}, err
	}
	if err := s.validateLogic(ctx, c); err != nil {
		return core.Condition{}, err
	}

	c.ActionID = root.ActionID
	created, err := s.conditions.CreateCondition(ctx, c)
	if err != nil {
		return core.Condition{}, fmt.Errorf("create condition: %w", err)
	}
	return created, nil
}

// UpdateCondition applies patch and re-validates the leaf.
func (s *Service) UpdateCondition(ctx context.Context, id int64, patch ConditionPatch) (core.Condition, error) {
	c, err := s.GetCondition(ctx, id)
	if err != nil {
		return core.Condition{}, err
	}

	if patch.ParentID != nil {
		c.ParentID = *patch.ParentID
	}
	if patch.RootID != nil {
		c.RootID = *patch.RootID
	}
	if patch.UseGlobalState {
		c.StateAgentID = nil
	} else if patch.StateAgentID != nil {
		c.StateAgentID = patch.StateAgentID
	}
	if patch.StateVariablePath != nil {
		c.StateVariablePath = *patch.StateVariablePath
	}
	if patch.Comparator != nil {
		c.Comparator = *patch.Comparator
	}
	if patch.ExpectedValue != nil {
		c.ExpectedValue = *patch.ExpectedValue
	}

	if err := validateLeafFields(c); err != nil {
		return core.Condition{}, err
	}
	root, err := s.validateParentAndRoot(ctx, c.ParentID, c.RootID)
	if err != nil {
		return core.Condition{}, err
	}
	if err := s.validateStateAgent(ctx, c.StateAgentID); err != nil {
		return core.Condition{}, err
	}
	if err := s.validateLogic(ctx, c); err != nil {
		return core.Condition{}, err
	}

	c.ActionID = root.ActionID
	if err := s.conditions.UpdateCondition(ctx, c); err != nil {
		return core.Condition{}, fmt.Errorf("update condition %d: %w", id, err)
	}
	return c, nil
}

// UpdateOperator applies patch. A root cannot be given a parent and an
// operator cannot be moved below itself.
func (s *Service) UpdateOperator(ctx context.Context, id int64, patch OperatorPatch) (core.Operator, error) {
	op, err := s.GetOperator(ctx, id)
	if err != nil {
		return core.Operator{}, err
	}

	if patch.LogicalOperator != nil {
		if !patch.LogicalOperator.Valid() {
			return core.Operator{}, core.Validationf("invalid logical operator %q", *patch.LogicalOperator)
		}
		op.LogicalOperator = *patch.LogicalOperator
	}

	if patch.ParentID != nil || patch.RootID != nil {
		if op.IsRoot() {
			return core.Operator{}, core.Conflictf("Operator with id %d is a root and cannot be moved", id)
		}
		parentID, rootID := *op.ParentID, op.RootID
		if patch.ParentID != nil {
			parentID = *patch.ParentID
		}
		if patch.RootID != nil {
			rootID = *patch.RootID
		}
		root, err := s.validateParentAndRoot(ctx, parentID, rootID)
		if err != nil {
			return core.Operator{}, err
		}
		sub, err := s.subtree(ctx, op)
		if err != nil {
			return core.Operator{}, err
		}
		if parentID == op.ID {
			return core.Operator{}, core.Conflictf("Operator with id %d cannot be its own parent", op.ID)
		}
		for _, n := range sub {
			if isOperator(n) && n.NodeID() == parentID {
				return core.Operator{}, core.Conflictf(
					"Operator with id %d cannot be moved below its descendant %d", op.ID, parentID)
			}
		}

		op.ParentID = &parentID
		op.RootID = rootID
		op.ActionID = root.ActionID

		// Descendants follow the operator into the new tree.
		moved := make([]core.ConditionNode, 0, len(sub))
		for _, n := range sub {
			switch n := n.(type) {
			case *core.Operator:
				if n.ID == op.ID {
					moved = append(moved, &op)
					continue
				}
				c := *n
				c.RootID, c.ActionID = rootID, copyID(root.ActionID)
				moved = append(moved, &c)
			case *core.Condition:
				c := *n
				c.RootID, c.ActionID = rootID, copyID(root.ActionID)
				moved = append(moved, &c)
			}
		}
		if err := s.conditions.UpdateNodes(ctx, moved); err != nil {
			return core.Operator{}, fmt.Errorf("move operator %d: %w", id, err)
		}
		s.logger.Debug("operator moved", "operator_id", id, "root_id", rootID, "nodes", len(moved))
		return op, nil
	}

	if err := s.conditions.UpdateOperator(ctx, op); err != nil {
		return core.Operator{}, fmt.Errorf("update operator %d: %w", id, err)
	}
	return op, nil
}

// subtree returns op and its descendants in post-order. An operator whose
// tree cannot be built is returned alone.
func (s *Service) subtree(ctx context.Context, op core.Operator) ([]core.ConditionNode, error) {
	t, err := s.build(ctx, op.RootID)
	if errors.Is(err, ErrRootNotFound) {
		return []core.ConditionNode{&op}, nil
	}
	if err != nil {
		return nil, err
	}
	sub, ok := t.PostOrder(op.ID)
	if !ok {
		return []core.ConditionNode{&op}, nil
	}
	return sub, nil
}

// AssignRootToAction binds the tree to the action and copies the action id
// onto every node of the tree.
func (s *Service) AssignRootToAction(ctx context.Context, rootID, actionID int64) error {
	root, err := s.GetOperator(ctx, rootID)
	if err != nil {
		return err
	}
	if !root.IsRoot() {
		return core.Conflictf("Operator with id %d is not a root", rootID)
	}
	if _, err := s.action(ctx, actionID); err != nil {
		return err
	}
	existing, err := s.conditions.FindRootByActionID(ctx, actionID)
	if err != nil {
		return fmt.Errorf("find root for action %d: %w", actionID, err)
	}
	if existing != nil && existing.ID != rootID {
		return core.Conflictf("Action with id %d already has root assigned with id %d", actionID, existing.ID)
	}

	if err := s.conditions.SetActionIDForRoot(ctx, rootID, actionID); err != nil {
		return fmt.Errorf("assign root %d to action %d: %w", rootID, actionID, err)
	}
	s.logger.Info("rule tree assigned", "root_id", rootID, "action_id", actionID)
	return nil
}

// DeleteTree removes a whole tree, children before parents.
func (s *Service) DeleteTree(ctx context.Context, rootID int64) error {
	root, err := s.operator(ctx, rootID, "Root")
	if err != nil {
		return err
	}
	if !root.IsRoot() {
		return core.Conflictf("Operator with id %d is not a root", rootID)
	}
	return s.cascade(ctx, root)
}

// DeleteOperator removes an operator with everything below it.
func (s *Service) DeleteOperator(ctx context.Context, id int64) error {
	op, err := s.GetOperator(ctx, id)
	if err != nil {
		return err
	}
	return s.cascade(ctx, op)
}

// DeleteCondition removes a single leaf.
func (s *Service) DeleteCondition(ctx context.Context, id int64) error {
	if err := s.conditions.DeleteCondition(ctx, id); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.NotFoundf("Condition with id %d not found", id)
		}
		return fmt.Errorf("delete condition %d: %w", id, err)
	}
	return nil
}

func (s *Service) cascade(ctx context.Context, op core.Operator) error {
	nodes, err := s.subtree(ctx, op)
	if err != nil {
		return err
	}
	if err := s.conditions.DeleteNodes(ctx, nodes); err != nil {
		return fmt.Errorf("delete operator %d: %w", op.ID, err)
	}
	s.logger.Debug("operator deleted", "operator_id", op.ID, "nodes", len(nodes))
	return nil
}

func (s *Service) operator(ctx context.Context, id int64, what string) (core.Operator, error) {
	op, err := s.conditions.GetOperator(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		return op, core.NotFoundf("%s with id %d not found", what, id)
	}
	return op, err
}

func (s *Service) action(ctx context.Context, id int64) (core.Action, error) {
	a, err := s.actions.GetAction(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		return a, core.NotFoundf("Action with id %d not found", id)
	}
	return a, err
}

// validateParentAndRoot checks that both operators exist, that root is a
// root and that parent belongs to root's tree. It returns the root.
func (s *Service) validateParentAndRoot(ctx context.Context, parentID, rootID int64) (core.Operator, error) {
	parent, err := s.operator(ctx, parentID, "Operator")
	if err != nil {
		return core.Operator{}, err
	}
	root, err := s.operator(ctx, rootID, "Root")
	if err != nil {
		return core.Operator{}, err
	}
	if !root.IsRoot() {
		return core.Operator{}, core.Conflictf("Operator with id %d is not a root", rootID)
	}
	if parent.RootID != root.ID {
		return core.Operator{}, core.Conflictf("Operator with id %d does not belong to root %d", parentID, rootID)
	}
	return root, nil
}

func (s *Service) validateStateAgent(ctx context.Context, agentID *int64) error {
	if agentID == nil {
		return nil
	}
	_, err := s.agents.GetAgent(ctx, *agentID)
	if errors.Is(err, core.ErrNotFound) {
		return core.NotFoundf("Agent with id %d not found", *agentID)
	}
	return err
}

func (s *Service) validateLogic(ctx context.Context, c core.Condition) error {
	global, err := s.states.GlobalState(ctx)
	if err != nil {
		return fmt.Errorf("load global state: %w", err)
	}
	leaf := NewLeafTree(&c)
	agents, err := s.AgentStatesFor(ctx, leaf)
	if err != nil {
		return err
	}
	if ok, reason := ValidateAtWrite(leaf, global, agents); !ok {
		return core.Conflictf("%s", reason)
	}
	return nil
}

func validateLeafFields(c core.Condition) error {
	if !c.Comparator.Valid() {
		return core.Validationf("invalid comparison %q", c.Comparator)
	}
	if strings.TrimSpace(c.StateVariablePath) == "" {
		return core.Validationf("state variable name must not be empty")
	}
	return nil
}
