package condition

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/agentgate/core"
	"github.com/hupe1980/agentgate/state"
)

// AgentStates maps agent ids to their combined state.
type AgentStates map[int64]state.Object

// Evaluate reports whether the tree holds for the given states. AND and OR
// short-circuit in child order; an empty AND is true and an empty OR false.
// Any leaf error aborts the evaluation.
func Evaluate(t *Tree, global state.Object, agents AgentStates) (bool, error) {
	e := evaluator{tree: t, global: global, agents: agents}
	return e.node(0)
}

// ValidateAtWrite evaluates the tree against the current states to surface
// broken paths and type mismatches when a rule is written. Evaluation errors
// become a false result and the error text as reason; whether the rule
// currently holds does not matter.
func ValidateAtWrite(t *Tree, global state.Object, agents AgentStates) (bool, string) {
	if _, err := Evaluate(t, global, agents); err != nil {
		return false, err.Error()
	}
	return true, ""
}

type evaluator struct {
	tree   *Tree
	global state.Object
	agents AgentStates
}

func (e *evaluator) node(idx int) (bool, error) {
	switch n := e.tree.nodes[idx].(type) {
	case *core.Condition:
		return e.leaf(n)
	case *core.Operator:
		children := e.tree.children[idx]
		switch n.LogicalOperator {
		case core.And:
			for _, c := range children {
				ok, err := e.node(c)
				if err != nil || !ok {
					return false, err
				}
			}
			return true, nil
		case core.Or:
			for _, c := range children {
				ok, err := e.node(c)
				if err != nil {
					return false, err
				}
				if ok {
					return true, nil
				}
			}
			return false, nil
		default:
			return false, evaluationErrorf("Unknown logical operator '%s'", n.LogicalOperator)
		}
	default:
		return false, evaluationErrorf("Unknown node type %T", n)
	}
}

func (e *evaluator) leaf(c *core.Condition) (bool, error) {
	source := e.global
	if c.StateAgentID != nil {
		s, ok := e.agents[*c.StateAgentID]
		if !ok {
			return false, evaluationErrorf("Agent with id %d not found", *c.StateAgentID)
		}
		source = s
	}

	actual, err := state.Lookup(source, c.StateVariablePath)
	if err != nil {
		return false, &StateVariableNotFoundError{Path: c.StateVariablePath}
	}

	expected := ParseLiteral(c.ExpectedValue)
	return compare(c.Comparator, actual, expected, c.ExpectedValue)
}

// ParseLiteral decodes an expected value. Text that is not valid JSON is
// taken as a plain string.
func ParseLiteral(raw string) state.Value {
	v, err := state.Parse([]byte(raw))
	if err != nil {
		return state.String(raw)
	}
	return v
}

func compare(op core.Comparator, actual, expected state.Value, literal string) (bool, error) {
	switch op {
	case core.Equal:
		return state.Equal(actual, expected), nil
	case core.NotEqual:
		return !state.Equal(actual, expected), nil
	case core.Greater, core.Less, core.AtLeast, core.AtMost:
	default:
		return false, evaluationErrorf("Unknown comparison '%s'", op)
	}

	c, err := state.Compare(actual, expected)
	if err != nil {
		if errors.Is(err, state.ErrNotComparable) {
			return false, evaluationErrorf(
				"Comparison '%s' is not valid for values: state_var=%s, expected_value=%s",
				op.Name(), state.Format(actual), formatExpected(expected, literal),
			)
		}
		return false, fmt.Errorf("compare: %w", err)
	}

	switch op {
	case core.Greater:
		return c > 0, nil
	case core.Less:
		return c < 0, nil
	case core.AtLeast:
		return c >= 0, nil
	default:
		return c <= 0, nil
	}
}

// formatExpected renders a parsed literal for error messages. A number
// written with a fraction or exponent keeps its float spelling.
func formatExpected(v state.Value, literal string) string {
	n, ok := v.(state.Number)
	if !ok {
		return state.Format(v)
	}
	if strings.ContainsAny(strings.TrimSpace(literal), ".eE") {
		return state.FormatFloat(float64(n))
	}
	return state.Format(v)
}
