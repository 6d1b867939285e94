package core

import "fmt"

// LogicalOperator combines the children of an Operator node.
type LogicalOperator string

const (
	And LogicalOperator = "AND"
	Or  LogicalOperator = "OR"
)

// Valid reports whether op is AND or OR.
func (op LogicalOperator) Valid() bool { return op == And || op == Or }

// Comparator is the comparison applied by a Condition leaf. The string
// values are the persisted wire form.
type Comparator string

const (
	Equal    Comparator = "=="
	NotEqual Comparator = "!="
	Greater  Comparator = ">"
	Less     Comparator = "<"
	AtLeast  Comparator = ">="
	AtMost   Comparator = "<="
)

// Name returns the symbolic comparator name used in error messages.
func (c Comparator) Name() string {
	switch c {
	case Equal:
		return "EQUAL"
	case NotEqual:
		return "NOT_EQUAL"
	case Greater:
		return "GREATER"
	case Less:
		return "LESS"
	case AtLeast:
		return "AT_LEAST"
	case AtMost:
		return "AT_MOST"
	default:
		return string(c)
	}
}

// Valid reports whether c is one of the six known comparators.
func (c Comparator) Valid() bool {
	switch c {
	case Equal, NotEqual, Greater, Less, AtLeast, AtMost:
		return true
	}
	return false
}

// ConditionNode is one persisted node of a rule tree. The set of
// implementations is closed: *Operator and *Condition.
type ConditionNode interface {
	NodeID() int64
	NodeParentID() *int64
	NodeRootID() int64
	isConditionNode()
}

// Operator is an AND/OR combinator. A root operator has RootID == ID and a
// nil ParentID. ActionID is denormalized onto every node of an assigned tree.
type Operator struct {
	ID              int64           `json:"id"`
	ParentID        *int64          `json:"parent_id"`
	RootID          int64           `json:"root_id"`
	LogicalOperator LogicalOperator `json:"logical_operator"`
	ActionID        *int64          `json:"action_id"`
}

// IsRoot reports whether the operator is the root of its tree.
func (o *Operator) IsRoot() bool { return o.ParentID == nil && o.RootID == o.ID }

func (o *Operator) NodeID() int64 { return o.ID }
func (o *Operator) NodeParentID() *int64 { return o.ParentID }
func (o *Operator) NodeRootID() int64 { return o.RootID }
func (*Operator) isConditionNode() {}
func (o *Operator) String() string { return fmt.Sprintf("operator(%d %s)", o.ID, o.LogicalOperator) }

// Condition is a comparison leaf. A nil StateAgentID reads the global state;
// otherwise the combined state of that agent. ExpectedValue holds a literal
// that is JSON-decoded at evaluation time.
type Condition struct {
	ID                int64      `json:"id"`
	ParentID          int64      `json:"parent_id"`
	RootID            int64      `json:"root_id"`
	ActionID          *int64     `json:"action_id"`
	StateAgentID      *int64     `json:"state_agent_id"`
	StateVariablePath string     `json:"state_variable_name"`
	Comparator        Comparator `json:"comparison"`
	ExpectedValue     string     `json:"expected_value"`
}

func (c *Condition) NodeID() int64 { return c.ID }
func (c *Condition) NodeParentID() *int64 { p := c.ParentID; return &p }
func (c *Condition) NodeRootID() int64 { return c.RootID }
func (*Condition) isConditionNode() {}
func (c *Condition) String() string {
	return fmt.Sprintf("condition(%d %s %s %s)", c.ID, c.StateVariablePath, c.Comparator, c.ExpectedValue)
}
