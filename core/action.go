package core

// ParamType is the declared type of an action parameter.
type ParamType string

const (
	ParamString  ParamType = "str"
	ParamInt     ParamType = "int"
	ParamFloat   ParamType = "float"
	ParamBool    ParamType = "bool"
	ParamLiteral ParamType = "literal"
)

// Valid reports whether t is a known parameter type.
func (t ParamType) Valid() bool {
	switch t {
	case ParamString, ParamInt, ParamFloat, ParamBool, ParamLiteral:
		return true
	}
	return false
}

// ActionParam is one typed parameter of an action. LiteralValues lists the
// allowed values when Type is ParamLiteral.
type ActionParam struct {
	ID            int64     `json:"id"`
	ActionID      int64     `json:"action_id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Type          ParamType `json:"type"`
	LiteralValues []any     `json:"literal_values,omitempty"`
}

// Action is a behaviour an agent may choose. When TriggeredAgentID is set,
// choosing the action queries that agent with the chosen parameters.
type Action struct {
	ID               int64         `json:"id"`
	Name             string        `json:"name"`
	Description      string        `json:"description,omitempty"`
	TriggeredAgentID *int64        `json:"triggered_agent_id,omitempty"`
	Params           []ActionParam `json:"params,omitempty"`
}

// Clone returns a copy that shares no slices or pointers with a.
func (a Action) Clone() Action {
	c := a
	if a.TriggeredAgentID != nil {
		id := *a.TriggeredAgentID
		c.TriggeredAgentID = &id
	}
	c.Params = make([]ActionParam, len(a.Params))
	copy(c.Params, a.Params)
	return c
}
