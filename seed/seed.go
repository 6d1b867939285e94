// Package seed loads YAML fixtures describing a world: global state,
// players, agents with their actions and the rule trees gating them.
//
//	global_state:
//	  time: night
//	players:
//	  - name: Alice
//	agents:
//	  - name: guard
//	    internal_state: {mood: grumpy}
//	    actions:
//	      - name: call_cook
//	        triggers: cook
//	        params:
//	          - {name: dish, type: literal, literal_values: [stew, soup]}
//	        rule:
//	          operator: AND
//	          children:
//	            - {state: time, comparison: "==", expected: night}
//	  - name: cook
//
// Entities are referenced by name. Rules are created through the condition
// service and therefore validated against the seeded state.
package seed

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentgate/condition"
	"github.com/hupe1980/agentgate/core"
	"github.com/hupe1980/agentgate/state"
)

type Fixture struct {
	GlobalState map[string]any `yaml:"global_state"`
	Players     []Player       `yaml:"players"`
	Agents      []Agent        `yaml:"agents"`
}

type Player struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type Agent struct {
	Name          string         `yaml:"name"`
	Description   string         `yaml:"description"`
	Instructions  string         `yaml:"instructions"`
	InternalState map[string]any `yaml:"internal_state"`
	ExternalState map[string]any `yaml:"external_state"`
	Actions       []Action       `yaml:"actions"`
}

type Action struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Triggers    string  `yaml:"triggers"`
	Params      []Param `yaml:"params"`
	Rule        *Rule   `yaml:"rule"`
}

type Param struct {
	Name          string `yaml:"name"`
	Description   string `yaml:"description"`
	Type          string `yaml:"type"`
	LiteralValues []any  `yaml:"literal_values"`
}

// Rule is either an operator with children or a leaf comparison.
type Rule struct {
	Operator string `yaml:"operator"`
	Children []Rule `yaml:"children"`

	Agent      string `yaml:"agent"`
	State      string `yaml:"state"`
	Comparison string `yaml:"comparison"`
	Expected   string `yaml:"expected"`
}

func (r Rule) isLeaf() bool { return r.Operator == "" }

// Parse decodes a fixture.
func Parse(r io.Reader) (*Fixture, error) {
	var fx Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	return &fx, nil
}

// ParseFile decodes the fixture at path.
func ParseFile(path string) (*Fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Result maps fixture names to the ids they were stored under.
type Result struct {
	Players map[string]int64
	Agents  map[string]int64
	Actions map[string]int64
	Roots   map[string]int64
}

// Load writes fx into store. Agents are created before actions so triggers
// can name any agent of the fixture.
func Load(ctx context.Context, store core.Store, rules *condition.Service, fx *Fixture) (*Result, error) {
	res := &Result{
		Players: map[string]int64{},
		Agents:  map[string]int64{},
		Actions: map[string]int64{},
		Roots:   map[string]int64{},
	}

	if fx.GlobalState != nil {
		global, err := toObject(fx.GlobalState)
		if err != nil {
			return nil, fmt.Errorf("global_state: %w", err)
		}
		if err := store.SetGlobalState(ctx, global); err != nil {
			return nil, err
		}
	}

	for _, p := range fx.Players {
		created, err := store.CreatePlayer(ctx, &core.Player{Name: p.Name, Description: p.Description})
		if err != nil {
			return nil, fmt.Errorf("player %q: %w", p.Name, err)
		}
		res.Players[p.Name] = created.ID
	}

	for _, a := range fx.Agents {
		if _, dup := res.Agents[a.Name]; dup {
			return nil, core.Validationf("duplicate agent %q", a.Name)
		}
		internal, err := toObject(a.InternalState)
		if err != nil {
			return nil, fmt.Errorf("agent %q internal_state: %w", a.Name, err)
		}
		external, err := toObject(a.ExternalState)
		if err != nil {
			return nil, fmt.Errorf("agent %q external_state: %w", a.Name, err)
		}
		created, err := store.CreateAgent(ctx, &core.Agent{
			Name:          a.Name,
			Description:   a.Description,
			Instructions:  a.Instructions,
			InternalState: internal,
			ExternalState: external,
		})
		if err != nil {
			return nil, fmt.Errorf("agent %q: %w", a.Name, err)
		}
		res.Agents[a.Name] = created.ID
	}

	for _, a := range fx.Agents {
		for _, act := range a.Actions {
			key := a.Name + "." + act.Name
			action, err := buildAction(act, res.Agents)
			if err != nil {
				return nil, fmt.Errorf("action %q: %w", key, err)
			}
			created, err := store.CreateAction(ctx, action)
			if err != nil {
				return nil, fmt.Errorf("action %q: %w", key, err)
			}
			if err := store.AssignAction(ctx, res.Agents[a.Name], created.ID); err != nil {
				return nil, fmt.Errorf("action %q: %w", key, err)
			}
			res.Actions[key] = created.ID

			if act.Rule == nil {
				continue
			}
			rootID, err := loadRule(ctx, rules, *act.Rule, created.ID, res.Agents)
			if err != nil {
				return nil, fmt.Errorf("rule of action %q: %w", key, err)
			}
			res.Roots[key] = rootID
		}
	}
	return res, nil
}

func buildAction(a Action, agents map[string]int64) (core.Action, error) {
	out := core.Action{Name: a.Name, Description: a.Description}
	if a.Triggers != "" {
		id, ok := agents[a.Triggers]
		if !ok {
			return core.Action{}, core.NotFoundf("triggered agent %q not in fixture", a.Triggers)
		}
		out.TriggeredAgentID = &id
	}
	for _, p := range a.Params {
		t := core.ParamType(p.Type)
		if !t.Valid() {
			return core.Action{}, core.Validationf("param %q has unknown type %q", p.Name, p.Type)
		}
		out.Params = append(out.Params, core.ActionParam{
			Name:          p.Name,
			Description:   p.Description,
			Type:          t,
			LiteralValues: p.LiteralValues,
		})
	}
	return out, nil
}

func loadRule(ctx context.Context, rules *condition.Service, r Rule, actionID int64, agents map[string]int64) (int64, error) {
	if r.isLeaf() {
		return 0, core.Validationf("a rule must start with an operator")
	}
	root, err := rules.CreateRoot(ctx, condition.RootSpec{
		LogicalOperator: core.LogicalOperator(r.Operator),
		ActionID:        &actionID,
	})
	if err != nil {
		return 0, err
	}
	if err := loadChildren(ctx, rules, r.Children, root.ID, root.ID, agents); err != nil {
		return 0, err
	}
	return root.ID, nil
}

func loadChildren(ctx context.Context, rules *condition.Service, children []Rule, parentID, rootID int64, agents map[string]int64) error {
	for _, c := range children {
		if !c.isLeaf() {
			op, err := rules.CreateOperator(ctx, condition.OperatorSpec{
				ParentID:        parentID,
				RootID:          rootID,
				LogicalOperator: core.LogicalOperator(c.Operator),
			})
			if err != nil {
				return err
			}
			if err := loadChildren(ctx, rules, c.Children, op.ID, rootID, agents); err != nil {
				return err
			}
			continue
		}

		spec := condition.ConditionSpec{
			ParentID:          parentID,
			RootID:            rootID,
			StateVariablePath: c.State,
			Comparator:        core.Comparator(c.Comparison),
			ExpectedValue:     c.Expected,
		}
		if c.Agent != "" {
			id, ok := agents[c.Agent]
			if !ok {
				return core.NotFoundf("state agent %q not in fixture", c.Agent)
			}
			spec.StateAgentID = &id
		}
		if _, err := rules.CreateCondition(ctx, spec); err != nil {
			return err
		}
	}
	return nil
}

func toObject(m map[string]any) (state.Object, error) {
	if m == nil {
		return state.Object{}, nil
	}
	v, err := state.FromAny(m)
	if err != nil {
		return nil, err
	}
	return v.(state.Object), nil
}
