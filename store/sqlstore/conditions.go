package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hupe1980/agentgate/core"
)

const (
	operatorColumns  = `id, parent_id, root_id, logical_operator, action_id`
	conditionColumns = `id, parent_id, root_id, action_id, state_agent_id, state_variable_name, comparison, expected_value`
)

type scanner interface {
	Scan(dest ...any) error
}

func scanOperator(row scanner) (core.Operator, error) {
	var (
		o        core.Operator
		parent   sql.NullInt64
		op       string
		actionID sql.NullInt64
	)
	if err := row.Scan(&o.ID, &parent, &o.RootID, &op, &actionID); err != nil {
		return core.Operator{}, err
	}
	o.ParentID = idPtr(parent)
	o.LogicalOperator = core.LogicalOperator(op)
	o.ActionID = idPtr(actionID)
	return o, nil
}

func scanCondition(row scanner) (core.Condition, error) {
	var (
		c                 core.Condition
		actionID, agentID sql.NullInt64
		cmp               string
	)
	if err := row.Scan(&c.ID, &c.ParentID, &c.RootID, &actionID, &agentID,
		&c.StateVariablePath, &cmp, &c.ExpectedValue); err != nil {
		return core.Condition{}, err
	}
	c.ActionID = idPtr(actionID)
	c.StateAgentID = idPtr(agentID)
	c.Comparator = core.Comparator(cmp)
	return c, nil
}

func (s *Store) CreateOperator(ctx context.Context, o core.Operator) (core.Operator, error) {
	id, err := s.insert(ctx, s.db,
		`INSERT INTO condition_operators (parent_id, root_id, logical_operator, action_id) VALUES (?, ?, ?, ?)`,
		nullID(o.ParentID), o.RootID, string(o.LogicalOperator), nullID(o.ActionID))
	if err != nil {
		return core.Operator{}, fmt.Errorf("create operator: %w", err)
	}
	o.ID = id
	return o, nil
}

func (s *Store) UpdateOperator(ctx context.Context, o core.Operator) error {
	return s.updateOperator(ctx, s.db, o)
}

func (s *Store) updateOperator(ctx context.Context, q querier, o core.Operator) error {
	res, err := s.exec(ctx, q,
		`UPDATE condition_operators SET parent_id = ?, root_id = ?, logical_operator = ?, action_id = ? WHERE id = ?`,
		nullID(o.ParentID), o.RootID, string(o.LogicalOperator), nullID(o.ActionID), o.ID)
	if err != nil {
		return fmt.Errorf("update operator: %w", err)
	}
	return mustAffect(res, core.NotFoundf("Operator with id %d not found", o.ID))
}

func (s *Store) GetOperator(ctx context.Context, id int64) (core.Operator, error) {
	o, err := scanOperator(s.queryRow(ctx, s.db,
		`SELECT `+operatorColumns+` FROM condition_operators WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Operator{}, core.NotFoundf("Operator with id %d not found", id)
	}
	if err != nil {
		return core.Operator{}, fmt.Errorf("get operator: %w", err)
	}
	return o, nil
}

func (s *Store) CreateCondition(ctx context.Context, c core.Condition) (core.Condition, error) {
	const q = `INSERT INTO conditions (parent_id, root_id, action_id, state_agent_id, state_variable_name, comparison, expected_value)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	id, err := s.insert(ctx, s.db, q,
		c.ParentID, c.RootID, nullID(c.ActionID), nullID(c.StateAgentID),
		c.StateVariablePath, string(c.Comparator), c.ExpectedValue)
	if err != nil {
		return core.Condition{}, fmt.Errorf("create condition: %w", err)
	}
	c.ID = id
	return c, nil
}

func (s *Store) UpdateCondition(ctx context.Context, c core.Condition) error {
	return s.updateCondition(ctx, s.db, c)
}

func (s *Store) updateCondition(ctx context.Context, tx querier, c core.Condition) error {
	const q = `UPDATE conditions SET parent_id = ?, root_id = ?, action_id = ?, state_agent_id = ?,
state_variable_name = ?, comparison = ?, expected_value = ? WHERE id = ?`
	res, err := s.exec(ctx, tx, q,
		c.ParentID, c.RootID, nullID(c.ActionID), nullID(c.StateAgentID),
		c.StateVariablePath, string(c.Comparator), c.ExpectedValue, c.ID)
	if err != nil {
		return fmt.Errorf("update condition: %w", err)
	}
	return mustAffect(res, core.NotFoundf("Condition with id %d not found", c.ID))
}

func (s *Store) GetCondition(ctx context.Context, id int64) (core.Condition, error) {
	c, err := scanCondition(s.queryRow(ctx, s.db,
		`SELECT `+conditionColumns+` FROM conditions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Condition{}, core.NotFoundf("Condition with id %d not found", id)
	}
	if err != nil {
		return core.Condition{}, fmt.Errorf("get condition: %w", err)
	}
	return c, nil
}

func (s *Store) DeleteCondition(ctx context.Context, id int64) error {
	res, err := s.exec(ctx, s.db, `DELETE FROM conditions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete condition: %w", err)
	}
	return mustAffect(res, core.NotFoundf("Condition with id %d not found", id))
}

// FindNodesByRootID returns operators then conditions of one tree, each
// ordered by id.
func (s *Store) FindNodesByRootID(ctx context.Context, rootID int64) ([]core.ConditionNode, error) {
	var out []core.ConditionNode

	rows, err := s.query(ctx, s.db,
		`SELECT `+operatorColumns+` FROM condition_operators WHERE root_id = ? ORDER BY id`, rootID)
	if err != nil {
		return nil, fmt.Errorf("find operators: %w", err)
	}
	for rows.Next() {
		o, err := scanOperator(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan operator: %w", err)
		}
		out = append(out, &o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find operators: %w", err)
	}

	rows, err = s.query(ctx, s.db,
		`SELECT `+conditionColumns+` FROM conditions WHERE root_id = ? ORDER BY id`, rootID)
	if err != nil {
		return nil, fmt.Errorf("find conditions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanCondition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan condition: %w", err)
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find conditions: %w", err)
	}
	return out, nil
}

func (s *Store) FindRootByActionID(ctx context.Context, actionID int64) (*core.Operator, error) {
	const q = `SELECT ` + operatorColumns + ` FROM condition_operators
WHERE action_id = ? AND parent_id IS NULL AND root_id = id ORDER BY id LIMIT 1`
	o, err := scanOperator(s.queryRow(ctx, s.db, q, actionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find root by action: %w", err)
	}
	return &o, nil
}

// SetActionIDForRoot stamps actionID on every node of the tree atomically.
func (s *Store) SetActionIDForRoot(ctx context.Context, rootID, actionID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx,
			`UPDATE condition_operators SET action_id = ? WHERE root_id = ?`, actionID, rootID); err != nil {
			return fmt.Errorf("set action on operators: %w", err)
		}
		if _, err := s.exec(ctx, tx,
			`UPDATE conditions SET action_id = ? WHERE root_id = ?`, actionID, rootID); err != nil {
			return fmt.Errorf("set action on conditions: %w", err)
		}
		return nil
	})
}

// UpdateNodes writes every node in one transaction. A missing node rolls
// the whole batch back.
func (s *Store) UpdateNodes(ctx context.Context, nodes []core.ConditionNode) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, n := range nodes {
			var err error
			switch n := n.(type) {
			case *core.Operator:
				err = s.updateOperator(ctx, tx, *n)
			case *core.Condition:
				err = s.updateCondition(ctx, tx, *n)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteNodes removes the given nodes in one transaction. Missing nodes are
// ignored.
func (s *Store) DeleteNodes(ctx context.Context, nodes []core.ConditionNode) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, n := range nodes {
			var q string
			switch n.(type) {
			case *core.Operator:
				q = `DELETE FROM condition_operators WHERE id = ?`
			case *core.Condition:
				q = `DELETE FROM conditions WHERE id = ?`
			default:
				continue
			}
			if _, err := s.exec(ctx, tx, q, n.NodeID()); err != nil {
				return fmt.Errorf("delete %v: %w", n, err)
			}
		}
		return nil
	})
}
