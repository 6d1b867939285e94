package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/hupe1980/agentgate/core"
	"github.com/hupe1980/agentgate/state"
)

// Dialect names a supported database.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

var _ core.Store = (*Store)(nil)

// Options configures a Store.
type Options struct {
	// Now stamps appended messages. Defaults to time.Now in UTC.
	Now func() time.Time
	// Migrate runs Migrate right after opening. Defaults to true.
	Migrate bool
}

// Store implements core.Store on database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// Open connects to the database and, unless disabled, migrates the schema.
// For sqlite the dsn is a file path or a "file:" URI; for postgres any DSN
// accepted by pgx.
func Open(ctx context.Context, dialect Dialect, dsn string, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{
		Now:     func() time.Time { return time.Now().UTC() },
		Migrate: true,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var driver string
	switch dialect {
	case SQLite:
		driver = "sqlite"
	case Postgres:
		driver = "pgx"
	default:
		return nil, fmt.Errorf("unsupported database dialect %q", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if dialect == SQLite {
		// Single writer; WAL still allows readers on other handles.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{
			"PRAGMA busy_timeout = 5000",
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
		} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
			}
		}
	}

	s := &Store{db: db, dialect: dialect, now: opts.Now}
	if opts.Migrate {
		if err := s.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rebind rewrites ? placeholders into $n for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, q querier, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, q querier, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, q querier, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.rebind(query), args...)
}

// insert runs an INSERT ... RETURNING id.
func (s *Store) insert(ctx context.Context, q querier, query string, args ...any) (int64, error) {
	var id int64
	if err := s.queryRow(ctx, q, query+" RETURNING id", args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// mustAffect turns a zero row count into a not-found error.
func mustAffect(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func (s *Store) GlobalState(ctx context.Context) (state.Object, error) {
	var raw string
	err := s.queryRow(ctx, s.db, `SELECT state FROM global_state WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return state.Object{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get global state: %w", err)
	}
	return decodeState(raw)
}

func (s *Store) SetGlobalState(ctx context.Context, st state.Object) error {
	raw, err := encodeState(st)
	if err != nil {
		return err
	}
	const q = `INSERT INTO global_state (id, state) VALUES (1, ?)
ON CONFLICT (id) DO UPDATE SET state = excluded.state`
	if _, err := s.exec(ctx, s.db, q, raw); err != nil {
		return fmt.Errorf("set global state: %w", err)
	}
	return nil
}

func (s *Store) AgentState(ctx context.Context, agentID int64) (state.Object, error) {
	a, err := s.agentRow(ctx, s.db, agentID)
	if err != nil {
		return nil, err
	}
	return a.CombinedState(), nil
}

func (s *Store) SetAgentState(ctx context.Context, agentID int64, internal, external state.Object) error {
	in, err := encodeState(internal)
	if err != nil {
		return err
	}
	ex, err := encodeState(external)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, s.db,
		`UPDATE agents SET internal_state = ?, external_state = ? WHERE id = ?`, in, ex, agentID)
	if err != nil {
		return fmt.Errorf("set agent state: %w", err)
	}
	return mustAffect(res, core.NotFoundf("Agent with id %d not found", agentID))
}

// CreateAgent inserts the agent and assigns every action it carries by id.
func (s *Store) CreateAgent(ctx context.Context, a *core.Agent) (*core.Agent, error) {
	in, err := encodeState(a.InternalState)
	if err != nil {
		return nil, err
	}
	ex, err := encodeState(a.ExternalState)
	if err != nil {
		return nil, err
	}

	var id int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		const q = `INSERT INTO agents (name, description, instructions, internal_state, external_state)
VALUES (?, ?, ?, ?, ?)`
		id, err = s.insert(ctx, tx, q, a.Name, a.Description, a.Instructions, in, ex)
		if err != nil {
			return fmt.Errorf("create agent: %w", err)
		}
		for _, act := range a.Actions {
			if err := s.assignAction(ctx, tx, id, act.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetAgent(ctx, id)
}

func (s *Store) GetAgent(ctx context.Context, id int64) (*core.Agent, error) {
	a, err := s.agentRow(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if a.Actions, err = s.agentActions(ctx, id); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) ListAgents(ctx context.Context) ([]*core.Agent, error) {
	rows, err := s.query(ctx, s.db, `SELECT id FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	ids, err := scanIDs(rows)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	out := make([]*core.Agent, 0, len(ids))
	for _, id := range ids {
		a, err := s.GetAgent(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) AssignAction(ctx context.Context, agentID, actionID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.agentRow(ctx, tx, agentID); err != nil {
			return err
		}
		return s.assignAction(ctx, tx, agentID, actionID)
	})
}

func (s *Store) assignAction(ctx context.Context, q querier, agentID, actionID int64) error {
	var exists int
	err := s.queryRow(ctx, q, `SELECT 1 FROM actions WHERE id = ?`, actionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return core.NotFoundf("Action with id %d not found", actionID)
	}
	if err != nil {
		return fmt.Errorf("assign action: %w", err)
	}
	err = s.queryRow(ctx, q, `SELECT 1 FROM agent_actions WHERE agent_id = ? AND action_id = ?`, agentID, actionID).Scan(&exists)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("assign action: %w", err)
	}
	var position int64
	if err := s.queryRow(ctx, q,
		`SELECT COALESCE(MAX(position), 0) FROM agent_actions WHERE agent_id = ?`, agentID).Scan(&position); err != nil {
		return fmt.Errorf("assign action: %w", err)
	}
	if _, err := s.exec(ctx, q,
		`INSERT INTO agent_actions (agent_id, action_id, position) VALUES (?, ?, ?)`, agentID, actionID, position+1); err != nil {
		return fmt.Errorf("assign action: %w", err)
	}
	return nil
}

func (s *Store) agentRow(ctx context.Context, q querier, id int64) (*core.Agent, error) {
	var (
		a      core.Agent
		in, ex string
	)
	const query = `SELECT id, name, description, instructions, internal_state, external_state
FROM agents WHERE id = ?`
	err := s.queryRow(ctx, q, query, id).Scan(&a.ID, &a.Name, &a.Description, &a.Instructions, &in, &ex)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFoundf("Agent with id %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	if a.InternalState, err = decodeState(in); err != nil {
		return nil, err
	}
	if a.ExternalState, err = decodeState(ex); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) agentActions(ctx context.Context, agentID int64) ([]core.Action, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT action_id FROM agent_actions WHERE agent_id = ? ORDER BY position`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list agent actions: %w", err)
	}
	ids, err := scanIDs(rows)
	if err != nil {
		return nil, fmt.Errorf("list agent actions: %w", err)
	}
	out := make([]core.Action, 0, len(ids))
	for _, id := range ids {
		act, err := s.GetAction(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, act)
	}
	return out, nil
}

func (s *Store) CreatePlayer(ctx context.Context, p *core.Player) (*core.Player, error) {
	id, err := s.insert(ctx, s.db, `INSERT INTO players (name, description) VALUES (?, ?)`, p.Name, p.Description)
	if err != nil {
		return nil, fmt.Errorf("create player: %w", err)
	}
	out := *p
	out.ID = id
	return &out, nil
}

func (s *Store) GetPlayer(ctx context.Context, id int64) (*core.Player, error) {
	var p core.Player
	err := s.queryRow(ctx, s.db, `SELECT id, name, description FROM players WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFoundf("Player with id %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get player: %w", err)
	}
	return &p, nil
}

// CreateAction inserts the action and its params in one transaction.
func (s *Store) CreateAction(ctx context.Context, a core.Action) (core.Action, error) {
	out := a.Clone()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		id, err := s.insert(ctx, tx,
			`INSERT INTO actions (name, description, triggered_agent_id) VALUES (?, ?, ?)`,
			a.Name, a.Description, nullID(a.TriggeredAgentID))
		if err != nil {
			return fmt.Errorf("create action: %w", err)
		}
		out.ID = id
		for i, p := range out.Params {
			literals, err := json.Marshal(orEmptySlice(p.LiteralValues))
			if err != nil {
				return fmt.Errorf("encode literal values: %w", err)
			}
			pid, err := s.insert(ctx, tx,
				`INSERT INTO action_params (action_id, name, description, type, literal_values) VALUES (?, ?, ?, ?, ?)`,
				id, p.Name, p.Description, string(p.Type), string(literals))
			if err != nil {
				return fmt.Errorf("create action param: %w", err)
			}
			out.Params[i].ID = pid
			out.Params[i].ActionID = id
		}
		return nil
	})
	if err != nil {
		return core.Action{}, err
	}
	return out, nil
}

func (s *Store) GetAction(ctx context.Context, id int64) (core.Action, error) {
	var (
		a         core.Action
		triggered sql.NullInt64
	)
	err := s.queryRow(ctx, s.db, `SELECT id, name, description, triggered_agent_id FROM actions WHERE id = ?`, id).
		Scan(&a.ID, &a.Name, &a.Description, &triggered)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Action{}, core.NotFoundf("Action with id %d not found", id)
	}
	if err != nil {
		return core.Action{}, fmt.Errorf("get action: %w", err)
	}
	a.TriggeredAgentID = idPtr(triggered)

	rows, err := s.query(ctx, s.db, `SELECT id, action_id, name, description, type, literal_values
FROM action_params WHERE action_id = ? ORDER BY id`, id)
	if err != nil {
		return core.Action{}, fmt.Errorf("get action params: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			p        core.ActionParam
			typ, raw string
		)
		if err := rows.Scan(&p.ID, &p.ActionID, &p.Name, &p.Description, &typ, &raw); err != nil {
			return core.Action{}, fmt.Errorf("scan action param: %w", err)
		}
		p.Type = core.ParamType(typ)
		if err := json.Unmarshal([]byte(raw), &p.LiteralValues); err != nil {
			return core.Action{}, fmt.Errorf("decode literal values: %w", err)
		}
		if len(p.LiteralValues) == 0 {
			p.LiteralValues = nil
		}
		a.Params = append(a.Params, p)
	}
	if err := rows.Err(); err != nil {
		return core.Action{}, fmt.Errorf("get action params: %w", err)
	}
	return a, nil
}

func (s *Store) AppendMessage(ctx context.Context, m *core.AgentMessage) (*core.AgentMessage, error) {
	out := *m
	if out.Timestamp.IsZero() {
		out.Timestamp = s.now()
	}
	if out.Response.Actions == nil {
		out.Response.Actions = []core.ActionResult{}
	}
	resp, err := json.Marshal(out.Response)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	const q = `INSERT INTO agent_messages (agent_id, caller_agent_id, caller_player_id, query, response, created_at)
VALUES (?, ?, ?, ?, ?, ?)`
	out.ID, err = s.insert(ctx, s.db, q,
		out.AgentID, nullID(out.CallerAgentID), nullID(out.CallerPlayerID), out.Query, string(resp), out.Timestamp.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return &out, nil
}

// ListMessages returns the messages an agent received or sent, oldest first.
func (s *Store) ListMessages(ctx context.Context, agentID int64) ([]*core.AgentMessage, error) {
	const q = `SELECT id, agent_id, caller_agent_id, caller_player_id, query, response, created_at
FROM agent_messages WHERE agent_id = ? OR caller_agent_id = ? ORDER BY id`
	rows, err := s.query(ctx, s.db, q, agentID, agentID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*core.AgentMessage
	for rows.Next() {
		var (
			m                    core.AgentMessage
			callerAgent, callerP sql.NullInt64
			resp                 string
			created              int64
		)
		if err := rows.Scan(&m.ID, &m.AgentID, &callerAgent, &callerP, &m.Query, &resp, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CallerAgentID = idPtr(callerAgent)
		m.CallerPlayerID = idPtr(callerP)
		m.Timestamp = time.Unix(0, created).UTC()
		if err := json.Unmarshal([]byte(resp), &m.Response); err != nil {
			return nil, fmt.Errorf("decode response of message %d: %w", m.ID, err)
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

func encodeState(o state.Object) (string, error) {
	if o == nil {
		o = state.Object{}
	}
	b, err := json.Marshal(o)
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}
	return string(b), nil
}

func decodeState(raw string) (state.Object, error) {
	o, err := state.ParseObject([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if o == nil {
		o = state.Object{}
	}
	return o, nil
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func idPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func orEmptySlice(v []any) []any {
	if v == nil {
		return []any{}
	}
	return v
}
