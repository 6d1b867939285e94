package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/agentgate"
	"github.com/hupe1980/agentgate/core"
	"github.com/hupe1980/agentgate/internal/testutil"
	"github.com/hupe1980/agentgate/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"))
}

type fixture struct {
	srv     *httptest.Server
	gate    *agentgate.AgentGate
	decider *testutil.ScriptedDecider
	player  *core.Player
	guard   *core.Agent
	open    core.Action
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	f := &fixture{decider: testutil.NewScriptedDecider()}
	f.gate = agentgate.New(f.decider, func(o *agentgate.Options) {
		o.Events = collector.Sink(nil)
		o.Observer = collector
	})

	s := f.gate.Store()
	var err error
	f.player, err = s.CreatePlayer(ctx, &core.Player{Name: "Alice"})
	require.NoError(t, err)
	f.open, err = s.CreateAction(ctx, testutil.NewAction("open_gate").Build())
	require.NoError(t, err)
	f.guard, err = s.CreateAgent(ctx, testutil.NewAgent("guard").Internal("mood", "grumpy").Action(f.open).Build())
	require.NoError(t, err)
	require.NoError(t, s.SetGlobalState(ctx, testutil.Object(map[string]any{"time": "night", "level": 3})))

	f.srv = httptest.NewServer(NewHandler(f.gate, func(o *Options) { o.Gatherer = reg }))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestQueryStream(t *testing.T) {
	f := newFixture(t)
	f.decider.On(f.guard.ID, "Who goes there?", testutil.Choose("open_gate", nil))

	resp := f.do(t, http.MethodPost, "/query",
		fmt.Sprintf(`{"agent_id": %d, "player_id": %d, "query": "open up"}`, f.guard.ID, f.player.ID))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	var lines []streamLine
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var l streamLine
		require.NoError(t, json.Unmarshal(sc.Bytes(), &l))
		lines = append(lines, l)
	}
	require.NoError(t, sc.Err())
	require.Len(t, lines, 2)
	assert.Equal(t, core.EventResponse, lines[0].Name)
	assert.Equal(t, "Who goes there?", lines[0].Payload.(map[string]any)["response"])
	assert.Equal(t, core.EventResponseEnd, lines[1].Name)

	metricsResp := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, metricsResp.StatusCode)
	body := new(strings.Builder)
	_, err := bufio.NewReader(metricsResp.Body).WriteTo(body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), `agentgate_events_total{event="agent_response"} 1`)
	assert.Contains(t, body.String(), `agentgate_queries_total{success="true"} 1`)
}

func TestQueryErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed", `{`, http.StatusBadRequest},
		{"no caller", fmt.Sprintf(`{"agent_id": %d, "query": "hi"}`, f.guard.ID), http.StatusBadRequest},
		{"two callers", fmt.Sprintf(`{"agent_id": %d, "player_id": 1, "caller_agent_id": 1}`, f.guard.ID), http.StatusBadRequest},
		{"unknown agent", fmt.Sprintf(`{"agent_id": 404, "player_id": %d}`, f.player.ID), http.StatusNotFound},
		{"unknown player", fmt.Sprintf(`{"agent_id": %d, "player_id": 404}`, f.guard.ID), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/query", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, decodeBody[errorResponse](t, resp).Error)
		})
	}
}

func TestState(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPut, "/state", `{"time": "day", "door": {"open": true}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"time": "day", "door": map[string]any{"open": true}}, decodeBody[map[string]any](t, resp))

	resp = f.do(t, http.MethodGet, fmt.Sprintf("/agents/%d/state", f.guard.ID), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decodeBody[map[string]map[string]any](t, resp)
	assert.Equal(t, "grumpy", st["internal_state"]["mood"])

	resp = f.do(t, http.MethodPut, fmt.Sprintf("/agents/%d/state", f.guard.ID),
		`{"internal_state": {"mood": "happy"}, "external_state": {"armor": "shiny"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st = decodeBody[map[string]map[string]any](t, resp)
	assert.Equal(t, "happy", st["internal_state"]["mood"])
	assert.Equal(t, "shiny", st["external_state"]["armor"])

	resp = f.do(t, http.MethodGet, "/agents/404/state", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = f.do(t, http.MethodGet, "/agents/abc/state", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/agents", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]core.Agent](t, resp), 1)
}

func TestConditionAdmin(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/conditions/roots", `{"logical_operator": "AND"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	root := decodeBody[core.Operator](t, resp)

	resp = f.do(t, http.MethodPost, "/conditions/operators",
		fmt.Sprintf(`{"parent_id": %d, "root_id": %d, "logical_operator": "OR"}`, root.ID, root.ID))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	or := decodeBody[core.Operator](t, resp)

	resp = f.do(t, http.MethodPost, "/conditions", fmt.Sprintf(
		`{"parent_id": %d, "root_id": %d, "state_variable_name": "time", "comparison": ">", "expected_value": "5"}`,
		or.ID, root.ID))
	require.Equal(t, http.StatusConflict, resp.StatusCode, "string compared with a number")
	assert.Contains(t, decodeBody[errorResponse](t, resp).Error, "Comparison 'GREATER' is not valid")

	resp = f.do(t, http.MethodPost, "/conditions", fmt.Sprintf(
		`{"parent_id": %d, "root_id": %d, "state_variable_name": "level", "comparison": ">=", "expected_value": "5"}`,
		or.ID, root.ID))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	leaf := decodeBody[core.Condition](t, resp)

	resp = f.do(t, http.MethodPut, fmt.Sprintf("/conditions/roots/%d/actions/%d", root.ID, f.open.ID), "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodGet, fmt.Sprintf("/actions/%d/evaluate", f.open.ID), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, evaluation{ActionID: f.open.ID, Result: false}, decodeBody[evaluation](t, resp))

	resp = f.do(t, http.MethodPatch, fmt.Sprintf("/conditions/%d", leaf.ID), `{"expected_value": "3"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, fmt.Sprintf("/actions/%d/evaluate", f.open.ID), "")
	assert.True(t, decodeBody[evaluation](t, resp).Result)

	resp = f.do(t, http.MethodPatch, fmt.Sprintf("/conditions/operators/%d", or.ID), `{"logical_operator": "AND"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, core.And, decodeBody[core.Operator](t, resp).LogicalOperator)

	resp = f.do(t, http.MethodGet, fmt.Sprintf("/conditions/roots/%d", root.ID), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rows := decodeBody[[]map[string]any](t, resp)
	require.Len(t, rows, 3)
	assert.Equal(t, "operator", rows[0]["kind"])
	assert.Equal(t, "condition", rows[2]["kind"])
	assert.Equal(t, float64(2), rows[2]["depth"])

	resp = f.do(t, http.MethodDelete, fmt.Sprintf("/conditions/operators/%d", or.ID), "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = f.do(t, http.MethodDelete, fmt.Sprintf("/conditions/%d", leaf.ID), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "cascade removed the leaf")

	resp = f.do(t, http.MethodDelete, fmt.Sprintf("/conditions/roots/%d", root.ID), "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
