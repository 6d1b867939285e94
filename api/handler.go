// Package api exposes agentgate over HTTP.
//
//	POST   /query                                     NDJSON event stream
//	GET    /state, PUT /state                         global state
//	GET    /agents, GET /agents/{agentID}
//	GET    /agents/{agentID}/state, PUT ...           agent state
//	POST   /conditions/roots                          create root
//	GET    /conditions/roots/{rootID}                 tree rows
//	DELETE /conditions/roots/{rootID}                 delete tree
//	PUT    /conditions/roots/{rootID}/actions/{actionID}
//	POST   /conditions/operators, PATCH/DELETE /conditions/operators/{id}
//	POST   /conditions, PATCH/DELETE /conditions/{id}
//	GET    /actions/{actionID}/evaluate
//	GET    /metrics, GET /healthz
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/agentgate"
	"github.com/hupe1980/agentgate/condition"
	"github.com/hupe1980/agentgate/core"
	"github.com/hupe1980/agentgate/dispatch"
	"github.com/hupe1980/agentgate/event"
	"github.com/hupe1980/agentgate/logging"
	"github.com/hupe1980/agentgate/state"
)

// Gate is the part of *agentgate.AgentGate the handler needs.
type Gate interface {
	QueryStream(ctx context.Context, req dispatch.Request) (<-chan event.Event, <-chan agentgate.StreamResult)
	Conditions() *condition.Service
	Store() core.Store
}

// Options configures the handler.
type Options struct {
	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	Logger   logging.Logger
}

type server struct {
	gate   Gate
	logger logging.Logger
}

// NewHandler builds the router.
func NewHandler(gate Gate, optFns ...func(o *Options)) http.Handler {
	opts := Options{
		Gatherer: prometheus.DefaultGatherer,
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &server{gate: gate, logger: opts.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))

	r.Post("/query", s.query)

	r.Get("/state", s.getGlobalState)
	r.Put("/state", s.putGlobalState)

	r.Route("/agents", func(r chi.Router) {
		r.Get("/", s.listAgents)
		r.Get("/{agentID}", s.getAgent)
		r.Get("/{agentID}/state", s.getAgentState)
		r.Put("/{agentID}/state", s.putAgentState)
	})

	r.Route("/conditions", func(r chi.Router) {
		r.Post("/", s.createCondition)
		r.Patch("/{id}", s.updateCondition)
		r.Delete("/{id}", s.deleteCondition)

		r.Post("/roots", s.createRoot)
		r.Get("/roots/{rootID}", s.getTree)
		r.Delete("/roots/{rootID}", s.deleteTree)
		r.Put("/roots/{rootID}/actions/{actionID}", s.assignRoot)

		r.Post("/operators", s.createOperator)
		r.Patch("/operators/{id}", s.updateOperator)
		r.Delete("/operators/{id}", s.deleteOperator)
	})

	r.Get("/actions/{actionID}/evaluate", s.evaluate)

	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
		msg = "Internal server error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return core.Validationf("invalid request body: %v", err)
	}
	return nil
}

func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, core.Validationf("invalid %s %q", name, chi.URLParam(r, name))
	}
	return id, nil
}

type queryRequest struct {
	AgentID       int64  `json:"agent_id"`
	PlayerID      *int64 `json:"player_id"`
	CallerAgentID *int64 `json:"caller_agent_id"`
	Query         string `json:"query"`
}

func (q queryRequest) toDispatch() (dispatch.Request, error) {
	req := dispatch.Request{AgentID: q.AgentID, Query: q.Query}
	switch {
	case q.PlayerID != nil && q.CallerAgentID != nil:
		return req, core.Validationf("player_id and caller_agent_id are mutually exclusive")
	case q.PlayerID != nil:
		req.Caller = core.PlayerRef(*q.PlayerID)
	case q.CallerAgentID != nil:
		req.Caller = core.AgentRef(*q.CallerAgentID)
	default:
		return req, core.Validationf("player_id or caller_agent_id is required")
	}
	return req, nil
}

// streamLine is one NDJSON line of a query stream.
type streamLine struct {
	Name    string `json:"name"`
	Payload any    `json:"payload"`
}

func (s *server) query(w http.ResponseWriter, r *http.Request) {
	var body queryRequest
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	req, err := body.toDispatch()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	events, done := s.gate.QueryStream(r.Context(), req)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	started := false
	for e := range events {
		if !started {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if err := enc.Encode(streamLine{Name: e.Name, Payload: e.Payload}); err != nil {
			s.logger.Warn("write query stream", "error", err)
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	out := <-done
	if out.Err != nil && !started {
		s.writeError(w, r, out.Err)
	}
}

func (s *server) getGlobalState(w http.ResponseWriter, r *http.Request) {
	st, err := s.gate.Store().GlobalState(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *server) putGlobalState(w http.ResponseWriter, r *http.Request) {
	var st state.Object
	if err := decode(r, &st); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.gate.Store().SetGlobalState(r.Context(), st); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.getGlobalState(w, r)
}

func (s *server) listAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.gate.Store().ListAgents(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *server) getAgent(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "agentID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	agent, err := s.gate.Store().GetAgent(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

type agentState struct {
	InternalState state.Object `json:"internal_state"`
	ExternalState state.Object `json:"external_state"`
}

func (s *server) getAgentState(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "agentID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	agent, err := s.gate.Store().GetAgent(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agentState{InternalState: agent.InternalState, ExternalState: agent.ExternalState})
}

func (s *server) putAgentState(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "agentID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body agentState
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.gate.Store().SetAgentState(r.Context(), id, body.InternalState, body.ExternalState); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.getAgentState(w, r)
}

func (s *server) createRoot(w http.ResponseWriter, r *http.Request) {
	var spec condition.RootSpec
	if err := decode(r, &spec); err != nil {
		s.writeError(w, r, err)
		return
	}
	op, err := s.gate.Conditions().CreateRoot(r.Context(), spec)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, op)
}

// treeRow is one node of GET /conditions/roots/{rootID}.
type treeRow struct {
	Kind  string             `json:"kind"`
	Depth int                `json:"depth"`
	Node  core.ConditionNode `json:"node"`
}

func (s *server) getTree(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "rootID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tree, err := s.gate.Conditions().Tree(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rows := make([]treeRow, 0, tree.Len())
	tree.Walk(func(n core.ConditionNode, depth int) {
		kind := "condition"
		if _, ok := n.(*core.Operator); ok {
			kind = "operator"
		}
		rows = append(rows, treeRow{Kind: kind, Depth: depth, Node: n})
	})
	writeJSON(w, http.StatusOK, rows)
}

func (s *server) deleteTree(w http.ResponseWriter, r *http.Request) {
	s.deleteBy(w, r, "rootID", s.gate.Conditions().DeleteTree)
}

func (s *server) assignRoot(w http.ResponseWriter, r *http.Request) {
	rootID, err := idParam(r, "rootID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	actionID, err := idParam(r, "actionID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.gate.Conditions().AssignRootToAction(r.Context(), rootID, actionID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) createOperator(w http.ResponseWriter, r *http.Request) {
	var spec condition.OperatorSpec
	if err := decode(r, &spec); err != nil {
		s.writeError(w, r, err)
		return
	}
	op, err := s.gate.Conditions().CreateOperator(r.Context(), spec)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, op)
}

func (s *server) updateOperator(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var patch condition.OperatorPatch
	if err := decode(r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	op, err := s.gate.Conditions().UpdateOperator(r.Context(), id, patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

func (s *server) deleteOperator(w http.ResponseWriter, r *http.Request) {
	s.deleteBy(w, r, "id", s.gate.Conditions().DeleteOperator)
}

func (s *server) createCondition(w http.ResponseWriter, r *http.Request) {
	var spec condition.ConditionSpec
	if err := decode(r, &spec); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.gate.Conditions().CreateCondition(r.Context(), spec)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *server) updateCondition(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var patch condition.ConditionPatch
	if err := decode(r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.gate.Conditions().UpdateCondition(r.Context(), id, patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *server) deleteCondition(w http.ResponseWriter, r *http.Request) {
	s.deleteBy(w, r, "id", s.gate.Conditions().DeleteCondition)
}

func (s *server) deleteBy(w http.ResponseWriter, r *http.Request, param string, del func(context.Context, int64) error) {
	id, err := idParam(r, param)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := del(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type evaluation struct {
	ActionID int64 `json:"action_id"`
	Result   bool  `json:"result"`
}

func (s *server) evaluate(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "actionID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ok, err := s.gate.Conditions().EvaluateAction(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, evaluation{ActionID: id, Result: ok})
}
