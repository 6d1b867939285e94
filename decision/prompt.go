package decision

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/agentgate/core"
	"github.com/hupe1980/agentgate/internal/util"
	"github.com/hupe1980/agentgate/model"
	"github.com/hupe1980/agentgate/state"
)

// SchemaName names the structured response requested from the model.
const SchemaName = "agent_response"

var systemTemplate = util.ParseTemplate("system", `You are an agent capable of performing actions as well as responding to queries.
Act according to the instructions provided below and stay in character.
Do not reveal information which is not in your character's knowledge based on the instructions.
Reason based on the global state and your state.
Caller is the agent or player who queried you.
Action Agents gives you information about the agents which you can perform actions on.

Instructions:
{{ default "(none)" .Instructions }}

Global State:
{{ indent .GlobalState }}

Your State:
{{ indent .AgentState }}

Action Agents:
{{ indent .ActionAgents }}
`)

type systemData struct {
	Instructions string
	GlobalState  state.Object
	AgentState   map[string]state.Object
	ActionAgents map[string]*core.AgentDetails
}

// BuildRequest renders the model request for one decision: system prompt,
// conversation history, then the caller's query.
func BuildRequest(in core.DecisionInput) (model.Request, error) {
	actionAgents := map[string]*core.AgentDetails{}
	for _, a := range in.Actions {
		if a.TriggeredAgent != nil {
			actionAgents[a.Name] = a.TriggeredAgent
		}
	}

	system, err := util.RenderTemplate(systemTemplate, systemData{
		Instructions: in.Instructions,
		GlobalState:  orEmpty(in.GlobalState),
		AgentState: map[string]state.Object{
			"internal": orEmpty(in.InternalState),
			"external": orEmpty(in.ExternalState),
		},
		ActionAgents: actionAgents,
	})
	if err != nil {
		return model.Request{}, fmt.Errorf("render system prompt: %w", err)
	}

	messages := make([]model.Message, 0, 2*len(in.History)+1)
	for _, h := range in.History {
		turn, err := historyMessages(in.AgentID, h)
		if err != nil {
			return model.Request{}, err
		}
		messages = append(messages, turn...)
	}

	query, err := callerQuery(in.Caller, in.Query)
	if err != nil {
		return model.Request{}, err
	}
	messages = append(messages, model.Message{Role: model.RoleUser, Content: query})

	return model.Request{
		Instructions: system,
		Messages:     messages,
		ResponseSchema: &model.Schema{
			Name:        SchemaName,
			Description: "The agent's text response and the actions it takes.",
			Schema:      ResponseSchema(in.Actions),
		},
	}, nil
}

type queryEnvelope struct {
	Caller *core.CallerDetails `json:"caller"`
	Query  string              `json:"query"`
}

func callerQuery(caller core.CallerDetails, query string) (string, error) {
	b, err := json.Marshal(queryEnvelope{Caller: &caller, Query: query})
	if err != nil {
		return "", fmt.Errorf("encode query: %w", err)
	}
	return string(b), nil
}

// historyMessages renders one past turn from the perspective of agentID.
// A turn the agent answered becomes a user query plus its own reply; a turn
// it sent to another agent becomes its own query plus the other's reply.
func historyMessages(agentID int64, h core.HistoryEntry) ([]model.Message, error) {
	reply, err := json.Marshal(h.Message.Response)
	if err != nil {
		return nil, fmt.Errorf("encode history response %d: %w", h.Message.ID, err)
	}

	if h.Message.AgentID == agentID {
		b, err := json.Marshal(queryEnvelope{Caller: h.Caller, Query: h.Message.Query})
		if err != nil {
			return nil, fmt.Errorf("encode history query %d: %w", h.Message.ID, err)
		}
		return []model.Message{
			{Role: model.RoleUser, Content: string(b)},
			{Role: model.RoleAssistant, Content: string(reply)},
		}, nil
	}

	return []model.Message{
		{Role: model.RoleAssistant, Content: fmt.Sprintf("Query to agent %d: %s", h.Message.AgentID, h.Message.Query)},
		{Role: model.RoleUser, Content: fmt.Sprintf("Response from agent %d: %s", h.Message.AgentID, reply)},
	}, nil
}

// ResponseSchema is the strict JSON schema of a decision: a text response
// and, per available action, either its params object or null.
func ResponseSchema(actions []core.AvailableAction) map[string]any {
	properties := make(map[string]any, len(actions))
	required := make([]string, 0, len(actions))
	for _, a := range actions {
		prop := map[string]any{
			"anyOf": []any{util.ParamsSchema(a.Params), map[string]any{"type": "null"}},
		}
		if a.Description != "" {
			prop["description"] = a.Description
		}
		properties[a.Name] = prop
		required = append(required, a.Name)
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"response": map[string]any{"type": "string", "description": "The text response."},
			"actions": map[string]any{
				"type":                 "object",
				"description":          "The actions to take. Use null for actions not taken.",
				"properties":           properties,
				"required":             required,
				"additionalProperties": false,
			},
		},
		"required":             []string{"response", "actions"},
		"additionalProperties": false,
	}
}

func orEmpty(o state.Object) state.Object {
	if o == nil {
		return state.Object{}
	}
	return o
}
