// Package anthropic provides a model wrapper for the Anthropic Messages API.
//
// Structured output is obtained by offering a single tool whose input schema
// is the requested ResponseSchema and forcing the model to call it; the tool
// input is returned as the response text.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/hupe1980/agentgate/model"
)

// Options configures the Anthropic model adapter.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Model wraps the Anthropic Messages API behind model.Model.
type Model struct {
	client *anthropic.Client
	opts   Options
}

// NewModel creates a new Anthropic model using the official client.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions(optFns)

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new Anthropic model from an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	return &Model{client: client, opts: defaultOptions(optFns)}
}

func defaultOptions(optFns []func(o *Options)) Options {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}

// Generate implements model.Model. Streaming is not supported; a streaming
// request is answered with the final response only.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		resp, err := m.client.Messages.New(ctx, m.buildParams(req))
		if err != nil {
			errCh <- fmt.Errorf("anthropic api error: %w", err)
			return
		}

		text, err := responseText(resp, req.ResponseSchema)
		if err != nil {
			errCh <- err
			return
		}

		finishReason := "stop"
		if resp.StopReason != "" {
			finishReason = string(resp.StopReason)
		}
		out <- model.Response{
			ID:           resp.ID,
			Text:         text,
			FinishReason: finishReason,
			Usage: &model.TokenUsage{
				PromptTokens:     int(resp.Usage.InputTokens),
				CompletionTokens: int(resp.Usage.OutputTokens),
				TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
			},
		}
	}()

	return out, errCh
}

func (m *Model) buildParams(req model.Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:       m.opts.Model,
		Messages:    buildMessages(req.Messages),
		MaxTokens:   m.opts.MaxTokens,
		Temperature: anthropic.Float(m.opts.Temperature),
	}

	var system []anthropic.TextBlockParam
	if req.Instructions != "" {
		system = append(system, anthropic.TextBlockParam{Text: req.Instructions})
	}
	for _, msg := range req.Messages {
		if msg.Role == model.RoleSystem && msg.Content != "" {
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		}
	}
	if len(system) > 0 {
		params.System = system
	}

	if s := req.ResponseSchema; s != nil {
		tool := anthropic.ToolUnionParamOfTool(inputSchema(s.Schema), s.Name)
		if s.Description != "" {
			tool.OfTool.Description = anthropic.String(s.Description)
		}
		params.Tools = []anthropic.ToolUnionParam{tool}
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: s.Name},
		}
	}
	return params
}

// buildMessages converts chat turns, merging consecutive turns of the same
// role since the API requires alternation.
func buildMessages(msgs []model.Message) []anthropic.MessageParam {
	var (
		messages []anthropic.MessageParam
		lastRole model.Role
		buf      []string
	)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		block := anthropic.NewTextBlock(strings.Join(buf, "\n\n"))
		if lastRole == model.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
		buf = nil
	}

	for _, msg := range msgs {
		if msg.Role == model.RoleSystem || msg.Content == "" {
			continue
		}
		role := msg.Role
		if role != model.RoleAssistant {
			role = model.RoleUser
		}
		if role != lastRole {
			flush()
			lastRole = role
		}
		buf = append(buf, msg.Content)
	}
	flush()
	return messages
}

func inputSchema(schema map[string]any) anthropic.ToolInputSchemaParam {
	in := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
	if properties, ok := schema["properties"]; ok {
		in.Properties = properties
	}
	switch required := schema["required"].(type) {
	case []string:
		in.Required = required
	case []any:
		for _, r := range required {
			if s, ok := r.(string); ok {
				in.Required = append(in.Required, s)
			}
		}
	}
	return in
}

// responseText returns the forced tool input when a schema was requested,
// the concatenated text blocks otherwise.
func responseText(resp *anthropic.Message, schema *model.Schema) (string, error) {
	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			toolUse := block.AsToolUse()
			if schema == nil || toolUse.Name != schema.Name {
				continue
			}
			args, err := json.Marshal(toolUse.Input)
			if err != nil {
				return "", fmt.Errorf("encode tool input: %w", err)
			}
			return string(args), nil
		}
	}
	if schema != nil {
		return "", fmt.Errorf("anthropic response did not call %q", schema.Name)
	}
	return text.String(), nil
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{Name: string(m.opts.Model), Provider: "anthropic", SupportsStructuredOutput: true}
}
