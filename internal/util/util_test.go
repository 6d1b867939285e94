package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgate/core"
)

func TestParamsSchema(t *testing.T) {
	schema := ParamsSchema([]core.ActionParam{
		{Name: "target", Type: core.ParamString, Description: "who"},
		{Name: "amount", Type: core.ParamInt},
		{Name: "mode", Type: core.ParamLiteral, LiteralValues: []any{"soft", "hard"}},
	})

	assert.Equal(t, []string{"target", "amount", "mode"}, schema["required"])
	props := schema["properties"].(map[string]any)
	assert.Equal(t, map[string]any{"type": "string", "description": "who"}, props["target"])
	assert.Equal(t, map[string]any{"enum": []any{"soft", "hard"}}, props["mode"])
}

func TestValidateParameters(t *testing.T) {
	schema := ParamsSchema([]core.ActionParam{
		{Name: "amount", Type: core.ParamInt},
		{Name: "ratio", Type: core.ParamFloat},
		{Name: "loud", Type: core.ParamBool},
		{Name: "level", Type: core.ParamLiteral, LiteralValues: []any{1, 2}},
	})

	tests := []struct {
		name   string
		params map[string]any
		field  string
	}{
		{"valid", map[string]any{"amount": float64(3), "ratio": 0.5, "loud": true, "level": float64(2)}, ""},
		{"missing", map[string]any{"ratio": 0.5, "loud": true, "level": 1}, "amount"},
		{"fractional int", map[string]any{"amount": 1.5, "ratio": 0.5, "loud": true, "level": 1}, "amount"},
		{"wrong bool", map[string]any{"amount": 1, "ratio": 0.5, "loud": "yes", "level": 1}, "loud"},
		{"not in enum", map[string]any{"amount": 1, "ratio": 0.5, "loud": false, "level": 3}, "level"},
		{"unknown field", map[string]any{"amount": 1, "ratio": 0.5, "loud": false, "level": 1, "x": 1}, "x"},
		{"null value", map[string]any{"amount": nil, "ratio": 0.5, "loud": false, "level": 1}, "amount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParameters(tt.params, schema)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestRenderTemplate(t *testing.T) {
	tmpl := ParseTemplate("t", `{{ .Name | upper }} {{ json .State }} {{ default "none" .Missing }}`)
	out, err := RenderTemplate(tmpl, map[string]any{"Name": "bob", "State": map[string]int{"a": 1}, "Missing": ""})
	require.NoError(t, err)
	assert.Equal(t, `BOB {"a":1} none`, out)
}
