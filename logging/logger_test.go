package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewJSONWithAttributes(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelDebug, Output: &buf, Component: "dispatch"})

	With(l, "query_id", "q-1").Debug("turn started", "agent_id", 3)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "turn started", entry["msg"])
	assert.Equal(t, "dispatch", entry["component"])
	assert.Equal(t, "q-1", entry["query_id"])
	assert.EqualValues(t, 3, entry["agent_id"])
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelWarn, Format: "text", Output: &buf})

	l.Info("hidden")
	l.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

type captureLogger struct {
	NoOpLogger
	errors []string
	args   [][]any
}

func (c *captureLogger) Error(msg string, args ...any) {
	c.errors = append(c.errors, msg)
	c.args = append(c.args, args)
}

func TestWithWrapsForeignLogger(t *testing.T) {
	c := &captureLogger{}
	With(c, "query_id", "q").Error("boom", "k", 1)

	require.Len(t, c.args, 1)
	assert.Equal(t, []any{"query_id", "q", "k", 1}, c.args[0])
}

func TestLogDecisionFailure(t *testing.T) {
	c := &captureLogger{}
	LogDecision(c, "gpt", time.Second, false, errors.New("rate limited"))

	require.Equal(t, []string{"decision call failed"}, c.errors)
	assert.Contains(t, c.args[0], "rate limited")
}

func TestWithNil(t *testing.T) {
	assert.Equal(t, NoOpLogger{}, With(nil, "k", "v"))
}
