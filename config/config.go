// Package config loads agentgate settings from an optional YAML file
// overlaid with AGENTGATE_* environment variables.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentgate/logging"
)

// EnvPrefix prefixes every environment override, e.g.
// AGENTGATE_DATABASE_DSN or AGENTGATE_EVENTS_REDIS_ADDR.
const EnvPrefix = "AGENTGATE"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Events   EventsConfig   `mapstructure:"events"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// Driver is one of sqlite, postgres or memory.
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type LLMConfig struct {
	// Provider is one of openai, anthropic or mock.
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int64   `mapstructure:"max_tokens"`
	APIKey      string  `mapstructure:"api_key"`
}

type EventsConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig enables the Redis publisher when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type DispatchConfig struct {
	// MaxDepth bounds trigger chains; 0 disables the bound.
	MaxDepth int `mapstructure:"max_depth"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns a configuration that runs without external services.
func Default() Config {
	return Config{
		Server:   ServerConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "agentgate.db"},
		LLM:      LLMConfig{Provider: "openai", Temperature: 0.7, MaxTokens: 4096},
		Events:   EventsConfig{Redis: RedisConfig{Channel: "agentgate:events"}},
		Dispatch: DispatchConfig{MaxDepth: 8},
		Log:      LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path (skipped when empty), applies the process environment and
// validates the result.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (Config, error) {
	raw := map[string]any{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("loading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Config{}, fmt.Errorf("loading config: %w", err)
		}
		if raw == nil {
			raw = map[string]any{}
		}
	}

	for _, key := range Keys() {
		if v, ok := lookup(EnvName(key)); ok {
			set(raw, strings.Split(key, "."), v)
		}
	}

	cfg := Default()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &cfg,
	})
	if err != nil {
		return Config{}, fmt.Errorf("loading config: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return Config{}, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// Validate rejects unknown drivers and providers, missing DSNs and
// negative bounds.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "memory":
	case "sqlite", "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	switch c.LLM.Provider {
	case "openai", "anthropic", "mock":
	default:
		return fmt.Errorf("unsupported llm.provider %q", c.LLM.Provider)
	}
	if c.LLM.MaxTokens < 0 {
		return fmt.Errorf("llm.max_tokens must not be negative")
	}
	if c.Dispatch.MaxDepth < 0 {
		return fmt.Errorf("dispatch.max_depth must not be negative")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("unsupported log.format %q", c.Log.Format)
	}
	return nil
}

// Logger builds the logger described by the log section.
func (c Config) Logger() logging.Logger {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	return logging.New(logging.Config{Level: level, Format: c.Log.Format, Component: "agentgate"})
}

// Keys lists every dotted key path, e.g. "events.redis.addr".
func Keys() []string {
	var keys []string
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			key := prefix + f.Tag.Get("mapstructure")
			if f.Type.Kind() == reflect.Struct && f.Type != reflect.TypeOf(time.Duration(0)) {
				walk(f.Type, key+".")
				continue
			}
			keys = append(keys, key)
		}
	}
	walk(reflect.TypeOf(Config{}), "")
	return keys
}

// EnvName returns the environment variable overriding key.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func set(m map[string]any, path []string, v any) {
	if len(path) == 1 {
		m[path[0]] = v
		return
	}
	child, ok := m[path[0]].(map[string]any)
	if !ok {
		child = map[string]any{}
		m[path[0]] = child
	}
	set(child, path[1:], v)
}
