package main

import (
	"context"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/hupe1980/agentgate"
	"github.com/hupe1980/agentgate/config"
	"github.com/hupe1980/agentgate/core"
	"github.com/hupe1980/agentgate/decision"
	"github.com/hupe1980/agentgate/event"
	"github.com/hupe1980/agentgate/event/redis"
	"github.com/hupe1980/agentgate/logging"
	"github.com/hupe1980/agentgate/metrics"
	"github.com/hupe1980/agentgate/model"
	"github.com/hupe1980/agentgate/model/anthropic"
	"github.com/hupe1980/agentgate/model/openai"
	"github.com/hupe1980/agentgate/store/memory"
	"github.com/hupe1980/agentgate/store/sqlstore"
)

// app holds the components built from one configuration.
type app struct {
	cfg     config.Config
	logger  logging.Logger
	store   core.Store
	gate    *agentgate.AgentGate
	metrics *metrics.Collector

	closers []func() error
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// openStore connects the configured database and applies the schema.
func openStore(ctx context.Context, cfg config.Config) (core.Store, func() error, error) {
	switch cfg.Database.Driver {
	case "memory":
		return memory.New(), func() error { return nil }, nil
	case "postgres":
		s, err := sqlstore.Open(ctx, sqlstore.Postgres, cfg.Database.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		s, err := sqlstore.Open(ctx, sqlstore.SQLite, cfg.Database.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
}

func newModel(cfg config.LLMConfig) model.Model {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.Model != "" {
				o.Model = anthropicsdk.Model(cfg.Model)
			}
			o.Temperature = cfg.Temperature
			o.MaxTokens = cfg.MaxTokens
			o.APIKey = cfg.APIKey
		})
	case "mock":
		return model.NewMockModel("mock")
	default:
		return openai.NewModel(func(o *openai.Options) {
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
			o.Temperature = cfg.Temperature
			o.MaxCompletionTokens = cfg.MaxTokens
			o.APIKey = cfg.APIKey
		})
	}
}

// newApp wires store, decider, metrics and event sinks. Metrics are
// registered on reg when it is not nil.
func newApp(ctx context.Context, cfg config.Config, reg prometheus.Registerer) (*app, error) {
	logger := cfg.Logger()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Database.Driver, err)
	}
	a := &app{cfg: cfg, logger: logger, store: store, closers: []func() error{closeStore}}

	sinks := event.Fanout{event.LogSink{Logger: logger}}
	if r := cfg.Events.Redis; r.Addr != "" {
		pub := redis.New(r.Addr, r.Password, r.DB, func(o *redis.Options) {
			o.Channel = r.Channel
			o.Logger = logger
		})
		if err := pub.Ping(ctx); err != nil {
			logger.Warn("redis event publisher unavailable", "addr", r.Addr, "error", err)
		}
		a.closers = append(a.closers, pub.Close)
		sinks = append(sinks, pub)
	}

	a.metrics = metrics.NewCollector(reg)
	decider := decision.NewModelDecider(newModel(cfg.LLM), func(o *decision.Options) {
		o.Logger = logger
	})

	a.gate = agentgate.New(decider, func(o *agentgate.Options) {
		o.Store = store
		o.Events = a.metrics.Sink(sinks)
		o.Observer = a.metrics
		o.MaxDepth = cfg.Dispatch.MaxDepth
		o.Logger = logger
	})
	return a, nil
}

func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}
