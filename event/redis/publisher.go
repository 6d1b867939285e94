// Package redis publishes dispatch events to a Redis channel so other
// processes can follow queries as they run.
package redis

import (
	"context"
	"encoding/json"

	backend "github.com/redis/go-redis/v9"

	"github.com/hupe1980/agentgate/core"
	"github.com/hupe1980/agentgate/logging"
)

// DefaultChannel is used when Options.Channel is empty.
const DefaultChannel = "agentgate:events"

// Envelope is the JSON document published for every event.
type Envelope struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

// Options configures a Publisher.
type Options struct {
	Channel string
	Logger  logging.Logger
}

// Publisher is a core.EventSink that PUBLISHes each event as an Envelope.
// Publishing failures are logged and never interrupt dispatch.
type Publisher struct {
	client  backend.UniversalClient
	channel string
	logger  logging.Logger
}

var _ core.EventSink = (*Publisher)(nil)

// New connects a publisher to the given server.
func New(addr, password string, db int, optFns ...func(o *Options)) *Publisher {
	client := backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewFromClient(client, optFns...)
}

// NewFromClient creates a publisher on an existing client.
func NewFromClient(client backend.UniversalClient, optFns ...func(o *Options)) *Publisher {
	opts := Options{
		Channel: DefaultChannel,
		Logger:  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Channel == "" {
		opts.Channel = DefaultChannel
	}
	return &Publisher{client: client, channel: opts.Channel, logger: opts.Logger}
}

// Channel returns the channel events are published to.
func (p *Publisher) Channel() string { return p.channel }

// Emit implements core.EventSink.
func (p *Publisher) Emit(ctx context.Context, name string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("encode event payload", "event", name, "error", err)
		return
	}
	msg, err := json.Marshal(Envelope{Name: name, Payload: raw})
	if err != nil {
		p.logger.Error("encode event envelope", "event", name, "error", err)
		return
	}
	if err := p.client.Publish(ctx, p.channel, msg).Err(); err != nil {
		p.logger.Warn("publish event", "event", name, "channel", p.channel, "error", err)
	}
}

// Ping checks the connection.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (p *Publisher) Close() error { return p.client.Close() }
