// Package agentgate provides a high-level façade over the dispatcher, the
// rule engine and the stores. Most applications interact with this package
// by:
//  1. Creating an AgentGate via New() with a core.Decider (optionally
//     overriding the default in-memory store)
//  2. Seeding agents, actions and rules through Store() and Conditions()
//  3. Querying agents synchronously (Query) or as a live event stream
//     (QueryStream)
//
// All defaults are safe for local development and testing; production
// deployments typically supply a durable store, a model-backed decider and a
// structured logger.
package agentgate

import (
	"context"

	"github.com/hupe1980/agentgate/condition"
	"github.com/hupe1980/agentgate/core"
	"github.com/hupe1980/agentgate/dispatch"
	"github.com/hupe1980/agentgate/event"
	"github.com/hupe1980/agentgate/logging"
	"github.com/hupe1980/agentgate/store/memory"
)

// Options configures the AgentGate instance.
type Options struct {
	// Store persists every entity. Defaults to an in-memory store.
	Store core.Store

	// Events receives the events of every query in addition to the per-call
	// recorder or stream. Defaults to discarding.
	Events core.EventSink

	// MaxDepth bounds trigger chains, see dispatch.Options.
	MaxDepth int

	// MaxConcurrentQueries limits the number of queries that run at the
	// same time. Set to 0 for unlimited.
	MaxConcurrentQueries int

	// EventBufferSize sets the channel buffer of QueryStream.
	EventBufferSize int

	// Observer receives turn and query timings. Optional.
	Observer dispatch.Observer

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// AgentGate is the high-level façade aggregating the dispatcher and services.
type AgentGate struct {
	opts    Options
	decider core.Decider
	rules   *condition.Service
	sem     chan struct{}
}

// New creates a new AgentGate around decider. Any unset service is
// initialized with an in-memory or no-op implementation.
func New(decider core.Decider, optFns ...func(o *Options)) *AgentGate {
	opts := Options{
		Store:                memory.New(),
		Events:               event.Noop{},
		MaxDepth:             dispatch.DefaultMaxDepth,
		MaxConcurrentQueries: 0,
		EventBufferSize:      64,
		Logger:               logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Events == nil {
		opts.Events = event.Noop{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	g := &AgentGate{
		opts:    opts,
		decider: decider,
		rules: condition.NewService(opts.Store, opts.Store, opts.Store, opts.Store, func(o *condition.Options) {
			o.Logger = opts.Logger
		}),
	}
	if opts.MaxConcurrentQueries > 0 {
		g.sem = make(chan struct{}, opts.MaxConcurrentQueries)
	}
	return g
}

// Store returns the backing store.
func (g *AgentGate) Store() core.Store { return g.opts.Store }

// Conditions returns the rule administration service.
func (g *AgentGate) Conditions() *condition.Service { return g.rules }

// Query runs req to completion and returns every event it emitted in order.
func (g *AgentGate) Query(ctx context.Context, req dispatch.Request) (dispatch.Result, []event.Event, error) {
	rec := event.NewRecorder()
	res, err := g.run(ctx, req, rec)
	return res, rec.Events(), err
}

// StreamResult is delivered once a streamed query has finished.
type StreamResult struct {
	Result dispatch.Result
	Err    error
}

// QueryStream starts req in the background. Events are delivered on the
// first channel, which is closed when the query finishes; the outcome then
// follows on the second. A query rejected before its first turn closes the
// event channel without sending anything. Cancel ctx to abandon a query.
func (g *AgentGate) QueryStream(ctx context.Context, req dispatch.Request) (<-chan event.Event, <-chan StreamResult) {
	stream := event.NewStream(g.opts.EventBufferSize)
	done := make(chan StreamResult, 1)

	go func() {
		defer close(done)
		res, err := g.run(ctx, req, stream)
		stream.Close()
		done <- StreamResult{Result: res, Err: err}
	}()

	return stream.Events(), done
}

func (g *AgentGate) run(ctx context.Context, req dispatch.Request, sink core.EventSink) (dispatch.Result, error) {
	if g.sem != nil {
		select {
		case g.sem <- struct{}{}:
			defer func() { <-g.sem }()
		case <-ctx.Done():
			return dispatch.Result{}, ctx.Err()
		}
	}

	d := dispatch.New(dispatch.Dependencies{
		Agents:   g.opts.Store,
		Players:  g.opts.Store,
		Messages: g.opts.Store,
		States:   g.opts.Store,
		Gate:     g.rules,
		Decider:  g.decider,
		Events:   event.Fanout{g.opts.Events, sink},
	}, func(o *dispatch.Options) {
		o.MaxDepth = g.opts.MaxDepth
		o.Observer = g.opts.Observer
		o.Logger = g.opts.Logger
	})
	return d.Query(ctx, req)
}
