// Package logging provides the minimal Logger interface used across agentgate
// and adapters for log/slog.
//
// Components accept a Logger through their functional options and default to
// NoOpLogger, so library users only see output when they ask for it:
//
//	logger := logging.New(logging.Config{Level: logging.LevelDebug, Format: "text"})
//	d := dispatch.New(deps, func(o *dispatch.Options) { o.Logger = logger })
//
// With attaches contextual attributes such as the query id.
package logging
