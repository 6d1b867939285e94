// Package memory provides a volatile, process local implementation of every
// agentgate repository. It is safe for concurrent access and suited for tests,
// demos and the "memory" database driver. Returned values are clones, so
// callers cannot mutate stored state.
package memory
