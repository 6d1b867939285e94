// Package dispatch executes externally initiated queries against agents.
//
// A query runs one turn for the addressed agent and then fans out: every
// chosen action that triggers another agent runs a turn for that agent with
// the chosen params as query, recursively. All turns of one query share a
// correlation id (the query id) and report progress through a core.EventSink:
//
//	agent_response        one per successful turn
//	agent_response_error  one per failed turn
//	agent_response_end    exactly once, after the whole tree finished
//
// Turns run strictly sequentially and depth-first, so events arrive in the
// order the turns complete. A failed turn stops the remaining actions of the
// list that triggered it; sibling branches that already completed keep their
// persisted messages.
package dispatch
