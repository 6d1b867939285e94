// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing agents, actions and rule trees, plus a
// scripted decider standing in for the language model. Not intended for
// production usage.
package testutil
