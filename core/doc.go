// Package core defines the domain entities and collaborator contracts shared
// by the rule engine, the dispatcher, the stores and the transports.
//
// The package contains no behaviour beyond small invariant helpers. Concrete
// storage lives in store/memory and store/sqlstore; concrete event sinks in
// event and event/redis; the decision collaborator in decision.
//
// Key types:
//   - Agent, Player, Caller: participants of a conversation
//   - Action, ActionParam: behaviours an agent may choose, optionally
//     triggering another agent
//   - Operator, Condition: the flat, persisted form of a rule tree
//   - AgentMessage: one persisted conversation turn
//   - StateStore, AgentRepository, ConditionRepository, ...: storage contracts
//   - EventSink, Decider: outbound collaborators of the dispatcher
package core
