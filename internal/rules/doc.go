// Package rules evaluates dialect-tagged rules against an evaluation context.
//
// A Registry maps dialect tags ("json-logic", "json-schema", "jmespath",
// "cel") to Engines. The Executor resolves each rule through the Registry and
// returns one RuleTestResult per rule, in input order. The Watcher recomputes
// results whenever the observed machine's context or UI state changes.
//
// Engines are pure: they perform no I/O and never mutate their inputs.
package rules
