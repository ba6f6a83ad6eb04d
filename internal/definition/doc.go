// Package definition loads UI definitions and checks them statically.
//
// Definitions are authored as JSON, YAML or CUE. CUE files may either be
// the definition itself or carry it under a top-level "definition" field,
// which lets authors constrain pages with their own CUE schemas.
//
// Validate reports every problem it finds (it does not fail fast): unknown
// rule dialects, rule expressions that do not compile, unknown action types
// and duplicate names.
package definition
