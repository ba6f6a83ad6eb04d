// Package ir provides the data model shared by every flowrt package.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal. This keeps the
// model as the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Document is the evaluation context: plain JSON-shaped Go values
//     (map[string]any, []any, string, float64, bool, nil)
//   - Document paths are "." separated; numeric segments index arrays
//   - Rules and definitions are immutable once loaded
//   - Logical clocks (seq) order actions, never wall-clock timestamps
package ir
