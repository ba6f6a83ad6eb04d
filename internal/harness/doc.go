// Package harness runs conformance scenarios against a real flow.
//
// A scenario loads an optional UI definition, seeds the context, then drives
// the machine and dispatcher step by step. Every step is recorded in a trace
// that can be compared byte-for-byte against a golden file.
//
// # Scenario Format
//
//	name: store_info_continue
//	description: "Filling the store form enables Continue"
//	definition: ../definitions/store-info.yaml
//	context:
//	  entity: { data: {} }
//	http:
//	  - method: POST
//	    path: /cases
//	    body: { id: case-1 }
//	plugins:
//	  - name: tag
//	    source: "function run(ctx, p) { ctx.tag = p.tag; return ctx }"
//	flow:
//	  - set: { path: entity.data.name, value: Acme }
//	  - dispatch:
//	      - type: api
//	        payload: { url: /cases, method: POST, resultPath: entity.case }
//	      - type: event
//	        payload: { eventName: NEXT }
//	  - process: true
//	    expect: { outcome: ok }
//	assertions:
//	  - type: context
//	    path: entity.case.id
//	    value: case-1
//	  - type: step
//	    step: review
//
// # Assertion Types
//
//   - trace_contains: an action ran successfully with matching args
//   - trace_order: actions ran in the specified order
//   - trace_count: an action was journaled exactly N times
//   - event_emitted: an event was sent
//   - context: the final context holds a value at a path
//   - element: an element's visibility and availability
//   - rules: rule results against the final context
//   - step: the current step and its status
//   - final_state: a journal table row holds expected values
//
// # Deterministic Testing
//
// Batch ids are "batch-1", "batch-2", ...; sequence numbers start at 1; the
// journal lives in an in-memory SQLite database; the mock API server's
// address is replaced by MockBaseURL in trace errors. The same scenario
// always produces the same trace.
package harness
