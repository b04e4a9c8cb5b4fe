// Package harness runs ledger conformance scenarios.
//
// A scenario is a YAML file describing writes and reads against one or more
// ledgers, the outcome expected of each, and assertions over the resulting
// trace and stored state. Every scenario runs against a fresh in-memory
// backend and a fake clock, so traces are reproducible and can be compared
// with golden files.
//
// # Scenario Format
//
//	name: publish_once
//	description: "A project is published exactly once"
//	now: 1700000000            # optional, fake clock start
//	schemas: ../schemas        # optional, CUE schema directory
//	setup:
//	  - action: project-publication.initialize
//	    as: admin
//	    args: { admin: admin }
//	flow:
//	  - invoke: project-publication.record
//	    as: admin
//	    advance: 10            # optional, seconds added to the clock first
//	    args:
//	      key: p1
//	      parties: { client: client-1 }
//	      timestamp: 1700000000
//	    expect:
//	      case: Success
//	      result: { key: p1, seq: 1 }
//	assertions:
//	  - type: final_state
//	    ledger: project-publication
//	    key: p1
//	    expect: { recorded_at: 1700000000 }
//
// # Operations
//
// Actions are written "<ledger>.<op>":
//
//   - initialize: args {admin}; result {admin}
//   - record: args {key, parties, fields, timestamp}; result {key, seq, recorded_at}
//   - get: args {key}; result is the stored record without its digest
//   - list: args {party, index}; result {keys}
//   - audit: no args; result {records, sequence, ok}
//
// An operation completes with case "Success", "NotFound" (get of a missing
// key), or the symbolic name of the ledger error code, for example
// "ALREADY_RECORDED". Setup steps must succeed.
//
// # Assertion Types
//
//   - trace_contains: an invocation of action with matching args (subset)
//   - trace_order: actions were invoked in the given order
//   - trace_count: action was invoked exactly count times
//   - final_state: the record under key matches expect (subset)
//   - index_order: listing party (optionally one index) yields exactly keys
//
// Notifications emitted by the ledgers appear in the trace between an
// invocation and its completion.
package harness
