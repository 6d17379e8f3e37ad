// Package harness runs crank scenarios against a real relay pipeline.
//
// A scenario describes a program for a fake compute node and a flow of
// messages to send through it. Each scenario runs against a fresh SQLite
// cache, the local sequencer and deterministic crank ids, so its trace is
// stable enough for golden file comparison.
//
// # Scenario Format
//
//	name: fan_out
//	description: "P replies to Q and R"
//	limits:
//	  max_depth: 8
//	program:
//	  P:
//	    replies:
//	      - { process: Q, data: to-q }
//	      - { process: R, data: to-r }
//	  BAD:
//	    error: boom
//	flow:
//	  - send: { process: P, data: hello }
//	    expect: { status: ok, nodes: 3 }
//	assertions:
//	  - type: latest_seq
//	    process: Q
//	    seq: 1
//
// A process missing from the program replies with nothing.
//
// # Assertion Types
//
//   - latest_seq: the latest sequence number stored for a process
//   - record_count: how many records the cache holds for a process
//   - record_status: every record of a process has the given status
//   - fetch_count: how many times the compute node was asked about a process
package harness
