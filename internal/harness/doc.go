// Package harness runs scripted batch scenarios against the engine.
//
// A scenario is a YAML file describing a sequence of steps on a project
// backed by in-memory logs: user commits to the jobs log, engine runs,
// injected sync failures. Every step is recorded in a trace that can be
// compared against a golden file, and the final working trees are checked
// with assertions.
//
// # Scenario Format
//
//	name: update_then_archive
//	description: "Results are mirrored and follow the job into archive/"
//	steps:
//	  - run: {}
//	    expect: { status: bootstrap }
//	  - commit:
//	      message: submit p1
//	      runner: [active/p1]
//	      files:
//	        active/p1/grcmd.update: "out.txt\n"
//	        active/p1/out.txt: "42\n"
//	  - fail: { log: jobs, op: push }
//	  - run: {}
//	    expect: { status: failed, error: SYNC_FAILED }
//	  - heal: { log: jobs }
//	assertions:
//	  - type: file
//	    log: results
//	    path: archive/p1/out.txt
//	    content: "42\n"
//	  - type: watermark
//	    log: jobs
//	    revision: jobs-0004
//
// # Assertion Types
//
//   - file: a path exists in a log's working tree, optionally with content
//   - absent: a path does not exist in a log's working tree
//   - watermark: a log's watermark file names a revision
//   - message: the last commit message of a log
//   - outcome_count: number of applied or skipped directives across runs
package harness
