// Package engine processes one project per call: it pulls the jobs and
// results logs, finds the revisions committed since the jobs watermark,
// dispatches the command directives they contain, and publishes the side
// effects together with the new watermarks.
//
// A pass over a project is a batch. Batches are strictly sequential per
// project and all state lives in the batch value; the Engine itself is
// configuration only.
//
// Flow of one batch:
//
//  1. Pull both logs. Failure aborts the batch (SYNC_FAILED).
//  2. Load the jobs watermark. Absent means bootstrap: the current heads are
//     recorded as processed and nothing is dispatched.
//  3. Collect revisions after the watermark up to the head observed now.
//     Revisions carrying the marker are the engine's own and are skipped.
//  4. Dispatch every directive in revision order, then path order. Skip
//     errors are recorded and the batch continues.
//  5. Publish the results log, then the jobs log. Each publish writes the
//     watermark file, commits it with the staged side effects and pushes.
//     A failed push rolls the commit back and leaves the old watermark in
//     place, so the same range is dispatched again next time.
//
// Handlers are written to be safe under that replay: moves whose source is
// already at its destination count as applied, and copies overwrite.
package engine
