// Package vlog defines the versioned log abstraction the engine runs on.
//
// A Log is a working copy of an append-only history (a git repository in
// production, an in-memory history in tests). The engine only ever needs a
// handful of operations from it:
//
//   - Head and Revisions to find new work since a watermark
//   - Stage and Commit to record its own side effects
//   - Pull and Push to synchronise with the shared remote
//   - ResetSoft to undo a local commit whose push failed
//
// Paths handed to and returned from a Log are slash-separated and relative
// to Dir().
package vlog

import (
	"context"
	"errors"
	"strings"
)

// ErrNotWorkingCopy is returned by constructors when a directory is not a
// usable working copy.
var ErrNotWorkingCopy = errors.New("not a valid working copy")

// Revision is one entry in a log's history. Immutable once created.
type Revision struct {
	// ID is opaque; revisions are ordered by ancestry only.
	ID string

	// Message is the full commit message.
	Message string

	// Paths lists the files changed by this revision, in the order the
	// underlying history reports them.
	Paths []string
}

// HasPrefix reports whether the revision message starts with marker.
func (r Revision) HasPrefix(marker string) bool {
	return marker != "" && strings.HasPrefix(r.Message, marker)
}

// Log is a version-controlled working copy used as an event transport.
type Log interface {
	// Name identifies the log in reports ("jobs", "results").
	Name() string

	// Dir is the absolute path of the working copy.
	Dir() string

	// Head returns the current head revision ID.
	Head(ctx context.Context) (string, error)

	// Revisions returns the revisions after since up to and including to,
	// oldest first.
	Revisions(ctx context.Context, since, to string) ([]Revision, error)

	// Stage records the current working-tree state of the given paths
	// (additions, modifications and deletions) for the next commit.
	Stage(ctx context.Context, paths ...string) error

	// Commit records everything staged and returns the new head ID.
	Commit(ctx context.Context, message string) (string, error)

	// ResetSoft moves head back to rev, keeping staged changes.
	ResetSoft(ctx context.Context, rev string) error

	Pull(ctx context.Context) error
	Push(ctx context.Context) error
}
