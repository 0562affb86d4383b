package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/roach88/grund/internal/directive"
	"github.com/roach88/grund/internal/vlog"
)

// lifecycle moves or removes a job directory in both logs.
//
//	archive: jobs and results move to archive/<rest>
//	delete:  jobs moves to delete/<rest>, results tree is removed
//	nuke:    both trees are removed
//
// Every change is checked before either log is touched, and a change a log
// refuses to stage rolls back the ones already made.
func (e *Engine) lifecycle(ctx context.Context, b *batch, d directive.Directive) error {
	root, rest, ok := d.Split()
	if !ok {
		return skipError(ErrCodeInvalidDirective, d,
			fmt.Sprintf("job directory must be under %s/, %s/ or %s/", directive.RootActive, directive.RootArchive, directive.RootDelete), nil)
	}
	jobs, results := b.project.Jobs, b.project.Results

	var ops []treeOp
	switch d.Verb {
	case directive.VerbArchive, directive.VerbDelete:
		dest := path.Join(directive.RootArchive, rest)
		if d.Verb == directive.VerbDelete {
			dest = path.Join(directive.RootDelete, rest)
		}
		if root+"/"+rest == dest {
			slog.Debug("job already in place", "job_dir", d.JobDir, "verb", d.Name)
			return nil
		}
		ops = append(ops, treeOp{log: jobs, src: d.JobDir, dst: dest, required: true})
		if d.Verb == directive.VerbArchive {
			ops = append(ops, treeOp{log: results, src: d.JobDir, dst: dest})
		} else {
			ops = append(ops, treeOp{log: results, src: d.JobDir})
		}
	case directive.VerbNuke:
		ops = append(ops,
			treeOp{log: jobs, src: d.JobDir},
			treeOp{log: results, src: d.JobDir},
		)
	default:
		return skipError(ErrCodeInvalidDirective, d, "not a lifecycle verb", nil)
	}

	var pending []treeOp
	for _, op := range ops {
		todo, err := op.check(d)
		if err != nil {
			return err
		}
		if todo {
			pending = append(pending, op)
		}
	}

	var done []*appliedOp
	for _, op := range pending {
		a, err := op.apply(ctx, d)
		if err != nil {
			for i := len(done) - 1; i >= 0; i-- {
				done[i].undo(ctx)
			}
			return err
		}
		done = append(done, a)
	}
	for _, a := range done {
		a.finish()
		if a.op.log == results {
			b.resultsDirty = true
		}
	}
	return nil
}

func exists(p string) (bool, error) {
	_, err := os.Lstat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// treeOp moves src to dst inside one log, or removes src when dst is empty.
type treeOp struct {
	log vlog.Log
	src string
	dst string

	// required makes a missing source a skip error. The results mirror of a
	// job that never published anything may be absent.
	required bool
}

func (op treeOp) full(rel string) string {
	return filepath.Join(op.log.Dir(), filepath.FromSlash(rel))
}

// check reports whether op still has work to do. A source that is gone while
// the destination exists is an earlier, unpublished application of the same
// directive and counts as done.
func (op treeOp) check(d directive.Directive) (bool, error) {
	srcOK, err := exists(op.full(op.src))
	if err != nil {
		return false, skipError(ErrCodeInvalidDirective, d, "stat "+op.src, err)
	}
	if op.dst == "" {
		return srcOK, nil
	}
	dstOK, err := exists(op.full(op.dst))
	if err != nil {
		return false, skipError(ErrCodeInvalidDirective, d, "stat "+op.dst, err)
	}

	switch {
	case !srcOK && dstOK:
		slog.Debug("move already applied", "log", op.log.Name(), "from", op.src, "to", op.dst)
		return false, nil
	case !srcOK:
		if op.required {
			return false, skipError(ErrCodeInvalidDirective, d, "job directory not found", nil)
		}
		return false, nil
	case dstOK:
		return false, skipError(ErrCodeLifecycleConflict, d,
			fmt.Sprintf("%s already exists in %s log", op.dst, op.log.Name()), nil)
	}
	return true, nil
}

// appliedOp is a staged change that can still be reverted.
type appliedOp struct {
	op    treeOp
	trash string // holds a removed tree until finish
}

// apply performs op and stages it. If staging fails the working tree is put
// back and a skip error returned.
func (op treeOp) apply(ctx context.Context, d directive.Directive) (*appliedOp, error) {
	srcFull := op.full(op.src)
	a := &appliedOp{op: op}

	if op.dst == "" {
		// Park the tree beside the working copy so a refused stage can
		// restore it.
		trash, err := os.MkdirTemp(filepath.Dir(op.log.Dir()), ".grund-trash-*")
		if err != nil {
			return nil, skipError(ErrCodeInvalidDirective, d, fmt.Sprintf("remove %s from %s log", op.src, op.log.Name()), err)
		}
		parked := filepath.Join(trash, "tree")
		if err := os.Rename(srcFull, parked); err != nil {
			os.RemoveAll(trash)
			return nil, skipError(ErrCodeInvalidDirective, d, fmt.Sprintf("remove %s from %s log", op.src, op.log.Name()), err)
		}
		a.trash = trash
		if err := op.log.Stage(ctx, op.src); err != nil {
			if rerr := os.Rename(parked, srcFull); rerr != nil {
				slog.Error("job tree not restored", "log", op.log.Name(), "job_dir", op.src, "parked", parked, "error", rerr)
			} else {
				os.RemoveAll(trash)
			}
			return nil, skipError(ErrCodeStageFailed, d, fmt.Sprintf("stage removal of %s in %s log", op.src, op.log.Name()), err)
		}
		slog.Info("job removed", "log", op.log.Name(), "job_dir", op.src)
		return a, nil
	}

	dstFull := op.full(op.dst)
	if err := os.MkdirAll(filepath.Dir(dstFull), 0o755); err != nil {
		return nil, skipError(ErrCodeInvalidDirective, d, "create "+path.Dir(op.dst), err)
	}
	if err := os.Rename(srcFull, dstFull); err != nil {
		return nil, skipError(ErrCodeInvalidDirective, d, fmt.Sprintf("move %s to %s", op.src, op.dst), err)
	}
	if err := op.log.Stage(ctx, op.src, op.dst); err != nil {
		if rerr := os.Rename(dstFull, srcFull); rerr != nil {
			slog.Error("job move not reverted", "log", op.log.Name(), "from", op.src, "to", op.dst, "error", rerr)
		}
		return nil, skipError(ErrCodeStageFailed, d, fmt.Sprintf("stage move in %s log", op.log.Name()), err)
	}
	slog.Info("job moved", "log", op.log.Name(), "from", op.src, "to", op.dst)
	return a, nil
}

// undo reverts an applied change and stages the restored paths.
func (a *appliedOp) undo(ctx context.Context) {
	op := a.op
	srcFull := op.full(op.src)
	var err error
	if op.dst == "" {
		if err = os.Rename(filepath.Join(a.trash, "tree"), srcFull); err == nil {
			os.RemoveAll(a.trash)
			err = op.log.Stage(ctx, op.src)
		}
	} else {
		if err = os.Rename(op.full(op.dst), srcFull); err == nil {
			err = op.log.Stage(ctx, op.src, op.dst)
		}
	}
	if err != nil {
		slog.Error("job change not reverted", "log", op.log.Name(), "job_dir", op.src, "error", err)
		return
	}
	slog.Info("job change reverted", "log", op.log.Name(), "job_dir", op.src)
}

// finish drops a removed tree for good.
func (a *appliedOp) finish() {
	if a.trash == "" {
		return
	}
	if err := os.RemoveAll(a.trash); err != nil {
		slog.Warn("removed job tree not cleaned up", "log", a.op.log.Name(), "path", a.trash, "error", err)
	}
}
