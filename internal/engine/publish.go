package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/grund/internal/journal"
	"github.com/roach88/grund/internal/vlog"
	"github.com/roach88/grund/internal/watermark"
)

// publishBatch publishes the results log when a handler touched it, then
// the jobs log with target as its new watermark.
//
// Results go first: if the jobs push then fails, the jobs watermark stays
// behind and the range is dispatched again, which re-publishes the same
// results. The reverse order could advance the jobs watermark past results
// that never reached the remote.
func (e *Engine) publishBatch(ctx context.Context, b *batch, target string) error {
	if b.resultsDirty {
		head, err := b.project.Results.Head(ctx)
		if err != nil {
			return syncError(b.project.Results.Name(), "head", err)
		}
		if err := e.publish(ctx, b, b.project.Results, b.resultsMark, head, e.doneMessage(head)); err != nil {
			return err
		}
	}
	return e.publish(ctx, b, b.project.Jobs, b.jobsMark, target, e.doneMessage(target))
}

func (e *Engine) doneMessage(target string) string {
	return fmt.Sprintf("%s done up to commit %s", e.settings.Marker, target)
}

func (e *Engine) firstMessage() string {
	return e.settings.Marker + " First commit"
}

// bootstrap records the current heads as processed without dispatching
// anything. The results log is only initialized when it has no watermark of
// its own yet.
func (e *Engine) bootstrap(ctx context.Context, b *batch) error {
	p := b.project
	slog.Info("no watermark, bootstrapping", "project", p.Name)

	if _, ok, err := b.resultsMark.Load(ctx); err != nil {
		return NewInvalidWorkingCopy("read results watermark", err)
	} else if !ok {
		head, err := p.Results.Head(ctx)
		if err != nil {
			return syncError(p.Results.Name(), "head", err)
		}
		if err := e.publish(ctx, b, p.Results, b.resultsMark, head, e.firstMessage()); err != nil {
			return err
		}
	}

	head, err := p.Jobs.Head(ctx)
	if err != nil {
		return syncError(p.Jobs.Name(), "head", err)
	}
	b.report.Target = head
	if err := e.publish(ctx, b, p.Jobs, b.jobsMark, head, e.firstMessage()); err != nil {
		return err
	}
	b.report.Status = journal.StatusBootstrap
	return nil
}

// publish writes target to the log's watermark file, commits it together
// with everything staged and pushes. On failure the commit is undone with a
// soft reset, keeping the staged side effects, and the previous watermark
// is restored.
func (e *Engine) publish(ctx context.Context, b *batch, l vlog.Log, mark watermark.Store, target, message string) error {
	seq := b.clock.Next()
	rec := journal.PublishRecord{BatchID: b.id, Seq: seq, Log: l.Name(), Target: target}

	prev, hadPrev, err := mark.Load(ctx)
	if err != nil {
		return e.publishFailed(ctx, rec, syncError(l.Name(), "read watermark", err))
	}
	before, err := l.Head(ctx)
	if err != nil {
		return e.publishFailed(ctx, rec, syncError(l.Name(), "head", err))
	}

	rollback := func(committed bool) {
		if committed {
			if err := l.ResetSoft(ctx, before); err != nil {
				slog.Error("undo publish commit failed", "log", l.Name(), "revision", before, "error", err)
			}
		}
		if err := watermark.Restore(ctx, mark, prev, hadPrev); err != nil {
			slog.Error("restore watermark failed", "log", l.Name(), "error", err)
		}
	}

	if err := mark.Save(ctx, target); err != nil {
		return e.publishFailed(ctx, rec, syncError(l.Name(), "write watermark", err))
	}
	if err := l.Stage(ctx, mark.Path()); err != nil {
		rollback(false)
		return e.publishFailed(ctx, rec, syncError(l.Name(), "stage watermark", err))
	}
	commit, err := l.Commit(ctx, message)
	if err != nil {
		rollback(false)
		return e.publishFailed(ctx, rec, syncError(l.Name(), "commit", err))
	}
	rec.Commit = commit
	if err := l.Push(ctx); err != nil {
		rollback(true)
		return e.publishFailed(ctx, rec, syncError(l.Name(), "push", err))
	}

	rec.OK = true
	e.journalErr("publish", e.journal.RecordPublish(ctx, rec))
	b.report.Published = append(b.report.Published, Publication{Log: l.Name(), Target: target, Commit: commit})
	slog.Info("published", "log", l.Name(), "target", target, "commit", commit)
	return nil
}

func (e *Engine) publishFailed(ctx context.Context, rec journal.PublishRecord, err *Error) error {
	rec.Error = err.Error()
	e.journalErr("publish", e.journal.RecordPublish(ctx, rec))
	slog.Error("publish failed", "log", rec.Log, "target", rec.Target, "error", err)
	return err
}
