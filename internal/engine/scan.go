package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/grund/internal/directive"
	"github.com/roach88/grund/internal/vlog"
	"github.com/roach88/grund/internal/watermark"
)

// revisionRange is the work found between a watermark and the head observed
// at scan start.
type revisionRange struct {
	target     string
	revisions  []vlog.Revision
	self       int
	directives []directive.Directive
}

// scan extracts revisions after since up to the current head and the
// directives of every revision not made by the engine itself.
func (e *Engine) scan(ctx context.Context, l vlog.Log, since string) (revisionRange, error) {
	head, err := l.Head(ctx)
	if err != nil {
		return revisionRange{}, NewInvalidWorkingCopy(fmt.Sprintf("%s head", l.Name()), err)
	}
	rng := revisionRange{target: head}
	if head == since {
		return rng, nil
	}

	revs, err := l.Revisions(ctx, since, head)
	if err != nil {
		return revisionRange{}, NewInvalidWorkingCopy(fmt.Sprintf("%s watermark %s is not an ancestor of %s", l.Name(), since, head), err)
	}
	rng.revisions = revs
	for _, rev := range revs {
		if rev.HasPrefix(e.settings.Marker) {
			rng.self++
			slog.Debug("skipping own revision", "log", l.Name(), "revision", rev.ID)
			continue
		}
		rng.directives = append(rng.directives, directive.Scan(rev, e.settings.CommandPrefix)...)
	}
	return rng, nil
}

// Pending is the result of a dry-run scan.
type Pending struct {
	Project       string                `json:"project"`
	Bootstrap     bool                  `json:"bootstrap"`
	Watermark     string                `json:"watermark,omitempty"`
	Head          string                `json:"head"`
	Revisions     int                   `json:"revisions"`
	SelfRevisions int                   `json:"self_revisions"`
	Directives    []directive.Directive `json:"-"`
}

// Pending reports the directives the next batch would dispatch, without
// pulling, dispatching or writing anything.
func (e *Engine) Pending(ctx context.Context, p Project) (*Pending, error) {
	if err := validate(p); err != nil {
		return nil, err
	}
	jobsMark, _ := e.marks(p)
	since, ok, err := jobsMark.Load(ctx)
	if err != nil {
		return nil, NewInvalidWorkingCopy("read jobs watermark", err)
	}
	out := &Pending{Project: p.Name, Bootstrap: !ok, Watermark: since}
	if !ok {
		head, err := p.Jobs.Head(ctx)
		if err != nil {
			return nil, NewInvalidWorkingCopy("jobs head", err)
		}
		out.Head = head
		return out, nil
	}
	rng, err := e.scan(ctx, p.Jobs, since)
	if err != nil {
		return nil, err
	}
	out.Head = rng.target
	out.Revisions = len(rng.revisions)
	out.SelfRevisions = rng.self
	out.Directives = rng.directives
	return out, nil
}

// LogStatus compares one log's watermark with its head.
type LogStatus struct {
	Log       string `json:"log"`
	Watermark string `json:"watermark,omitempty"`
	Head      string `json:"head"`
	UpToDate  bool   `json:"up_to_date"`
}

// Status reports both logs' watermarks against their local heads.
func (e *Engine) Status(ctx context.Context, p Project) ([]LogStatus, error) {
	if err := validate(p); err != nil {
		return nil, err
	}
	jobsMark, resultsMark := e.marks(p)
	var out []LogStatus
	for _, pair := range []struct {
		log  vlog.Log
		mark watermark.Store
	}{{p.Jobs, jobsMark}, {p.Results, resultsMark}} {
		rev, _, err := pair.mark.Load(ctx)
		if err != nil {
			return nil, NewInvalidWorkingCopy(fmt.Sprintf("read %s watermark", pair.log.Name()), err)
		}
		head, err := pair.log.Head(ctx)
		if err != nil {
			return nil, NewInvalidWorkingCopy(fmt.Sprintf("%s head", pair.log.Name()), err)
		}
		out = append(out, LogStatus{Log: pair.log.Name(), Watermark: rev, Head: head, UpToDate: rev == head})
	}
	return out, nil
}

// Reset pulls the jobs log and moves its watermark to the head without
// dispatching anything in between. Nothing is committed; the new watermark
// is published with the next batch that dispatches work.
func (e *Engine) Reset(ctx context.Context, p Project) (string, error) {
	if err := validate(p); err != nil {
		return "", err
	}
	if err := p.Jobs.Pull(ctx); err != nil {
		return "", syncError(p.Jobs.Name(), "pull", err)
	}
	head, err := p.Jobs.Head(ctx)
	if err != nil {
		return "", NewInvalidWorkingCopy("jobs head", err)
	}
	jobsMark, _ := e.marks(p)
	if err := jobsMark.Save(ctx, head); err != nil {
		return "", NewInvalidWorkingCopy("write jobs watermark", err)
	}
	slog.Info("watermark reset", "project", p.Name, "log", p.Jobs.Name(), "revision", head)
	return head, nil
}
