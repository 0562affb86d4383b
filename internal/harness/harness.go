package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/roach88/grund/internal/engine"
	"github.com/roach88/grund/internal/runner"
	"github.com/roach88/grund/internal/testutil"
	"github.com/roach88/grund/internal/vlog/memlog"
)

// ProjectName is the name every scenario project runs under.
const ProjectName = "scenario"

// errInjected is returned by a sync operation a fail step targeted.
var errInjected = errors.New("injected sync failure")

// Harness executes scenarios with fixed batch IDs and a stepping clock.
type Harness struct {
	jobs    *memlog.Log
	results *memlog.Log
	engine  *engine.Engine
}

// Run executes a scenario in a fresh project under dir (which must exist
// and be empty) and evaluates its assertions.
//
// A step whose expectation fails is recorded in Result.Errors and the
// remaining steps still run. The returned error is reserved for problems
// setting up or executing a step.
func Run(ctx context.Context, s *Scenario, dir string) (*Result, error) {
	h, err := newHarness(dir)
	if err != nil {
		return nil, err
	}

	res := NewResult()
	for i, step := range s.Steps {
		ev, rep, err := h.step(ctx, i+1, step)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		res.Trace = append(res.Trace, ev)
		if rep != nil {
			res.Reports = append(res.Reports, rep)
		}
		if step.Expect != nil {
			for _, msg := range checkExpect(step.Expect, ev, rep) {
				res.AddError(fmt.Sprintf("step %d: %s", i+1, msg))
			}
		}
	}

	for i, a := range s.Assertions {
		if err := h.assert(a, res); err != nil {
			res.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return res, nil
}

func newHarness(dir string) (*Harness, error) {
	jobs := filepath.Join(dir, "jobs")
	results := filepath.Join(dir, "results")
	for _, d := range []string{jobs, results} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create working tree: %w", err)
		}
	}
	return &Harness{
		jobs:    memlog.New("jobs", jobs),
		results: memlog.New("results", results),
		engine: engine.New(engine.Settings{RunnerScript: testutil.RunnerScript},
			engine.WithRunner(runner.NewExec(testutil.RunnerScript, testutil.RunnerInterpreter)),
			engine.WithIDGenerator(engine.NewFixedGenerator("batch")),
			engine.WithNow(testutil.NewStepClock(time.Time{}, 0).Now),
		),
	}, nil
}

func (h *Harness) project() engine.Project {
	return engine.Project{Name: ProjectName, Jobs: h.jobs, Results: h.results}
}

func (h *Harness) log(name string) *memlog.Log {
	if name == "results" {
		return h.results
	}
	return h.jobs
}

func (h *Harness) step(ctx context.Context, n int, s Step) (TraceEvent, *engine.Report, error) {
	ev := TraceEvent{Step: n}
	switch {
	case s.Commit != nil:
		ev.Kind = KindCommit
		files := make(map[string]string, len(s.Commit.Files)+len(s.Commit.Runner))
		for p, content := range s.Commit.Files {
			files[p] = content
		}
		for _, dir := range s.Commit.Runner {
			files[path.Join(dir, testutil.RunnerScript)] = testutil.Runner
		}
		ev.Revision = h.jobs.External(s.Commit.Message, files, s.Commit.Remove...)
		return ev, nil, nil

	case s.Fail != nil, s.Heal != nil:
		f, fail := s.Fail, true
		ev.Kind = KindFail
		if f == nil {
			f, fail = s.Heal, false
			ev.Kind = KindHeal
		}
		ev.Log, ev.Op = f.Log, f.Op
		h.fault(f, fail)
		return ev, nil, nil

	case s.Run != nil:
		ev.Kind = KindRun
		rep, err := h.engine.Process(ctx, h.project())
		if err != nil {
			var ee *engine.Error
			if !errors.As(err, &ee) {
				return ev, nil, err
			}
			ev.Error = string(ee.Code)
		}
		if rep == nil {
			return ev, nil, nil
		}
		ev.Status = rep.Status
		ev.From = rep.From
		ev.Target = rep.Target
		ev.Revisions = rep.Revisions
		ev.SelfRevisions = rep.SelfRevisions
		ev.Published = rep.Published
		for _, o := range rep.Outcomes {
			ot := OutcomeTrace{Verb: o.Verb, JobDir: o.JobDir}
			var ee *engine.Error
			if errors.As(o.Err, &ee) {
				ot.Code = string(ee.Code)
			}
			ev.Outcomes = append(ev.Outcomes, ot)
		}
		return ev, rep, nil
	}
	return ev, nil, fmt.Errorf("empty step")
}

func (h *Harness) fault(f *FaultStep, fail bool) {
	l := h.log(f.Log)
	switch f.Op {
	case OpPull:
		l.PullErr = nil
		if fail {
			l.PullErr = errInjected
		}
	case OpPush:
		l.PushErr = nil
		if fail {
			l.PushErr = func() error { return errInjected }
		}
	}
}

func checkExpect(x *Expect, ev TraceEvent, rep *engine.Report) []string {
	var errs []string
	if x.Status != "" && x.Status != ev.Status {
		errs = append(errs, fmt.Sprintf("status: expected %q, got %q", x.Status, ev.Status))
	}
	if x.Error != ev.Error {
		errs = append(errs, fmt.Sprintf("error: expected %q, got %q", x.Error, ev.Error))
	}
	if rep == nil {
		return errs
	}
	skipped := rep.Skipped()
	applied := len(rep.Outcomes) - skipped
	if x.Applied != nil && *x.Applied != applied {
		errs = append(errs, fmt.Sprintf("applied: expected %d, got %d", *x.Applied, applied))
	}
	if x.Skipped != nil && *x.Skipped != skipped {
		errs = append(errs, fmt.Sprintf("skipped: expected %d, got %d", *x.Skipped, skipped))
	}
	return errs
}
