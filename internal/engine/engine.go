package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/roach88/grund/internal/directive"
	"github.com/roach88/grund/internal/journal"
	"github.com/roach88/grund/internal/manifest"
	"github.com/roach88/grund/internal/runner"
	"github.com/roach88/grund/internal/vlog"
	"github.com/roach88/grund/internal/watermark"
)

// Settings holds the protocol names the engine reads and writes.
type Settings struct {
	CommandPrefix string
	Marker        string
	Manifest      string
	WatermarkFile string
	RunnerScript  string
}

// DefaultSettings returns the conventional names.
func DefaultSettings() Settings {
	return Settings{
		CommandPrefix: directive.DefaultPrefix,
		Marker:        "GRUND:",
		Manifest:      manifest.DefaultName,
		WatermarkFile: watermark.DefaultFile,
		RunnerScript:  runner.DefaultScript,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.CommandPrefix == "" {
		s.CommandPrefix = d.CommandPrefix
	}
	if s.Marker == "" {
		s.Marker = d.Marker
	}
	if s.Manifest == "" {
		s.Manifest = d.Manifest
	}
	if s.WatermarkFile == "" {
		s.WatermarkFile = d.WatermarkFile
	}
	if s.RunnerScript == "" {
		s.RunnerScript = d.RunnerScript
	}
	return s
}

func (s Settings) reserved() manifest.Reserved {
	return manifest.Reserved{
		CommandPrefix: s.CommandPrefix,
		Manifest:      s.Manifest,
		Runner:        s.RunnerScript,
	}
}

// Project is the pair of logs the engine processes together.
type Project struct {
	Name    string
	Jobs    vlog.Log
	Results vlog.Log
}

// Journal records batches. *journal.Store implements it.
type Journal interface {
	BeginBatch(ctx context.Context, b journal.Batch) error
	FinishBatch(ctx context.Context, b journal.Batch) error
	RecordDirective(ctx context.Context, d journal.DirectiveRecord) error
	RecordPublish(ctx context.Context, p journal.PublishRecord) error
}

type nopJournal struct{}

func (nopJournal) BeginBatch(context.Context, journal.Batch) error                { return nil }
func (nopJournal) FinishBatch(context.Context, journal.Batch) error               { return nil }
func (nopJournal) RecordDirective(context.Context, journal.DirectiveRecord) error { return nil }
func (nopJournal) RecordPublish(context.Context, journal.PublishRecord) error     { return nil }

// ProjectCreator runs the external project bootstrap for newproj-server.
type ProjectCreator interface {
	CreateProject(ctx context.Context, name string) error
}

// ProjectCreatorFunc adapts a function to ProjectCreator.
type ProjectCreatorFunc func(ctx context.Context, name string) error

func (f ProjectCreatorFunc) CreateProject(ctx context.Context, name string) error {
	return f(ctx, name)
}

// ActionCreator runs a runner.Action with the project name appended.
func ActionCreator(a runner.Action) ProjectCreator {
	return ProjectCreatorFunc(func(ctx context.Context, name string) error {
		out, err := a.Run(ctx, name)
		if len(out) > 0 {
			slog.Debug("project bootstrap output", "project", name, "output", string(out))
		}
		return err
	})
}

// Engine dispatches command directives found in a project's jobs log.
type Engine struct {
	settings   Settings
	runner     runner.Runner
	newProject ProjectCreator
	journal    Journal
	ids        IDGenerator
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithRunner sets the job runner. Default: runner.NewExec with the
// configured script and python3.
func WithRunner(r runner.Runner) Option {
	return func(e *Engine) { e.runner = r }
}

// WithProjectCreator sets the newproj-server action.
func WithProjectCreator(c ProjectCreator) Option {
	return func(e *Engine) { e.newProject = c }
}

// WithJournal records every batch in j.
func WithJournal(j Journal) Option {
	return func(e *Engine) {
		if j != nil {
			e.journal = j
		}
	}
}

// WithIDGenerator sets the batch ID source. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithNow sets the wall clock used for journal and console timestamps.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine.
func New(s Settings, opts ...Option) *Engine {
	s = s.withDefaults()
	e := &Engine{
		settings: s,
		journal:  nopJournal{},
		ids:      UUIDv7Generator{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.runner == nil {
		e.runner = runner.NewExec(s.RunnerScript, runner.DefaultInterpreter)
	}
	return e
}

// Settings returns the effective settings.
func (e *Engine) Settings() Settings { return e.settings }

// Outcome is the result of one dispatched directive. Err is nil when the
// directive was applied and a skip error otherwise.
type Outcome struct {
	Seq       int64               `json:"seq"`
	Directive directive.Directive `json:"-"`
	Revision  string              `json:"revision"`
	Verb      string              `json:"verb"`
	JobDir    string              `json:"job_dir"`
	Err       error               `json:"-"`
	Error     string              `json:"error,omitempty"`
}

// Applied reports whether the directive took effect.
func (o Outcome) Applied() bool { return o.Err == nil }

// Publication is one successful publish.
type Publication struct {
	Log    string `json:"log"`
	Target string `json:"target"`
	Commit string `json:"commit"`
}

// Report summarizes one batch.
type Report struct {
	BatchID string `json:"batch_id"`
	Project string `json:"project"`
	Status  string `json:"status"`

	// From and Target bound the processed jobs range.
	From   string `json:"from,omitempty"`
	Target string `json:"target,omitempty"`

	Revisions     int           `json:"revisions"`
	SelfRevisions int           `json:"self_revisions"`
	Outcomes      []Outcome     `json:"outcomes"`
	Published     []Publication `json:"published"`
}

// Skipped returns the number of directives that did not take effect.
func (r *Report) Skipped() int {
	n := 0
	for _, o := range r.Outcomes {
		if !o.Applied() {
			n++
		}
	}
	return n
}

// batch is the state of one pass over a project.
type batch struct {
	id      string
	project Project
	clock   *Clock
	report  *Report

	jobsMark    watermark.Store
	resultsMark watermark.Store

	// resultsDirty is set once a handler stages a path in the results log.
	resultsDirty bool
}

func (e *Engine) marks(p Project) (jobs, results watermark.Store) {
	return watermark.NewFileStore(p.Jobs.Dir(), e.settings.WatermarkFile),
		watermark.NewFileStore(p.Results.Dir(), e.settings.WatermarkFile)
}

// validate checks that both logs are present and their working copies
// exist.
func validate(p Project) error {
	if p.Jobs == nil || p.Results == nil {
		return NewInvalidWorkingCopy(fmt.Sprintf("project %q needs both a jobs and a results log", p.Name), nil)
	}
	for _, l := range []vlog.Log{p.Jobs, p.Results} {
		info, err := os.Stat(l.Dir())
		if err != nil {
			return NewInvalidWorkingCopy(fmt.Sprintf("%s log of %q", l.Name(), p.Name), err)
		}
		if !info.IsDir() {
			return NewInvalidWorkingCopy(fmt.Sprintf("%s log of %q: %s is not a directory", l.Name(), p.Name, l.Dir()), nil)
		}
	}
	return nil
}

// Process runs one batch over p. The returned report is non-nil whenever
// validation passed, including when err is a sync failure.
func (e *Engine) Process(ctx context.Context, p Project) (*Report, error) {
	if err := validate(p); err != nil {
		return nil, err
	}

	b := &batch{
		id:      e.ids.Generate(),
		project: p,
		clock:   NewClock(),
		report:  &Report{Project: p.Name, Outcomes: []Outcome{}, Published: []Publication{}},
	}
	b.report.BatchID = b.id
	b.jobsMark, b.resultsMark = e.marks(p)

	e.journalErr("begin", e.journal.BeginBatch(ctx, journal.Batch{
		ID:        b.id,
		Project:   p.Name,
		Status:    journal.StatusRunning,
		StartedAt: e.now(),
	}))

	err := e.run(ctx, b)
	if err != nil {
		b.report.Status = journal.StatusFailed
	}

	fin := journal.Batch{
		ID:         b.id,
		JobsFrom:   b.report.From,
		JobsTo:     b.report.Target,
		Status:     b.report.Status,
		FinishedAt: e.now(),
	}
	if err != nil {
		fin.Error = err.Error()
	}
	e.journalErr("finish", e.journal.FinishBatch(ctx, fin))

	slog.Info("batch finished",
		"batch", b.id,
		"project", p.Name,
		"status", b.report.Status,
		"directives", len(b.report.Outcomes),
		"skipped", b.report.Skipped(),
		"seq", b.clock.Current(),
	)
	return b.report, err
}

func (e *Engine) run(ctx context.Context, b *batch) error {
	p := b.project
	for _, l := range []vlog.Log{p.Jobs, p.Results} {
		if err := l.Pull(ctx); err != nil {
			return syncError(l.Name(), "pull", err)
		}
	}

	from, ok, err := b.jobsMark.Load(ctx)
	if err != nil {
		return NewInvalidWorkingCopy("read jobs watermark", err)
	}
	if !ok {
		return e.bootstrap(ctx, b)
	}
	b.report.From = from

	rng, err := e.scan(ctx, p.Jobs, from)
	if err != nil {
		return err
	}
	b.report.Target = rng.target
	b.report.Revisions = len(rng.revisions)
	b.report.SelfRevisions = rng.self

	if len(rng.directives) == 0 {
		// Nothing to publish. The watermark stays put so the engine's own
		// publish commits never become work.
		b.report.Status = journal.StatusNoop
		return nil
	}

	for _, d := range rng.directives {
		if err := e.dispatch(ctx, b, d); err != nil {
			return err
		}
	}

	if err := e.publishBatch(ctx, b, rng.target); err != nil {
		return err
	}
	b.report.Status = journal.StatusPublished
	return nil
}

func (e *Engine) journalErr(op string, err error) {
	if err != nil {
		slog.Warn("journal write failed", "op", op, "error", err)
	}
}
