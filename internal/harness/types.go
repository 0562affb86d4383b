package harness

import "github.com/roach88/grund/internal/engine"

// Trace step kinds.
const (
	KindCommit = "commit"
	KindRun    = "run"
	KindFail   = "fail"
	KindHeal   = "heal"
)

// OutcomeTrace is the deterministic part of an engine.Outcome.
type OutcomeTrace struct {
	Verb   string `json:"verb"`
	JobDir string `json:"job_dir"`
	Code   string `json:"code,omitempty"`
}

// TraceEvent records one executed step.
type TraceEvent struct {
	Step int    `json:"step"`
	Kind string `json:"kind"`

	// Revision is the jobs revision a commit step created.
	Revision string `json:"revision,omitempty"`

	// Log and Op name the target of fail and heal steps.
	Log string `json:"log,omitempty"`
	Op  string `json:"op,omitempty"`

	Status        string               `json:"status,omitempty"`
	From          string               `json:"from,omitempty"`
	Target        string               `json:"target,omitempty"`
	Revisions     int                  `json:"revisions,omitempty"`
	SelfRevisions int                  `json:"self_revisions,omitempty"`
	Outcomes      []OutcomeTrace       `json:"outcomes,omitempty"`
	Published     []engine.Publication `json:"published,omitempty"`
	Error         string               `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is false when a step expectation or an assertion failed.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`

	// Reports holds the engine report of every run step, in order.
	Reports []*engine.Report `json:"-"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failed check and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
