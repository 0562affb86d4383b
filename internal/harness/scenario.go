package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted sequence of steps on one project.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Steps run in order on a fresh project.
	Steps []Step `yaml:"steps"`

	// Assertions check the final working trees and the trace.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is exactly one of Commit, Run, Fail or Heal.
type Step struct {
	Commit *CommitStep `yaml:"commit,omitempty"`
	Run    *RunStep    `yaml:"run,omitempty"`
	Fail   *FaultStep  `yaml:"fail,omitempty"`
	Heal   *FaultStep  `yaml:"heal,omitempty"`

	// Expect is checked against the report of a run step.
	Expect *Expect `yaml:"expect,omitempty"`
}

// CommitStep appends a user revision to the jobs log.
type CommitStep struct {
	Message string            `yaml:"message"`
	Files   map[string]string `yaml:"files,omitempty"`
	Remove  []string          `yaml:"remove,omitempty"`

	// Runner lists job directories that get the test job runner script.
	Runner []string `yaml:"runner,omitempty"`
}

// RunStep processes one batch.
type RunStep struct{}

// FaultStep makes a sync operation on one log fail (fail) or succeed
// again (heal).
type FaultStep struct {
	Log string `yaml:"log"`
	Op  string `yaml:"op"`
}

// Expect is a subset match on a run report.
type Expect struct {
	Status  string `yaml:"status,omitempty"`
	Error   string `yaml:"error,omitempty"`
	Applied *int   `yaml:"applied,omitempty"`
	Skipped *int   `yaml:"skipped,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Log is "jobs" or "results".
	Log  string `yaml:"log,omitempty"`
	Path string `yaml:"path,omitempty"`

	// Content is compared exactly when set (file).
	Content *string `yaml:"content,omitempty"`

	// Revision is the expected watermark (watermark).
	Revision string `yaml:"revision,omitempty"`

	// Message is the expected last commit message (message).
	Message string `yaml:"message,omitempty"`

	// Outcome is "applied" or "skipped" and Count the expected number of
	// such outcomes over all runs (outcome_count).
	Outcome string `yaml:"outcome,omitempty"`
	Count   int    `yaml:"count,omitempty"`
}

// Assertion types.
const (
	AssertFile         = "file"
	AssertAbsent       = "absent"
	AssertWatermark    = "watermark"
	AssertMessage      = "message"
	AssertOutcomeCount = "outcome_count"
)

// Sync operations a fault step can target.
const (
	OpPull = "pull"
	OpPush = "push"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step) error {
	n := 0
	for _, set := range []bool{step.Commit != nil, step.Run != nil, step.Fail != nil, step.Heal != nil} {
		if set {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("steps[%d]: exactly one of commit, run, fail, heal is required", i)
	}
	if step.Expect != nil && step.Run == nil {
		return fmt.Errorf("steps[%d]: expect is only valid on run steps", i)
	}

	switch {
	case step.Commit != nil:
		if step.Commit.Message == "" {
			return fmt.Errorf("steps[%d].commit: message is required", i)
		}
	case step.Fail != nil:
		return validateFault(i, "fail", step.Fail)
	case step.Heal != nil:
		return validateFault(i, "heal", step.Heal)
	}
	return nil
}

func validateFault(i int, kind string, f *FaultStep) error {
	if !validLog(f.Log) {
		return fmt.Errorf("steps[%d].%s: log must be jobs or results, got %q", i, kind, f.Log)
	}
	if f.Op != OpPull && f.Op != OpPush {
		return fmt.Errorf("steps[%d].%s: op must be pull or push, got %q", i, kind, f.Op)
	}
	return nil
}

func validLog(name string) bool {
	return name == "jobs" || name == "results"
}

func validateAssertion(i int, a Assertion) error {
	switch a.Type {
	case AssertFile, AssertAbsent:
		if !validLog(a.Log) || a.Path == "" {
			return fmt.Errorf("assertions[%d]: %s needs log and path", i, a.Type)
		}
	case AssertWatermark:
		if !validLog(a.Log) || a.Revision == "" {
			return fmt.Errorf("assertions[%d]: watermark needs log and revision", i)
		}
	case AssertMessage:
		if !validLog(a.Log) || a.Message == "" {
			return fmt.Errorf("assertions[%d]: message needs log and message", i)
		}
	case AssertOutcomeCount:
		if a.Outcome != "applied" && a.Outcome != "skipped" {
			return fmt.Errorf("assertions[%d]: outcome must be applied or skipped", i)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", i)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}
	return nil
}
