package harness

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/grund/internal/watermark"
)

// AssertionError describes a failed assertion.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

func (h *Harness) assert(a Assertion, res *Result) error {
	switch a.Type {
	case AssertFile:
		return h.assertFile(a)
	case AssertAbsent:
		full := h.path(a.Log, a.Path)
		if _, err := os.Lstat(full); err == nil {
			return &AssertionError{Type: a.Type, Expected: a.Log + ":" + a.Path + " absent", Actual: "present"}
		}
		return nil
	case AssertWatermark:
		data, err := os.ReadFile(h.path(a.Log, watermark.DefaultFile))
		if err != nil {
			return &AssertionError{Type: a.Type, Expected: a.Revision, Actual: "no watermark file"}
		}
		if got := strings.TrimSpace(string(data)); got != a.Revision {
			return &AssertionError{Type: a.Type, Expected: a.Revision, Actual: got}
		}
		return nil
	case AssertMessage:
		hist := h.log(a.Log).History()
		if got := hist[len(hist)-1].Message; got != a.Message {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%q", a.Message), Actual: fmt.Sprintf("%q", got)}
		}
		return nil
	case AssertOutcomeCount:
		n := 0
		for _, ev := range res.Trace {
			for _, o := range ev.Outcomes {
				if (o.Code == "") == (a.Outcome == "applied") {
					n++
				}
			}
		}
		if n != a.Count {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%d %s", a.Count, a.Outcome), Actual: fmt.Sprint(n)}
		}
		return nil
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func (h *Harness) path(log, rel string) string {
	return filepath.Join(h.log(log).Dir(), filepath.FromSlash(rel))
}

func (h *Harness) assertFile(a Assertion) error {
	full := h.path(a.Log, a.Path)
	data, err := os.ReadFile(full)
	if errors.Is(err, os.ErrNotExist) {
		return &AssertionError{Type: a.Type, Expected: a.Log + ":" + a.Path + " present", Actual: "missing"}
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", a.Path, err)
	}
	if a.Content != nil && string(data) != *a.Content {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%q", *a.Content), Actual: fmt.Sprintf("%q", data)}
	}
	return nil
}
