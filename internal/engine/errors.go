package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/grund/internal/directive"
)

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeInvalidWorkingCopy indicates a project directory or one of its
	// logs is unusable. The whole project is skipped.
	ErrCodeInvalidWorkingCopy ErrorCode = "INVALID_WORKING_COPY"

	// ErrCodeMissingRunner indicates a job directory without a runner entry
	// point.
	ErrCodeMissingRunner ErrorCode = "MISSING_RUNNER"

	// ErrCodeRunnerFailed indicates the runner or an external action exited
	// abnormally.
	ErrCodeRunnerFailed ErrorCode = "RUNNER_FAILED"

	// ErrCodeInvalidDirective indicates a command that cannot be applied as
	// written: unknown namespace, unreadable command file, empty name.
	ErrCodeInvalidDirective ErrorCode = "INVALID_DIRECTIVE"

	// ErrCodeLifecycleConflict indicates a move whose destination already
	// holds a job directory.
	ErrCodeLifecycleConflict ErrorCode = "LIFECYCLE_CONFLICT"

	// ErrCodeStageFailed indicates a working-tree change the log refused to
	// record, such as a path its ignore rules exclude. The change is rolled
	// back and the directive skipped.
	ErrCodeStageFailed ErrorCode = "STAGE_FAILED"

	// ErrCodeSyncFailed indicates a pull, commit or push failure. The batch
	// is aborted and no watermark advances.
	ErrCodeSyncFailed ErrorCode = "SYNC_FAILED"
)

// Kind separates per-directive failures from failures that end the batch.
type Kind int

const (
	// KindSkip errors are reported and the directive is skipped.
	KindSkip Kind = iota
	// KindFatal errors abort the batch.
	KindFatal
)

func (k Kind) String() string {
	if k == KindFatal {
		return "fatal"
	}
	return "skip"
}

// Error is an error detected while processing a project.
type Error struct {
	Code    ErrorCode
	Message string

	// Log names the log involved in a sync failure.
	Log string

	// JobDir and Verb identify the directive for skip errors.
	JobDir string
	Verb   string

	Err error
}

// Kind reports whether the error skips a directive or aborts the batch.
func (e *Error) Kind() Kind {
	switch e.Code {
	case ErrCodeInvalidWorkingCopy, ErrCodeSyncFailed:
		return KindFatal
	}
	return KindSkip
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.JobDir != "":
		msg = fmt.Sprintf("%s (job=%s, verb=%s)", msg, e.JobDir, e.Verb)
	case e.Log != "":
		msg = fmt.Sprintf("%s (log=%s)", msg, e.Log)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsSkip reports whether err is a per-directive failure.
func IsSkip(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind() == KindSkip
}

// IsFatal reports whether err aborts the batch. Errors that are not *Error
// are treated as fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind() == KindFatal
	}
	return true
}

// IsCode reports whether err is an *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

func skipError(code ErrorCode, d directive.Directive, msg string, err error) *Error {
	return &Error{
		Code:    code,
		Message: msg,
		JobDir:  d.JobDir,
		Verb:    d.Name,
		Err:     err,
	}
}

func syncError(log, msg string, err error) *Error {
	return &Error{Code: ErrCodeSyncFailed, Message: msg, Log: log, Err: err}
}

// NewInvalidWorkingCopy creates an error for an unusable project.
func NewInvalidWorkingCopy(msg string, err error) *Error {
	return &Error{Code: ErrCodeInvalidWorkingCopy, Message: msg, Err: err}
}
