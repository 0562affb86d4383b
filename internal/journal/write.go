package journal

import (
	"context"
	"fmt"
	"time"
)

// Batch statuses.
const (
	StatusRunning   = "running"
	StatusBootstrap = "bootstrap"
	StatusNoop      = "noop"
	StatusPublished = "published"
	StatusFailed    = "failed"
)

// Directive outcomes.
const (
	OutcomeApplied = "applied"
	OutcomeSkipped = "skipped"
)

// Batch is one engine pass over a project.
type Batch struct {
	ID         string    `json:"id"`
	Project    string    `json:"project"`
	JobsFrom   string    `json:"jobs_from,omitempty"`
	JobsTo     string    `json:"jobs_to,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// DirectiveRecord is the outcome of one dispatched directive.
type DirectiveRecord struct {
	BatchID  string `json:"batch_id"`
	Seq      int64  `json:"seq"`
	Revision string `json:"revision"`
	Verb     string `json:"verb"`
	JobDir   string `json:"job_dir"`
	Outcome  string `json:"outcome"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
}

// PublishRecord is one commit/push attempt on a log.
type PublishRecord struct {
	BatchID string `json:"batch_id"`
	Seq     int64  `json:"seq"`
	Log     string `json:"log"`
	Target  string `json:"target"`
	Commit  string `json:"commit,omitempty"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// BeginBatch inserts a batch row. The status defaults to StatusRunning.
func (s *Store) BeginBatch(ctx context.Context, b Batch) error {
	if b.Status == "" {
		b.Status = StatusRunning
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batches (id, project, jobs_from, jobs_to, status, error, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.Project, b.JobsFrom, b.JobsTo, b.Status, b.Error, formatTime(b.StartedAt))
	if err != nil {
		return fmt.Errorf("begin batch %s: %w", b.ID, err)
	}
	return nil
}

// FinishBatch records the final status of a batch along with the revision
// range it covered.
func (s *Store) FinishBatch(ctx context.Context, b Batch) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE batches
		SET jobs_from = ?, jobs_to = ?, status = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, b.JobsFrom, b.JobsTo, b.Status, b.Error, formatTime(b.FinishedAt), b.ID)
	if err != nil {
		return fmt.Errorf("finish batch %s: %w", b.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish batch %s: rows affected: %w", b.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("finish batch %s: not found", b.ID)
	}
	return nil
}

// RecordDirective appends a directive outcome. Duplicate (batch, seq) pairs
// are ignored.
func (s *Store) RecordDirective(ctx context.Context, d DirectiveRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO directives (batch_id, seq, revision, verb, job_dir, outcome, code, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(batch_id, seq) DO NOTHING
	`, d.BatchID, d.Seq, d.Revision, d.Verb, d.JobDir, d.Outcome, d.Code, d.Message)
	if err != nil {
		return fmt.Errorf("record directive: %w", err)
	}
	return nil
}

// RecordPublish appends a publish attempt. Duplicate (batch, seq) pairs are
// ignored.
func (s *Store) RecordPublish(ctx context.Context, p PublishRecord) error {
	ok := 0
	if p.OK {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO publishes (batch_id, seq, log, target, commit_id, ok, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(batch_id, seq) DO NOTHING
	`, p.BatchID, p.Seq, p.Log, p.Target, p.Commit, ok, p.Error)
	if err != nil {
		return fmt.Errorf("record publish: %w", err)
	}
	return nil
}
