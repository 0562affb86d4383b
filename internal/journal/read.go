package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// RecentBatches returns up to limit batches, newest first. An empty project
// matches every project.
func (s *Store) RecentBatches(ctx context.Context, project string, limit int) ([]Batch, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project, jobs_from, jobs_to, status, error, started_at, finished_at
		FROM batches
		WHERE ? = '' OR project = ?
		ORDER BY n DESC
		LIMIT ?
	`, project, project, limit)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	batches := []Batch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return batches, nil
}

// ReadBatch returns one batch by ID. Returns sql.ErrNoRows when missing.
func (s *Store) ReadBatch(ctx context.Context, id string) (Batch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project, jobs_from, jobs_to, status, error, started_at, finished_at
		FROM batches
		WHERE id = ?
	`, id)
	b, err := scanBatch(row)
	if err != nil {
		return Batch{}, err
	}
	return b, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(row scanner) (Batch, error) {
	var b Batch
	var started, finished string
	if err := row.Scan(&b.ID, &b.Project, &b.JobsFrom, &b.JobsTo, &b.Status, &b.Error, &started, &finished); err != nil {
		if err == sql.ErrNoRows {
			return Batch{}, err
		}
		return Batch{}, fmt.Errorf("scan batch: %w", err)
	}
	var err error
	if b.StartedAt, err = parseTime(started); err != nil {
		return Batch{}, fmt.Errorf("scan batch %s: started_at: %w", b.ID, err)
	}
	if b.FinishedAt, err = parseTime(finished); err != nil {
		return Batch{}, fmt.Errorf("scan batch %s: finished_at: %w", b.ID, err)
	}
	return b, nil
}

// Directives returns a batch's directive outcomes in dispatch order.
func (s *Store) Directives(ctx context.Context, batchID string) ([]DirectiveRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT batch_id, seq, revision, verb, job_dir, outcome, code, message
		FROM directives
		WHERE batch_id = ?
		ORDER BY seq ASC, id ASC
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query directives: %w", err)
	}
	defer rows.Close()

	out := []DirectiveRecord{}
	for rows.Next() {
		var d DirectiveRecord
		if err := rows.Scan(&d.BatchID, &d.Seq, &d.Revision, &d.Verb, &d.JobDir, &d.Outcome, &d.Code, &d.Message); err != nil {
			return nil, fmt.Errorf("scan directive: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate directives: %w", err)
	}
	return out, nil
}

// Publishes returns a batch's publish attempts in order.
func (s *Store) Publishes(ctx context.Context, batchID string) ([]PublishRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT batch_id, seq, log, target, commit_id, ok, error
		FROM publishes
		WHERE batch_id = ?
		ORDER BY seq ASC, id ASC
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query publishes: %w", err)
	}
	defer rows.Close()

	out := []PublishRecord{}
	for rows.Next() {
		var p PublishRecord
		var ok int
		if err := rows.Scan(&p.BatchID, &p.Seq, &p.Log, &p.Target, &p.Commit, &ok, &p.Error); err != nil {
			return nil, fmt.Errorf("scan publish: %w", err)
		}
		p.OK = ok != 0
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate publishes: %w", err)
	}
	return out, nil
}
