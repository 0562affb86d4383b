package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grund/internal/journal"
)

func seedJournal(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "grund.db")
	st, err := journal.Open(path)
	require.NoError(t, err)
	defer st.Close()

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, b := range []journal.Batch{
		{ID: "b1", Project: "alpha", Status: journal.StatusRunning, StartedAt: start},
		{ID: "b2", Project: "beta", Status: journal.StatusRunning, StartedAt: start.Add(time.Minute)},
	} {
		require.NoError(t, st.BeginBatch(ctx, b))
		require.NoError(t, st.RecordDirective(ctx, journal.DirectiveRecord{
			BatchID: b.ID, Seq: 1, Revision: "r1", Verb: "build", JobDir: "active/p1",
			Outcome: journal.OutcomeSkipped, Code: "MISSING_RUNNER", Message: "no job runner",
		}))
		require.NoError(t, st.RecordPublish(ctx, journal.PublishRecord{
			BatchID: b.ID, Seq: 2, Log: "jobs", Target: "r1", Commit: "c1", OK: true,
		}))
		b.Status = journal.StatusPublished
		b.JobsTo = "r1"
		b.FinishedAt = start.Add(time.Duration(i+1) * time.Minute)
		require.NoError(t, st.FinishBatch(ctx, b))
	}
	return path
}

func TestHistory_List(t *testing.T) {
	db := seedJournal(t)

	out, err := execute(t, "history", "--db", db, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Data []journal.Batch `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "b2", resp.Data[0].ID)
	assert.Equal(t, "b1", resp.Data[1].ID)
}

func TestHistory_ProjectFilterText(t *testing.T) {
	db := seedJournal(t)

	out, err := execute(t, "history", "--db", db, "--project", "alpha")

	require.NoError(t, err)
	assert.Contains(t, out, "b1")
	assert.NotContains(t, out, "b2")
}

func TestHistory_BatchDetail(t *testing.T) {
	db := seedJournal(t)

	out, err := execute(t, "history", "--db", db, "--batch", "b1")

	require.NoError(t, err)
	assert.Contains(t, out, "Batch b1 (alpha)")
	assert.Contains(t, out, "(MISSING_RUNNER)")
	assert.Contains(t, out, "jobs")
}

func TestHistory_UnknownBatch(t *testing.T) {
	db := seedJournal(t)

	_, err := execute(t, "history", "--db", db, "--batch", "nope")

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestHistory_NoJournal(t *testing.T) {
	_, err := execute(t, "history")

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
