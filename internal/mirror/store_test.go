package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/exact-go/internal/odata"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "mirror.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestOpen_MigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.db")

	s, err := Open(context.Background(), path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(context.Background(), path, nil)
	require.NoError(t, err)
	defer s.Close()

	var version int64
	require.NoError(t, s.db.QueryRow("SELECT MAX(version_id) FROM goose_db_version").Scan(&version))
	assert.Equal(t, int64(1), version)
}

func TestUpsertRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stored, skipped, err := s.UpsertRecords(ctx, "accounts", "ID", "run-1", []odata.Record{
		{"ID": "b", "Name": "Beta"},
		{"ID": "a", "Name": "Alpha", "Balance": json.Number("12.50")},
		{"Name": "no key"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stored)
	assert.Equal(t, 1, skipped)

	// Same key again replaces the record.
	_, _, err = s.UpsertRecords(ctx, "accounts", "ID", "run-2", []odata.Record{{"ID": "b", "Name": "Beta 2"}})
	require.NoError(t, err)

	n, err := s.Count(ctx, "accounts")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	recs, err := s.Records(ctx, "accounts")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "Alpha", recs[0]["Name"])
	assert.Equal(t, json.Number("12.50"), recs[0]["Balance"])
	assert.Equal(t, "Beta 2", recs[1]["Name"])

	n, err = s.Count(ctx, "contacts")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpsertRecords_NumericKey(t *testing.T) {
	s := newTestStore(t)

	_, _, err := s.UpsertRecords(context.Background(), "divisions", "Code", "run-1", []odata.Record{
		{"Code": json.Number("42"), "Description": "Main"},
		{"Code": float64(7), "Description": "Other"},
	})
	require.NoError(t, err)

	var ids []string

	rows, err := s.db.Query("SELECT id FROM records WHERE resource = 'divisions' ORDER BY id")
	require.NoError(t, err)
	defer rows.Close()

	for rows.Next() {
		var id string
		require.NoError(t, rows.Scan(&id))
		ids = append(ids, id)
	}

	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"42", "7"}, ids)
}

func TestPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.UpsertRecords(ctx, "items", "ID", "old", []odata.Record{{"ID": "1"}, {"ID": "2"}})
	require.NoError(t, err)

	_, _, err = s.UpsertRecords(ctx, "items", "ID", "new", []odata.Record{{"ID": "2"}})
	require.NoError(t, err)

	_, _, err = s.UpsertRecords(ctx, "accounts", "ID", "old", []odata.Record{{"ID": "9"}})
	require.NoError(t, err)

	pruned, err := s.Prune(ctx, "items", "new")
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	n, err := s.Count(ctx, "accounts")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.UnixMilli(1_700_000_000_000)
	s.nowFunc = func() time.Time { return now }

	last, err := s.LastRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	require.NoError(t, s.BeginRun(ctx, "r1", []string{"accounts", "items"}))

	run, err := s.Run(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, run.Status)
	assert.True(t, run.FinishedAt.IsZero())
	assert.Equal(t, []string{"accounts", "items"}, run.Resources)

	now = now.Add(time.Minute)
	require.NoError(t, s.FinishRun(ctx, "r1", StatusFailed, 12, errors.New("boom")))

	require.NoError(t, s.BeginRun(ctx, "r2", []string{"contacts"}))
	require.NoError(t, s.FinishRun(ctx, "r2", StatusOK, 3, nil))

	last, err = s.LastRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r2", last.ID)
	assert.Empty(t, last.Error)

	run, err = s.Run(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, 12, run.Records)
	assert.Equal(t, "boom", run.Error)
	assert.True(t, run.FinishedAt.Equal(now))

	missing, err := s.Run(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
