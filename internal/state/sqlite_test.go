package state

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeneralBots/BotServer-sub001/internal/testutil"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := Open(":memory:", testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_NotOpened(t *testing.T) {
	store := NewSQLiteStore(nil)
	ctx := context.Background()

	_, err := store.GetProgram(ctx, "x")
	assert.Error(t, err)
	_, err = store.CreateRun(ctx, "x", "", "manual")
	assert.Error(t, err)
	assert.Error(t, store.Migrate())
	assert.NoError(t, store.Close())
}

func TestSQLiteStore_MigrationVersion(t *testing.T) {
	store := setupTestStore(t)
	v, err := store.GetMigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	// re-running is a no-op
	require.NoError(t, store.Migrate())
}

func TestSQLiteStore_Programs(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	mod := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	missing, err := store.GetProgram(ctx, "greet")
	require.NoError(t, err)
	assert.Nil(t, missing)

	p := &Program{
		Name:       "greet",
		Path:       "/bots/greet.bas",
		ModTime:    mod,
		SourceHash: "abc",
		Code:       "def main():\n    pass\n",
		LineMap:    []int{0, 1, 1},
		Meta:       json.RawMessage(`{"name":"greet"}`),
	}
	require.NoError(t, store.SaveProgram(ctx, p))

	got, err := store.GetProgram(ctx, "greet")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, p.Code, got.Code)
	assert.Equal(t, []int{0, 1, 1}, got.LineMap)
	assert.JSONEq(t, `{"name":"greet"}`, string(got.Meta))
	assert.True(t, mod.Equal(got.ModTime))

	p.SourceHash = "def"
	p.Meta = nil
	require.NoError(t, store.SaveProgram(ctx, p))
	got, err = store.GetProgram(ctx, "greet")
	require.NoError(t, err)
	assert.Equal(t, "def", got.SourceHash)
	assert.JSONEq(t, `{}`, string(got.Meta))

	require.NoError(t, store.SaveProgram(ctx, &Program{Name: "alpha", SourceHash: "1", LineMap: []int{}}))
	all, err := store.ListPrograms(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "alpha", all[0].Name)

	require.NoError(t, store.ReplaceSchedules(ctx, "greet", []Schedule{{Seq: 1, Cron: "@daily"}}))
	require.NoError(t, store.DeleteProgram(ctx, "greet"))
	got, err = store.GetProgram(ctx, "greet")
	require.NoError(t, err)
	assert.Nil(t, got)
	schedules, err := store.ListSchedules(ctx)
	require.NoError(t, err)
	assert.Empty(t, schedules)
}

func TestSQLiteStore_Schedules(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ReplaceSchedules(ctx, "report", []Schedule{
		{Seq: 1, Cron: "0 9 * * *", Line: 2},
		{Seq: 2, Cron: "@hourly", Line: 3},
	}))
	require.NoError(t, store.ReplaceSchedules(ctx, "backup", []Schedule{{Seq: 1, Cron: "@daily", Line: 1}}))

	all, err := store.ListSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "backup", all[0].Owner)
	assert.Equal(t, "report", all[1].Owner)
	assert.Equal(t, 2, all[1].Line)

	// recompiling replaces, never accumulates
	require.NoError(t, store.ReplaceSchedules(ctx, "report", []Schedule{{Seq: 1, Cron: "*/5 * * * *", Line: 4}}))
	all, err = store.ListSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "*/5 * * * *", all[1].Cron)

	require.NoError(t, store.ReplaceSchedules(ctx, "report", nil))
	all, err = store.ListSchedules(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLiteStore_Runs(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		status  RunStatus
		errKind string
		errMsg  string
	}{
		{name: "success", status: RunStatusSuccess},
		{name: "script error", status: RunStatusFailed, errKind: "script", errMsg: "line 3: division by zero"},
		{name: "timeout", status: RunStatusFailed, errKind: "timeout", errMsg: "exceeded 30s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run, err := store.CreateRun(ctx, "greet", "acme", "manual")
			require.NoError(t, err)
			assert.Equal(t, RunStatusRunning, run.Status)
			assert.NotEmpty(t, run.ID)

			require.NoError(t, store.CompleteRun(ctx, run.ID, tt.status, tt.errKind, tt.errMsg))

			got, err := store.GetRun(ctx, run.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.status, got.Status)
			assert.Equal(t, tt.errKind, got.ErrorKind)
			assert.Equal(t, tt.errMsg, got.Error)
			assert.Equal(t, "acme", got.Tenant)
			require.NotNil(t, got.CompletedAt)
		})
	}

	_, err := store.CreateRun(ctx, "other", "", "schedule")
	require.NoError(t, err)

	runs, err := store.ListRuns(ctx, "greet", 0)
	require.NoError(t, err)
	assert.Len(t, runs, 3)

	runs, err = store.ListRuns(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	_, err = store.GetRun(ctx, "missing")
	assert.Error(t, err)
	assert.Error(t, store.CompleteRun(ctx, "missing", RunStatusSuccess, "", ""))
}

func TestSQLiteStore_Tokens(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	got, err := store.GetTokens(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, store.SaveTokens(ctx, "acme", map[string]Token{
		"erp": {Value: "t1", Expiry: 100},
		"crm": {Value: "t2", Expiry: 200},
	}))
	require.NoError(t, store.SaveTokens(ctx, "acme", map[string]Token{"erp": {Value: "t3", Expiry: 300}}))
	require.NoError(t, store.SaveTokens(ctx, "other", map[string]Token{"erp": {Value: "x", Expiry: 1}}))

	got, err = store.GetTokens(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, map[string]Token{
		"erp": {Value: "t3", Expiry: 300},
		"crm": {Value: "t2", Expiry: 200},
	}, got)
}

func TestSQLiteStore_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, store.SaveProgram(context.Background(), &Program{Name: "a", LineMap: []int{}}))
	require.NoError(t, store.Close())

	store, err = Open(path, nil)
	require.NoError(t, err)
	defer store.Close()
	assert.Equal(t, path, store.Path())
	got, err := store.GetProgram(context.Background(), "a")
	require.NoError(t, err)
	assert.NotNil(t, got)
}
