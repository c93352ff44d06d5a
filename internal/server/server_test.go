package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeneralBots/BotServer-sub001/internal/channel"
	"github.com/GeneralBots/BotServer-sub001/internal/engine"
	"github.com/GeneralBots/BotServer-sub001/internal/sandbox"
	"github.com/GeneralBots/BotServer-sub001/internal/testutil"
)

const greet = `PARAM name AS STRING LIKE "Maria"
DESCRIPTION Greets a user
TALK "Hello, " + name
HEAR answer
SET SCHEDULE "0 0 * * * *"
`

func setupServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	dir := t.TempDir()
	tr := NewTranscripts()
	eng, err := engine.New(engine.Config{
		ScriptsDir: dir,
		OutputDir:  filepath.Join(dir, ".gbasic"),
		StatePath:  ":memory:",
		Logger:     testutil.NewTestLogger(t),
		Pool:       sandbox.PoolConfig{Limits: sandbox.Limits{Timeout: 10 * time.Second}},
		Channels: func(string, channel.TableStore) (channel.Set, error) {
			return channel.Set{channel.Dialog: tr}, nil
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	srv := httptest.NewServer(New(Config{Engine: eng, Transcripts: tr, Logger: testutil.NewTestLogger(t)}).Handler())
	t.Cleanup(srv.Close)
	return srv, dir
}

func post(t *testing.T, url string, body any, out any) int {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func get(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestServer_CompileAndRun(t *testing.T) {
	srv, _ := setupServer(t)

	var prog map[string]any
	status := post(t, srv.URL+"/compile", CompileRequest{Name: "greet", Source: greet}, &prog)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "greet", prog["name"])

	var res RunResponse
	status = post(t, srv.URL+"/run/greet", RunRequest{
		Args:    map[string]any{"name": "Ana"},
		Answers: []string{"thanks"},
	}, &res)
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, res.Session)
	assert.Equal(t, []string{"Hello, Ana", "> thanks"}, res.Transcript)

	var jobs []jobInfo
	require.Equal(t, http.StatusOK, get(t, srv.URL+"/schedules", &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, "greet#1", jobs[0].ID)

	var runs []map[string]any
	require.Equal(t, http.StatusOK, get(t, srv.URL+"/runs?script=greet", &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "api", runs[0]["trigger"])
	assert.Equal(t, "success", runs[0]["status"])
}

func TestServer_Errors(t *testing.T) {
	srv, dir := setupServer(t)
	path := filepath.Join(dir, "crash.bas")
	require.NoError(t, os.WriteFile(path, []byte("TALK \"a\"\nn = 0\nx = 1 / n\n"), 0o644))
	require.Equal(t, http.StatusOK, post(t, srv.URL+"/compile", CompileRequest{Path: path}, nil))
	require.Equal(t, http.StatusOK, post(t, srv.URL+"/compile", CompileRequest{Name: "greet", Source: greet}, nil))

	tests := []struct {
		name       string
		url        string
		body       any
		wantStatus int
		wantKind   string
		wantLine   int
	}{
		{
			name:       "compile error",
			url:        "/compile",
			body:       CompileRequest{Name: "bad", Source: "TALK \"a\"\nIF a THEN\nTALK a\n"},
			wantStatus: http.StatusUnprocessableEntity,
			wantKind:   "parse",
		},
		{
			name:       "missing source",
			url:        "/compile",
			body:       CompileRequest{Name: "x"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown script",
			url:        "/run/nope",
			body:       RunRequest{},
			wantStatus: http.StatusNotFound,
			wantKind:   "not_found",
		},
		{
			name:       "runtime error",
			url:        "/run/crash",
			body:       RunRequest{},
			wantStatus: http.StatusUnprocessableEntity,
			wantKind:   "script",
			wantLine:   3,
		},
		{
			name:       "conversation ended",
			url:        "/run/greet",
			body:       RunRequest{Args: map[string]any{"name": "Ana"}},
			wantStatus: http.StatusUnprocessableEntity,
			wantKind:   "capability",
			wantLine:   4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp ErrorResponse
			status := post(t, srv.URL+tt.url, tt.body, &resp)
			assert.Equal(t, tt.wantStatus, status)
			assert.NotEmpty(t, resp.Error)
			if tt.wantKind != "" {
				assert.Equal(t, tt.wantKind, resp.Kind)
			}
			if tt.wantLine > 0 {
				assert.Equal(t, tt.wantLine, resp.Line)
			}
		})
	}
}

func TestServer_DebugRoutes(t *testing.T) {
	srv, _ := setupServer(t)

	var sessions []sandbox.SessionInfo
	require.Equal(t, http.StatusOK, get(t, srv.URL+"/debug/sessions/", &sessions))
	assert.Empty(t, sessions)

	var health map[string]string
	require.Equal(t, http.StatusOK, get(t, srv.URL+"/health", &health))
	assert.Equal(t, "ok", health["status"])
}

func TestTranscripts(t *testing.T) {
	tr := NewTranscripts()
	assert.Nil(t, tr.End("missing"))

	tr.Begin("s1", nil)
	h, err := tr.Open(t.Context(), channel.Session{ID: "s1"})
	require.NoError(t, err)
	_, err = h.Call(t.Context(), "talk", []any{"hi"}, nil)
	require.NoError(t, err)
	_, err = h.Call(t.Context(), "hear", nil, nil)
	require.Error(t, err, "no replies were registered")
	require.NoError(t, h.Close())

	assert.Equal(t, []string{"hi"}, tr.End("s1"))
}
