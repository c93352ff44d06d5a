package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeneralBots/BotServer-sub001/internal/channel"
	"github.com/GeneralBots/BotServer-sub001/internal/compiler"
	"github.com/GeneralBots/BotServer-sub001/internal/testutil"
)

type fakeChannel struct {
	name string

	mu     sync.Mutex
	opened int
	closed int
	calls  []string
	// results are returned by method name; nil otherwise.
	results map[string]any
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Open(context.Context, channel.Session) (channel.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	return &fakeHandle{ch: f}, nil
}

func (f *fakeChannel) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened, f.closed
}

type fakeHandle struct{ ch *fakeChannel }

func (h *fakeHandle) Call(_ context.Context, method string, _ []any, _ map[string]any) (any, error) {
	h.ch.mu.Lock()
	defer h.ch.mu.Unlock()
	h.ch.calls = append(h.ch.calls, method)
	return h.ch.results[method], nil
}

func (h *fakeHandle) Close() error {
	h.ch.mu.Lock()
	defer h.ch.mu.Unlock()
	h.ch.closed++
	return nil
}

func fakeSet() (channel.Set, map[string]*fakeChannel) {
	set := channel.Set{}
	fakes := map[string]*fakeChannel{}
	for _, name := range channel.Names {
		f := &fakeChannel{name: name}
		set[name] = f
		fakes[name] = f
	}
	return set, fakes
}

func compile(t *testing.T, name, src string) *compiler.Program {
	t.Helper()
	prog, err := compiler.Compile(src, compiler.Options{Name: name})
	require.NoError(t, err)
	return prog
}

func newPool(t *testing.T, cfg PoolConfig) (*Pool, map[string]*fakeChannel) {
	t.Helper()
	set, fakes := fakeSet()
	p := NewPool("acme", cfg, set, testutil.NewTestLogger(t))
	t.Cleanup(p.Close)
	return p, fakes
}

func assertAllClosed(t *testing.T, fakes map[string]*fakeChannel) {
	t.Helper()
	for name, f := range fakes {
		opened, closed := f.counts()
		assert.Equal(t, opened, closed, name)
	}
}

func TestPool_Run(t *testing.T) {
	p, fakes := newPool(t, PoolConfig{})
	prog := compile(t, "greet", "TALK \"Hello\"\nresult = \"done\"\n")

	res, err := p.Run(context.Background(), Request{Program: prog, Session: channel.Session{ID: "s1"}})
	require.NoError(t, err)
	assert.Equal(t, "s1", res.SessionID)
	assert.Equal(t, "done", res.Value)
	assert.False(t, res.Exited)
	assert.Positive(t, res.Steps)
	assert.Equal(t, []string{"talk"}, fakes[channel.Dialog].calls)
	assertAllClosed(t, fakes)
	assert.Empty(t, p.Sessions())
}

func TestPool_Errors(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		limits Limits
		allow  Allow
		check  func(t *testing.T, err error)
	}{
		{
			name:   "timeout",
			src:    "n = 0\nDO WHILE 1 = 1\n  n = n + 1\nLOOP\n",
			limits: Limits{Timeout: 50 * time.Millisecond},
			check: func(t *testing.T, err error) {
				var le *LimitError
				require.ErrorAs(t, err, &le)
				assert.Equal(t, LimitTimeout, le.Kind)
				assert.Equal(t, "loop", le.Script)
			},
		},
		{
			name:   "steps",
			src:    "n = 0\nDO WHILE 1 = 1\n  n = n + 1\nLOOP\n",
			limits: Limits{MaxSteps: 10_000, Timeout: 10 * time.Second},
			check: func(t *testing.T, err error) {
				var le *LimitError
				require.ErrorAs(t, err, &le)
				assert.Equal(t, LimitSteps, le.Kind)
			},
		},
		{
			name:   "script error",
			src:    "TALK \"a\"\nn = 0\nx = 1 / n\n",
			limits: Limits{Timeout: 10 * time.Second},
			check: func(t *testing.T, err error) {
				var se *ScriptError
				require.ErrorAs(t, err, &se)
				assert.Equal(t, 3, se.Line)
				assert.Contains(t, se.Backtrace(), "loop:3")
				assert.Equal(t, "script", Kind(err))
			},
		},
		{
			name:   "builtin not in list",
			src:    "x = UCASE(\"a\")\n",
			limits: Limits{Timeout: 10 * time.Second},
			allow:  Allow{"dialog.*"},
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "upper is not allowed in this sandbox")
				assert.Equal(t, "script", Kind(err))
			},
		},
		{
			name:   "disallowed channel",
			src:    "TALK \"a\"\n",
			limits: Limits{Timeout: 10 * time.Second},
			allow:  Allow{"system.*"},
			check: func(t *testing.T, err error) {
				var callErr *channel.CallError
				require.ErrorAs(t, err, &callErr)
				assert.Equal(t, "talk", callErr.Method)
				assert.Equal(t, "capability", Kind(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, fakes := newPool(t, PoolConfig{Limits: tt.limits, Allow: tt.allow})
			_, err := p.Run(context.Background(), Request{Program: compile(t, "loop", tt.src)})
			require.Error(t, err)
			tt.check(t, err)
			assertAllClosed(t, fakes)
		})
	}
}

func TestPool_AllowListKeepsGeneratedBuiltins(t *testing.T) {
	src := `PARAM city AS STRING
WAIT 0
rows = GET "https://api.example.com/rows"
FOR EACH row IN rows
  TALK row
NEXT
result = UCASE(city)
`
	p, fakes := newPool(t, PoolConfig{
		Limits: Limits{Timeout: 10 * time.Second},
		Allow:  Allow{"dialog.talk", "system.get_http", "upper"},
	})
	fakes[channel.System].results = map[string]any{
		"get_http": map[string]any{"status": 200, "data": []any{"a", "b"}},
	}

	res, err := p.Run(context.Background(), Request{
		Program: compile(t, "allowed", src),
		Params:  map[string]any{"city": "lisbon"},
	})
	require.NoError(t, err)
	assert.Equal(t, "LISBON", res.Value)
	assert.Equal(t, []string{"talk", "talk"}, fakes[channel.Dialog].calls)
	assert.Equal(t, []string{"get_http"}, fakes[channel.System].calls)
}

func TestPool_ForEachOverPlainGet(t *testing.T) {
	src := `data = GET "https://api.example.com/items"
n = 0
FOR EACH row IN data
  n = n + row.id
NEXT
result = n
`
	for _, mode := range []string{"none", "auto"} {
		t.Run(mode, func(t *testing.T) {
			p, fakes := newPool(t, PoolConfig{Limits: Limits{Timeout: 10 * time.Second}})
			fakes[channel.System].results = map[string]any{
				"get_http": map[string]any{
					"status": 200,
					"data":   []any{map[string]any{"id": 1}, map[string]any{"id": 2}, map[string]any{"id": 3}},
				},
			}

			res, err := p.Run(context.Background(), Request{Program: compile(t, "items", src), PageMode: mode})
			require.NoError(t, err)
			assert.EqualValues(t, 6, res.Value)
			assert.Equal(t, []string{"get_http"}, fakes[channel.System].calls)
		})
	}
}

func TestPool_Hydration(t *testing.T) {
	src := `PARAM city AS STRING
PARAM lang AS STRING
result = city + "/" + lang + "/" + entities.PRODUCT + "/" + params.Region
`
	p, _ := newPool(t, PoolConfig{})
	res, err := p.Run(context.Background(), Request{
		Program:  compile(t, "hydrate", src),
		Args:     map[string]any{"city": "Lisbon"},
		Params:   map[string]any{"city": "Porto", "lang": "pt", "region": "eu"},
		Entities: map[string]any{"product": "tea"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Lisbon/pt/tea/eu", res.Value)
}

func TestPool_Exit(t *testing.T) {
	p, fakes := newPool(t, PoolConfig{})
	res, err := p.Run(context.Background(), Request{Program: compile(t, "bye", "TALK \"a\"\nEXIT\nTALK \"b\"\n")})
	require.NoError(t, err)
	assert.True(t, res.Exited)
	assert.Equal(t, []string{"talk"}, fakes[channel.Dialog].calls)
}

func TestPool_Kill(t *testing.T) {
	p, fakes := newPool(t, PoolConfig{Limits: Limits{Timeout: 30 * time.Second}})
	prog := compile(t, "spin", "n = 0\nDO WHILE 1 = 1\n  n = n + 1\nLOOP\n")

	errc := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background(), Request{Program: prog, Session: channel.Session{ID: "k1"}})
		errc <- err
	}()

	require.Eventually(t, func() bool { return len(p.Sessions()) == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, "spin", p.Sessions()[0].Script)
	assert.False(t, p.Kill("missing"))
	assert.True(t, p.Kill("k1"))

	err := <-errc
	var le *LimitError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, LimitKilled, le.Kind)
	assertAllClosed(t, fakes)
}

func TestPool_Workers(t *testing.T) {
	p, _ := newPool(t, PoolConfig{MinIdle: 1, MaxWorkers: 2, IdleTimeout: time.Hour})
	assert.Equal(t, 1, p.Idle())

	ctx := context.Background()
	w1, err := p.acquire(ctx)
	require.NoError(t, err)
	w2, err := p.acquire(ctx)
	require.NoError(t, err)

	blocked, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = p.acquire(blocked)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	p.release(w1)
	p.release(w2)
	assert.Equal(t, 2, p.Idle())
	assert.Equal(t, 1, p.reapIdle(time.Now().Add(2*time.Hour)))
	assert.Equal(t, 1, p.Idle())

	zero, _ := newPool(t, PoolConfig{})
	_, err = zero.Run(ctx, Request{Program: compile(t, "a", "TALK \"a\"\n")})
	require.NoError(t, err)
	assert.Equal(t, 0, zero.Idle())
}

func TestWatchMemory(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	stop := watchMemory(ctx, cancel, "hog", 1<<20)
	defer stop()

	ballast := make([]byte, 64<<20)
	for i := range ballast {
		ballast[i] = 1
	}
	require.Eventually(t, func() bool { return ctx.Err() != nil }, 5*time.Second, 10*time.Millisecond)
	runtime.KeepAlive(ballast)

	var le *LimitError
	require.ErrorAs(t, context.Cause(ctx), &le)
	assert.Equal(t, LimitMemory, le.Kind)
}

func TestManager_DebugRoutes(t *testing.T) {
	m := NewManager(PoolConfig{Limits: Limits{Timeout: 30 * time.Second}}, func(string) (channel.Set, error) {
		set, _ := fakeSet()
		return set, nil
	}, testutil.NewTestLogger(t))
	defer m.Close()

	r := chi.NewRouter()
	m.SetupRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	prog := compile(t, "spin", "n = 0\nDO WHILE 1 = 1\n  n = n + 1\nLOOP\n")
	errc := make(chan error, 1)
	go func() {
		_, err := m.Run(context.Background(), "acme", Request{Program: prog, Session: channel.Session{ID: "d1"}})
		errc <- err
	}()
	require.Eventually(t, func() bool { return len(m.Sessions()) == 1 }, 5*time.Second, 5*time.Millisecond)

	resp, err := http.Get(srv.URL + "/debug/sessions/")
	require.NoError(t, err)
	var sessions []SessionInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sessions))
	_ = resp.Body.Close()
	require.Len(t, sessions, 1)
	assert.Equal(t, "d1", sessions[0].ID)
	assert.Equal(t, "acme", sessions[0].Tenant)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/debug/sessions/d1", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	var le *LimitError
	require.ErrorAs(t, <-errc, &le)

	req, _ = http.NewRequest(http.MethodDelete, srv.URL+"/debug/sessions/d1", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
