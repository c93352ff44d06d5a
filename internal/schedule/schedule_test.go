package schedule

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeneralBots/BotServer-sub001/internal/macro"
	"github.com/GeneralBots/BotServer-sub001/internal/testutil"
)

func TestExtract(t *testing.T) {
	src := `TALK "start"
SET SCHEDULE "0 0 * * * *"
set schedule '*/5 * * * *'
SET SCHEDULE = "@hourly"
SET SCHEDULE TO "0 9 * * 1-5"
  SET SCHEDULE "30 2 1 * *"
TALK "end"`

	ds, stripped, err := Extract(src, "report")
	require.NoError(t, err)
	require.Len(t, ds, 5)

	want := []string{"0 0 * * * *", "*/5 * * * *", "@hourly", "0 9 * * 1-5", "30 2 1 * *"}
	for i, d := range ds {
		assert.Equal(t, want[i], d.Cron)
		assert.Equal(t, i+1, d.Seq)
		assert.Equal(t, i+2, d.Line)
		assert.Equal(t, "report", d.Owner)
	}
	assert.Equal(t, "report#3", ds[2].ID())
	assert.NotContains(t, stripped, "SCHEDULE")
	assert.NotContains(t, stripped, "schedule")
	assert.Equal(t, 7, len(strings.Split(stripped, "\n")))
}

func TestExtract_Errors(t *testing.T) {
	_, _, err := Extract("TALK 1\nSET SCHEDULE \"every day\"", "x")
	var rwErr *macro.RewriteError
	require.ErrorAs(t, err, &rwErr)
	assert.Equal(t, 2, rwErr.Line)

	// Unquoted forms are left for the rewriter.
	ds, stripped, err := Extract("SET SCHEDULE 0 * * * *", "x")
	require.NoError(t, err)
	assert.Empty(t, ds)
	assert.Equal(t, "SET SCHEDULE 0 * * * *", stripped)
}

func TestScheduler_Replace(t *testing.T) {
	s := New(func(context.Context, Directive) error { return nil }, testutil.NewTestLogger(t))

	require.NoError(t, s.Replace("a", []Directive{{Cron: "@hourly", Seq: 1}, {Cron: "0 0 * * *", Seq: 2}}))
	require.NoError(t, s.Replace("b", []Directive{{Cron: "@daily", Seq: 1}}))

	jobs := s.Jobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, "a#1", jobs[0].ID())
	assert.Equal(t, "a#2", jobs[1].ID())
	assert.Equal(t, "b#1", jobs[2].ID())

	require.NoError(t, s.Replace("a", []Directive{{Cron: "*/10 * * * *", Seq: 1}}))
	jobs = s.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "*/10 * * * *", jobs[0].Cron)

	err := s.Replace("c", []Directive{{Cron: "nope", Seq: 1}})
	require.Error(t, err)
	assert.Len(t, s.Jobs(), 2)

	assert.Equal(t, 1, s.Remove("b"))
	assert.Equal(t, 0, s.Remove("b"))
	assert.Len(t, s.Jobs(), 1)
}

func TestScheduler_Fire(t *testing.T) {
	fired := make(chan Directive, 1)
	s := New(func(_ context.Context, d Directive) error {
		fired <- d
		return nil
	}, nil)
	require.NoError(t, s.Replace("x", []Directive{{Cron: "@every 1s", Seq: 1}}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	d := <-fired
	assert.Equal(t, "x#1", d.ID())
	cancel()
	<-done
}
