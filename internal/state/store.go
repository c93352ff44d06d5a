// Package state persists compiled programs, schedules, run history and
// cached credential tokens in SQLite.
package state

import (
	"context"
	"encoding/json"
	"time"
)

// RunStatus is the outcome of a script run.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// Program is a compiled script as cached between processes.
type Program struct {
	Name       string
	Path       string
	ModTime    time.Time
	SourceHash string
	Code       string
	LineMap    []int
	// Meta is the JSON encoding of the compiled program's metadata.
	Meta       json.RawMessage
	CompiledAt time.Time
}

// Schedule is a persisted SET SCHEDULE job.
type Schedule struct {
	Owner     string
	Seq       int
	Cron      string
	Line      int
	CreatedAt time.Time
}

// Run is one execution of a script.
type Run struct {
	ID          string     `json:"id"`
	Script      string     `json:"script"`
	Tenant      string     `json:"tenant"`
	Trigger     string     `json:"trigger"`
	Status      RunStatus  `json:"status"`
	ErrorKind   string     `json:"error_kind,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Token is a cached bearer token.
type Token struct {
	Value  string
	Expiry int64
}

// Store is the persistence the engine needs.
type Store interface {
	SaveProgram(ctx context.Context, p *Program) error
	GetProgram(ctx context.Context, name string) (*Program, error)
	ListPrograms(ctx context.Context) ([]*Program, error)
	DeleteProgram(ctx context.Context, name string) error

	ReplaceSchedules(ctx context.Context, owner string, schedules []Schedule) error
	ListSchedules(ctx context.Context) ([]Schedule, error)

	CreateRun(ctx context.Context, script, tenant, trigger string) (*Run, error)
	CompleteRun(ctx context.Context, id string, status RunStatus, errKind, errMsg string) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, script string, limit int) ([]*Run, error)

	GetTokens(ctx context.Context, tenant string) (map[string]Token, error)
	SaveTokens(ctx context.Context, tenant string, tokens map[string]Token) error

	Close() error
}

var _ Store = (*SQLiteStore)(nil)
