// Package engine compiles, publishes and runs dialog scripts.
// Compiled programs are cached by (path, modification time) in memory and in
// the state store; publication writes sidecars, registers schedules and
// synchronizes declared tables.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/GeneralBots/BotServer-sub001/internal/channel"
	"github.com/GeneralBots/BotServer-sub001/internal/compiler"
	"github.com/GeneralBots/BotServer-sub001/internal/registry"
	"github.com/GeneralBots/BotServer-sub001/internal/sandbox"
	"github.com/GeneralBots/BotServer-sub001/internal/schedule"
	"github.com/GeneralBots/BotServer-sub001/internal/schema"
	"github.com/GeneralBots/BotServer-sub001/internal/state"
	"github.com/GeneralBots/BotServer-sub001/pkg/parser"
)

// DefaultAgeThreshold is how far a file's modification time may move past
// the cached one before the cache entry is stale.
const DefaultAgeThreshold = time.Second

// DefaultTenant runs scripts when no tenant is given.
const DefaultTenant = "default"

// ChannelFactory builds the channels of a tenant. tables is the engine's
// storage for TABLE-backed FIND and SAVE.
type ChannelFactory func(tenant string, tables channel.TableStore) (channel.Set, error)

// Config holds engine configuration.
type Config struct {
	// ScriptsDir is scanned by Discover and watched by Watch.
	ScriptsDir string
	// OutputDir receives sidecar files. Empty disables sidecars.
	OutputDir string
	// StatePath is the path to the SQLite state database.
	StatePath string
	// Legacy compiles through the macro table only.
	Legacy bool
	// AgeThreshold defaults to DefaultAgeThreshold.
	AgeThreshold time.Duration
	// SchemaSync applies TABLE definitions to their connections on publish.
	SchemaSync bool
	// Connections are the storage connections TABLE blocks name.
	Connections *schema.Connections
	// Channels builds tenant channels for runs.
	Channels ChannelFactory
	// Pool sizes the per-tenant sandbox pools.
	Pool sandbox.PoolConfig
	// Tenant is the default tenant.
	Tenant string
	// Params is the bot configuration PARAM declarations fall back to.
	Params map[string]any
	// Credentials names the credentials whose tokens runs refresh.
	Credentials []string
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// Engine orchestrates compilation, publication and runs.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	store     state.Store
	registry  *registry.ScriptRegistry
	scheduler *schedule.Scheduler
	sandbox   *sandbox.Manager
	conns     *schema.Connections
	syncer    *schema.Syncer
	tables    *schema.Store

	mu    sync.Mutex
	cache map[string]*cacheEntry
}

// New creates an engine and opens its state store.
func New(cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.AgeThreshold <= 0 {
		cfg.AgeThreshold = DefaultAgeThreshold
	}
	if cfg.Tenant == "" {
		cfg.Tenant = DefaultTenant
	}
	if cfg.StatePath == "" {
		cfg.StatePath = ":memory:"
	}

	logger.Debug("initializing engine", "scripts_dir", cfg.ScriptsDir, "state", cfg.StatePath)

	store, err := state.Open(cfg.StatePath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	conns := cfg.Connections
	if conns == nil {
		conns = schema.NewConnections(nil, logger)
	}

	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		registry: registry.NewScriptRegistry(),
		conns:    conns,
		syncer:   schema.NewSyncer(conns, logger),
		tables:   schema.NewStore(conns),
		cache:    make(map[string]*cacheEntry),
	}
	e.scheduler = schedule.New(e.Fire, logger)
	e.sandbox = sandbox.NewManager(cfg.Pool, e.channels, logger)
	return e, nil
}

func (e *Engine) channels(tenant string) (channel.Set, error) {
	if e.cfg.Channels == nil {
		return channel.Set{}, nil
	}
	return e.cfg.Channels(tenant, e.tables)
}

// Close releases the sandbox pools, storage connections and state store.
func (e *Engine) Close() error {
	e.sandbox.Close()
	return errors.Join(e.conns.Close(), e.store.Close())
}

// Store returns the state store.
func (e *Engine) Store() state.Store { return e.store }

// Registry returns the published scripts.
func (e *Engine) Registry() *registry.ScriptRegistry { return e.registry }

// Scheduler returns the cron scheduler. The caller starts it.
func (e *Engine) Scheduler() *schedule.Scheduler { return e.scheduler }

// Sandbox returns the sandbox manager.
func (e *Engine) Sandbox() *sandbox.Manager { return e.sandbox }

// Tables returns the storage behind TABLE-backed FIND and SAVE.
func (e *Engine) Tables() *schema.Store { return e.tables }

// Program returns a published program by script name.
func (e *Engine) Program(name string) (*compiler.Program, bool) {
	return e.registry.Get(name)
}

// SyncSchema plans, and unless dryRun applies, the tables of every
// published script.
func (e *Engine) SyncSchema(ctx context.Context, dryRun bool) ([]schema.Change, error) {
	tables := e.allTables()
	if dryRun {
		return e.syncer.Plan(ctx, tables)
	}
	return e.syncer.Sync(ctx, tables)
}

func (e *Engine) allTables() []*parser.TableDef {
	var out []*parser.TableDef
	for _, p := range e.registry.List() {
		out = append(out, p.Tables()...)
	}
	return out
}
