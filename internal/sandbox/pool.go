package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GeneralBots/BotServer-sub001/internal/channel"
	sl "github.com/GeneralBots/BotServer-sub001/internal/starlark"
)

// PoolConfig sizes a tenant pool.
type PoolConfig struct {
	// MaxWorkers bounds concurrent runs. Zero means 4.
	MaxWorkers int `koanf:"max_workers" yaml:"max_workers"`
	// MinIdle workers are kept warm. Zero spawns a worker per run.
	MinIdle int `koanf:"min_idle" yaml:"min_idle"`
	// IdleTimeout tears down idle workers above MinIdle.
	IdleTimeout time.Duration `koanf:"idle_timeout" yaml:"idle_timeout"`
	Limits      Limits        `koanf:"limits" yaml:"limits"`
	Allow       Allow         `koanf:"allow" yaml:"allow"`
	// Builtins tunes sleep and backoff for generated retries.
	Builtins sl.BuiltinOptions `koanf:"-" yaml:"-"`
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 4
	}
	if c.MinIdle > c.MaxWorkers {
		c.MinIdle = c.MaxWorkers
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = time.Minute
	}
	if c.Limits == (Limits{}) {
		c.Limits = DefaultLimits
	}
	return c
}

// worker is a run slot. Starlark threads are not reusable once cancelled,
// so a worker carries identity and accounting across runs.
type worker struct {
	id       string
	created  time.Time
	lastUsed time.Time
	runs     int
}

// Pool runs programs for one tenant.
type Pool struct {
	tenant   string
	cfg      PoolConfig
	channels channel.Set
	logger   *slog.Logger

	slots chan struct{}

	mu       sync.Mutex
	idle     []*worker
	spawned  int
	sessions map[string]*Session
	closed   bool

	stopReaper func()
}

// NewPool creates a pool and pre-spawns MinIdle workers.
func NewPool(tenant string, cfg PoolConfig, channels channel.Set, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cfg = cfg.withDefaults()
	p := &Pool{
		tenant:   tenant,
		cfg:      cfg,
		channels: channels,
		logger:   logger.With(slog.String("tenant", tenant)),
		slots:    make(chan struct{}, cfg.MaxWorkers),
		sessions: make(map[string]*Session),
	}
	for i := 0; i < cfg.MinIdle; i++ {
		p.idle = append(p.idle, p.spawn())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.reap(ctx)
	}()
	p.stopReaper = func() {
		cancel()
		<-done
	}
	return p
}

// spawn must be called with mu held or before the pool is shared.
func (p *Pool) spawn() *worker {
	now := time.Now()
	p.spawned++
	w := &worker{id: uuid.NewString(), created: now, lastUsed: now}
	p.logger.Debug("worker spawned", slog.String("worker", w.id))
	return w
}

func (p *Pool) acquire(ctx context.Context) (*worker, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		<-p.slots
		return nil, errors.New("sandbox pool is closed")
	}
	if n := len(p.idle); n > 0 {
		w := p.idle[n-1]
		p.idle = p.idle[:n-1]
		return w, nil
	}
	return p.spawn(), nil
}

// release returns a worker. With MinIdle zero every worker is torn down
// after its run.
func (p *Pool) release(w *worker) {
	p.mu.Lock()
	w.lastUsed = time.Now()
	w.runs++
	if p.closed || p.cfg.MinIdle == 0 {
		p.teardown(w)
	} else {
		p.idle = append(p.idle, w)
	}
	p.mu.Unlock()
	<-p.slots
}

func (p *Pool) teardown(w *worker) {
	p.logger.Debug("worker torn down", slog.String("worker", w.id), slog.Int("runs", w.runs))
}

// reap tears down idle workers above MinIdle once they pass IdleTimeout.
func (p *Pool) reap(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.IdleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reapIdle(time.Now())
		}
	}
}

func (p *Pool) reapIdle(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.idle[:0]
	removed := 0
	for _, w := range p.idle {
		if len(p.idle)-removed > p.cfg.MinIdle && now.Sub(w.lastUsed) > p.cfg.IdleTimeout {
			p.teardown(w)
			removed++
			continue
		}
		kept = append(kept, w)
	}
	p.idle = kept
	return removed
}

// Idle returns the number of warm workers.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Sessions returns the runs in flight ordered by start time.
func (p *Pool) Sessions() []SessionInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SessionInfo, 0, len(p.sessions))
	for _, s := range p.sessions {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

// Kill cancels a run in flight. It reports whether the session was found.
func (p *Pool) Kill(id string) bool {
	p.mu.Lock()
	s, ok := p.sessions[id]
	p.mu.Unlock()
	if ok {
		s.cancel(&LimitError{Script: s.Script, Kind: LimitKilled})
	}
	return ok
}

// Close cancels runs in flight and tears down idle workers.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, s := range p.sessions {
		s.cancel(fmt.Errorf("sandbox pool closed"))
	}
	for _, w := range p.idle {
		p.teardown(w)
	}
	p.idle = nil
	p.mu.Unlock()
	p.stopReaper()
}
