// Package sandbox runs compiled scripts in bounded, per-tenant worker
// pools.
package sandbox

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/GeneralBots/BotServer-sub001/internal/channel"
)

// ChannelFactory returns the channels of a tenant.
type ChannelFactory func(tenant string) (channel.Set, error)

// Manager owns one pool per tenant, created on first use.
type Manager struct {
	cfg      PoolConfig
	channels ChannelFactory
	logger   *slog.Logger

	mu    sync.Mutex
	pools map[string]*Pool
}

// NewManager creates a manager. Every tenant pool uses cfg.
func NewManager(cfg PoolConfig, channels ChannelFactory, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		cfg:      cfg,
		channels: channels,
		logger:   logger,
		pools:    make(map[string]*Pool),
	}
}

// Pool returns the tenant's pool, creating it if needed.
func (m *Manager) Pool(tenant string) (*Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[tenant]; ok {
		return p, nil
	}
	set, err := m.channels(tenant)
	if err != nil {
		return nil, err
	}
	p := NewPool(tenant, m.cfg, set, m.logger)
	m.pools[tenant] = p
	return p, nil
}

// Run executes req in the tenant's pool.
func (m *Manager) Run(ctx context.Context, tenant string, req Request) (*Result, error) {
	p, err := m.Pool(tenant)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx, req)
}

// Sessions lists runs in flight across tenants.
func (m *Manager) Sessions() []SessionInfo {
	var out []SessionInfo
	for _, p := range m.snapshot() {
		out = append(out, p.Sessions()...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

// Kill cancels the session with the given id in whichever pool runs it.
func (m *Manager) Kill(id string) bool {
	for _, p := range m.snapshot() {
		if p.Kill(id) {
			return true
		}
	}
	return false
}

// Close closes every pool.
func (m *Manager) Close() {
	for _, p := range m.snapshot() {
		p.Close()
	}
	m.mu.Lock()
	m.pools = make(map[string]*Pool)
	m.mu.Unlock()
}

func (m *Manager) snapshot() []*Pool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		out = append(out, p)
	}
	return out
}
