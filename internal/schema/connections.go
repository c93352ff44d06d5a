package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/GeneralBots/BotServer-sub001/pkg/adapter"
)

// DefaultConnection serves TABLE blocks without an ON clause.
const DefaultConnection = "default"

// Connections opens named storage connections on first use and keeps them
// for reuse across runs.
type Connections struct {
	cfgs   map[string]adapter.Config
	logger *slog.Logger

	mu   sync.Mutex
	open map[string]adapter.Adapter
}

// NewConnections creates a connection set from configuration.
func NewConnections(cfgs map[string]adapter.Config, logger *slog.Logger) *Connections {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Connections{cfgs: cfgs, logger: logger, open: make(map[string]adapter.Adapter)}
}

// Names lists the configured connections.
func (c *Connections) Names() []string {
	names := make([]string, 0, len(c.cfgs))
	for name := range c.cfgs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Put registers an already connected adapter under name.
func (c *Connections) Put(name string, a adapter.Adapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open[name] = a
}

// Get returns the connection called name, connecting it if needed.
func (c *Connections) Get(ctx context.Context, name string) (adapter.Adapter, error) {
	if name == "" {
		name = DefaultConnection
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if a, ok := c.open[name]; ok {
		return a, nil
	}
	cfg, ok := c.cfgs[name]
	if !ok {
		return nil, fmt.Errorf("unknown connection %q", name)
	}
	a, err := adapter.Open(ctx, cfg, c.logger.With(slog.String("connection", name)))
	if err != nil {
		return nil, fmt.Errorf("connection %s: %w", name, err)
	}
	c.logger.Debug("connection opened", slog.String("connection", name), slog.String("type", cfg.Type))
	c.open[name] = a
	return a, nil
}

// Close closes every open connection.
func (c *Connections) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for name, a := range c.open {
		if err := a.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(c.open, name)
	}
	return errors.Join(errs...)
}
