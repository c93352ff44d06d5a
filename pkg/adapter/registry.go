package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Factory builds an unconnected adapter. A nil logger means discard.
type Factory func(*slog.Logger) Adapter

type registration struct {
	name    string
	factory Factory
}

var (
	registryMu sync.RWMutex
	// keyed by lower-cased name or alias
	registry = make(map[string]registration)
)

// Register makes a connection type available under name and any aliases.
// Names are matched without regard to case. Registering a name again
// replaces the earlier factory.
func Register(name string, factory Factory, aliases ...string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	r := registration{name: strings.ToLower(name), factory: factory}
	registry[r.name] = r
	for _, alias := range aliases {
		registry[strings.ToLower(alias)] = r
	}
}

func lookup(name string) (registration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	r, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	return r, ok
}

// Get returns the factory for a connection type or alias.
func Get(name string) (Factory, bool) {
	r, ok := lookup(name)
	return r.factory, ok
}

// Canonical maps an alias to the name its adapter registered under.
func Canonical(name string) (string, bool) {
	r, ok := lookup(name)
	return r.name, ok
}

// IsRegistered reports whether name is a known connection type or alias.
func IsRegistered(name string) bool {
	_, ok := lookup(name)
	return ok
}

// ListAdapters returns the registered connection types, aliases excluded.
func ListAdapters() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	seen := make(map[string]bool)
	names := make([]string, 0, len(registry))
	for _, r := range registry {
		if !seen[r.name] {
			seen[r.name] = true
			names = append(names, r.name)
		}
	}
	sort.Strings(names)
	return names
}

// UnknownAdapterError reports a connection whose type no adapter handles.
type UnknownAdapterError struct {
	Type      string
	Available []string
}

func (e *UnknownAdapterError) Error() string {
	return fmt.Sprintf("unknown adapter type %q\nAvailable adapters: %v\nHint: Check the connections section of gbasic.yaml", e.Type, e.Available)
}

// NewAdapter creates an unconnected adapter for cfg.Type.
func NewAdapter(cfg Config, logger *slog.Logger) (Adapter, error) {
	if strings.TrimSpace(cfg.Type) == "" {
		return nil, fmt.Errorf("adapter type not specified")
	}
	r, ok := lookup(cfg.Type)
	if !ok {
		return nil, &UnknownAdapterError{Type: cfg.Type, Available: ListAdapters()}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return r.factory(logger), nil
}

// Open creates and connects the adapter for a TABLE ... ON connection.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Adapter, error) {
	a, err := NewAdapter(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := a.Connect(ctx, cfg); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Type, err)
	}
	return a, nil
}
