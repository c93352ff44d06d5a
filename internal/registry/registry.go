// Package registry tracks published scripts and the tables they own.
// Script names resolve case-insensitively, and every TABLE definition maps
// back to the script that declared it.
package registry

import (
	"sort"
	"strings"
	"sync"

	"github.com/GeneralBots/BotServer-sub001/internal/compiler"
)

// TableConflict is a table already owned by another script.
type TableConflict struct {
	Table string
	Owner string
}

// ScriptRegistry maps script names, paths and tables to published programs.
type ScriptRegistry struct {
	mu sync.RWMutex

	// byName maps lowercased script names to programs: "greet" → *Program
	byName map[string]*compiler.Program

	// byPath maps source paths to script names
	byPath map[string]string

	// byTable maps "connection.table" and bare table names, lowercased, to
	// the owning script
	byTable map[string]string
}

// NewScriptRegistry creates a new empty registry.
func NewScriptRegistry() *ScriptRegistry {
	return &ScriptRegistry{
		byName:  make(map[string]*compiler.Program),
		byPath:  make(map[string]string),
		byTable: make(map[string]string),
	}
}

// Register adds or replaces a program. Tables claimed by another script are
// returned as conflicts; the last registration wins.
func (r *ScriptRegistry) Register(p *compiler.Program) []TableConflict {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(p.Name)
	r.unregisterLocked(key)
	r.byName[key] = p
	if p.Path != "" {
		r.byPath[p.Path] = key
	}

	var conflicts []TableConflict
	for _, t := range p.Tables() {
		for _, tk := range tableKeys(t.Connection, t.Name) {
			if owner, ok := r.byTable[tk]; ok && owner != key {
				conflicts = append(conflicts, TableConflict{Table: tk, Owner: owner})
			}
			r.byTable[tk] = key
		}
	}
	return conflicts
}

// Unregister removes a script and the tables it owns.
func (r *ScriptRegistry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unregisterLocked(strings.ToLower(name))
}

func (r *ScriptRegistry) unregisterLocked(key string) bool {
	p, ok := r.byName[key]
	if !ok {
		return false
	}
	delete(r.byName, key)
	if p.Path != "" && r.byPath[p.Path] == key {
		delete(r.byPath, p.Path)
	}
	for tk, owner := range r.byTable {
		if owner == key {
			delete(r.byTable, tk)
		}
	}
	return true
}

// Get returns a program by script name.
func (r *ScriptRegistry) Get(name string) (*compiler.Program, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[strings.ToLower(name)]
	return p, ok
}

// GetByPath returns the program compiled from path.
func (r *ScriptRegistry) GetByPath(path string) (*compiler.Program, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.byPath[path]
	if !ok {
		return nil, false
	}
	return r.byName[key], true
}

// Resolve returns the script owning a table. Both "table" and
// "connection.table" forms are accepted.
func (r *ScriptRegistry) Resolve(table string) (script string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := strings.ToLower(table)
	if owner, ok := r.byTable[key]; ok {
		return r.byName[owner].Name, true
	}
	if parts := strings.Split(key, "."); len(parts) > 1 {
		if owner, ok := r.byTable[parts[len(parts)-1]]; ok {
			return r.byName[owner].Name, true
		}
	}
	return "", false
}

// List returns all programs ordered by name.
func (r *ScriptRegistry) List() []*compiler.Program {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*compiler.Program, 0, len(r.byName))
	for _, p := range r.byName {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered scripts.
func (r *ScriptRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

func tableKeys(connection, table string) []string {
	name := strings.ToLower(table)
	if connection == "" {
		return []string{name}
	}
	return []string{strings.ToLower(connection) + "." + name, name}
}
