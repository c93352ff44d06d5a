package sandbox

import (
	"context"
	"fmt"
	"strings"

	"go.starlark.net/starlark"

	"github.com/GeneralBots/BotServer-sub001/internal/channel"
)

// Allow is the set of primitives a run may use. Entries are builtin names
// ("upper"), channel methods ("system.get_http") or whole channels
// ("web.*"). An empty Allow permits everything. Builtins the generated
// preamble and lowered statements depend on are always bound.
type Allow []string

// internal names the builtins every compiled program may call whatever the
// list says: params/entity hydration, pagination, WAIT and retry loops.
var internal = map[string]bool{
	"ci":       true,
	"paginate": true,
	"sleep":    true,
	"backoff":  true,
	"exit":     true,
}

func (a Allow) all() bool { return len(a) == 0 }

func (a Allow) builtin(name string) bool {
	if a.all() {
		return true
	}
	for _, e := range a {
		if e == name {
			return true
		}
	}
	return false
}

func (a Allow) method(ch, method string) bool {
	if a.all() {
		return true
	}
	for _, e := range a {
		if e == ch+".*" || e == ch+"."+method {
			return true
		}
	}
	return false
}

// restrict replaces every builtin the list does not allow with one that
// fails when called. The names stay bound so programs still resolve.
func (a Allow) restrict(globals starlark.StringDict, builtins starlark.StringDict) {
	if a.all() {
		return
	}
	for name := range builtins {
		if strings.HasPrefix(name, "_") || internal[name] || a.builtin(name) {
			continue
		}
		globals[name] = starlark.NewBuiltin(name, denied(name))
	}
}

func denied(name string) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
		return nil, fmt.Errorf("%s is not allowed in this sandbox", name)
	}
}

// wrap guards channel handles with the list.
func (a Allow) wrap(handles map[string]channel.Handle) map[string]channel.Handle {
	if a.all() {
		return handles
	}
	out := make(map[string]channel.Handle, len(handles))
	for name, h := range handles {
		out[name] = &guardedHandle{name: name, Handle: h, allow: a}
	}
	return out
}

type guardedHandle struct {
	channel.Handle
	name  string
	allow Allow
}

func (g *guardedHandle) Call(ctx context.Context, method string, args []any, kwargs map[string]any) (any, error) {
	if !g.allow.method(g.name, method) {
		return nil, &channel.CallError{Channel: g.name, Method: method, Err: fmt.Errorf("not allowed in this sandbox")}
	}
	return g.Handle.Call(ctx, method, args, kwargs)
}

// SetToken keeps token seeding working through the guard.
func (g *guardedHandle) SetToken(name, token string) {
	if s, ok := g.Handle.(channel.TokenSeeder); ok {
		s.SetToken(name, token)
	}
}
