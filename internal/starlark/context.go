package starlark

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/GeneralBots/BotServer-sub001/internal/channel"
)

// Names bound for every run besides the builtins.
const (
	ChannelsName    = "_channels"
	ContextName     = "_context"
	ParamsName      = "_params"
	ArgsName        = "_args"
	EntitiesName    = "_entities"
	CredentialsName = "_credentials"
)

var contextNames = []string{ChannelsName, ContextName, ParamsName, ArgsName, EntitiesName, CredentialsName}

// Token is a cached bearer token kept in the run context between runs.
type Token struct {
	Value  string `json:"token"`
	Expiry int64  `json:"expiry"`
}

// RunContext is everything one run binds into its module.
type RunContext struct {
	Session channel.Session
	Handles map[string]channel.Handle
	// Args are the caller arguments; Params the bot configuration. PARAM
	// declarations read Args first and fall back to Params.
	Args        map[string]any
	Params      map[string]any
	Entities    map[string]any
	Credentials []string
	Tokens      map[string]Token
	PageMode    string
	Now         time.Time
	Builtins    BuiltinOptions
}

// Globals builds the predeclared names of a run. The returned dict is the
// live _context: token refreshes made by the script are written to it, see
// Tokens.
func (rc *RunContext) Globals() (starlark.StringDict, *starlark.Dict, error) {
	now := rc.Now
	if now.IsZero() {
		now = time.Now()
	}
	pageMode := rc.PageMode
	if pageMode == "" {
		pageMode = PageModeNone
	}

	ctxDict := starlark.NewDict(16)
	entries := []struct {
		key string
		val any
	}{
		{"pid", rc.Session.ID},
		{"user", rc.Session.User},
		{"channel", rc.Session.Channel},
		{"locale", orDefault(rc.Session.Locale, "en")},
		{"now", now.Format("2006-01-02 15:04:05")},
		{"today", now.Format("2006-01-02")},
		{"page_mode", pageMode},
	}
	for _, e := range entries {
		if err := ctxDict.SetKey(starlark.String(e.key), starlark.String(fmt.Sprint(e.val))); err != nil {
			return nil, nil, err
		}
	}

	credentials := append([]string{}, rc.Credentials...)
	sort.Strings(credentials)
	for _, name := range credentials {
		tok, ok := rc.Tokens[name]
		if !ok || tok.Value == "" {
			continue
		}
		key := "token_" + name
		if err := ctxDict.SetKey(starlark.String(key), starlark.String(tok.Value)); err != nil {
			return nil, nil, err
		}
		if err := ctxDict.SetKey(starlark.String(key+"_expiry"), starlark.MakeInt64(tok.Expiry)); err != nil {
			return nil, nil, err
		}
		// The system channel attaches the token to requests itself.
		if seeder, ok := rc.Handles[channel.System].(channel.TokenSeeder); ok {
			seeder.SetToken(name, tok.Value)
		}
	}

	credList := make([]starlark.Value, len(credentials))
	for i, c := range credentials {
		credList[i] = starlark.String(c)
	}

	channels := make(starlark.StringDict, len(channel.Names))
	for _, name := range channel.Names {
		h, ok := rc.Handles[name]
		if !ok {
			return nil, nil, fmt.Errorf("no %s channel handle", name)
		}
		channels[name] = &channelValue{name: name, handle: h}
	}

	globals := Builtins(rc.Builtins)
	globals[ChannelsName] = starlarkstruct.FromStringDict(starlark.String("channels"), channels)
	globals[ContextName] = ctxDict
	globals[CredentialsName] = starlark.Tuple(credList)
	for name, m := range map[string]map[string]any{ArgsName: rc.Args, ParamsName: rc.Params, EntitiesName: rc.Entities} {
		d, err := dictOf(m)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", name, err)
		}
		globals[name] = d
	}
	return globals, ctxDict, nil
}

func orDefault(s, dflt string) string {
	if s == "" {
		return dflt
	}
	return s
}

func dictOf(m map[string]any) (*starlark.Dict, error) {
	if m == nil {
		return starlark.NewDict(0), nil
	}
	v, err := GoToStarlark(m)
	if err != nil {
		return nil, err
	}
	return v.(*starlark.Dict), nil
}

// Tokens reads the tokens the run refreshed back out of its _context.
func Tokens(ctxDict *starlark.Dict) map[string]Token {
	out := make(map[string]Token)
	for _, item := range ctxDict.Items() {
		key, ok := starlark.AsString(item[0])
		if !ok || !strings.HasPrefix(key, "token_") || strings.HasSuffix(key, "_expiry") {
			continue
		}
		val, ok := starlark.AsString(item[1])
		if !ok {
			continue
		}
		tok := Token{Value: val}
		if exp, found, _ := ctxDict.Get(starlark.String(key + "_expiry")); found {
			if n, ok := exp.(starlark.Int); ok {
				tok.Expiry, _ = n.Int64()
			}
		}
		out[strings.TrimPrefix(key, "token_")] = tok
	}
	return out
}

// channelValue exposes a channel handle to the script: each method of the
// channel is an attribute that forwards to Handle.Call.
type channelValue struct {
	name   string
	handle channel.Handle
}

var _ starlark.HasAttrs = (*channelValue)(nil)

func (c *channelValue) String() string        { return "<channel " + c.name + ">" }
func (c *channelValue) Type() string          { return "channel" }
func (c *channelValue) Freeze()               {}
func (c *channelValue) Truth() starlark.Bool  { return starlark.True }
func (c *channelValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: channel") }

func (c *channelValue) Attr(name string) (starlark.Value, error) {
	if !channel.HasMethod(c.name, name) {
		return nil, nil
	}
	return starlark.NewBuiltin(c.name+"."+name, c.call(name)), nil
}

func (c *channelValue) AttrNames() []string {
	names := append([]string{}, channel.Methods[c.name]...)
	sort.Strings(names)
	return names
}

func (c *channelValue) call(method string) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		positional := make([]any, len(args))
		for i, a := range args {
			v, err := ToGo(a)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: argument %d: %w", c.name, method, i+1, err)
			}
			positional[i] = v
		}
		var named map[string]any
		if len(kwargs) > 0 {
			named = make(map[string]any, len(kwargs))
			for _, kv := range kwargs {
				k, _ := starlark.AsString(kv[0])
				v, err := ToGo(kv[1])
				if err != nil {
					return nil, fmt.Errorf("%s.%s: argument %s: %w", c.name, method, k, err)
				}
				named[k] = v
			}
		}

		start := time.Now()
		out, err := c.handle.Call(Context(thread), method, positional, named)
		Logger(thread).Debug("capability call",
			slog.String("channel", c.name),
			slog.String("method", method),
			slog.Duration("duration", time.Since(start)),
			slog.Bool("ok", err == nil))
		if err != nil {
			return nil, err
		}
		return Wrap(out)
	}
}
