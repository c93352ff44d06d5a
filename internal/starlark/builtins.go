package starlark

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.starlark.net/lib/json"
	starmath "go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"gopkg.in/yaml.v3"

	"github.com/GeneralBots/BotServer-sub001/internal/channel"
)

// ErrExit is returned when a script calls exit(); it ends the run normally.
var ErrExit = errors.New("script exited")

// Page modes understood by paginate.
const (
	PageModeNone = "none"
	PageModeAuto = "auto"
)

// BuiltinOptions tunes builtin behavior.
type BuiltinOptions struct {
	// Backoff maps a retried status to the sleep before the next attempt.
	Backoff map[int]time.Duration
	// MaxSleep caps a single sleep() call. Zero means no cap.
	MaxSleep time.Duration
	// Now returns the current time; defaults to time.Now.
	Now func() time.Time
}

// DefaultBackoff is the wait per retried status: short for 401, long for
// 429, very long for 503.
var DefaultBackoff = map[int]time.Duration{
	401: time.Second,
	429: 10 * time.Second,
	503: 30 * time.Second,
}

// Builtins returns the functions and modules generated code relies on,
// besides those defined by the module preamble itself.
func Builtins(opts BuiltinOptions) starlark.StringDict {
	if opts.Backoff == nil {
		opts.Backoff = DefaultBackoff
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	b := &builtins{opts: opts}
	return starlark.StringDict{
		"sleep":             starlark.NewBuiltin("sleep", b.sleep),
		"backoff":           starlark.NewBuiltin("backoff", b.backoff),
		"paginate":          starlark.NewBuiltin("paginate", paginate),
		"exit":              starlark.NewBuiltin("exit", exit),
		"_capability_error": starlark.NewBuiltin("_capability_error", capabilityError),
		"_clock":            starlark.NewBuiltin("_clock", b.clock),
		"uuid":              starlark.NewBuiltin("uuid", newUUID),
		"ci":                starlark.NewBuiltin("ci", ci),
		"yaml":              starlark.NewBuiltin("yaml", toYAML),
		"upper":             stringFunc("upper", strings.ToUpper),
		"lower":             stringFunc("lower", strings.ToLower),
		"trim":              stringFunc("trim", strings.TrimSpace),
		"val":               starlark.NewBuiltin("val", val),
		"round":             starlark.NewBuiltin("round", round),
		"format":            starlark.NewBuiltin("format", format),
		"json":              json.Module,
		"math":              starmath.Module,
	}
}

type builtins struct {
	opts BuiltinOptions
}

// sleep(seconds) blocks the run, returning early when it is cancelled.
func (b *builtins) sleep(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "seconds", &v); err != nil {
		return nil, err
	}
	seconds, ok := starlark.AsFloat(v)
	if !ok {
		return nil, fmt.Errorf("%s: seconds must be a number, got %s", fn.Name(), v.Type())
	}
	d := time.Duration(seconds * float64(time.Second))
	if b.opts.MaxSleep > 0 && d > b.opts.MaxSleep {
		d = b.opts.MaxSleep
	}
	if d <= 0 {
		return starlark.None, nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return starlark.None, nil
	case <-Context(thread).Done():
		return nil, Context(thread).Err()
	}
}

// backoff(status) returns the wait in seconds before retrying status.
func (b *builtins) backoff(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var status int
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &status); err != nil {
		return nil, err
	}
	d, ok := b.opts.Backoff[status]
	if !ok {
		d = time.Second
	}
	return starlark.Float(d.Seconds()), nil
}

func (b *builtins) clock(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlark.MakeInt64(b.opts.Now().Unix()), nil
}

func exit(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return nil, ErrExit
}

// capabilityError raises the error for a generated call whose retries are
// exhausted or whose status is not retryable.
func capabilityError(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var verb, target string
	var status int
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 3, &verb, &target, &status); err != nil {
		return nil, err
	}
	return nil, &channel.CallError{
		Channel: channel.System,
		Method:  strings.ToLower(verb),
		Target:  target,
		Status:  status,
	}
}

// Keys paginate looks for, in order, when given a response object.
var (
	pageItemKeys  = []string{"items", "value", "data", "results", "records", "rows"}
	pageNextKeys  = []string{"next", "nextLink", "@odata.nextLink", "next_page", "nextPageUrl"}
	pageTokenKeys = []string{"cursor", "next_cursor", "nextPageToken", "continuation"}
	pageTotalKeys = []string{"total", "count", "@odata.count", "totalCount"}
)

// paginate(value, mode, url="") normalizes a collection into a page with
// items, more, next, token, total, mode and url. A follow-up page is only
// requested in "auto" mode when the response carries a next link.
func paginate(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var value starlark.Value
	mode := PageModeNone
	url := ""
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "value", &value, "mode?", &mode, "url?", &url); err != nil {
		return nil, err
	}

	fields := starlark.StringDict{
		"items":  starlark.NewList(nil),
		"more":   starlark.False,
		"next":   starlark.String(""),
		"token":  starlark.String(""),
		"total":  starlark.None,
		"mode":   starlark.String(mode),
		"url":    starlark.String(url),
		"cursor": starlark.MakeInt(0),
	}

	switch v := CI(value).(type) {
	case starlark.NoneType:
	case *ciList:
		fields["items"] = v
		fields["total"] = starlark.MakeInt(v.Len())
	case *ciDict:
		items, ok := firstKey(v, pageItemKeys, isSequence)
		if !ok {
			// A single object is a one-item page.
			fields["items"] = starlark.NewList([]starlark.Value{v})
			break
		}
		fields["items"] = items
		if total, ok := firstKey(v, pageTotalKeys, nil); ok {
			fields["total"] = total
		}
		if tok, ok := firstKey(v, pageTokenKeys, isString); ok {
			fields["token"] = tok
		}
		if next, ok := firstKey(v, pageNextKeys, isString); ok && bool(next.Truth()) {
			fields["next"] = next
			fields["more"] = starlark.Bool(mode == PageModeAuto)
		}
	default:
		return nil, fmt.Errorf("%s: cannot iterate over %s", fn.Name(), value.Type())
	}
	return starlarkstruct.FromStringDict(starlark.String("page"), fields), nil
}

func isSequence(v starlark.Value) bool {
	_, ok := v.(starlark.Sequence)
	_, isDict := v.(*ciDict)
	return ok && !isDict
}

func isString(v starlark.Value) bool {
	_, ok := v.(starlark.String)
	return ok
}

func firstKey(d *ciDict, keys []string, accept func(starlark.Value) bool) (starlark.Value, bool) {
	for _, k := range keys {
		if v, found := d.lookup(k); found && v != starlark.None && (accept == nil || accept(CI(v))) {
			return CI(v), true
		}
	}
	return nil, false
}

func newUUID(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlark.String(uuid.NewString()), nil
}

func ci(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	return CI(v), nil
}

func toYAML(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	gv, err := ToGo(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn.Name(), err)
	}
	out, err := yaml.Marshal(gv)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn.Name(), err)
	}
	return starlark.String(out), nil
}

func stringFunc(name string, f func(string) string) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var v starlark.Value
		if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &v); err != nil {
			return nil, err
		}
		return starlark.String(f(text(v))), nil
	})
}

// text renders v the way TALK would: strings without quotes.
func text(v starlark.Value) string {
	switch v := v.(type) {
	case starlark.String:
		return string(v)
	case starlark.NoneType:
		return ""
	}
	return v.String()
}

// val(s) parses the leading number of s; anything else is 0.
func val(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	switch v := v.(type) {
	case starlark.Int, starlark.Float:
		return v, nil
	}
	s := strings.TrimSpace(text(v))
	end := 0
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || s[end] == '.' || (end == 0 && (s[end] == '-' || s[end] == '+'))) {
		end++
	}
	s = s[:end]
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return starlark.MakeInt64(i), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return starlark.Float(f), nil
	}
	return starlark.MakeInt(0), nil
}

func round(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	digits := 0
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &x, &digits); err != nil {
		return nil, err
	}
	f, ok := starlark.AsFloat(x)
	if !ok {
		return nil, fmt.Errorf("%s: got %s, want number", fn.Name(), x.Type())
	}
	p := math.Pow(10, float64(digits))
	r := math.Round(f*p) / p
	if digits <= 0 {
		return starlark.MakeInt64(int64(r)), nil
	}
	return starlark.Float(r), nil
}

// format(value, pattern) formats numbers with patterns like "0.00" or
// "#,##0.00". Non-numeric values are rendered as text.
func format(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	pattern := ""
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &v, &pattern); err != nil {
		return nil, err
	}
	f, ok := starlark.AsFloat(v)
	if !ok || pattern == "" {
		return starlark.String(text(v)), nil
	}
	decimals := 0
	if i := strings.IndexByte(pattern, '.'); i >= 0 {
		decimals = len(pattern) - i - 1
	}
	s := strconv.FormatFloat(f, 'f', decimals, 64)
	if strings.Contains(pattern, ",") {
		s = groupThousands(s)
	}
	return starlark.String(s), nil
}

func groupThousands(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}
	var b strings.Builder
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return sign + b.String() + frac
}

// Thread-local keys.
const (
	localContext = "gbasic.context"
	localLogger  = "gbasic.logger"
)

// Context returns the run context stored on thread.
func Context(thread *starlark.Thread) context.Context {
	if thread != nil {
		if ctx, ok := thread.Local(localContext).(context.Context); ok {
			return ctx
		}
	}
	return context.Background()
}
