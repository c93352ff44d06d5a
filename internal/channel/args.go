package channel

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Args resolves call arguments by position or by name.
type Args struct {
	Method     string
	Positional []any
	Named      map[string]any
}

// NewArgs bundles the arguments of one call.
func NewArgs(method string, args []any, kwargs map[string]any) Args {
	return Args{Method: method, Positional: args, Named: kwargs}
}

// Value returns argument i, or the named argument name.
func (a Args) Value(i int, name string) (any, bool) {
	if v, ok := a.Named[name]; ok {
		return v, true
	}
	if i >= 0 && i < len(a.Positional) {
		return a.Positional[i], true
	}
	return nil, false
}

// Len is the number of arguments passed.
func (a Args) Len() int {
	return len(a.Positional) + len(a.Named)
}

// Rest returns positional arguments from i on.
func (a Args) Rest(i int) []any {
	if i >= len(a.Positional) {
		return nil
	}
	return a.Positional[i:]
}

// String returns a required string argument.
func (a Args) String(i int, name string) (string, error) {
	v, ok := a.Value(i, name)
	if !ok || v == nil {
		return "", fmt.Errorf("%s: missing argument %s", a.Method, name)
	}
	return ToString(v), nil
}

// OptString returns an optional string argument.
func (a Args) OptString(i int, name, dflt string) string {
	v, ok := a.Value(i, name)
	if !ok || v == nil {
		return dflt
	}
	return ToString(v)
}

// Int returns a required integer argument.
func (a Args) Int(i int, name string) (int64, error) {
	v, ok := a.Value(i, name)
	if !ok || v == nil {
		return 0, fmt.Errorf("%s: missing argument %s", a.Method, name)
	}
	n, err := ToInt(v)
	if err != nil {
		return 0, fmt.Errorf("%s: argument %s: %w", a.Method, name, err)
	}
	return n, nil
}

// ToString renders an argument as text.
func ToString(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// ToInt converts a numeric or numeric-string argument.
func ToInt(v any) (int64, error) {
	switch v := v.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case json.Number:
		return ToInt(v.String())
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(v, 64)
			if ferr != nil {
				return 0, fmt.Errorf("not a number: %q", v)
			}
			return int64(f), nil
		}
		return n, nil
	}
	return 0, fmt.Errorf("not a number: %v", v)
}
