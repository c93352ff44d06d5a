package starlark

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
	"golang.org/x/text/cases"
)

// ciDict is a read-only dict proxy with case-insensitive string keys. Keys
// are also readable as attributes; nested dicts and lists are proxied too.
type ciDict struct {
	dict  *starlark.Dict
	index map[string]starlark.Value // folded key -> original key
}

// ciList proxies a list or tuple, wrapping the elements it hands out.
type ciList struct {
	list starlark.Indexable
}

var (
	_ starlark.Mapping  = (*ciDict)(nil)
	_ starlark.HasAttrs = (*ciDict)(nil)
	_ starlark.Iterable = (*ciDict)(nil)
	_ starlark.Sequence = (*ciList)(nil)
	_ starlark.Indexable = (*ciList)(nil)
)

// CI wraps dicts and lists in case-insensitive read-only proxies. Other
// values are returned unchanged.
func CI(v starlark.Value) starlark.Value {
	switch v := v.(type) {
	case *ciDict, *ciList:
		return v
	case *starlark.Dict:
		fold := cases.Fold()
		index := make(map[string]starlark.Value, v.Len())
		for _, k := range v.Keys() {
			if s, ok := k.(starlark.String); ok {
				index[fold.String(string(s))] = k
			}
		}
		return &ciDict{dict: v, index: index}
	case *starlark.List:
		return &ciList{list: v}
	case starlark.Tuple:
		return &ciList{list: v}
	}
	return v
}

func (d *ciDict) String() string        { return d.dict.String() }
func (d *ciDict) Type() string          { return "ci_dict" }
func (d *ciDict) Freeze()               { d.dict.Freeze() }
func (d *ciDict) Truth() starlark.Bool  { return d.dict.Len() > 0 }
func (d *ciDict) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: ci_dict") }
func (d *ciDict) Len() int              { return d.dict.Len() }

func (d *ciDict) lookup(name string) (starlark.Value, bool) {
	key, ok := d.index[cases.Fold().String(name)]
	if !ok {
		return nil, false
	}
	v, found, _ := d.dict.Get(key)
	return v, found
}

// Get implements starlark.Mapping.
func (d *ciDict) Get(k starlark.Value) (starlark.Value, bool, error) {
	if s, ok := k.(starlark.String); ok {
		if v, found := d.lookup(string(s)); found {
			return CI(v), true, nil
		}
		return nil, false, nil
	}
	v, found, err := d.dict.Get(k)
	if err != nil || !found {
		return nil, found, err
	}
	return CI(v), true, nil
}

var ciDictMethods = []string{"get", "items", "keys", "values"}

// Attr returns the value of a key first, then a dict method.
func (d *ciDict) Attr(name string) (starlark.Value, error) {
	if v, found := d.lookup(name); found {
		return CI(v), nil
	}
	switch name {
	case "get":
		return starlark.NewBuiltin("get", d.get), nil
	case "keys":
		return starlark.NewBuiltin("keys", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			return starlark.NewList(d.dict.Keys()), nil
		}), nil
	case "values":
		return starlark.NewBuiltin("values", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			items := d.dict.Items()
			out := make([]starlark.Value, len(items))
			for i, kv := range items {
				out[i] = CI(kv[1])
			}
			return starlark.NewList(out), nil
		}), nil
	case "items":
		return starlark.NewBuiltin("items", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			items := d.dict.Items()
			out := make([]starlark.Value, len(items))
			for i, kv := range items {
				out[i] = starlark.Tuple{kv[0], CI(kv[1])}
			}
			return starlark.NewList(out), nil
		}), nil
	}
	return nil, nil
}

func (d *ciDict) get(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key starlark.Value
	var dflt starlark.Value = starlark.None
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &key, &dflt); err != nil {
		return nil, err
	}
	v, found, err := d.Get(key)
	if err != nil {
		return nil, err
	}
	if !found {
		return dflt, nil
	}
	return v, nil
}

// AttrNames lists keys and methods.
func (d *ciDict) AttrNames() []string {
	names := append([]string{}, ciDictMethods...)
	for _, k := range d.dict.Keys() {
		if s, ok := k.(starlark.String); ok {
			names = append(names, string(s))
		}
	}
	sort.Strings(names)
	return names
}

// Iterate yields the keys.
func (d *ciDict) Iterate() starlark.Iterator {
	return d.dict.Iterate()
}

func (l *ciList) String() string        { return l.list.String() }
func (l *ciList) Type() string          { return "ci_list" }
func (l *ciList) Freeze()               { l.list.Freeze() }
func (l *ciList) Truth() starlark.Bool  { return l.list.Len() > 0 }
func (l *ciList) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: ci_list") }
func (l *ciList) Len() int              { return l.list.Len() }
func (l *ciList) Index(i int) starlark.Value {
	return CI(l.list.Index(i))
}

// Iterate yields wrapped elements.
func (l *ciList) Iterate() starlark.Iterator {
	return &ciIterator{list: l.list}
}

type ciIterator struct {
	list starlark.Indexable
	i    int
}

func (it *ciIterator) Next(p *starlark.Value) bool {
	if it.i >= it.list.Len() {
		return false
	}
	*p = CI(it.list.Index(it.i))
	it.i++
	return true
}

func (it *ciIterator) Done() {}
