package starlark

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

func TestGoToStarlark(t *testing.T) {
	tests := []struct {
		name    string
		input   any
		wantStr string
		wantErr bool
	}{
		{name: "string", input: "hello", wantStr: `"hello"`},
		{name: "bytes", input: []byte("raw"), wantStr: `"raw"`},
		{name: "int", input: 42, wantStr: "42"},
		{name: "int64", input: int64(123456789), wantStr: "123456789"},
		{name: "float64", input: 3.14, wantStr: "3.14"},
		{name: "bool", input: true, wantStr: "True"},
		{name: "nil", input: nil, wantStr: "None"},
		{name: "json int", input: json.Number("7"), wantStr: "7"},
		{name: "json float", input: json.Number("7.5"), wantStr: "7.5"},
		{name: "time", input: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), wantStr: `"2024-01-02T03:04:05Z"`},
		{name: "string slice", input: []string{"a", "b"}, wantStr: `["a", "b"]`},
		{name: "any slice", input: []any{"x", 1, true}, wantStr: `["x", 1, True]`},
		{name: "rows", input: []map[string]any{{"id": 1}}, wantStr: `[{"id": 1}]`},
		{name: "map", input: map[string]any{"key": "value"}, wantStr: `{"key": "value"}`},
		{name: "string map", input: map[string]string{"k": "v"}, wantStr: `{"k": "v"}`},
		{name: "starlark value", input: starlark.MakeInt(3), wantStr: "3"},
		{name: "unsupported", input: struct{}{}, wantErr: true},
		{name: "nested unsupported", input: []any{make(chan int)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GoToStarlark(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStr, got.String())
		})
	}
}

func TestToGo(t *testing.T) {
	dict := starlark.NewDict(1)
	require.NoError(t, dict.SetKey(starlark.String("name"), starlark.String("Ana")))

	tests := []struct {
		name    string
		input   starlark.Value
		want    any
		wantErr bool
	}{
		{name: "string", input: starlark.String("hello"), want: "hello"},
		{name: "int", input: starlark.MakeInt(42), want: int64(42)},
		{name: "float", input: starlark.Float(3.14), want: 3.14},
		{name: "bool", input: starlark.False, want: false},
		{name: "none", input: starlark.None, want: nil},
		{name: "tuple", input: starlark.Tuple{starlark.MakeInt(1), starlark.String("a")}, want: []any{int64(1), "a"}},
		{name: "dict", input: dict, want: map[string]any{"name": "Ana"}},
		{name: "ci dict", input: CI(dict), want: map[string]any{"name": "Ana"}},
		{name: "ci list", input: CI(starlark.NewList([]starlark.Value{dict})), want: []any{map[string]any{"name": "Ana"}}},
		{
			name:  "struct",
			input: starlarkstruct.FromStringDict(starlark.String("page"), starlark.StringDict{"more": starlark.True}),
			want:  map[string]any{"more": true},
		},
		{
			name: "non-string key",
			input: func() starlark.Value {
				d := starlark.NewDict(1)
				_ = d.SetKey(starlark.MakeInt(1), starlark.None)
				return d
			}(),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToGo(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCI(t *testing.T) {
	v, err := Wrap(map[string]any{
		"Name":  "Ana",
		"items": []any{map[string]any{"ID": 1}},
	})
	require.NoError(t, err)

	globals := starlark.StringDict{"r": v}
	tests := []struct {
		expr string
		want string
	}{
		{`r.name`, `"Ana"`},
		{`r.NAME`, `"Ana"`},
		{`r["name"]`, `"Ana"`},
		{`r.get("missing", 0)`, `0`},
		{`r.items[0].id`, `1`},
		{`len(r.items)`, `1`},
		{`[i.id for i in r.items]`, `[1]`},
		{`sorted(r.keys())`, `["Name", "items"]`},
		{`"name" in r`, `True`},
		{`type(r)`, `"ci_dict"`},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := starlark.EvalOptions(FileOptions, &starlark.Thread{}, "test", tt.expr, globals)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}

	_, err = starlark.EvalOptions(FileOptions, &starlark.Thread{}, "test", "r.nope", globals)
	require.Error(t, err)
}
