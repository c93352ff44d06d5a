package macro

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "empty", input: "", want: nil},
		{name: "single", input: `"a"`, want: []string{`"a"`}},
		{name: "quoted comma", input: `"Hello, world", name`, want: []string{`"Hello, world"`, "name"}},
		{name: "single quoted comma", input: `'a,b', 'c'`, want: []string{`'a,b'`, `'c'`}},
		{name: "nested call", input: `f(a, b), [1, 2], {"k": 1}`, want: []string{"f(a, b)", "[1, 2]", `{"k": 1}`}},
		{name: "escaped quote", input: `"say \"hi, there\"", x`, want: []string{`"say \"hi, there\""`, "x"}},
		{name: "empty middle", input: "a, , b", want: []string{"a", "", "b"}},
		{name: "trailing comma", input: "a,", want: []string{"a", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitArgs(tt.input))
		})
	}
}

func TestStripParens(t *testing.T) {
	assert.Equal(t, "a, b", stripParens("(a, b)"))
	assert.Equal(t, "(a) + (b)", stripParens("(a) + (b)"))
	assert.Equal(t, `")"`, stripParens(`(")")`))
	assert.Equal(t, "x", stripParens("x"))
}

func TestStringLiteral(t *testing.T) {
	assert.Equal(t, `"it's"`, StringLiteral(`'it\'s'`))
	assert.Equal(t, `"a\nb"`, StringLiteral("`a\nb`"))
	assert.Equal(t, `name`, StringLiteral(`name`))
}

func TestLayout(t *testing.T) {
	flat := []Line{
		{Text: "if a:", Source: 1},
		{Text: "# only a comment", Source: 2},
		{Text: "elif b:", Source: 3},
		{Text: "x = 1", Source: 4},
		{Text: "else:", Source: 5},
		{Text: "#end", Source: 6},
		{Text: "def f():", Source: 7},
		{Text: "#end", Source: 8},
	}
	got, err := Layout(flat, "  ")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"if a:",
		"  # only a comment",
		"  pass",
		"elif b:",
		"  x = 1",
		"else:",
		"  pass",
		"def f():",
		"  pass",
	}, texts(got))

	sources := make([]int, len(got))
	for i, l := range got {
		sources[i] = l.Source
	}
	assert.Equal(t, []int{1, 2, 3, 3, 4, 5, 6, 7, 8}, sources)
}

func TestLayout_Unbalanced(t *testing.T) {
	_, err := Layout([]Line{{Text: "#end", Source: 4}}, "  ")
	require.Error(t, err)

	_, err = Layout([]Line{{Text: "while True:", Source: 2}, {Text: "x = 1", Source: 3}}, "  ")
	var rwErr *RewriteError
	require.ErrorAs(t, err, &rwErr)
	assert.Equal(t, 2, rwErr.Line)
}
