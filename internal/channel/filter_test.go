package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		want    Filter
		wantErr bool
	}{
		{name: "empty", expr: "  ", want: nil},
		{name: "equality", expr: "name=John", want: Filter{{Field: "name", Op: "=", Value: "John"}}},
		{name: "double equals", expr: "name == 'John'", want: Filter{{Field: "name", Op: "=", Value: "John"}}},
		{name: "basic inequality", expr: "status <> done", want: Filter{{Field: "status", Op: "!=", Value: "done"}}},
		{
			name: "and",
			expr: "age>=30 AND city=Rio",
			want: Filter{{Field: "age", Op: ">=", Value: "30"}, {Field: "city", Op: "=", Value: "Rio"}},
		},
		{
			name: "comma",
			expr: `age<40, name LIKE "j%"`,
			want: Filter{{Field: "age", Op: "<", Value: "40"}, {Field: "name", Op: "like", Value: "j%"}},
		},
		{name: "no operator", expr: "name", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFilter(tt.expr)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilter_Match(t *testing.T) {
	row := map[string]any{"Name": "John Smith", "age": "42", "city": "Rio"}
	tests := []struct {
		expr string
		want bool
	}{
		{"", true},
		{"name=john smith", true},
		{"age>9", true},
		{"age<100", true},
		{"age>=42 AND city=Rio", true},
		{"age>42", false},
		{"city!=Rio", false},
		{"name like jo%", true},
		{"name like %smith", true},
		{"name like %x%", false},
		{"missing=1", false},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			f, err := ParseFilter(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Match(row))
		})
	}
}
