package channel

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReply(t *testing.T) {
	tests := []struct {
		kind    string
		reply   string
		want    any
		wantErr bool
	}{
		{kind: "text", reply: " hi there ", want: "hi there"},
		{kind: "text", reply: "", wantErr: true},
		{kind: "integer", reply: "42", want: int64(42)},
		{kind: "integer", reply: "4.2", wantErr: true},
		{kind: "number", reply: "1,250.5", want: 1250.5},
		{kind: "money", reply: "$ 19.90", want: 19.9},
		{kind: "boolean", reply: "Sim", want: true},
		{kind: "boolean", reply: "no", want: false},
		{kind: "boolean", reply: "maybe", wantErr: true},
		{kind: "email", reply: "Ana@Example.com", want: "ana@example.com"},
		{kind: "email", reply: "ana@", wantErr: true},
		{kind: "date", reply: "15/03/2024", want: "2024-03-15"},
		{kind: "hour", reply: "23:59", want: "23:59"},
		{kind: "hour", reply: "24:00", wantErr: true},
		{kind: "mobile", reply: "+55 (21) 99999-0000", want: "5521999990000"},
		{kind: "zipcode", reply: "20040-020", want: "20040-020"},
		{kind: "cpf", reply: "123.456.789-09", want: "12345678909"},
		{kind: "cnpj", reply: "123", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.kind+"/"+tt.reply, func(t *testing.T) {
			got, err := ParseReply(tt.kind, tt.reply)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConsole_Conversation(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(ConsoleOptions{Out: &out, Answers: []string{"abc", "7", "2", "nope", "Blue"}})
	ctx := context.Background()
	h, err := c.Open(ctx, Session{ID: "s"})
	require.NoError(t, err)
	defer func() { _ = h.Close() }()

	_, err = h.Call(ctx, "talk", []any{"Hello"}, nil)
	require.NoError(t, err)

	n, err := h.Call(ctx, "hear", []any{"integer"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	pick, err := h.Call(ctx, "hear", []any{"menu", []any{"Red", "Green"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Green", pick)

	_, err = h.Call(ctx, "hear", []any{"menu"}, map[string]any{"options": []any{"Red", "Blue"}})
	require.NoError(t, err)

	_, err = h.Call(ctx, "hear", []any{"text"}, nil)
	require.Error(t, err, "answers exhausted")

	_, err = h.Call(ctx, "set_page_mode", []any{"auto"}, nil)
	require.NoError(t, err)
	v, ok := h.(*consoleHandle).Option("page_mode")
	require.True(t, ok)
	assert.Equal(t, "auto", v)

	_, err = h.Call(ctx, "transfer_to", []any{"sales"}, nil)
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "Hello")
	assert.Contains(t, text, "Please enter a valid integer.")
	assert.Contains(t, text, "2. Green")
	assert.Contains(t, text, "Please choose one of the options.")
	assert.Contains(t, text, "Transferring you to sales.")
}

func TestConsole_ReadsStream(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(ConsoleOptions{In: strings.NewReader("Maria\n"), Out: &out})
	ctx := context.Background()
	h, err := c.Open(ctx, Session{ID: "s"})
	require.NoError(t, err)

	name, err := h.Call(ctx, "hear", []any{"text"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Maria", name)

	_, err = h.Call(ctx, "hear", []any{"text"}, nil)
	require.Error(t, err)
}
