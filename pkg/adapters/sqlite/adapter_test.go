package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeneralBots/BotServer-sub001/pkg/adapter"
	"github.com/GeneralBots/BotServer-sub001/pkg/parser"
)

func connect(t *testing.T, cfg adapter.Config) *Adapter {
	t.Helper()
	adp := New(nil)
	require.NoError(t, adp.Connect(context.Background(), cfg))
	t.Cleanup(func() { _ = adp.Close() })
	return adp
}

func TestAdapter_Connect(t *testing.T) {
	tests := []struct {
		name string
		cfg  adapter.Config
	}{
		{"in-memory", adapter.Config{}},
		{"file", adapter.Config{Path: filepath.Join(t.TempDir(), "bot.db")}},
		{"pragmas", adapter.Config{Params: map[string]any{"pragmas": map[string]any{"cache_size": -2000}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adp := connect(t, tt.cfg)
			require.NoError(t, adp.Exec(context.Background(), "SELECT 1"))
		})
	}
}

func TestAdapter_Metadata(t *testing.T) {
	ctx := context.Background()
	adp := connect(t, adapter.Config{})

	table := parser.NewTableDef("Customers", "main")
	table.Add(&parser.FieldDef{Name: "id", Type: parser.FieldKey, PrimaryKey: true, AutoIncrement: true})
	table.Add(&parser.FieldDef{Name: "Name", Type: parser.FieldString, Size: 40})
	table.Add(&parser.FieldDef{Name: "Birth", Type: parser.FieldDate, AllowNull: true})
	for _, stmt := range adp.Dialect().CreateTable(table) {
		require.NoError(t, adp.Exec(ctx, stmt))
	}

	meta, err := adp.GetTableMetadata(ctx, "customers")
	require.NoError(t, err)
	assert.Equal(t, "Customers", meta.Name)
	assert.Equal(t, []adapter.Column{
		{Name: "id", Type: "INTEGER", Nullable: false, Position: 1},
		{Name: "Name", Type: "VARCHAR(40)", Nullable: false, Position: 2},
		{Name: "Birth", Type: "TIMESTAMP", Nullable: true, Position: 3},
	}, meta.Columns)

	_, err = adp.GetTableMetadata(ctx, "orders")
	var nf *adapter.TableNotFoundError
	require.ErrorAs(t, err, &nf)
}
