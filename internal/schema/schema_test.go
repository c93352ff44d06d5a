package schema

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeneralBots/BotServer-sub001/internal/channel"
	"github.com/GeneralBots/BotServer-sub001/internal/testutil"
	"github.com/GeneralBots/BotServer-sub001/pkg/adapter"
	"github.com/GeneralBots/BotServer-sub001/pkg/parser"

	_ "github.com/GeneralBots/BotServer-sub001/pkg/adapters/sqlite"
)

// mockAdapter runs an adapter over a sqlmock connection.
type mockAdapter struct {
	adapter.BaseSQLAdapter
}

var mockDialect = &adapter.Dialect{
	Name:          "mock",
	DefaultSchema: "public",
	Placeholder:   adapter.DollarPlaceholder,
	Types: map[string]string{
		parser.FieldString:  "TEXT",
		parser.FieldInteger: "BIGINT",
		parser.FieldKey:     "BIGINT",
		parser.FieldDate:    "TIMESTAMP",
	},
	Sized:  map[string]string{parser.FieldString: "VARCHAR(%d)"},
	Serial: func(string, string) (string, []string) { return "BIGSERIAL PRIMARY KEY", nil },
}

func (m *mockAdapter) Connect(context.Context, adapter.Config) error { return nil }
func (m *mockAdapter) Dialect() *adapter.Dialect                      { return mockDialect }
func (m *mockAdapter) GetTableMetadata(ctx context.Context, table string) (*adapter.Metadata, error) {
	return m.GetTableMetadataCommon(ctx, table, mockDialect)
}

func newMock(t *testing.T) (*Connections, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	conns := NewConnections(nil, testutil.NewTestLogger(t))
	conns.Put("crm", &mockAdapter{BaseSQLAdapter: adapter.BaseSQLAdapter{DB: db}})
	return conns, mock
}

func columnRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable", "ordinal_position"})
}

func leadsTable() *parser.TableDef {
	t := parser.NewTableDef("Leads", "crm")
	t.Add(&parser.FieldDef{Name: "id", Type: parser.FieldKey, PrimaryKey: true, AutoIncrement: true, Unique: true})
	t.Add(&parser.FieldDef{Name: "Name", Type: parser.FieldString, Size: 60})
	t.Add(&parser.FieldDef{Name: "Phone", Type: parser.FieldString, Size: 20, AllowNull: true})
	return t
}

func TestSyncer_CreatesMissingTable(t *testing.T) {
	conns, mock := newMock(t)
	mock.ExpectQuery("information_schema.columns").WithArgs("public", "Leads").WillReturnRows(columnRows())
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "Leads" \("id" BIGSERIAL PRIMARY KEY, "Name" VARCHAR\(60\) NOT NULL, "Phone" VARCHAR\(20\)\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	changes, err := NewSyncer(conns, testutil.NewTestLogger(t)).Sync(context.Background(), []*parser.TableDef{leadsTable()})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, ChangeCreateTable, changes[0].Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncer_AddsColumnsOnly(t *testing.T) {
	conns, mock := newMock(t)
	mock.ExpectQuery("information_schema.columns").WithArgs("public", "Leads").WillReturnRows(columnRows().
		AddRow("id", "bigint", "NO", 1).
		AddRow("name", "integer", "NO", 2).
		AddRow("legacy", "text", "YES", 3))
	mock.ExpectExec(`ALTER TABLE "Leads" ADD COLUMN "Phone" VARCHAR\(20\)`).WillReturnResult(sqlmock.NewResult(0, 0))

	changes, err := NewSyncer(conns, testutil.NewTestLogger(t)).Sync(context.Background(), []*parser.TableDef{leadsTable()})
	require.NoError(t, err)

	kinds := make(map[string]string)
	for _, c := range changes {
		kinds[c.Column] = c.Kind
	}
	assert.Equal(t, map[string]string{"Name": ChangeTypeDrift, "Phone": ChangeAddColumn}, kinds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncer_PlanDoesNotExecute(t *testing.T) {
	conns, mock := newMock(t)
	mock.ExpectQuery("information_schema.columns").WillReturnRows(columnRows())

	changes, err := NewSyncer(conns, nil).Plan(context.Background(), []*parser.TableDef{leadsTable()})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncer_UnknownConnection(t *testing.T) {
	conns := NewConnections(nil, nil)
	_, err := NewSyncer(conns, nil).Sync(context.Background(), []*parser.TableDef{parser.NewTableDef("x", "nowhere")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nowhere")
}

func TestDependencyOrder(t *testing.T) {
	orders := parser.NewTableDef("Orders", "")
	orders.Add(&parser.FieldDef{Name: "customer", Type: parser.FieldTable, References: "customers"})
	customers := parser.NewTableDef("Customers", "")
	notes := parser.NewTableDef("Notes", "")

	got := dependencyOrder([]*parser.TableDef{orders, notes, customers})
	names := make([]string, len(got))
	for i, t := range got {
		names[i] = t.Name
	}
	assert.Equal(t, []string{"Customers", "Orders", "Notes"}, names)
}

func sqliteStore(t *testing.T) (*Store, *Connections) {
	t.Helper()
	conns := NewConnections(map[string]adapter.Config{
		DefaultConnection: {Type: "sqlite", Path: filepath.Join(t.TempDir(), "bot.db")},
	}, testutil.NewTestLogger(t))
	t.Cleanup(func() { _ = conns.Close() })

	people := parser.NewTableDef("People", "")
	people.Add(&parser.FieldDef{Name: "id", Type: parser.FieldKey, PrimaryKey: true, AutoIncrement: true})
	people.Add(&parser.FieldDef{Name: "Name", Type: parser.FieldString, Size: 40})
	people.Add(&parser.FieldDef{Name: "Age", Type: parser.FieldInteger, AllowNull: true})
	people.Add(&parser.FieldDef{Name: "Email", Type: parser.FieldString, AllowNull: true})

	_, err := NewSyncer(conns, nil).Sync(context.Background(), []*parser.TableDef{people})
	require.NoError(t, err)

	store := NewStore(conns)
	store.Register(people)
	return store, conns
}

func TestStore_InsertFindMerge(t *testing.T) {
	ctx := context.Background()
	store, _ := sqliteStore(t)

	assert.True(t, store.HasTable("people"))
	assert.False(t, store.HasTable("orders"))

	require.NoError(t, store.Insert(ctx, "people", []any{"Ana", "31", "ana@x.io"}))
	require.NoError(t, store.Insert(ctx, "People", []any{map[string]any{"name": "Bo", "age": int64(25)}}))
	require.Error(t, store.Insert(ctx, "people", []any{"a", 1, "b", "extra"}))

	filter, err := channel.ParseFilter("age>30")
	require.NoError(t, err)
	rows, err := store.Find(ctx, "people", filter)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ana", rows[0]["Name"])

	filter, err = channel.ParseFilter("name like B*")
	require.NoError(t, err)
	rows, err = store.Find(ctx, "people", filter)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Bo", rows[0]["Name"])

	n, err := store.Merge(ctx, "people", []map[string]any{
		{"Email": "ana@x.io", "Age": 32},
		{"Email": "cy@x.io", "Name": "Cy"},
	}, "email")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err = store.Find(ctx, "people", nil)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	filter, _ = channel.ParseFilter("email=ana@x.io")
	rows, err = store.Find(ctx, "people", filter)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 32, rows[0]["Age"])

	_, err = store.Find(ctx, "people", channel.Filter{{Field: "nope", Op: "=", Value: "1"}})
	require.Error(t, err)
}

func TestSyncer_SqliteIsAdditive(t *testing.T) {
	ctx := context.Background()
	_, conns := sqliteStore(t)

	people := parser.NewTableDef("People", "")
	people.Add(&parser.FieldDef{Name: "Name", Type: parser.FieldString, Size: 40})
	people.Add(&parser.FieldDef{Name: "City", Type: parser.FieldString, AllowNull: true})

	changes, err := NewSyncer(conns, nil).Sync(ctx, []*parser.TableDef{people})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "City", changes[0].Column)

	conn, err := conns.Get(ctx, "")
	require.NoError(t, err)
	meta, err := conn.GetTableMetadata(ctx, "people")
	require.NoError(t, err)
	assert.Len(t, meta.Columns, 5, "no column is ever dropped")
}

func TestSidecar(t *testing.T) {
	path := filepath.Join(t.TempDir(), SidecarName("crm"))
	tables := []*parser.TableDef{leadsTable()}

	require.NoError(t, WriteSidecar(path, "crm", tables))
	sc, err := ReadSidecar(path)
	require.NoError(t, err)
	assert.Equal(t, "crm", sc.Script)
	assert.Equal(t, tables, sc.Tables)

	tasks := TasksFor("crm", tables)
	require.Len(t, tasks, 1)
	assert.Equal(t, KindWriteTableDefinition, tasks[0].Kind)
	assert.Equal(t, "crm.tables.yaml", tasks[0].TargetFile)
	assert.Nil(t, TasksFor("crm", nil))
}
