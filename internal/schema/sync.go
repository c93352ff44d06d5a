package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/GeneralBots/BotServer-sub001/pkg/adapter"
	"github.com/GeneralBots/BotServer-sub001/pkg/parser"
)

// Change kinds reported by Plan and Sync.
const (
	ChangeCreateTable = "create_table"
	ChangeAddColumn   = "add_column"
	// ChangeTypeDrift marks a column whose live type differs from its
	// declaration. It is reported, never applied.
	ChangeTypeDrift = "type_drift"
)

// Change is one step of a schema sync.
type Change struct {
	Connection string
	Table      string
	Column     string
	Kind       string
	Statements []string
}

// Syncer reconciles table definitions with live storage. It only ever
// creates tables and adds columns.
type Syncer struct {
	conns  *Connections
	logger *slog.Logger
}

// NewSyncer creates a syncer over conns.
func NewSyncer(conns *Connections, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Syncer{conns: conns, logger: logger}
}

// Plan computes the changes needed for tables without applying them.
func (s *Syncer) Plan(ctx context.Context, tables []*parser.TableDef) ([]Change, error) {
	var changes []Change
	for _, t := range dependencyOrder(tables) {
		conn, err := s.conns.Get(ctx, t.Connection)
		if err != nil {
			return nil, err
		}
		tc, err := planTable(ctx, conn, t)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", t.Name, err)
		}
		changes = append(changes, tc...)
	}
	return changes, nil
}

// Sync plans and applies the changes for tables, returning what was done.
// Drift is logged and left alone.
func (s *Syncer) Sync(ctx context.Context, tables []*parser.TableDef) ([]Change, error) {
	changes, err := s.Plan(ctx, tables)
	if err != nil {
		return nil, err
	}
	for _, c := range changes {
		if c.Kind == ChangeTypeDrift {
			s.logger.Warn("column type differs from declaration",
				slog.String("connection", connectionName(c.Connection)),
				slog.String("table", c.Table),
				slog.String("column", c.Column))
			continue
		}
		conn, err := s.conns.Get(ctx, c.Connection)
		if err != nil {
			return nil, err
		}
		for _, stmt := range c.Statements {
			if err := conn.Exec(ctx, stmt); err != nil {
				return nil, fmt.Errorf("table %s: %w", c.Table, err)
			}
		}
		s.logger.Info("schema changed",
			slog.String("connection", connectionName(c.Connection)),
			slog.String("table", c.Table),
			slog.String("change", c.Kind),
			slog.String("column", c.Column))
	}
	return changes, nil
}

func planTable(ctx context.Context, conn adapter.Adapter, t *parser.TableDef) ([]Change, error) {
	d := conn.Dialect()
	meta, err := conn.GetTableMetadata(ctx, t.Name)
	var notFound *adapter.TableNotFoundError
	if errors.As(err, &notFound) {
		return []Change{{
			Connection: t.Connection,
			Table:      t.Name,
			Kind:       ChangeCreateTable,
			Statements: d.CreateTable(t),
		}}, nil
	}
	if err != nil {
		return nil, err
	}

	live := make(map[string]adapter.Column, len(meta.Columns))
	for _, c := range meta.Columns {
		live[strings.ToLower(c.Name)] = c
	}

	var changes []Change
	for _, f := range t.OrderedFields() {
		col, ok := live[strings.ToLower(f.Name)]
		if !ok {
			changes = append(changes, Change{
				Connection: t.Connection,
				Table:      t.Name,
				Column:     f.Name,
				Kind:       ChangeAddColumn,
				Statements: []string{d.AddColumn(t.Name, f)},
			})
			continue
		}
		if !sameType(baseType(d.ColumnType(f)), baseType(col.Type)) {
			changes = append(changes, Change{
				Connection: t.Connection,
				Table:      t.Name,
				Column:     f.Name,
				Kind:       ChangeTypeDrift,
			})
		}
	}
	return changes, nil
}

// typeFamilies groups names backends report for the same declared type.
var typeFamilies = map[string]string{
	"varchar": "text", "character varying": "text", "text": "text", "string": "text", "char": "text",
	"integer": "int", "bigint": "int", "int": "int", "int8": "int", "int4": "int", "bigserial": "int",
	"numeric": "decimal", "decimal": "decimal",
	"real": "float", "float": "float", "double": "float", "double precision": "float", "float4": "float", "float8": "float",
	"timestamp": "time", "timestamp without time zone": "time", "date": "time",
	"boolean": "bool", "bool": "bool",
	"uuid": "uuid",
}

func baseType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	return t
}

func sameType(declared, live string) bool {
	if declared == live {
		return true
	}
	a, okA := typeFamilies[declared]
	b, okB := typeFamilies[live]
	return okA && okB && a == b
}

// dependencyOrder puts referenced tables before the tables that reference
// them. Tables keep declaration order otherwise.
func dependencyOrder(tables []*parser.TableDef) []*parser.TableDef {
	byName := make(map[string]*parser.TableDef, len(tables))
	for _, t := range tables {
		byName[strings.ToLower(t.Name)] = t
	}
	done := make(map[*parser.TableDef]bool, len(tables))
	out := make([]*parser.TableDef, 0, len(tables))
	var visit func(t *parser.TableDef)
	visit = func(t *parser.TableDef) {
		if done[t] {
			return
		}
		done[t] = true
		for _, f := range t.OrderedFields() {
			if ref, ok := byName[strings.ToLower(f.References)]; ok {
				visit(ref)
			}
		}
		out = append(out, t)
	}
	for _, t := range tables {
		visit(t)
	}
	return out
}

func connectionName(name string) string {
	if name == "" {
		return DefaultConnection
	}
	return name
}
