package schema

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/GeneralBots/BotServer-sub001/internal/channel"
	"github.com/GeneralBots/BotServer-sub001/pkg/adapter"
	"github.com/GeneralBots/BotServer-sub001/pkg/parser"
)

// Store serves FIND, SAVE and MERGE on declared tables through their
// connections.
type Store struct {
	conns *Connections

	mu     sync.RWMutex
	tables map[string]*parser.TableDef
}

var _ channel.TableStore = (*Store)(nil)

// NewStore creates a store over conns.
func NewStore(conns *Connections) *Store {
	return &Store{conns: conns, tables: make(map[string]*parser.TableDef)}
}

// Register makes tables reachable by name. A later definition of the same
// table replaces the earlier one.
func (s *Store) Register(tables ...*parser.TableDef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tables {
		s.tables[strings.ToLower(t.Name)] = t
	}
}

// HasTable reports whether name is a registered table.
func (s *Store) HasTable(name string) bool {
	_, ok := s.table(name)
	return ok
}

func (s *Store) table(name string) (*parser.TableDef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[strings.ToLower(name)]
	return t, ok
}

func (s *Store) open(ctx context.Context, name string) (*parser.TableDef, adapter.Adapter, error) {
	t, ok := s.table(name)
	if !ok {
		return nil, nil, fmt.Errorf("unknown table %q", name)
	}
	conn, err := s.conns.Get(ctx, t.Connection)
	if err != nil {
		return nil, nil, err
	}
	return t, conn, nil
}

// Find selects the rows of table matching filter.
func (s *Store) Find(ctx context.Context, table string, filter channel.Filter) ([]map[string]any, error) {
	t, conn, err := s.open(ctx, table)
	if err != nil {
		return nil, err
	}
	d := conn.Dialect()

	var where []string
	var args []any
	for _, c := range filter {
		f, ok := t.Field(c.Field)
		if !ok {
			return nil, fmt.Errorf("table %s has no field %q", t.Name, c.Field)
		}
		v, err := coerce(f, c.Value)
		if err != nil {
			return nil, err
		}
		op := c.Op
		if op == "like" {
			op = "LIKE"
			v = strings.ReplaceAll(c.Value, "*", "%")
		}
		args = append(args, v)
		where = append(where, fmt.Sprintf("%s %s %s", d.QuoteIdent(f.Name), op, d.FormatPlaceholder(len(args))))
	}

	query := "SELECT * FROM " + d.QuoteIdent(t.Name)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return channel.ScanRows(rows)
}

// Insert adds one row. values are either a single object or positional
// values in declaration order, skipping auto-increment fields.
func (s *Store) Insert(ctx context.Context, table string, values []any) error {
	t, conn, err := s.open(ctx, table)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return fmt.Errorf("table %s: no values", t.Name)
	}
	if obj, ok := values[0].(map[string]any); ok && len(values) == 1 {
		return insertRow(ctx, conn, t, obj)
	}

	var fields []*parser.FieldDef
	for _, f := range t.OrderedFields() {
		if !f.AutoIncrement {
			fields = append(fields, f)
		}
	}
	if len(values) > len(fields) {
		return fmt.Errorf("table %s takes %d values, got %d", t.Name, len(fields), len(values))
	}
	row := make(map[string]any, len(values))
	for i, v := range values {
		row[fields[i].Name] = v
	}
	return insertRow(ctx, conn, t, row)
}

// Merge updates rows whose key matches and inserts the rest. It returns
// the number of rows written.
func (s *Store) Merge(ctx context.Context, table string, rows []map[string]any, key string) (int, error) {
	t, conn, err := s.open(ctx, table)
	if err != nil {
		return 0, err
	}
	kf, ok := t.Field(key)
	if !ok {
		return 0, fmt.Errorf("table %s has no field %q", t.Name, key)
	}
	d := conn.Dialect()

	n := 0
	for _, row := range rows {
		kv, ok := lookup(row, key)
		if !ok {
			return n, fmt.Errorf("row %d has no %s", n+1, key)
		}
		exists, err := rowExists(ctx, conn, t, kf, kv)
		if err != nil {
			return n, err
		}
		if !exists {
			if err := insertRow(ctx, conn, t, row); err != nil {
				return n, err
			}
			n++
			continue
		}

		cols, args, err := columnValues(t, row, kf.Name)
		if err != nil {
			return n, err
		}
		if len(cols) > 0 {
			set := make([]string, len(cols))
			for i, c := range cols {
				set[i] = fmt.Sprintf("%s = %s", d.QuoteIdent(c), d.FormatPlaceholder(i+1))
			}
			args = append(args, kv)
			query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s", d.QuoteIdent(t.Name),
				strings.Join(set, ", "), d.QuoteIdent(kf.Name), d.FormatPlaceholder(len(args)))
			if err := conn.Exec(ctx, query, args...); err != nil {
				return n, err
			}
		}
		n++
	}
	return n, nil
}

func rowExists(ctx context.Context, conn adapter.Adapter, t *parser.TableDef, kf *parser.FieldDef, kv any) (bool, error) {
	d := conn.Dialect()
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = %s", d.QuoteIdent(t.Name), d.QuoteIdent(kf.Name), d.FormatPlaceholder(1))
	v, err := coerce(kf, kv)
	if err != nil {
		return false, err
	}
	rows, err := conn.Query(ctx, query, v)
	if err != nil {
		return false, err
	}
	defer func() { _ = rows.Close() }()
	var count int64
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return false, err
		}
	}
	return count > 0, rows.Err()
}

func insertRow(ctx context.Context, conn adapter.Adapter, t *parser.TableDef, row map[string]any) error {
	d := conn.Dialect()
	cols, args, err := columnValues(t, row, "")
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return fmt.Errorf("table %s: nothing to insert", t.Name)
	}
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.QuoteIdent(c)
		marks[i] = d.FormatPlaceholder(i + 1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", d.QuoteIdent(t.Name), strings.Join(quoted, ", "), strings.Join(marks, ", "))
	return conn.Exec(ctx, query, args...)
}

// columnValues returns the declared columns present in row, in declaration
// order, with their coerced values. Unknown keys are ignored.
func columnValues(t *parser.TableDef, row map[string]any, skip string) ([]string, []any, error) {
	var cols []string
	var args []any
	for _, f := range t.OrderedFields() {
		if strings.EqualFold(f.Name, skip) {
			continue
		}
		v, ok := lookup(row, f.Name)
		if !ok {
			continue
		}
		cv, err := coerce(f, v)
		if err != nil {
			return nil, nil, err
		}
		cols = append(cols, f.Name)
		args = append(args, cv)
	}
	return cols, args, nil
}

func lookup(row map[string]any, name string) (any, bool) {
	if v, ok := row[name]; ok {
		return v, true
	}
	for k, v := range row {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

// coerce converts a script value to the Go type of a field's column.
func coerce(f *parser.FieldDef, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	s, isString := v.(string)
	if !isString {
		return v, nil
	}
	s = strings.TrimSpace(s)
	switch strings.ToUpper(f.Type) {
	case parser.FieldInteger, parser.FieldKey, parser.FieldTable:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("field %s: %q is not an integer", f.Name, s)
		}
		return n, nil
	case parser.FieldNumber, parser.FieldDouble, parser.FieldFloat:
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("field %s: %q is not a number", f.Name, s)
		}
		return n, nil
	case parser.FieldBoolean:
		b, err := strconv.ParseBool(strings.ToLower(s))
		if err != nil {
			return nil, fmt.Errorf("field %s: %q is not a boolean", f.Name, s)
		}
		return b, nil
	case parser.FieldDate:
		t, _, err := channel.ParseDate(s)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		return t, nil
	}
	return s, nil
}
