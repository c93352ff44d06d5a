package channel

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // in-memory datasets for execute_sql
)

// executeSQL runs a query over an in-memory copy of a dataset. The dataset
// (a list of objects) becomes a table named after the script variable.
func (h *systemHandle) executeSQL(ctx context.Context, a Args) (any, error) {
	table, err := a.String(0, "table")
	if err != nil {
		return nil, err
	}
	query, err := a.String(2, "sql")
	if err != nil {
		return nil, err
	}
	data, _ := a.Value(1, "data")
	if s, ok := data.(string); ok {
		rows, err := jsonRows(s)
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", table, err)
		}
		data = rowsToAny(rows)
	}
	rows, err := toRows(data)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", table, err)
	}
	return queryDataset(ctx, table, rows, query)
}

func rowsToAny(rows []map[string]any) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func queryDataset(ctx context.Context, table string, rows []map[string]any, query string) ([]map[string]any, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()
	// Every connection to :memory: is its own database.
	db.SetMaxOpenConns(1)

	colSet := make(map[string]bool)
	for _, r := range rows {
		for k := range r {
			colSet[k] = true
		}
	}
	columns := make([]string, 0, len(colSet))
	for c := range colSet {
		columns = append(columns, c)
	}
	sort.Strings(columns)
	if len(columns) == 0 {
		columns = []string{"value"}
	}

	quoted := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
		marks[i] = "?"
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(quoted, ", "))); err != nil {
		return nil, fmt.Errorf("create dataset table: %w", err)
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(table), strings.Join(quoted, ", "), strings.Join(marks, ", "))
	for _, r := range rows {
		vals := make([]any, len(columns))
		for i, c := range columns {
			vals[i] = sqlValue(r[c])
		}
		if _, err := db.ExecContext(ctx, insert, vals...); err != nil {
			return nil, fmt.Errorf("load dataset: %w", err)
		}
	}

	result, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer func() { _ = result.Close() }()
	return ScanRows(result)
}

// sqlValue maps nested values to text so they survive the round trip.
func sqlValue(v any) any {
	switch v.(type) {
	case nil, string, int, int64, float64, bool:
		return v
	}
	return ToString(v)
}

// ScanRows reads every row into a map keyed by column name.
func ScanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := []map[string]any{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ---------- Dates ----------

// Layouts accepted for date arguments, tried in order.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
}

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04:05"
)

// ParseDate parses a date argument. The second result reports whether the
// input carried a time of day.
func ParseDate(v any) (time.Time, bool, error) {
	if t, ok := v.(time.Time); ok {
		return t, true, nil
	}
	s := strings.TrimSpace(ToString(v))
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, strings.Contains(layout, "15"), nil
		}
	}
	return time.Time{}, false, fmt.Errorf("invalid date %q", s)
}

func (h *systemHandle) dateArg(a Args, i int, name string) (time.Time, bool, error) {
	v, ok := a.Value(i, name)
	if !ok || v == nil || v == "" {
		return h.local.opts.Now(), true, nil
	}
	return ParseDate(v)
}

// DateDiff returns b - a in whole units of mode.
func DateDiff(a, b time.Time, mode string) (int64, error) {
	switch strings.ToLower(mode) {
	case "year", "years", "yyyy", "y":
		return int64(monthsBetween(a, b) / 12), nil
	case "month", "months", "m":
		return int64(monthsBetween(a, b)), nil
	case "week", "weeks", "ww":
		return int64(b.Sub(a).Hours() / (24 * 7)), nil
	case "day", "days", "d":
		return int64(b.Sub(a).Hours() / 24), nil
	case "hour", "hours", "h":
		return int64(b.Sub(a).Hours()), nil
	case "minute", "minutes", "n", "mi":
		return int64(b.Sub(a).Minutes()), nil
	case "second", "seconds", "s":
		return int64(b.Sub(a).Seconds()), nil
	}
	return 0, fmt.Errorf("unknown date unit %q", mode)
}

func monthsBetween(a, b time.Time) int {
	months := (b.Year()-a.Year())*12 + int(b.Month()-a.Month())
	// Count only completed months.
	if months > 0 && b.AddDate(0, -months, 0).Before(a) {
		months--
	}
	if months < 0 && b.AddDate(0, -months, 0).After(a) {
		months++
	}
	return months
}

// DateAdd moves t by units of mode.
func DateAdd(t time.Time, mode string, units int64) (time.Time, error) {
	n := int(units)
	switch strings.ToLower(mode) {
	case "year", "years", "yyyy", "y":
		return t.AddDate(n, 0, 0), nil
	case "month", "months", "m":
		return t.AddDate(0, n, 0), nil
	case "week", "weeks", "ww":
		return t.AddDate(0, 0, 7*n), nil
	case "day", "days", "d":
		return t.AddDate(0, 0, n), nil
	case "hour", "hours", "h":
		return t.Add(time.Duration(units) * time.Hour), nil
	case "minute", "minutes", "n", "mi":
		return t.Add(time.Duration(units) * time.Minute), nil
	case "second", "seconds", "s":
		return t.Add(time.Duration(units) * time.Second), nil
	}
	return time.Time{}, fmt.Errorf("unknown date unit %q", mode)
}

func (h *systemHandle) dateDiff(_ context.Context, a Args) (any, error) {
	d1, _, err := h.dateArg(a, 0, "date1")
	if err != nil {
		return nil, err
	}
	d2, _, err := h.dateArg(a, 1, "date2")
	if err != nil {
		return nil, err
	}
	mode, err := a.String(2, "mode")
	if err != nil {
		return nil, err
	}
	return DateDiff(d1, d2, mode)
}

func (h *systemHandle) dateAdd(_ context.Context, a Args) (any, error) {
	t, withTime, err := h.dateArg(a, 0, "date")
	if err != nil {
		return nil, err
	}
	mode, err := a.String(1, "mode")
	if err != nil {
		return nil, err
	}
	units, err := a.Int(2, "units")
	if err != nil {
		return nil, err
	}
	out, err := DateAdd(t, mode, units)
	if err != nil {
		return nil, err
	}
	if withTime {
		return out.Format(dateTimeLayout), nil
	}
	return out.Format(dateLayout), nil
}

func (h *systemHandle) date(_ context.Context, a Args) (any, error) {
	t, _, err := h.dateArg(a, 0, "value")
	if err != nil {
		return nil, err
	}
	return t.Format(dateLayout), nil
}

func (h *systemHandle) hour(_ context.Context, a Args) (any, error) {
	t, _, err := h.dateArg(a, 0, "value")
	if err != nil {
		return nil, err
	}
	return t.Hour(), nil
}

func (h *systemHandle) now(context.Context, Args) (any, error) {
	return h.local.opts.Now().Format(dateTimeLayout), nil
}

func (h *systemHandle) today(context.Context, Args) (any, error) {
	return h.local.opts.Now().Format(dateLayout), nil
}

func (h *systemHandle) base64(_ context.Context, a Args) (any, error) {
	v, ok := a.Value(0, "value")
	if !ok {
		return nil, errors.New("base64: missing argument value")
	}
	return base64.StdEncoding.EncodeToString([]byte(ToString(v))), nil
}

// datePattern maps BASIC date pattern tokens to Go layout tokens, longest
// first.
var datePattern = strings.NewReplacer(
	"yyyy", "2006", "yy", "06",
	"MM", "01", "dd", "02",
	"HH", "15", "hh", "03",
	"mm", "04", "ss", "05",
)

// format renders dates with patterns like "dd/MM/yyyy" and numbers with
// patterns like "#,##0.00".
func (h *systemHandle) format(_ context.Context, a Args) (any, error) {
	v, ok := a.Value(0, "value")
	if !ok {
		return nil, errors.New("format: missing argument value")
	}
	pattern := a.OptString(1, "pattern", "")
	if pattern == "" {
		return ToString(v), nil
	}
	if strings.ContainsAny(pattern, "yMdHhms") {
		t, _, err := ParseDate(v)
		if err != nil {
			return nil, err
		}
		return t.Format(datePattern.Replace(pattern)), nil
	}
	f, err := strconv.ParseFloat(ToString(v), 64)
	if err != nil {
		return ToString(v), nil
	}
	decimals := 0
	if i := strings.IndexByte(pattern, '.'); i >= 0 {
		decimals = len(pattern) - i - 1
	}
	s := strconv.FormatFloat(f, 'f', decimals, 64)
	if strings.Contains(pattern, ",") {
		s = groupDigits(s)
	}
	return s, nil
}

func groupDigits(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, _ := strings.Cut(s, ".")
	if frac != "" {
		frac = "." + frac
	}
	var b strings.Builder
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return sign + b.String() + frac
}
