package channel

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
)

// sheet is a CSV export opened with OPEN ... FOR OUTPUT|APPEND.
type sheet struct {
	path string
	file *os.File
	w    *csv.Writer
}

func (s *sheet) write(values []any) error {
	row := make([]string, len(values))
	for i, v := range values {
		row[i] = ToString(v)
	}
	if err := s.w.Write(row); err != nil {
		return err
	}
	s.w.Flush()
	return s.w.Error()
}

func (s *sheet) close() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		_ = s.file.Close()
		return err
	}
	return s.file.Close()
}

// rooted cleans a script-supplied path for use under the work dir.
func rooted(p string) string {
	p = path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	if p == "/" {
		return "."
	}
	return strings.TrimPrefix(p, "/")
}

func isFilePath(p string) bool {
	return path.Ext(p) != ""
}

func (h *systemHandle) readCSV(p string) ([]map[string]any, error) {
	f, err := h.local.root.Open(rooted(p))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	if len(records) == 0 {
		return []map[string]any{}, nil
	}
	header := records[0]
	rows := make([]map[string]any, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]any, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			} else {
				row[col] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// writeCSV rewrites p with a header row taken from columns.
func (h *systemHandle) writeCSV(p string, columns []string, rows []map[string]any) error {
	f, err := h.local.root.Create(rooted(p))
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		_ = f.Close()
		return err
	}
	for _, row := range rows {
		rec := make([]string, len(columns))
		for i, c := range columns {
			rec[i] = ToString(row[c])
		}
		if err := w.Write(rec); err != nil {
			_ = f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (h *systemHandle) readFile(p string) ([]byte, error) {
	f, err := h.local.root.Open(rooted(p))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(io.LimitReader(f, maxResponseBytes))
}

// get reads a file: CSV as rows, JSON decoded, anything else as text.
func (h *systemHandle) get(_ context.Context, a Args) (any, error) {
	p, err := a.String(0, "path")
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".csv":
		return h.readCSV(p)
	case ".json":
		raw, err := h.readFile(p)
		if err != nil {
			return nil, err
		}
		return decodeBody(raw, "application/json"), nil
	}
	raw, err := h.readFile(p)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (h *systemHandle) find(ctx context.Context, a Args) (any, error) {
	file, err := a.String(0, "file")
	if err != nil {
		return nil, err
	}
	filter, err := ParseFilter(a.OptString(1, "filter", ""))
	if err != nil {
		return nil, err
	}
	if t := h.local.opts.Tables; t != nil && !isFilePath(file) && t.HasTable(file) {
		return t.Find(ctx, file, filter)
	}
	rows, err := h.readCSV(file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("no file or table named %q", file)
		}
		return nil, err
	}
	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		if filter.Match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// save appends one row to an open sheet, a storage table or a CSV file.
func (h *systemHandle) save(ctx context.Context, a Args) (any, error) {
	file, err := a.String(0, "file")
	if err != nil {
		return nil, err
	}
	values := a.Rest(1)
	if len(values) == 0 {
		return nil, errors.New("save: no values")
	}

	h.mu.Lock()
	s, isSheet := h.sheets[file]
	h.mu.Unlock()
	if isSheet {
		return nil, s.write(values)
	}
	if t := h.local.opts.Tables; t != nil && !isFilePath(file) && t.HasTable(file) {
		return nil, t.Insert(ctx, file, values)
	}
	if !isFilePath(file) {
		return nil, fmt.Errorf("no file or table named %q", file)
	}

	// A single object appends under the file's header, creating it if new.
	if obj, ok := values[0].(map[string]any); ok && len(values) == 1 {
		rows, err := h.readCSV(file)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, h.writeCSV(file, mergeColumns(h.header(file), obj), append(rows, obj))
	}

	f, err := h.local.root.OpenFile(rooted(file), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	s = &sheet{path: file, file: f, w: csv.NewWriter(f)}
	if err := s.write(values); err != nil {
		_ = s.close()
		return nil, err
	}
	return nil, s.close()
}

// header returns the first row of a CSV file, or nil.
func (h *systemHandle) header(file string) []string {
	f, err := h.local.root.Open(rooted(file))
	if err != nil {
		return nil
	}
	defer func() { _ = f.Close() }()
	rec, err := csv.NewReader(f).Read()
	if err != nil {
		return nil
	}
	return rec
}

func mergeColumns(columns []string, row map[string]any) []string {
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		seen[c] = true
	}
	var extra []string
	for k := range row {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(append([]string{}, columns...), extra...)
}

// merge upserts rows by key and returns how many rows it wrote.
func (h *systemHandle) merge(ctx context.Context, a Args) (any, error) {
	file, err := a.String(0, "file")
	if err != nil {
		return nil, err
	}
	key, err := a.String(2, "key")
	if err != nil {
		return nil, err
	}
	data, _ := a.Value(1, "data")
	incoming, err := toRows(data)
	if err != nil {
		return nil, err
	}
	if t := h.local.opts.Tables; t != nil && !isFilePath(file) && t.HasTable(file) {
		return t.Merge(ctx, file, incoming, key)
	}

	rows, err := h.readCSV(file)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	columns := h.header(file)
	byKey := make(map[string]int, len(rows))
	for i, r := range rows {
		if v, ok := lookupFold(r, key); ok {
			byKey[ToString(v)] = i
		}
	}
	for _, in := range incoming {
		columns = mergeColumns(columns, in)
		k, _ := lookupFold(in, key)
		if i, ok := byKey[ToString(k)]; ok {
			for c, v := range in {
				rows[i][c] = v
			}
			continue
		}
		byKey[ToString(k)] = len(rows)
		rows = append(rows, in)
	}
	if err := h.writeCSV(file, columns, rows); err != nil {
		return nil, err
	}
	return len(incoming), nil
}

func toRows(data any) ([]map[string]any, error) {
	switch d := data.(type) {
	case map[string]any:
		return []map[string]any{d}, nil
	case []map[string]any:
		return d, nil
	case []any:
		rows := make([]map[string]any, 0, len(d))
		for i, item := range d {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("row %d is not an object", i)
			}
			rows = append(rows, m)
		}
		return rows, nil
	}
	return nil, fmt.Errorf("expected a list of objects, got %T", data)
}

func (h *systemHandle) dirFolder(_ context.Context, a Args) (any, error) {
	p := a.OptString(0, "path", ".")
	f, err := h.local.root.Open(rooted(p))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	entries, err := f.ReadDir(-1)
	if err != nil {
		return nil, err
	}
	names := make([]any, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	return names, nil
}

// createFolder creates every missing directory along p.
func (h *systemHandle) createFolder(_ context.Context, a Args) (any, error) {
	p, err := a.String(0, "path")
	if err != nil {
		return nil, err
	}
	cur := ""
	for _, part := range strings.Split(rooted(p), "/") {
		if part == "." || part == "" {
			continue
		}
		cur = path.Join(cur, part)
		if err := h.local.root.Mkdir(cur, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
			return nil, err
		}
	}
	return cur, nil
}

func (h *systemHandle) deleteFile(_ context.Context, a Args) (any, error) {
	p, err := a.String(0, "file")
	if err != nil {
		return nil, err
	}
	return nil, h.local.root.Remove(rooted(p))
}

// upload copies a work-dir file into folder and returns the new path.
func (h *systemHandle) upload(ctx context.Context, a Args) (any, error) {
	src, err := a.String(0, "file")
	if err != nil {
		return nil, err
	}
	folder := a.OptString(1, "folder", "uploads")
	if _, err := h.createFolder(ctx, NewArgs("upload", []any{folder}, nil)); err != nil {
		return nil, err
	}
	in, err := h.local.root.Open(rooted(src))
	if err != nil {
		return nil, err
	}
	defer func() { _ = in.Close() }()
	dst := path.Join(rooted(folder), path.Base(rooted(src)))
	out, err := h.local.root.Create(dst)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return nil, err
	}
	return dst, out.Close()
}

// openSheet opens a CSV export and returns its handle id.
func (h *systemHandle) openSheet(_ context.Context, a Args) (any, error) {
	p, err := a.String(0, "path")
	if err != nil {
		return nil, err
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	switch mode := strings.ToLower(a.OptString(1, "mode", "output")); mode {
	case "output":
	case "append":
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	default:
		return nil, fmt.Errorf("unsupported sheet mode %q", mode)
	}
	f, err := h.local.root.OpenFile(rooted(p), flags, 0o644)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	id := fmt.Sprintf("sheet:%d:%s", h.seq, rooted(p))
	h.sheets[id] = &sheet{path: p, file: f, w: csv.NewWriter(f)}
	return id, nil
}

func (h *systemHandle) closeHandle(_ context.Context, a Args) (any, error) {
	id, err := a.String(0, "handle")
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	s, ok := h.sheets[id]
	delete(h.sheets, id)
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no open handle %q", id)
	}
	return nil, s.close()
}

// jsonRows is used by execute_sql when a dataset arrives as JSON text.
func jsonRows(s string) ([]map[string]any, error) {
	var rows []map[string]any
	if err := json.Unmarshal([]byte(s), &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
