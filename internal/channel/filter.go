package channel

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Condition is one comparison of a FIND filter.
type Condition struct {
	Field string
	Op    string
	Value string
}

// Filter is a conjunction of conditions: "name=John AND age>30". Commas
// separate conditions too.
type Filter []Condition

var (
	conditionPattern = regexp.MustCompile(`(?i)^\s*([\w.]+)\s*(>=|<=|<>|!=|==|=|>|<|\blike\b)\s*(.*?)\s*$`)
	filterSeparator  = regexp.MustCompile(`(?i)\s+AND\s+|\s*,\s*`)
)

// ParseFilter parses a filter expression. An empty expression matches
// everything.
func ParseFilter(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	var f Filter
	for _, part := range filterSeparator.Split(expr, -1) {
		m := conditionPattern.FindStringSubmatch(part)
		if m == nil {
			return nil, fmt.Errorf("invalid filter condition %q", part)
		}
		op := strings.ToLower(strings.TrimSpace(m[2]))
		switch op {
		case "==":
			op = "="
		case "<>":
			op = "!="
		}
		f = append(f, Condition{Field: m[1], Op: op, Value: strings.Trim(m[3], `"'`)})
	}
	return f, nil
}

// Match reports whether row satisfies every condition. Field names match
// case-insensitively; numbers compare numerically.
func (f Filter) Match(row map[string]any) bool {
	for _, c := range f {
		v, ok := lookupFold(row, c.Field)
		if !ok || !c.match(ToString(v)) {
			return false
		}
	}
	return true
}

func (c Condition) match(v string) bool {
	if c.Op == "like" {
		return likeMatch(strings.ToLower(v), strings.ToLower(c.Value))
	}
	cmp := compareValues(v, c.Value)
	switch c.Op {
	case "=":
		return cmp == 0
	case "!=":
		return cmp != 0
	case ">":
		return cmp > 0
	case "<":
		return cmp < 0
	case ">=":
		return cmp >= 0
	case "<=":
		return cmp <= 0
	}
	return false
}

func compareValues(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

// likeMatch implements SQL LIKE with % wildcards.
func likeMatch(s, pattern string) bool {
	parts := strings.Split(pattern, "%")
	if len(parts) == 1 {
		return s == pattern
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for _, p := range parts[1 : len(parts)-1] {
		i := strings.Index(s, p)
		if i < 0 {
			return false
		}
		s = s[i+len(p):]
	}
	return strings.HasSuffix(s, parts[len(parts)-1])
}

func lookupFold(row map[string]any, field string) (any, bool) {
	if v, ok := row[field]; ok {
		return v, true
	}
	for k, v := range row {
		if strings.EqualFold(k, field) {
			return v, true
		}
	}
	return nil, false
}
