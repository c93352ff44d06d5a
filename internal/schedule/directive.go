// Package schedule extracts SET SCHEDULE directives from scripts and runs
// them as cron jobs.
package schedule

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/GeneralBots/BotServer-sub001/internal/macro"
)

// Directive is one SET SCHEDULE occurrence. Seq is 1-based in source order.
type Directive struct {
	Cron  string `json:"cron" yaml:"cron"`
	Owner string `json:"owner" yaml:"owner"`
	Seq   int    `json:"seq" yaml:"seq"`
	Line  int    `json:"line" yaml:"line"`
}

// ID is the job identity, "<owner>#<seq>".
func (d Directive) ID() string {
	return fmt.Sprintf("%s#%d", d.Owner, d.Seq)
}

// Parser accepts standard 5-field expressions, an optional leading seconds
// field, and descriptors such as @hourly.
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var directiveRe = regexp.MustCompile(`(?i)^\s*SET\s+SCHEDULE\s+(?:TO\s+|=\s*)?(?:"([^"]*)"|'([^']*)')\s*$`)

// Extract pulls every quoted SET SCHEDULE line out of src. The returned
// source has those lines blanked so line numbers are unchanged. Unquoted
// forms are left in place for the rewriter to reject.
func Extract(src, owner string) ([]Directive, string, error) {
	lines := strings.Split(src, "\n")
	var out []Directive
	for i, line := range lines {
		m := directiveRe.FindStringSubmatch(strings.TrimSuffix(line, "\r"))
		if m == nil {
			continue
		}
		expr := strings.TrimSpace(m[1] + m[2])
		if _, err := Parser.Parse(expr); err != nil {
			return nil, "", &macro.RewriteError{
				Line:    i + 1,
				Rule:    "set schedule",
				Message: fmt.Sprintf("invalid cron expression %q: %v", expr, err),
			}
		}
		out = append(out, Directive{Cron: expr, Owner: owner, Seq: len(out) + 1, Line: i + 1})
		lines[i] = ""
	}
	return out, strings.Join(lines, "\n"), nil
}
