package macro

import "fmt"

// RewriteError is returned when a rule cannot rewrite a line, usually because
// a required capability parameter is missing.
type RewriteError struct {
	Line    int
	Rule    string
	Message string
}

func (e *RewriteError) Error() string {
	return fmt.Sprintf("rewrite error at line %d (%s): %s", e.Line, e.Rule, e.Message)
}
