package macro

import (
	"fmt"
	"strings"
)

// Block kinds tracked on the open-block stack.
const (
	blockIf       = "IF"
	blockFor      = "FOR"
	blockForEach  = "FOR EACH"
	blockDo       = "DO WHILE"
	blockFunction = "FUNCTION"
)

// terminators maps a block kind to the keyword that closes it.
var terminators = map[string]string{
	blockIf:       "END IF",
	blockFor:      "NEXT",
	blockForEach:  "NEXT",
	blockDo:       "LOOP",
	blockFunction: "END FUNCTION",
}

type captureMode int

const (
	captureNone captureMode = iota
	captureTalk
	capturePrompt
	captureTable
)

type openBlock struct {
	kind string
	line int
}

// State is the per-compile rewriter state. One State is shared by the
// delegated line rewriter and the code generator so temporary names stay
// unique across a program; it must never be shared between compiles.
type State struct {
	// Line is the source line currently being rewritten.
	Line int

	// SystemPrompt and Description are collected from the source.
	SystemPrompt string
	Description  string

	counter int
	blocks  []openBlock
	handles map[string]string // OPEN handle name -> "web" | "sheet"

	capture      captureMode
	captureStart int
	captured     []string
}

// NewState returns an empty rewriter state.
func NewState() *State {
	return &State{handles: make(map[string]string)}
}

// Next returns a fresh suffix for generated temporaries.
func (s *State) Next() int {
	s.counter++
	return s.counter
}

// SetHandle records the kind of an OPEN handle so CLOSE picks the right call.
func (s *State) SetHandle(name, kind string) {
	s.handles[strings.ToLower(name)] = kind
}

// HandleKind returns the recorded kind of an OPEN handle.
func (s *State) HandleKind(name string) string {
	return s.handles[strings.ToLower(name)]
}

func (s *State) capturing() bool {
	return s.capture != captureNone
}

func (s *State) startCapture(mode captureMode) {
	s.capture = mode
	s.captureStart = s.Line
	s.captured = nil
}

func (s *State) push(kind string) {
	s.blocks = append(s.blocks, openBlock{kind: kind, line: s.Line})
}

// pop closes the innermost block, which must be one of kinds.
func (s *State) pop(closer string, kinds ...string) (openBlock, error) {
	if len(s.blocks) == 0 {
		return openBlock{}, fmt.Errorf("%s without matching %s", closer, strings.Join(kinds, " or "))
	}
	top := s.blocks[len(s.blocks)-1]
	for _, k := range kinds {
		if top.kind == k {
			s.blocks = s.blocks[:len(s.blocks)-1]
			return top, nil
		}
	}
	return openBlock{}, fmt.Errorf("%s found but %s opened at line %d is still open", closer, top.kind, top.line)
}

// expectTop checks that the innermost open block is of kind without closing it.
func (s *State) expectTop(keyword, kind string) error {
	if len(s.blocks) == 0 || s.blocks[len(s.blocks)-1].kind != kind {
		return fmt.Errorf("%s without matching %s", keyword, kind)
	}
	return nil
}

// inside reports whether a block of the given kind is open.
func (s *State) inside(kind string) bool {
	for _, b := range s.blocks {
		if b.kind == kind {
			return true
		}
	}
	return false
}

// unclosed reports the first block still open at end of input.
func (s *State) unclosed() error {
	if s.capturing() {
		names := map[captureMode]string{
			captureTalk:   "END TALK",
			capturePrompt: "END SYSTEM PROMPT",
			captureTable:  "END TABLE",
		}
		return &RewriteError{Line: s.captureStart, Rule: "capture", Message: "missing " + names[s.capture]}
	}
	if len(s.blocks) > 0 {
		b := s.blocks[len(s.blocks)-1]
		return &RewriteError{
			Line:    b.line,
			Rule:    "blocks",
			Message: fmt.Sprintf("missing %s for %s opened at line %d", terminators[b.kind], b.kind, b.line),
		}
	}
	return nil
}
