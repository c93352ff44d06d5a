package channel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/chzyer/readline"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// ConsoleOptions configures the console dialog channel.
type ConsoleOptions struct {
	In  io.Reader
	Out io.Writer
	// Answers, when non-nil, replaces In with a fixed list of user replies.
	Answers []string
	// Color styles bot output; it is ignored when Out is not a terminal or
	// NO_COLOR is set.
	Color  bool
	Prompt string
	Logger *slog.Logger
}

// Console is a dialog channel bound to a terminal or a pair of streams. It
// is how `gbasic run` talks to a person.
type Console struct {
	opts   ConsoleOptions
	bot    lipgloss.Style
	menu   lipgloss.Style
	notice lipgloss.Style
}

// NewConsole creates a console dialog channel.
func NewConsole(opts ConsoleOptions) *Console {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Prompt == "" {
		opts.Prompt = "> "
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	c := &Console{opts: opts, bot: lipgloss.NewStyle(), menu: lipgloss.NewStyle(), notice: lipgloss.NewStyle()}
	if opts.Color && !termenv.EnvNoColor() && isTerminal(opts.Out) {
		c.bot = c.bot.Bold(true).Foreground(lipgloss.Color("12"))
		c.menu = c.menu.Foreground(lipgloss.Color("10"))
		c.notice = c.notice.Italic(true).Foreground(lipgloss.Color("8"))
	}
	return c
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Name returns the channel name.
func (c *Console) Name() string { return Dialog }

// Open returns a handle for one conversation.
func (c *Console) Open(_ context.Context, s Session) (Handle, error) {
	h := &consoleHandle{
		console: c,
		session: s,
		options: make(map[string]any),
		answers: c.opts.Answers,
	}
	h.methods = map[string]func(context.Context, Args) (any, error){
		"talk":          h.talk,
		"hear":          h.hear,
		"set_language":  h.setter("language"),
		"set_filter":    h.setter("filter"),
		"set_page_mode": h.setter("page_mode"),
		"set_option":    h.setOption,
		"transfer_to":   h.transferTo,
	}
	return h, nil
}

type consoleHandle struct {
	console *Console
	session Session
	methods map[string]func(context.Context, Args) (any, error)

	mu      sync.Mutex
	options map[string]any
	answers []string
	rl      *readline.Instance
	lines   *bufio.Reader
}

func (h *consoleHandle) Call(ctx context.Context, method string, args []any, kwargs map[string]any) (any, error) {
	fn, ok := h.methods[method]
	if !ok {
		return nil, &UnknownMethodError{Channel: Dialog, Method: method}
	}
	out, err := fn(ctx, NewArgs(method, args, kwargs))
	if err != nil {
		var callErr *CallError
		if errors.As(err, &callErr) {
			return nil, err
		}
		return nil, &CallError{Channel: Dialog, Method: method, Err: err}
	}
	return out, nil
}

func (h *consoleHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rl != nil {
		return h.rl.Close()
	}
	return nil
}

// Option returns a value set with set_option or one of the setters.
func (h *consoleHandle) Option(name string) (any, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.options[name]
	return v, ok
}

func (h *consoleHandle) say(style lipgloss.Style, text string) {
	_, _ = fmt.Fprintln(h.console.opts.Out, style.Render(text))
}

func (h *consoleHandle) talk(_ context.Context, a Args) (any, error) {
	v, ok := a.Value(0, "text")
	if !ok {
		return nil, errors.New("talk: missing argument text")
	}
	h.say(h.console.bot, ToString(v))
	return nil, nil
}

// readLine returns the next reply: a scripted answer, a readline prompt on
// a terminal, or the next line of In.
func (h *consoleHandle) readLine() (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.console
	if c.opts.Answers != nil {
		if len(h.answers) == 0 {
			return "", io.EOF
		}
		line := h.answers[0]
		h.answers = h.answers[1:]
		_, _ = fmt.Fprintln(c.opts.Out, c.opts.Prompt+line)
		return line, nil
	}
	if f, ok := c.opts.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if h.rl == nil {
			rl, err := readline.NewEx(&readline.Config{
				Prompt:          c.opts.Prompt,
				Stdin:           f,
				Stdout:          c.opts.Out,
				InterruptPrompt: "^C",
			})
			if err != nil {
				return "", fmt.Errorf("init console input: %w", err)
			}
			h.rl = rl
		}
		line, err := h.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			return "", io.EOF
		}
		return strings.TrimSpace(line), err
	}
	if h.lines == nil {
		h.lines = bufio.NewReader(c.opts.In)
	}
	_, _ = fmt.Fprint(c.opts.Out, c.opts.Prompt)
	line, err := h.lines.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// hear reads replies until one is valid for kind. Menu options are
// offered by number or by text.
func (h *consoleHandle) hear(_ context.Context, a Args) (any, error) {
	kind := strings.ToLower(a.OptString(0, "kind", "text"))
	var options []any
	if v, ok := a.Value(1, "options"); ok {
		if list, ok := v.([]any); ok {
			options = list
		}
	}
	for i, o := range options {
		h.say(h.console.menu, fmt.Sprintf("%d. %s", i+1, ToString(o)))
	}
	for {
		line, err := h.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("conversation ended before a reply")
			}
			return nil, err
		}
		if len(options) > 0 {
			if v, ok := pickOption(options, line); ok {
				return v, nil
			}
			h.say(h.console.notice, "Please choose one of the options.")
			continue
		}
		v, err := ParseReply(kind, line)
		if err == nil {
			return v, nil
		}
		h.console.opts.Logger.Debug("invalid reply", slog.String("kind", kind), slog.String("error", err.Error()))
		h.say(h.console.notice, "Please enter a valid "+kind+".")
	}
}

func pickOption(options []any, reply string) (any, bool) {
	if n, err := strconv.Atoi(reply); err == nil && n >= 1 && n <= len(options) {
		return options[n-1], true
	}
	for _, o := range options {
		if strings.EqualFold(ToString(o), reply) {
			return o, true
		}
	}
	return nil, false
}

var (
	emailPattern   = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	mobilePattern  = regexp.MustCompile(`^\+?[\d\s().-]{8,20}$`)
	zipcodePattern = regexp.MustCompile(`^\d{5}-?\d{3}$|^\d{5}(-\d{4})?$`)
	hourPattern    = regexp.MustCompile(`^([01]?\d|2[0-3]):[0-5]\d$`)
	digitsOnly     = regexp.MustCompile(`\D`)
)

// ParseReply validates and converts a reply for a HEAR kind. Unknown kinds
// accept any non-empty text.
func ParseReply(kind, reply string) (any, error) {
	reply = strings.TrimSpace(reply)
	switch kind {
	case "integer":
		n, err := strconv.ParseInt(reply, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("not an integer: %q", reply)
		}
		return n, nil
	case "number", "money":
		s := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(reply, "$"), "R$"))
		f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", reply)
		}
		return f, nil
	case "boolean":
		switch strings.ToLower(reply) {
		case "yes", "y", "true", "1", "sim", "s", "ok":
			return true, nil
		case "no", "n", "false", "0", "não", "nao":
			return false, nil
		}
		return nil, fmt.Errorf("not a yes/no answer: %q", reply)
	case "email", "login":
		if !emailPattern.MatchString(reply) {
			return nil, fmt.Errorf("not an email address: %q", reply)
		}
		return strings.ToLower(reply), nil
	case "date":
		t, _, err := ParseDate(reply)
		if err != nil {
			return nil, err
		}
		return t.Format(dateLayout), nil
	case "hour":
		if !hourPattern.MatchString(reply) {
			return nil, fmt.Errorf("not a time of day: %q", reply)
		}
		return reply, nil
	case "mobile":
		if !mobilePattern.MatchString(reply) {
			return nil, fmt.Errorf("not a phone number: %q", reply)
		}
		return digitsOnly.ReplaceAllString(reply, ""), nil
	case "zipcode":
		if !zipcodePattern.MatchString(reply) {
			return nil, fmt.Errorf("not a zip code: %q", reply)
		}
		return reply, nil
	case "cpf", "cnpj":
		digits := digitsOnly.ReplaceAllString(reply, "")
		want := 11
		if kind == "cnpj" {
			want = 14
		}
		if len(digits) != want {
			return nil, fmt.Errorf("%s needs %d digits", kind, want)
		}
		return digits, nil
	}
	if reply == "" {
		return nil, errors.New("empty reply")
	}
	return reply, nil
}

func (h *consoleHandle) setter(option string) func(context.Context, Args) (any, error) {
	return func(_ context.Context, a Args) (any, error) {
		v, ok := a.Value(0, "value")
		if !ok {
			return nil, fmt.Errorf("%s: missing argument value", a.Method)
		}
		h.mu.Lock()
		h.options[option] = v
		h.mu.Unlock()
		return nil, nil
	}
}

func (h *consoleHandle) setOption(_ context.Context, a Args) (any, error) {
	name, err := a.String(0, "name")
	if err != nil {
		return nil, err
	}
	v, _ := a.Value(1, "value")
	h.mu.Lock()
	h.options[name] = v
	h.mu.Unlock()
	return nil, nil
}

// transferTo hands the conversation to a person. On a console that only
// means telling the user.
func (h *consoleHandle) transferTo(_ context.Context, a Args) (any, error) {
	to := a.OptString(0, "to", "an attendant")
	h.say(h.console.notice, "Transferring you to "+to+".")
	h.console.opts.Logger.Info("transfer requested",
		slog.String("session", h.session.ID),
		slog.String("to", to))
	return true, nil
}
