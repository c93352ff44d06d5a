// Package channel defines the capability boundary between a running script
// and the host: dialog, system, web automation and image services.
//
// A Channel is long lived and owned by a tenant (it holds reusable clients
// and transports). Every run opens its own Handle, and the sandbox closes all
// handles when the run ends, whatever the outcome.
package channel

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Channel names as bound by the module preamble.
const (
	Dialog = "dialog"
	System = "system"
	Web    = "web"
	Image  = "image"
)

// Names lists every channel in binding order.
var Names = []string{Dialog, System, Web, Image}

// Methods is the method set of each channel.
var Methods = map[string][]string{
	Dialog: {"talk", "hear", "set_language", "set_filter", "set_page_mode", "set_option", "transfer_to"},
	System: {
		"get_http", "post_http", "put_http", "execute_sql", "save", "get", "find",
		"merge", "dir_folder", "create_folder", "delete_file", "upload", "open_sheet",
		"close_handle", "date_diff", "date_add", "date", "hour", "base64", "now",
		"today", "create_deal", "pay", "send_mail", "set_option", "refresh_token", "format",
	},
	Web:   {"open_page", "click", "get_by_selector", "screenshot", "page_text", "close_page"},
	Image: {"blur", "sharpen", "generate", "card"},
}

// HasMethod reports whether method belongs to channel name.
func HasMethod(name, method string) bool {
	for _, m := range Methods[name] {
		if m == method {
			return true
		}
	}
	return false
}

// Session identifies the run a handle serves.
type Session struct {
	ID      string `json:"id"`
	Tenant  string `json:"tenant"`
	Script  string `json:"script"`
	User    string `json:"user,omitempty"`
	Channel string `json:"channel,omitempty"`
	Locale  string `json:"locale,omitempty"`
}

// Channel opens per-run handles.
type Channel interface {
	Name() string
	Open(ctx context.Context, s Session) (Handle, error)
}

// Handle is one run's view of a channel.
type Handle interface {
	// Call invokes method. Arguments may be positional, named, or both;
	// implementations resolve named arguments by parameter name.
	Call(ctx context.Context, method string, args []any, kwargs map[string]any) (any, error)
	Close() error
}

// Set is the group of channels available to one tenant.
type Set map[string]Channel

// Open opens a handle on every channel in the set. On failure the handles
// opened so far are closed.
func (s Set) Open(ctx context.Context, sess Session) (map[string]Handle, error) {
	handles := make(map[string]Handle, len(s))
	for _, name := range Names {
		ch, ok := s[name]
		if !ok {
			ch = Unavailable(name)
		}
		h, err := ch.Open(ctx, sess)
		if err != nil {
			CloseAll(handles)
			return nil, fmt.Errorf("open %s channel: %w", name, err)
		}
		handles[name] = h
	}
	return handles, nil
}

// CloseAll closes every handle and returns the first error.
func CloseAll(handles map[string]Handle) error {
	names := make([]string, 0, len(handles))
	for n := range handles {
		names = append(names, n)
	}
	sort.Strings(names)
	var first error
	for _, n := range names {
		if err := handles[n].Close(); err != nil && first == nil {
			first = fmt.Errorf("close %s channel: %w", n, err)
		}
	}
	return first
}

// CallError is a failed capability call. Status is set for HTTP-backed
// calls whose generated retries were exhausted.
type CallError struct {
	Channel string
	Method  string
	Target  string
	Status  int
	Err     error
}

func (e *CallError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "capability call %s.%s failed", e.Channel, e.Method)
	if e.Target != "" {
		fmt.Fprintf(&b, " for %s", e.Target)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " with status %d", e.Status)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// UnknownMethodError is returned for a method outside the channel's set.
type UnknownMethodError struct {
	Channel string
	Method  string
}

func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("channel %s has no method %q", e.Channel, e.Method)
}

// unavailable backs channels that are not configured for a tenant. Opening
// succeeds so scripts that never touch the channel still run.
type unavailable struct{ name string }

// Unavailable returns a channel whose calls all fail.
func Unavailable(name string) Channel { return unavailable{name: name} }

func (u unavailable) Name() string { return u.name }

func (u unavailable) Open(context.Context, Session) (Handle, error) { return u, nil }

func (u unavailable) Call(_ context.Context, method string, _ []any, _ map[string]any) (any, error) {
	return nil, &CallError{Channel: u.name, Method: method, Err: fmt.Errorf("%s channel is not configured", u.name)}
}

func (u unavailable) Close() error { return nil }
