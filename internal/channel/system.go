package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// Credential is an OAuth client-credentials grant used by refresh_token.
// Requests to URLs under BaseURL carry the refreshed bearer token.
type Credential struct {
	TokenURL     string `koanf:"token_url" json:"token_url" yaml:"token_url"`
	ClientID     string `koanf:"client_id" json:"client_id" yaml:"client_id"`
	ClientSecret string `koanf:"client_secret" json:"-" yaml:"client_secret"`
	Scope        string `koanf:"scope" json:"scope,omitempty" yaml:"scope,omitempty"`
	BaseURL      string `koanf:"base_url" json:"base_url,omitempty" yaml:"base_url,omitempty"`
}

// TableStore gives FIND, SAVE and MERGE access to storage tables.
type TableStore interface {
	HasTable(name string) bool
	Find(ctx context.Context, table string, filter Filter) ([]map[string]any, error)
	Insert(ctx context.Context, table string, values []any) error
	Merge(ctx context.Context, table string, rows []map[string]any, key string) (int, error)
}

// SystemOptions configures the local system channel.
type SystemOptions struct {
	// WorkDir roots every file the script can reach.
	WorkDir     string
	Tables      TableStore
	Credentials map[string]Credential
	// Forward serves the business methods (create_deal, pay, send_mail)
	// that have no local implementation.
	Forward Channel
	Client  *http.Client
	// TokenAttempts bounds refresh_token retries.
	TokenAttempts uint64
	Logger        *slog.Logger
	Now           func() time.Time
}

// Local is the in-process system channel.
type Local struct {
	opts   SystemOptions
	root   *os.Root
	client *http.Client
	logger *slog.Logger
}

// NewSystem creates the local system channel. Close releases the work dir.
func NewSystem(opts SystemOptions) (*Local, error) {
	if opts.WorkDir == "" {
		opts.WorkDir = "."
	}
	if err := os.MkdirAll(opts.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	root, err := os.OpenRoot(opts.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("open work dir: %w", err)
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second, Transport: NewTransport()}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TokenAttempts == 0 {
		opts.TokenAttempts = 5
	}
	return &Local{opts: opts, root: root, client: client, logger: logger}, nil
}

// Name returns the channel name.
func (l *Local) Name() string { return System }

// Close releases the rooted work dir.
func (l *Local) Close() error { return l.root.Close() }

// Open returns a per-run handle. Open sheets and tokens belong to the
// handle and die with the run.
func (l *Local) Open(ctx context.Context, s Session) (Handle, error) {
	h := &systemHandle{
		local:   l,
		session: s,
		sheets:  make(map[string]*sheet),
		tokens:  make(map[string]string),
		options: make(map[string]any),
	}
	if l.opts.Forward != nil {
		fwd, err := l.opts.Forward.Open(ctx, s)
		if err != nil {
			return nil, err
		}
		h.forward = fwd
	}
	h.methods = map[string]func(context.Context, Args) (any, error){
		"get_http":      h.httpCall(http.MethodGet),
		"post_http":     h.httpCall(http.MethodPost),
		"put_http":      h.httpCall(http.MethodPut),
		"refresh_token": h.refreshToken,
		"execute_sql":   h.executeSQL,
		"get":           h.get,
		"find":          h.find,
		"save":          h.save,
		"merge":         h.merge,
		"dir_folder":    h.dirFolder,
		"create_folder": h.createFolder,
		"delete_file":   h.deleteFile,
		"upload":        h.upload,
		"open_sheet":    h.openSheet,
		"close_handle":  h.closeHandle,
		"date_diff":     h.dateDiff,
		"date_add":      h.dateAdd,
		"date":          h.date,
		"hour":          h.hour,
		"base64":        h.base64,
		"now":           h.now,
		"today":         h.today,
		"format":        h.format,
		"set_option":    h.setOption,
	}
	return h, nil
}

type systemHandle struct {
	local   *Local
	session Session
	forward Handle
	methods map[string]func(context.Context, Args) (any, error)

	mu      sync.Mutex
	seq     int
	sheets  map[string]*sheet
	tokens  map[string]string // credential name -> bearer token
	options map[string]any
}

func (h *systemHandle) Call(ctx context.Context, method string, args []any, kwargs map[string]any) (any, error) {
	fn, ok := h.methods[method]
	if !ok {
		if !HasMethod(System, method) {
			return nil, &UnknownMethodError{Channel: System, Method: method}
		}
		if h.forward == nil {
			return nil, &CallError{Channel: System, Method: method, Err: errors.New("no service configured for this method")}
		}
		return h.forward.Call(ctx, method, args, kwargs)
	}
	out, err := fn(ctx, NewArgs(method, args, kwargs))
	if err != nil {
		var callErr *CallError
		if errors.As(err, &callErr) {
			return nil, err
		}
		return nil, &CallError{Channel: System, Method: method, Err: err}
	}
	return out, nil
}

// Close flushes open sheets.
func (h *systemHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var first error
	for id, s := range h.sheets {
		if err := s.close(); err != nil && first == nil {
			first = err
		}
		delete(h.sheets, id)
	}
	if h.forward != nil {
		if err := h.forward.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ---------- HTTP ----------

// httpCall performs one request and reports the status instead of failing
// on it; the generated retry block decides what to do with it.
func (h *systemHandle) httpCall(method string) func(context.Context, Args) (any, error) {
	return func(ctx context.Context, a Args) (any, error) {
		target, err := a.String(0, "url")
		if err != nil {
			return nil, err
		}
		var body io.Reader
		headerArg := 1
		contentType := ""
		if method != http.MethodGet {
			headerArg = 2
			if data, ok := a.Value(1, "data"); ok && data != nil {
				payload, ct, err := encodeBody(data)
				if err != nil {
					return nil, err
				}
				body, contentType = bytes.NewReader(payload), ct
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, target, body)
		if err != nil {
			return nil, err
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if tok := h.tokenFor(target); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
		if hv, ok := a.Value(headerArg, "headers"); ok {
			if hm, ok := hv.(map[string]any); ok {
				for k, v := range hm {
					req.Header.Set(k, ToString(v))
				}
			}
		}

		resp, err := h.local.client.Do(req)
		if err != nil {
			return nil, &CallError{Channel: System, Method: strings.ToLower(method), Target: target, Err: err}
		}
		defer func() { _ = resp.Body.Close() }()
		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, err
		}

		h.local.logger.Debug("http call",
			slog.String("method", method),
			slog.String("url", target),
			slog.Int("status", resp.StatusCode))

		headers := make(map[string]any, len(resp.Header))
		for k := range resp.Header {
			headers[k] = resp.Header.Get(k)
		}
		return map[string]any{
			"status":  resp.StatusCode,
			"data":    decodeBody(raw, resp.Header.Get("Content-Type")),
			"headers": headers,
		}, nil
	}
}

func encodeBody(data any) ([]byte, string, error) {
	switch d := data.(type) {
	case string:
		return []byte(d), "text/plain; charset=utf-8", nil
	case []byte:
		return d, "application/octet-stream", nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, "", fmt.Errorf("encode body: %w", err)
	}
	return b, "application/json", nil
}

// decodeBody parses JSON bodies and returns anything else as text.
func decodeBody(raw []byte, contentType string) any {
	trimmed := bytes.TrimSpace(raw)
	if strings.Contains(contentType, "json") || (len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')) {
		var v any
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&v); err == nil {
			return v
		}
	}
	return string(raw)
}

// tokenFor returns the bearer token of the credential covering target.
func (h *systemHandle) tokenFor(target string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	best, token := 0, ""
	for name, cred := range h.local.opts.Credentials {
		if cred.BaseURL == "" || !strings.HasPrefix(target, cred.BaseURL) {
			continue
		}
		if t, ok := h.tokens[name]; ok && len(cred.BaseURL) > best {
			best, token = len(cred.BaseURL), t
		}
	}
	return token
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// refreshToken runs a client-credentials grant, retrying transient
// failures with exponential backoff.
func (h *systemHandle) refreshToken(ctx context.Context, a Args) (any, error) {
	name, err := a.String(0, "name")
	if err != nil {
		return nil, err
	}
	cred, ok := h.local.opts.Credentials[name]
	if !ok {
		return nil, fmt.Errorf("unknown credential %q", name)
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {cred.ClientID},
		"client_secret": {cred.ClientSecret},
	}
	if cred.Scope != "" {
		form.Set("scope", cred.Scope)
	}

	var tok tokenResponse
	backoff := retry.WithMaxRetries(h.local.opts.TokenAttempts-1, retry.NewExponential(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cred.TokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp, err := h.local.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer func() { _ = resp.Body.Close() }()
		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("token endpoint returned %d", resp.StatusCode))
		case resp.StatusCode >= 400:
			return fmt.Errorf("token endpoint returned %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&tok)
	})
	if err != nil {
		return nil, &CallError{Channel: System, Method: "refresh_token", Target: name, Err: err}
	}
	if tok.AccessToken == "" {
		return nil, &CallError{Channel: System, Method: "refresh_token", Target: name, Err: errors.New("empty access token")}
	}

	h.mu.Lock()
	h.tokens[name] = tok.AccessToken
	h.mu.Unlock()

	expiry := h.local.opts.Now().Unix() + tok.ExpiresIn
	return map[string]any{"token": tok.AccessToken, "expiry": expiry}, nil
}

// SetToken seeds a cached token, restored from an earlier run.
func (h *systemHandle) SetToken(name, token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tokens[name] = token
}

func (h *systemHandle) setOption(_ context.Context, a Args) (any, error) {
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

// TokenSeeder is implemented by handles that accept tokens cached by an
// earlier run.
type TokenSeeder interface {
	SetToken(name, token string)
}
