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
	"strings"
	"time"
)

// Remote is a channel served over HTTP: each call is
// POST {endpoint}/{method} with body {"session", "args", "kwargs"}, answered
// by {"result": ...} or {"error": "..."}.
type Remote struct {
	name     string
	endpoint string
	headers  map[string]string
	client   *http.Client
	logger   *slog.Logger
}

// RemoteOptions configures a Remote channel.
type RemoteOptions struct {
	Endpoint string
	Headers  map[string]string
	Timeout  time.Duration
	Client   *http.Client
	Logger   *slog.Logger
}

// NewRemote creates a remote channel. The HTTP client, and with it the
// keep-alive pool, is shared by every handle the channel opens.
func NewRemote(name string, opts RemoteOptions) (*Remote, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("%s channel: endpoint is required", name)
	}
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout, Transport: NewTransport()}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Remote{
		name:     name,
		endpoint: strings.TrimRight(opts.Endpoint, "/"),
		headers:  opts.Headers,
		client:   client,
		logger:   logger,
	}, nil
}

// NewTransport returns a keep-alive transport for one tenant.
func NewTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConnsPerHost = 16
	t.IdleConnTimeout = 90 * time.Second
	return t
}

// Name returns the channel name.
func (r *Remote) Name() string { return r.name }

// Open returns a handle bound to the session.
func (r *Remote) Open(_ context.Context, s Session) (Handle, error) {
	return &remoteHandle{remote: r, session: s}, nil
}

type remoteHandle struct {
	remote  *Remote
	session Session
}

type rpcRequest struct {
	Session Session        `json:"session"`
	Args    []any          `json:"args"`
	Kwargs  map[string]any `json:"kwargs,omitempty"`
}

type rpcResponse struct {
	Result any    `json:"result"`
	Error  string `json:"error,omitempty"`
}

func (h *remoteHandle) Call(ctx context.Context, method string, args []any, kwargs map[string]any) (any, error) {
	r := h.remote
	if !HasMethod(r.name, method) {
		return nil, &UnknownMethodError{Channel: r.name, Method: method}
	}
	if args == nil {
		args = []any{}
	}
	body, err := json.Marshal(rpcRequest{Session: h.session, Args: args, Kwargs: kwargs})
	if err != nil {
		return nil, h.fail(method, 0, fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, h.fail(method, 0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, h.fail(method, 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	r.logger.Debug("remote call",
		slog.String("channel", r.name),
		slog.String("method", method),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, h.fail(method, resp.StatusCode, err)
	}
	var out rpcResponse
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		if resp.StatusCode >= 400 {
			return nil, h.fail(method, resp.StatusCode, errors.New(strings.TrimSpace(string(raw))))
		}
		return nil, h.fail(method, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	if out.Error != "" {
		return nil, h.fail(method, resp.StatusCode, errors.New(out.Error))
	}
	if resp.StatusCode >= 400 {
		return nil, h.fail(method, resp.StatusCode, nil)
	}
	return out.Result, nil
}

func (h *remoteHandle) fail(method string, status int, err error) error {
	return &CallError{Channel: h.remote.name, Method: method, Status: status, Err: err}
}

func (h *remoteHandle) Close() error { return nil }

// maxResponseBytes bounds any response body read into a run.
const maxResponseBytes = 32 << 20
