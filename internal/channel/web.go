package channel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"
)

// WebOptions configures the page fetch channel.
type WebOptions struct {
	Client    *http.Client
	UserAgent string
	Logger    *slog.Logger
}

// Fetcher is a web channel without a browser: pages are fetched over HTTP
// and queried with simple CSS selectors. Screenshots need a real driver.
type Fetcher struct {
	client    *http.Client
	userAgent string
	logger    *slog.Logger
}

// NewWeb creates the page fetch channel.
func NewWeb(opts WebOptions) *Fetcher {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second, Transport: NewTransport()}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = "gbasic/1.0"
	}
	return &Fetcher{client: client, userAgent: ua, logger: logger}
}

// Name returns the channel name.
func (f *Fetcher) Name() string { return Web }

// Open returns a handle holding the run's open pages.
func (f *Fetcher) Open(_ context.Context, s Session) (Handle, error) {
	h := &webHandle{fetcher: f, session: s, pages: make(map[string]*page)}
	h.methods = map[string]func(context.Context, Args) (any, error){
		"open_page":       h.openPage,
		"click":           h.click,
		"get_by_selector": h.getBySelector,
		"page_text":       h.pageText,
		"screenshot":      h.screenshot,
		"close_page":      h.closePage,
	}
	return h, nil
}

type page struct {
	url      *url.URL
	raw      []byte
	doc      *html.Node
	user     string
	password string
}

type webHandle struct {
	fetcher *Fetcher
	session Session
	methods map[string]func(context.Context, Args) (any, error)

	mu    sync.Mutex
	seq   int
	pages map[string]*page
}

func (h *webHandle) Call(ctx context.Context, method string, args []any, kwargs map[string]any) (any, error) {
	fn, ok := h.methods[method]
	if !ok {
		return nil, &UnknownMethodError{Channel: Web, Method: method}
	}
	out, err := fn(ctx, NewArgs(method, args, kwargs))
	if err != nil {
		var callErr *CallError
		if errors.As(err, &callErr) {
			return nil, err
		}
		return nil, &CallError{Channel: Web, Method: method, Err: err}
	}
	return out, nil
}

func (h *webHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.pages)
	return nil
}

func (h *webHandle) fetch(ctx context.Context, target *url.URL, user, password string) (*page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", h.fetcher.userAgent)
	if user != "" {
		req.SetBasicAuth(user, password)
	}
	resp, err := h.fetcher.client.Do(req)
	if err != nil {
		return nil, &CallError{Channel: Web, Method: "open_page", Target: target.String(), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return nil, &CallError{Channel: Web, Method: "open_page", Target: target.String(), Status: resp.StatusCode}
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", target, err)
	}
	h.fetcher.logger.Debug("page fetched",
		slog.String("url", target.String()),
		slog.Int("bytes", len(raw)))
	return &page{url: resp.Request.URL, raw: raw, doc: doc, user: user, password: password}, nil
}

func (h *webHandle) page(a Args) (string, *page, error) {
	id, err := a.String(0, "page")
	if err != nil {
		return "", nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.pages[id]
	if !ok {
		return "", nil, fmt.Errorf("no open page %q", id)
	}
	return id, p, nil
}

func (h *webHandle) openPage(ctx context.Context, a Args) (any, error) {
	raw, err := a.String(0, "url")
	if err != nil {
		return nil, err
	}
	target, err := url.Parse(raw)
	if err != nil || target.Host == "" {
		return nil, fmt.Errorf("invalid url %q", raw)
	}
	p, err := h.fetch(ctx, target, a.OptString(1, "user", ""), a.OptString(2, "password", ""))
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	id := fmt.Sprintf("page:%d", h.seq)
	h.pages[id] = p
	return id, nil
}

// getBySelector returns the text of the first element matching selector,
// or "" when nothing matches.
func (h *webHandle) getBySelector(_ context.Context, a Args) (any, error) {
	_, p, err := h.page(a)
	if err != nil {
		return nil, err
	}
	sel, err := a.String(1, "selector")
	if err != nil {
		return nil, err
	}
	n, err := querySelector(p.doc, sel)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return "", nil
	}
	return strings.TrimSpace(textContent(n)), nil
}

// click follows the link under selector and replaces the page. It returns
// the new url.
func (h *webHandle) click(ctx context.Context, a Args) (any, error) {
	id, p, err := h.page(a)
	if err != nil {
		return nil, err
	}
	sel, err := a.String(1, "selector")
	if err != nil {
		return nil, err
	}
	n, err := querySelector(p.doc, sel)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, fmt.Errorf("nothing matches %q", sel)
	}
	href := attr(n, "href")
	if href == "" {
		if link := closest(n, "a"); link != nil {
			href = attr(link, "href")
		}
	}
	if href == "" {
		return nil, fmt.Errorf("%q is not a link", sel)
	}
	next, err := p.url.Parse(href)
	if err != nil {
		return nil, err
	}
	np, err := h.fetch(ctx, next, p.user, p.password)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.pages[id] = np
	h.mu.Unlock()
	return np.url.String(), nil
}

// pageText renders the page as markdown.
func (h *webHandle) pageText(_ context.Context, a Args) (any, error) {
	_, p, err := h.page(a)
	if err != nil {
		return nil, err
	}
	md, err := htmltomarkdown.ConvertString(string(p.raw))
	if err != nil {
		return nil, fmt.Errorf("convert page: %w", err)
	}
	return strings.TrimSpace(md), nil
}

func (h *webHandle) screenshot(_ context.Context, a Args) (any, error) {
	if _, _, err := h.page(a); err != nil {
		return nil, err
	}
	return nil, errors.New("screenshots need a browser driver; configure a remote web channel")
}

func (h *webHandle) closePage(_ context.Context, a Args) (any, error) {
	id, _, err := h.page(a)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	delete(h.pages, id)
	h.mu.Unlock()
	return nil, nil
}

// ---------- Selectors ----------

// simpleSelector is one compound selector: tag, #id and .class parts.
type simpleSelector struct {
	tag     string
	id      string
	classes []string
}

// parseSelector accepts descendant chains of compound selectors, such as
// "div.price span" or "#total".
func parseSelector(s string) ([]simpleSelector, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, errors.New("empty selector")
	}
	chain := make([]simpleSelector, 0, len(fields))
	for _, f := range fields {
		var sel simpleSelector
		rest := f
		cut := strings.IndexAny(rest, "#.")
		if cut < 0 {
			cut = len(rest)
		}
		sel.tag = strings.ToLower(rest[:cut])
		rest = rest[cut:]
		for rest != "" {
			marker := rest[0]
			rest = rest[1:]
			end := strings.IndexAny(rest, "#.")
			if end < 0 {
				end = len(rest)
			}
			part := rest[:end]
			rest = rest[end:]
			if part == "" {
				return nil, fmt.Errorf("invalid selector %q", s)
			}
			if marker == '#' {
				sel.id = part
			} else {
				sel.classes = append(sel.classes, part)
			}
		}
		if sel.tag == "*" {
			sel.tag = ""
		}
		chain = append(chain, sel)
	}
	return chain, nil
}

func (s simpleSelector) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.tag != "" && n.Data != s.tag {
		return false
	}
	if s.id != "" && attr(n, "id") != s.id {
		return false
	}
	if len(s.classes) > 0 {
		have := strings.Fields(attr(n, "class"))
		for _, want := range s.classes {
			found := false
			for _, c := range have {
				if c == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

// querySelector returns the first element, in document order, matching the
// selector chain.
func querySelector(doc *html.Node, selector string) (*html.Node, error) {
	chain, err := parseSelector(selector)
	if err != nil {
		return nil, err
	}
	var found *html.Node
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		if matchChain(n, chain) {
			found = n
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(doc)
	return found, nil
}

// matchChain matches the last selector against n and the rest against its
// ancestors.
func matchChain(n *html.Node, chain []simpleSelector) bool {
	last := len(chain) - 1
	if !chain[last].matches(n) {
		return false
	}
	i := last - 1
	for p := n.Parent; p != nil && i >= 0; p = p.Parent {
		if chain[i].matches(p) {
			i--
		}
	}
	return i < 0
}

func closest(n *html.Node, tag string) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.Data == tag {
			return p
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
