package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

const shopPage = `<html><body>
<h1 id="title">Shop</h1>
<div class="product featured"><span class="price">R$ 10,00</span></div>
<div class="product"><span class="price">R$ 20,00</span></div>
<p>See <a id="more" href="/next">more <b>items</b></a></p>
</body></html>`

func TestQuerySelector(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(shopPage))
	require.NoError(t, err)

	tests := []struct {
		selector string
		want     string
	}{
		{"#title", "Shop"},
		{"h1", "Shop"},
		{".price", "R$ 10,00"},
		{"div.product span", "R$ 10,00"},
		{"div.featured .price", "R$ 10,00"},
		{"p b", "items"},
		{"table", ""},
		{"div.missing span", ""},
	}

	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			n, err := querySelector(doc, tt.selector)
			require.NoError(t, err)
			if tt.want == "" {
				assert.Nil(t, n)
				return
			}
			require.NotNil(t, n)
			assert.Equal(t, tt.want, strings.TrimSpace(textContent(n)))
		})
	}

	_, err = querySelector(doc, "div.")
	require.Error(t, err)
}

func TestWeb_Pages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); ok && (user != "ana" || pass != "pw") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		switch r.URL.Path {
		case "/":
			_, _ = w.Write([]byte(shopPage))
		case "/next":
			_, _ = w.Write([]byte(`<html><body><h2>Page two</h2></body></html>`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	h, err := NewWeb(WebOptions{Client: srv.Client()}).Open(ctx, Session{ID: "s"})
	require.NoError(t, err)
	defer func() { _ = h.Close() }()

	id, err := h.Call(ctx, "open_page", []any{srv.URL + "/", "ana", "pw"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "page:1", id)

	price, err := h.Call(ctx, "get_by_selector", []any{id, ".price"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "R$ 10,00", price)

	text, err := h.Call(ctx, "page_text", []any{id}, nil)
	require.NoError(t, err)
	assert.Contains(t, text, "# Shop")

	next, err := h.Call(ctx, "click", []any{id, "#more b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/next", next)
	heading, err := h.Call(ctx, "get_by_selector", []any{id, "h2"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Page two", heading)

	_, err = h.Call(ctx, "screenshot", []any{id}, nil)
	require.Error(t, err)

	_, err = h.Call(ctx, "close_page", []any{id}, nil)
	require.NoError(t, err)
	_, err = h.Call(ctx, "page_text", []any{id}, nil)
	require.Error(t, err)

	_, err = h.Call(ctx, "open_page", []any{srv.URL + "/", "ana", "bad"}, nil)
	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, http.StatusUnauthorized, callErr.Status)

	_, err = h.Call(ctx, "open_page", []any{"not a url"}, nil)
	require.Error(t, err)
}
