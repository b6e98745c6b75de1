package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fetcherFeed = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>T</title>
  <item><title>One</title><link>https://example.com/1</link><pubDate>Mon, 03 Jul 2023 10:00:00 GMT</pubDate></item>
  <item><title>Two</title><link>https://example.com/2</link><pubDate>Mon, 03 Jul 2023 11:00:00 GMT</pubDate></item>
</channel></rss>`

func newTestFetcher() *Fetcher {
	f := NewFetcher(&http.Client{Timeout: 5 * time.Second}, "feed-comb-test")
	f.now = func() time.Time { return parseNow }
	return f
}

func TestFetchConditional(t *testing.T) {
	const lastModified = "Mon, 03 Jul 2023 12:00:00 GMT"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "feed-comb-test", r.Header.Get("User-Agent"))
		if r.Header.Get("If-Modified-Since") == lastModified && r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Last-Modified", lastModified)
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(fetcherFeed))
	}))
	defer server.Close()

	f := newTestFetcher()
	req := Request{Name: "example", Source: Source{Kind: SourceKindRSS, URL: server.URL}}

	result, err := f.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.NotModified)
	assert.Len(t, result.Entries, 2)
	assert.Equal(t, lastModified, result.LastModified)
	assert.Equal(t, `"v1"`, result.ETag)

	req.LastModified = result.LastModified
	req.ETag = result.ETag
	result, err = f.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.NotModified)
	assert.Empty(t, result.Entries)
}

func TestFetchErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   ErrorKind
	}{
		{"server error", http.StatusBadGateway, "", ErrorKindTransient},
		{"rate limited", http.StatusTooManyRequests, "", ErrorKindTransient},
		{"request timeout", http.StatusRequestTimeout, "", ErrorKindTransient},
		{"not found", http.StatusNotFound, "", ErrorKindPermanent},
		{"gone", http.StatusGone, "", ErrorKindPermanent},
		{"malformed payload", http.StatusOK, "<html>not a feed", ErrorKindPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestFetcher().Fetch(context.Background(), Request{Source: Source{URL: server.URL}})
			require.Error(t, err)

			var fetchErr *FetchError
			require.True(t, errors.As(err, &fetchErr))
			assert.Equal(t, tt.kind, fetchErr.Kind)
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}
}

func TestFetchNetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := newTestFetcher().Fetch(context.Background(), Request{Source: Source{URL: url}})
	require.Error(t, err)
	assert.Equal(t, ErrorKindTransient, KindOf(err))
}

func TestFetchUnsupportedKind(t *testing.T) {
	_, err := newTestFetcher().Fetch(context.Background(), Request{Source: Source{Kind: "gopher"}})
	assert.Equal(t, ErrorKindPermanent, KindOf(err))
}

func TestFetchMastodonUser(t *testing.T) {
	var lookups atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/accounts/lookup", func(w http.ResponseWriter, r *http.Request) {
		lookups.Add(1)
		assert.Equal(t, "zig", r.URL.Query().Get("acct"))
		w.Write([]byte(`{"id": "9", "username": "zig", "acct": "zig"}`))
	})
	mux.HandleFunc("/api/v1/accounts/9/statuses", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Write([]byte(statusesJSON))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	f := newTestFetcher()
	req := Request{
		Name:   "zig-social",
		Source: Source{Kind: SourceKindMastodon, Instance: server.URL, User: "@zig", Token: "secret"},
	}

	for range 2 {
		result, err := f.Fetch(context.Background(), req)
		require.NoError(t, err)
		assert.Len(t, result.Entries, 2)
	}

	assert.Equal(t, int32(1), lookups.Load(), "account id should be looked up once")
}

func TestFetchArticle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/image.png" {
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte{0x89, 0x50})
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body><p>Article</p></body></html>"))
	}))
	defer server.Close()

	f := newTestFetcher()

	data, err := f.FetchArticle(context.Background(), server.URL+"/post")
	require.NoError(t, err)
	assert.Contains(t, string(data), "Article")

	_, err = f.FetchArticle(context.Background(), server.URL+"/image.png")
	assert.Equal(t, ErrorKindPermanent, KindOf(err))
}
