package feed

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const maxBodySize = 16 << 20

// Request is a single retrieval attempt for one source node.
type Request struct {
	Name         string
	Source       Source
	LastModified string
	ETag         string
	Tags         []string
	ApplyTags    bool
	KeepEmpty    bool
}

type Result struct {
	NotModified  bool
	Metadata     *Metadata
	Entries      []*Entry
	Skipped      int
	LastModified string
	ETag         string
}

type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	parser     *Parser
	mastodon   *MastodonParser
	accounts   sync.Map
	now        func() time.Time
}

func NewFetcher(httpClient *http.Client, userAgent string) *Fetcher {
	return &Fetcher{
		httpClient: httpClient,
		userAgent:  userAgent,
		parser:     NewParser(),
		mastodon:   NewMastodonParser(),
		now:        time.Now,
	}
}

// Fetch performs one conditional retrieval and parses the payload according
// to the source kind. Failures are returned as *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	switch req.Source.Kind {
	case SourceKindRSS, "":
		return f.fetchFeed(ctx, req)
	case SourceKindMastodon:
		return f.fetchMastodon(ctx, req)
	default:
		return nil, permanentError(0, fmt.Errorf("unsupported source kind: %s", req.Source.Kind))
	}
}

// FetchArticle downloads an HTML page for content extraction.
func (f *Fetcher) FetchArticle(ctx context.Context, pageURL string) ([]byte, error) {
	resp, err := f.get(ctx, pageURL, "", "", "")
	if err != nil {
		return nil, err
	}

	contentType := resp.header.Get("Content-Type")
	if contentType != "" && !strings.Contains(contentType, "html") {
		return nil, permanentError(0, fmt.Errorf("unexpected content type: %s", contentType))
	}

	return resp.body, nil
}

func (f *Fetcher) fetchFeed(ctx context.Context, req Request) (*Result, error) {
	resp, err := f.get(ctx, req.Source.URL, req.LastModified, req.ETag, "")
	if err != nil {
		return nil, err
	}
	if resp.notModified {
		return &Result{NotModified: true, LastModified: req.LastModified, ETag: req.ETag}, nil
	}

	parsed, err := f.parser.Run(resp.body, f.parseOptions(req))
	if err != nil {
		return nil, permanentError(0, err)
	}

	return &Result{
		Metadata:     parsed.Metadata,
		Entries:      parsed.Entries,
		Skipped:      parsed.Skipped,
		LastModified: resp.header.Get("Last-Modified"),
		ETag:         resp.header.Get("ETag"),
	}, nil
}

func (f *Fetcher) fetchMastodon(ctx context.Context, req Request) (*Result, error) {
	endpoint, err := f.mastodonEndpoint(ctx, req.Source)
	if err != nil {
		return nil, err
	}

	resp, err := f.get(ctx, endpoint, req.LastModified, req.ETag, req.Source.Token)
	if err != nil {
		return nil, err
	}
	if resp.notModified {
		return &Result{NotModified: true, LastModified: req.LastModified, ETag: req.ETag}, nil
	}

	parsed, err := f.mastodon.Run(resp.body, f.parseOptions(req))
	if err != nil {
		return nil, permanentError(0, err)
	}

	return &Result{
		Metadata:     parsed.Metadata,
		Entries:      parsed.Entries,
		Skipped:      parsed.Skipped,
		LastModified: resp.header.Get("Last-Modified"),
		ETag:         resp.header.Get("ETag"),
	}, nil
}

func (f *Fetcher) parseOptions(req Request) ParseOptions {
	return ParseOptions{
		Feed:      req.Name,
		Tags:      req.Tags,
		ApplyTags: req.ApplyTags,
		KeepEmpty: req.KeepEmpty,
		Now:       f.now(),
	}
}

func (f *Fetcher) mastodonEndpoint(ctx context.Context, src Source) (string, error) {
	base := strings.TrimSuffix(cmp.Or(src.Instance, src.URL), "/")
	if base == "" {
		return "", permanentError(0, errors.New("mastodon instance is not set"))
	}
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}

	if src.User != "" {
		id, err := f.mastodonAccountID(ctx, base, src)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s/api/v1/accounts/%s/statuses", base, url.PathEscape(id)), nil
	}

	switch src.Timeline {
	case "home":
		return base + "/api/v1/timelines/home", nil
	case "local":
		return base + "/api/v1/timelines/public?local=true", nil
	default:
		return base + "/api/v1/timelines/public", nil
	}
}

func (f *Fetcher) mastodonAccountID(ctx context.Context, base string, src Source) (string, error) {
	key := base + "|" + src.User
	if id, ok := f.accounts.Load(key); ok {
		return id.(string), nil
	}

	lookup := fmt.Sprintf("%s/api/v1/accounts/lookup?acct=%s", base, url.QueryEscape(strings.TrimPrefix(src.User, "@")))
	resp, err := f.get(ctx, lookup, "", "", src.Token)
	if err != nil {
		return "", err
	}

	var account mastodonAccount
	if err := json.Unmarshal(resp.body, &account); err != nil {
		return "", permanentError(0, fmt.Errorf("failed to parse account lookup: %w", err))
	}
	if account.ID == "" {
		return "", permanentError(0, fmt.Errorf("account %s not found", src.User))
	}

	f.accounts.Store(key, account.ID)
	return account.ID, nil
}

type response struct {
	body        []byte
	header      http.Header
	notModified bool
}

func (f *Fetcher) get(ctx context.Context, target, lastModified, etag, token string) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, permanentError(0, fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("User-Agent", f.userAgent)
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, transientError(0, fmt.Errorf("failed to fetch %s: %w", target, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return &response{header: resp.Header, notModified: true}, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("HTTP error: %s", resp.Status)
		if retryableStatus(resp.StatusCode) {
			return nil, transientError(resp.StatusCode, err)
		}
		return nil, permanentError(resp.StatusCode, err)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, transientError(0, fmt.Errorf("failed to read response body: %w", err))
	}

	return &response{body: data, header: resp.Header}, nil
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}
