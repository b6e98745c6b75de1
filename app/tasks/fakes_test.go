package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lysyi3m/feed-comb/app/aggregator"
	"github.com/lysyi3m/feed-comb/app/database"
	"github.com/lysyi3m/feed-comb/app/feed"
	"github.com/lysyi3m/feed-comb/app/graph"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	mu       sync.Mutex
	fetch    func(ctx context.Context, req feed.Request) (*feed.Result, error)
	article  func(ctx context.Context, pageURL string) ([]byte, error)
	requests []feed.Request
	articles []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, req feed.Request) (*feed.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.fetch(ctx, req)
}

func (f *fakeFetcher) FetchArticle(ctx context.Context, pageURL string) ([]byte, error) {
	f.mu.Lock()
	f.articles = append(f.articles, pageURL)
	f.mu.Unlock()
	if f.article == nil {
		return nil, errors.New("no article")
	}
	return f.article(ctx, pageURL)
}

func (f *fakeFetcher) calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, req := range f.requests {
		if req.Name == name {
			n++
		}
	}
	return n
}

func (f *fakeFetcher) lastRequest(name string) feed.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		if f.requests[i].Name == name {
			return f.requests[i]
		}
	}
	return feed.Request{}
}

type fakeEntryRepo struct {
	mu       sync.Mutex
	upserted map[string][]*feed.Entry
	deleted  map[string][]string
	cutoffs  []time.Time
}

func newFakeEntryRepo() *fakeEntryRepo {
	return &fakeEntryRepo{upserted: make(map[string][]*feed.Entry), deleted: make(map[string][]string)}
}

func (r *fakeEntryRepo) GetEntries(feedName string, limit int) ([]*feed.Entry, error) {
	return nil, nil
}

func (r *fakeEntryRepo) GetEntryCount(feedName string) (int, error) {
	return 0, nil
}

func (r *fakeEntryRepo) UpsertEntries(feedName string, entries []*feed.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserted[feedName] = append(r.upserted[feedName], entries...)
	return nil
}

func (r *fakeEntryRepo) DeleteEntries(feedName string, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted[feedName] = append(r.deleted[feedName], ids...)
	return nil
}

func (r *fakeEntryRepo) DeleteOlderThan(cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cutoffs = append(r.cutoffs, cutoff)
	return 0, nil
}

type fakeFeedRepo struct {
	mu     sync.Mutex
	feeds  map[string]string
	states map[string]database.FetchState
}

func newFakeFeedRepo() *fakeFeedRepo {
	return &fakeFeedRepo{feeds: make(map[string]string), states: make(map[string]database.FetchState)}
}

func (r *fakeFeedRepo) GetFeed(feedName string) (*database.Feed, error) {
	return nil, nil
}

func (r *fakeFeedRepo) GetFeeds() ([]database.Feed, error) {
	return nil, nil
}

func (r *fakeFeedRepo) GetFeedCount() (int, error) {
	return len(r.feeds), nil
}

func (r *fakeFeedRepo) UpsertFeed(feedName, kind, feedURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feeds[feedName] = kind + " " + feedURL
	return nil
}

func (r *fakeFeedRepo) UpdateFetchState(feedName string, state database.FetchState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[feedName] = state
	return nil
}

func (r *fakeFeedRepo) state(name string) database.FetchState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[name]
}

var (
	_ database.EntryRepositoryInterface = (*fakeEntryRepo)(nil)
	_ database.FeedRepositoryInterface  = (*fakeFeedRepo)(nil)
	_ FetcherInterface                  = (*fakeFetcher)(nil)
)

func sourceDef(name string) graph.Definition {
	return graph.Definition{
		Name:   name,
		Kind:   graph.KindSource,
		Source: feed.Source{Kind: feed.SourceKindRSS, URL: "https://example.com/" + name},
		Settings: graph.Settings{
			Enabled:         true,
			RefreshInterval: 10 * time.Minute,
			CacheTTL:        5 * time.Minute,
			MaxItems:        50,
			ApplyTags:       true,
		},
	}
}

func buildGraph(t *testing.T, defs ...graph.Definition) *graph.Graph {
	t.Helper()
	g, err := graph.Build(graph.Options{
		Definitions: defs,
		AllSettings: graph.Settings{Enabled: true, MaxItems: 100},
		TagSettings: graph.Settings{Enabled: true, MaxItems: 100},
	})
	require.NoError(t, err)
	return g
}

func entriesFor(name string, links ...string) []*feed.Entry {
	entries := make([]*feed.Entry, 0, len(links))
	for i, link := range links {
		entries = append(entries, feed.NewEntry(feed.Entry{
			Feed:        name,
			Link:        link,
			Title:       "Post " + link,
			Content:     "<p>body</p>",
			PublishedAt: testNow.Add(-time.Duration(i) * time.Minute),
		}))
	}
	return entries
}

func transient(status int) error {
	return &feed.FetchError{Kind: feed.ErrorKindTransient, StatusCode: status, Err: errors.New("unexpected status")}
}

func permanent(status int) error {
	return &feed.FetchError{Kind: feed.ErrorKindPermanent, StatusCode: status, Err: errors.New("unexpected status")}
}

type fakeStore struct {
	pruned map[string]aggregator.Diff
}

func (s *fakeStore) Merge(name string, entries []*feed.Entry) (aggregator.Diff, error) {
	return aggregator.Diff{Node: name}, nil
}

func (s *fakeStore) Prune(name string) (aggregator.Diff, error) {
	return s.pruned[name], nil
}

func (s *fakeStore) Snapshot(name string) (*aggregator.EntrySet, bool) {
	return nil, false
}
