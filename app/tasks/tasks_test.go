package tasks

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lysyi3m/feed-comb/app/aggregator"
	"github.com/lysyi3m/feed-comb/app/feed"
	"github.com/lysyi3m/feed-comb/app/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTask(t *testing.T) {
	a := NewTask(TaskTypeProcessFeed, "blog")
	b := NewTask(TaskTypeProcessFeed, "blog")

	if a.GetID() == b.GetID() {
		t.Errorf("Expected unique task IDs, got %s twice", a.GetID())
	}
	if a.GetType() != TaskTypeProcessFeed {
		t.Errorf("Expected type %s, got %s", TaskTypeProcessFeed, a.GetType())
	}
	if a.GetDuration() != 0 {
		t.Errorf("Expected zero duration before Start, got %v", a.GetDuration())
	}

	a.Start()
	if a.StartedAt == nil {
		t.Error("Expected StartedAt to be set")
	}
}

func TestProcessFeedTask_FiltersAndPersists(t *testing.T) {
	global, err := feed.CompileScope(feed.ScopeGlobal, "_global", feed.ConfigRules{ExcludeTitleWords: []string{"sponsored"}}, nil)
	require.NoError(t, err)

	g, err := graph.Build(graph.Options{
		Global:      global,
		Definitions: []graph.Definition{sourceDef("blog")},
		AllSettings: graph.Settings{MaxItems: 100},
	})
	require.NoError(t, err)
	agg := aggregator.New(g, feed.NewFilterer())
	repo := newFakeEntryRepo()

	entries := entriesFor("blog", "https://blog.example.com/a", "https://blog.example.com/b")
	entries = append(entries, feed.NewEntry(feed.Entry{
		Feed:        "blog",
		Link:        "https://blog.example.com/ad",
		Title:       "Sponsored: buy this",
		PublishedAt: testNow,
	}))

	fetcher := &fakeFetcher{fetch: func(ctx context.Context, req feed.Request) (*feed.Result, error) {
		return &feed.Result{Entries: entries, Skipped: 1, ETag: `"v2"`}, nil
	}}

	node, _ := g.Node("blog")
	task := NewProcessFeedTask(node, g, fetcher, feed.NewFilterer(), nil, agg, repo)
	task.ETag = `"v1"`
	task.Start()
	require.NoError(t, task.Execute(context.Background()))

	assert.Equal(t, `"v1"`, fetcher.lastRequest("blog").ETag)
	assert.Equal(t, 3, task.Outcome.Fetched)
	assert.Equal(t, 1, task.Outcome.Dropped)
	assert.Equal(t, 1, task.Outcome.Skipped)
	assert.Equal(t, `"v2"`, task.Outcome.ETag)
	assert.Len(t, task.Outcome.Diff.Added, 2)

	set, _ := agg.Snapshot("blog")
	assert.Equal(t, 2, set.Len())
	assert.Len(t, repo.upserted["blog"], 2)
}

func TestProcessFeedTask_NotModified(t *testing.T) {
	g := buildGraph(t, sourceDef("blog"))
	agg := aggregator.New(g, feed.NewFilterer())
	repo := newFakeEntryRepo()

	fetcher := &fakeFetcher{fetch: func(ctx context.Context, req feed.Request) (*feed.Result, error) {
		return &feed.Result{NotModified: true}, nil
	}}

	node, _ := g.Node("blog")
	task := NewProcessFeedTask(node, g, fetcher, feed.NewFilterer(), nil, agg, repo)
	task.LastModified = "Sat, 01 Mar 2025 12:00:00 GMT"
	require.NoError(t, task.Execute(context.Background()))

	assert.True(t, task.Outcome.NotModified)
	assert.Equal(t, "Sat, 01 Mar 2025 12:00:00 GMT", task.Outcome.LastModified)
	assert.Empty(t, repo.upserted)
}

func TestProcessFeedTask_ReturnsFetchError(t *testing.T) {
	g := buildGraph(t, sourceDef("blog"))
	agg := aggregator.New(g, feed.NewFilterer())

	fetcher := &fakeFetcher{fetch: func(ctx context.Context, req feed.Request) (*feed.Result, error) {
		return nil, permanent(410)
	}}

	node, _ := g.Node("blog")
	err := NewProcessFeedTask(node, g, fetcher, feed.NewFilterer(), nil, agg, nil).Execute(context.Background())

	var fetchErr *feed.FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, 410, fetchErr.StatusCode)
}

func TestProcessFeedTask_CancelledBeforeMerge(t *testing.T) {
	g := buildGraph(t, sourceDef("blog"))
	agg := aggregator.New(g, feed.NewFilterer())

	ctx, cancel := context.WithCancel(context.Background())
	fetcher := &fakeFetcher{fetch: func(context.Context, feed.Request) (*feed.Result, error) {
		cancel()
		return &feed.Result{Entries: entriesFor("blog", "https://blog.example.com/a")}, nil
	}}

	node, _ := g.Node("blog")
	err := NewProcessFeedTask(node, g, fetcher, feed.NewFilterer(), nil, agg, nil).Execute(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	set, _ := agg.Snapshot("blog")
	assert.Zero(t, set.Len(), "a cancelled fetch leaves the committed state alone")
}

func TestExtractContentTask_ReusesPriorContent(t *testing.T) {
	g := buildGraph(t, sourceDef("blog"))
	agg := aggregator.New(g, feed.NewFilterer())

	known := entriesFor("blog", "https://blog.example.com/known")[0]
	_, err := agg.Merge("blog", []*feed.Entry{known.WithContent("<p>full article</p>")})
	require.NoError(t, err)
	prior, _ := agg.Snapshot("blog")

	fetched := entriesFor("blog", "https://blog.example.com/known", "https://blog.example.com/new")
	fetcher := &fakeFetcher{article: func(ctx context.Context, pageURL string) ([]byte, error) {
		return nil, errors.New("connection refused")
	}}

	task := NewExtractContentTask("blog", fetched, prior, time.Second, fetcher, feed.NewContentExtractor())
	require.NoError(t, task.Execute(context.Background()))

	assert.Equal(t, "<p>full article</p>", task.Entries[0].Content)
	assert.Equal(t, "<p>body</p>", task.Entries[1].Content, "failed extraction keeps feed content")
	assert.Equal(t, []string{"https://blog.example.com/new"}, fetcher.articles)
}

func TestProcessFeedTask_ExtractionDeadlineKeepsEntries(t *testing.T) {
	def := sourceDef("blog")
	def.Settings.ExtractContent = true
	def.Settings.Timeout = time.Second
	g := buildGraph(t, def)
	agg := aggregator.New(g, feed.NewFilterer())

	links := make([]string, 0, 10)
	for i := range 10 {
		links = append(links, fmt.Sprintf("https://blog.example.com/%d", i))
	}

	fetcher := &fakeFetcher{
		fetch: func(context.Context, feed.Request) (*feed.Result, error) {
			return &feed.Result{Entries: entriesFor("blog", links...)}, nil
		},
		article: func(ctx context.Context, pageURL string) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	node, _ := g.Node("blog")
	task := NewProcessFeedTask(node, g, fetcher, feed.NewFilterer(), feed.NewContentExtractor(), agg, nil)
	require.NoError(t, task.Execute(ctx))

	set, _ := agg.Snapshot("blog")
	require.Equal(t, 10, set.Len(), "entries are merged even when extraction runs out of time")
	for _, e := range set.Entries {
		assert.Equal(t, "<p>body</p>", e.Content)
	}
	assert.Len(t, fetcher.articles, 1, "no articles are fetched after the deadline")

	retry := &fakeFetcher{
		fetch:   fetcher.fetch,
		article: func(context.Context, string) ([]byte, error) { return nil, errors.New("connection refused") },
	}
	task = NewProcessFeedTask(node, g, retry, feed.NewFilterer(), feed.NewContentExtractor(), agg, nil)
	require.NoError(t, task.Execute(context.Background()))
	assert.Len(t, retry.articles, 10, "feed content is not mistaken for an extracted body")
}

func TestExtractContentTask_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := &fakeFetcher{}
	task := NewExtractContentTask("blog", entriesFor("blog", "https://blog.example.com/a"), nil, time.Second, fetcher, feed.NewContentExtractor())

	assert.ErrorIs(t, task.Execute(ctx), context.Canceled)
	assert.Empty(t, fetcher.articles)
}

func TestTidyTask(t *testing.T) {
	bounded := sourceDef("news")
	bounded.Settings.Oldest = 24 * time.Hour
	longer := sourceDef("archive")
	longer.Settings.Oldest = 72 * time.Hour
	g := buildGraph(t, bounded, longer)

	store := &fakeStore{pruned: map[string]aggregator.Diff{
		"news": {Node: "news", Removed: []string{"https://news.example.com/old"}},
	}}
	repo := newFakeEntryRepo()

	task := NewTidyTask(g, store, repo)
	task.now = func() time.Time { return testNow }
	require.NoError(t, task.Execute(context.Background()))

	assert.Equal(t, []string{"https://news.example.com/old"}, repo.deleted["news"])
	assert.Empty(t, repo.deleted["archive"])
	assert.Equal(t, []time.Time{testNow.Add(-72 * time.Hour)}, repo.cutoffs)
}

func TestTidyTask_UnboundedSourceKeepsRows(t *testing.T) {
	bounded := sourceDef("news")
	bounded.Settings.Oldest = 24 * time.Hour
	g := buildGraph(t, bounded, sourceDef("forever"))

	repo := newFakeEntryRepo()
	task := NewTidyTask(g, &fakeStore{}, repo)
	require.NoError(t, task.Execute(context.Background()))

	assert.Empty(t, repo.cutoffs)
}

func TestSyncFeedConfigTask(t *testing.T) {
	def := graph.Definition{
		Name:   "fosstodon",
		Kind:   graph.KindSource,
		Source: feed.Source{Kind: feed.SourceKindMastodon, Instance: "fosstodon.org", Timeline: "local"},
	}
	g := buildGraph(t, def)
	node, _ := g.Node("fosstodon")
	repo := newFakeFeedRepo()

	require.NoError(t, NewSyncFeedConfigTask(node, repo).Execute(context.Background()))
	assert.Equal(t, "mastodon fosstodon.org", repo.feeds["fosstodon"])
}
