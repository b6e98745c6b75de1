package tasks

import (
	"context"

	"github.com/lysyi3m/feed-comb/app/aggregator"
	"github.com/lysyi3m/feed-comb/app/feed"
)

// TaskSchedulerInterface is what the HTTP layer needs from the scheduler:
// lifecycle, out-of-band refresh requests and read-only status.
type TaskSchedulerInterface interface {
	Start()
	Stop()
	RequestRefresh(name string) (bool, error)
	Status() []NodeStatus
}

type FetcherInterface interface {
	Fetch(ctx context.Context, req feed.Request) (*feed.Result, error)
	FetchArticle(ctx context.Context, pageURL string) ([]byte, error)
}

// StoreInterface is the write side of the aggregated state.
type StoreInterface interface {
	Merge(name string, entries []*feed.Entry) (aggregator.Diff, error)
	Prune(name string) (aggregator.Diff, error)
	Snapshot(name string) (*aggregator.EntrySet, bool)
}

var (
	_ TaskSchedulerInterface = (*Scheduler)(nil)
	_ FetcherInterface       = (*feed.Fetcher)(nil)
	_ StoreInterface         = (*aggregator.Aggregator)(nil)
)
