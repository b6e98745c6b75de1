package database

import (
	"time"

	"github.com/lysyi3m/feed-comb/app/feed"
)

type FeedRepositoryInterface interface {
	GetFeed(feedName string) (*Feed, error)
	GetFeeds() ([]Feed, error)
	GetFeedCount() (int, error)

	UpsertFeed(feedName, kind, feedURL string) error
	UpdateFetchState(feedName string, state FetchState) error
}

// EntryRepositoryInterface stores entries keyed by node name and entry
// identity. Writes are idempotent upserts.
type EntryRepositoryInterface interface {
	GetEntries(feedName string, limit int) ([]*feed.Entry, error)
	GetEntryCount(feedName string) (int, error)

	UpsertEntries(feedName string, entries []*feed.Entry) error
	DeleteEntries(feedName string, ids []string) error
	DeleteOlderThan(cutoff time.Time) (int64, error)
}

var (
	_ FeedRepositoryInterface  = (*FeedRepository)(nil)
	_ EntryRepositoryInterface = (*EntryRepository)(nil)
)
