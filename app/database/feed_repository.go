package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"
)

var feedColumns = []string{
	"name", "kind", "url",
	"last_success_at", "last_attempt_at", "next_fetch_at",
	"last_modified", "etag", "failures", "last_error", "last_error_kind",
	"created_at", "updated_at",
}

// FeedRepository stores source node registrations and their fetch state.
type FeedRepository struct {
	db *DB
}

func NewFeedRepository(db *DB) *FeedRepository {
	return &FeedRepository{db: db}
}

// UpsertFeed registers a source node or updates its target.
func (r *FeedRepository) UpsertFeed(feedName, kind, feedURL string) error {
	now := time.Now().UnixMilli()

	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertInto("feeds").
		Cols("name", "kind", "url", "created_at", "updated_at").
		Values(feedName, kind, feedURL, now, now)
	ib.SQL("ON CONFLICT(name) DO UPDATE SET kind = excluded.kind, url = excluded.url, updated_at = excluded.updated_at")

	query, args := ib.Build()
	if _, err := r.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to upsert feed: %w", err)
	}

	return nil
}

func (r *FeedRepository) UpdateFetchState(feedName string, state FetchState) error {
	ub := sqlbuilder.SQLite.NewUpdateBuilder()
	ub.Update("feeds").Set(
		ub.Assign("last_success_at", toMillis(state.LastSuccessAt)),
		ub.Assign("last_attempt_at", toMillis(state.LastAttemptAt)),
		ub.Assign("next_fetch_at", toMillis(state.NextFetchAt)),
		ub.Assign("last_modified", state.LastModified),
		ub.Assign("etag", state.ETag),
		ub.Assign("failures", state.Failures),
		ub.Assign("last_error", state.LastError),
		ub.Assign("last_error_kind", state.LastErrorKind),
		ub.Assign("updated_at", time.Now().UnixMilli()),
	).Where(ub.Equal("name", feedName))

	query, args := ub.Build()
	result, err := r.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update fetch state: %w", err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("feed %s is not registered", feedName)
	}

	return nil
}

func (r *FeedRepository) GetFeed(feedName string) (*Feed, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(feedColumns...).From("feeds").Where(sb.Equal("name", feedName))

	query, args := sb.Build()
	feed, err := scanFeed(r.db.QueryRow(query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed: %w", err)
	}

	return feed, nil
}

func (r *FeedRepository) GetFeeds() ([]Feed, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(feedColumns...).From("feeds").OrderBy("name")

	query, args := sb.Build()
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get feeds: %w", err)
	}
	defer rows.Close()

	var feeds []Feed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feed: %w", err)
		}
		feeds = append(feeds, *feed)
	}

	return feeds, rows.Err()
}

func (r *FeedRepository) GetFeedCount() (int, error) {
	var count int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM feeds").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count feeds: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeed(row rowScanner) (*Feed, error) {
	var (
		feed                                Feed
		lastSuccess, lastAttempt, nextFetch sql.NullInt64
		createdAt, updatedAt                int64
	)

	err := row.Scan(
		&feed.Name, &feed.Kind, &feed.URL,
		&lastSuccess, &lastAttempt, &nextFetch,
		&feed.LastModified, &feed.ETag, &feed.Failures, &feed.LastError, &feed.LastErrorKind,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	feed.LastSuccessAt = fromMillis(lastSuccess)
	feed.LastAttemptAt = fromMillis(lastAttempt)
	feed.NextFetchAt = fromMillis(nextFetch)
	feed.CreatedAt = time.UnixMilli(createdAt).UTC()
	feed.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	return &feed, nil
}
