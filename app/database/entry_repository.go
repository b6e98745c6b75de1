package database

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/lysyi3m/feed-comb/app/feed"
	"github.com/samber/lo"
)

const entryBatchSize = 200

var entryColumns = []string{
	"feed_name", "id", "source_id", "title", "author", "content", "link", "comments",
	"published_at", "undated", "tags", "created_at", "updated_at",
}

type EntryRepository struct {
	db *DB
}

func NewEntryRepository(db *DB) *EntryRepository {
	return &EntryRepository{db: db}
}

// UpsertEntries writes entries keyed by (feed, identity). Writing the same
// entries twice leaves the table unchanged apart from updated_at.
func (r *EntryRepository) UpsertEntries(feedName string, entries []*feed.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()

	for _, batch := range lo.Chunk(entries, entryBatchSize) {
		ib := sqlbuilder.SQLite.NewInsertBuilder()
		ib.InsertInto("entries").Cols(entryColumns...)

		for _, e := range batch {
			tags, err := json.Marshal(e.Tags)
			if err != nil {
				return fmt.Errorf("failed to marshal tags: %w", err)
			}
			ib.Values(
				feedName, e.ID, e.SourceID, e.Title, e.Author, e.Content, e.Link, e.Comments,
				e.PublishedAt.UnixMilli(), e.Undated, string(tags), now, now,
			)
		}

		ib.SQL(`ON CONFLICT(feed_name, id) DO UPDATE SET
			source_id = excluded.source_id,
			title = excluded.title,
			author = excluded.author,
			content = excluded.content,
			link = excluded.link,
			comments = excluded.comments,
			published_at = excluded.published_at,
			undated = excluded.undated,
			tags = excluded.tags,
			updated_at = excluded.updated_at`)

		query, args := ib.Build()
		if _, err := tx.Exec(query, args...); err != nil {
			return fmt.Errorf("failed to upsert entries: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit entries: %w", err)
	}

	return nil
}

func (r *EntryRepository) DeleteEntries(feedName string, ids []string) error {
	for _, batch := range lo.Chunk(ids, entryBatchSize) {
		del := sqlbuilder.SQLite.NewDeleteBuilder()
		del.DeleteFrom("entries").Where(
			del.Equal("feed_name", feedName),
			del.In("id", lo.ToAnySlice(batch)...),
		)

		query, args := del.Build()
		if _, err := r.db.Exec(query, args...); err != nil {
			return fmt.Errorf("failed to delete entries: %w", err)
		}
	}

	return nil
}

func (r *EntryRepository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	del := sqlbuilder.SQLite.NewDeleteBuilder()
	del.DeleteFrom("entries").Where(del.LessThan("published_at", cutoff.UnixMilli()))

	query, args := del.Build()
	result, err := r.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old entries: %w", err)
	}

	return result.RowsAffected()
}

// GetEntries returns the stored entries of a node, newest first. A
// non-positive limit returns everything.
func (r *EntryRepository) GetEntries(feedName string, limit int) ([]*feed.Entry, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(entryColumns...).From("entries").Where(sb.Equal("feed_name", feedName))
	sb.OrderBy("published_at").Desc()
	if limit > 0 {
		sb.Limit(limit)
	}

	query, args := sb.Build()
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get entries: %w", err)
	}
	defer rows.Close()

	var entries []*feed.Entry
	for rows.Next() {
		var (
			e                    feed.Entry
			publishedAt          int64
			tags                 string
			createdAt, updatedAt int64
		)

		err := rows.Scan(
			&e.Feed, &e.ID, &e.SourceID, &e.Title, &e.Author, &e.Content, &e.Link, &e.Comments,
			&publishedAt, &e.Undated, &tags, &createdAt, &updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}

		if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags of %s: %w", e.ID, err)
		}
		e.PublishedAt = time.UnixMilli(publishedAt).UTC()

		entries = append(entries, feed.NewEntry(e))
	}

	return entries, rows.Err()
}

func (r *EntryRepository) GetEntryCount(feedName string) (int, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("COUNT(*)").From("entries").Where(sb.Equal("feed_name", feedName))

	query, args := sb.Build()

	var count int
	if err := r.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return count, nil
}
