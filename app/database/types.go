package database

import (
	"database/sql"
	"time"
)

// FetchState is the persisted part of a source node's schedule.
type FetchState struct {
	LastSuccessAt time.Time
	LastAttemptAt time.Time
	NextFetchAt   time.Time
	LastModified  string // Last-Modified header of the last successful fetch
	ETag          string
	Failures      int
	LastError     string
	LastErrorKind string
}

type Feed struct {
	Name string // Node name derived from the config filename
	Kind string // rss or mastodon
	URL  string
	FetchState
	CreatedAt time.Time
	UpdatedAt time.Time
}

func toMillis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64).UTC()
}
