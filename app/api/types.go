package api

import (
	"time"

	"github.com/lysyi3m/feed-comb/app/aggregator"
	"github.com/lysyi3m/feed-comb/app/cache"
	"github.com/lysyi3m/feed-comb/app/feed"
	"github.com/lysyi3m/feed-comb/app/tasks"
)

type GeneratorInterface interface {
	Run(channel feed.Channel, entries []*feed.Entry) (string, error)
}

// QueryInterface is the read side of the aggregated state.
type QueryInterface interface {
	Snapshot(name string) (*aggregator.EntrySet, bool)
	GetTag(tag string) ([]*feed.Entry, bool)
	ListNodes() []aggregator.NodeInfo
	Tags() []string
	Generation() uint64
}

var (
	_ GeneratorInterface = (*feed.Generator)(nil)
	_ QueryInterface     = (*aggregator.Aggregator)(nil)
)

type Handler struct {
	query     QueryInterface
	scheduler tasks.TaskSchedulerInterface
	generator GeneratorInterface
	cache     cache.CacheInterface
	cacheTTL  time.Duration
	version   string
}

type entryResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Author      string    `json:"author,omitempty"`
	Link        string    `json:"link,omitempty"`
	Feed        string    `json:"feed"`
	PublishedAt time.Time `json:"published_at"`
	Undated     bool      `json:"undated,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

type scheduleResponse struct {
	State         tasks.State `json:"state"`
	LastSuccessAt *time.Time  `json:"last_success_at,omitempty"`
	LastAttemptAt *time.Time  `json:"last_attempt_at,omitempty"`
	NextDueAt     *time.Time  `json:"next_due_at,omitempty"`
	Failures      int         `json:"failures"`
	LastError     string      `json:"last_error,omitempty"`
	LastErrorKind string      `json:"last_error_kind,omitempty"`
}

type feedResponse struct {
	Name     string            `json:"name"`
	Kind     string            `json:"kind"`
	Enabled  bool              `json:"enabled"`
	Tags     []string          `json:"tags,omitempty"`
	Entries  int               `json:"entries"`
	Schedule *scheduleResponse `json:"schedule,omitempty"`
}

func newEntryResponse(e *feed.Entry) entryResponse {
	return entryResponse{
		ID:          e.ID,
		Title:       e.Title,
		Author:      e.Author,
		Link:        e.Link,
		Feed:        e.Feed,
		PublishedAt: e.PublishedAt,
		Undated:     e.Undated,
		Tags:        e.Tags,
	}
}

func newScheduleResponse(st tasks.ScheduleState) *scheduleResponse {
	return &scheduleResponse{
		State:         st.State,
		LastSuccessAt: timePtr(st.LastSuccessAt),
		LastAttemptAt: timePtr(st.LastAttemptAt),
		NextDueAt:     timePtr(st.NextDueAt),
		Failures:      st.Failures,
		LastError:     st.LastError,
		LastErrorKind: string(st.LastErrorKind),
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
