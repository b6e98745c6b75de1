package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/feed-comb/app/aggregator"
	"github.com/lysyi3m/feed-comb/app/feed"
)

// ExtractContentTask replaces entry content with the readable body of the
// linked article. Bodies extracted by an earlier fetch are reused from the
// committed snapshot, so refetching the same payload yields equal entries.
type ExtractContentTask struct {
	Task
	Entries          []*feed.Entry
	Prior            *aggregator.EntrySet
	Timeout          time.Duration
	fetcher          FetcherInterface
	contentExtractor *feed.ContentExtractor
}

func NewExtractContentTask(feedName string, entries []*feed.Entry, prior *aggregator.EntrySet, timeout time.Duration, fetcher FetcherInterface, contentExtractor *feed.ContentExtractor) *ExtractContentTask {
	return &ExtractContentTask{
		Task:             NewTask(TaskTypeExtractContent, feedName),
		Entries:          entries,
		Prior:            prior,
		Timeout:          timeout,
		fetcher:          fetcher,
		contentExtractor: contentExtractor,
	}
}

// Execute rewrites t.Entries in place. Entries whose article cannot be
// fetched keep their feed content. Once the deadline of ctx passes no more
// articles are fetched and the remaining entries keep their feed content;
// only cancellation aborts the task.
func (t *ExtractContentTask) Execute(ctx context.Context) error {
	if err := ctx.Err(); errors.Is(err, context.Canceled) {
		return err
	}

	reused, successCount, errorCount, deferred := 0, 0, 0, 0

	for i, entry := range t.Entries {
		if prior, ok := t.Prior.Get(entry.ID); ok && prior.Link == entry.Link &&
			prior.Content != "" && prior.Content != entry.Content {
			t.Entries[i] = entry.WithContent(prior.Content)
			reused++
			continue
		}

		if entry.Link == "" {
			continue
		}

		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			deferred++
			continue
		}

		content, err := t.extractContentForEntry(ctx, entry)
		if err != nil {
			slog.Debug("Failed to extract content for entry", "feed", t.FeedName, "url", entry.Link, "error", err)
			errorCount++
			continue
		}

		t.Entries[i] = entry.WithContent(content)
		successCount++
	}

	slog.Debug("Task completed",
		"type", t.GetType(),
		"feed", t.FeedName,
		"duration", t.GetDuration(),
		"reused", reused,
		"success", successCount,
		"errors", errorCount,
		"deferred", deferred)

	if deferred > 0 {
		slog.Warn("Content extraction ran out of time", "feed", t.FeedName, "deferred", deferred)
	}

	return nil
}

func (t *ExtractContentTask) extractContentForEntry(ctx context.Context, entry *feed.Entry) (string, error) {
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	data, err := t.fetcher.FetchArticle(ctx, entry.Link)
	if err != nil {
		return "", fmt.Errorf("failed to fetch article content: %w", err)
	}

	content, err := t.contentExtractor.Run(data, entry.Link)
	if err != nil {
		return "", fmt.Errorf("failed to extract content: %w", err)
	}

	return content, nil
}
