package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/feed-comb/app/aggregator"
	"github.com/lysyi3m/feed-comb/app/database"
	"github.com/lysyi3m/feed-comb/app/feed"
	"github.com/lysyi3m/feed-comb/app/graph"
)

// Outcome is what a completed ProcessFeedTask reports back to the scheduler.
type Outcome struct {
	NotModified  bool
	LastModified string
	ETag         string
	Diff         aggregator.Diff
	Fetched      int
	Dropped      int
	Skipped      int
}

// ProcessFeedTask fetches one source node, filters the entries at source
// scope and merges the survivors into the aggregated state.
type ProcessFeedTask struct {
	Task
	Node             *graph.Node
	LastModified     string
	ETag             string
	Outcome          Outcome
	graph            *graph.Graph
	fetcher          FetcherInterface
	filterer         *feed.Filterer
	contentExtractor *feed.ContentExtractor
	store            StoreInterface
	entryRepo        database.EntryRepositoryInterface
}

func NewProcessFeedTask(node *graph.Node, g *graph.Graph, fetcher FetcherInterface, filterer *feed.Filterer,
	contentExtractor *feed.ContentExtractor, store StoreInterface, entryRepo database.EntryRepositoryInterface) *ProcessFeedTask {
	return &ProcessFeedTask{
		Task:             NewTask(TaskTypeProcessFeed, node.Name),
		Node:             node,
		graph:            g,
		fetcher:          fetcher,
		filterer:         filterer,
		contentExtractor: contentExtractor,
		store:            store,
		entryRepo:        entryRepo,
	}
}

// Execute returns the fetch error unchanged so the scheduler can classify it.
// When ctx is cancelled before the merge the result is discarded. A deadline
// that passes after the fetch only cuts content extraction short.
func (t *ProcessFeedTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	settings := t.Node.Settings

	result, err := t.fetcher.Fetch(ctx, feed.Request{
		Name:         t.Node.Name,
		Source:       t.Node.Source,
		LastModified: t.LastModified,
		ETag:         t.ETag,
		Tags:         t.Node.Tags,
		ApplyTags:    settings.ApplyTags,
		KeepEmpty:    settings.KeepEmpty,
	})
	if err != nil {
		return err
	}

	if err := cancelled(ctx); err != nil {
		return err
	}

	if result.NotModified {
		t.Outcome = Outcome{NotModified: true, LastModified: t.LastModified, ETag: t.ETag}
		slog.Debug("Task completed",
			"type", "ProcessedFeed",
			"feed", t.FeedName,
			"duration", t.GetDuration(),
			"not_modified", true)
		return nil
	}

	kept, dropped := t.filterer.Run(result.Entries, t.graph.Scopes(t.Node)...)

	if settings.ExtractContent && t.contentExtractor != nil && len(kept) > 0 {
		prior, _ := t.store.Snapshot(t.Node.Name)
		extractTask := NewExtractContentTask(t.Node.Name, kept, prior, settings.Timeout, t.fetcher, t.contentExtractor)
		extractTask.Start()
		if err := extractTask.Execute(ctx); err != nil {
			return fmt.Errorf("failed to extract content: %w", err)
		}
		kept = extractTask.Entries
	}

	if err := cancelled(ctx); err != nil {
		return err
	}

	diff, err := t.store.Merge(t.Node.Name, kept)
	if err != nil {
		return fmt.Errorf("failed to merge entries: %w", err)
	}

	t.Outcome = Outcome{
		LastModified: result.LastModified,
		ETag:         result.ETag,
		Diff:         diff,
		Fetched:      len(result.Entries),
		Dropped:      dropped,
		Skipped:      result.Skipped,
	}

	t.persist(diff)

	slog.Info("Task completed",
		"type", "ProcessedFeed",
		"feed", t.FeedName,
		"duration", t.GetDuration(),
		"total", len(result.Entries),
		"skipped", result.Skipped,
		"filtered", dropped,
		"new", len(diff.Added),
		"updated", len(diff.Updated),
		"removed", len(diff.Removed))

	return nil
}

func cancelled(ctx context.Context) error {
	if err := ctx.Err(); errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// persist mirrors the diff into the database. The in-memory state is
// authoritative, so failures are logged and the fetch still counts.
func (t *ProcessFeedTask) persist(diff aggregator.Diff) {
	if t.entryRepo == nil || !diff.Changed() {
		return
	}

	if err := t.entryRepo.UpsertEntries(t.Node.Name, diff.Upserts()); err != nil {
		slog.Error("Failed to store entries", "feed", t.FeedName, "error", err)
	}

	if len(diff.Removed) > 0 {
		if err := t.entryRepo.DeleteEntries(t.Node.Name, diff.Removed); err != nil {
			slog.Error("Failed to delete entries", "feed", t.FeedName, "error", err)
		}
	}
}
