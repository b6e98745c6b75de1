package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/feed-comb/app/database"
	"github.com/lysyi3m/feed-comb/app/graph"
)

// SyncFeedConfigTask registers a source node in the database so its fetch
// state can be stored.
type SyncFeedConfigTask struct {
	Task
	Node     *graph.Node
	feedRepo database.FeedRepositoryInterface
}

func NewSyncFeedConfigTask(node *graph.Node, feedRepo database.FeedRepositoryInterface) *SyncFeedConfigTask {
	return &SyncFeedConfigTask{
		Task:     NewTask(TaskTypeSyncFeedConfig, node.Name),
		Node:     node,
		feedRepo: feedRepo,
	}
}

func (t *SyncFeedConfigTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	target := t.Node.Source.URL
	if target == "" {
		target = t.Node.Source.Instance
	}

	err := t.feedRepo.UpsertFeed(t.Node.Name, string(t.Node.Source.Kind), target)
	if err != nil {
		slog.Error("Task failed", "type", "SyncFeedConfig", "feed", t.FeedName, "error", err)
		return fmt.Errorf("failed to sync feed config to database: %w", err)
	}

	slog.Debug("Task completed",
		"type", "SyncFeedConfig",
		"feed", t.FeedName,
		"duration", t.GetDuration())

	return nil
}
