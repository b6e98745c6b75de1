package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/lysyi3m/feed-comb/app/database"
	"github.com/lysyi3m/feed-comb/app/graph"
)

// TidyTask re-applies retention to every source node so that entries past
// their age bound expire even when nothing is fetched, and drops rows the
// in-memory state no longer holds.
type TidyTask struct {
	Task
	graph     *graph.Graph
	store     StoreInterface
	entryRepo database.EntryRepositoryInterface
	now       func() time.Time
}

func NewTidyTask(g *graph.Graph, store StoreInterface, entryRepo database.EntryRepositoryInterface) *TidyTask {
	return &TidyTask{
		Task:      NewTask(TaskTypeTidy, ""),
		graph:     g,
		store:     store,
		entryRepo: entryRepo,
		now:       time.Now,
	}
}

func (t *TidyTask) Execute(ctx context.Context) error {
	removed := 0
	var longest time.Duration
	bounded := true

	for _, node := range t.graph.Sources() {
		if err := ctx.Err(); err != nil {
			return err
		}

		if node.Settings.Oldest <= 0 {
			bounded = false
		}
		longest = max(longest, node.Settings.Oldest)

		diff, err := t.store.Prune(node.Name)
		if err != nil {
			slog.Warn("Failed to prune feed", "feed", node.Name, "error", err)
			continue
		}

		if set, ok := t.store.Snapshot(node.Name); ok {
			entriesGauge.WithLabelValues(node.Name).Set(float64(set.Len()))
		}

		if len(diff.Removed) == 0 {
			continue
		}
		removed += len(diff.Removed)

		if t.entryRepo != nil {
			if err := t.entryRepo.DeleteEntries(node.Name, diff.Removed); err != nil {
				slog.Error("Failed to delete entries", "feed", node.Name, "error", err)
			}
		}
	}

	var swept int64
	if t.entryRepo != nil && bounded && longest > 0 {
		n, err := t.entryRepo.DeleteOlderThan(t.now().Add(-longest))
		if err != nil {
			slog.Error("Failed to delete expired entries", "error", err)
		}
		swept = n
	}

	slog.Info("Task completed",
		"type", "Tidy",
		"duration", t.GetDuration(),
		"removed", removed,
		"swept", swept)

	return nil
}
