package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/feed-comb/app/cache"
	"github.com/lysyi3m/feed-comb/app/feed"
	"github.com/lysyi3m/feed-comb/app/graph"
	"github.com/lysyi3m/feed-comb/app/tasks"
	"github.com/samber/lo"
)

const defaultDetailsLimit = 20

func NewHandler(query QueryInterface, scheduler tasks.TaskSchedulerInterface, generator GeneratorInterface,
	renderCache cache.CacheInterface, cacheTTL time.Duration, version string) *Handler {
	return &Handler{
		query:     query,
		scheduler: scheduler,
		generator: generator,
		cache:     renderCache,
		cacheTTL:  cacheTTL,
		version:   version,
	}
}

func (h *Handler) GetFeed(c *gin.Context) {
	name := c.Param("name")

	generation := h.query.Generation()
	set, ok := h.query.Snapshot(name)
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}

	if c.Query("fresh") != "" {
		if _, err := h.scheduler.RequestRefresh(name); err != nil {
			slog.Warn("Refresh request failed", "feed", name, "error", err)
		}
	}

	h.render(c, "feed", feed.Channel{Name: name, Path: "/feeds/" + name}, generation, set.Entries)
}

func (h *Handler) GetAll(c *gin.Context) {
	generation := h.query.Generation()
	set, ok := h.query.Snapshot(graph.AllNode)
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}

	h.render(c, "feed", feed.Channel{Name: graph.AllNode, Path: "/all", Title: "All feeds"}, generation, set.Entries)
}

func (h *Handler) GetTag(c *gin.Context) {
	tag := feed.NormalizeTag(c.Param("tag"))

	generation := h.query.Generation()
	entries, ok := h.query.GetTag(tag)
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}

	h.render(c, "tag", feed.Channel{Name: tag, Path: "/tags/" + tag, Title: "#" + tag}, generation, entries)
}

// render serves the RSS document of a view. Documents are cached per
// aggregator generation, so a cached copy never outlives a content change.
// generation must be read before the entries were taken.
func (h *Handler) render(c *gin.Context, kind string, channel feed.Channel, generation uint64, entries []*feed.Entry) {
	ctx := c.Request.Context()
	key := cache.FeedKey(kind, channel.Name, generation)

	rss, hit := "", false
	if h.cache != nil {
		var err error
		rss, hit, err = h.cache.Get(ctx, key)
		if err != nil {
			slog.Warn("Cache error", "operation", "get", "feed", channel.Name, "error", err)
		}
	}

	if !hit {
		var err error
		rss, err = h.generator.Run(channel, entries)
		if err != nil {
			slog.Error("RSS generation error", "feed", channel.Name, "error", err)
			c.Status(http.StatusInternalServerError)
			return
		}

		if h.cache != nil {
			if err := h.cache.Set(ctx, key, rss, h.cacheTTL); err != nil {
				slog.Warn("Cache error", "operation", "set", "feed", channel.Name, "error", err)
			}
		}
	}

	c.Header("Content-Type", "application/xml; charset=utf-8")
	c.Header("X-Feed-Items", strconv.Itoa(len(entries)))
	c.Header("X-Feed-Name", channel.Name)
	c.Header("X-Cache", lo.Ternary(hit, "HIT", "MISS"))

	c.String(http.StatusOK, rss)
}

func (h *Handler) GetHealth(c *gin.Context) {
	statuses := h.scheduler.Status()

	failing := lo.CountBy(statuses, func(s tasks.NodeStatus) bool {
		return s.Failures > 0
	})

	c.JSON(http.StatusOK, gin.H{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"version":   h.version,
		"feeds":     len(statuses),
		"failing":   failing,
		"tags":      len(h.query.Tags()),
	})
}

func (h *Handler) APIListFeeds(c *gin.Context) {
	statuses := lo.KeyBy(h.scheduler.Status(), func(s tasks.NodeStatus) string {
		return s.Name
	})

	nodes := h.query.ListNodes()
	feeds := make([]feedResponse, 0, len(nodes))
	for _, node := range nodes {
		feeds = append(feeds, newFeedResponse(node.Name, string(node.Kind), node.Tags, node.Entries, statuses[node.Name]))
	}

	c.JSON(http.StatusOK, gin.H{
		"feeds": feeds,
		"tags":  h.query.Tags(),
		"total": len(feeds),
	})
}

func (h *Handler) APIGetFeedDetails(c *gin.Context) {
	name := c.Param("name")

	set, ok := h.query.Snapshot(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
		return
	}

	limit := defaultDetailsLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit parameter"})
			return
		}
		limit = n
	}

	status, _ := lo.Find(h.scheduler.Status(), func(s tasks.NodeStatus) bool {
		return s.Name == name
	})

	var tags []string
	for _, node := range h.query.ListNodes() {
		if node.Name == name {
			tags = node.Tags
			break
		}
	}

	entries := lo.Map(lo.Subset(set.Entries, 0, uint(limit)), func(e *feed.Entry, _ int) entryResponse {
		return newEntryResponse(e)
	})

	c.JSON(http.StatusOK, gin.H{
		"feed":         newFeedResponse(name, string(status.Kind), tags, set.Len(), status),
		"version":      set.Version,
		"committed_at": timePtr(set.CommittedAt),
		"entries":      entries,
	})
}

func (h *Handler) APIRefreshFeed(c *gin.Context) {
	name := c.Param("name")

	requested, err := h.scheduler.RequestRefresh(name)
	if errors.Is(err, tasks.ErrUnknownFeed) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
		return
	}
	if err != nil {
		slog.Error("Refresh request failed", "feed", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to request refresh", "details": err.Error()})
		return
	}

	message := "Refresh scheduled"
	if !requested {
		message = "Feed is fresh or already being fetched"
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success":   true,
		"requested": requested,
		"message":   message,
	})
}

func newFeedResponse(name, kind string, tags []string, entries int, status tasks.NodeStatus) feedResponse {
	resp := feedResponse{
		Name:    name,
		Kind:    kind,
		Enabled: status.Enabled,
		Tags:    tags,
		Entries: entries,
	}
	if status.Kind == graph.KindSource {
		resp.Schedule = newScheduleResponse(status.ScheduleState)
	}
	return resp
}
