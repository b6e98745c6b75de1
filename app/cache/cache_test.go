package cache

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestFeedKey(t *testing.T) {
	key1a := FeedKey("feed", "hacking", 3)
	key1b := FeedKey("feed", "hacking", 3)
	key2 := FeedKey("tag", "hacking", 3)
	key3 := FeedKey("feed", "hacking", 4)

	if key1a != key1b {
		t.Errorf("Expected same key for same input, got %s != %s", key1a, key1b)
	}
	if key1a == key2 {
		t.Errorf("Expected feed and tag views to use different keys, got %s", key1a)
	}
	if key1a == key3 {
		t.Errorf("Expected a new generation to change the key, got %s", key1a)
	}
	if !strings.HasPrefix(key1a, "feed:") {
		t.Errorf("Expected key to start with feed:, got %s", key1a)
	}
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(2, time.Minute)
	defer c.Close()

	if _, ok, _ := c.Get(ctx, "missing"); ok {
		t.Error("Expected cache miss for unknown key")
	}

	c.Set(ctx, "a", "1", 0)
	c.Set(ctx, "b", "2", 0)

	val, ok, err := c.Get(ctx, "a")
	if err != nil || !ok || val != "1" {
		t.Errorf("Expected hit with value 1, got %q (ok=%v, err=%v)", val, ok, err)
	}

	c.Set(ctx, "c", "3", 0)
	if _, ok, _ := c.Get(ctx, "b"); ok {
		t.Error("Expected least recently used key to be evicted")
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(4, 20*time.Millisecond)

	c.Set(ctx, "a", "1", 0)
	time.Sleep(60 * time.Millisecond)

	if _, ok, _ := c.Get(ctx, "a"); ok {
		t.Error("Expected entry to expire")
	}
}
