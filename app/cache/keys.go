package cache

import (
	"crypto/sha256"
	"fmt"
)

// FeedKey identifies the rendering of a node or tag view at a given
// aggregator generation.
func FeedKey(kind, name string, generation uint64) string {
	hash := sha256.Sum256([]byte(kind + "/" + name))
	return fmt.Sprintf("feed:%x:%d", hash[:8], generation)
}
