package aggregator

import (
	"cmp"
	"slices"
	"time"

	"github.com/lysyi3m/feed-comb/app/feed"
)

// EntrySet is the committed state of one node. It is never modified after
// it has been stored; merges build a new set.
type EntrySet struct {
	Node        string
	Entries     []*feed.Entry
	Version     uint64
	CommittedAt time.Time

	index map[string]*feed.Entry
}

func newEntrySet(node string, entries []*feed.Entry, version uint64, committedAt time.Time) *EntrySet {
	index := make(map[string]*feed.Entry, len(entries))
	for _, e := range entries {
		index[e.ID] = e
	}

	return &EntrySet{
		Node:        node,
		Entries:     entries,
		Version:     version,
		CommittedAt: committedAt,
		index:       index,
	}
}

func (s *EntrySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Entries)
}

func (s *EntrySet) Get(id string) (*feed.Entry, bool) {
	if s == nil {
		return nil, false
	}
	e, ok := s.index[id]
	return e, ok
}

// Diff describes what one merge changed for a source node.
type Diff struct {
	Node     string
	Added    []*feed.Entry
	Updated  []*feed.Entry
	Retained int
	Removed  []string
}

func (d Diff) Changed() bool {
	return len(d.Added) > 0 || len(d.Updated) > 0 || len(d.Removed) > 0
}

// Upserts returns the entries that need to be written to durable storage.
func (d Diff) Upserts() []*feed.Entry {
	return append(slices.Clone(d.Added), d.Updated...)
}

// sortEntries orders entries newest first, then by rank, then by identity.
func sortEntries(entries []*feed.Entry, rank map[string]int) {
	slices.SortStableFunc(entries, func(a, b *feed.Entry) int {
		if c := b.PublishedAt.Compare(a.PublishedAt); c != 0 {
			return c
		}
		if c := cmp.Compare(rank[a.ID], rank[b.ID]); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// applyRetention drops entries older than oldest and then everything past
// maxItems. entries must already be sorted newest first. A non-positive
// maxItems keeps nothing; a non-positive oldest disables the age bound.
func applyRetention(entries []*feed.Entry, maxItems int, oldest time.Duration, now time.Time) ([]*feed.Entry, []*feed.Entry) {
	kept := make([]*feed.Entry, 0, min(len(entries), max(maxItems, 0)))
	var removed []*feed.Entry

	var cutoff time.Time
	if oldest > 0 {
		cutoff = now.Add(-oldest)
	}

	for _, e := range entries {
		if !cutoff.IsZero() && e.PublishedAt.Before(cutoff) {
			removed = append(removed, e)
			continue
		}
		if len(kept) >= maxItems {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}

	return kept, removed
}
