package aggregator

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lysyi3m/feed-comb/app/feed"
	"github.com/lysyi3m/feed-comb/app/graph"
)

type NodeInfo struct {
	Name    string
	Kind    graph.Kind
	Tags    []string
	Entries int
}

type verdictKey struct {
	feed string
	id   string
}

type verdict struct {
	entry  *feed.Entry
	passed bool
}

type nodeState struct {
	node     *graph.Node
	mu       sync.Mutex // serializes merges and derivations of this node
	snapshot atomic.Pointer[EntrySet]
	dirty    atomic.Bool

	// verdicts holds the filter results of the last derivation, keyed by
	// the entries it visited.
	verdicts map[verdictKey]verdict
}

// Aggregator owns the per-node entry state. Source nodes are written by
// Merge; composite nodes are derived lazily when read after a constituent
// changed.
type Aggregator struct {
	graph    *graph.Graph
	filterer *feed.Filterer
	states   map[string]*nodeState
	now      func() time.Time

	generation atomic.Uint64
}

func New(g *graph.Graph, filterer *feed.Filterer) *Aggregator {
	a := &Aggregator{
		graph:    g,
		filterer: filterer,
		states:   make(map[string]*nodeState),
		now:      time.Now,
	}

	for _, node := range g.Nodes() {
		st := &nodeState{node: node}
		if node.IsSource() {
			st.snapshot.Store(newEntrySet(node.Name, nil, 0, time.Time{}))
		} else {
			st.verdicts = make(map[verdictKey]verdict)
			st.dirty.Store(true)
		}
		a.states[node.Name] = st
	}

	return a
}

func (a *Aggregator) Graph() *graph.Graph {
	return a.graph
}

// Seed installs previously stored entries for a source node as if they were
// the result of an earlier fetch.
func (a *Aggregator) Seed(name string, entries []*feed.Entry) error {
	diff, err := a.Merge(name, entries)
	if err != nil {
		return err
	}

	slog.Debug("Entries seeded", "feed", name, "entries", len(diff.Added), "dropped", len(entries)-len(diff.Added))
	return nil
}

// Merge folds freshly filtered entries into a source node. Entries with a
// known identity replace the stored one wholesale; unchanged entries keep
// their stored value. Retention is applied last and every dependent
// composite is marked for re-derivation.
func (a *Aggregator) Merge(name string, fetched []*feed.Entry) (Diff, error) {
	st, ok := a.states[name]
	if !ok || !st.node.IsSource() {
		return Diff{}, fmt.Errorf("unknown source node: %s", name)
	}

	now := a.now()

	st.mu.Lock()
	prior := st.snapshot.Load()

	merged := make(map[string]*feed.Entry, prior.Len()+len(fetched))
	for _, e := range prior.Entries {
		merged[e.ID] = e
	}

	seen := make(map[string]bool, len(fetched))
	for _, e := range fetched {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true

		old, existed := prior.Get(e.ID)
		if existed && e.Undated {
			e = e.WithPublishedAt(old.PublishedAt)
		}
		if existed && old.Equal(e) {
			continue
		}
		merged[e.ID] = e
	}

	entries := make([]*feed.Entry, 0, len(merged))
	for _, e := range merged {
		entries = append(entries, e)
	}
	sortEntries(entries, nil)

	kept, _ := applyRetention(entries, st.node.Settings.MaxItems, st.node.Settings.Oldest, now)

	diff := Diff{Node: name}
	keptIDs := make(map[string]bool, len(kept))
	for _, e := range kept {
		keptIDs[e.ID] = true
		old, existed := prior.Get(e.ID)
		switch {
		case !existed:
			diff.Added = append(diff.Added, e)
		case old != e:
			diff.Updated = append(diff.Updated, e)
		default:
			diff.Retained++
		}
	}
	for _, e := range prior.Entries {
		if !keptIDs[e.ID] {
			diff.Removed = append(diff.Removed, e.ID)
		}
	}

	if diff.Changed() || prior.Version == 0 {
		st.snapshot.Store(newEntrySet(name, kept, prior.Version+1, now))
	}
	st.mu.Unlock()

	if diff.Changed() {
		a.generation.Add(1)
		for _, dep := range a.graph.Dependents(name) {
			a.states[dep.Name].dirty.Store(true)
		}
	}

	return diff, nil
}

// Prune re-applies retention to a source node without new entries, so
// age-bounded entries expire even when the upstream stops changing.
func (a *Aggregator) Prune(name string) (Diff, error) {
	return a.Merge(name, nil)
}

// Generation changes whenever any source node commits a changed snapshot.
// Views read at the same generation differ at most by age expiry.
func (a *Aggregator) Generation() uint64 {
	return a.generation.Load()
}

// Get returns the ordered entries of a node, or of a tag view when no node
// has that name.
func (a *Aggregator) Get(nameOrTag string) ([]*feed.Entry, bool) {
	if set, ok := a.Snapshot(nameOrTag); ok {
		return set.Entries, true
	}
	return a.GetTag(nameOrTag)
}

// Snapshot returns the latest committed set of a node.
func (a *Aggregator) Snapshot(name string) (*EntrySet, bool) {
	st, ok := a.states[name]
	if !ok {
		return nil, false
	}
	return a.view(st), true
}

func (a *Aggregator) view(st *nodeState) *EntrySet {
	if st.node.IsSource() {
		return st.snapshot.Load()
	}

	if !st.dirty.Load() {
		if set := st.snapshot.Load(); set != nil {
			return set
		}
	}

	for _, node := range a.graph.Closure(st.node.Name) {
		a.derive(a.states[node.Name])
	}

	return st.snapshot.Load()
}

// derive rebuilds a composite from the committed snapshots of its
// constituents. Constituent composites must be derived first.
func (a *Aggregator) derive(st *nodeState) {
	st.mu.Lock()
	defer st.mu.Unlock()

	prior := st.snapshot.Load()
	if !st.dirty.Load() && prior != nil {
		return
	}
	st.dirty.Store(false)

	verdicts := make(map[verdictKey]verdict, len(st.verdicts))
	scopes := a.graph.Scopes(st.node)
	accepted := make(map[string]bool)
	rank := make(map[string]int)
	var union []*feed.Entry

	for i, constituent := range a.graph.Constituents(st.node) {
		set := a.states[constituent.Name].snapshot.Load()
		if set == nil {
			continue
		}

		for _, e := range set.Entries {
			if accepted[e.ID] {
				continue
			}
			if !a.passes(st, verdicts, e, scopes) {
				continue
			}
			accepted[e.ID] = true
			rank[e.ID] = i
			union = append(union, e)
		}
	}

	st.verdicts = verdicts

	sortEntries(union, rank)
	kept, _ := applyRetention(union, st.node.Settings.MaxItems, st.node.Settings.Oldest, a.now())

	var version uint64 = 1
	if prior != nil {
		version = prior.Version + 1
	}
	st.snapshot.Store(newEntrySet(st.node.Name, kept, version, a.now()))
}

// passes evaluates e against scopes, reusing the previous derivation's
// verdict while the entry pointer is unchanged. Every visited entry is
// recorded in next.
func (a *Aggregator) passes(st *nodeState, next map[verdictKey]verdict, e *feed.Entry, scopes []feed.Scope) bool {
	if len(scopes) == 0 {
		return true
	}

	key := verdictKey{feed: e.Feed, id: e.ID}
	v, ok := st.verdicts[key]
	if !ok || v.entry != e {
		v = verdict{entry: e, passed: a.filterer.Evaluate(e, scopes...).Passed}
	}
	next[key] = v
	return v.passed
}

// GetTag returns the view of every entry tagged with tag: entries of source
// nodes carrying the tag themselves, plus the whole view of nodes configured
// with the tag. The second result is false when nothing carries the tag.
func (a *Aggregator) GetTag(tag string) ([]*feed.Entry, bool) {
	tag = feed.NormalizeTag(tag)
	if tag == "" {
		return nil, false
	}

	found := false
	seen := make(map[string]bool)
	rank := make(map[string]int)
	var union []*feed.Entry

	for i, node := range a.graph.Nodes() {
		if node.Name == graph.AllNode {
			continue
		}

		tagged := slices.Contains(node.Tags, tag)
		if !tagged && !node.IsSource() {
			continue
		}

		set := a.view(a.states[node.Name])
		for _, e := range set.Entries {
			if seen[e.ID] || (!tagged && !e.HasTag(tag)) {
				continue
			}
			seen[e.ID] = true
			rank[e.ID] = i
			union = append(union, e)
		}
		found = found || tagged
	}

	found = found || len(union) > 0

	settings := a.graph.TagSettings()
	sortEntries(union, rank)
	kept, _ := applyRetention(union, settings.MaxItems, settings.Oldest, a.now())

	return kept, found
}

// ListNodes returns every node in declaration order with its current size.
func (a *Aggregator) ListNodes() []NodeInfo {
	nodes := a.graph.Nodes()
	infos := make([]NodeInfo, 0, len(nodes))
	for _, node := range nodes {
		infos = append(infos, NodeInfo{
			Name:    node.Name,
			Kind:    node.Kind,
			Tags:    node.Tags,
			Entries: a.view(a.states[node.Name]).Len(),
		})
	}
	return infos
}

// Tags returns every tag known from node configuration or stored entries.
func (a *Aggregator) Tags() []string {
	set := make(map[string]bool)
	for _, node := range a.graph.Nodes() {
		for _, tag := range node.Tags {
			set[tag] = true
		}
		if !node.IsSource() {
			continue
		}
		for _, e := range a.states[node.Name].snapshot.Load().Entries {
			for _, tag := range e.Tags {
				set[tag] = true
			}
		}
	}

	tags := make([]string, 0, len(set))
	for tag := range set {
		tags = append(tags, tag)
	}
	slices.Sort(tags)
	return tags
}
