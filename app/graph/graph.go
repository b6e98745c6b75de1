package graph

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/lysyi3m/feed-comb/app/feed"
)

// AllNode is the implicit composite over every source node.
const AllNode = "all"

type Kind string

const (
	KindSource    Kind = "source"
	KindComposite Kind = "composite"
)

type Settings struct {
	Enabled         bool
	RefreshInterval time.Duration
	CacheTTL        time.Duration
	Timeout         time.Duration
	MaxItems        int
	Oldest          time.Duration
	KeepEmpty       bool
	ApplyTags       bool
	ExtractContent  bool
}

// Definition is the validated input for one node.
type Definition struct {
	Name       string
	Kind       Kind
	Source     feed.Source
	Refs       []string
	AllSources bool // composite over every source node in declaration order
	Tags       []string
	Scope      feed.Scope
	Settings   Settings
}

type Node struct {
	Name     string
	Kind     Kind
	Index    int
	Source   feed.Source
	Tags     []string
	Scope    feed.Scope
	Settings Settings

	refs []int
}

func (n *Node) IsSource() bool {
	return n.Kind == KindSource
}

type Options struct {
	Definitions []Definition
	Global      feed.Scope
	All         feed.Scope
	AllSettings Settings
	TagSettings Settings
}

// Graph is immutable once built.
type Graph struct {
	nodes       []*Node
	byName      map[string]int
	dependents  [][]int
	rank        []int
	global      feed.Scope
	tagSettings Settings
}

type ValidationError struct {
	Node   string
	Reason string
	Path   []string
}

func (e *ValidationError) Error() string {
	if len(e.Path) > 0 {
		return fmt.Sprintf("invalid feed graph at %s: %s (%s)", e.Node, e.Reason, strings.Join(e.Path, " -> "))
	}
	return fmt.Sprintf("invalid feed graph at %s: %s", e.Node, e.Reason)
}

// Build validates the definitions and returns the graph. The implicit "all"
// node is appended after the declared nodes.
func Build(opts Options) (*Graph, error) {
	g := &Graph{
		byName:      make(map[string]int, len(opts.Definitions)+1),
		global:      opts.Global,
		tagSettings: opts.TagSettings,
	}

	allSourcesDefs := make(map[int]bool)

	for _, def := range opts.Definitions {
		if def.Name == "" {
			return nil, &ValidationError{Node: "<unnamed>", Reason: "node name is required"}
		}
		if def.Name == AllNode {
			return nil, &ValidationError{Node: def.Name, Reason: "name is reserved for the implicit all view"}
		}
		if _, ok := g.byName[def.Name]; ok {
			return nil, &ValidationError{Node: def.Name, Reason: "duplicate node name"}
		}

		switch def.Kind {
		case KindSource:
			if len(def.Refs) > 0 || def.AllSources {
				return nil, &ValidationError{Node: def.Name, Reason: "source node cannot reference other nodes"}
			}
		case KindComposite:
			if len(def.Refs) == 0 && !def.AllSources {
				return nil, &ValidationError{Node: def.Name, Reason: "composite node has no references"}
			}
		default:
			return nil, &ValidationError{Node: def.Name, Reason: fmt.Sprintf("unknown node kind %q", def.Kind)}
		}

		node := &Node{
			Name:     def.Name,
			Kind:     def.Kind,
			Index:    len(g.nodes),
			Source:   def.Source,
			Tags:     feed.NormalizeTags(def.Tags),
			Scope:    def.Scope,
			Settings: def.Settings,
		}
		if def.AllSources {
			allSourcesDefs[node.Index] = true
		}

		g.byName[node.Name] = node.Index
		g.nodes = append(g.nodes, node)
	}

	all := &Node{
		Name:     AllNode,
		Kind:     KindComposite,
		Index:    len(g.nodes),
		Scope:    opts.All,
		Settings: opts.AllSettings,
	}
	g.byName[AllNode] = all.Index
	g.nodes = append(g.nodes, all)
	allSourcesDefs[all.Index] = true

	var sources []int
	for _, node := range g.nodes {
		if node.IsSource() {
			sources = append(sources, node.Index)
		}
	}

	for i, def := range opts.Definitions {
		node := g.nodes[i]
		if allSourcesDefs[i] {
			node.refs = slices.Clone(sources)
			continue
		}

		seen := make(map[int]bool, len(def.Refs))
		for _, ref := range def.Refs {
			idx, ok := g.byName[ref]
			if !ok {
				return nil, &ValidationError{Node: node.Name, Reason: fmt.Sprintf("references undefined node %q", ref)}
			}
			if seen[idx] {
				continue
			}
			seen[idx] = true
			node.refs = append(node.refs, idx)
		}
	}
	all.refs = slices.Clone(sources)

	order, err := g.sort()
	if err != nil {
		return nil, err
	}

	g.rank = make([]int, len(g.nodes))
	for pos, idx := range order {
		g.rank[idx] = pos
	}

	g.dependents = make([][]int, len(g.nodes))
	for _, node := range g.nodes {
		for _, ref := range node.refs {
			g.dependents[ref] = append(g.dependents[ref], node.Index)
		}
	}

	return g, nil
}

const (
	unvisited = iota
	onPath
	done
)

type frame struct {
	node int
	next int
}

// sort runs an iterative depth-first traversal over composite references and
// returns a post-order, so constituents precede the nodes that reference them.
// Revisiting a node that is still on the current path is a cycle.
func (g *Graph) sort() ([]int, error) {
	state := make([]int, len(g.nodes))
	order := make([]int, 0, len(g.nodes))

	for root := range g.nodes {
		if state[root] != unvisited {
			continue
		}

		stack := []frame{{node: root}}
		state[root] = onPath

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			node := g.nodes[top.node]

			if top.next >= len(node.refs) {
				state[top.node] = done
				order = append(order, top.node)
				stack = stack[:len(stack)-1]
				continue
			}

			child := node.refs[top.next]
			top.next++

			switch state[child] {
			case onPath:
				path := make([]string, 0, len(stack)+1)
				start := slices.IndexFunc(stack, func(f frame) bool { return f.node == child })
				for _, f := range stack[start:] {
					path = append(path, g.nodes[f.node].Name)
				}
				path = append(path, g.nodes[child].Name)
				return nil, &ValidationError{Node: g.nodes[child].Name, Reason: "reference cycle", Path: path}
			case unvisited:
				state[child] = onPath
				stack = append(stack, frame{node: child})
			}
		}
	}

	return order, nil
}

func (g *Graph) Node(name string) (*Node, bool) {
	idx, ok := g.byName[name]
	if !ok {
		return nil, false
	}
	return g.nodes[idx], true
}

// Nodes returns every node in declaration order, "all" last.
func (g *Graph) Nodes() []*Node {
	return slices.Clone(g.nodes)
}

func (g *Graph) Sources() []*Node {
	var sources []*Node
	for _, node := range g.nodes {
		if node.IsSource() {
			sources = append(sources, node)
		}
	}
	return sources
}

// Constituents returns the nodes referenced by n in declared order.
func (g *Graph) Constituents(n *Node) []*Node {
	nodes := make([]*Node, 0, len(n.refs))
	for _, ref := range n.refs {
		nodes = append(nodes, g.nodes[ref])
	}
	return nodes
}

// Dependents returns every composite that transitively references the named
// node, constituents first.
func (g *Graph) Dependents(name string) []*Node {
	idx, ok := g.byName[name]
	if !ok {
		return nil
	}

	seen := make(map[int]bool)
	queue := slices.Clone(g.dependents[idx])
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		queue = append(queue, g.dependents[next]...)
	}

	return g.ordered(seen)
}

// Closure returns the composite nodes needed to derive the named node,
// including the node itself when it is a composite, constituents first.
func (g *Graph) Closure(name string) []*Node {
	idx, ok := g.byName[name]
	if !ok {
		return nil
	}

	seen := make(map[int]bool)
	stack := []int{idx}
	for len(stack) > 0 {
		next := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[next] || g.nodes[next].IsSource() {
			continue
		}
		seen[next] = true
		stack = append(stack, g.nodes[next].refs...)
	}

	return g.ordered(seen)
}

func (g *Graph) ordered(set map[int]bool) []*Node {
	indices := make([]int, 0, len(set))
	for idx := range set {
		indices = append(indices, idx)
	}
	slices.SortFunc(indices, func(a, b int) int {
		return g.rank[a] - g.rank[b]
	})

	nodes := make([]*Node, 0, len(indices))
	for _, idx := range indices {
		nodes = append(nodes, g.nodes[idx])
	}
	return nodes
}

func (g *Graph) GlobalScope() feed.Scope {
	return g.global
}

func (g *Graph) TagSettings() Settings {
	return g.tagSettings
}

// Scopes returns the filter scopes applied when entries enter n, outermost
// first. Source nodes see the global scope; composites only their own, since
// their constituents already passed the global rules.
func (g *Graph) Scopes(n *Node) []feed.Scope {
	var scopes []feed.Scope
	if n.IsSource() && !g.global.Empty() {
		scopes = append(scopes, g.global)
	}
	if !n.Scope.Empty() {
		scopes = append(scopes, n.Scope)
	}
	return scopes
}
