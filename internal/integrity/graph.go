package integrity

import (
	"context"
	"errors"
	"sync"

	"github.com/smallbiznis/ledgercore/pkg/violation"
	"go.uber.org/zap"
)

var (
	ErrNodeExists   = violation.Structural("integrity_node_exists")
	ErrNodeUnknown  = violation.Environment("integrity_node_unknown")
	ErrLinkExists   = violation.Structural("integrity_link_exists")
	ErrLinkUnknown  = violation.Environment("integrity_link_unknown")
	ErrCyclicLink   = violation.Structural("integrity_link_cycle")
	ErrSelfLink     = violation.Structural("integrity_link_self")
)

// Checker re-derives one node class and surfaces violations. An empty id
// slice means the whole class. Checkers never repair silently.
type Checker interface {
	Check(ctx context.Context, ids []string) error
}

// CheckerFunc adapts a plain function to Checker.
type CheckerFunc func(ctx context.Context, ids []string) error

func (f CheckerFunc) Check(ctx context.Context, ids []string) error { return f(ctx, ids) }

// IDAccessor translates entity ids across one edge of the graph.
type IDAccessor func(ctx context.Context, ids []string) ([]string, error)

// Link is one directed parent→child edge. ChildIDs maps parent ids to the
// child ids they own; ParentIDs maps child ids back up.
type Link struct {
	Parent    string
	Child     string
	ChildIDs  IDAccessor
	ParentIDs IDAccessor
}

// Graph is a DAG over checkable entity classes. Edges run parent→child;
// a child's derived data must be correct before a dependent parent
// recomputes, so full rechecks run deepest-descendants-first.
type Graph struct {
	mu       sync.RWMutex
	log      *zap.Logger
	order    []string
	checkers map[string]Checker
	children map[string][]Link
	parents  map[string][]Link
}

func NewGraph(log *zap.Logger) *Graph {
	return &Graph{
		log:      log.Named("integrity.graph"),
		checkers: make(map[string]Checker),
		children: make(map[string][]Link),
		parents:  make(map[string][]Link),
	}
}

// RegisterNode declares a checkable entity class.
func (g *Graph) RegisterNode(key string, checker Checker) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.checkers[key]; ok {
		return ErrNodeExists
	}
	g.checkers[key] = checker
	g.order = append(g.order, key)
	return nil
}

// AddLink declares a parent→child edge, rejecting unknown nodes, duplicate
// edges and anything that would close a cycle.
func (g *Graph) AddLink(link Link) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if link.Parent == link.Child {
		return ErrSelfLink
	}
	if _, ok := g.checkers[link.Parent]; !ok {
		return ErrNodeUnknown
	}
	if _, ok := g.checkers[link.Child]; !ok {
		return ErrNodeUnknown
	}
	for _, existing := range g.children[link.Parent] {
		if existing.Child == link.Child {
			return ErrLinkExists
		}
	}
	// The edge closes a cycle iff the parent is already reachable
	// downward from the child.
	if g.reachable(link.Child, link.Parent) {
		return ErrCyclicLink
	}
	g.children[link.Parent] = append(g.children[link.Parent], link)
	g.parents[link.Child] = append(g.parents[link.Child], link)
	return nil
}

// RemoveLink drops the parent→child edge.
func (g *Graph) RemoveLink(parent, child string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	found := false
	g.children[parent] = filterLinks(g.children[parent], func(l Link) bool {
		match := l.Child == child
		found = found || match
		return !match
	})
	g.parents[child] = filterLinks(g.parents[child], func(l Link) bool {
		return l.Parent != parent
	})
	if !found {
		return ErrLinkUnknown
	}
	return nil
}

// DescendantsOf walks child edges breadth-first from node, deduplicated,
// in discovery order. The node itself is excluded.
func (g *Graph) DescendantsOf(node string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.walk(node, g.children, func(l Link) string { return l.Child })
}

// AncestorsOf walks parent edges breadth-first from node.
func (g *Graph) AncestorsOf(node string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.walk(node, g.parents, func(l Link) string { return l.Parent })
}

// AllNodesBFS yields every node in a safe evaluation order: roots first,
// then each BFS layer of descendants, unreachable nodes in registration
// order at the end of their layer.
func (g *Graph) AllNodesBFS() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[string]bool, len(g.order))
	var out []string
	var frontier []string
	for _, key := range g.order {
		if len(g.parents[key]) == 0 {
			frontier = append(frontier, key)
			seen[key] = true
		}
	}
	for len(frontier) > 0 {
		var next []string
		for _, key := range frontier {
			out = append(out, key)
			for _, link := range g.children[key] {
				if !seen[link.Child] {
					seen[link.Child] = true
					next = append(next, link.Child)
				}
			}
		}
		frontier = next
	}
	return out
}

// CheckFullIntegrity rechecks every node class, deepest descendants first,
// so derived child data is correct before a dependent parent recomputes.
// All violations are collected rather than stopping at the first.
func (g *Graph) CheckFullIntegrity(ctx context.Context) error {
	order := g.AllNodesBFS()

	g.mu.RLock()
	checkers := make([]Checker, len(order))
	for i, key := range order {
		checkers[i] = g.checkers[key]
	}
	g.mu.RUnlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		if err := checkers[i].Check(ctx, nil); err != nil {
			g.log.Warn("integrity violation",
				zap.String("node", order[i]),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CheckChildrenThenModel re-derives the descendant chain of the affected
// entities deepest-first, then rechecks the entities themselves.
func (g *Graph) CheckChildrenThenModel(ctx context.Context, node string, ids []string) error {
	order, idsByNode, err := g.spread(ctx, node, ids, down)
	if err != nil {
		return err
	}
	g.mu.RLock()
	checkers := make(map[string]Checker, len(order))
	for _, key := range order {
		checkers[key] = g.checkers[key]
	}
	g.mu.RUnlock()
	if checkers[node] == nil {
		return ErrNodeUnknown
	}

	for i := len(order) - 1; i >= 0; i-- {
		key := order[i]
		if err := checkers[key].Check(ctx, idsByNode[key]); err != nil {
			return err
		}
	}
	return nil
}

// CheckModelThenParents rechecks the affected entities, then walks ancestors
// in discovery order re-deriving their aggregates.
func (g *Graph) CheckModelThenParents(ctx context.Context, node string, ids []string) error {
	order, idsByNode, err := g.spread(ctx, node, ids, up)
	if err != nil {
		return err
	}
	g.mu.RLock()
	checkers := make(map[string]Checker, len(order))
	for _, key := range order {
		checkers[key] = g.checkers[key]
	}
	g.mu.RUnlock()
	if checkers[node] == nil {
		return ErrNodeUnknown
	}

	for _, key := range order {
		if err := checkers[key].Check(ctx, idsByNode[key]); err != nil {
			return err
		}
	}
	return nil
}

type direction int

const (
	down direction = iota
	up
)

// spread BFS-walks from node translating entity ids across each edge,
// merging id sets when a node is reached through several paths.
func (g *Graph) spread(ctx context.Context, node string, ids []string, dir direction) ([]string, map[string][]string, error) {
	g.mu.RLock()
	if _, ok := g.checkers[node]; !ok {
		g.mu.RUnlock()
		return nil, nil, ErrNodeUnknown
	}
	adjacency := g.children
	if dir == up {
		adjacency = g.parents
	}
	// Snapshot the links so accessors run without the lock held.
	links := make(map[string][]Link, len(adjacency))
	for key, ls := range adjacency {
		links[key] = append([]Link(nil), ls...)
	}
	g.mu.RUnlock()

	order := []string{node}
	idsByNode := map[string][]string{node: ids}
	seenIDs := map[string]map[string]bool{node: toSet(ids)}
	frontier := []string{node}
	for len(frontier) > 0 {
		var next []string
		for _, key := range frontier {
			for _, link := range links[key] {
				target := link.Child
				accessor := link.ChildIDs
				if dir == up {
					target = link.Parent
					accessor = link.ParentIDs
				}

				translated, err := translate(ctx, accessor, idsByNode[key])
				if err != nil {
					return nil, nil, err
				}
				if _, ok := seenIDs[target]; !ok {
					seenIDs[target] = map[string]bool{}
					order = append(order, target)
					next = append(next, target)
				}
				for _, id := range translated {
					if !seenIDs[target][id] {
						seenIDs[target][id] = true
						idsByNode[target] = append(idsByNode[target], id)
					}
				}
			}
		}
		frontier = next
	}
	return order, idsByNode, nil
}

func (g *Graph) walk(node string, adjacency map[string][]Link, pick func(Link) string) []string {
	seen := map[string]bool{node: true}
	var out []string
	frontier := []string{node}
	for len(frontier) > 0 {
		var next []string
		for _, key := range frontier {
			for _, link := range adjacency[key] {
				target := pick(link)
				if !seen[target] {
					seen[target] = true
					out = append(out, target)
					next = append(next, target)
				}
			}
		}
		frontier = next
	}
	return out
}

func (g *Graph) reachable(from, to string) bool {
	if from == to {
		return true
	}
	seen := map[string]bool{from: true}
	frontier := []string{from}
	for len(frontier) > 0 {
		var next []string
		for _, key := range frontier {
			for _, link := range g.children[key] {
				if link.Child == to {
					return true
				}
				if !seen[link.Child] {
					seen[link.Child] = true
					next = append(next, link.Child)
				}
			}
		}
		frontier = next
	}
	return false
}

func translate(ctx context.Context, accessor IDAccessor, ids []string) ([]string, error) {
	if accessor == nil {
		return nil, nil
	}
	return accessor(ctx, ids)
}

func filterLinks(links []Link, keep func(Link) bool) []Link {
	out := links[:0]
	for _, l := range links {
		if keep(l) {
			out = append(out, l)
		}
	}
	return out
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
