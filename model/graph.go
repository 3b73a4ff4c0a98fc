package model

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// NodeID is an index of a node in the graph arena.
type NodeID int

// NoNode is the node of a parameter which is not in a graph.
const NoNode NodeID = -1

// node is a graph record.
type node struct {
	name  string
	param *Parameter
	state Stateful
	deps  []NodeID
	users []NodeID
}

// Graph is the model dependency graph. Nodes are only added before
// Freeze, afterwards the structure is fixed.
//
// Graph is not safe for concurrent use, except for IsDirty and
// MarkClean on distinct nodes.
type Graph struct {
	nodes  []node
	params Parameters

	// topological order and ranks (position in order)
	order []NodeID
	rank  []int
	// all the (transitive) dependents of a node in topological order
	descendants [][]NodeID

	dirty       []bool
	storedDirty []bool

	frozen bool
	stored bool
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{}
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Name returns a node name.
func (g *Graph) Name(id NodeID) string {
	if !g.valid(id) {
		return "<unknown>"
	}
	return g.nodes[id].name
}

// Frozen returns true after a successful Freeze.
func (g *Graph) Frozen() bool {
	return g.frozen
}

// Parameters returns all the parameters in the order they were
// added.
func (g *Graph) Parameters() Parameters {
	return g.params
}

func (g *Graph) valid(id NodeID) bool {
	return id >= 0 && int(id) < len(g.nodes)
}

func (g *Graph) add(n node) (NodeID, error) {
	if g.frozen {
		return NoNode, errors.Wrapf(ErrFrozen, "adding %s", n.name)
	}
	for _, d := range n.deps {
		if !g.valid(d) {
			return NoNode, errors.Wrapf(ErrUnknownNode, "%s depends on node %d", n.name, d)
		}
	}
	id := NodeID(len(g.nodes))
	g.nodes = append(g.nodes, n)
	for _, d := range n.deps {
		g.nodes[d].users = append(g.nodes[d].users, id)
	}
	return id, nil
}

// AddParameter adds a parameter node. A parameter belongs to a single
// graph.
func (g *Graph) AddParameter(p *Parameter) (NodeID, error) {
	if p.graph != nil {
		return NoNode, errors.Errorf("parameter %s is already in a graph", p.id)
	}
	for _, q := range g.params {
		if q.id == p.id {
			return NoNode, errors.Errorf("duplicate parameter id %s", p.id)
		}
	}
	id, err := g.add(node{name: p.id, param: p})
	if err != nil {
		return NoNode, err
	}
	p.graph = g
	p.node = id
	g.params = append(g.params, p)
	return id, nil
}

// AddModel adds a derived node which depends on deps.
func (g *Graph) AddModel(name string, s Stateful, deps ...NodeID) (NodeID, error) {
	if s == nil {
		return NoNode, errors.Errorf("model %s: nil state", name)
	}
	return g.add(node{name: name, state: s, deps: dedup(deps)})
}

// Link adds a dependency edge after both nodes were created. Cycles
// are detected by Freeze.
func (g *Graph) Link(dep, user NodeID) error {
	if g.frozen {
		return errors.Wrap(ErrFrozen, "linking")
	}
	if !g.valid(dep) || !g.valid(user) {
		return errors.Wrapf(ErrUnknownNode, "link %d -> %d", dep, user)
	}
	if g.nodes[user].param != nil {
		return errors.Errorf("parameter %s cannot depend on %s", g.nodes[user].name, g.nodes[dep].name)
	}
	for _, d := range g.nodes[user].deps {
		if d == dep {
			return nil
		}
	}
	g.nodes[user].deps = append(g.nodes[user].deps, dep)
	g.nodes[dep].users = append(g.nodes[dep].users, user)
	return nil
}

// dedup removes repeated node ids keeping the order.
func dedup(ids []NodeID) (res []NodeID) {
	seen := make(map[NodeID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			res = append(res, id)
		}
	}
	return
}

// Freeze sorts the graph topologically and precomputes descendant
// lists. All the derived nodes start dirty.
func (g *Graph) Freeze() error {
	if g.frozen {
		return nil
	}
	n := len(g.nodes)
	indegree := make([]int, n)
	for i := range g.nodes {
		indegree[i] = len(g.nodes[i].deps)
	}
	queue := make([]NodeID, 0, n)
	for i := range g.nodes {
		if indegree[i] == 0 {
			queue = append(queue, NodeID(i))
		}
	}
	order := make([]NodeID, 0, n)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, u := range g.nodes[id].users {
			indegree[u]--
			if indegree[u] == 0 {
				queue = append(queue, u)
			}
		}
	}
	if len(order) != n {
		var names []string
		for i := range g.nodes {
			if indegree[i] > 0 {
				names = append(names, g.nodes[i].name)
			}
		}
		return errors.Wrapf(ErrCycle, "nodes: %s", strings.Join(names, ", "))
	}

	g.order = order
	g.rank = make([]int, n)
	for r, id := range order {
		g.rank[id] = r
	}

	g.descendants = make([][]NodeID, n)
	for i := range g.nodes {
		g.descendants[i] = g.collect(NodeID(i), func(id NodeID) []NodeID { return g.nodes[id].users })
	}

	g.dirty = make([]bool, n)
	g.storedDirty = make([]bool, n)
	for i := range g.nodes {
		g.dirty[i] = g.nodes[i].param == nil
	}
	g.frozen = true
	log.Debugf("graph frozen: %d nodes, %d parameters", n, len(g.params))
	return nil
}

// collect returns all the nodes reachable from id using next,
// sorted in topological order. id itself is not included.
func (g *Graph) collect(id NodeID, next func(NodeID) []NodeID) []NodeID {
	seen := make(map[NodeID]bool)
	stack := append([]NodeID(nil), next(id)...)
	var res []NodeID
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		res = append(res, cur)
		stack = append(stack, next(cur)...)
	}
	sort.Slice(res, func(i, j int) bool { return g.rank[res[i]] < g.rank[res[j]] })
	return res
}

// Ancestors returns all the nodes id depends on, directly or not, in
// topological order.
func (g *Graph) Ancestors(id NodeID) ([]NodeID, error) {
	if !g.frozen {
		return nil, ErrNotFrozen
	}
	if !g.valid(id) {
		return nil, errors.Wrapf(ErrUnknownNode, "node %d", id)
	}
	return g.collect(id, func(id NodeID) []NodeID { return g.nodes[id].deps }), nil
}

// IsParameter returns true if the node holds a parameter.
func (g *Graph) IsParameter(id NodeID) bool {
	return g.valid(id) && g.nodes[id].param != nil
}

// IsDirty returns true if the cached values of the node might be
// stale. Before Freeze every node is dirty.
func (g *Graph) IsDirty(id NodeID) bool {
	if !g.frozen {
		return true
	}
	return g.dirty[id]
}

// MarkClean is called by a node after it recomputed its cache.
func (g *Graph) MarkClean(id NodeID) {
	if !g.frozen {
		return
	}
	g.dirty[id] = false
}

// fire propagates a change. Direct users get the event itself,
// every descendant becoming dirty gets a single ModelChanged event.
// Propagation does not stop at nodes which are already dirty: a
// dirty node might have clean dependents if it was skipped during
// evaluation.
func (g *Graph) fire(ev ChangeEvent) {
	if !g.frozen {
		return
	}
	src := ev.Source
	direct := g.nodes[src].users
	for _, u := range direct {
		g.dirty[u] = true
		if l, ok := g.nodes[u].state.(Listener); ok {
			l.Changed(ev)
		}
	}
	for _, d := range g.descendants[src] {
		if g.dirty[d] {
			continue
		}
		g.dirty[d] = true
		if l, ok := g.nodes[d].state.(Listener); ok {
			l.Changed(ChangeEvent{
				Source:   src,
				Variable: ev.Variable,
				Index:    -1,
				Type:     ModelChanged,
			})
		}
	}
}

// InTransaction returns true between StoreState and
// AcceptState/RestoreState.
func (g *Graph) InTransaction() bool {
	return g.stored
}

// StoreState stores all the parameters and derived nodes. Calling it
// twice without AcceptState or RestoreState is an error.
func (g *Graph) StoreState() error {
	if !g.frozen {
		return ErrNotFrozen
	}
	if g.stored {
		return ErrNestedStore
	}
	for _, id := range g.order {
		n := &g.nodes[id]
		if n.param != nil {
			n.param.StoreValues()
			continue
		}
		if err := n.state.StoreState(); err != nil {
			return &StateError{Node: n.name, Op: "store", Err: err}
		}
	}
	copy(g.storedDirty, g.dirty)
	g.stored = true
	return nil
}

// RestoreState reverts parameters, caches and dirty bits to the
// stored state.
func (g *Graph) RestoreState() error {
	if !g.frozen {
		return ErrNotFrozen
	}
	if !g.stored {
		return ErrNotStored
	}
	for _, id := range g.order {
		n := &g.nodes[id]
		if n.param != nil {
			n.param.RestoreValues()
			continue
		}
		if err := n.state.RestoreState(); err != nil {
			return &StateError{Node: n.name, Op: "restore", Err: err}
		}
	}
	copy(g.dirty, g.storedDirty)
	g.stored = false
	return nil
}

// AcceptState discards the stored state.
func (g *Graph) AcceptState() error {
	if !g.frozen {
		return ErrNotFrozen
	}
	if !g.stored {
		return ErrNotStored
	}
	for _, id := range g.order {
		n := &g.nodes[id]
		if n.param != nil {
			continue
		}
		if err := n.state.AcceptState(); err != nil {
			return &StateError{Node: n.name, Op: "accept", Err: err}
		}
	}
	g.stored = false
	return nil
}
