// Package graph records, for every produced buffer, which prior buffers it was
// derived from. The graph is purely additive bookkeeping: it cannot fail and is
// only consumed by the optional cache-trace optimization. Removing it must
// never change buffer values, only allocation counts.
package graph

// Node is one entry in the dependency graph.
//
// Idx is assigned in strictly increasing call order and matches the
// ident.Ident.Count of the buffer it describes. A leaf (input buffer) has no
// deps; every dependency of a non-leaf node has a smaller Idx.
type Node struct {
	Idx  int
	Deps []int
	Len  int
}

// IsLeaf reports whether the node has no recorded dependencies.
func (n Node) IsLeaf() bool {
	return len(n.Deps) == 0
}

// Graph is the ordered sequence of nodes for one device.
type Graph struct {
	nodes []Node
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{}
}

// AddLeaf appends a node with no dependencies.
func (g *Graph) AddLeaf(idx, len int) Node {
	n := Node{Idx: idx, Len: len}
	g.nodes = append(g.nodes, n)
	return n
}

// Add appends a node derived from the given dependency indices. The arity of
// deps follows the operation: none for a leaf, one for a unary op, two for a
// binary op.
func (g *Graph) Add(idx, len int, deps ...int) Node {
	if len == 0 {
		return g.AddLeaf(idx, len)
	}
	n := Node{Idx: idx, Len: len, Deps: append([]int(nil), deps...)}
	g.nodes = append(g.nodes, n)
	return n
}

// Len returns the number of recorded nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Nodes returns the recorded nodes in call order.
func (g *Graph) Nodes() []Node {
	return g.nodes
}

// Clear drops all recorded nodes.
func (g *Graph) Clear() {
	g.nodes = g.nodes[:0]
}
