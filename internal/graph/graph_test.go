package graph

import "testing"

func TestAddLeafAndDeps(t *testing.T) {
	g := New()

	leaf := g.AddLeaf(0, 4)
	if !leaf.IsLeaf() {
		t.Error("AddLeaf must produce a leaf")
	}

	n := g.Add(1, 4, 0)
	if n.IsLeaf() {
		t.Error("node with deps must not be a leaf")
	}
	if len(n.Deps) != 1 || n.Deps[0] != 0 {
		t.Errorf("deps = %v, want [0]", n.Deps)
	}

	if g.Len() != 2 {
		t.Errorf("Len() = %d, want 2", g.Len())
	}
	nodes := g.Nodes()
	if nodes[0].Idx != 0 || nodes[1].Idx != 1 {
		t.Errorf("nodes out of call order: %+v", nodes)
	}
}

func TestAddZeroLenIsLeaf(t *testing.T) {
	g := New()
	n := g.Add(0, 0, 7)
	if !n.IsLeaf() {
		t.Error("zero-length node must degrade to a leaf")
	}
}

func TestClear(t *testing.T) {
	g := New()
	g.AddLeaf(0, 4)
	g.Add(1, 4, 0)
	g.Clear()
	if g.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", g.Len())
	}
}
