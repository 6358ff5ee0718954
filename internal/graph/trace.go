package graph

// Trace names a chain of same-length nodes whose allocations can share one
// cache slot: the root plus every member whose output is consumed by exactly
// one later node in the chain. Applying a trace to the allocation cache
// reduces allocation counts; it never changes values.
type Trace struct {
	Root    int
	Members []int
}

// CacheTraces computes the slot-sharing chains of the recorded graph.
//
// A node extends a chain when it is the only consumer of the chain's tail and
// has the same length as the chain's root. Leaves never start or join a chain:
// an input buffer must not be aliased with an intermediate.
func (g *Graph) CacheTraces() []Trace {
	consumers := make(map[int][]int, len(g.nodes))
	byIdx := make(map[int]Node, len(g.nodes))
	for _, n := range g.nodes {
		byIdx[n.Idx] = n
		for _, d := range n.Deps {
			consumers[d] = append(consumers[d], n.Idx)
		}
	}

	inTrace := make(map[int]bool, len(g.nodes))
	var traces []Trace

	for _, root := range g.nodes {
		if root.IsLeaf() || inTrace[root.Idx] {
			continue
		}
		trace := Trace{Root: root.Idx}
		cur := root
		for {
			next, ok := soleConsumer(consumers, cur.Idx)
			if !ok {
				break
			}
			n, ok := byIdx[next]
			if !ok || n.Len != root.Len || inTrace[n.Idx] {
				break
			}
			trace.Members = append(trace.Members, n.Idx)
			inTrace[n.Idx] = true
			cur = n
		}
		if len(trace.Members) > 0 {
			inTrace[root.Idx] = true
			traces = append(traces, trace)
		}
	}
	return traces
}

func soleConsumer(consumers map[int][]int, idx int) (int, bool) {
	c := consumers[idx]
	if len(c) != 1 {
		return 0, false
	}
	return c[0], true
}
