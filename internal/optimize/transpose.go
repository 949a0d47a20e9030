package optimize

import (
	"github.com/graft-ml/graft/internal/graph"
)

// TransposeFolding cancels adjacent Transpose pairs whose permutations
// compose to the identity, the usual residue of layout (NCHW/NHWC)
// conversion in frontends.
type TransposeFolding struct{}

// Name returns the pass name.
func (p *TransposeFolding) Name() string { return "fold-transpose" }

// Run cancels every inverse Transpose pair.
func (p *TransposeFolding) Run(g *graph.Graph) (bool, error) {
	matched := false
	for {
		first, second := p.match(g)
		if first == nil {
			return matched, nil
		}
		if _, err := g.ReplaceUses(second.Outputs[0], first.Inputs[0]); err != nil {
			return matched, err
		}
		drop := []string{first.Outputs[0], second.Outputs[0]}
		if err := g.RewriteRegion([]string{first.Name, second.Name}, drop); err != nil {
			return matched, err
		}
		matched = true
	}
}

func (p *TransposeFolding) match(g *graph.Graph) (first, second *graph.Node) {
	for _, n := range g.Nodes() {
		if n.Op != graph.OpTranspose || len(n.Inputs) != 1 || len(n.Outputs) != 1 {
			continue
		}
		mid := n.Outputs[0]
		if contains(g.Outputs(), mid) {
			continue
		}
		consumers := g.Consumers(mid)
		if len(consumers) != 1 {
			continue
		}
		next := consumers[0]
		if next.Op != graph.OpTranspose || len(next.Outputs) != 1 {
			continue
		}
		if contains(g.Outputs(), next.Outputs[0]) {
			continue
		}
		if !composesToIdentity(g, n, next) {
			continue
		}
		return n, next
	}
	return nil, nil
}

// composesToIdentity checks p[q[i]] == i for the two permutations. A
// missing perm attribute means reversed axes, per convention.
func composesToIdentity(g *graph.Graph, first, second *graph.Node) bool {
	in, ok := g.Tensor(first.Inputs[0])
	if !ok {
		return false
	}
	rank := len(in.Shape)
	if rank == 0 {
		return false
	}

	p := permOf(first, rank)
	q := permOf(second, rank)
	if len(p) != rank || len(q) != rank {
		return false
	}
	for i := 0; i < rank; i++ {
		if q[i] < 0 || int(q[i]) >= rank {
			return false
		}
		if p[q[i]] != int64(i) {
			return false
		}
	}
	return true
}

func permOf(n *graph.Node, rank int) []int64 {
	if perm := n.IntsAttr("perm"); perm != nil {
		return perm
	}
	perm := make([]int64, rank)
	for i := range perm {
		perm[i] = int64(rank - 1 - i)
	}
	return perm
}
