package optimize

import (
	"fmt"

	"github.com/graft-ml/graft/internal/graph"
)

// ConstantFolding evaluates nodes whose inputs are all constant and
// replaces them with the computed constant tensor. Folds elementwise
// Add and Mul and 2-D Transpose (honoring the node's permutation);
// anything else is left alone.
type ConstantFolding struct{}

// Name returns the pass name.
func (p *ConstantFolding) Name() string { return "fold-constants" }

// Run folds until no foldable node remains.
func (p *ConstantFolding) Run(g *graph.Graph) (bool, error) {
	matched := false
	for {
		n := p.match(g)
		if n == nil {
			return matched, nil
		}
		if err := p.fold(g, n); err != nil {
			return matched, err
		}
		matched = true
	}
}

func (p *ConstantFolding) match(g *graph.Graph) *graph.Node {
	for _, n := range g.Nodes() {
		if !p.foldable(g, n) {
			continue
		}
		return n
	}
	return nil
}

func (p *ConstantFolding) foldable(g *graph.Graph, n *graph.Node) bool {
	switch n.Op {
	case graph.OpAdd, graph.OpMul:
		if len(n.Inputs) != 2 || len(n.Outputs) != 1 {
			return false
		}
	case graph.OpTranspose:
		if len(n.Inputs) != 1 || len(n.Outputs) != 1 {
			return false
		}
		t, ok := g.Tensor(n.Inputs[0])
		if !ok || len(t.Shape) != 2 {
			return false
		}
		perm := permOf(n, 2)
		if len(perm) != 2 || perm[0] < 0 || perm[0] > 1 || perm[1] != 1-perm[0] {
			return false
		}
	default:
		return false
	}
	for _, in := range n.Inputs {
		t, ok := g.Tensor(in)
		if !ok || !t.IsConst() || t.DType != graph.Float32 {
			return false
		}
	}
	return true
}

func (p *ConstantFolding) fold(g *graph.Graph, n *graph.Node) error {
	out, ok := g.Tensor(n.Outputs[0])
	if !ok {
		return fmt.Errorf("fold %s: tensor %q: %w", n.Name, n.Outputs[0], graph.ErrNotFound)
	}

	var result []float32
	var shape []int

	switch n.Op {
	case graph.OpAdd, graph.OpMul:
		a, err := constFloat32s(g, n.Inputs[0])
		if err != nil {
			return fmt.Errorf("fold %s: %w", n.Name, err)
		}
		b, err := constFloat32s(g, n.Inputs[1])
		if err != nil {
			return fmt.Errorf("fold %s: %w", n.Name, err)
		}
		if len(a) != len(b) {
			return fmt.Errorf("fold %s: operand sizes differ (%d vs %d)", n.Name, len(a), len(b))
		}
		result = make([]float32, len(a))
		for i := range a {
			if n.Op == graph.OpAdd {
				result[i] = a[i] + b[i]
			} else {
				result[i] = a[i] * b[i]
			}
		}
		in, _ := g.Tensor(n.Inputs[0])
		shape = append([]int(nil), in.Shape...)

	case graph.OpTranspose:
		a, err := constFloat32s(g, n.Inputs[0])
		if err != nil {
			return fmt.Errorf("fold %s: %w", n.Name, err)
		}
		in, _ := g.Tensor(n.Inputs[0])
		rows, cols := in.Shape[0], in.Shape[1]
		if perm := permOf(n, 2); perm[0] == 0 {
			// Identity permutation: values pass through unchanged.
			result = append([]float32(nil), a...)
			shape = []int{rows, cols}
		} else {
			result = make([]float32, len(a))
			for r := 0; r < rows; r++ {
				for c := 0; c < cols; c++ {
					result[c*rows+r] = a[r*cols+c]
				}
			}
			shape = []int{cols, rows}
		}
	}

	// Inputs only this node consumed go away with it.
	var drop []string
	for _, in := range n.Inputs {
		if soleConsumer(g, in, n) && !contains(drop, in) && !contains(g.Inputs(), in) && !contains(g.Outputs(), in) {
			drop = append(drop, in)
		}
	}

	if err := g.RewriteRegion([]string{n.Name}, drop); err != nil {
		return err
	}

	out.Shape = shape
	out.SetFloat32s(result)
	return nil
}
