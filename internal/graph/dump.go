package graph

import (
	"fmt"
	"strings"
)

// Dump renders the graph in a deterministic text form: boundary, nodes
// in declaration order, then tensors in name order. Two structurally
// identical graphs dump identically, which is what the golden and
// determinism tests compare.
func (g *Graph) Dump() string {
	var b strings.Builder

	fmt.Fprintf(&b, "inputs: %s\n", strings.Join(g.inputs, ", "))
	fmt.Fprintf(&b, "outputs: %s\n", strings.Join(g.outputs, ", "))

	b.WriteString("nodes:\n")
	for _, n := range g.nodes {
		fmt.Fprintf(&b, "  %s %s(%s) -> %s\n",
			n.Name, n.Op, strings.Join(n.Inputs, ", "), strings.Join(n.Outputs, ", "))
	}

	b.WriteString("tensors:\n")
	for _, name := range g.TensorNames() {
		t := g.tensors[name]
		fmt.Fprintf(&b, "  %s %s%v", t.Name, t.DType, t.Shape)
		if t.IsConst() {
			fmt.Fprintf(&b, " const[%dB]", len(t.Data))
		}
		if t.Quant != nil {
			fmt.Fprintf(&b, " quant{bits:%d scale:%v zp:%v}", t.Quant.BitWidth, t.Quant.Scale, t.Quant.ZeroPoint)
		}
		b.WriteByte('\n')
	}

	return b.String()
}
