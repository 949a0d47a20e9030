package optimize

import (
	"github.com/graft-ml/graft/internal/graph"
)

// IdentityElimination removes Identity nodes left behind by frontend
// format conversion, rewiring consumers straight to the identity's
// input. Identities feeding a graph output are kept, since eliminating
// them would rename the output.
type IdentityElimination struct{}

// Name returns the pass name.
func (p *IdentityElimination) Name() string { return "eliminate-identity" }

// Run removes every eliminable Identity node.
func (p *IdentityElimination) Run(g *graph.Graph) (bool, error) {
	matched := false
	for {
		n := p.match(g)
		if n == nil {
			return matched, nil
		}
		if _, err := g.ReplaceUses(n.Outputs[0], n.Inputs[0]); err != nil {
			return matched, err
		}
		if err := g.RewriteRegion([]string{n.Name}, []string{n.Outputs[0]}); err != nil {
			return matched, err
		}
		matched = true
	}
}

func (p *IdentityElimination) match(g *graph.Graph) *graph.Node {
	for _, n := range g.Nodes() {
		if n.Op != graph.OpIdentity || len(n.Inputs) != 1 || len(n.Outputs) != 1 {
			continue
		}
		if contains(g.Outputs(), n.Outputs[0]) {
			continue
		}
		return n
	}
	return nil
}
