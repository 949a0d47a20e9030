package optimize

import (
	"github.com/graft-ml/graft/internal/graph"
)

// DeadNodeElimination removes nodes whose outputs cannot reach any
// graph output, along with tensors nothing live references.
type DeadNodeElimination struct{}

// Name returns the pass name.
func (p *DeadNodeElimination) Name() string { return "eliminate-dead" }

// Run walks backwards from the graph outputs and removes everything
// the walk never reaches.
func (p *DeadNodeElimination) Run(g *graph.Graph) (bool, error) {
	live := make(map[string]bool)

	var mark func(tensor string)
	mark = func(tensor string) {
		producer := g.Producer(tensor)
		if producer == nil || live[producer.Name] {
			return
		}
		live[producer.Name] = true
		for _, in := range producer.Inputs {
			mark(in)
		}
	}
	for _, out := range g.Outputs() {
		mark(out)
	}

	var deadNodes []string
	for _, n := range g.Nodes() {
		if !live[n.Name] {
			deadNodes = append(deadNodes, n.Name)
		}
	}
	if len(deadNodes) == 0 {
		return false, nil
	}

	// Tensors only dead nodes touch go with them.
	liveTensors := make(map[string]bool)
	for _, n := range g.Nodes() {
		if !live[n.Name] {
			continue
		}
		for _, ref := range n.Inputs {
			liveTensors[ref] = true
		}
		for _, ref := range n.Outputs {
			liveTensors[ref] = true
		}
	}
	for _, name := range g.Inputs() {
		liveTensors[name] = true
	}
	for _, name := range g.Outputs() {
		liveTensors[name] = true
	}

	var deadTensors []string
	for _, name := range g.TensorNames() {
		if !liveTensors[name] {
			deadTensors = append(deadTensors, name)
		}
	}

	if err := g.RewriteRegion(deadNodes, deadTensors); err != nil {
		return false, err
	}
	return true, nil
}
