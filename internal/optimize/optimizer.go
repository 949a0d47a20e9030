package optimize

import (
	"github.com/graft-ml/graft/internal/graph"
)

// Optimizer applies an ordered sequence of passes, each exactly once
// per run. The sequence is fixed at construction.
type Optimizer struct {
	passes []Pass
}

// NewOptimizer builds an optimizer over the given passes, applied in
// the order given.
func NewOptimizer(passes ...Pass) *Optimizer {
	return &Optimizer{passes: passes}
}

// Passes returns the pass names in application order.
func (o *Optimizer) Passes() []string {
	names := make([]string, len(o.passes))
	for i, p := range o.passes {
		names[i] = p.Name()
	}
	return names
}

// Run sweeps every pass over the graph once, in order. After each pass
// that rewrote something the graph is re-validated; a pass that errors
// or leaves the graph ill-formed fails the whole run with a
// TransformError naming the pass.
func (o *Optimizer) Run(g *graph.Graph) error {
	for _, p := range o.passes {
		matched, err := p.Run(g)
		if err != nil {
			return &TransformError{Pass: p.Name(), Err: err}
		}
		if !matched {
			continue
		}
		if err := g.Validate(); err != nil {
			return &TransformError{Pass: p.Name(), Err: err}
		}
	}
	return nil
}
