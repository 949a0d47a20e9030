package optimize

import (
	"errors"
	"testing"

	"github.com/graft-ml/graft/internal/graph"
)

// recordPass records its application order.
type recordPass struct {
	name string
	log  *[]string
}

func (p *recordPass) Name() string { return p.name }

func (p *recordPass) Run(g *graph.Graph) (bool, error) {
	*p.log = append(*p.log, p.name)
	return false, nil
}

// breakingPass dangles a node input, simulating a rewrite that violates
// well-formedness.
type breakingPass struct{}

func (p *breakingPass) Name() string { return "breaking" }

func (p *breakingPass) Run(g *graph.Graph) (bool, error) {
	g.NodeAt(0).Inputs[0] = "does-not-exist"
	return true, nil
}

// failingPass errors outright.
type failingPass struct{}

func (p *failingPass) Name() string { return "failing" }

func (p *failingPass) Run(g *graph.Graph) (bool, error) {
	return false, errors.New("boom")
}

func TestOptimizer_OrderedSweep(t *testing.T) {
	g := buildConvBN(t)

	var log []string
	o := NewOptimizer(
		&recordPass{name: "first", log: &log},
		&recordPass{name: "second", log: &log},
		&recordPass{name: "third", log: &log},
	)
	if err := o.Run(g); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"first", "second", "third"}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("application order %v, want %v", log, want)
		}
	}
}

func TestOptimizer_NoMatchLeavesGraphUntouched(t *testing.T) {
	g := buildConvBN(t)
	if err := g.RemoveNode("bn1", true); err != nil {
		t.Fatalf("strip batchnorm: %v", err)
	}
	if err := g.SetOutputs("y"); err != nil {
		t.Fatalf("set outputs: %v", err)
	}
	before := g.Dump()

	o := NewOptimizer(DefaultPasses()...)
	if err := o.Run(g); err != nil {
		t.Fatalf("run: %v", err)
	}
	if g.Dump() != before {
		t.Fatalf("optimizer changed a graph no pass matches:\nbefore:\n%s\nafter:\n%s", before, g.Dump())
	}
}

func TestOptimizer_IllFormedRewriteFails(t *testing.T) {
	g := buildConvBN(t)

	o := NewOptimizer(&breakingPass{})
	err := o.Run(g)
	if !errors.Is(err, ErrTransform) {
		t.Fatalf("expected ErrTransform, got %v", err)
	}
	var terr *TransformError
	if !errors.As(err, &terr) || terr.Pass != "breaking" {
		t.Fatalf("error does not name the offending pass: %v", err)
	}
	if !errors.Is(err, graph.ErrInvalidGraph) {
		t.Fatalf("cause not exposed: %v", err)
	}
}

func TestOptimizer_PassErrorFails(t *testing.T) {
	g := buildConvBN(t)

	o := NewOptimizer(&failingPass{}, DefaultPasses()[0])
	err := o.Run(g)
	var terr *TransformError
	if !errors.As(err, &terr) || terr.Pass != "failing" {
		t.Fatalf("expected failing pass named, got %v", err)
	}
	// The run aborts at the first failure; the fusion never ran.
	if g.FindNode("conv1") == nil {
		t.Fatalf("later passes ran after a failure")
	}
}

func TestOptimizer_Deterministic(t *testing.T) {
	a := buildConvBN(t)
	b := buildConvBN(t)

	if err := NewOptimizer(DefaultPasses()...).Run(a); err != nil {
		t.Fatalf("run a: %v", err)
	}
	if err := NewOptimizer(DefaultPasses()...).Run(b); err != nil {
		t.Fatalf("run b: %v", err)
	}
	if a.Dump() != b.Dump() {
		t.Fatalf("identical inputs produced different outputs:\na:\n%s\nb:\n%s", a.Dump(), b.Dump())
	}
}

func TestForNames(t *testing.T) {
	passes, err := ForNames([]string{"eliminate-dead", "fuse-conv-bn"})
	if err != nil {
		t.Fatalf("for names: %v", err)
	}
	if passes[0].Name() != "eliminate-dead" || passes[1].Name() != "fuse-conv-bn" {
		t.Fatalf("configured order not preserved: %v", []string{passes[0].Name(), passes[1].Name()})
	}

	if _, err := ForNames([]string{"nonsense"}); !errors.Is(err, ErrUnknownPass) {
		t.Fatalf("expected ErrUnknownPass, got %v", err)
	}
}
