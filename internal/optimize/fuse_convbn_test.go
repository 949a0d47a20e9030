package optimize

import (
	"testing"

	"github.com/graft-ml/graft/internal/graph"
)

// buildConvBN creates Conv(x, w) -> y; BatchNorm(y, ...) -> z with
// numbers chosen so the folded weights are exact:
//
//	eps = 0, var = 4, gamma = [2 4]  =>  scale = [1 2]
func buildConvBN(t *testing.T) *graph.Graph {
	t.Helper()

	g := graph.New()
	addTensor := func(tensor *graph.Tensor) {
		t.Helper()
		if err := g.AddTensor(tensor); err != nil {
			t.Fatalf("add tensor %s: %v", tensor.Name, err)
		}
	}
	addConst := func(name string, shape []int, vals []float32) {
		t.Helper()
		tensor := &graph.Tensor{Name: name, Shape: shape}
		tensor.SetFloat32s(vals)
		addTensor(tensor)
	}

	addTensor(&graph.Tensor{Name: "x", Shape: []int{1, 2, 2, 2}, DType: graph.Float32})
	addTensor(&graph.Tensor{Name: "y", Shape: []int{1, 2, 2, 2}, DType: graph.Float32})
	addTensor(&graph.Tensor{Name: "z", Shape: []int{1, 2, 2, 2}, DType: graph.Float32})
	addConst("w", []int{2, 2}, []float32{1, 2, 3, 4})
	addConst("gamma", []int{2}, []float32{2, 4})
	addConst("beta", []int{2}, []float32{0.5, -0.5})
	addConst("mean", []int{2}, []float32{1, 2})
	addConst("variance", []int{2}, []float32{4, 4})

	nodes := []*graph.Node{
		{Name: "conv1", Op: graph.OpConv, Inputs: []string{"x", "w"}, Outputs: []string{"y"}},
		{
			Name:    "bn1",
			Op:      graph.OpBatchNorm,
			Inputs:  []string{"y", "gamma", "beta", "mean", "variance"},
			Outputs: []string{"z"},
			Attrs:   map[string]graph.Attr{"epsilon": {F: 0}},
		},
	}
	for _, n := range nodes {
		if err := g.AddNode(n); err != nil {
			t.Fatalf("add node %s: %v", n.Name, err)
		}
	}
	if err := g.SetInputs("x"); err != nil {
		t.Fatalf("set inputs: %v", err)
	}
	if err := g.SetOutputs("z"); err != nil {
		t.Fatalf("set outputs: %v", err)
	}
	return g
}

func TestConvBatchNormFusion(t *testing.T) {
	g := buildConvBN(t)

	matched, err := (&ConvBatchNormFusion{}).Run(g)
	if err != nil {
		t.Fatalf("fusion: %v", err)
	}
	if !matched {
		t.Fatalf("fusion did not match")
	}
	if err := g.Validate(); err != nil {
		t.Fatalf("fused graph ill-formed: %v", err)
	}

	if g.NumNodes() != 1 {
		t.Fatalf("expected 1 node, got %d", g.NumNodes())
	}
	fused := g.NodeAt(0)
	if fused.Op != graph.OpFusedConvBN {
		t.Fatalf("expected FusedConvBN, got %s", fused.Op)
	}
	if fused.Outputs[0] != "z" {
		t.Fatalf("fused node output = %s, want z", fused.Outputs[0])
	}

	// w' = w * gamma / sqrt(var + eps), channel-wise over axis 0.
	wt, ok := g.Tensor("w")
	if !ok {
		t.Fatalf("weight tensor missing after fusion")
	}
	folded, err := wt.Float32s()
	if err != nil {
		t.Fatalf("decode folded weight: %v", err)
	}
	wantW := []float32{1, 2, 6, 8}
	for i := range wantW {
		if folded[i] != wantW[i] {
			t.Fatalf("folded weight = %v, want %v", folded, wantW)
		}
	}

	// b' = (0 - mean) * scale + beta.
	bt, ok := g.Tensor("conv1_bias")
	if !ok {
		t.Fatalf("fused bias tensor missing")
	}
	bias, err := bt.Float32s()
	if err != nil {
		t.Fatalf("decode folded bias: %v", err)
	}
	wantB := []float32{-0.5, -4.5}
	for i := range wantB {
		if bias[i] != wantB[i] {
			t.Fatalf("folded bias = %v, want %v", bias, wantB)
		}
	}

	// The matched region's internals are gone.
	for _, name := range []string{"y", "gamma", "beta", "mean", "variance"} {
		if _, ok := g.Tensor(name); ok {
			t.Fatalf("tensor %s should have been removed", name)
		}
	}
}

func TestConvBatchNormFusion_NoMatch(t *testing.T) {
	g := buildConvBN(t)
	if err := g.RemoveNode("bn1", true); err != nil {
		t.Fatalf("strip batchnorm: %v", err)
	}
	if err := g.SetOutputs("y"); err != nil {
		t.Fatalf("set outputs: %v", err)
	}
	before := g.Dump()

	matched, err := (&ConvBatchNormFusion{}).Run(g)
	if err != nil {
		t.Fatalf("fusion: %v", err)
	}
	if matched {
		t.Fatalf("fusion matched a graph without batchnorm")
	}
	if g.Dump() != before {
		t.Fatalf("no-op pass changed the graph:\nbefore:\n%s\nafter:\n%s", before, g.Dump())
	}
}

func TestConvBatchNormFusion_FailureLeavesNoMutation(t *testing.T) {
	g := buildConvBN(t)
	// A node already carrying the fused pair's name makes the rewrite
	// fail on the duplicate; the graph must come out untouched, with no
	// synthesized bias tensor left behind.
	if err := g.AddTensor(&graph.Tensor{Name: "x2", Shape: []int{1, 2, 2, 2}, DType: graph.Float32}); err != nil {
		t.Fatalf("add tensor: %v", err)
	}
	err := g.AddNode(&graph.Node{Name: "conv1+bn1", Op: graph.OpIdentity, Inputs: []string{"x"}, Outputs: []string{"x2"}})
	if err != nil {
		t.Fatalf("add node: %v", err)
	}
	before := g.Dump()

	if _, err := (&ConvBatchNormFusion{}).Run(g); err == nil {
		t.Fatalf("expected the colliding rewrite to fail")
	}
	if _, ok := g.Tensor("conv1_bias"); ok {
		t.Fatalf("failed fusion left the synthesized bias tensor behind")
	}
	if g.Dump() != before {
		t.Fatalf("failed fusion mutated the graph:\nbefore:\n%s\nafter:\n%s", before, g.Dump())
	}
}

func TestConvBatchNormFusion_SharedIntermediate(t *testing.T) {
	g := buildConvBN(t)
	// A second consumer of y makes the pair unfusable.
	if err := g.AddTensor(&graph.Tensor{Name: "y2", Shape: []int{1, 2, 2, 2}, DType: graph.Float32}); err != nil {
		t.Fatalf("add tensor: %v", err)
	}
	err := g.AddNode(&graph.Node{Name: "side", Op: graph.OpRelu, Inputs: []string{"y"}, Outputs: []string{"y2"}})
	if err != nil {
		t.Fatalf("add node: %v", err)
	}

	matched, err := (&ConvBatchNormFusion{}).Run(g)
	if err != nil {
		t.Fatalf("fusion: %v", err)
	}
	if matched {
		t.Fatalf("fusion must not fire when the intermediate has other consumers")
	}
}
