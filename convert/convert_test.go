package convert_test

import (
	"strings"
	"testing"

	"github.com/graft-ml/graft/convert"
	"github.com/graft-ml/graft/internal/graph"
)

const convBNJSON = `{
  "inputs": ["x"],
  "outputs": ["z"],
  "nodes": [
    {"name": "conv1", "op": "Conv", "inputs": ["x", "w"], "outputs": ["y"]},
    {"name": "bn1", "op": "BatchNorm",
     "inputs": ["y", "gamma", "beta", "mean", "variance"], "outputs": ["z"],
     "attrs": {"epsilon": {"F": 0.001}}}
  ],
  "tensors": [
    {"name": "x", "shape": [1, 1, 2, 2], "dtype": "float32"},
    {"name": "y", "shape": [1, 1, 2, 2], "dtype": "float32"},
    {"name": "z", "shape": [1, 1, 2, 2], "dtype": "float32"},
    {"name": "w", "shape": [1, 4], "dtype": "float32", "data": "AACAPwAAAEAAAEBAAACAQA=="},
    {"name": "gamma", "shape": [1], "dtype": "float32", "data": "AACAPw=="},
    {"name": "beta", "shape": [1], "dtype": "float32", "data": "AAAAAA=="},
    {"name": "mean", "shape": [1], "dtype": "float32", "data": "AAAAAA=="},
    {"name": "variance", "shape": [1], "dtype": "float32", "data": "AACAPw=="}
  ]
}`

func TestPipeline_EndToEnd(t *testing.T) {
	g, err := graph.Decode(strings.NewReader(convBNJSON))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	pipeline, err := convert.New(convert.Flags{})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	if state := pipeline.State(); state != convert.StateUninitialized {
		t.Fatalf("initial state = %s", state)
	}

	if err := pipeline.SetGraph(g); err != nil {
		t.Fatalf("set graph: %v", err)
	}
	if err := pipeline.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if state := pipeline.State(); state != convert.StateQuantized {
		t.Fatalf("final state = %s", state)
	}

	out, err := pipeline.Output()
	if err != nil {
		t.Fatalf("output: %v", err)
	}
	if out.NumNodes() != 1 {
		t.Fatalf("expected the Conv and BatchNorm fused into one node, got %d", out.NumNodes())
	}
	if out.NodeAt(0).Op != graph.OpFusedConvBN {
		t.Fatalf("expected FusedConvBN, got %s", out.NodeAt(0).Op)
	}
}
