package graph

import (
	"testing"

	"github.com/sebdah/goldie/v2"
)

func TestDump_Golden(t *testing.T) {
	g := New()

	mustAdd := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("build graph: %v", err)
		}
	}

	mustAdd(g.AddTensor(&Tensor{Name: "x", Shape: []int{1, 2}, DType: Float32}))
	w := &Tensor{Name: "w", Shape: []int{2, 2}}
	w.SetFloat32s([]float32{1, 2, 3, 4})
	mustAdd(g.AddTensor(w))
	mustAdd(g.AddTensor(&Tensor{Name: "y", Shape: []int{1, 2}, DType: Float32}))
	mustAdd(g.AddTensor(&Tensor{
		Name:  "q",
		Shape: []int{1, 2},
		DType: Int8,
		Quant: &QuantParams{Scale: []float32{0.5}, ZeroPoint: []int32{3}, BitWidth: 8},
	}))

	mustAdd(g.AddNode(&Node{Name: "m", Op: OpMatMul, Inputs: []string{"x", "w"}, Outputs: []string{"y"}}))
	mustAdd(g.SetInputs("x"))
	mustAdd(g.SetOutputs("y"))

	gold := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	gold.Assert(t, "dump", []byte(g.Dump()))
}

func TestDump_Deterministic(t *testing.T) {
	a := buildDiamond(t)
	b := buildDiamond(t)
	if a.Dump() != b.Dump() {
		t.Fatalf("structurally identical graphs dumped differently")
	}
}
