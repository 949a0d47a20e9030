package graph

import (
	"bytes"
	"strings"
	"testing"
)

const sampleGraphJSON = `{
  "inputs": ["x"],
  "outputs": ["y"],
  "nodes": [
    {"name": "relu", "op": "Relu", "inputs": ["x"], "outputs": ["y"]}
  ],
  "tensors": [
    {"name": "x", "shape": [1, 4], "dtype": "float32"},
    {"name": "y", "shape": [1, 4], "dtype": "float32"}
  ]
}`

func TestDecode(t *testing.T) {
	g, err := Decode(strings.NewReader(sampleGraphJSON))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if g.NumNodes() != 1 {
		t.Fatalf("expected 1 node, got %d", g.NumNodes())
	}
	if g.NodeAt(0).Op != OpRelu {
		t.Fatalf("expected Relu, got %s", g.NodeAt(0).Op)
	}
	if got := g.Inputs(); len(got) != 1 || got[0] != "x" {
		t.Fatalf("inputs = %v", got)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{
			name: "unknown dtype",
			json: `{"tensors": [{"name": "x", "dtype": "float8"}]}`,
		},
		{
			name: "dangling edge",
			json: `{"nodes": [{"name": "n", "op": "Relu", "inputs": ["x"], "outputs": ["y"]}], "tensors": [{"name": "x", "dtype": "float32"}]}`,
		},
		{
			name: "unknown field",
			json: `{"bogus": 1}`,
		},
		{
			name: "cycle",
			json: `{"nodes": [
				{"name": "p", "op": "Relu", "inputs": ["b"], "outputs": ["a"]},
				{"name": "q", "op": "Relu", "inputs": ["a"], "outputs": ["b"]}
			], "tensors": [{"name": "a", "dtype": "float32"}, {"name": "b", "dtype": "float32"}]}`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode(strings.NewReader(tc.json)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	g := buildDiamond(t)

	var buf bytes.Buffer
	if err := g.Encode(&buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back.Dump() != g.Dump() {
		t.Fatalf("round trip changed the graph:\nwant:\n%s\ngot:\n%s", g.Dump(), back.Dump())
	}
}
