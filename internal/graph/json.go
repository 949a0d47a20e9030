package graph

import (
	"encoding/json"
	"fmt"
	"io"
)

// JSON interchange form of a graph. This is the development and test
// representation, not the deployment format: the frontend parser and
// the storage writer own the real wire formats.

type graphJSON struct {
	Inputs  []string     `json:"inputs"`
	Outputs []string     `json:"outputs"`
	Nodes   []nodeJSON   `json:"nodes"`
	Tensors []tensorJSON `json:"tensors"`
}

type nodeJSON struct {
	Name    string          `json:"name"`
	Op      string          `json:"op"`
	Inputs  []string        `json:"inputs,omitempty"`
	Outputs []string        `json:"outputs,omitempty"`
	Attrs   map[string]Attr `json:"attrs,omitempty"`
}

type tensorJSON struct {
	Name  string       `json:"name"`
	Shape []int        `json:"shape,omitempty"`
	DType string       `json:"dtype"`
	Data  []byte       `json:"data,omitempty"`
	Quant *QuantParams `json:"quant,omitempty"`
}

var dtypeNames = map[string]DataType{
	"float32": Float32,
	"float16": Float16,
	"int8":    Int8,
	"uint8":   UInt8,
	"int16":   Int16,
	"int32":   Int32,
	"int64":   Int64,
}

// Decode reads the JSON interchange form and returns a validated graph.
func Decode(r io.Reader) (*Graph, error) {
	var raw graphJSON
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}

	g := New()
	for _, tj := range raw.Tensors {
		dt, ok := dtypeNames[tj.DType]
		if !ok {
			return nil, fmt.Errorf("decode graph: tensor %q: unknown dtype %q: %w", tj.Name, tj.DType, ErrInvalidGraph)
		}
		t := &Tensor{Name: tj.Name, Shape: tj.Shape, DType: dt, Data: tj.Data, Quant: tj.Quant}
		if err := g.AddTensor(t); err != nil {
			return nil, fmt.Errorf("decode graph: %w", err)
		}
	}
	for _, nj := range raw.Nodes {
		n := &Node{Name: nj.Name, Op: OpKind(nj.Op), Inputs: nj.Inputs, Outputs: nj.Outputs, Attrs: nj.Attrs}
		if err := g.AddNode(n); err != nil {
			return nil, fmt.Errorf("decode graph: %w", err)
		}
	}
	if err := g.SetInputs(raw.Inputs...); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}
	if err := g.SetOutputs(raw.Outputs...); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}
	return g, nil
}

// Encode writes the graph in the JSON interchange form.
func (g *Graph) Encode(w io.Writer) error {
	raw := graphJSON{
		Inputs:  g.Inputs(),
		Outputs: g.Outputs(),
	}
	for _, n := range g.nodes {
		raw.Nodes = append(raw.Nodes, nodeJSON{
			Name:    n.Name,
			Op:      string(n.Op),
			Inputs:  n.Inputs,
			Outputs: n.Outputs,
			Attrs:   n.Attrs,
		})
	}
	for _, name := range g.TensorNames() {
		t := g.tensors[name]
		raw.Tensors = append(raw.Tensors, tensorJSON{
			Name:  t.Name,
			Shape: t.Shape,
			DType: t.DType.String(),
			Data:  t.Data,
			Quant: t.Quant,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(raw); err != nil {
		return fmt.Errorf("encode graph: %w", err)
	}
	return nil
}
