package graph

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// OpKind identifies the operator a node performs.
type OpKind string

// Operator kinds known to the converter. Passes and quantizers match on
// these tags; unknown kinds flow through untouched.
const (
	OpConv        OpKind = "Conv"
	OpBatchNorm   OpKind = "BatchNorm"
	OpRelu        OpKind = "Relu"
	OpAdd         OpKind = "Add"
	OpMul         OpKind = "Mul"
	OpMatMul      OpKind = "MatMul"
	OpGemm        OpKind = "Gemm"
	OpTranspose   OpKind = "Transpose"
	OpReshape     OpKind = "Reshape"
	OpIdentity    OpKind = "Identity"
	OpConstant    OpKind = "Constant"
	OpFusedConvBN OpKind = "FusedConvBN"

	OpQuantizeLinear   OpKind = "QuantizeLinear"
	OpDequantizeLinear OpKind = "DequantizeLinear"
	OpQLinearConv      OpKind = "QLinearConv"
	OpQLinearMatMul    OpKind = "QLinearMatMul"
)

// Attr is a single operator attribute. Which field is meaningful depends
// on the attribute; unused fields stay zero.
type Attr struct {
	F      float64
	I      int64
	S      string
	Floats []float32
	Ints   []int64
}

// Node represents one operator instance. Nodes are owned by the Graph;
// passes hold references during rewriting but never outlive a run.
type Node struct {
	Name    string
	Op      OpKind
	Inputs  []string // input tensor names, ordered
	Outputs []string // output tensor names, ordered
	Attrs   map[string]Attr
}

// FloatAttr returns the named float attribute, or def when absent.
func (n *Node) FloatAttr(name string, def float64) float64 {
	if a, ok := n.Attrs[name]; ok {
		return a.F
	}
	return def
}

// IntAttr returns the named int attribute, or def when absent.
func (n *Node) IntAttr(name string, def int64) int64 {
	if a, ok := n.Attrs[name]; ok {
		return a.I
	}
	return def
}

// IntsAttr returns the named int-list attribute, or nil when absent.
func (n *Node) IntsAttr(name string) []int64 {
	if a, ok := n.Attrs[name]; ok {
		return a.Ints
	}
	return nil
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	c := &Node{
		Name:    n.Name,
		Op:      n.Op,
		Inputs:  append([]string(nil), n.Inputs...),
		Outputs: append([]string(nil), n.Outputs...),
	}
	if n.Attrs != nil {
		c.Attrs = make(map[string]Attr, len(n.Attrs))
		for k, a := range n.Attrs {
			a.Floats = append([]float32(nil), a.Floats...)
			a.Ints = append([]int64(nil), a.Ints...)
			c.Attrs[k] = a
		}
	}
	return c
}

// Tensor represents one edge/value in the graph. Constant tensors
// (weights) carry their data in Data; activation tensors leave it nil.
type Tensor struct {
	Name  string
	Shape []int
	DType DataType
	Data  []byte
	Quant *QuantParams
}

// IsConst reports whether the tensor carries embedded constant data.
func (t *Tensor) IsConst() bool {
	return len(t.Data) > 0
}

// NumElements returns the number of elements described by the shape.
func (t *Tensor) NumElements() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Float32s decodes the tensor's constant data as little-endian float32.
func (t *Tensor) Float32s() ([]float32, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("tensor %s: dtype %s is not float32", t.Name, t.DType)
	}
	if len(t.Data)%4 != 0 {
		return nil, fmt.Errorf("tensor %s: data length %d not a multiple of 4", t.Name, len(t.Data))
	}
	out := make([]float32, len(t.Data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.Data[i*4:]))
	}
	return out, nil
}

// SetFloat32s replaces the tensor's constant data with the given values
// and marks the tensor float32.
func (t *Tensor) SetFloat32s(vals []float32) {
	data := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	t.DType = Float32
	t.Data = data
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Name:  t.Name,
		Shape: append([]int(nil), t.Shape...),
		DType: t.DType,
		Data:  append([]byte(nil), t.Data...),
		Quant: t.Quant.Clone(),
	}
}

// Graph owns an ordered list of nodes and the tensor table they refer
// to. All mutation methods are atomic: they validate first and leave
// the graph untouched on failure.
type Graph struct {
	nodes   []*Node
	tensors map[string]*Tensor
	inputs  []string
	outputs []string
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{tensors: make(map[string]*Tensor)}
}

// NumNodes returns the number of nodes.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// NodeAt returns the node at position i in declaration order.
func (g *Graph) NodeAt(i int) *Node { return g.nodes[i] }

// Nodes returns the nodes in declaration order. The slice is a copy;
// the nodes are not.
func (g *Graph) Nodes() []*Node {
	return append([]*Node(nil), g.nodes...)
}

// FindNode returns the node with the given name, or nil.
func (g *Graph) FindNode(name string) *Node {
	for _, n := range g.nodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// Tensor returns the tensor with the given name.
func (g *Graph) Tensor(name string) (*Tensor, bool) {
	t, ok := g.tensors[name]
	return t, ok
}

// TensorNames returns all tensor names in sorted order.
func (g *Graph) TensorNames() []string {
	names := make([]string, 0, len(g.tensors))
	for name := range g.tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Inputs returns the graph input tensor names.
func (g *Graph) Inputs() []string { return append([]string(nil), g.inputs...) }

// Outputs returns the graph output tensor names.
func (g *Graph) Outputs() []string { return append([]string(nil), g.outputs...) }

// SetInputs declares the graph inputs. Every name must resolve.
func (g *Graph) SetInputs(names ...string) error {
	for _, name := range names {
		if _, ok := g.tensors[name]; !ok {
			return fmt.Errorf("set inputs: tensor %q: %w", name, ErrNotFound)
		}
	}
	g.inputs = append([]string(nil), names...)
	return nil
}

// SetOutputs declares the graph outputs. Every name must resolve.
func (g *Graph) SetOutputs(names ...string) error {
	for _, name := range names {
		if _, ok := g.tensors[name]; !ok {
			return fmt.Errorf("set outputs: tensor %q: %w", name, ErrNotFound)
		}
	}
	g.outputs = append([]string(nil), names...)
	return nil
}

// AddTensor inserts a tensor into the table.
func (g *Graph) AddTensor(t *Tensor) error {
	if t.Name == "" {
		return fmt.Errorf("add tensor: empty name: %w", ErrInvalidGraph)
	}
	if _, ok := g.tensors[t.Name]; ok {
		return fmt.Errorf("add tensor %q: %w", t.Name, ErrDuplicateName)
	}
	g.tensors[t.Name] = t
	return nil
}

// AddNode appends a node. Every edge it references must already resolve
// to a tensor entry.
func (g *Graph) AddNode(n *Node) error {
	if n.Name == "" {
		return fmt.Errorf("add node: empty name: %w", ErrInvalidGraph)
	}
	if g.FindNode(n.Name) != nil {
		return fmt.Errorf("add node %q: %w", n.Name, ErrDuplicateName)
	}
	for _, ref := range append(append([]string(nil), n.Inputs...), n.Outputs...) {
		if _, ok := g.tensors[ref]; !ok {
			return &StructuralError{Kind: "missing_tensor", Node: n.Name, Tensor: ref, Detail: "edge does not resolve"}
		}
	}
	g.nodes = append(g.nodes, n)
	return nil
}

// Producer returns the node producing the named tensor, or nil for
// graph inputs and constants.
func (g *Graph) Producer(tensor string) *Node {
	for _, n := range g.nodes {
		for _, out := range n.Outputs {
			if out == tensor {
				return n
			}
		}
	}
	return nil
}

// Consumers returns the nodes reading the named tensor, in declaration
// order.
func (g *Graph) Consumers(tensor string) []*Node {
	var out []*Node
	for _, n := range g.nodes {
		for _, in := range n.Inputs {
			if in == tensor {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

// RemoveNode removes the named node. Without cascade the removal fails
// with ErrDanglingReference when any of the node's outputs is still
// consumed by another node or exported as a graph output. With cascade
// the transitive consumers are removed as well. Tensors the removed
// nodes referenced that end up unreferenced (and are not graph inputs
// or outputs) are dropped.
func (g *Graph) RemoveNode(name string, cascade bool) error {
	target := g.FindNode(name)
	if target == nil {
		return fmt.Errorf("remove node %q: %w", name, ErrNotFound)
	}

	doomed := map[string]bool{name: true}
	if cascade {
		g.collectDependents(target, doomed)
	} else {
		for _, out := range target.Outputs {
			for _, c := range g.Consumers(out) {
				if c != target {
					return fmt.Errorf("remove node %q: output %q still consumed by %q: %w",
						name, out, c.Name, ErrDanglingReference)
				}
			}
			if g.isOutput(out) {
				return fmt.Errorf("remove node %q: output %q is a graph output: %w",
					name, out, ErrDanglingReference)
			}
		}
	}

	g.commitRemoval(doomed)
	return nil
}

// RemoveTensor removes the named tensor. Without cascade the removal
// fails with ErrDanglingReference while any node or the graph boundary
// references it. With cascade every referencing node (and its
// dependents) is removed first.
func (g *Graph) RemoveTensor(name string, cascade bool) error {
	if _, ok := g.tensors[name]; !ok {
		return fmt.Errorf("remove tensor %q: %w", name, ErrNotFound)
	}

	doomed := make(map[string]bool)
	for _, n := range g.nodes {
		if refersTo(n, name) {
			if !cascade {
				return fmt.Errorf("remove tensor %q: still referenced by node %q: %w",
					name, n.Name, ErrDanglingReference)
			}
			doomed[n.Name] = true
			g.collectDependents(n, doomed)
		}
	}
	if !cascade && (contains(g.inputs, name) || contains(g.outputs, name)) {
		return fmt.Errorf("remove tensor %q: referenced by graph boundary: %w", name, ErrDanglingReference)
	}

	g.commitRemoval(doomed)
	delete(g.tensors, name)
	g.inputs = remove(g.inputs, name)
	g.outputs = remove(g.outputs, name)
	return nil
}

// ReplaceUses rewrites every node input referencing old to new and
// returns the number of rewritten references. Producer outputs are left
// alone. Both tensors must exist.
func (g *Graph) ReplaceUses(old, new string) (int, error) {
	if _, ok := g.tensors[old]; !ok {
		return 0, fmt.Errorf("replace uses: tensor %q: %w", old, ErrNotFound)
	}
	if _, ok := g.tensors[new]; !ok {
		return 0, fmt.Errorf("replace uses: tensor %q: %w", new, ErrNotFound)
	}
	count := 0
	for _, n := range g.nodes {
		for i, in := range n.Inputs {
			if in == old {
				n.Inputs[i] = new
				count++
			}
		}
	}
	return count, nil
}

// RewriteRegion atomically replaces a matched subgraph: the named nodes
// and tensors are removed and the added nodes take the position of the
// first removed node. The candidate graph is validated before anything
// is committed, so a rewrite that would dangle a reference or close a
// cycle leaves the graph unchanged.
func (g *Graph) RewriteRegion(removeNodes, removeTensors []string, add ...*Node) error {
	removeSet := make(map[string]bool, len(removeNodes))
	for _, name := range removeNodes {
		if g.FindNode(name) == nil {
			return fmt.Errorf("rewrite: node %q: %w", name, ErrNotFound)
		}
		removeSet[name] = true
	}

	// Build the candidate node order: added nodes slot in where the
	// first removed node sat, keeping declaration order deterministic.
	var candidate []*Node
	inserted := len(add) == 0
	for _, n := range g.nodes {
		if removeSet[n.Name] {
			if !inserted {
				candidate = append(candidate, add...)
				inserted = true
			}
			continue
		}
		candidate = append(candidate, n)
	}
	if !inserted {
		candidate = append(candidate, add...)
	}

	tensors := make(map[string]*Tensor, len(g.tensors))
	for name, t := range g.tensors {
		tensors[name] = t
	}
	for _, name := range removeTensors {
		if _, ok := tensors[name]; !ok {
			return fmt.Errorf("rewrite: tensor %q: %w", name, ErrNotFound)
		}
		delete(tensors, name)
	}

	if err := validate(candidate, tensors, g.inputs, g.outputs); err != nil {
		return fmt.Errorf("rewrite: %w", err)
	}

	g.nodes = candidate
	g.tensors = tensors
	return nil
}

// Validate checks well-formedness: every edge resolves to a live tensor,
// node names are unique, boundary tensors exist, and the graph is
// acyclic.
func (g *Graph) Validate() error {
	return validate(g.nodes, g.tensors, g.inputs, g.outputs)
}

// Clone returns a deep copy of the graph.
func (g *Graph) Clone() *Graph {
	c := New()
	for _, n := range g.nodes {
		c.nodes = append(c.nodes, n.Clone())
	}
	for name, t := range g.tensors {
		c.tensors[name] = t.Clone()
	}
	c.inputs = append([]string(nil), g.inputs...)
	c.outputs = append([]string(nil), g.outputs...)
	return c
}

// TopoSort returns the nodes in dependency order. Fails with ErrCycle
// on cyclic graphs.
func (g *Graph) TopoSort() ([]*Node, error) {
	producer := make(map[string]int)
	for i, n := range g.nodes {
		for _, out := range n.Outputs {
			producer[out] = i
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]int, len(g.nodes))
	result := make([]*Node, 0, len(g.nodes))

	var visit func(i int) error
	visit = func(i int) error {
		if color[i] == black {
			return nil
		}
		if color[i] == gray {
			return fmt.Errorf("node %q: %w", g.nodes[i].Name, ErrCycle)
		}
		color[i] = gray
		for _, in := range g.nodes[i].Inputs {
			if dep, ok := producer[in]; ok && dep != i {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[i] = black
		result = append(result, g.nodes[i])
		return nil
	}

	for i := range g.nodes {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// collectDependents adds every node transitively consuming target's
// outputs to doomed.
func (g *Graph) collectDependents(target *Node, doomed map[string]bool) {
	for _, out := range target.Outputs {
		for _, c := range g.Consumers(out) {
			if doomed[c.Name] {
				continue
			}
			doomed[c.Name] = true
			g.collectDependents(c, doomed)
		}
	}
}

// commitRemoval drops the doomed nodes and garbage-collects the tensors
// they referenced, when no surviving node or boundary still does.
// Tensors untouched by the removed nodes are out of scope.
func (g *Graph) commitRemoval(doomed map[string]bool) {
	candidates := make(map[string]bool)
	var survivors []*Node
	for _, n := range g.nodes {
		if doomed[n.Name] {
			for _, ref := range n.Inputs {
				candidates[ref] = true
			}
			for _, ref := range n.Outputs {
				candidates[ref] = true
			}
			continue
		}
		survivors = append(survivors, n)
	}
	g.nodes = survivors

	referenced := make(map[string]bool)
	for _, n := range g.nodes {
		for _, ref := range n.Inputs {
			referenced[ref] = true
		}
		for _, ref := range n.Outputs {
			referenced[ref] = true
		}
	}
	for _, name := range g.inputs {
		referenced[name] = true
	}
	for _, name := range g.outputs {
		referenced[name] = true
	}

	for name := range candidates {
		t, ok := g.tensors[name]
		if !ok {
			continue
		}
		// Free-standing constants survive; orphaned activations do not.
		if !referenced[name] && !t.IsConst() {
			delete(g.tensors, name)
		}
	}
}

func (g *Graph) isOutput(name string) bool { return contains(g.outputs, name) }

func refersTo(n *Node, tensor string) bool {
	return contains(n.Inputs, tensor) || contains(n.Outputs, tensor)
}

func contains(names []string, name string) bool {
	for _, s := range names {
		if s == name {
			return true
		}
	}
	return false
}

func remove(names []string, name string) []string {
	out := names[:0]
	for _, s := range names {
		if s != name {
			out = append(out, s)
		}
	}
	return out
}
