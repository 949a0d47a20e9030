package optimize

import (
	"fmt"
	"math"

	"github.com/graft-ml/graft/internal/graph"
)

// ConvBatchNormFusion folds a BatchNorm into the preceding Conv,
// producing a single FusedConvBN node:
//
//	w'[c] = w[c] * gamma[c] / sqrt(var[c] + eps)
//	b'[c] = (b[c] - mean[c]) * gamma[c] / sqrt(var[c] + eps) + beta[c]
//
// The fused node takes over the BatchNorm's output edge, so everything
// downstream is untouched.
type ConvBatchNormFusion struct{}

// Name returns the pass name.
func (p *ConvBatchNormFusion) Name() string { return "fuse-conv-bn" }

// Run fuses every Conv whose output feeds exactly one BatchNorm.
func (p *ConvBatchNormFusion) Run(g *graph.Graph) (bool, error) {
	matched := false
	for {
		conv, bn := p.match(g)
		if conv == nil {
			return matched, nil
		}
		if err := p.fuse(g, conv, bn); err != nil {
			return matched, err
		}
		matched = true
	}
}

// match finds the first Conv→BatchNorm pair where the intermediate edge
// has no other consumer and is not a graph output.
func (p *ConvBatchNormFusion) match(g *graph.Graph) (conv, bn *graph.Node) {
	for _, n := range g.Nodes() {
		if n.Op != graph.OpConv || len(n.Outputs) != 1 {
			continue
		}
		mid := n.Outputs[0]
		if contains(g.Outputs(), mid) {
			continue
		}
		consumers := g.Consumers(mid)
		if len(consumers) != 1 || consumers[0].Op != graph.OpBatchNorm {
			continue
		}
		if len(consumers[0].Inputs) != 5 || len(consumers[0].Outputs) != 1 {
			continue
		}
		return n, consumers[0]
	}
	return nil, nil
}

func (p *ConvBatchNormFusion) fuse(g *graph.Graph, conv, bn *graph.Node) error {
	weight, err := constFloat32s(g, conv.Inputs[1])
	if err != nil {
		return fmt.Errorf("fuse %s+%s: weight: %w", conv.Name, bn.Name, err)
	}
	gamma, err := constFloat32s(g, bn.Inputs[1])
	if err != nil {
		return fmt.Errorf("fuse %s+%s: gamma: %w", conv.Name, bn.Name, err)
	}
	beta, err := constFloat32s(g, bn.Inputs[2])
	if err != nil {
		return fmt.Errorf("fuse %s+%s: beta: %w", conv.Name, bn.Name, err)
	}
	mean, err := constFloat32s(g, bn.Inputs[3])
	if err != nil {
		return fmt.Errorf("fuse %s+%s: mean: %w", conv.Name, bn.Name, err)
	}
	variance, err := constFloat32s(g, bn.Inputs[4])
	if err != nil {
		return fmt.Errorf("fuse %s+%s: variance: %w", conv.Name, bn.Name, err)
	}

	wt, _ := g.Tensor(conv.Inputs[1])
	if len(wt.Shape) == 0 {
		return fmt.Errorf("fuse %s+%s: weight %q has no shape", conv.Name, bn.Name, wt.Name)
	}
	channels := wt.Shape[0]
	if len(gamma) != channels || len(beta) != channels || len(mean) != channels || len(variance) != channels {
		return fmt.Errorf("fuse %s+%s: batchnorm parameters do not match %d output channels",
			conv.Name, bn.Name, channels)
	}
	block := len(weight) / channels

	eps := bn.FloatAttr("epsilon", 1e-5)
	scale := make([]float32, channels)
	for c := range scale {
		scale[c] = gamma[c] / float32(math.Sqrt(float64(variance[c])+eps))
	}

	// Existing bias, or zeros when the Conv had none.
	bias := make([]float32, channels)
	biasName := conv.Name + "_bias"
	if len(conv.Inputs) > 2 {
		b, err := constFloat32s(g, conv.Inputs[2])
		if err != nil {
			return fmt.Errorf("fuse %s+%s: bias: %w", conv.Name, bn.Name, err)
		}
		copy(bias, b)
		biasName = conv.Inputs[2]
	}

	folded := make([]float32, len(weight))
	for c := 0; c < channels; c++ {
		for i := 0; i < block; i++ {
			folded[c*block+i] = weight[c*block+i] * scale[c]
		}
	}
	foldedBias := make([]float32, channels)
	for c := range foldedBias {
		foldedBias[c] = (bias[c]-mean[c])*scale[c] + beta[c]
	}

	newBias := biasName == conv.Name+"_bias"
	if newBias {
		if err := g.AddTensor(&graph.Tensor{Name: biasName, Shape: []int{channels}, DType: graph.Float32}); err != nil {
			return err
		}
	}

	fused := &graph.Node{
		Name:    conv.Name + "+" + bn.Name,
		Op:      graph.OpFusedConvBN,
		Inputs:  []string{conv.Inputs[0], conv.Inputs[1], biasName},
		Outputs: []string{bn.Outputs[0]},
		Attrs:   conv.Clone().Attrs,
	}

	// The intermediate edge and any batchnorm parameters with no other
	// consumer go away with the matched region.
	drop := []string{conv.Outputs[0]}
	for _, param := range bn.Inputs[1:] {
		if soleConsumer(g, param, bn) && !contains(drop, param) && !contains(g.Outputs(), param) && !contains(g.Inputs(), param) {
			drop = append(drop, param)
		}
	}

	if err := g.RewriteRegion([]string{conv.Name, bn.Name}, drop, fused); err != nil {
		if newBias {
			// Nothing references the fresh bias yet; roll it back so a
			// failed fusion leaves no mutation behind.
			_ = g.RemoveTensor(biasName, false)
		}
		return err
	}

	wt.SetFloat32s(folded)
	bt, _ := g.Tensor(biasName)
	bt.SetFloat32s(foldedBias)
	return nil
}

// constFloat32s fetches a tensor and decodes it as constant float32
// data.
func constFloat32s(g *graph.Graph, name string) ([]float32, error) {
	t, ok := g.Tensor(name)
	if !ok {
		return nil, fmt.Errorf("tensor %q: %w", name, graph.ErrNotFound)
	}
	if !t.IsConst() {
		return nil, fmt.Errorf("tensor %q is not constant", name)
	}
	return t.Float32s()
}

// soleConsumer reports whether only lies on the consumer list of name.
func soleConsumer(g *graph.Graph, name string, only *graph.Node) bool {
	for _, c := range g.Consumers(name) {
		if c != only {
			return false
		}
	}
	return true
}

func contains(names []string, name string) bool {
	for _, s := range names {
		if s == name {
			return true
		}
	}
	return false
}
