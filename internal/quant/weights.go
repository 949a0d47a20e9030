package quant

import (
	"fmt"

	"github.com/graft-ml/graft/internal/graph"
)

// weightedOps carry a constant weight operand at input slot 1.
var weightedOps = map[graph.OpKind]bool{
	graph.OpConv:        true,
	graph.OpFusedConvBN: true,
	graph.OpMatMul:      true,
	graph.OpGemm:        true,
}

// quantizableOps have a quantized execution form.
var quantizableOps = map[graph.OpKind]bool{
	graph.OpConv:        true,
	graph.OpFusedConvBN: true,
	graph.OpMatMul:      true,
}

// quantizeNodeWeight rewrites the node's weight tensor to quantized
// storage. Skips nodes without a constant float weight. Returns whether
// the node is eligible at all under the policy; an unsupported weighted
// operator errors under strict and is reported ineligible otherwise.
func quantizeNodeWeight(g *graph.Graph, n *graph.Node, cfg Config) (bool, error) {
	if !weightedOps[n.Op] || len(n.Inputs) < 2 {
		return false, nil
	}
	wt, ok := g.Tensor(n.Inputs[1])
	if !ok || !wt.IsConst() {
		return false, nil
	}
	if !quantizableOps[n.Op] {
		if cfg.Strict {
			return false, &UnsupportedOperatorError{Node: n.Name, Op: n.Op}
		}
		return false, nil
	}
	if err := quantizeWeightTensor(wt, cfg); err != nil {
		return false, err
	}
	return true, nil
}

// quantizeWeightTensor converts a float32 weight tensor to symmetric
// integer storage. Already-quantized tensors at the requested bit-width
// are left unchanged; a different bit-width is a conflict.
func quantizeWeightTensor(t *graph.Tensor, cfg Config) error {
	if t.Quant != nil {
		if t.Quant.BitWidth == cfg.BitWidth {
			return nil
		}
		return &ConflictError{Tensor: t.Name, Have: t.Quant.BitWidth, Want: cfg.BitWidth}
	}
	if t.DType != graph.Float32 {
		return nil
	}

	vals, err := t.Float32s()
	if err != nil {
		return fmt.Errorf("quantize weight %q: %w", t.Name, err)
	}

	if cfg.PerChannel && len(t.Shape) > 1 {
		channels := t.Shape[0]
		block := len(vals) / channels
		scales := make([]float32, channels)
		zeros := make([]int32, channels)
		data := make([]byte, 0, len(vals)*storageType(cfg.BitWidth).Size())
		for c := 0; c < channels; c++ {
			seg := vals[c*block : (c+1)*block]
			scales[c] = SymmetricScale(maxAbs(seg), cfg.BitWidth)
			data = append(data, quantizeSlice(seg, scales[c], 0, cfg.BitWidth)...)
		}
		t.Data = data
		t.DType = storageType(cfg.BitWidth)
		t.Quant = &graph.QuantParams{
			Scale:      scales,
			ZeroPoint:  zeros,
			BitWidth:   cfg.BitWidth,
			PerChannel: true,
		}
		return nil
	}

	scale := SymmetricScale(maxAbs(vals), cfg.BitWidth)
	t.Data = quantizeSlice(vals, scale, 0, cfg.BitWidth)
	t.DType = storageType(cfg.BitWidth)
	t.Quant = &graph.QuantParams{
		Scale:     []float32{scale},
		ZeroPoint: []int32{0},
		BitWidth:  cfg.BitWidth,
	}
	return nil
}
