package quant

import (
	"fmt"

	"github.com/graft-ml/graft/internal/graph"
)

// formatQuantizer is the format-aware variant: it rewrites supported
// nodes directly to the target format's quantized operator kinds
// (QLinearConv, QLinearMatMul), so the deployed graph needs no
// dequantize step at load time.
type formatQuantizer struct {
	cfg   Config
	stats CalibrationStats
}

// Name returns the variant name.
func (q *formatQuantizer) Name() string { return "format-aware" }

// Apply rewrites every supported node to its quantized kind. A node is
// rewritten only when both its activation input and output ranges are
// calibrated and its weight quantizes cleanly; under the permissive
// policy anything else stays in floating point.
func (q *formatQuantizer) Apply(g *graph.Graph) error {
	stats := q.stats
	if q.cfg.Mode == ModeAware {
		stats = mergeRecorded(g, stats)
	}

	for _, n := range g.Nodes() {
		if !quantizableOps[n.Op] {
			if weightedOps[n.Op] && q.cfg.Strict {
				return &UnsupportedOperatorError{Node: n.Name, Op: n.Op}
			}
			continue
		}
		if len(n.Inputs) == 0 || len(n.Outputs) == 0 {
			continue
		}

		inRange, okIn := stats[n.Inputs[0]]
		outRange, okOut := stats[n.Outputs[0]]
		if !okIn || !okOut {
			if q.cfg.Strict {
				return fmt.Errorf("%w: node %q", ErrMissingCalibration, n.Name)
			}
			continue
		}

		eligible, err := quantizeNodeWeight(g, n, q.cfg)
		if err != nil {
			return err
		}
		if !eligible {
			continue
		}

		if err := q.annotate(g, n.Inputs[0], inRange); err != nil {
			return err
		}
		if err := q.annotate(g, n.Outputs[0], outRange); err != nil {
			return err
		}

		if n.Op == graph.OpFusedConvBN {
			if n.Attrs == nil {
				n.Attrs = make(map[string]graph.Attr)
			}
			n.Attrs["fused_bn"] = graph.Attr{I: 1}
		}
		n.Op = qlinearKind(n.Op)
	}
	return nil
}

// annotate attaches activation parameters to a tensor, honoring the
// tensor-level idempotency contract.
func (q *formatQuantizer) annotate(g *graph.Graph, name string, rng Range) error {
	t, ok := g.Tensor(name)
	if !ok || t.IsConst() {
		return nil
	}
	if t.Quant != nil {
		if t.Quant.BitWidth == q.cfg.BitWidth {
			return nil
		}
		return &ConflictError{Tensor: name, Have: t.Quant.BitWidth, Want: q.cfg.BitWidth}
	}
	scale, zp := ComputeParams(rng, q.cfg.BitWidth)
	t.Quant = &graph.QuantParams{
		Scale:     []float32{scale},
		ZeroPoint: []int32{zp},
		BitWidth:  q.cfg.BitWidth,
	}
	t.DType = storageType(q.cfg.BitWidth)
	return nil
}

// qlinearKind maps a floating-point operator to its quantized form.
func qlinearKind(op graph.OpKind) graph.OpKind {
	switch op {
	case graph.OpMatMul:
		return graph.OpQLinearMatMul
	default:
		return graph.OpQLinearConv
	}
}
