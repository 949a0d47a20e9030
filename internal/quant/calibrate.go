package quant

import (
	"fmt"

	"github.com/graft-ml/graft/internal/graph"
)

// calibQuantizer is the calibration-based variant: it consumes
// externally supplied range statistics, quantizes weight storage, and
// annotates activation edges with scale/zero-point markers. The graph
// keeps floating-point operator kinds; the runtime interprets the
// markers.
type calibQuantizer struct {
	cfg   Config
	stats CalibrationStats
}

// activationOps are the operators the calibration quantizer can carry
// quantized activations through.
var activationOps = map[graph.OpKind]bool{
	graph.OpConv:             true,
	graph.OpFusedConvBN:      true,
	graph.OpMatMul:           true,
	graph.OpRelu:             true,
	graph.OpAdd:              true,
	graph.OpIdentity:         true,
	graph.OpReshape:          true,
	graph.OpTranspose:        true,
	graph.OpConstant:         true,
	graph.OpQuantizeLinear:   true,
	graph.OpDequantizeLinear: true,
}

// Name returns the variant name.
func (q *calibQuantizer) Name() string { return "calibration" }

// Apply runs the quantization over the graph.
func (q *calibQuantizer) Apply(g *graph.Graph) error {
	stats := q.stats
	if q.cfg.Mode == ModeAware {
		stats = mergeRecorded(g, stats)
	}

	for _, n := range g.Nodes() {
		if _, err := quantizeNodeWeight(g, n, q.cfg); err != nil {
			return err
		}
	}
	if q.cfg.Mode == ModeWeightOnly {
		return nil
	}

	if err := q.annotateActivations(g, stats); err != nil {
		return err
	}
	return q.insertBoundaryMarkers(g, stats)
}

// annotateActivations attaches quantization parameters to every
// activation edge the calibration covers. Under the strict policy an
// operator outside the supported set, or a supported edge without a
// calibrated range, fails the run; permissive leaves those edges in
// floating point.
func (q *calibQuantizer) annotateActivations(g *graph.Graph, stats CalibrationStats) error {
	eligible := append([]string(nil), g.Inputs()...)
	for _, n := range g.Nodes() {
		if !activationOps[n.Op] {
			if q.cfg.Strict {
				return &UnsupportedOperatorError{Node: n.Name, Op: n.Op}
			}
			continue
		}
		eligible = append(eligible, n.Outputs...)
	}

	for _, name := range eligible {
		t, ok := g.Tensor(name)
		if !ok || t.IsConst() {
			continue
		}
		if t.Quant != nil {
			if t.Quant.BitWidth == q.cfg.BitWidth {
				continue
			}
			return &ConflictError{Tensor: name, Have: t.Quant.BitWidth, Want: q.cfg.BitWidth}
		}
		rng, ok := stats[name]
		if !ok {
			if q.cfg.Strict {
				return fmt.Errorf("%w: activation %q", ErrMissingCalibration, name)
			}
			continue
		}
		scale, zp := ComputeParams(rng, q.cfg.BitWidth)
		t.Quant = &graph.QuantParams{
			Scale:     []float32{scale},
			ZeroPoint: []int32{zp},
			BitWidth:  q.cfg.BitWidth,
		}
	}
	return nil
}

// insertBoundaryMarkers places QuantizeLinear after each graph input
// and DequantizeLinear before each graph output, so the serialized
// graph states explicitly where real values enter and leave the
// quantized region. Re-running on an already marked graph is a no-op.
func (q *calibQuantizer) insertBoundaryMarkers(g *graph.Graph, stats CalibrationStats) error {
	for _, name := range g.Inputs() {
		t, ok := g.Tensor(name)
		if !ok || t.IsConst() {
			continue
		}
		rng, ok := stats[name]
		if !ok {
			continue
		}
		if consumers := g.Consumers(name); len(consumers) == 1 && consumers[0].Op == graph.OpQuantizeLinear {
			continue
		}
		if _, exists := g.Tensor(name + "_q"); exists {
			continue
		}

		scale, zp := ComputeParams(rng, q.cfg.BitWidth)
		qt := &graph.Tensor{
			Name:  name + "_q",
			Shape: append([]int(nil), t.Shape...),
			DType: storageType(q.cfg.BitWidth),
			Quant: &graph.QuantParams{
				Scale:     []float32{scale},
				ZeroPoint: []int32{zp},
				BitWidth:  q.cfg.BitWidth,
			},
		}
		if err := g.AddTensor(qt); err != nil {
			return err
		}
		if _, err := g.ReplaceUses(name, qt.Name); err != nil {
			return err
		}
		marker := &graph.Node{
			Name:    "quantize_" + name,
			Op:      graph.OpQuantizeLinear,
			Inputs:  []string{name},
			Outputs: []string{qt.Name},
		}
		if err := g.AddNode(marker); err != nil {
			return err
		}
	}

	for _, name := range g.Outputs() {
		producer := g.Producer(name)
		if producer == nil || producer.Op == graph.OpDequantizeLinear {
			continue
		}
		if !activationOps[producer.Op] {
			continue
		}
		rng, ok := stats[name]
		if !ok {
			continue
		}
		if _, exists := g.Tensor(name + "_q"); exists {
			continue
		}

		t, _ := g.Tensor(name)
		scale, zp := ComputeParams(rng, q.cfg.BitWidth)
		qt := &graph.Tensor{
			Name:  name + "_q",
			Shape: append([]int(nil), t.Shape...),
			DType: storageType(q.cfg.BitWidth),
			Quant: &graph.QuantParams{
				Scale:     []float32{scale},
				ZeroPoint: []int32{zp},
				BitWidth:  q.cfg.BitWidth,
			},
		}
		if err := g.AddTensor(qt); err != nil {
			return err
		}
		for i, out := range producer.Outputs {
			if out == name {
				producer.Outputs[i] = qt.Name
			}
		}
		if _, err := g.ReplaceUses(name, qt.Name); err != nil {
			return err
		}
		marker := &graph.Node{
			Name:    "dequantize_" + name,
			Op:      graph.OpDequantizeLinear,
			Inputs:  []string{qt.Name},
			Outputs: []string{name},
		}
		if err := g.AddNode(marker); err != nil {
			return err
		}
	}

	return nil
}

// mergeRecorded folds fake-quant ranges recorded on nodes during
// quantization-aware training into the stats map. Recorded ranges win
// over externally supplied ones.
func mergeRecorded(g *graph.Graph, stats CalibrationStats) CalibrationStats {
	merged := make(CalibrationStats, len(stats))
	for name, r := range stats {
		merged[name] = r
	}
	for _, n := range g.Nodes() {
		lo, okLo := n.Attrs["out_min"]
		hi, okHi := n.Attrs["out_max"]
		if !okLo || !okHi {
			continue
		}
		for _, out := range n.Outputs {
			merged[out] = Range{Min: float32(lo.F), Max: float32(hi.F)}
		}
	}
	return merged
}
