// Package quant converts tensor representations to lower-precision
// quantized form: computing scale/zero-point parameters, rewriting
// weight storage, and annotating or rewriting operators.
package quant

import (
	"errors"
	"fmt"

	"github.com/graft-ml/graft/internal/graph"
)

// Mode is the requested quantization mode.
type Mode string

// Quantization modes.
const (
	ModeNone        Mode = "none"
	ModeWeightOnly  Mode = "weight-only"
	ModeFullInteger Mode = "full-integer"
	ModeAware       Mode = "aware-training"
)

// Config describes one quantization run. Immutable after construction.
type Config struct {
	Mode        Mode `yaml:"mode"`
	BitWidth    int  `yaml:"bit_width"`
	PerChannel  bool `yaml:"per_channel"`
	Strict      bool `yaml:"strict"`
	FormatAware bool `yaml:"format_aware"`
}

// Common errors.
var (
	ErrQuantizationConflict = errors.New("quantization conflict")
	ErrUnsupportedOperator  = errors.New("operator has no quantized form")
	ErrInvalidConfig        = errors.New("invalid quantization config")
	ErrMissingCalibration   = errors.New("missing calibration statistics")
)

// ConflictError reports a re-quantization request at a different
// bit-width than the tensor already carries. The existing parameters
// are left untouched.
type ConflictError struct {
	Tensor string
	Have   int
	Want   int
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("tensor %q already quantized at %d bits, requested %d", e.Tensor, e.Have, e.Want)
}

// Is matches ErrQuantizationConflict.
func (e *ConflictError) Is(target error) bool { return target == ErrQuantizationConflict }

// UnsupportedOperatorError reports an operator the quantizer cannot
// handle, surfaced only under the strict policy.
type UnsupportedOperatorError struct {
	Node string
	Op   graph.OpKind
}

// Error implements the error interface.
func (e *UnsupportedOperatorError) Error() string {
	return fmt.Sprintf("node %q: operator %s has no quantized form", e.Node, e.Op)
}

// Is matches ErrUnsupportedOperator.
func (e *UnsupportedOperatorError) Is(target error) bool { return target == ErrUnsupportedOperator }

// Quantizer computes and applies quantization parameters to a graph.
// The two variants share this contract: the calibration-based quantizer
// annotates the floating-point graph, the format-aware quantizer
// rewrites nodes to natively quantized operator kinds.
type Quantizer interface {
	Name() string
	Apply(g *graph.Graph) error
}

// New selects and constructs the quantizer variant for the given
// configuration. The choice is made once; only one variant runs per
// conversion. Construction validates the configuration, including the
// calibration statistics a full-integer run depends on.
func New(cfg Config, stats CalibrationStats) (Quantizer, error) {
	if cfg.BitWidth == 0 {
		cfg.BitWidth = 8
	}
	if cfg.BitWidth != 8 && cfg.BitWidth != 16 {
		return nil, fmt.Errorf("%w: bit-width %d (want 8 or 16)", ErrInvalidConfig, cfg.BitWidth)
	}

	switch cfg.Mode {
	case ModeWeightOnly:
		if cfg.FormatAware {
			return nil, fmt.Errorf("%w: weight-only mode has no format-aware variant", ErrInvalidConfig)
		}
	case ModeFullInteger:
		if len(stats) == 0 {
			return nil, fmt.Errorf("%w: full-integer mode requires calibration ranges", ErrMissingCalibration)
		}
	case ModeAware:
		// Ranges are recorded on the nodes themselves.
	default:
		return nil, fmt.Errorf("%w: mode %q", ErrInvalidConfig, cfg.Mode)
	}

	if cfg.FormatAware {
		return &formatQuantizer{cfg: cfg, stats: stats}, nil
	}
	return &calibQuantizer{cfg: cfg, stats: stats}, nil
}

// storageType returns the integer storage type for the configured
// bit-width.
func storageType(bits int) graph.DataType {
	if bits == 16 {
		return graph.Int16
	}
	return graph.Int8
}
