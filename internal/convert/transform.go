package convert

import (
	"errors"
	"fmt"

	"github.com/graft-ml/graft/internal/graph"
	"github.com/graft-ml/graft/internal/optimize"
	"github.com/graft-ml/graft/internal/quant"
)

// State tracks the pipeline's position. A Transform runs exactly once
// per bound graph; no state is re-enterable.
type State int

// Pipeline states.
const (
	StateUninitialized State = iota
	StateGraphBound
	StateOptimized
	StateQuantized
	StateFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateGraphBound:
		return "graph-bound"
	case StateOptimized:
		return "optimized"
	case StateQuantized:
		return "quantized"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Common errors.
var (
	ErrNoGraph      = errors.New("no graph bound")
	ErrAlreadyBound = errors.New("pipeline already bound")
	ErrAlreadyRun   = errors.New("pipeline already run")
	ErrNotFinished  = errors.New("conversion has not finished")
)

// RunError identifies the stage that failed a run.
type RunError struct {
	Stage string // "optimize" or "quantize"
	Err   error
}

// Error implements the error interface.
func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *RunError) Unwrap() error { return e.Err }

// Transform orchestrates one conversion: it exclusively owns the bound
// graph for the duration of the run, applies the optimizer then the
// configured quantizer, and exposes the result only on success. On
// failure the graph is discarded; the caller retains its own copy of
// the input.
type Transform struct {
	flags     Flags
	optimizer *optimize.Optimizer
	quantizer quant.Quantizer
	graph     *graph.Graph
	state     State
	err       error
}

// New builds a pipeline from configuration. The pass list is resolved
// here; the quantizer is constructed when the graph is bound.
func New(flags Flags) (*Transform, error) {
	flags = flags.withDefaults()
	if err := flags.Validate(); err != nil {
		return nil, err
	}

	var passes []optimize.Pass
	if len(flags.Passes) == 0 {
		passes = optimize.DefaultPasses()
	} else {
		var err error
		passes, err = optimize.ForNames(flags.Passes)
		if err != nil {
			return nil, err
		}
	}

	return &Transform{
		flags:     flags,
		optimizer: optimize.NewOptimizer(passes...),
	}, nil
}

// State returns the current pipeline state.
func (t *Transform) State() State { return t.state }

// Err returns the failure of a finished run, if any.
func (t *Transform) Err() error { return t.err }

// SetGraph binds the input graph. Fails with graph.ErrInvalidGraph on a
// nil, empty, or ill-formed graph, and with the quantizer's
// construction error when the configuration cannot produce a quantizer;
// in either case the pipeline stays unbound.
func (t *Transform) SetGraph(g *graph.Graph) error {
	if t.state != StateUninitialized {
		return fmt.Errorf("set graph in state %s: %w", t.state, ErrAlreadyBound)
	}
	if g == nil || g.NumNodes() == 0 {
		return fmt.Errorf("set graph: nil or empty: %w", graph.ErrInvalidGraph)
	}
	if err := g.Validate(); err != nil {
		return fmt.Errorf("set graph: %w", err)
	}

	if t.flags.Quantization.Mode != quant.ModeNone {
		q, err := quant.New(t.flags.Quantization, t.flags.Calibration)
		if err != nil {
			return fmt.Errorf("set graph: %w", err)
		}
		t.quantizer = q
	}

	t.graph = g
	t.state = StateGraphBound
	return nil
}

// Run executes the pipeline: optimizer first, then the quantizer when
// one was configured. Any failure is fatal to the run; the state moves
// to Failed and the error is returned.
func (t *Transform) Run() error {
	switch t.state {
	case StateGraphBound:
	case StateUninitialized:
		return fmt.Errorf("run: %w", ErrNoGraph)
	default:
		return fmt.Errorf("run in state %s: %w", t.state, ErrAlreadyRun)
	}

	if err := t.optimizer.Run(t.graph); err != nil {
		return t.fail("optimize", err)
	}
	t.state = StateOptimized

	if t.quantizer != nil {
		if err := t.quantizer.Apply(t.graph); err != nil {
			return t.fail("quantize", err)
		}
		if err := t.graph.Validate(); err != nil {
			return t.fail("quantize", err)
		}
	}

	// Quantization skipped counts as satisfied.
	t.state = StateQuantized
	return nil
}

// Output yields the converted graph. Before a successful run there is
// no valid output: callers get ErrNotFinished instead of a graph.
func (t *Transform) Output() (*graph.Graph, error) {
	if t.state != StateQuantized {
		return nil, fmt.Errorf("output in state %s: %w", t.state, ErrNotFinished)
	}
	return t.graph, nil
}

func (t *Transform) fail(stage string, err error) error {
	t.state = StateFailed
	t.err = &RunError{Stage: stage, Err: err}
	t.graph = nil
	return t.err
}
