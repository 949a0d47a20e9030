// Package convert is the public surface of the Graft conversion
// pipeline: bind a parsed model graph, run the configured optimizer and
// quantizer, and hand the rewritten graph to a serializer.
//
// # Example Usage
//
//	flags, err := convert.LoadFlags("convert.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	pipeline, err := convert.New(flags)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := pipeline.SetGraph(g); err != nil {
//	    log.Fatal(err)
//	}
//	if err := pipeline.Run(); err != nil {
//	    log.Fatal(err)
//	}
//	out, err := pipeline.Output()
//
// A pipeline instance runs exactly once per bound graph. On failure no
// partial graph is surfaced: adjust the configuration and start a fresh
// pipeline on the caller's own copy of the input.
package convert

import (
	iconvert "github.com/graft-ml/graft/internal/convert"
	"github.com/graft-ml/graft/internal/graph"
)

// Flags is the read-only configuration for one conversion run.
type Flags = iconvert.Flags

// State tracks the pipeline's position.
type State = iconvert.State

// Pipeline states.
const (
	StateUninitialized = iconvert.StateUninitialized
	StateGraphBound    = iconvert.StateGraphBound
	StateOptimized     = iconvert.StateOptimized
	StateQuantized     = iconvert.StateQuantized
	StateFailed        = iconvert.StateFailed
)

// Pipeline is the conversion orchestrator.
//
// This interface hides the internal implementation and allows for:
//   - Easy mocking in tests
//   - Decoupling from internal package structure
type Pipeline interface {
	// SetGraph binds the externally supplied input graph. It fails on a
	// nil, empty, or ill-formed graph and when the configured quantizer
	// cannot be constructed.
	SetGraph(g *graph.Graph) error

	// Run executes the optimizer and, when configured, the quantizer.
	// Any failure is fatal to the run.
	Run() error

	// Output yields the converted graph after a successful run. Before
	// that there is no valid output.
	Output() (*graph.Graph, error)

	// State returns the current pipeline state.
	State() State

	// Err returns the failure of a finished run, if any.
	Err() error
}

// New builds a pipeline from configuration.
func New(flags Flags) (Pipeline, error) {
	return iconvert.New(flags)
}

// LoadFlags reads flags from a YAML file.
func LoadFlags(path string) (Flags, error) {
	return iconvert.LoadFlags(path)
}
