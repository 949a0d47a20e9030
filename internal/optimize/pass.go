// Package optimize implements the graph rewriting pipeline: an ordered
// list of passes, each matching a subgraph pattern and replacing it with
// a semantically equivalent one.
package optimize

import (
	"errors"
	"fmt"

	"github.com/graft-ml/graft/internal/graph"
)

// Pass is one atomic graph rewrite rule. Run reports whether anything
// matched; a pass that finds no match returns (false, nil) and must
// leave the graph untouched.
type Pass interface {
	Name() string
	Run(g *graph.Graph) (bool, error)
}

// ErrTransform marks optimizer failures: a pass errored or left the
// graph ill-formed.
var ErrTransform = errors.New("transform failed")

// ErrUnknownPass marks a pass name with no registered constructor.
var ErrUnknownPass = errors.New("unknown pass")

// TransformError identifies the pass whose application failed. The run
// is fatal: no partial output is ever surfaced.
type TransformError struct {
	Pass string
	Err  error
}

// Error implements the error interface.
func (e *TransformError) Error() string {
	return fmt.Sprintf("pass %s: %v", e.Pass, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *TransformError) Unwrap() error { return e.Err }

// Is matches ErrTransform.
func (e *TransformError) Is(target error) bool { return target == ErrTransform }

// Registered pass names, in canonical pipeline order. Fusions that
// create composite operators run before passes that assume the
// composite exists, and cleanup runs last.
var registry = []struct {
	name string
	make func() Pass
}{
	{"fuse-conv-bn", func() Pass { return &ConvBatchNormFusion{} }},
	{"fold-constants", func() Pass { return &ConstantFolding{} }},
	{"fold-transpose", func() Pass { return &TransposeFolding{} }},
	{"eliminate-identity", func() Pass { return &IdentityElimination{} }},
	{"eliminate-dead", func() Pass { return &DeadNodeElimination{} }},
}

// DefaultPasses returns every registered pass in canonical order.
func DefaultPasses() []Pass {
	out := make([]Pass, len(registry))
	for i, r := range registry {
		out[i] = r.make()
	}
	return out
}

// ForNames builds passes from configuration, preserving the order
// given. Ordering is part of the configuration contract.
func ForNames(names []string) ([]Pass, error) {
	out := make([]Pass, 0, len(names))
	for _, name := range names {
		found := false
		for _, r := range registry {
			if r.name == name {
				out = append(out, r.make())
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPass, name)
		}
	}
	return out, nil
}
